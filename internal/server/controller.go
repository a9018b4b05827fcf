package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/nftcoinmkt/aibot/internal/models"
	"github.com/nftcoinmkt/aibot/internal/usecase"
)

// Controller is the status/ops surface: snapshots of the open channel views
// plus a local send entry point for the daemon deployment.
type Controller interface {
	Health(c echo.Context) error
	ListChannels(c echo.Context) error
	GetChannelView(c echo.Context) error
	GetChannelPresence(c echo.Context) error
	GetChannelConnection(c echo.Context) error
	PostChannelMessage(c echo.Context) error
}

type controller struct {
	channelUsecase usecase.ChannelUsecase
}

func NewHandler(channelUsecase usecase.ChannelUsecase) Controller {
	return &controller{
		channelUsecase: channelUsecase,
	}
}

func (h *controller) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "aibot",
	})
}

func (h *controller) ListChannels(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"channels": h.channelUsecase.Channels(),
	})
}

type channelViewResponse struct {
	ChannelID int64            `json:"channel_id"`
	State     string           `json:"state"`
	Messages  []models.Message `json:"messages"`
}

// GetChannelView returns the merged timeline, newest first.
func (h *controller) GetChannelView(c echo.Context) error {
	view, err := h.openView(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, channelViewResponse{
		ChannelID: view.ChannelID(),
		State:     view.ConnectionState().String(),
		Messages:  view.Messages(),
	})
}

func (h *controller) GetChannelPresence(c echo.Context) error {
	view, err := h.openView(c)
	if err != nil {
		return err
	}
	online := view.OnlineUsers()
	return c.JSON(http.StatusOK, map[string]any{
		"channel_id":   view.ChannelID(),
		"online_count": len(online),
		"users":        online,
	})
}

func (h *controller) GetChannelConnection(c echo.Context) error {
	view, err := h.openView(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"channel_id": view.ChannelID(),
		"state":      view.ConnectionState().String(),
	})
}

type postMessageRequest struct {
	Message string `json:"message" validate:"required"`
}

// PostChannelMessage enqueues a send on an open channel view. The response
// carries the placeholder id; confirmation lands in the view asynchronously.
func (h *controller) PostChannelMessage(c echo.Context) error {
	view, err := h.openView(c)
	if err != nil {
		return err
	}

	var req postMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	handle := view.Send(c.Request().Context(), req.Message)
	return c.JSON(http.StatusAccepted, map[string]any{
		"channel_id":     handle.ChannelID,
		"placeholder_id": handle.PlaceholderID,
		"status":         string(models.StatusPending),
	})
}

func (h *controller) openView(c echo.Context) (usecase.ChannelView, error) {
	channelID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid channel id")
	}
	view, ok := h.channelUsecase.Get(channelID)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, "channel not open")
	}
	return view, nil
}
