// Package chatapi is the REST collaborator: paginated history fetch, message
// send, file upload, and file-URL resolution against the chat backend.
package chatapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/go-resty/resty/v2"

	"github.com/nftcoinmkt/aibot/internal/config"
	"github.com/nftcoinmkt/aibot/internal/models"
	"github.com/nftcoinmkt/aibot/pkg/util"
)

// HistoryOptions selects the lookback window of a history fetch. All wins
// over DaysBack.
type HistoryOptions struct {
	DaysBack int
	Limit    int
	All      bool
}

type Client interface {
	FetchHistory(ctx context.Context, channelID int64, token string, opts HistoryOptions) ([]models.Message, error)
	SendMessage(ctx context.Context, channelID int64, token string, body string) ([]models.Message, error)
	UploadFile(ctx context.Context, channelID int64, token string, fileName string, file io.Reader) ([]models.Message, error)
	ResolveFileURL(fileURL string) string
}

type chatAPIClient struct {
	http    *resty.Client
	baseURL string
}

func NewClient(conf *config.Config) Client {
	cfg := conf.ChatAPI
	base := strings.TrimRight(cfg.BaseURL, "/")
	c := util.NewRestyClient(cfg.RequestTimeout)
	c.SetBaseURL(base)
	return &chatAPIClient{
		http:    c,
		baseURL: base,
	}
}

// FetchHistory returns a page of confirmed messages in the order the backend
// serves them (ascending chronological). Malformed items are skipped and
// logged, never fatal to the fetch.
func (c *chatAPIClient) FetchHistory(ctx context.Context, channelID int64, token string, opts HistoryOptions) ([]models.Message, error) {
	path := fmt.Sprintf("/api/v1/channels/%d/messages", channelID)
	req := c.http.R().
		SetContext(ctx).
		SetAuthToken(token)
	if opts.All {
		path += "/all"
	} else if opts.DaysBack > 0 {
		req.SetQueryParam("days_back", strconv.Itoa(opts.DaysBack))
	}
	if opts.Limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(opts.Limit))
	}

	resp, err := req.Get(path)
	if err != nil {
		return nil, fmt.Errorf("fetch history for channel %d: %w", channelID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch history for channel %d: status %d", channelID, resp.StatusCode())
	}

	var items []json.RawMessage
	if err := json.Unmarshal(resp.Body(), &items); err != nil {
		return nil, &models.ParseError{Field: "history", Reason: "invalid json", Err: err}
	}

	messages := make([]models.Message, 0, len(items))
	for _, item := range items {
		msg, err := models.DecodeMessage(item)
		if err != nil {
			log.Warnw(ctx, "skipping malformed history item",
				"channel_id", channelID, "error", err.Error())
			continue
		}
		msg.Status = models.StatusConfirmed
		messages = append(messages, msg)
	}
	return messages, nil
}

type sendRequest struct {
	Message string `json:"message"`
}

type sendResponse struct {
	Messages []json.RawMessage `json:"messages"`
}

// SendMessage submits a text message. The response carries the confirmed
// human message plus any automated replies.
func (c *chatAPIClient) SendMessage(ctx context.Context, channelID int64, token string, body string) ([]models.Message, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(sendRequest{Message: body}).
		Post(fmt.Sprintf("/api/v1/channels/%d/chat", channelID))
	if err != nil {
		return nil, fmt.Errorf("send to channel %d: %w", channelID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("send to channel %d: status %d", channelID, resp.StatusCode())
	}
	return c.decodeConfirmed(ctx, channelID, resp.Body())
}

// UploadFile submits a file message as multipart form data. The backend
// stores the file, creates the message, and may add an automated analysis
// reply; the response shape matches SendMessage.
func (c *chatAPIClient) UploadFile(ctx context.Context, channelID int64, token string, fileName string, file io.Reader) ([]models.Message, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetFileReader("file", fileName, file).
		Post(fmt.Sprintf("/api/v1/channels/%d/upload", channelID))
	if err != nil {
		return nil, fmt.Errorf("upload to channel %d: %w", channelID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("upload to channel %d: status %d", channelID, resp.StatusCode())
	}
	return c.decodeConfirmed(ctx, channelID, resp.Body())
}

func (c *chatAPIClient) decodeConfirmed(ctx context.Context, channelID int64, body []byte) ([]models.Message, error) {
	var parsed sendResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &models.ParseError{Field: "messages", Reason: "invalid json", Err: err}
	}
	if len(parsed.Messages) == 0 {
		return nil, &models.ParseError{Field: "messages", Reason: "empty confirmation"}
	}
	messages := make([]models.Message, 0, len(parsed.Messages))
	for _, item := range parsed.Messages {
		msg, err := models.DecodeMessage(item)
		if err != nil {
			log.Warnw(ctx, "skipping malformed confirmed message",
				"channel_id", channelID, "error", err.Error())
			continue
		}
		msg.Status = models.StatusConfirmed
		messages = append(messages, msg)
	}
	if len(messages) == 0 {
		return nil, &models.ParseError{Field: "messages", Reason: "no decodable confirmation"}
	}
	return messages, nil
}

// ResolveFileURL turns the opaque, possibly relative attachment reference
// into an absolute fetchable URL. The core never touches file bytes.
func (c *chatAPIClient) ResolveFileURL(fileURL string) string {
	if fileURL == "" {
		return ""
	}
	if strings.HasPrefix(fileURL, "http://") || strings.HasPrefix(fileURL, "https://") {
		return fileURL
	}
	if !strings.HasPrefix(fileURL, "/") {
		fileURL = "/" + fileURL
	}
	return c.baseURL + fileURL
}
