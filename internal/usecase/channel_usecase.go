// Package usecase composes the per-channel pieces: history load, ordered
// view, delivery tracking, stream session, and presence, behind one
// ChannelView handle per open channel.
package usecase

import (
	"context"
	"fmt"
	"io"
	"sync"

	log "github.com/carousell/ct-go/pkg/logger/log_context"

	"github.com/nftcoinmkt/aibot/internal/config"
	"github.com/nftcoinmkt/aibot/internal/delivery"
	"github.com/nftcoinmkt/aibot/internal/models"
	"github.com/nftcoinmkt/aibot/internal/presence"
	"github.com/nftcoinmkt/aibot/internal/repo/chatapi"
	"github.com/nftcoinmkt/aibot/internal/session"
	"github.com/nftcoinmkt/aibot/internal/timeline"
)

// Observer is the presentation surface. Callbacks fire on internal
// goroutines; implementations must return promptly and must not call back
// into the view that invoked them.
type Observer struct {
	OnViewChanged            func(channelID int64, messages []models.Message)
	OnConnectionStateChanged func(channelID int64, state session.State)
	OnPresenceChanged        func(channelID int64, online []models.PresenceRecord)
}

// OpenParams identifies the channel to open and the identity sending from it.
type OpenParams struct {
	ChannelID int64
	Token     string
	// SenderID stamps outgoing placeholders so content dedup can match the
	// server's confirmed copy.
	SenderID int64
	Observer Observer
}

// ChannelView is one open channel: the merged ordered timeline plus its
// connection and presence state, with send entry points.
type ChannelView interface {
	ChannelID() int64
	Messages() []models.Message
	ConnectionState() session.State
	OnlineUsers() []models.PresenceRecord
	OnlineCount() int
	Send(ctx context.Context, body string) *delivery.PendingHandle
	SendFile(ctx context.Context, fileName string, file io.Reader) *delivery.PendingHandle
	MarkRead(messageID int64) error
	Close()
}

type ChannelUsecase interface {
	Open(ctx context.Context, params OpenParams) (ChannelView, error)
	Get(channelID int64) (ChannelView, bool)
	Channels() []int64
	CloseAll()
}

type channelUsecase struct {
	conf *config.Config
	api  chatapi.Client

	mu    sync.Mutex
	views map[int64]*channelView
}

func NewChannelUsecase(conf *config.Config, api chatapi.Client) ChannelUsecase {
	return &channelUsecase{
		conf:  conf,
		api:   api,
		views: make(map[int64]*channelView),
	}
}

// Open loads history, seeds the view, connects the stream, and registers the
// resulting ChannelView. History is merged before the first frame can arrive,
// so replay overlap is resolved by the watermark and the merge rules.
func (uc *channelUsecase) Open(ctx context.Context, params OpenParams) (ChannelView, error) {
	uc.mu.Lock()
	if _, ok := uc.views[params.ChannelID]; ok {
		uc.mu.Unlock()
		return nil, fmt.Errorf("channel %d already open", params.ChannelID)
	}
	uc.mu.Unlock()

	view := timeline.NewView(params.ChannelID)
	agg := presence.NewAggregator()
	obs := params.Observer
	if obs.OnViewChanged != nil {
		view.SetChangeListener(obs.OnViewChanged)
	}
	if obs.OnPresenceChanged != nil {
		channelID := params.ChannelID
		agg.SetChangeListener(func(online []models.PresenceRecord) {
			obs.OnPresenceChanged(channelID, online)
		})
	}

	sender := &tokenSender{api: uc.api, token: params.Token}
	tracker := delivery.NewTracker(view, sender, uc.conf.ChatAPI.RequestTimeout)

	sess := session.New(uc.conf.Stream, session.Events{
		OnMessage: func(msg models.Message) {
			view.Insert(msg)
		},
		OnPresenceSnapshot: agg.OnSnapshot,
		OnUserJoined: agg.ApplyJoin,
		OnUserLeft: func(rec models.PresenceRecord) {
			agg.ApplyLeave(rec.UserID)
		},
		OnStateChange: func(st session.State) {
			if obs.OnConnectionStateChanged != nil {
				obs.OnConnectionStateChanged(params.ChannelID, st)
			}
		},
	})

	history, err := uc.api.FetchHistory(ctx, params.ChannelID, params.Token, chatapi.HistoryOptions{
		DaysBack: uc.conf.ChatAPI.HistoryDays,
		Limit:    uc.conf.ChatAPI.HistoryLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("open channel %d: %w", params.ChannelID, err)
	}
	view.LoadHistory(history)
	sess.SetWatermark(view.Watermark())

	if err := sess.Connect(ctx, params.ChannelID, params.Token); err != nil {
		sess.Close()
		return nil, fmt.Errorf("open channel %d: %w", params.ChannelID, err)
	}

	cv := &channelView{
		uc:       uc,
		senderID: params.SenderID,
		view:     view,
		tracker:  tracker,
		sess:     sess,
		agg:      agg,
	}

	uc.mu.Lock()
	if _, ok := uc.views[params.ChannelID]; ok {
		uc.mu.Unlock()
		sess.Close()
		return nil, fmt.Errorf("channel %d already open", params.ChannelID)
	}
	uc.views[params.ChannelID] = cv
	uc.mu.Unlock()

	log.Infow(ctx, "channel view opened",
		"channel_id", params.ChannelID,
		"history_count", view.Len(),
		"watermark", view.Watermark(),
	)
	return cv, nil
}

func (uc *channelUsecase) Get(channelID int64) (ChannelView, bool) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	cv, ok := uc.views[channelID]
	return cv, ok
}

// Channels lists the currently open channel ids.
func (uc *channelUsecase) Channels() []int64 {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	ids := make([]int64, 0, len(uc.views))
	for id := range uc.views {
		ids = append(ids, id)
	}
	return ids
}

func (uc *channelUsecase) CloseAll() {
	uc.mu.Lock()
	views := make([]*channelView, 0, len(uc.views))
	for _, cv := range uc.views {
		views = append(views, cv)
	}
	uc.mu.Unlock()

	for _, cv := range views {
		cv.Close()
	}
}

func (uc *channelUsecase) drop(channelID int64) {
	uc.mu.Lock()
	delete(uc.views, channelID)
	uc.mu.Unlock()
}

// tokenSender binds the bearer token so the tracker stays unaware of auth.
type tokenSender struct {
	api   chatapi.Client
	token string
}

func (s *tokenSender) SendMessage(ctx context.Context, channelID int64, body string) ([]models.Message, error) {
	return s.api.SendMessage(ctx, channelID, s.token, body)
}

func (s *tokenSender) UploadFile(ctx context.Context, channelID int64, fileName string, file io.Reader) ([]models.Message, error) {
	return s.api.UploadFile(ctx, channelID, s.token, fileName, file)
}

type channelView struct {
	uc       *channelUsecase
	senderID int64
	view     *timeline.View
	tracker  *delivery.Tracker
	sess     *session.Session
	agg      *presence.Aggregator

	closeOnce sync.Once
}

func (cv *channelView) ChannelID() int64 {
	return cv.view.ChannelID()
}

func (cv *channelView) Messages() []models.Message {
	return cv.view.Messages()
}

func (cv *channelView) ConnectionState() session.State {
	return cv.sess.State()
}

func (cv *channelView) OnlineUsers() []models.PresenceRecord {
	return cv.agg.OnlineUsers()
}

func (cv *channelView) OnlineCount() int {
	return cv.agg.CurrentOnlineCount()
}

// Send inserts a pending placeholder and confirms or fails it in the
// background. The returned handle settles when the REST call does.
func (cv *channelView) Send(ctx context.Context, body string) *delivery.PendingHandle {
	return cv.tracker.BeginSend(ctx, delivery.SendRequest{
		ChannelID: cv.view.ChannelID(),
		SenderID:  cv.senderID,
		Body:      body,
	})
}

// SendFile sends a file through the upload path; the confirmed message
// carries the attachment the backend assigned.
func (cv *channelView) SendFile(ctx context.Context, fileName string, file io.Reader) *delivery.PendingHandle {
	return cv.tracker.BeginSend(ctx, delivery.SendRequest{
		ChannelID: cv.view.ChannelID(),
		SenderID:  cv.senderID,
		Body:      fileName,
		FileName:  fileName,
		File:      file,
	})
}

func (cv *channelView) MarkRead(messageID int64) error {
	return cv.sess.MarkRead(messageID)
}

// Close tears down the stream and deregisters the view. Idempotent.
func (cv *channelView) Close() {
	cv.closeOnce.Do(func() {
		cv.sess.Close()
		cv.uc.drop(cv.view.ChannelID())
		log.Infow(context.Background(), "channel view closed", "channel_id", cv.view.ChannelID())
	})
}
