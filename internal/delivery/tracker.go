// Package delivery assigns provisional identity to outgoing messages and
// tracks them from pending to confirmed or failed.
package delivery

import (
	"context"
	"io"
	"sync"
	"time"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/nftcoinmkt/aibot/internal/models"
	"github.com/nftcoinmkt/aibot/internal/timeline"
)

// Sender is the REST collaborator boundary. A successful send returns the
// confirmed human message plus zero or more automated replies, each with a
// server-assigned id and timestamp.
type Sender interface {
	SendMessage(ctx context.Context, channelID int64, body string) ([]models.Message, error)
	UploadFile(ctx context.Context, channelID int64, fileName string, file io.Reader) ([]models.Message, error)
}

// PendingHandle identifies one in-flight send. Concurrent sends each get
// their own handle and are independently confirmable.
type PendingHandle struct {
	PlaceholderID int64
	ChannelID     int64

	// Done closes once the send settled (confirmed or failed), mainly for
	// tests and daemon-mode logging.
	Done <-chan struct{}

	done chan struct{}
}

// SendRequest carries one outgoing message. File bytes, when present, are an
// opaque reader; the core never interprets them.
type SendRequest struct {
	ChannelID int64
	SenderID  int64
	Body      string
	FileName  string
	FileType  string
	File      io.Reader
}

// Tracker issues placeholder messages and reconciles them against the server
// confirmation. One tracker per open channel view.
type Tracker struct {
	mu      sync.Mutex
	lastID  int64
	view    *timeline.View
	sender  Sender
	timeout time.Duration
}

func NewTracker(view *timeline.View, sender Sender, timeout time.Duration) *Tracker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Tracker{view: view, sender: sender, timeout: timeout}
}

// BeginSend inserts a pending placeholder into the view synchronously, then
// issues the network call in the background. The insert-before-network order
// is load-bearing: the UI must reflect the send attempt immediately. All
// failure is reported asynchronously through the failed status, never as a
// synchronous error.
func (t *Tracker) BeginSend(ctx context.Context, req SendRequest) *PendingHandle {
	t.view.ClearFailed(req.SenderID, req.Body)
	msg := models.Message{
		ID:        t.nextPlaceholderID(),
		ChannelID: req.ChannelID,
		SenderID:  req.SenderID,
		Body:      req.Body,
		Kind:      models.KindUser,
		CreatedAt: time.Now().UTC(),
		Status:    models.StatusPending,
	}
	if req.File != nil || req.FileName != "" {
		msg.Attachment = &models.Attachment{
			FileName: req.FileName,
			FileType: req.FileType,
		}
	}
	t.view.Insert(msg)

	h := &PendingHandle{
		PlaceholderID: msg.ID,
		ChannelID:     req.ChannelID,
		done:          make(chan struct{}),
	}
	h.Done = h.done

	go t.dispatch(ctx, h, req)
	return h
}

func (t *Tracker) dispatch(ctx context.Context, h *PendingHandle, req SendRequest) {
	defer close(h.done)

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
	defer cancel()

	var (
		confirmed []models.Message
		err       error
	)
	if req.File != nil {
		confirmed, err = t.sender.UploadFile(sendCtx, req.ChannelID, req.FileName, req.File)
	} else {
		confirmed, err = t.sender.SendMessage(sendCtx, req.ChannelID, req.Body)
	}
	if err != nil {
		t.fail(ctx, h, err)
		return
	}
	t.confirm(ctx, h, confirmed)
}

// confirm swaps the placeholder for its confirmed counterparts in one view
// mutation and advances the watermark through the view.
func (t *Tracker) confirm(ctx context.Context, h *PendingHandle, serverMessages []models.Message) {
	for i := range serverMessages {
		serverMessages[i].Status = models.StatusConfirmed
	}
	t.view.Replace(h.PlaceholderID, serverMessages)
	log.Debugw(ctx, "send confirmed",
		"channel_id", h.ChannelID,
		"placeholder_id", h.PlaceholderID,
		"confirmed_count", len(serverMessages),
	)
}

// fail marks the placeholder failed in place. The entry is kept so the user
// sees the failure and can retry; retry is a fresh BeginSend.
func (t *Tracker) fail(ctx context.Context, h *PendingHandle, cause error) {
	sendErr := &models.SendFailure{ChannelID: h.ChannelID, Err: cause}
	if !t.view.SetStatus(h.PlaceholderID, models.StatusFailed) {
		log.Warnw(ctx, "failed send no longer in view",
			"channel_id", h.ChannelID,
			"placeholder_id", h.PlaceholderID,
		)
	}
	log.Errorw(ctx, "send failed",
		"channel_id", h.ChannelID,
		"placeholder_id", h.PlaceholderID,
		"error", sendErr.Error(),
	)
}

// nextPlaceholderID derives an id from the wall clock in milliseconds,
// shifted into the reserved placeholder range. Two sends in the same
// millisecond bump past the last issued id, so concurrent sends always get
// distinct handles. Cross-process collisions are treated as negligible, not
// eliminated.
func (t *Tracker) nextPlaceholderID() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := models.PlaceholderBase + time.Now().UnixMilli()
	if id <= t.lastID {
		id = t.lastID + 1
	}
	t.lastID = id
	return id
}
