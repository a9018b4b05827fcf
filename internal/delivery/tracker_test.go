package delivery

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nftcoinmkt/aibot/internal/models"
	"github.com/nftcoinmkt/aibot/internal/timeline"
)

type fakeSender struct {
	mu       sync.Mutex
	sent     []string
	uploaded []string

	reply func(channelID int64, body string) ([]models.Message, error)
	// block holds the network call until released, to observe pending state
	block chan struct{}
}

func (f *fakeSender) SendMessage(ctx context.Context, channelID int64, body string) ([]models.Message, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.sent = append(f.sent, body)
	f.mu.Unlock()
	return f.reply(channelID, body)
}

func (f *fakeSender) UploadFile(ctx context.Context, channelID int64, fileName string, file io.Reader) ([]models.Message, error) {
	f.mu.Lock()
	f.uploaded = append(f.uploaded, fileName)
	f.mu.Unlock()
	return f.reply(channelID, fileName)
}

func confirmedReply(ids ...int64) func(int64, string) ([]models.Message, error) {
	return func(channelID int64, body string) ([]models.Message, error) {
		out := make([]models.Message, len(ids))
		for i, id := range ids {
			out[i] = models.Message{
				ID:        id,
				ChannelID: channelID,
				SenderID:  2,
				Body:      body,
				Kind:      models.KindUser,
				CreatedAt: time.Now().UTC(),
			}
		}
		return out, nil
	}
}

func waitDone(t *testing.T, h *PendingHandle) {
	t.Helper()
	select {
	case <-h.Done:
	case <-time.After(5 * time.Second):
		t.Fatal("send did not settle")
	}
}

func TestBeginSendInsertsPendingBeforeNetwork(t *testing.T) {
	t.Parallel()

	view := timeline.NewView(1)
	sender := &fakeSender{
		reply: confirmedReply(100),
		block: make(chan struct{}),
	}
	tracker := NewTracker(view, sender, time.Second)

	h := tracker.BeginSend(context.Background(), SendRequest{ChannelID: 1, SenderID: 2, Body: "hi"})

	// placeholder must be visible while the network call is still blocked
	msgs := view.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, models.StatusPending, msgs[0].Status)
	assert.True(t, msgs[0].IsPlaceholder())
	assert.Equal(t, h.PlaceholderID, msgs[0].ID)

	close(sender.block)
	waitDone(t, h)

	msgs = view.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(100), msgs[0].ID)
	assert.Equal(t, models.StatusConfirmed, msgs[0].Status)
}

func TestConfirmSwapsPlaceholderForAllReplies(t *testing.T) {
	t.Parallel()

	view := timeline.NewView(1)
	sender := &fakeSender{reply: confirmedReply(100, 101)}
	tracker := NewTracker(view, sender, time.Second)

	h := tracker.BeginSend(context.Background(), SendRequest{ChannelID: 1, SenderID: 2, Body: "question"})
	waitDone(t, h)

	msgs := view.Messages()
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.Equal(t, models.StatusConfirmed, m.Status)
		assert.False(t, m.IsPlaceholder())
	}
	assert.Equal(t, int64(101), view.Watermark())
}

func TestFailedSendStaysVisible(t *testing.T) {
	t.Parallel()

	view := timeline.NewView(1)
	sender := &fakeSender{
		reply: func(int64, string) ([]models.Message, error) {
			return nil, errors.New("backend down")
		},
	}
	tracker := NewTracker(view, sender, time.Second)

	h := tracker.BeginSend(context.Background(), SendRequest{ChannelID: 1, SenderID: 2, Body: "lost"})
	waitDone(t, h)

	msgs := view.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, models.StatusFailed, msgs[0].Status)
	assert.Equal(t, "lost", msgs[0].Body)
	assert.Equal(t, h.PlaceholderID, msgs[0].ID)
}

func TestRetryAfterFailureConfirms(t *testing.T) {
	t.Parallel()

	view := timeline.NewView(1)
	attempts := 0
	sender := &fakeSender{}
	sender.reply = func(channelID int64, body string) ([]models.Message, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("backend down")
		}
		return confirmedReply(200)(channelID, body)
	}
	tracker := NewTracker(view, sender, time.Second)

	h := tracker.BeginSend(context.Background(), SendRequest{ChannelID: 1, SenderID: 2, Body: "try again"})
	waitDone(t, h)
	msgs := view.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, models.StatusFailed, msgs[0].Status)

	// an immediate retry with the same text supersedes the failure marker
	// and ends confirmed, not stuck on the stale failed entry
	h = tracker.BeginSend(context.Background(), SendRequest{ChannelID: 1, SenderID: 2, Body: "try again"})
	waitDone(t, h)

	msgs = view.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, models.StatusConfirmed, msgs[0].Status)
	assert.Equal(t, int64(200), msgs[0].ID)
	assert.Equal(t, "try again", msgs[0].Body)
}

func TestConcurrentSendsGetDistinctPlaceholders(t *testing.T) {
	t.Parallel()

	view := timeline.NewView(1)
	next := int64(200)
	var mu sync.Mutex
	sender := &fakeSender{
		reply: func(channelID int64, body string) ([]models.Message, error) {
			mu.Lock()
			next++
			id := next
			mu.Unlock()
			return []models.Message{{
				ID: id, ChannelID: channelID, SenderID: 2,
				Body: body, CreatedAt: time.Now().UTC(),
			}}, nil
		},
	}
	tracker := NewTracker(view, sender, time.Second)

	handles := make([]*PendingHandle, 0, 10)
	for i := 0; i < 10; i++ {
		h := tracker.BeginSend(context.Background(), SendRequest{
			ChannelID: 1, SenderID: 2, Body: strings.Repeat("x", i+1),
		})
		handles = append(handles, h)
	}

	seen := make(map[int64]bool)
	for _, h := range handles {
		assert.False(t, seen[h.PlaceholderID], "placeholder id reused")
		seen[h.PlaceholderID] = true
		assert.GreaterOrEqual(t, h.PlaceholderID, models.PlaceholderBase)
		waitDone(t, h)
	}

	assert.Equal(t, 10, view.Len())
	for _, m := range view.Messages() {
		assert.Equal(t, models.StatusConfirmed, m.Status)
	}
}

func TestBeginSendUploadPath(t *testing.T) {
	t.Parallel()

	view := timeline.NewView(1)
	sender := &fakeSender{reply: confirmedReply(300)}
	tracker := NewTracker(view, sender, time.Second)

	h := tracker.BeginSend(context.Background(), SendRequest{
		ChannelID: 1,
		SenderID:  2,
		Body:      "report.pdf",
		FileName:  "report.pdf",
		FileType:  "application/pdf",
		File:      strings.NewReader("%PDF-"),
	})
	waitDone(t, h)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(t, []string{"report.pdf"}, sender.uploaded)
	assert.Empty(t, sender.sent)
}

func TestSendSurvivesCallerContextCancel(t *testing.T) {
	t.Parallel()

	view := timeline.NewView(1)
	sender := &fakeSender{reply: confirmedReply(400)}
	tracker := NewTracker(view, sender, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // caller context already gone when the network call runs

	h := tracker.BeginSend(ctx, SendRequest{ChannelID: 1, SenderID: 2, Body: "still goes"})
	waitDone(t, h)

	msgs := view.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, models.StatusConfirmed, msgs[0].Status)
}
