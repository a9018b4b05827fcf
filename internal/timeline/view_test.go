package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nftcoinmkt/aibot/internal/models"
)

func mkMsg(id int64, body string, sender int64, at time.Time) models.Message {
	return models.Message{
		ID:        id,
		ChannelID: 1,
		SenderID:  sender,
		Body:      body,
		Kind:      models.KindUser,
		CreatedAt: at,
		Status:    models.StatusConfirmed,
	}
}

func ids(msgs []models.Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestLoadHistorySortsNewestFirst(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	v := NewView(1)
	v.LoadHistory([]models.Message{
		mkMsg(1, "first", 2, base),
		mkMsg(3, "third", 2, base.Add(10*time.Minute)),
		mkMsg(2, "second", 2, base.Add(5*time.Minute)),
	})

	assert.Equal(t, []int64{3, 2, 1}, ids(v.Messages()))
	assert.Equal(t, int64(3), v.Watermark())
}

func TestInsertKeepsOrderForOutOfOrderArrivals(t *testing.T) {
	t.Parallel()

	// arrivals at 10:00:10, 10:00:05, 10:00:00 must render 10,05,00
	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	v := NewView(1)
	assert.True(t, v.Insert(mkMsg(13, "c", 2, base.Add(10*time.Second))))
	assert.True(t, v.Insert(mkMsg(12, "b", 3, base.Add(5*time.Second))))
	assert.True(t, v.Insert(mkMsg(11, "a", 4, base)))

	msgs := v.Messages()
	assert.Equal(t, []int64{13, 12, 11}, ids(msgs))
	assert.Equal(t, int64(13), v.Watermark())
}

func TestInsertIdempotentById(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	v := NewView(1)
	msg := mkMsg(5, "hi", 2, base)
	assert.True(t, v.Insert(msg))
	assert.False(t, v.Insert(msg))
	assert.Equal(t, 1, v.Len())
}

func TestInsertDeduplicatesByContentWindow(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	v := NewView(1)
	require.True(t, v.Insert(mkMsg(models.PlaceholderBase+1, "hello", 2, base)))

	// stream echo of the same send: different id, same body+sender, 1s apart
	assert.False(t, v.Insert(mkMsg(40, "hello", 2, base.Add(time.Second))))

	// same content from a different sender is not a duplicate
	assert.True(t, v.Insert(mkMsg(41, "hello", 3, base.Add(time.Second))))

	// same content outside the window is a new message
	assert.True(t, v.Insert(mkMsg(42, "hello", 2, base.Add(5*time.Second))))
	assert.Equal(t, 3, v.Len())
}

func TestTieBreakOnEqualTimestamps(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	v := NewView(1)
	v.Insert(mkMsg(7, "a", 2, at))
	v.Insert(mkMsg(9, "b", 3, at))
	v.Insert(mkMsg(8, "c", 4, at))

	assert.Equal(t, []int64{9, 8, 7}, ids(v.Messages()))
}

func TestReplaceSwapsPlaceholderForConfirmed(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	v := NewView(1)
	placeholder := mkMsg(models.PlaceholderBase+100, "question", 2, base)
	placeholder.Status = models.StatusPending
	v.Insert(placeholder)

	// user message plus one automated reply come back confirmed
	v.Replace(placeholder.ID, []models.Message{
		mkMsg(50, "question", 2, base.Add(100*time.Millisecond)),
		mkMsg(51, "answer", models.AISenderID, base.Add(2500*time.Millisecond)),
	})

	msgs := v.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, []int64{51, 50}, ids(msgs))
	for _, m := range msgs {
		assert.Equal(t, models.StatusConfirmed, m.Status)
	}
	assert.Equal(t, int64(51), v.Watermark())
}

func TestReplaceDedupsByIdOnly(t *testing.T) {
	t.Parallel()

	// an older failed copy of the same text must not swallow the confirmed
	// counterpart of a later placeholder
	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	v := NewView(1)
	failed := mkMsg(models.PlaceholderBase+300, "retry me", 2, base)
	failed.Status = models.StatusFailed
	v.Insert(failed)

	placeholder := mkMsg(models.PlaceholderBase+301, "retry me", 2, base.Add(time.Second))
	placeholder.Status = models.StatusPending
	v.Replace(placeholder.ID, []models.Message{
		mkMsg(60, "retry me", 2, base.Add(1500*time.Millisecond)),
	})

	msgs := v.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, []int64{60, failed.ID}, ids(msgs))
	assert.Equal(t, models.StatusConfirmed, msgs[0].Status)

	// id matches still dedup
	v.Replace(0, []models.Message{mkMsg(60, "retry me", 2, base.Add(2*time.Second))})
	assert.Equal(t, 2, v.Len())
}

func TestClearFailedRemovesMatchingEntries(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	v := NewView(1)
	failed := mkMsg(models.PlaceholderBase+400, "oops", 2, base)
	failed.Status = models.StatusFailed
	v.Insert(failed)
	// other sender and other body both survive the clear
	v.Insert(mkMsg(70, "oops", 3, base))
	v.Insert(mkMsg(71, "fine", 2, base.Add(time.Minute)))

	assert.True(t, v.ClearFailed(2, "oops"))
	assert.Equal(t, []int64{71, 70}, ids(v.Messages()))

	// nothing left to clear
	assert.False(t, v.ClearFailed(2, "oops"))
}

func TestSetStatusMarksFailedInPlace(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	v := NewView(1)
	placeholder := mkMsg(models.PlaceholderBase+200, "oops", 2, base)
	placeholder.Status = models.StatusPending
	v.Insert(placeholder)

	assert.True(t, v.SetStatus(placeholder.ID, models.StatusFailed))
	msgs := v.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, models.StatusFailed, msgs[0].Status)

	assert.False(t, v.SetStatus(999, models.StatusFailed))
}

func TestWatermarkIgnoresPlaceholders(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	v := NewView(1)
	v.Insert(mkMsg(10, "real", 2, base))
	v.Insert(mkMsg(models.PlaceholderBase+5, "local", 2, base.Add(time.Minute)))

	assert.Equal(t, int64(10), v.Watermark())
}

func TestChangeListenerFiresOnMutations(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	v := NewView(1)
	var calls int
	var lastLen int
	v.SetChangeListener(func(channelID int64, messages []models.Message) {
		assert.Equal(t, int64(1), channelID)
		calls++
		lastLen = len(messages)
	})

	v.LoadHistory([]models.Message{mkMsg(1, "a", 2, base)})
	v.Insert(mkMsg(2, "b", 3, base.Add(time.Second)))
	v.Insert(mkMsg(2, "b", 3, base.Add(time.Second))) // deduped, no callback

	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, lastLen)
}
