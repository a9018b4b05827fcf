// Package session owns one streaming connection per open channel view:
// connect, authenticate, heartbeat, detect disconnect, reconnect with capped
// backoff, and expose connection state to observers. Inbound frames are
// dispatched in transport order; timestamp reordering is the timeline's job.
package session

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/gorilla/websocket"

	"github.com/nftcoinmkt/aibot/internal/config"
	"github.com/nftcoinmkt/aibot/internal/models"
)

// State is the connection session lifecycle. Closed is terminal.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// closeCodeAuthFailed is the application close code the backend uses when the
// token is rejected after the upgrade.
const closeCodeAuthFailed = 4001

const writeWait = 10 * time.Second

// Events are the observer callbacks. Frame callbacks run on the session's
// read goroutine, in the order frames arrived from the transport; nil
// callbacks are skipped. Callbacks must return promptly and must not call
// back into the Session.
type Events struct {
	OnMessage          func(models.Message)
	OnPresenceSnapshot func([]models.PresenceRecord)
	OnUserJoined       func(models.PresenceRecord)
	OnUserLeft         func(models.PresenceRecord)
	OnStateChange      func(State)
}

// Session is the per-channel connection state machine. One instance per open
// channel view; bound to one channel and one token at a time.
type Session struct {
	conf   config.StreamConfig
	events Events

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	gen       int
	stop      chan struct{}
	channelID int64
	token     string
	watermark int64

	wmu sync.Mutex // serializes writes to conn

	cancelRetry context.CancelFunc
}

func New(conf config.StreamConfig, events Events) *Session {
	return &Session{
		conf:   conf,
		events: events,
		state:  Disconnected,
	}
}

// Connect dials the channel stream and blocks until the session is Connected
// or the attempt failed. A token rejected at connect is terminal for this
// session instance; transport failures leave the session Disconnected and
// retriable.
func (s *Session) Connect(ctx context.Context, channelID int64, token string) error {
	s.mu.Lock()
	switch s.state {
	case Closed:
		s.mu.Unlock()
		return models.ErrSessionClosed
	case Connected, Connecting:
		s.mu.Unlock()
		return fmt.Errorf("session already %s", s.state)
	}
	// a manual attempt supersedes any pending retry loop
	if s.cancelRetry != nil {
		s.cancelRetry()
		s.cancelRetry = nil
	}
	s.channelID = channelID
	s.token = token
	s.setStateLocked(Connecting)
	s.mu.Unlock()

	if err := s.dial(ctx); err != nil {
		return err
	}
	return nil
}

// dial performs one connection attempt and moves the session to Connected,
// Disconnected, or Closed (auth reject).
func (s *Session) dial(ctx context.Context) error {
	s.mu.Lock()
	channelID, token := s.channelID, s.token
	s.mu.Unlock()

	endpoint := fmt.Sprintf("%s/ws/channels/%d?token=%s",
		strings.TrimRight(s.conf.BaseURL, "/"), channelID, url.QueryEscape(token))
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	dialer := websocket.Dialer{HandshakeTimeout: s.conf.DialTimeout}
	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			s.transition(Closed)
			return fmt.Errorf("connect channel %d: %w", channelID, models.ErrAuthRejected)
		}
		// a failed manual attempt lands in Disconnected; retryLoop keeps
		// the session in Reconnecting between its own attempts
		s.mu.Lock()
		if s.state == Connecting {
			s.setStateLocked(Disconnected)
		}
		s.mu.Unlock()
		return &models.TransportError{Op: "connect", Err: err}
	}

	conn.SetReadDeadline(time.Now().Add(s.conf.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.conf.PongWait))
		return nil
	})

	s.mu.Lock()
	switch s.state {
	case Closed:
		s.mu.Unlock()
		conn.Close()
		return models.ErrSessionClosed
	case Connecting, Reconnecting:
	default:
		// another attempt committed first; this connection is surplus
		s.mu.Unlock()
		conn.Close()
		return nil
	}
	s.gen++
	gen := s.gen
	s.conn = conn
	s.stop = make(chan struct{})
	stop := s.stop
	s.setStateLocked(Connected)
	s.mu.Unlock()

	log.Infow(context.Background(), "channel stream connected", "channel_id", channelID)
	go s.readPump(conn, gen)
	go s.heartbeat(conn, gen, stop)
	return nil
}

// Send writes a frame to the stream. It is a no-op while not Connected.
func (s *Session) Send(frame any) error {
	s.mu.Lock()
	if s.state != Connected || s.conn == nil {
		s.mu.Unlock()
		return nil
	}
	conn, gen := s.conn, s.gen
	s.mu.Unlock()

	if err := s.writeJSON(conn, frame); err != nil {
		s.handleTransportError(gen, "send", err)
		return &models.TransportError{Op: "send", Err: err}
	}
	return nil
}

// MarkRead reports a message as read on the stream.
func (s *Session) MarkRead(messageID int64) error {
	return s.Send(models.ReadFrame{Type: models.FrameMessageRead, MessageID: messageID})
}

// Close is idempotent and safe from any state. It releases the transport and
// timers; the session accepts no further transitions.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	if s.cancelRetry != nil {
		s.cancelRetry()
		s.cancelRetry = nil
	}
	conn := s.conn
	s.conn = nil
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.gen++
	s.setStateLocked(Closed)
	s.mu.Unlock()

	if conn != nil {
		s.wmu.Lock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.wmu.Unlock()
		conn.Close()
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetWatermark seeds the highest confirmed id already merged (from the
// history load), so replayed frames are not reprocessed.
func (s *Session) SetWatermark(id int64) {
	s.mu.Lock()
	if id > s.watermark {
		s.watermark = id
	}
	s.mu.Unlock()
}

// readPump drains the connection and dispatches frames until a transport
// error. Every inbound frame refreshes the liveness deadline; a quiet wire
// past PongWait surfaces as a read error here.
func (s *Session) readPump(conn *websocket.Conn, gen int) {
	ctx := context.Background()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleTransportError(gen, "read", err)
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.conf.PongWait))
		s.dispatch(ctx, data)
	}
}

// dispatch routes one inbound frame by kind. Parse errors are logged and the
// frame skipped; unknown kinds are ignored. Nothing here is fatal.
func (s *Session) dispatch(ctx context.Context, data []byte) {
	frame, err := models.DecodeFrame(data)
	if err != nil {
		parseSkips.Inc()
		log.Warnw(ctx, "skipping malformed frame", "error", err.Error())
		return
	}
	framesTotal.WithLabelValues(frame.Type).Inc()

	switch frame.Type {
	case models.FrameNewMessage:
		s.dispatchNewMessage(ctx, frame.Raw)
	case models.FrameOnlineUsers:
		records, skipped, err := models.DecodePresenceSnapshot(frame.Raw)
		if err != nil {
			parseSkips.Inc()
			log.Warnw(ctx, "skipping malformed presence snapshot", "error", err.Error())
			return
		}
		if skipped > 0 {
			log.Warnw(ctx, "presence snapshot dropped records", "skipped", skipped)
		}
		if s.events.OnPresenceSnapshot != nil {
			s.events.OnPresenceSnapshot(records)
		}
	case models.FrameUserJoined:
		if rec, err := models.DecodePresenceEvent(frame.Raw); err == nil {
			if s.events.OnUserJoined != nil {
				s.events.OnUserJoined(rec)
			}
		} else {
			log.Warnw(ctx, "skipping malformed user_joined frame", "error", err.Error())
		}
	case models.FrameUserLeft:
		if rec, err := models.DecodePresenceEvent(frame.Raw); err == nil {
			if s.events.OnUserLeft != nil {
				s.events.OnUserLeft(rec)
			}
		} else {
			log.Warnw(ctx, "skipping malformed user_left frame", "error", err.Error())
		}
	case models.FramePong:
		log.Debugw(ctx, "pong received", "channel_id", s.channelID)
	case models.FrameMessageRead:
		// read receipts are rendered by the UI layer; nothing to merge
		log.Debugw(ctx, "message_read received", "channel_id", s.channelID)
	default:
		log.Debugw(ctx, "ignoring unknown frame kind", "kind", frame.Type)
	}
}

func (s *Session) dispatchNewMessage(ctx context.Context, raw []byte) {
	payload, err := models.ExtractMessagePayload(raw)
	if err != nil {
		parseSkips.Inc()
		log.Warnw(ctx, "skipping malformed new_message frame", "error", err.Error())
		return
	}
	msg, err := models.DecodeMessage(payload)
	if err != nil {
		parseSkips.Inc()
		log.Warnw(ctx, "skipping malformed message", "error", err.Error())
		return
	}
	msg.Status = models.StatusConfirmed

	s.mu.Lock()
	if msg.ID <= s.watermark {
		s.mu.Unlock()
		log.Debugw(ctx, "dropping replayed message", "id", msg.ID)
		return
	}
	s.watermark = msg.ID
	s.mu.Unlock()

	if s.events.OnMessage != nil {
		s.events.OnMessage(msg)
	}
}

// heartbeat sends an application-level ping every interval while Connected.
// Liveness is enforced by the read deadline: if the backend stops answering,
// the read pump times out and tears the connection down.
func (s *Session) heartbeat(conn *websocket.Conn, gen int, stop chan struct{}) {
	ticker := time.NewTicker(s.conf.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ping := models.PingFrame{Type: models.FramePing, Timestamp: time.Now().UnixMilli()}
			if err := s.writeJSON(conn, ping); err != nil {
				s.handleTransportError(gen, "heartbeat", err)
				return
			}
		}
	}
}

func (s *Session) writeJSON(conn *websocket.Conn, v any) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// handleTransportError tears down the current connection exactly once per
// generation, emits the Disconnected transition, and starts the retry loop
// when automatic reconnection is enabled.
func (s *Session) handleTransportError(gen int, op string, cause error) {
	s.mu.Lock()
	if s.gen != gen || s.state == Closed {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	s.conn = nil
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.gen++

	if websocket.IsCloseError(cause, closeCodeAuthFailed) {
		s.setStateLocked(Closed)
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		log.Errorw(context.Background(), "stream authentication rejected",
			"channel_id", s.channelID, "op", op)
		return
	}

	s.setStateLocked(Disconnected)
	var retryCtx context.Context
	var retryCancel context.CancelFunc
	if s.conf.AutoReconnect {
		if s.cancelRetry != nil {
			s.cancelRetry()
		}
		retryCtx, retryCancel = context.WithCancel(context.Background())
		s.cancelRetry = retryCancel
	}
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	log.Warnw(context.Background(), "channel stream dropped",
		"channel_id", s.channelID, "op", op, "error", cause.Error(),
	)
	if retryCtx != nil {
		go s.retryLoop(retryCtx, retryCancel)
	}
}

// retryLoop reconnects with capped exponential backoff and full jitter. The
// observed original left reconnection to manual triggers; automatic backoff
// is the hardened behavior chosen here. Manual Connect stays available when
// AutoReconnect is off.
func (s *Session) retryLoop(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	s.mu.Lock()
	if s.state != Disconnected {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(Reconnecting)
	s.mu.Unlock()

	backoff := s.conf.BackoffMin
	for {
		delay := time.Duration(rand.Int63n(int64(backoff) + 1))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		s.mu.Lock()
		if s.state != Reconnecting {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		reconnects.Inc()
		err := s.dial(ctx)
		if err == nil {
			return
		}
		if s.State() == Closed {
			return
		}
		backoff *= 2
		if backoff > s.conf.BackoffMax {
			backoff = s.conf.BackoffMax
		}
	}
}

// transition moves the state outside of an existing critical section.
func (s *Session) transition(next State) {
	s.mu.Lock()
	if s.state == Closed && next != Closed {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(next)
	s.mu.Unlock()
}

func (s *Session) setStateLocked(next State) {
	if s.state == next {
		return
	}
	s.state = next
	if s.events.OnStateChange != nil {
		s.events.OnStateChange(next)
	}
}
