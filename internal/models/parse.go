package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// The backend (and older clients feeding it) is inconsistent about field
// casing, so decoding accepts both spellings with a fixed precedence:
// snake_case wins over camelCase, and created_at wins over createdAt and
// timestamp. A shape that is irrecoverable after the fallbacks yields a typed
// *ParseError, never a silent zero value.

var validate = validator.New()

type messageWire struct {
	ID           *int64          `json:"id"`
	ChannelID    *int64          `json:"channel_id"`
	ChannelIDAlt *int64          `json:"channelId"`
	SenderID     *int64          `json:"user_id"`
	SenderIDAlt  *int64          `json:"userId"`
	Body         string          `json:"message"`
	Response     *string         `json:"response"`
	Provider     string          `json:"provider"`
	Kind         string          `json:"message_type"`
	CreatedAt    json.RawMessage `json:"created_at"`
	CreatedAtAlt json.RawMessage `json:"createdAt"`
	Timestamp    json.RawMessage `json:"timestamp"`
	Attachment   *Attachment     `json:"attachment"`
	FileURL      *string         `json:"file_url"`
	FileName     *string         `json:"file_name"`
	FileType     *string         `json:"file_type"`
}

type messageShape struct {
	ID        int64     `validate:"required"`
	ChannelID int64     `validate:"required"`
	CreatedAt time.Time `validate:"required"`
}

// DecodeMessage parses one wire message (history item or new_message payload)
// into a Message. Delivery status is left empty for the caller to set.
func DecodeMessage(data []byte) (Message, error) {
	var w messageWire
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, &ParseError{Field: "message", Reason: "invalid json", Err: err}
	}

	id := firstInt64(w.ID)
	channelID := firstInt64(w.ChannelID, w.ChannelIDAlt)
	senderID := firstInt64(w.SenderID, w.SenderIDAlt)

	createdAt, err := parseWireTime(w.CreatedAt, w.CreatedAtAlt, w.Timestamp)
	if err != nil {
		return Message{}, &ParseError{Field: "created_at", Reason: "unparseable timestamp", Err: err}
	}

	shape := messageShape{ID: valInt64(id), ChannelID: valInt64(channelID), CreatedAt: createdAt}
	if err := validate.Struct(shape); err != nil {
		return Message{}, &ParseError{Field: "message", Reason: "missing required fields", Err: err}
	}

	msg := Message{
		ID:        shape.ID,
		ChannelID: shape.ChannelID,
		SenderID:  valInt64(senderID),
		Body:      w.Body,
		Provider:  w.Provider,
		Kind:      MessageKind(w.Kind),
		CreatedAt: createdAt,
	}
	if w.Response != nil {
		msg.Response = *w.Response
	}
	if msg.Kind == "" {
		if msg.SenderID == AISenderID {
			msg.Kind = KindAI
		} else {
			msg.Kind = KindUser
		}
	}

	msg.Attachment = w.Attachment
	if msg.Attachment == nil && w.FileURL != nil && *w.FileURL != "" {
		msg.Attachment = &Attachment{
			FileURL:  *w.FileURL,
			FileName: valStr(w.FileName),
			FileType: valStr(w.FileType),
		}
	}

	return msg, nil
}

// ExtractMessagePayload pulls the embedded message object out of a
// new_message frame.
func ExtractMessagePayload(raw []byte) ([]byte, error) {
	var body struct {
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, &ParseError{Field: "message", Reason: "invalid json", Err: err}
	}
	if len(body.Message) == 0 || string(body.Message) == "null" {
		return nil, &ParseError{Field: "message", Reason: "missing payload"}
	}
	return body.Message, nil
}

// DecodeFrame extracts the discriminant of a stream frame and keeps the raw
// bytes for kind-specific decoding.
func DecodeFrame(data []byte) (Frame, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Frame{}, &ParseError{Field: "frame", Reason: "invalid json", Err: err}
	}
	if head.Type == "" {
		return Frame{}, &ParseError{Field: "frame", Reason: "missing type discriminant"}
	}
	return Frame{Type: head.Type, Raw: data}, nil
}

type presenceWire struct {
	UserID      *int64          `json:"user_id"`
	UserIDAlt   *int64          `json:"userId"`
	UserName    string          `json:"user_name"`
	UserNameAlt string          `json:"userName"`
	ConnectedAt json.RawMessage `json:"connected_at"`
}

func (w presenceWire) record() (PresenceRecord, error) {
	id := firstInt64(w.UserID, w.UserIDAlt)
	if id == nil {
		return PresenceRecord{}, &ParseError{Field: "user_id", Reason: "missing"}
	}
	rec := PresenceRecord{UserID: *id, UserName: w.UserName}
	if rec.UserName == "" {
		rec.UserName = w.UserNameAlt
	}
	if ts, err := parseWireTime(w.ConnectedAt); err == nil {
		rec.ConnectedAt = ts
	}
	return rec, nil
}

// DecodePresenceSnapshot parses an online_users frame into the full
// replacement set. Malformed records are skipped; the count is returned so
// the caller can log the loss.
func DecodePresenceSnapshot(raw []byte) ([]PresenceRecord, int, error) {
	var body struct {
		Users []presenceWire `json:"users"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, 0, &ParseError{Field: "users", Reason: "invalid json", Err: err}
	}
	records := make([]PresenceRecord, 0, len(body.Users))
	skipped := 0
	for _, w := range body.Users {
		rec, err := w.record()
		if err != nil {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	return records, skipped, nil
}

// DecodePresenceEvent parses a user_joined or user_left frame.
func DecodePresenceEvent(raw []byte) (PresenceRecord, error) {
	var w presenceWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return PresenceRecord{}, &ParseError{Field: "presence", Reason: "invalid json", Err: err}
	}
	return w.record()
}

func firstInt64(vals ...*int64) *int64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func valInt64(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func valStr(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

// timeLayouts covers RFC3339 and the backend's naive isoformat (UTC implied).
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func parseWireTime(candidates ...json.RawMessage) (time.Time, error) {
	for _, raw := range candidates {
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		if raw[0] == '"' {
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return time.Time{}, err
			}
			for _, layout := range timeLayouts {
				if ts, err := time.Parse(layout, s); err == nil {
					return ts.UTC(), nil
				}
			}
			return time.Time{}, fmt.Errorf("unrecognized time %q", s)
		}
		// numeric timestamps arrive as unix milliseconds
		ms, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("unrecognized time %s", raw)
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("no timestamp present")
}
