package chatwoot

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ============================================================================
// Identity Types
// ============================================================================

// User is the local identity supplied by the embedding application. It is
// persisted once on Initialize when provided and never mutated by events.
type User struct {
	Identifier       string         `json:"identifier,omitempty"`
	Name             string         `json:"name,omitempty"`
	Email            string         `json:"email,omitempty"`
	AvatarURL        string         `json:"avatar_url,omitempty"`
	CustomAttributes map[string]any `json:"custom_attributes,omitempty"`
}

// Contact is the server-assigned identity for this client instance. SourceID
// is the contact identifier used in REST paths; PubsubToken opens the
// realtime channel. The cached contact is overwritten, never merged.
type Contact struct {
	ID          int64  `json:"id"`
	SourceID    string `json:"source_id"`
	Name        string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	PubsubToken string `json:"pubsub_token"`
}

type Conversation struct {
	ID        int64     `json:"id"`
	InboxID   int64     `json:"inbox_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	CreatedAt Timestamp `json:"created_at,omitempty"`
}

// ============================================================================
// Messages
// ============================================================================

// MessageType mirrors the backend's message_type field. Directions are from
// the agent dashboard's point of view: "incoming" messages are the ones the
// widget user wrote.
type MessageType int

const (
	MessageIncoming MessageType = 0
	MessageOutgoing MessageType = 1
	MessageActivity MessageType = 2
	MessageTemplate MessageType = 3
)

// Message is a single chat message. EchoID is the client-generated id that
// correlates an optimistically rendered message with its server confirmation;
// the backend echoes it back on the created message and on the
// message_created realtime frame.
type Message struct {
	ID             int64        `json:"id"`
	Content        string       `json:"content"`
	MessageType    MessageType  `json:"message_type"`
	ContentType    string       `json:"content_type,omitempty"`
	ConversationID int64        `json:"conversation_id,omitempty"`
	EchoID         string       `json:"echo_id,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	CreatedAt      Timestamp    `json:"created_at,omitempty"`
}

// IsMine reports whether this message was sent by the widget user.
func (m Message) IsMine() bool {
	return m.MessageType == MessageIncoming
}

// NewMessageRequest is the payload for creating a message. Leave EchoID empty
// to have the repository fill in a generated one.
type NewMessageRequest struct {
	Content string `json:"content"`
	EchoID  string `json:"echo_id"`
}

// ============================================================================
// Actions
// ============================================================================

// ActionType is a user-state signal relayed over the realtime channel.
type ActionType string

const (
	ActionTypingOn       ActionType = "typing_on"
	ActionTypingOff      ActionType = "typing_off"
	ActionUpdatePresence ActionType = "update_presence"
)

// ============================================================================
// Timestamps
// ============================================================================

// Timestamp decodes the two encodings the backend uses interchangeably:
// RFC 3339 strings and Unix epoch seconds.
type Timestamp struct {
	time.Time
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" || s == `""` {
		t.Time = time.Time{}
		return nil
	}
	if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
		t.Time = time.Unix(epoch, 0).UTC()
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse timestamp %s: %w", s, err)
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("parse timestamp %q: unrecognized format", raw)
}

// ============================================================================
// Errors
// ============================================================================

// ErrorKind classifies a ClientError.
type ErrorKind string

const (
	// ErrorKindNetwork covers transport failures: dial errors, broken
	// connections, request build failures.
	ErrorKindNetwork ErrorKind = "network"
	// ErrorKindBackend covers requests the backend rejected (HTTP >= 400).
	ErrorKindBackend ErrorKind = "backend_rejected"
	// ErrorKindMalformed covers responses that could not be decoded.
	ErrorKindMalformed ErrorKind = "malformed_response"
	// ErrorKindStorage covers local cache failures.
	ErrorKindStorage ErrorKind = "storage"
	// ErrorKindUnknown wraps causes that carry no classification.
	ErrorKindUnknown ErrorKind = "unknown"
)

// ClientError is the single error type surfaced through the OnError callback.
// Payload re-attaches correlation data: for a failed send it holds the echo
// id of the message that failed, so the UI can mark the right pending bubble.
type ClientError struct {
	Kind    ErrorKind
	Cause   error
	Payload any
}

// NewClientError wraps cause with a classification.
func NewClientError(kind ErrorKind, cause error) *ClientError {
	return &ClientError{Kind: kind, Cause: cause}
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("chatwoot: %s: %v", e.Kind, e.Cause)
	}
	return "chatwoot: " + string(e.Kind)
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// WithPayload returns a copy of the error carrying payload.
func (e *ClientError) WithPayload(payload any) *ClientError {
	clone := *e
	clone.Payload = payload
	return &clone
}

// asClientError reuses err's classification when it already is a ClientError
// and wraps it as unknown otherwise.
func asClientError(err error) *ClientError {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce
	}
	return NewClientError(ErrorKindUnknown, err)
}

func storageError(err error) *ClientError {
	return NewClientError(ErrorKindStorage, err)
}
