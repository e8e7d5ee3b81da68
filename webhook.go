package chatwoot

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ============================================================================
// Webhook Types
// ============================================================================

// Webhook event names. The backend sends the same vocabulary over webhooks
// and the realtime channel where the two overlap.
const (
	WebhookMessageCreated            = "message_created"
	WebhookMessageUpdated            = "message_updated"
	WebhookConversationCreated       = "conversation_created"
	WebhookConversationStatusChanged = "conversation_status_changed"
	WebhookWidgetTriggered           = "webwidget_triggered"
)

// WebhookPayload is the body the backend POSTs to a registered webhook
// endpoint. Which pointer fields are set depends on Event: message_* events
// carry Message, conversation_* events carry Conversation, and both carry the
// Sender that triggered them when one exists.
type WebhookPayload struct {
	Event        string         `json:"event"`
	Message      *Message       `json:"message,omitempty"`
	Conversation *Conversation  `json:"conversation,omitempty"`
	Sender       *WebhookSender `json:"sender,omitempty"`
	CreatedAt    Timestamp      `json:"created_at,omitempty"`
}

// WebhookSender identifies who triggered a webhook event. Type is "contact"
// for widget users and "user" for agents.
type WebhookSender struct {
	ID    int64  `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Type  string `json:"type,omitempty"`
}

// WebhookReply is an optional synchronous reply from a webhook handler. When
// a handler returns one, the backend posts it into the conversation as an
// outgoing message, which is how agent bots answer without a REST round trip.
type WebhookReply struct {
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
}

// WebhookHandlerFunc is the callback signature for handling webhook payloads.
type WebhookHandlerFunc func(payload *WebhookPayload) (*WebhookReply, error)

// ============================================================================
// Standalone Functions
// ============================================================================

// VerifyWebhookSignature verifies a webhook signature using HMAC-SHA256.
// Uses constant-time comparison to prevent timing attacks.
func VerifyWebhookSignature(body, signature, secret string) bool {
	if body == "" || signature == "" || secret == "" {
		return false
	}

	sig := signature
	if strings.HasPrefix(sig, "sha256=") {
		sig = sig[7:]
	}
	if sig == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	expected := hex.EncodeToString(mac.Sum(nil))

	if len(sig) != len(expected) {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1
}

// ParseWebhookPayload parses a raw webhook body into a typed WebhookPayload.
func ParseWebhookPayload(body string) (*WebhookPayload, error) {
	var payload WebhookPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON in webhook body: %w", err)
	}

	if payload.Event == "" {
		return nil, fmt.Errorf("missing event field in webhook payload")
	}
	if strings.HasPrefix(payload.Event, "message_") && (payload.Message == nil || payload.Message.ID == 0) {
		return nil, fmt.Errorf("%s payload is missing its message", payload.Event)
	}
	if strings.HasPrefix(payload.Event, "conversation_") && (payload.Conversation == nil || payload.Conversation.ID == 0) {
		return nil, fmt.Errorf("%s payload is missing its conversation", payload.Event)
	}

	return &payload, nil
}

// ============================================================================
// Webhook
// ============================================================================

// Webhook handles webhook verification, parsing, and dispatch for a server
// that receives events from the chat backend, typically an agent bot.
type Webhook struct {
	secret  string
	onEvent WebhookHandlerFunc
}

// NewWebhook creates a new webhook handler.
func NewWebhook(secret string, onEvent WebhookHandlerFunc) (*Webhook, error) {
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	return &Webhook{
		secret:  secret,
		onEvent: onEvent,
	}, nil
}

// Verify verifies an HMAC-SHA256 signature.
func (w *Webhook) Verify(body, signature string) bool {
	return VerifyWebhookSignature(body, signature, w.secret)
}

// Parse parses a raw body into a typed WebhookPayload.
func (w *Webhook) Parse(body string) (*WebhookPayload, error) {
	return ParseWebhookPayload(body)
}

// Handle processes a webhook request (verify + parse + call handler).
// Returns the status code and response body for the caller to write.
func (w *Webhook) Handle(body, signature string) (int, any) {
	if !w.Verify(body, signature) {
		return http.StatusUnauthorized, map[string]string{"error": "Invalid signature"}
	}

	payload, err := w.Parse(body)
	if err != nil {
		return http.StatusBadRequest, map[string]string{"error": err.Error()}
	}

	reply, err := w.onEvent(payload)
	if err != nil {
		return http.StatusInternalServerError, map[string]string{"error": err.Error()}
	}

	if reply != nil {
		return http.StatusOK, reply
	}
	return http.StatusOK, map[string]bool{"ok": true}
}

// HTTPHandler returns an http.Handler that processes webhook requests.
//
// Example:
//
//	wh, _ := chatwoot.NewWebhook("secret", handler)
//	http.Handle("/webhook", wh.HTTPHandler())
func (w *Webhook) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.Header().Set("Content-Type", "application/json")
			rw.WriteHeader(http.StatusMethodNotAllowed)
			json.NewEncoder(rw).Encode(map[string]string{"error": "Method not allowed"})
			return
		}

		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			rw.Header().Set("Content-Type", "application/json")
			rw.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(rw).Encode(map[string]string{"error": "Failed to read body"})
			return
		}
		defer r.Body.Close()

		body := string(bodyBytes)
		signature := r.Header.Get("X-Chatwoot-Signature")

		statusCode, data := w.Handle(body, signature)

		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(statusCode)
		json.NewEncoder(rw).Encode(data)
	})
}

// HTTPHandlerFunc returns an http.HandlerFunc for convenience.
func (w *Webhook) HTTPHandlerFunc() http.HandlerFunc {
	return w.HTTPHandler().ServeHTTP
}
