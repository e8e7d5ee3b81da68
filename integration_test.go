//go:build integration

package chatwoot_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	chatwoot "github.com/poneahealthltd/chatwoot-go"
)

// These tests run the full widget lifecycle against a live backend:
//
//	CHATWOOT_INBOX_IDENTIFIER_TEST  (required) API inbox identifier
//	CHATWOOT_BASE_URL_TEST          (optional) defaults to http://localhost:3000
//
// go test -tags integration ./...

// helpers ---------------------------------------------------------------

func inboxIdentifier(t *testing.T) string {
	t.Helper()
	id := os.Getenv("CHATWOOT_INBOX_IDENTIFIER_TEST")
	if id == "" {
		t.Fatal("CHATWOOT_INBOX_IDENTIFIER_TEST environment variable is required")
	}
	return id
}

func testBaseURL() string {
	if v := os.Getenv("CHATWOOT_BASE_URL_TEST"); v != "" {
		return v
	}
	return "http://localhost:3000"
}

func uniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

// =======================================================================
// REST bootstrap
// =======================================================================

func TestIntegration_Bootstrap(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := chatwoot.NewClient(testBaseURL(), inboxIdentifier(t))

	contact, err := client.CreateContact(ctx, &chatwoot.User{
		Name:  uniqueName("go_widget"),
		Email: fmt.Sprintf("%s@example.com", uniqueName("go_widget")),
	})
	if err != nil {
		t.Fatalf("CreateContact error: %v", err)
	}
	if contact.SourceID == "" {
		t.Fatal("expected non-empty source id")
	}
	if contact.PubsubToken == "" {
		t.Fatal("expected non-empty pubsub token")
	}
	t.Logf("CreateContact - id=%d sourceId=%s", contact.ID, contact.SourceID)
	client.SetContactIdentifier(contact.SourceID)

	conv, err := client.CreateConversation(ctx)
	if err != nil {
		t.Fatalf("CreateConversation error: %v", err)
	}
	if conv.ID == 0 {
		t.Fatal("expected non-zero conversation id")
	}
	t.Logf("CreateConversation - id=%d status=%s", conv.ID, conv.Status)

	convs, err := client.GetConversations(ctx)
	if err != nil {
		t.Fatalf("GetConversations error: %v", err)
	}
	if len(convs) == 0 {
		t.Fatal("expected at least one conversation")
	}
	t.Logf("GetConversations - count=%d", len(convs))
}

// =======================================================================
// Repository lifecycle
// =======================================================================

func TestIntegration_WidgetLifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 180*time.Second)
	defer cancel()

	client := chatwoot.NewClient(testBaseURL(), inboxIdentifier(t))

	// ---------------------------------------------------------------
	// Bootstrap a fresh contact and conversation for this run
	// ---------------------------------------------------------------
	userName := uniqueName("go_lifecycle")
	contact, err := client.CreateContact(ctx, &chatwoot.User{Name: userName})
	if err != nil {
		t.Fatalf("CreateContact error: %v", err)
	}
	client.SetContactIdentifier(contact.SourceID)

	conv, err := client.CreateConversation(ctx)
	if err != nil {
		t.Fatalf("CreateConversation error: %v", err)
	}
	client.SetConversationID(conv.ID)
	t.Logf("Bootstrap - contact=%s conversation=%d", contact.SourceID, conv.ID)

	store, err := chatwoot.OpenSQLiteStorage(filepath.Join(t.TempDir(), "widget.db"), contact.SourceID)
	if err != nil {
		t.Fatalf("OpenSQLiteStorage error: %v", err)
	}

	welcomeCh := make(chan struct{}, 4)
	confirmCh := make(chan struct{}, 4)
	retrievedCh := make(chan []chatwoot.Message, 4)
	persistedCh := make(chan []chatwoot.Message, 4)
	sentCh := make(chan string, 4)
	deliveredCh := make(chan string, 4)
	errCh := make(chan *chatwoot.ClientError, 16)

	repo := chatwoot.NewRepository(client, store, &chatwoot.Callbacks{
		OnError:                      func(e *chatwoot.ClientError) { errCh <- e },
		OnWelcome:                    func() { welcomeCh <- struct{}{} },
		OnConfirmedSubscription:      func() { confirmCh <- struct{}{} },
		OnMessagesRetrieved:          func(msgs []chatwoot.Message) { retrievedCh <- msgs },
		OnPersistedMessagesRetrieved: func(msgs []chatwoot.Message) { persistedCh <- msgs },
		OnMessageSent:                func(_ chatwoot.Message, echoID string) { sentCh <- echoID },
		OnMessageDelivered:           func(_ chatwoot.Message, echoID string) { deliveredCh <- echoID },
	})

	// ---------------------------------------------------------------
	// Initialize: persists the user and opens the realtime channel
	// ---------------------------------------------------------------
	t.Run("Initialize", func(t *testing.T) {
		repo.Initialize(ctx, &chatwoot.User{Name: userName})

		select {
		case e := <-errCh:
			t.Fatalf("Initialize emitted error: %v", e)
		case <-welcomeCh:
			t.Log("Initialize - welcome received")
		case <-time.After(20 * time.Second):
			t.Fatal("timed out waiting for welcome frame")
		}

		select {
		case <-confirmCh:
			t.Log("Initialize - subscription confirmed")
		case <-time.After(20 * time.Second):
			t.Fatal("timed out waiting for confirm_subscription")
		}
	})

	// ---------------------------------------------------------------
	// GetMessages: hits the backend and overwrites the cache
	// ---------------------------------------------------------------
	t.Run("GetMessages", func(t *testing.T) {
		repo.GetMessages(ctx)

		select {
		case e := <-errCh:
			t.Fatalf("GetMessages emitted error: %v", e)
		case msgs := <-retrievedCh:
			t.Logf("GetMessages - count=%d", len(msgs))
		case <-time.After(30 * time.Second):
			t.Fatal("timed out waiting for OnMessagesRetrieved")
		}
	})

	// ---------------------------------------------------------------
	// SendMessage: REST create plus realtime echo
	// ---------------------------------------------------------------
	sentContent := fmt.Sprintf("integration message %d", time.Now().UnixNano())
	var sentEchoID string

	t.Run("SendMessage", func(t *testing.T) {
		repo.SendMessage(ctx, chatwoot.NewMessageRequest{Content: sentContent})

		select {
		case e := <-errCh:
			t.Fatalf("SendMessage emitted error: %v", e)
		case sentEchoID = <-sentCh:
			t.Logf("SendMessage - sent echoId=%s", sentEchoID)
		case <-time.After(30 * time.Second):
			t.Fatal("timed out waiting for OnMessageSent")
		}

		// The delivery confirmation rides the realtime channel; some
		// backends only relay it to agent sessions, so a miss is logged
		// rather than failed.
		select {
		case echoID := <-deliveredCh:
			if sentEchoID != "" && echoID != sentEchoID {
				t.Logf("SendMessage - delivered echoId=%s does not match sent=%s (non-fatal)", echoID, sentEchoID)
			} else {
				t.Logf("SendMessage - delivered echoId=%s", echoID)
			}
		case <-time.After(15 * time.Second):
			t.Log("SendMessage - no delivery frame within 15s (non-fatal)")
		}
	})

	// ---------------------------------------------------------------
	// SendAction: typing indicators over the realtime channel
	// ---------------------------------------------------------------
	t.Run("SendAction_Typing", func(t *testing.T) {
		repo.SendAction(ctx, chatwoot.ActionTypingOn)
		time.Sleep(500 * time.Millisecond)
		repo.SendAction(ctx, chatwoot.ActionTypingOff)

		select {
		case e := <-errCh:
			t.Fatalf("SendAction emitted error: %v", e)
		case <-time.After(2 * time.Second):
			t.Log("SendAction - typing_on/typing_off relayed")
		}
	})

	// ---------------------------------------------------------------
	// GetPersistedMessages: the cache now holds the sent message
	// ---------------------------------------------------------------
	t.Run("GetPersistedMessages", func(t *testing.T) {
		repo.GetPersistedMessages(ctx)

		select {
		case e := <-errCh:
			t.Fatalf("GetPersistedMessages emitted error: %v", e)
		case msgs := <-persistedCh:
			found := false
			for _, m := range msgs {
				if m.Content == sentContent {
					found = true
					break
				}
			}
			if !found {
				t.Fatalf("sent message not in cache (count=%d)", len(msgs))
			}
			t.Logf("GetPersistedMessages - count=%d, sent message cached", len(msgs))
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for OnPersistedMessagesRetrieved")
		}
	})

	// ---------------------------------------------------------------
	// Clear and Dispose
	// ---------------------------------------------------------------
	t.Run("Clear_and_Dispose", func(t *testing.T) {
		if err := repo.Clear(ctx); err != nil {
			t.Fatalf("Clear error: %v", err)
		}
		if err := repo.Dispose(); err != nil {
			t.Fatalf("Dispose error: %v", err)
		}
		t.Log("Clear_and_Dispose - ok")
	})
}

// =======================================================================
// Attachments
// =======================================================================

func TestIntegration_AttachmentMessage(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client := chatwoot.NewClient(testBaseURL(), inboxIdentifier(t))

	contact, err := client.CreateContact(ctx, &chatwoot.User{Name: uniqueName("go_attach")})
	if err != nil {
		t.Fatalf("CreateContact error: %v", err)
	}
	client.SetContactIdentifier(contact.SourceID)

	conv, err := client.CreateConversation(ctx)
	if err != nil {
		t.Fatalf("CreateConversation error: %v", err)
	}
	client.SetConversationID(conv.ID)

	// Tiny valid PNG (1x1 transparent pixel).
	png := []byte{
		0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
		0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
		0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
		0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x62, 0x00, 0x01, 0x00, 0x00,
		0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
		0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
	}

	msg, err := client.CreateAttachmentMessage(ctx, "pixel",
		chatwoot.AttachmentUpload{FileName: "pixel.png", Data: png})
	if err != nil {
		t.Fatalf("CreateAttachmentMessage error: %v", err)
	}
	if msg.ID == 0 {
		t.Fatal("expected non-zero message id")
	}
	if len(msg.Attachments) == 0 {
		t.Fatal("expected at least one attachment on the created message")
	}
	t.Logf("CreateAttachmentMessage - id=%d fileType=%s url=%s",
		msg.ID, msg.Attachments[0].FileType, msg.Attachments[0].DataURL)
}
