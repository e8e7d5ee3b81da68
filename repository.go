package chatwoot

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ============================================================================
// Consumed interfaces
// ============================================================================

// Service is the remote-facing surface the repository needs: the REST
// operations plus the realtime connection lifecycle. *Client is the
// production implementation.
type Service interface {
	GetContact(ctx context.Context) (*Contact, error)
	GetConversations(ctx context.Context) ([]Conversation, error)
	GetAllMessages(ctx context.Context) ([]Message, error)
	CreateMessage(ctx context.Context, req *NewMessageRequest) (*Message, error)
	SendAction(ctx context.Context, token string, action ActionType) error

	// StartConnection opens (or reuses) the realtime channel for token.
	StartConnection(ctx context.Context, token string) error
	// Connection returns the live channel, nil until StartConnection
	// succeeds.
	Connection() Conn
}

var _ Service = (*Client)(nil)

// Conn is the slice of the realtime connection the repository consumes.
type Conn interface {
	Subscribe() *Subscription
	Close() error
}

// ============================================================================
// Repository
// ============================================================================

// Repository keeps the local cache, the backend and the UI callbacks in sync.
// The synchronizing operations never return backend errors; every failure is
// converted into an OnError invocation so the UI has a single failure
// channel. Clear and Dispose do return errors: callers must know whether
// teardown actually happened.
type Repository interface {
	// Initialize persists the optional user, refreshes the contact,
	// resolves the active conversation against the fetched list and, in
	// every outcome, attempts to start realtime event listening.
	Initialize(ctx context.Context, user *User)

	// GetPersistedMessages emits the cached message set through
	// OnPersistedMessagesRetrieved. An empty cache emits nothing at all:
	// silence is how "no cache yet" stays distinguishable from an empty
	// result.
	GetPersistedMessages(ctx context.Context)

	// GetMessages fetches the full history, replaces the cached set with
	// it and emits OnMessagesRetrieved. On failure the cache is untouched.
	GetMessages(ctx context.Context)

	// SendMessage creates the message on the backend, persists the
	// confirmed record and emits OnMessageSent with the request's echo id.
	// On failure the OnError payload carries that echo id so the UI can
	// mark the right pending message.
	SendMessage(ctx context.Context, req NewMessageRequest)

	// SendAction relays a typing/presence signal. A missing pubsub token
	// makes this a silent no-op.
	SendAction(ctx context.Context, action ActionType)

	// ListenForEvents subscribes to the realtime channel of the cached
	// contact. Without a cached pubsub token it silently does nothing, and
	// while a subscription is already live it is a no-op, so callers may
	// invoke it opportunistically.
	ListenForEvents(ctx context.Context)

	// Clear wipes every persisted record.
	Clear(ctx context.Context) error

	// Dispose cancels all realtime subscriptions, waits for in-flight
	// frames to drain, releases the storage layer and empties the callback
	// sink. After Dispose returns no callback fires again.
	Dispose() error
}

type repository struct {
	svc   Service
	store Storage
	log   *slog.Logger

	mu        sync.Mutex
	callbacks *Callbacks
	listening bool
	disposed  bool
	sub       *Subscription

	consumers sync.WaitGroup
}

var _ Repository = (*repository)(nil)

type RepositoryOption func(*repository)

func WithRepositoryLogger(log *slog.Logger) RepositoryOption {
	return func(r *repository) { r.log = log }
}

// NewRepository wires the engine to its collaborators. callbacks may be nil
// when the embedder only wants the cache kept in sync.
func NewRepository(svc Service, store Storage, callbacks *Callbacks, opts ...RepositoryOption) Repository {
	if callbacks == nil {
		callbacks = &Callbacks{}
	}
	r := &repository{
		svc:       svc,
		store:     store,
		callbacks: callbacks,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ============================================================================
// Synchronizing operations
// ============================================================================

func (r *repository) Initialize(ctx context.Context, user *User) {
	// Event listening is attempted in every outcome: the widget must stay
	// usable live even when the initial sync failed.
	defer r.ListenForEvents(ctx)

	if user != nil {
		if err := r.store.SaveUser(ctx, user); err != nil {
			r.fail(storageError(err))
			return
		}
	}

	contact, err := r.svc.GetContact(ctx)
	if err != nil {
		r.fail(asClientError(err))
		return
	}
	if err := r.store.SaveContact(ctx, contact); err != nil {
		r.fail(storageError(err))
		return
	}

	conversations, err := r.svc.GetConversations(ctx)
	if err != nil {
		r.fail(asClientError(err))
		return
	}
	cached, err := r.store.Conversation(ctx)
	if err != nil {
		r.fail(storageError(err))
		return
	}
	resolved := resolveConversation(cached, conversations)
	if resolved == nil {
		return
	}
	if err := r.store.SaveConversation(ctx, resolved); err != nil {
		r.fail(storageError(err))
	}
}

// resolveConversation picks the fetched entry matching the cached
// conversation's id. Ids are assumed stable but the backend does not
// guarantee it, so a missing match keeps the cached conversation unchanged.
// With nothing cached yet the first fetched conversation is adopted.
func resolveConversation(cached *Conversation, fetched []Conversation) *Conversation {
	if cached != nil {
		for i := range fetched {
			if fetched[i].ID == cached.ID {
				return &fetched[i]
			}
		}
		return cached
	}
	if len(fetched) > 0 {
		return &fetched[0]
	}
	return nil
}

func (r *repository) GetPersistedMessages(ctx context.Context) {
	msgs, err := r.store.Messages(ctx)
	if err != nil {
		r.fail(storageError(err))
		return
	}
	if len(msgs) == 0 {
		return
	}
	r.sink().emitPersistedMessagesRetrieved(msgs)
}

func (r *repository) GetMessages(ctx context.Context) {
	msgs, err := r.svc.GetAllMessages(ctx)
	if err != nil {
		r.fail(asClientError(err))
		return
	}
	if err := r.store.SaveMessages(ctx, msgs); err != nil {
		r.fail(storageError(err))
		return
	}
	r.sink().emitMessagesRetrieved(msgs)
}

func (r *repository) SendMessage(ctx context.Context, req NewMessageRequest) {
	if req.EchoID == "" {
		req.EchoID = uuid.NewString()
	}

	msg, err := r.svc.CreateMessage(ctx, &req)
	if err != nil {
		// Re-attach the echo id: the failure must be addressable back
		// to the UI-local pending message.
		r.fail(asClientError(err).WithPayload(req.EchoID))
		return
	}
	if err := r.store.SaveMessage(ctx, *msg); err != nil {
		r.fail(storageError(err).WithPayload(req.EchoID))
		return
	}
	r.sink().emitMessageSent(*msg, req.EchoID)

	// Sending doubles as a liveness check: bring the channel back up when
	// it exists but lapsed.
	if r.svc.Connection() != nil && !r.isListening() {
		r.ListenForEvents(ctx)
	}
}

func (r *repository) SendAction(ctx context.Context, action ActionType) {
	contact, err := r.store.Contact(ctx)
	if err != nil {
		r.fail(storageError(err))
		return
	}
	if contact == nil || contact.PubsubToken == "" {
		r.log.Debug("send action skipped, no pubsub token cached", "action", action)
		return
	}
	if err := r.svc.SendAction(ctx, contact.PubsubToken, action); err != nil {
		r.fail(asClientError(err))
	}
}

// ============================================================================
// Realtime listening
// ============================================================================

func (r *repository) ListenForEvents(ctx context.Context) {
	if !r.needsSubscription() {
		return
	}

	contact, err := r.store.Contact(ctx)
	if err != nil {
		r.log.Warn("read cached contact", "error", err)
		return
	}
	if contact == nil || contact.PubsubToken == "" {
		r.log.Debug("event listening skipped, no pubsub token cached")
		return
	}

	if err := r.svc.StartConnection(ctx, contact.PubsubToken); err != nil {
		r.log.Warn("start realtime connection", "error", err)
		return
	}
	conn := r.svc.Connection()
	if conn == nil {
		return
	}

	sub := conn.Subscribe()
	r.mu.Lock()
	if r.disposed || (r.sub != nil && !r.sub.canceled()) {
		// Disposed, or someone else attached a subscription in the
		// meantime. Either way this one must not dispatch.
		r.mu.Unlock()
		sub.Cancel()
		return
	}
	r.sub = sub
	r.consumers.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.consumers.Done()
		r.consume(sub)
	}()
}

// needsSubscription reports whether a new subscription should be attached:
// not after Dispose, and not while the current one is still live.
func (r *repository) needsSubscription() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return false
	}
	return r.sub == nil || r.sub.canceled()
}

// consume handles one subscription's frames strictly in arrival order, one at
// a time. Cancellation wins over a buffered frame. When the subscription ends
// the listening flag drops, so the next send knows to bring the channel back.
func (r *repository) consume(sub *Subscription) {
	defer r.setListening(false)
	for {
		select {
		case <-sub.done:
			return
		case raw, ok := <-sub.frames:
			if !ok {
				return
			}
			select {
			case <-sub.done:
				return
			default:
			}
			r.handleFrame(raw)
		}
	}
}

func (r *repository) handleFrame(raw []byte) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic in event handler", "panic", p)
		}
	}()

	event, err := DecodeEvent(raw)
	if err != nil {
		r.log.Debug("dropping undecodable frame", "error", err)
		return
	}

	switch event.Type {
	case EventWelcome:
		r.sink().emitWelcome()
	case EventPing:
		r.sink().emitPing()
	case EventConfirmSubscription:
		r.setListening(true)
		r.sink().emitConfirmedSubscription()
	case EventMessageCreated:
		r.handleMessageCreated(*event.Message)
	case EventTypingOn:
		r.sink().emitStartedTyping()
	case EventTypingOff:
		r.sink().emitStoppedTyping()
	case EventPresenceUpdate:
		if event.AnyOnline() {
			r.sink().emitConversationOnline()
		} else {
			r.sink().emitConversationOffline()
		}
	default:
		r.log.Debug("ignoring unknown frame", "frame", string(raw))
	}
}

func (r *repository) handleMessageCreated(msg Message) {
	// Merge by id: the echo of a message this client just sent must not
	// duplicate the record SendMessage already persisted.
	if err := r.store.SaveMessage(context.Background(), msg); err != nil {
		r.log.Warn("persist realtime message", "id", msg.ID, "error", err)
	}
	if msg.IsMine() {
		r.sink().emitMessageDelivered(msg, msg.EchoID)
	} else {
		r.sink().emitMessageReceived(msg)
	}
}

// ============================================================================
// Teardown
// ============================================================================

func (r *repository) Clear(ctx context.Context) error {
	return r.store.Clear(ctx)
}

func (r *repository) Dispose() error {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return nil
	}
	r.disposed = true
	r.listening = false
	sub := r.sub
	r.sub = nil
	r.mu.Unlock()

	// Cancel before emptying the sink, and wait: no in-flight frame may
	// race a callback during teardown.
	if sub != nil {
		sub.Cancel()
	}
	r.consumers.Wait()

	err := r.store.Dispose()

	r.mu.Lock()
	r.callbacks = &Callbacks{}
	r.mu.Unlock()
	return err
}

// ============================================================================
// Internal state
// ============================================================================

// sink returns the current callback set. Dispose swaps it for an empty one,
// so late dispatches after teardown hit only no-ops.
func (r *repository) sink() *Callbacks {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.callbacks
}

func (r *repository) fail(err *ClientError) {
	r.log.Error("repository operation failed", "kind", err.Kind, "error", err)
	r.sink().emitError(err)
}

func (r *repository) isListening() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listening
}

func (r *repository) setListening(v bool) {
	r.mu.Lock()
	r.listening = v
	r.mu.Unlock()
}
