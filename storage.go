package chatwoot

import (
	"context"
	"sort"
	"sync"
)

// ============================================================================
// Local Cache Facade
// ============================================================================

// Storage is the local persistence cache behind the repository. Getters
// return nil (with a nil error) when nothing is cached; absence is a normal
// state, not a failure. Each call is an atomic unit; implementations must not
// leave a partial result behind when a call errors.
//
// SaveMessage merges by message id (last write wins), SaveMessages replaces
// the whole cached set. Clear wipes every record kind; Dispose releases the
// implementation's own resources.
type Storage interface {
	User(ctx context.Context) (*User, error)
	SaveUser(ctx context.Context, user *User) error

	Contact(ctx context.Context) (*Contact, error)
	SaveContact(ctx context.Context, contact *Contact) error

	Conversation(ctx context.Context) (*Conversation, error)
	SaveConversation(ctx context.Context, conversation *Conversation) error

	Messages(ctx context.Context) ([]Message, error)
	SaveMessage(ctx context.Context, message Message) error
	SaveMessages(ctx context.Context, messages []Message) error

	Clear(ctx context.Context) error
	Dispose() error
}

// ============================================================================
// In-Memory Storage
// ============================================================================

// MemoryStorage is a Storage that lives for the lifetime of the process.
// Suitable for tests and for embedders that want no offline continuity.
type MemoryStorage struct {
	mu           sync.RWMutex
	user         *User
	contact      *Contact
	conversation *Conversation
	messages     map[int64]Message
}

var _ Storage = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{messages: make(map[int64]Message)}
}

func (s *MemoryStorage) User(ctx context.Context) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyOf(s.user), nil
}

func (s *MemoryStorage) SaveUser(ctx context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = copyOf(user)
	return nil
}

func (s *MemoryStorage) Contact(ctx context.Context) (*Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyOf(s.contact), nil
}

func (s *MemoryStorage) SaveContact(ctx context.Context, contact *Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contact = copyOf(contact)
	return nil
}

func (s *MemoryStorage) Conversation(ctx context.Context) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyOf(s.conversation), nil
}

func (s *MemoryStorage) SaveConversation(ctx context.Context, conversation *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversation = copyOf(conversation)
	return nil
}

func (s *MemoryStorage) Messages(ctx context.Context) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.messages) == 0 {
		return nil, nil
	}
	out := make([]Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, m)
	}
	sortMessages(out)
	return out, nil
}

func (s *MemoryStorage) SaveMessage(ctx context.Context, message Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[message.ID] = message
	return nil
}

func (s *MemoryStorage) SaveMessages(ctx context.Context, messages []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = make(map[int64]Message, len(messages))
	for _, m := range messages {
		s.messages[m.ID] = m
	}
	return nil
}

func (s *MemoryStorage) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = nil
	s.contact = nil
	s.conversation = nil
	s.messages = make(map[int64]Message)
	return nil
}

func (s *MemoryStorage) Dispose() error {
	return s.Clear(context.Background())
}

// sortMessages orders a cached set the way the UI renders it: oldest first,
// id as the tiebreak for messages created in the same second.
func sortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		ti, tj := msgs[i].CreatedAt.Time, msgs[j].CreatedAt.Time
		if ti.Equal(tj) {
			return msgs[i].ID < msgs[j].ID
		}
		return ti.Before(tj)
	})
}

func copyOf[T any](v *T) *T {
	if v == nil {
		return nil
	}
	clone := *v
	return &clone
}
