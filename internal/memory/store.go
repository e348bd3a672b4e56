package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/aigw/internal/storage"
)

const (
	// DefaultWindow is the number of messages kept per conversation.
	DefaultWindow = 10
	// DefaultRetention is how long a message survives before purge.
	DefaultRetention = 7 * 24 * time.Hour
	// DefaultPurgeBatch bounds the rows removed by a single delete statement.
	DefaultPurgeBatch = 500
)

// Role values stored with each message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MessageStore defines the persistence operations the Store needs.
// Implemented by storage.Store.
type MessageStore interface {
	AppendMessages(ctx context.Context, conversationID string, msgs []storage.Message, keep int) error
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]storage.Message, error)
	DeleteMessagesBefore(ctx context.Context, cutoff time.Time, limit int) (int, error)
	DeleteConversation(ctx context.Context, conversationID string) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Message is a single conversation turn.
type Message struct {
	Role      string
	Text      string
	Timestamp time.Time
}

// Options configures a Store. Zero values select the defaults.
type Options struct {
	Window     int
	PurgeBatch int
	Clock      Clock
}

// Store keeps a bounded, durable message window per conversation.
//
// Appends for the same conversation are serialised by a per-key lock and the
// insert plus eviction run in one transaction, so no reader ever sees more
// than Window messages. Purge takes no per-key locks.
type Store struct {
	db         MessageStore
	window     int
	purgeBatch int
	clock      Clock

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a Store over db.
func New(db MessageStore, opts Options) *Store {
	s := &Store{
		db:         db,
		window:     opts.Window,
		purgeBatch: opts.PurgeBatch,
		clock:      opts.Clock,
		locks:      make(map[string]*keyLock),
	}
	if s.window <= 0 {
		s.window = DefaultWindow
	}
	if s.purgeBatch <= 0 {
		s.purgeBatch = DefaultPurgeBatch
	}
	if s.clock == nil {
		s.clock = realClock{}
	}
	return s
}

// Size returns the configured window size.
func (s *Store) Size() int { return s.window }

// Append adds msgs to a conversation, evicting the oldest entries beyond the
// window. Messages without a timestamp are stamped with the store clock.
func (s *Store) Append(ctx context.Context, conversationID string, msgs ...Message) error {
	if conversationID == "" {
		return fmt.Errorf("conversation id is required")
	}
	if len(msgs) == 0 {
		return nil
	}

	rows := make([]storage.Message, len(msgs))
	now := s.clock.Now()
	for i, m := range msgs {
		ts := m.Timestamp
		if ts.IsZero() {
			ts = now
		}
		rows[i] = storage.Message{ConversationID: conversationID, Role: m.Role, Content: m.Text, CreatedAt: ts}
	}

	unlock := s.lock(conversationID)
	defer unlock()

	if err := s.db.AppendMessages(ctx, conversationID, rows, s.window); err != nil {
		return fmt.Errorf("appending to conversation %s: %w", conversationID, err)
	}
	return nil
}

// Window returns the most recent window of messages for a conversation in
// chronological order. An unknown conversation yields an empty slice.
func (s *Store) Window(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.RecentMessages(ctx, conversationID, s.window)
	if err != nil {
		return nil, fmt.Errorf("reading conversation %s: %w", conversationID, err)
	}
	out := make([]Message, len(rows))
	for i, r := range rows {
		out[i] = Message{Role: r.Role, Text: r.Content, Timestamp: r.CreatedAt}
	}
	return out, nil
}

// Clear deletes a conversation. Returns storage.ErrNotFound when it holds no
// messages.
func (s *Store) Clear(ctx context.Context, conversationID string) error {
	unlock := s.lock(conversationID)
	defer unlock()
	return s.db.DeleteConversation(ctx, conversationID)
}

// PurgeOlderThan removes every message whose timestamp is older than
// now - age, in bounded batches, and returns the number removed. Running it
// twice is harmless.
func (s *Store) PurgeOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := s.clock.Now().Add(-age)
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := s.db.DeleteMessagesBefore(ctx, cutoff, s.purgeBatch)
		total += n
		if err != nil {
			return total, err
		}
		if n < s.purgeBatch {
			break
		}
	}
	slog.Debug("memory purge finished", "cutoff", cutoff.Format(time.RFC3339), "removed", total)
	return total, nil
}

// lock acquires the per-conversation mutex and returns its release func.
// Entries are reference counted so idle conversations do not accumulate.
func (s *Store) lock(key string) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}
