package session

import (
	"context"
	"sync"
	"time"

	"github.com/fyrsmithlabs/pcrsearch/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Defaults for MemoryStore.
const (
	DefaultTTL             = 30 * time.Minute
	DefaultCleanupInterval = 5 * time.Minute
	DefaultMaxMessages     = 200
)

// ActiveSessions is the number of live sessions after the last cleanup.
var ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "pcrd",
	Subsystem: "session",
	Name:      "active",
	Help:      "Number of live chat sessions",
})

type entry struct {
	messages   []Message
	lastAccess time.Time
}

// MemoryStore is an in-process Store with a sliding TTL. Every Get or
// Append refreshes the session's expiry. A background goroutine removes
// expired sessions until Close.
type MemoryStore struct {
	ttl         time.Duration
	maxMessages int
	logger      *zap.Logger
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
	closed   bool

	stopCh    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore starts a store configured by cfg; zero fields take defaults.
func NewMemoryStore(cfg config.SessionConfig, logger *zap.Logger, opts ...Option) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MemoryStore{
		ttl:         cfg.TTL.Duration(),
		maxMessages: cfg.MaxMessages,
		logger:      logger,
		now:         time.Now,
		sessions:    make(map[string]*entry),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	if s.maxMessages <= 0 {
		s.maxMessages = DefaultMaxMessages
	}
	for _, opt := range opts {
		opt(s)
	}

	interval := cfg.CleanupInterval.Duration()
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	go s.run(interval)
	return s
}

func (s *MemoryStore) run(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if n := s.Cleanup(); n > 0 {
				s.logger.Debug("expired sessions removed", zap.Int("count", n))
			}
		}
	}
}

func (s *MemoryStore) expired(e *entry, now time.Time) bool {
	return now.Sub(e.lastAccess) > s.ttl
}

// Get returns the session's messages.
func (s *MemoryStore) Get(_ context.Context, id string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	now := s.now()
	e, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.expired(e, now) {
		delete(s.sessions, id)
		return nil, ErrNotFound
	}
	e.lastAccess = now
	out := make([]Message, len(e.messages))
	copy(out, e.messages)
	return out, nil
}

// Append adds msgs, stamping zero times and dropping the oldest messages
// beyond the cap.
func (s *MemoryStore) Append(_ context.Context, id string, msgs ...Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	now := s.now()
	e, ok := s.sessions[id]
	if !ok || s.expired(e, now) {
		e = &entry{}
		s.sessions[id] = e
	}
	for _, m := range msgs {
		if m.Time.IsZero() {
			m.Time = now
		}
		e.messages = append(e.messages, m)
	}
	if over := len(e.messages) - s.maxMessages; over > 0 {
		e.messages = append([]Message(nil), e.messages[over:]...)
	}
	e.lastAccess = now
	return nil
}

// Evict removes the session.
func (s *MemoryStore) Evict(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.sessions, id)
	return nil
}

// Cleanup removes expired sessions and returns how many were removed.
func (s *MemoryStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, e := range s.sessions {
		if s.expired(e, now) {
			delete(s.sessions, id)
			removed++
		}
	}
	ActiveSessions.Set(float64(len(s.sessions)))
	return removed
}

// Len returns the number of stored sessions, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close stops the cleanup goroutine and drops all sessions. It is safe to
// call more than once.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		<-s.done
		s.mu.Lock()
		s.closed = true
		s.sessions = nil
		s.mu.Unlock()
	})
	return nil
}

var _ Store = (*MemoryStore)(nil)
