package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/pcrsearch/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, cfg config.SessionConfig) (*MemoryStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = config.Duration(time.Hour)
	}
	s := NewMemoryStore(cfg, nil, WithClock(clock.Now))
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func TestMemoryStore_AppendGet(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t, config.SessionConfig{})

	_, err := s.Get(ctx, "abc")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Append(ctx, "abc", Message{Role: RoleUser, Content: "hi"}))
	require.NoError(t, s.Append(ctx, "abc", Message{Role: RoleAssistant, Content: "hello"}))

	msgs, err := s.Get(ctx, "abc")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.Equal(t, clock.Now(), msgs[0].Time)

	// Returned slice is a copy.
	msgs[0].Content = "mutated"
	again, _ := s.Get(ctx, "abc")
	assert.Equal(t, "hi", again[0].Content)
}

func TestMemoryStore_SlidingTTL(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t, config.SessionConfig{TTL: config.Duration(10 * time.Minute)})

	require.NoError(t, s.Append(ctx, "a", Message{Role: RoleUser, Content: "1"}))
	clock.Advance(8 * time.Minute)
	_, err := s.Get(ctx, "a")
	require.NoError(t, err)

	// Get refreshed the expiry.
	clock.Advance(8 * time.Minute)
	_, err = s.Get(ctx, "a")
	require.NoError(t, err)

	clock.Advance(11 * time.Minute)
	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	// Appending to an expired session starts fresh.
	require.NoError(t, s.Append(ctx, "a", Message{Role: RoleUser, Content: "new"}))
	msgs, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "new", msgs[0].Content)
}

func TestMemoryStore_Cap(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, config.SessionConfig{MaxMessages: 3})

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, "a", Message{Role: RoleUser, Content: fmt.Sprint(i)}))
	}
	msgs, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "2", msgs[0].Content)
	assert.Equal(t, "4", msgs[2].Content)
}

func TestMemoryStore_EvictAndCleanup(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t, config.SessionConfig{TTL: config.Duration(time.Minute)})

	require.NoError(t, s.Append(ctx, "a", Message{Content: "x"}))
	require.NoError(t, s.Append(ctx, "b", Message{Content: "y"}))
	require.NoError(t, s.Evict(ctx, "a"))
	require.NoError(t, s.Evict(ctx, "unknown"))
	assert.Equal(t, 1, s.Len())

	clock.Advance(2 * time.Minute)
	require.NoError(t, s.Append(ctx, "c", Message{Content: "z"}))
	assert.Equal(t, 1, s.Cleanup())
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_BackgroundCleanup(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Now()}
	s := NewMemoryStore(config.SessionConfig{
		TTL:             config.Duration(time.Minute),
		CleanupInterval: config.Duration(5 * time.Millisecond),
	}, nil, WithClock(clock.Now))
	defer s.Close()

	require.NoError(t, s.Append(ctx, "a", Message{Content: "x"}))
	clock.Advance(2 * time.Minute)
	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestMemoryStore_Close(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, config.SessionConfig{})
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Append(ctx, "a", Message{}), ErrClosed)
	assert.ErrorIs(t, s.Evict(ctx, "a"), ErrClosed)
}

func TestMemoryStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, config.SessionConfig{MaxMessages: 1000})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := fmt.Sprintf("s%d", i%4)
				_ = s.Append(ctx, id, Message{Role: RoleUser, Content: fmt.Sprint(w, i)})
				_, _ = s.Get(ctx, id)
			}
		}(w)
	}
	wg.Wait()

	total := 0
	for i := 0; i < 4; i++ {
		msgs, err := s.Get(ctx, fmt.Sprintf("s%d", i))
		require.NoError(t, err)
		total += len(msgs)
	}
	assert.Equal(t, 400, total)
}
