package refresh

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/balancewatch/internal/config"
	"github.com/mrz1836/balancewatch/internal/store"
	bwerr "github.com/mrz1836/balancewatch/pkg/errors"
)

// persistedAt decodes what the harness store currently holds.
func persistedAt(t *testing.T, s StateStore) map[string]Persisted {
	t.Helper()
	data, ok, err := s.Get(context.Background(), config.DefaultStateKey)
	require.NoError(t, err)
	if !ok {
		return nil
	}
	out, err := decodeState(data, config.NullLogger())
	require.NoError(t, err)
	return out
}

func TestStateSurvivesRestart(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testProvider("acme"))

	h.c.RequestRefresh("acme", ReasonAuto)
	h.nextCall().succeed(amountSnapshot(12.5, epoch))
	h.settle("acme")

	h.clock.Advance(20 * time.Second)
	h.c.NotifyRequestFinished("acme", OutcomeError)
	h.nextCall().fail("upstream 502")
	h.settle("acme")

	h.clock.Advance(time.Second)
	h.c.NotifyRequestFinished("acme", OutcomeSuccess)
	want := h.state("acme")
	require.True(t, want.PendingTrailing)

	require.Eventually(t, func() bool {
		_ = h.c.Flush(context.Background())
		p, ok := persistedAt(t, h.store)["acme"]
		return ok && p.LastError == "upstream 502"
	}, 2*time.Second, time.Millisecond)

	h.c.Close()

	restarted := h.coordinator()
	t.Cleanup(restarted.Close)
	require.NoError(t, restarted.Start(context.Background()))
	h.noCall()

	got, ok := restarted.ProviderState("acme")
	require.True(t, ok)
	assert.Equal(t, want.Snapshot, got.Snapshot)
	assert.Equal(t, want.LastError, got.LastError)
	assert.True(t, want.LastAttemptAt.Equal(got.LastAttemptAt))
	assert.True(t, want.LastRefreshAt.Equal(got.LastRefreshAt))
	assert.False(t, got.IsRefreshing)
	assert.False(t, got.PendingTrailing)
	assert.True(t, got.LastRequestEndAt.IsZero())
}

// TestForceRefreshQueuesWriteBeforeReturning runs the one-shot sequence
// used by the refresh command: force, flush, close. A slow listener widens
// the window between the result landing and the write being queued.
func TestForceRefreshQueuesWriteBeforeReturning(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testProvider("acme"))
	h.c.Subscribe(func(name string) {
		if st, ok := h.c.ProviderState(name); ok && !st.IsRefreshing {
			time.Sleep(50 * time.Millisecond)
		}
	})

	done := make(chan bool, 1)
	go func() { done <- h.c.ForceRefresh(context.Background(), "acme") }()
	h.nextCall().succeed(amountSnapshot(99, epoch))
	require.True(t, <-done)

	require.NoError(t, h.c.Flush(context.Background()))
	h.c.Close()

	p, ok := persistedAt(t, h.store)["acme"]
	require.True(t, ok)
	require.NotNil(t, p.Snapshot)
	assert.InDelta(t, 99, p.Snapshot.Items[0].Amount.Value, 0)
	assert.False(t, p.LastRefreshAt.IsZero())
	assert.Empty(t, p.LastError)
}

func TestRestartDuringRefreshStartsIdle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testProvider("acme"))

	h.c.RequestRefresh("acme", ReasonAuto)
	pc := h.nextCall()
	require.Eventually(t, func() bool {
		_ = h.c.Flush(context.Background())
		_, ok := persistedAt(t, h.store)["acme"]
		return ok
	}, 2*time.Second, time.Millisecond)
	h.c.Close()
	pc.fail("late")

	restarted := h.coordinator()
	t.Cleanup(restarted.Close)
	require.NoError(t, restarted.Start(context.Background()))

	got, ok := restarted.ProviderState("acme")
	require.True(t, ok)
	assert.False(t, got.IsRefreshing)
	assert.Equal(t, epoch, got.LastAttemptAt)
	h.noCall()
}

func TestRestartInvalidatesReconfiguredProviders(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testProvider("acme"))
	require.NoError(t, h.c.Start(context.Background()))

	h.nextCall().succeed(amountSnapshot(1, epoch))
	h.settle("acme")
	require.Eventually(t, func() bool {
		_ = h.c.Flush(context.Background())
		p := persistedAt(t, h.store)["acme"]
		return p.Snapshot != nil && p.Signature != ""
	}, 2*time.Second, time.Millisecond)
	h.c.Close()

	replaceProviders(h, func(cfg *config.Config) {
		cfg.Providers[0].BaseURL = "https://elsewhere.example.com"
	})

	restarted := h.coordinator()
	t.Cleanup(func() {
		restarted.Close()
		restarted.wg.Wait()
	})
	require.NoError(t, restarted.Start(context.Background()))

	pc := h.nextCall()
	assert.Equal(t, "https://elsewhere.example.com", pc.in.Provider.BaseURL)
	got, ok := restarted.ProviderState("acme")
	require.True(t, ok)
	assert.Nil(t, got.Snapshot)
	pc.fail("stop")
}

func TestDecodeStateSkipsMalformedEntries(t *testing.T) {
	t.Parallel()

	blob := `{
		"version": 1,
		"providers": {
			"bad": 5,
			"partial": {
				"snapshot": {"items": [{"kind": "bogus", "id": "x", "label": "X"}]},
				"lastError": "kept",
				"lastAttemptAt": "not a time",
				"lastRefreshAt": "2026-01-02T03:04:05Z"
			},
			"good": {
				"snapshot": {"items": [{"kind": "amount", "id": "r", "label": "R", "amount": {"value": 1, "currency": "USD", "direction": "remaining"}}], "updatedAt": "2026-01-02T03:04:05Z"},
				"lastAttemptAt": "2026-01-02T03:04:05Z"
			}
		}
	}`

	out, err := decodeState([]byte(blob), config.NullLogger())
	require.NoError(t, err)
	require.Len(t, out, 2)

	partial := out["partial"]
	assert.Nil(t, partial.Snapshot)
	assert.Equal(t, "kept", partial.LastError)
	assert.True(t, partial.LastAttemptAt.IsZero())
	assert.True(t, epoch.Equal(partial.LastRefreshAt))

	good := out["good"]
	require.NotNil(t, good.Snapshot)
	assert.Len(t, good.Snapshot.Items, 1)
	assert.True(t, epoch.Equal(good.LastAttemptAt))
}

func TestDecodeStateRejectsUnreadableBlobs(t *testing.T) {
	t.Parallel()

	for name, blob := range map[string]string{
		"not json":      "{{{",
		"wrong version": `{"version": 7, "providers": {}}`,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			out, err := decodeState([]byte(blob), config.NullLogger())
			require.Error(t, err)
			assert.ErrorIs(t, err, bwerr.ErrCorruptState)
			assert.Empty(t, out)
		})
	}
}

func TestStartSurvivesCorruptState(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testProvider("acme"))
	require.NoError(t, h.store.Set(context.Background(), config.DefaultStateKey, []byte("garbage")))

	require.NoError(t, h.c.Start(context.Background()))
	h.nextCall().succeed(amountSnapshot(1, epoch))
	h.settle("acme")
}

// flakyStore fails every write until healed.
type flakyStore struct {
	*store.Memory

	mu     sync.Mutex
	broken bool
	writes int
	block  chan struct{}
}

func (s *flakyStore) Set(ctx context.Context, key string, value []byte) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	s.writes++
	broken := s.broken
	s.mu.Unlock()
	if broken {
		return bwerr.ErrStorage
	}
	return s.Memory.Set(ctx, key, value)
}

func (s *flakyStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func TestGatewaySwallowsWriteFailures(t *testing.T) {
	t.Parallel()

	fs := &flakyStore{Memory: store.NewMemory(), broken: true}
	m := newFakeMetrics()
	state := map[string]Persisted{"acme": {LastError: "x"}}
	g := NewGateway(fs, "k", config.NullLogger(), m, func() map[string]Persisted { return state })

	g.Queue()
	require.NoError(t, g.Flush(context.Background()))
	assert.Equal(t, 1, fs.count())
	m.mu.Lock()
	assert.Equal(t, 1, m.persist)
	m.mu.Unlock()

	fs.mu.Lock()
	fs.broken = false
	fs.mu.Unlock()
	g.Queue()
	require.NoError(t, g.Flush(context.Background()))

	data, ok, err := fs.Get(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, ok)
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, persistVersion, env.Version)
	assert.Equal(t, "x", env.Providers["acme"].LastError)
}

func TestGatewayCoalescesQueuedWrites(t *testing.T) {
	t.Parallel()

	fs := &flakyStore{Memory: store.NewMemory(), block: make(chan struct{})}
	g := NewGateway(fs, "k", config.NullLogger(), nil, func() map[string]Persisted { return nil })

	g.Queue()
	for range 10 {
		g.Queue()
	}
	close(fs.block)
	require.NoError(t, g.Flush(context.Background()))
	assert.LessOrEqual(t, fs.count(), 2)
	assert.GreaterOrEqual(t, fs.count(), 1)

	g.Close()
	g.Queue()
	require.NoError(t, g.Flush(context.Background()))
	assert.LessOrEqual(t, fs.count(), 2)
}

func TestGatewayWithoutStore(t *testing.T) {
	t.Parallel()

	g := NewGateway(nil, "k", config.NullLogger(), nil, func() map[string]Persisted { return nil })
	g.Queue()
	require.NoError(t, g.Flush(context.Background()))

	out, err := g.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out)
}
