package refresh

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mrz1836/balancewatch/internal/auth"
	"github.com/mrz1836/balancewatch/internal/balance"
	"github.com/mrz1836/balancewatch/internal/config"
	"github.com/mrz1836/balancewatch/internal/store"
	bwerr "github.com/mrz1836/balancewatch/pkg/errors"
)

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// fakeClock only moves when Advance is called. Due timers fire on the
// caller's goroutine, in order, with the clock set to their due time.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock *fakeClock
	at    time.Time
	fn    func()
	done  bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: epoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.done
	t.done = true
	return active
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.done || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.done = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()

		next.fn()
	}
}

// pending counts timers that have not fired or been stopped.
func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.done {
			n++
		}
	}
	return n
}

// pendingCall is one adapter invocation waiting for the test to answer.
type pendingCall struct {
	in    balance.RefreshInput
	reply chan fakeReply
}

type fakeReply struct {
	result balance.RefreshResult
	err    error
	panic  any
}

func (p *pendingCall) succeed(s *balance.Snapshot) {
	p.reply <- fakeReply{result: balance.Succeeded(s)}
}

func (p *pendingCall) fail(msg string) {
	p.reply <- fakeReply{result: balance.Failed(msg)}
}

// blockingAdapter hands every call to the test and blocks until answered.
type blockingAdapter struct {
	calls    chan *pendingCall
	disposed chan struct{}
}

func (a *blockingAdapter) Refresh(ctx context.Context, in balance.RefreshInput) (balance.RefreshResult, error) {
	pc := &pendingCall{in: in, reply: make(chan fakeReply, 1)}
	a.calls <- pc
	select {
	case r := <-pc.reply:
		if r.panic != nil {
			panic(r.panic)
		}
		return r.result, r.err
	case <-ctx.Done():
		return balance.RefreshResult{}, ctx.Err()
	}
}

func (a *blockingAdapter) Dispose() {
	select {
	case a.disposed <- struct{}{}:
	default:
	}
}

func (a *blockingAdapter) FieldDetail(p config.ProviderConfig) string {
	return "fake balance for " + p.Name
}

type fakeFactory struct {
	adapter     *blockingAdapter
	unsupported map[string]bool
}

func (f *fakeFactory) New(p config.ProviderConfig) (balance.Adapter, error) {
	if !f.IsSupported(p.BalanceMethod()) {
		return nil, bwerr.ErrBalanceUnavailable
	}
	return f.adapter, nil
}

func (f *fakeFactory) IsSupported(method string) bool {
	return !f.unsupported[method]
}

type fakeMetrics struct {
	mu        sync.Mutex
	throttled map[string]int
	low       map[string]bool
	persist   int
	results   map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{throttled: map[string]int{}, low: map[string]bool{}, results: map[string]int{}}
}

func (m *fakeMetrics) RefreshStarted(string) {}

func (m *fakeMetrics) RefreshFinished(_, result string, _ time.Duration) {
	m.mu.Lock()
	m.results[result]++
	m.mu.Unlock()
}

func (m *fakeMetrics) Throttled(_, action string) {
	m.mu.Lock()
	m.throttled[action]++
	m.mu.Unlock()
}

func (m *fakeMetrics) SetLow(provider string, low bool) {
	m.mu.Lock()
	m.low[provider] = low
	m.mu.Unlock()
}

func (m *fakeMetrics) Forget(provider string) {
	m.mu.Lock()
	delete(m.low, provider)
	m.mu.Unlock()
}

func (m *fakeMetrics) PersistFailed() {
	m.mu.Lock()
	m.persist++
	m.mu.Unlock()
}

func (m *fakeMetrics) count(action string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.throttled[action]
}

// harness wires a coordinator to fakes.
type harness struct {
	t       *testing.T
	clock   *fakeClock
	adapter *blockingAdapter
	factory *fakeFactory
	cfg     *config.Store
	store   *store.Memory
	metrics *fakeMetrics
	c       *Coordinator

	mu      sync.Mutex
	changes []string
}

func testProvider(name string) config.ProviderConfig {
	return config.ProviderConfig{
		Name:    name,
		Type:    "openai",
		BaseURL: "https://" + name + ".example.com/v1",
		Auth:    config.AuthConfig{Method: "none"},
		Balance: &config.BalanceConfig{Method: "fake"},
	}
}

func newHarness(t *testing.T, providers ...config.ProviderConfig) *harness {
	t.Helper()

	cfg := config.Defaults()
	cfg.Refresh.Interval = time.Minute
	cfg.Refresh.ThrottleWindow = 10 * time.Second
	cfg.Providers = providers

	h := &harness{
		t:       t,
		clock:   newFakeClock(),
		adapter: &blockingAdapter{calls: make(chan *pendingCall, 32), disposed: make(chan struct{}, 32)},
		cfg:     config.NewStore(cfg, "", nil),
		store:   store.NewMemory(),
		metrics: newFakeMetrics(),
	}
	h.factory = &fakeFactory{adapter: h.adapter, unsupported: map[string]bool{}}
	h.c = h.coordinator()
	h.c.Subscribe(func(name string) {
		h.mu.Lock()
		h.changes = append(h.changes, name)
		h.mu.Unlock()
	})

	t.Cleanup(func() {
		h.c.Close()
		h.drain()
	})
	return h
}

func (h *harness) coordinator() *Coordinator {
	h.t.Helper()
	c, err := New(Options{
		Config:      h.cfg,
		Factory:     h.factory,
		Credentials: auth.NewResolver(),
		Store:       h.store,
		Metrics:     h.metrics,
		Clock:       h.clock,
	})
	require.NoError(h.t, err)
	return c
}

// drain answers any outstanding adapter calls so run goroutines exit.
func (h *harness) drain() {
	done := make(chan struct{})
	go func() {
		h.c.wg.Wait()
		close(done)
	}()
	for {
		select {
		case pc := <-h.adapter.calls:
			pc.fail("test finished")
		case <-done:
			return
		case <-time.After(2 * time.Second):
			h.t.Error("refresh goroutines did not exit")
			return
		}
	}
}

func (h *harness) nextCall() *pendingCall {
	h.t.Helper()
	select {
	case pc := <-h.adapter.calls:
		return pc
	case <-time.After(2 * time.Second):
		h.t.Fatal("expected an adapter call")
		return nil
	}
}

func (h *harness) noCall() {
	h.t.Helper()
	select {
	case pc := <-h.adapter.calls:
		h.t.Fatalf("unexpected adapter call for %s", pc.in.Provider.Name)
	case <-time.After(50 * time.Millisecond):
	}
}

// settle waits until name has no refresh running.
func (h *harness) settle(name string) State {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		st, ok := h.c.ProviderState(name)
		return ok && !st.IsRefreshing
	}, 2*time.Second, time.Millisecond)
	st, _ := h.c.ProviderState(name)
	return st
}

func (h *harness) state(name string) State {
	h.t.Helper()
	st, ok := h.c.ProviderState(name)
	require.True(h.t, ok, "no state for %s", name)
	return st
}

func (h *harness) changed() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := append([]string(nil), h.changes...)
	sort.Strings(out)
	return out
}

func amountSnapshot(value float64, at time.Time) *balance.Snapshot {
	return &balance.Snapshot{
		Items: []balance.Metric{
			balance.NewAmount("remaining", "Remaining", value, "USD", balance.Remaining).AsPrimary(),
		},
		UpdatedAt: at,
	}
}
