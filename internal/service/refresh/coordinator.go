// Package refresh coordinates balance refreshes across providers: when to
// call each vendor adapter, at most one call per provider at a time,
// trailing-edge coalescing of throttled triggers, persistence across
// restarts and reconciliation when provider configuration changes.
package refresh

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mrz1836/balancewatch/internal/balance"
	"github.com/mrz1836/balancewatch/internal/config"
	bwerr "github.com/mrz1836/balancewatch/pkg/errors"
)

// Options configures a Coordinator.
type Options struct {
	Config      ConfigStore
	Factory     balance.Factory
	Credentials CredentialResolver
	Store       StateStore
	StateKey    string
	Logger      Logger
	Metrics     Metrics
	Clock       Clock
}

// Coordinator owns all provider refresh state. Construct one per process
// with New and share it.
type Coordinator struct {
	cfg     ConfigStore
	factory balance.Factory
	creds   CredentialResolver
	log     Logger
	metrics Metrics
	clock   Clock
	gateway *Gateway

	ctx    context.Context //nolint:containedctx // cancels adapter calls on Close
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	states        map[string]*providerState
	signatures    map[string]string
	inflight      map[string]*flight
	trailing      map[string]trailingTimer
	trailingSeq   uint64
	periodic      Timer
	periodicEvery time.Duration
	periodicSeq   uint64
	listeners     map[int]func(string)
	nextListener  int
	unsubscribe   func()
	started       bool
	closed        bool
}

// New creates a coordinator. Config, Factory and Credentials are required.
func New(opts Options) (*Coordinator, error) {
	if opts.Config == nil || opts.Factory == nil || opts.Credentials == nil {
		return nil, bwerr.WithDetails(bwerr.ErrInvalidInput, map[string]string{
			"reason": "config store, adapter factory and credential resolver are required",
		})
	}

	c := &Coordinator{
		cfg:        opts.Config,
		factory:    opts.Factory,
		creds:      opts.Credentials,
		log:        opts.Logger,
		metrics:    opts.Metrics,
		clock:      opts.Clock,
		states:     make(map[string]*providerState),
		signatures: make(map[string]string),
		inflight:   make(map[string]*flight),
		trailing:   make(map[string]trailingTimer),
		listeners:  make(map[int]func(string)),
	}
	if c.log == nil {
		c.log = config.NullLogger()
	}
	if c.metrics == nil {
		c.metrics = nopMetrics{}
	}
	if c.clock == nil {
		c.clock = SystemClock()
	}
	key := opts.StateKey
	if key == "" {
		key = config.DefaultStateKey
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.gateway = NewGateway(opts.Store, key, c.log, c.metrics, c.persisted)
	return c, nil
}

// Start restores persisted state, runs the first reconciliation, starts the
// periodic timer and subscribes to configuration changes.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return bwerr.WithDetails(bwerr.ErrGeneral, map[string]string{"reason": "coordinator is closed"})
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	restored, err := c.gateway.Load(ctx)
	if err != nil {
		c.log.Error("loading persisted balance state: %v", err)
	}
	c.restore(restored)

	unsubscribe := c.cfg.OnDidChange(c.Reconcile)
	c.mu.Lock()
	c.unsubscribe = unsubscribe
	c.mu.Unlock()

	c.Reconcile()
	return nil
}

func (c *Coordinator) restore(restored map[string]Persisted) {
	thresholds := c.thresholds()

	c.mu.Lock()
	defer c.mu.Unlock()

	for name, p := range restored {
		st := &providerState{
			snapshot:      p.Snapshot,
			lastError:     p.LastError,
			lastAttemptAt: p.LastAttemptAt,
			lastRefreshAt: p.LastRefreshAt,
		}
		st.low = st.snapshot.IsLow(thresholds)
		c.states[name] = st
		if p.Signature != "" {
			c.signatures[name] = p.Signature
		}
		c.metrics.SetLow(name, st.low)
	}
	if len(restored) > 0 {
		c.log.Debug("restored balance state for %d providers", len(restored))
	}
}

// Close stops all timers and forgets in-flight bookkeeping without waiting
// for outstanding adapter calls. Results arriving afterwards are discarded.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for name, t := range c.trailing {
		t.timer.Stop()
		delete(c.trailing, name)
	}
	if c.periodic != nil {
		c.periodic.Stop()
		c.periodic = nil
	}
	c.inflight = make(map[string]*flight)
	c.listeners = make(map[int]func(string))
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	c.gateway.Close()
	c.cancel()
}

// Flush waits for queued persistence writes.
func (c *Coordinator) Flush(ctx context.Context) error {
	return c.gateway.Flush(ctx)
}

// Subscribe registers fn to receive the name of every provider whose state
// changed. The returned function unregisters it.
func (c *Coordinator) Subscribe(fn func(provider string)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return func() {}
	}
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// NotifyRequestFinished is called after a chat request to provider ends.
// Cancelled requests are ignored; anything else schedules a refresh with
// trailing allowed.
func (c *Coordinator) NotifyRequestFinished(provider string, outcome Outcome) {
	if outcome == OutcomeCancelled {
		return
	}
	c.trigger(provider, true)
}

// RequestRefresh asks for a refresh. ReasonManual bypasses the throttle;
// any other reason is dropped when throttled.
func (c *Coordinator) RequestRefresh(provider string, reason Reason) {
	if reason == ReasonManual {
		c.forceStart(provider)
		return
	}
	c.trigger(provider, false)
}

// ForceRefresh bypasses the throttle window and waits for the refresh to
// complete. If a refresh is already in flight it waits for that one instead
// of starting another. Returns false when the provider has no balance source.
func (c *Coordinator) ForceRefresh(ctx context.Context, provider string) bool {
	fl, ok := c.forceStart(provider)
	if !ok {
		return false
	}
	select {
	case <-fl.done:
	case <-ctx.Done():
	}
	return true
}

// ForceRefreshAll force-refreshes every provider with a balance source in
// parallel and returns how many were refreshed.
func (c *Coordinator) ForceRefreshAll(ctx context.Context) int {
	names := c.activeNames()

	var (
		mu    sync.Mutex
		count int
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			if c.ForceRefresh(gctx, name) {
				mu.Lock()
				count++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return count
}

// ProviderState returns a copy of provider's refresh state.
func (c *Coordinator) ProviderState(provider string) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.states[provider]
	if !ok {
		return State{}, false
	}
	return st.view(provider), true
}

// States returns the state of every provider with a balance source, sorted
// by name. Providers not refreshed yet have an empty state.
func (c *Coordinator) States() []State {
	names := c.activeNames()

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]State, 0, len(names))
	for _, name := range names {
		if st, ok := c.states[name]; ok {
			out = append(out, st.view(name))
			continue
		}
		out = append(out, State{Provider: name})
	}
	return out
}

// ProviderFieldDetail returns the adapter's description of provider.
func (c *Coordinator) ProviderFieldDetail(provider string) (string, bool) {
	p, adapter, ok := c.adapterFor(provider)
	if !ok {
		return "", false
	}
	defer balance.Dispose(adapter)

	fd, ok := adapter.(balance.FieldDetailer)
	if !ok {
		return "", false
	}
	return fd.FieldDetail(p), true
}

// ProviderStatusViewItems projects provider's snapshot into display rows,
// using the adapter's own view when it has one.
func (c *Coordinator) ProviderStatusViewItems(provider string) []balance.StatusItem {
	c.mu.Lock()
	var snap *balance.Snapshot
	if st, ok := c.states[provider]; ok {
		snap = st.snapshot.Clone()
	}
	c.mu.Unlock()
	if snap == nil {
		return nil
	}

	_, adapter, ok := c.adapterFor(provider)
	if !ok {
		return balance.DefaultStatusItems(snap)
	}
	defer balance.Dispose(adapter)

	if sv, ok := adapter.(balance.StatusViewer); ok {
		return sv.StatusViewItems(snap)
	}
	return balance.DefaultStatusItems(snap)
}

func (c *Coordinator) adapterFor(provider string) (config.ProviderConfig, balance.Adapter, bool) {
	p, ok := c.cfg.GetProvider(provider)
	if !ok || !p.HasBalance() {
		return p, nil, false
	}
	adapter, err := c.factory.New(p)
	if err != nil {
		return p, nil, false
	}
	return p, adapter, true
}

func (c *Coordinator) activeNames() []string {
	var names []string
	for _, p := range c.cfg.Endpoints() {
		if p.HasBalance() {
			names = append(names, p.Name)
		}
	}
	sort.Strings(names)
	return names
}

func (c *Coordinator) thresholds() balance.Thresholds {
	w := c.cfg.Warnings()
	return balance.Thresholds{AmountBelow: w.AmountBelow, TokensBelow: w.TokensBelow, PercentBelow: w.PercentBelow}
}

// effects are collected under the lock and applied after it is released.
type effects struct {
	notify   []string
	persist  bool
	launches []launch
}

type launch struct {
	name string
	st   *providerState
	fl   *flight
}

func (e *effects) changed(name string) {
	e.notify = append(e.notify, name)
	e.persist = true
}

func (c *Coordinator) apply(e effects) {
	for _, name := range e.notify {
		c.emit(name)
	}
	if e.persist {
		c.gateway.Queue()
	}
	for _, l := range e.launches {
		go c.run(l.name, l.st, l.fl)
	}
}

func (c *Coordinator) emit(name string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(string), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.listeners[id])
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(name)
	}
}

// persisted collects the durable subset of every provider's state.
func (c *Coordinator) persisted() map[string]Persisted {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]Persisted, len(c.states))
	for name, st := range c.states {
		out[name] = Persisted{
			Snapshot:      st.snapshot,
			LastError:     st.lastError,
			LastAttemptAt: st.lastAttemptAt,
			LastRefreshAt: st.lastRefreshAt,
			Signature:     c.signatures[name],
		}
	}
	return out
}
