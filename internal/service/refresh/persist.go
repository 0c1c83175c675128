package refresh

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mrz1836/balancewatch/internal/balance"
	bwerr "github.com/mrz1836/balancewatch/pkg/errors"
)

const (
	// persistVersion is the envelope version written by this build.
	persistVersion = 1

	persistTimeout = 10 * time.Second
)

// Persisted is the durable subset of a provider's state. Runtime flags such
// as IsRefreshing and PendingTrailing are never written.
type Persisted struct {
	Snapshot      *balance.Snapshot `json:"snapshot,omitempty"`
	LastError     string            `json:"lastError,omitempty"`
	LastAttemptAt time.Time         `json:"lastAttemptAt,omitzero"`
	LastRefreshAt time.Time         `json:"lastRefreshAt,omitzero"`
	Signature     string            `json:"signature,omitempty"`
}

type envelope struct {
	Version   int                  `json:"version"`
	Providers map[string]Persisted `json:"providers"`
}

// Gateway writes refresh state to a StateStore one write at a time.
// Queue coalesces: any number of calls while a write is running result in
// a single follow-up write of the latest state.
type Gateway struct {
	store   StateStore
	key     string
	log     Logger
	metrics Metrics
	collect func() map[string]Persisted

	mu      sync.Mutex
	dirty   bool
	running bool
	idle    chan struct{}
	closed  bool
}

// NewGateway creates a gateway writing under key. collect is called for
// every write and must return the current state.
func NewGateway(store StateStore, key string, log Logger, m Metrics, collect func() map[string]Persisted) *Gateway {
	if m == nil {
		m = nopMetrics{}
	}
	return &Gateway{store: store, key: key, log: log, metrics: m, collect: collect}
}

// Queue schedules a write of the current state. Failures are logged and
// counted, never returned.
func (g *Gateway) Queue() {
	g.mu.Lock()
	if g.closed || g.store == nil {
		g.mu.Unlock()
		return
	}
	g.dirty = true
	if g.running {
		g.mu.Unlock()
		return
	}
	g.running = true
	g.idle = make(chan struct{})
	g.mu.Unlock()

	go g.drain()
}

func (g *Gateway) drain() {
	for {
		g.mu.Lock()
		if !g.dirty {
			g.running = false
			close(g.idle)
			g.mu.Unlock()
			return
		}
		g.dirty = false
		g.mu.Unlock()

		if err := g.write(); err != nil {
			g.log.Error("persisting balance refresh state: %v", err)
			g.metrics.PersistFailed()
		}
	}
}

func (g *Gateway) write() error {
	data, err := json.Marshal(envelope{Version: persistVersion, Providers: g.collect()})
	if err != nil {
		return bwerr.Wrap(err, "encoding refresh state")
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	return g.store.Set(ctx, g.key, data)
}

// Flush waits until every queued write has been attempted.
func (g *Gateway) Flush(ctx context.Context) error {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return nil
	}
	idle := g.idle
	g.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close turns Queue into a no-op. A write already running completes.
func (g *Gateway) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

// Load reads persisted state. Malformed entries and fields are skipped
// rather than failing; an unreadable blob yields an empty result and an error
// for logging.
func (g *Gateway) Load(ctx context.Context) (map[string]Persisted, error) {
	out := make(map[string]Persisted)
	if g.store == nil {
		return out, nil
	}

	data, ok, err := g.store.Get(ctx, g.key)
	if err != nil {
		return out, err
	}
	if !ok {
		return out, nil
	}
	return decodeState(data, g.log)
}

func decodeState(data []byte, log Logger) (map[string]Persisted, error) {
	out := make(map[string]Persisted)

	var raw struct {
		Version   int                        `json:"version"`
		Providers map[string]json.RawMessage `json:"providers"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return out, bwerr.WithDetails(bwerr.ErrCorruptState, map[string]string{"reason": err.Error()})
	}
	if raw.Version != persistVersion {
		return out, bwerr.WithDetails(bwerr.ErrCorruptState, map[string]string{"reason": "unsupported version"})
	}

	for name, entry := range raw.Providers {
		p, ok := decodeEntry(entry)
		if !ok {
			log.Debug("skipping malformed persisted state for %s", name)
			continue
		}
		out[name] = p
	}
	return out, nil
}

// decodeEntry validates each field on its own; a bad field is dropped and
// the rest of the entry kept.
func decodeEntry(data json.RawMessage) (Persisted, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return Persisted{}, false
	}

	var p Persisted
	if v, ok := fields["snapshot"]; ok {
		var s balance.Snapshot
		if err := json.Unmarshal(v, &s); err == nil && s.Validate() == nil {
			p.Snapshot = &s
		}
	}
	if v, ok := fields["lastError"]; ok {
		_ = json.Unmarshal(v, &p.LastError)
	}
	if v, ok := fields["signature"]; ok {
		_ = json.Unmarshal(v, &p.Signature)
	}
	p.LastAttemptAt = decodeTime(fields["lastAttemptAt"])
	p.LastRefreshAt = decodeTime(fields["lastRefreshAt"])
	return p, true
}

func decodeTime(v json.RawMessage) time.Time {
	if len(v) == 0 {
		return time.Time{}
	}
	var t time.Time
	if err := json.Unmarshal(v, &t); err != nil {
		return time.Time{}
	}
	return t
}
