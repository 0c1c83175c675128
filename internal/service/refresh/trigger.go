package refresh

import (
	"github.com/mrz1836/balancewatch/internal/metrics"
	bwerr "github.com/mrz1836/balancewatch/pkg/errors"
)

// trigger is the non-forced refresh path. A throttled trigger either arms
// the trailing timer (allowTrailing) or is dropped.
func (c *Coordinator) trigger(name string, allowTrailing bool) {
	var e effects

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	st, ok := c.prepareLocked(name, &e)
	if !ok {
		c.mu.Unlock()
		c.apply(e)
		return
	}

	now := c.clock.Now()
	window := c.cfg.ThrottleWindow()
	_, inFlight := c.inflight[name]
	throttled := inFlight || (!st.lastAttemptAt.IsZero() && now.Sub(st.lastAttemptAt) < window)

	switch {
	case !throttled:
		c.startLocked(name, st, &e)
	case !allowTrailing:
		c.metrics.Throttled(name, metrics.ActionDropped)
	default:
		st.pendingTrailing = true
		st.lastRequestEndAt = now
		c.armTrailingLocked(name, window)
		c.metrics.Throttled(name, metrics.ActionTrailing)
		e.notify = append(e.notify, name)
	}
	c.mu.Unlock()

	c.apply(e)
}

// forceStart starts a refresh regardless of the throttle window, or returns
// the flight already running for name.
func (c *Coordinator) forceStart(name string) (*flight, bool) {
	var e effects

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, false
	}

	p, ok := c.cfg.GetProvider(name)
	if !ok || !p.HasBalance() {
		if c.dropLocked(name) {
			e.changed(name)
		}
		c.mu.Unlock()
		c.apply(e)
		return nil, false
	}

	if fl, ok := c.inflight[name]; ok {
		c.mu.Unlock()
		return fl, true
	}

	st := c.ensureStateLocked(name)
	fl := c.startLocked(name, st, &e)
	c.mu.Unlock()

	c.apply(e)
	return fl, true
}

// prepareLocked resolves the state for an automatic trigger. It returns
// false when the provider has no balance source (its state is torn down)
// or when no adapter supports its method, which is recorded as an error
// without charging an attempt.
func (c *Coordinator) prepareLocked(name string, e *effects) (*providerState, bool) {
	p, ok := c.cfg.GetProvider(name)
	if !ok || !p.HasBalance() {
		if c.dropLocked(name) {
			e.changed(name)
		}
		return nil, false
	}

	st := c.ensureStateLocked(name)
	if !c.factory.IsSupported(p.BalanceMethod()) {
		msg := bwerr.ErrBalanceUnavailable.Message
		if st.lastError != msg {
			st.lastError = msg
			e.changed(name)
		}
		return nil, false
	}
	return st, true
}

func (c *Coordinator) ensureStateLocked(name string) *providerState {
	st, ok := c.states[name]
	if !ok {
		_, inFlight := c.inflight[name]
		st = &providerState{isRefreshing: inFlight}
		c.states[name] = st
	}
	return st
}

// dropLocked tears down all state for name. Reports whether anything
// existed.
func (c *Coordinator) dropLocked(name string) bool {
	c.cancelTrailingLocked(name)
	_, had := c.states[name]
	delete(c.states, name)
	if had {
		c.metrics.Forget(name)
	}
	return had
}

// startLocked marks st as refreshing and registers a flight. The adapter
// call is launched by apply once the lock is released.
func (c *Coordinator) startLocked(name string, st *providerState, e *effects) *flight {
	fl := &flight{done: make(chan struct{})}
	c.inflight[name] = fl
	st.isRefreshing = true
	st.lastAttemptAt = c.clock.Now()

	c.wg.Add(1)
	c.metrics.RefreshStarted(name)
	c.log.Debug("balance refresh started for %s", name)

	e.changed(name)
	e.launches = append(e.launches, launch{name: name, st: st, fl: fl})
	return fl
}
