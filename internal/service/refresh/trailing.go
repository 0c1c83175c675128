package refresh

import "time"

// armTrailingLocked replaces any pending trailing timer for name with one
// firing after delay. There is never more than one per provider.
func (c *Coordinator) armTrailingLocked(name string, delay time.Duration) {
	c.cancelTrailingLocked(name)
	if delay < 0 {
		delay = 0
	}
	c.trailingSeq++
	seq := c.trailingSeq
	c.trailing[name] = trailingTimer{
		seq:   seq,
		timer: c.clock.AfterFunc(delay, func() { c.onTrailing(name, seq) }),
	}
}

func (c *Coordinator) cancelTrailingLocked(name string) {
	if t, ok := c.trailing[name]; ok {
		t.timer.Stop()
		delete(c.trailing, name)
	}
}

// onTrailing runs a superseded-or-pending trailing refresh. A stale timer
// (replaced or cancelled) does nothing, as does one firing while a refresh
// is in flight: completion reschedules it.
func (c *Coordinator) onTrailing(name string, seq uint64) {
	var e effects

	c.mu.Lock()
	if t, ok := c.trailing[name]; !ok || t.seq != seq || c.closed {
		c.mu.Unlock()
		return
	}
	delete(c.trailing, name)

	st, ok := c.states[name]
	_, inFlight := c.inflight[name]
	if !ok || !st.pendingTrailing || inFlight {
		c.mu.Unlock()
		return
	}
	st.pendingTrailing = false
	c.startLocked(name, st, &e)
	c.mu.Unlock()

	c.apply(e)
}

// afterCompletionLocked handles a trailing request that arrived while st
// was refreshing: run it now if due, otherwise re-arm the timer.
func (c *Coordinator) afterCompletionLocked(name string, st *providerState, e *effects) {
	if !st.pendingTrailing {
		return
	}
	due := st.lastRequestEndAt.Add(c.cfg.ThrottleWindow())
	now := c.clock.Now()
	if !now.Before(due) {
		st.pendingTrailing = false
		c.cancelTrailingLocked(name)
		c.startLocked(name, st, e)
		return
	}
	c.armTrailingLocked(name, due.Sub(now))
}
