package refresh

import (
	"sort"
	"time"

	"github.com/mrz1836/balancewatch/internal/config"
)

// Reconcile resynchronizes state with the current provider list. Removed
// providers and providers whose signature changed lose their state;
// providers never attempted or idle for a full interval are refreshed.
// It runs on Start and after every configuration change.
func (c *Coordinator) Reconcile() {
	endpoints := c.cfg.Endpoints()
	interval := c.cfg.RefreshInterval()

	var (
		e   effects
		due []string
	)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	active := make(map[string]config.ProviderConfig, len(endpoints))
	for _, p := range endpoints {
		if p.HasBalance() {
			active[p.Name] = p
		}
	}

	for name := range c.states {
		if _, ok := active[name]; ok {
			continue
		}
		c.dropLocked(name)
		e.changed(name)
		c.log.Info("balance state for %s discarded: provider removed", name)
	}
	for name := range c.signatures {
		if _, ok := active[name]; !ok {
			delete(c.signatures, name)
		}
	}

	now := c.clock.Now()
	for name, p := range active {
		sig := Signature(p)
		if prev, ok := c.signatures[name]; ok && prev != sig {
			if c.dropLocked(name) {
				e.changed(name)
				c.log.Info("balance state for %s discarded: provider reconfigured", name)
			}
		}
		c.signatures[name] = sig

		st, ok := c.states[name]
		_, inFlight := c.inflight[name]
		switch {
		case inFlight:
			// The outstanding call finishes before anything new starts. A
			// fresh state is picked up by finish.
			if !ok {
				c.ensureStateLocked(name)
			}
		case !ok || st.lastAttemptAt.IsZero() || now.Sub(st.lastActivity()) >= interval:
			due = append(due, name)
		}
	}

	c.armPeriodicLocked(interval)
	c.mu.Unlock()

	c.apply(e)

	sort.Strings(due)
	for _, name := range due {
		c.trigger(name, false)
	}
}

// armPeriodicLocked (re)starts the periodic timer when the interval changed.
func (c *Coordinator) armPeriodicLocked(every time.Duration) {
	if c.periodic != nil && c.periodicEvery == every {
		return
	}
	if c.periodic != nil {
		c.periodic.Stop()
		c.periodic = nil
	}
	c.periodicEvery = every
	c.periodicSeq++
	if every <= 0 {
		return
	}
	seq := c.periodicSeq
	c.periodic = c.clock.AfterFunc(every, func() { c.onPeriodic(seq) })
}

func (c *Coordinator) onPeriodic(seq uint64) {
	c.mu.Lock()
	if c.closed || seq != c.periodicSeq {
		c.mu.Unlock()
		return
	}
	c.periodic = c.clock.AfterFunc(c.periodicEvery, func() { c.onPeriodic(seq) })
	c.mu.Unlock()

	for _, name := range c.activeNames() {
		c.trigger(name, false)
	}
}
