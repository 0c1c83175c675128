package refresh

import (
	"context"
	"fmt"

	"github.com/mrz1836/balancewatch/internal/balance"
	"github.com/mrz1836/balancewatch/internal/config"
	"github.com/mrz1836/balancewatch/internal/metrics"
	bwerr "github.com/mrz1836/balancewatch/pkg/errors"
)

// result is what one adapter call produced.
type result struct {
	snapshot *balance.Snapshot
	err      string
	label    string
}

// run performs one refresh and records its outcome. Adapter panics are
// recovered in execute, so the flight always completes.
func (c *Coordinator) run(name string, st *providerState, fl *flight) {
	defer c.wg.Done()

	started := c.clock.Now()
	res := c.execute(name)
	c.metrics.RefreshFinished(name, res.label, c.clock.Now().Sub(started))
	c.finish(name, st, fl, res)
}

func (c *Coordinator) execute(name string) (res result) {
	defer func() {
		if r := recover(); r != nil {
			res = result{err: fmt.Sprintf("balance adapter panicked: %v", r), label: metrics.ResultFailure}
		}
	}()

	ctx := c.ctx
	p, ok := c.cfg.GetProvider(name)
	if !ok || !p.HasBalance() {
		return unavailable()
	}

	cred, err := c.creds.Resolve(ctx, p.Auth)
	if err != nil {
		return failure(err.Error())
	}
	if cred == nil {
		cred = balance.NoCredential()
	}

	adapter, err := c.factory.New(p)
	if err != nil {
		if bwerr.Is(err, bwerr.ErrBalanceUnavailable) {
			return unavailable()
		}
		return failure(err.Error())
	}
	defer balance.Dispose(adapter)

	out, err := adapter.Refresh(ctx, balance.RefreshInput{
		Provider:     p,
		Credential:   cred,
		UpdateConfig: c.configUpdater(name),
	})
	if err != nil {
		return failure(err.Error())
	}
	if !out.Success || out.Snapshot == nil {
		return failure(out.Error)
	}
	if err := out.Snapshot.Validate(); err != nil {
		return failure(err.Error())
	}

	snap := out.Snapshot.Clone()
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = c.clock.Now()
	}
	return result{snapshot: snap, label: metrics.ResultSuccess}
}

func failure(msg string) result {
	if msg == "" {
		msg = bwerr.ErrBalanceRefreshFailed.Message
	}
	return result{err: msg, label: metrics.ResultFailure}
}

func unavailable() result {
	return result{err: bwerr.ErrBalanceUnavailable.Message, label: metrics.ResultUnavailable}
}

// configUpdater lets an adapter write back its balance configuration.
func (c *Coordinator) configUpdater(name string) balance.ConfigUpdater {
	return func(_ context.Context, bc config.BalanceConfig) error {
		p, ok := c.cfg.GetProvider(name)
		if !ok {
			return bwerr.WithDetails(bwerr.ErrProviderNotFound, map[string]string{"provider": name})
		}
		p.Balance = bc.Clone()
		return c.cfg.UpsertProvider(p)
	}
}

// finish applies res to st unless the state was dropped or the coordinator
// closed while the call was outstanding.
func (c *Coordinator) finish(name string, st *providerState, fl *flight, res result) {
	var e effects
	thresholds := c.thresholds()

	c.mu.Lock()
	if c.inflight[name] == fl {
		delete(c.inflight, name)
	}
	current := c.states[name]

	switch {
	case c.closed:
	case current != st:
		// The configuration changed under this call; its result describes
		// the old provider. A replacement state that was never attempted
		// was held back only by this flight.
		c.log.Debug("discarding balance result for %s: provider was reconfigured", name)
		if current == nil {
			break
		}
		current.isRefreshing = false
		e.changed(name)
		if !current.lastAttemptAt.IsZero() {
			c.afterCompletionLocked(name, current, &e)
			break
		}
		if st, ok := c.prepareLocked(name, &e); ok {
			c.startLocked(name, st, &e)
		}
	default:
		c.recordLocked(name, st, res, thresholds)
		st.isRefreshing = false
		e.changed(name)
		c.afterCompletionLocked(name, st, &e)
	}
	c.mu.Unlock()

	// Waiters resume only after the result is announced and queued for
	// persistence.
	c.apply(e)
	close(fl.done)
}

func (c *Coordinator) recordLocked(name string, st *providerState, res result, thresholds balance.Thresholds) {
	if res.snapshot == nil {
		st.lastError = res.err
		c.log.Error("balance refresh failed for %s: %s", name, res.err)
		return
	}

	st.snapshot = res.snapshot
	st.lastError = ""
	st.lastRefreshAt = c.clock.Now()

	low := res.snapshot.IsLow(thresholds)
	if low && !st.low {
		if m, ok := res.snapshot.Primary(); ok {
			c.log.Info("balance for %s is low: %s %s", name, m.Label, m.String())
		} else {
			c.log.Info("balance for %s is low", name)
		}
	}
	st.low = low
	c.metrics.SetLow(name, low)
	c.log.Debug("balance refresh succeeded for %s", name)
}
