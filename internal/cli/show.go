package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/balancewatch/internal/balance"
	"github.com/mrz1836/balancewatch/internal/config"
	"github.com/mrz1836/balancewatch/internal/output"
	"github.com/mrz1836/balancewatch/internal/service/refresh"
)

// showCmd prints the last known balance of every provider.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var showCmd = &cobra.Command{
	Use:   "show [provider]",
	Short: "Show the last known balances",
	Long: `Show the last known balance of every provider with a balance source.

Balances are read from the persisted refresh state without contacting any
vendor. State recorded under a different provider configuration is not shown.
Run 'balancewatch refresh' to fetch fresh balances.`,
	Example: `  balancewatch show
  balancewatch show openrouter
  balancewatch show -o json`,
	Args:              cobra.MaximumNArgs(1),
	ValidArgsFunction: completeProviderNames,
	RunE:              runShow,
}

// BalanceRow is one provider's balance as printed by show and refresh.
type BalanceRow struct {
	Provider      string            `json:"provider"`
	Primary       string            `json:"primary,omitempty"`
	Low           bool              `json:"low"`
	Stale         bool              `json:"stale,omitempty"`
	Error         string            `json:"error,omitempty"`
	LastAttemptAt time.Time         `json:"lastAttemptAt,omitzero"`
	UpdatedAt     time.Time         `json:"updatedAt,omitzero"`
	Snapshot      *balance.Snapshot `json:"snapshot,omitempty"`
}

// BalanceResponse is the JSON document printed by show and refresh.
type BalanceResponse struct {
	Balances  []BalanceRow `json:"balances"`
	Refreshed int          `json:"refreshed,omitempty"`
	Timestamp string       `json:"timestamp"`
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	showCmd.GroupID = groupMonitor
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	cc := GetCmdContext(cmd)

	providers, err := selectProviders(cc.Cfg, args)
	if err != nil {
		return err
	}

	state, err := cc.OpenState(cc.Cfg.Storage)
	if err != nil {
		return err
	}
	defer func() { _ = state.Close() }()

	ctx, cancel := contextWithTimeout(cmd, 30*time.Second)
	defer cancel()

	persisted, err := refresh.NewGateway(state, stateKey(cc.Cfg), cc.Log, nil, nil).Load(ctx)
	if err != nil {
		cc.Log.Error("loading persisted balance state: %v", err)
	}

	now := time.Now()
	rows := make([]BalanceRow, 0, len(providers))
	for _, p := range providers {
		st := refresh.State{Provider: p.Name}
		if rec, ok := persisted[p.Name]; ok && (rec.Signature == "" || rec.Signature == refresh.Signature(p)) {
			st.Snapshot = rec.Snapshot
			st.LastError = rec.LastError
			st.LastAttemptAt = rec.LastAttemptAt
			st.LastRefreshAt = rec.LastRefreshAt
			st.Low = rec.Snapshot != nil && rec.Snapshot.IsLow(thresholds(cc.Cfg))
		}
		rows = append(rows, balanceRow(st, now, cc.Cfg.Refresh.Interval))
	}

	return writeBalances(cc.Fmt, BalanceResponse{Balances: rows, Timestamp: now.UTC().Format(time.RFC3339)})
}

// selectProviders returns the providers with a balance source, or just the
// named one.
func selectProviders(c *config.Config, args []string) ([]config.ProviderConfig, error) {
	if len(args) == 1 {
		p, err := lookupProvider(c, args[0])
		if err != nil {
			return nil, err
		}
		return []config.ProviderConfig{p}, nil
	}

	out := make([]config.ProviderConfig, 0, len(c.Providers))
	for _, p := range c.Providers {
		if p.HasBalance() {
			out = append(out, p)
		}
	}
	return out, nil
}

func stateKey(c *config.Config) string {
	if c.Storage.Key == "" {
		return config.DefaultStateKey
	}
	return c.Storage.Key
}

func thresholds(c *config.Config) balance.Thresholds {
	return balance.Thresholds{
		AmountBelow:  c.Warnings.AmountBelow,
		TokensBelow:  c.Warnings.TokensBelow,
		PercentBelow: c.Warnings.PercentBelow,
	}
}

// balanceRow projects a coordinator state for display. A row is stale when
// nothing happened for longer than the refresh interval.
func balanceRow(st refresh.State, now time.Time, interval time.Duration) BalanceRow {
	row := BalanceRow{
		Provider:      st.Provider,
		Low:           st.Low,
		Error:         st.LastError,
		LastAttemptAt: st.LastAttemptAt,
		Snapshot:      st.Snapshot,
	}

	last := st.LastAttemptAt
	if st.Snapshot != nil {
		row.UpdatedAt = st.Snapshot.UpdatedAt
		if primary, ok := st.Snapshot.Primary(); ok {
			row.Primary = primary.String()
		}
		if row.UpdatedAt.After(last) {
			last = row.UpdatedAt
		}
	}
	if interval > 0 && !last.IsZero() && now.Sub(last) > interval {
		row.Stale = true
	}
	return row
}

// writeBalances prints resp as JSON or as a table.
func writeBalances(f *output.Formatter, resp BalanceResponse) error {
	if f.IsJSON() {
		return f.Print(resp)
	}

	w := f.Writer()
	if len(resp.Balances) == 0 {
		output.Info(w, "no providers with a balance source are configured")
		return nil
	}

	table := output.NewTable("PROVIDER", "BALANCE", "UPDATED", "STATUS")
	table.SetAlign(1, output.AlignRight)
	for _, row := range resp.Balances {
		balanceText := row.Primary
		if balanceText == "" {
			balanceText = "-"
		}
		table.AddRow(row.Provider, balanceText, formatAge(row.UpdatedAt, time.Now()), statusText(f, row))
	}
	if err := table.Render(w); err != nil {
		return err
	}

	if resp.Refreshed > 0 {
		output.Success(w, "refreshed %d provider(s)", resp.Refreshed)
	}
	return nil
}

// statusText summarizes a row. Errors take precedence over the low flag.
func statusText(f *output.Formatter, row BalanceRow) string {
	switch {
	case row.Error != "":
		return f.Caution("error: " + row.Error)
	case row.Low:
		return f.Danger("LOW")
	case row.Snapshot == nil && row.LastAttemptAt.IsZero():
		return "never refreshed"
	case row.Stale:
		return "stale"
	default:
		return "ok"
	}
}

// formatAge renders how long ago t was, in whole units.
func formatAge(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	default:
		return t.Local().Format("2006-01-02 15:04")
	}
}
