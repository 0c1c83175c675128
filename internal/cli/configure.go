package cli

import (
	"maps"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/balancewatch/internal/balance"
	"github.com/mrz1836/balancewatch/internal/config"
	"github.com/mrz1836/balancewatch/internal/output"
	bwerr "github.com/mrz1836/balancewatch/pkg/errors"
)

// configureTimeout bounds an adapter's self-configuration.
const configureTimeout = 30 * time.Second

// configureCmd lets a balance adapter complete its own settings.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configureCmd = &cobra.Command{
	Use:   "configure <provider>",
	Short: "Complete a provider's balance settings",
	Long: `Ask the provider's balance adapter to fill in the settings it can derive
on its own, such as default quota units, and save them to the configuration
file. A running watch picks the change up and refreshes the provider.

Adapters without derivable settings are left untouched.`,
	Example: `  balancewatch configure my-gateway
  balancewatch configure my-gateway -o json`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeProviderNames,
	RunE:              runConfigure,
}

// ConfigureResponse reports the outcome of configure.
type ConfigureResponse struct {
	Provider     string            `json:"provider"`
	Method       string            `json:"balanceMethod"`
	Options      map[string]string `json:"options,omitempty"`
	Configurable bool              `json:"configurable"`
	Changed      bool              `json:"changed"`
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	configureCmd.GroupID = groupConfig
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	cc := GetCmdContext(cmd)

	p, err := lookupProvider(cc.Cfg, args[0])
	if err != nil {
		return err
	}
	if err := requireBalance(cc, p); err != nil {
		return err
	}

	adapter, err := cc.Factory.New(p)
	if err != nil {
		return err
	}
	if d, ok := adapter.(balance.Disposer); ok {
		defer d.Dispose()
	}

	resp := ConfigureResponse{Provider: p.Name, Method: p.BalanceMethod(), Options: p.Balance.Options}

	c, ok := adapter.(balance.Configurable)
	if !ok {
		return writeConfigure(cc, resp)
	}
	resp.Configurable = true

	ctx, cancel := contextWithTimeout(cmd, configureTimeout)
	defer cancel()

	res, err := c.Configure(ctx)
	if err != nil {
		return bwerr.Wrap(err, "configuring %s", p.Name)
	}
	if !res.Success || res.Config == nil {
		return bwerr.WithDetails(bwerr.ErrBalanceUnavailable, map[string]string{
			"provider": p.Name,
			"reason":   "adapter could not derive its settings",
		})
	}

	if !sameBalance(p.Balance, res.Config) {
		p.Balance = res.Config.Clone()
		cfgStore := config.NewStore(cc.Cfg, cc.ConfigPath, cc.Log)
		if err := cfgStore.UpsertProvider(p); err != nil {
			return err
		}
		cc.Log.Info("saved balance settings for %s", p.Name)
		resp.Changed = true
	}
	resp.Options = p.Balance.Options
	return writeConfigure(cc, resp)
}

func sameBalance(a, b *config.BalanceConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Method == b.Method && maps.Equal(a.Options, b.Options)
}

func writeConfigure(cc *CommandContext, resp ConfigureResponse) error {
	if cc.Fmt.IsJSON() {
		return cc.Fmt.Print(resp)
	}

	w := cc.Fmt.Writer()
	switch {
	case !resp.Configurable:
		output.Info(w, "%s (%s) has no settings to derive", resp.Provider, resp.Method)
		return nil
	case resp.Changed:
		output.Success(w, "updated balance settings for %s in %s", resp.Provider, cc.ConfigPath)
	default:
		output.Info(w, "balance settings for %s are already complete", resp.Provider)
	}

	if len(resp.Options) == 0 {
		return nil
	}
	keys := make([]string, 0, len(resp.Options))
	for k := range resp.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	table := output.NewTable("OPTION", "VALUE")
	for _, k := range keys {
		table.AddRow(k, resp.Options[k])
	}
	return table.Render(w)
}
