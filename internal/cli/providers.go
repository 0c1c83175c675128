package cli

import (
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mrz1836/balancewatch/internal/output"
)

// providersCmd lists configured providers.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var providersCmd = &cobra.Command{
	Use:     "providers",
	Aliases: []string{"ls"},
	Short:   "List configured providers",
	Long: `List every provider in the configuration with its balance source.

A provider is tracked only when it has a balance method that this build
supports. Providers without one are listed so typos are easy to spot.`,
	Example: `  balancewatch providers
  balancewatch providers -o json`,
	Args: cobra.NoArgs,
	RunE: runProviders,
}

// ProviderInfo is one row of the providers listing.
type ProviderInfo struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	BaseURL   string `json:"baseUrl"`
	Auth      string `json:"auth"`
	Method    string `json:"balanceMethod,omitempty"`
	Supported bool   `json:"supported"`
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	providersCmd.GroupID = groupConfig
	rootCmd.AddCommand(providersCmd)
}

func runProviders(cmd *cobra.Command, _ []string) error {
	cc := GetCmdContext(cmd)

	infos := make([]ProviderInfo, 0, len(cc.Cfg.Providers))
	for _, p := range cc.Cfg.Providers {
		method := p.BalanceMethod()
		infos = append(infos, ProviderInfo{
			Name:      p.Name,
			Type:      p.Type,
			BaseURL:   p.BaseURL,
			Auth:      p.Auth.Method,
			Method:    method,
			Supported: method != "" && cc.Factory.IsSupported(method),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	if cc.Fmt.IsJSON() {
		return cc.Fmt.Print(infos)
	}

	w := cc.Fmt.Writer()
	if len(infos) == 0 {
		output.Info(w, "no providers configured in %s", cc.ConfigPath)
		return nil
	}

	table := output.NewTable("NAME", "TYPE", "AUTH", "BALANCE")
	for _, info := range infos {
		table.AddRow(info.Name, info.Type, orDash(info.Auth), balanceColumn(cc.Fmt, info))
	}
	return table.Render(w)
}

func balanceColumn(f *output.Formatter, info ProviderInfo) string {
	switch {
	case info.Method == "":
		return "-"
	case !info.Supported:
		return f.Caution(info.Method + " (unsupported)")
	default:
		return info.Method
	}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// completeProviderNames completes the first argument with configured
// provider names.
func completeProviderNames(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	cc := GetCmdContext(cmd)
	if cc == nil {
		if err := initGlobals(cmd); err != nil {
			return nil, cobra.ShellCompDirectiveError
		}
		cc = GetCmdContext(cmd)
	}

	var names []string
	for _, p := range cc.Cfg.Providers {
		if strings.HasPrefix(p.Name, toComplete) {
			names = append(names, p.Name)
		}
	}
	sort.Strings(names)
	return names, cobra.ShellCompDirectiveNoFileComp
}
