package cli

import (
	"runtime"

	"github.com/spf13/cobra"
)

// versionCmd prints build information.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var versionCmd = &cobra.Command{
	Use:     "version",
	Short:   "Print version information",
	Long:    `Print the balancewatch version, commit and build date.`,
	Example: `  balancewatch version
  balancewatch version -o json`,
	Args: cobra.NoArgs,
	RunE: runVersion,
}

// VersionInfo is the JSON form of the version command.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	versionCmd.GroupID = groupConfig
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, _ []string) error {
	cc := GetCmdContext(cmd)

	if cc.Fmt.IsJSON() {
		info := VersionInfo{
			Version:   buildInfo.Version,
			Commit:    buildInfo.Commit,
			Date:      buildInfo.Date,
			GoVersion: runtime.Version(),
			Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		}
		if info.Version == "" {
			info.Version = "dev"
		}
		return cc.Fmt.Print(info)
	}

	return cc.Fmt.Printf("balancewatch %s\n", FormatVersion(buildInfo))
}
