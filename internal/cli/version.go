package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Build identification, stamped by the release pipeline via -ldflags. The
// run command writes both into every replay pack it produces.
var (
	Version = "dev"
	GitSHA  = "unknown"
)

// VersionInfo is the version command's JSON payload.
type VersionInfo struct {
	Version   string `json:"version"`
	GitSHA    string `json:"git_sha"`
	GoVersion string `json:"go_version"`
}

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "version",
		Short:         "Print build version",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := VersionInfo{
				Version:   Version,
				GitSHA:    GitSHA,
				GoVersion: runtime.Version(),
			}

			if rootOpts.Format == "json" {
				formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
				return formatter.Success(info)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "menusync %s (%s, %s)\n", info.Version, info.GitSHA, info.GoVersion)
			return nil
		},
	}

	return cmd
}
