// Mender is the error-pattern learning and auto-remediation daemon.
//
// It records reported errors, learns a pattern per error signature and
// applies reviewed remediations automatically once they have proven
// themselves.
//
// Configuration is loaded from ~/.config/mender/config.yaml and MENDER_
// environment variables. See internal/config for details.
//
// Usage:
//
//	# Start the daemon with defaults
//	mender serve
//
//	# Configure via environment
//	MENDER_SERVER_HTTP_PORT=9300 MENDER_PATTERNSTORE_BACKEND=redis \
//	  MENDER_PATTERNSTORE_REDIS='{"address":"localhost:6379"}' mender serve
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "mender",
		Short:        "Error-pattern learning and auto-remediation daemon",
		SilenceUsage: true,
		Version:      version,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/mender/config.yaml)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the mender daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd)
		},
	})
	return root
}

// printVersion prints version information
func printVersion(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "mender by Fyrsmith Labs\n")
	fmt.Fprintf(out, "Version:    %s\n", version)
	fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(out, "Build Date: %s\n", buildDate)
}
