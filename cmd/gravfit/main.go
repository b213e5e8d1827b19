// Package main implements the gravfit CLI: fitting, evaluating and
// simulating multi-point-source models of interferometric observations.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// configPath is the YAML configuration file; empty uses the default path.
	configPath string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Tests build a fresh tree per case.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gravfit",
		Short: "Fit point-source models to GRAVITY interferometric data",
		Long: `gravfit fits the positions and flux ratios of faint companions around a
central source to interferometric observables (visibility amplitudes,
squared visibilities, closure phases, differential phases and closure
amplitudes) with an affine-invariant ensemble sampler.

Configuration is read from ~/.config/gravfit/config.yaml (or --config) and
GRAVFIT_* environment variables.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ~/.config/gravfit/config.yaml)")

	root.AddCommand(newFitCmd())
	root.AddCommand(newModelCmd())
	root.AddCommand(newSimulateCmd())
	root.AddCommand(newIntegrateCmd())
	root.AddCommand(newWatchCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "gravfit by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
