package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/gravfit/internal/monitor"
)

func newWatchCmd() *cobra.Command {
	var (
		addr     string
		runID    string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live dashboard of a running fit",
		Long: `Poll the monitor endpoint of a fit started with --monitor and render the
sampler progress of every unit in the terminal.

Examples:
  # Terminal 1
  gravfit fit --data obs.json --monitor localhost:9464

  # Terminal 2
  gravfit watch --addr localhost:9464`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if interval <= 0 {
				return fmt.Errorf("interval must be positive, got %v", interval)
			}
			m := monitor.NewModel(monitor.NewClient(addr), runID, interval)
			p := tea.NewProgram(m,
				tea.WithAltScreen(),
				tea.WithContext(cmd.Context()),
				tea.WithInput(cmd.InOrStdin()),
				tea.WithOutput(cmd.OutOrStdout()),
			)
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("dashboard: %w", err)
			}
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&addr, "addr", "localhost:9464", "monitor address or URL")
	fl.StringVar(&runID, "run", "", "show only this run ID")
	fl.DurationVar(&interval, "interval", time.Second, "refresh interval")
	return cmd
}
