package cmd

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/githubnext/gh-aw-firewall-sub005/accesslog"
	"github.com/githubnext/gh-aw-firewall-sub005/internal/tui"
	"github.com/githubnext/gh-aw-firewall-sub005/pidtrack"
	"github.com/githubnext/gh-aw-firewall-sub005/report"
)

var tailPids bool

var tailCmd = &cobra.Command{
	Use:   "tail <access.log|workdir>",
	Short: "Follow proxy traffic live in the terminal",
	Long: `Tail follows a Squid access log as it grows and shows each request with
its verdict. With --pids, local connections are traced back to the owning
process. Press q to quit; a summary of everything seen is printed on exit.`,
	Args: cobra.ExactArgs(1),
	RunE: runTail,
}

func init() {
	tailCmd.Flags().BoolVar(&tailPids, "pids", false, "resolve the local process behind each connection")
}

func runTail(cmd *cobra.Command, args []string) error {
	logger := quietLogger()

	// The log may not exist yet when following a run that is still starting;
	// the tailer polls for it.
	path := args[0]
	if resolved, err := resolveAccessLog(path); err == nil {
		path = resolved
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	entries := make(chan *accesslog.Entry, 256)
	tailer := accesslog.NewTailer(path, logger)
	go func() {
		defer close(entries)
		if err := tailer.Tail(ctx, entries); err != nil {
			logger.Warn("tail stopped", map[string]any{"error": err.Error()})
		}
	}()

	var correlator *pidtrack.Correlator
	if tailPids {
		correlator = pidtrack.NewCorrelator(pidtrack.LinuxProc{}, logger)
		defer correlator.Close()
	}

	theme := tui.DetectTheme(themeOverride)
	model := tui.NewTailModel(ctx, entries, theme, path, correlator)

	p := tea.NewProgram(model, tea.WithAltScreen())
	final, err := p.Run()
	cancel()
	if err != nil {
		return err
	}

	if m, ok := final.(tui.TailModel); ok {
		stats := m.Stats()
		if stats.TotalRequests > 0 {
			out, err := report.Render(stats, report.FormatPretty, report.Options{Color: report.ColorEnabled()})
			if err != nil {
				return err
			}
			fmt.Print(out)
		}
	}
	return nil
}
