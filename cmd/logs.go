package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/githubnext/gh-aw-firewall-sub005/accesslog"
	"github.com/githubnext/gh-aw-firewall-sub005/auditdb"
	"github.com/githubnext/gh-aw-firewall-sub005/report"
)

var (
	logsFormat      string
	logsBlockedOnly bool
	logsTop         int
	logsDB          string
	logsRunID       string
)

var logsCmd = &cobra.Command{
	Use:   "logs [access.log|workdir]",
	Short: "Summarize proxy access logs",
	Long: `Logs aggregates a Squid access log into per-domain counts. The argument is
an access.log file or a run work directory; with --db the summary comes from
the audit database instead. Exits nonzero when any request was denied, so it
can gate CI jobs.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().StringVar(&logsFormat, "format", "pretty", "output format: json, markdown, or pretty")
	logsCmd.Flags().BoolVar(&logsBlockedOnly, "blocked-only", false, "only show denied domains")
	logsCmd.Flags().IntVar(&logsTop, "top", 0, "only show the N busiest domains (0 shows all)")
	logsCmd.Flags().StringVar(&logsDB, "db", "", "read from an audit database instead of a log file")
	logsCmd.Flags().StringVar(&logsRunID, "run", "", "run ID to summarize (default latest, requires --db)")
}

func runLogs(cmd *cobra.Command, args []string) error {
	format, err := report.ParseFormat(logsFormat)
	if err != nil {
		return err
	}

	var stats *accesslog.Stats
	switch {
	case logsDB != "":
		stats, err = statsFromDB(logsDB, logsRunID)
		if err != nil {
			return err
		}
	case len(args) == 1:
		path, err := resolveAccessLog(args[0])
		if err != nil {
			return err
		}
		var skipped int
		stats, skipped, err = accesslog.AggregateFile(path)
		if err != nil {
			return err
		}
		if skipped > 0 {
			fmt.Fprintf(os.Stderr, "WARNING: skipped %d malformed log line(s)\n", skipped)
		}
	default:
		return errors.New("need an access.log path or --db")
	}

	out, err := report.Render(stats, format, report.Options{
		Top:        logsTop,
		DeniedOnly: logsBlockedOnly,
		Color:      report.ColorEnabled(),
	})
	if err != nil {
		return err
	}
	fmt.Print(out)

	if stats.DeniedRequests > 0 {
		return fmt.Errorf("%d denied request(s)", stats.DeniedRequests)
	}
	return nil
}

// resolveAccessLog accepts either the log file itself or a run work
// directory containing squid-logs/access.log.
func resolveAccessLog(arg string) (string, error) {
	info, err := os.Stat(arg)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return arg, nil
	}
	for _, candidate := range []string{
		filepath.Join(arg, "squid-logs", "access.log"),
		filepath.Join(arg, "access.log"),
	} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no access.log under %s", arg)
}

func statsFromDB(path, runID string) (*accesslog.Stats, error) {
	store, err := auditdb.Open(path, quietLogger())
	if err != nil {
		return nil, err
	}
	defer store.Close()

	if runID == "" {
		runs, err := store.Runs()
		if err != nil {
			return nil, err
		}
		if len(runs) == 0 {
			return nil, errors.New("audit database has no runs")
		}
		runID = runs[0].ID
	}
	return store.Stats(runID)
}
