package report

import (
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/githubnext/gh-aw-firewall-sub005/accesslog"
)

// ColorEnabled reports whether pretty output may carry ANSI codes: only
// when stdout is a real terminal and the environment does not forbid it.
// Piped and redirected output always stays plain.
func ColorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

const (
	ansiBold  = "1"
	ansiDim   = "2"
	ansiGreen = "32"
	ansiRed   = "31"
)

func paint(enabled bool, code, text string) string {
	if !enabled {
		return text
	}
	return "\x1b[" + code + "m" + text + "\x1b[0m"
}

func renderPretty(stats *accesslog.Stats, opts Options) string {
	rows := Rows(stats, opts)

	width := len("DOMAIN")
	for _, r := range rows {
		if len(r.Domain) > width {
			width = len(r.Domain)
		}
	}

	var b strings.Builder
	b.WriteString(paint(opts.Color, ansiBold, "Egress report") + "\n\n")

	if len(rows) == 0 {
		b.WriteString(paint(opts.Color, ansiDim, "No domain traffic recorded.") + "\n")
	} else {
		fmt.Fprintf(&b, "  %-*s  %7s  %7s  %7s\n", width, "DOMAIN", "ALLOWED", "DENIED", "TOTAL")
		for _, r := range rows {
			line := fmt.Sprintf("  %-*s  %7d  %7d  %7d", width, r.Domain, r.Allowed, r.Denied, r.Total)
			if r.Denied > 0 {
				line = paint(opts.Color, ansiRed, line)
			}
			b.WriteString(line + "\n")
		}
	}

	b.WriteString("\n")
	fmt.Fprintf(&b, "Total requests: %d\n", stats.TotalRequests)
	if stats.TotalRequests > 0 {
		allowed := fmt.Sprintf("%d (%s)", stats.AllowedRequests, percent(stats.AllowedRequests, stats.TotalRequests))
		fmt.Fprintf(&b, "Allowed: %s\n", paint(opts.Color, ansiGreen, allowed))

		denied := fmt.Sprintf("%d (%s)", stats.DeniedRequests, percent(stats.DeniedRequests, stats.TotalRequests))
		if stats.DeniedRequests > 0 {
			denied = paint(opts.Color, ansiRed, denied)
		}
		fmt.Fprintf(&b, "Denied:  %s\n", denied)
	}
	if tr := stats.TimeRange; tr != nil {
		fmt.Fprintf(&b, "\nTime range: %s to %s\n", tr.Start.Format(time.RFC3339), tr.End.Format(time.RFC3339))
	}
	return b.String()
}

func percent(part, total int) string {
	return fmt.Sprintf("%.1f%%", float64(part)/float64(total)*100)
}
