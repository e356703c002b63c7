// Package report renders aggregated egress statistics for humans and
// machines.
package report

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/githubnext/gh-aw-firewall-sub005/accesslog"
)

// Format selects an output rendering.
type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatPretty   Format = "pretty"
)

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatMarkdown:
		return FormatMarkdown, nil
	case FormatPretty:
		return FormatPretty, nil
	}
	return "", fmt.Errorf("unknown format %q (expected json, markdown or pretty)", s)
}

// Options narrow the domain table. The summary always reflects the full
// snapshot so exit-code decisions stay independent of display filters.
type Options struct {
	// Top keeps only the N busiest domains; 0 keeps all.
	Top int
	// DeniedOnly hides domains that were never denied.
	DeniedOnly bool
	// Color enables ANSI styling in the pretty format.
	Color bool
}

// DomainRow is one row of the per-domain table.
type DomainRow struct {
	Domain  string `json:"domain"`
	Allowed int    `json:"allowed"`
	Denied  int    `json:"denied"`
	Total   int    `json:"total"`
}

// Rows flattens the per-domain map into a sorted, filtered table: busiest
// first, ties broken by name.
func Rows(stats *accesslog.Stats, opts Options) []DomainRow {
	rows := make([]DomainRow, 0, len(stats.Domains))
	for d, c := range stats.Domains {
		if opts.DeniedOnly && c.Denied == 0 {
			continue
		}
		rows = append(rows, DomainRow{Domain: d, Allowed: c.Allowed, Denied: c.Denied, Total: c.Total})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Total != rows[j].Total {
			return rows[i].Total > rows[j].Total
		}
		return rows[i].Domain < rows[j].Domain
	})
	if opts.Top > 0 && len(rows) > opts.Top {
		rows = rows[:opts.Top]
	}
	return rows
}

// Render produces the report in the requested format.
func Render(stats *accesslog.Stats, format Format, opts Options) (string, error) {
	switch format {
	case FormatJSON:
		return renderJSON(stats, opts)
	case FormatMarkdown:
		return renderMarkdown(stats, opts), nil
	case FormatPretty:
		return renderPretty(stats, opts), nil
	}
	return "", fmt.Errorf("unknown format %q (expected json, markdown or pretty)", format)
}

type jsonSummary struct {
	TotalRequests   int                  `json:"total_requests"`
	AllowedRequests int                  `json:"allowed_requests"`
	DeniedRequests  int                  `json:"denied_requests"`
	UniqueDomains   int                  `json:"unique_domains"`
	TimeRange       *accesslog.TimeRange `json:"time_range"`
}

type jsonReport struct {
	Summary jsonSummary `json:"summary"`
	Domains []DomainRow `json:"domains"`
}

// renderJSON is machine-stable: fixed key order, sorted domain array, no
// ANSI codes regardless of Options.Color.
func renderJSON(stats *accesslog.Stats, opts Options) (string, error) {
	doc := jsonReport{
		Summary: jsonSummary{
			TotalRequests:   stats.TotalRequests,
			AllowedRequests: stats.AllowedRequests,
			DeniedRequests:  stats.DeniedRequests,
			UniqueDomains:   stats.UniqueDomains,
			TimeRange:       stats.TimeRange,
		},
		Domains: Rows(stats, opts),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding report: %w", err)
	}
	return string(data) + "\n", nil
}

// renderMarkdown wraps the report in a collapsible block so it can be
// appended to a CI job summary without dominating it.
func renderMarkdown(stats *accesslog.Stats, opts Options) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<details>\n<summary>Egress report: %d requests, %d denied</summary>\n\n",
		stats.TotalRequests, stats.DeniedRequests)

	b.WriteString("| Metric | Value |\n| --- | --- |\n")
	fmt.Fprintf(&b, "| Total requests | %d |\n", stats.TotalRequests)
	fmt.Fprintf(&b, "| Allowed | %d |\n", stats.AllowedRequests)
	fmt.Fprintf(&b, "| Denied | %d |\n", stats.DeniedRequests)
	fmt.Fprintf(&b, "| Unique domains | %d |\n", stats.UniqueDomains)
	if tr := stats.TimeRange; tr != nil {
		fmt.Fprintf(&b, "| First request | %s |\n", tr.Start.Format(time.RFC3339))
		fmt.Fprintf(&b, "| Last request | %s |\n", tr.End.Format(time.RFC3339))
	}

	if rows := Rows(stats, opts); len(rows) > 0 {
		b.WriteString("\n| Domain | Allowed | Denied | Total |\n| --- | ---: | ---: | ---: |\n")
		for _, r := range rows {
			fmt.Fprintf(&b, "| %s | %d | %d | %d |\n", r.Domain, r.Allowed, r.Denied, r.Total)
		}
	}

	b.WriteString("\n</details>\n")
	return b.String()
}
