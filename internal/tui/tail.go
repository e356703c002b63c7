// Package tui implements the interactive follow view for live egress
// monitoring, built on bubbletea.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/githubnext/gh-aw-firewall-sub005/accesslog"
	"github.com/githubnext/gh-aw-firewall-sub005/pidtrack"
)

// maxScrollback bounds how many rendered rows the model retains.
const maxScrollback = 200

// EntryMsg delivers one parsed access-log entry to the model.
type EntryMsg struct {
	Entry *accesslog.Entry
}

// TailDoneMsg reports that the entry channel closed.
type TailDoneMsg struct{}

// tailRow is one rendered log line plus the fields the view colors on.
type tailRow struct {
	when    string
	verdict string
	method  string
	domain  string
	proc    string
	allowed bool
}

// TailModel is the live follow view. It consumes parsed entries from a
// channel, keeps running totals and a bounded scrollback, and renders both.
type TailModel struct {
	styles  *StyleSet
	spinner spinner.Model

	ctx        context.Context
	entries    <-chan *accesslog.Entry
	agg        *accesslog.Aggregator
	stats      *accesslog.Stats
	correlator *pidtrack.Correlator

	logPath  string
	rows     []tailRow
	width    int
	height   int
	closed   bool
	quitting bool
}

// NewTailModel creates a follow view reading from entries. The correlator is
// optional; when present each row is annotated with the owning process.
func NewTailModel(ctx context.Context, entries <-chan *accesslog.Entry, theme TermTheme, logPath string, correlator *pidtrack.Correlator) TailModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.Accent)

	return TailModel{
		styles:     NewStyleSet(theme),
		spinner:    sp,
		ctx:        ctx,
		entries:    entries,
		agg:        accesslog.NewAggregator(),
		stats:      &accesslog.Stats{},
		correlator: correlator,
		logPath:    logPath,
		width:      80,
		height:     24,
	}
}

// Init starts the spinner and the first channel receive.
func (m TailModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEntry(m.entries))
}

// waitForEntry blocks on the entry channel and converts the result into a
// message. Re-issued after every delivery so the model keeps draining.
func waitForEntry(ch <-chan *accesslog.Entry) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return TailDoneMsg{}
		}
		return EntryMsg{Entry: e}
	}
}

// Update handles messages for the follow view.
func (m TailModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case EntryMsg:
		m.agg.Add(msg.Entry)
		m.stats = m.agg.Snapshot()
		m.rows = append(m.rows, m.renderRow(msg.Entry))
		if len(m.rows) > maxScrollback {
			m.rows = m.rows[len(m.rows)-maxScrollback:]
		}
		return m, waitForEntry(m.entries)

	case TailDoneMsg:
		m.closed = true
		return m, nil
	}

	return m, nil
}

// renderRow converts an entry into its display form, attributing the owning
// process when a correlator is attached.
func (m *TailModel) renderRow(e *accesslog.Entry) tailRow {
	r := tailRow{
		when:    e.Time().Format("15:04:05"),
		method:  e.Method,
		domain:  e.Domain,
		allowed: e.Allowed,
		verdict: "DENY",
	}
	if e.Allowed {
		r.verdict = "ALLOW"
	}
	if m.correlator != nil {
		if res := m.correlator.Correlate(m.ctx, e.ClientPort); res.PID > 0 {
			r.proc = fmt.Sprintf("%s[%d]", res.Comm, res.PID)
		}
	}
	return r
}

// Stats returns the totals accumulated so far. Read after the program exits
// to decide the process exit code.
func (m TailModel) Stats() *accesslog.Stats {
	return m.stats
}

// View renders the follow view.
func (m TailModel) View() string {
	if m.quitting {
		return ""
	}

	s := m.styles
	var b strings.Builder

	b.WriteString(s.Title.Render("awf egress monitor"))
	b.WriteString("  " + s.DimTxt.Render(m.logPath) + "\n")

	if m.closed {
		b.WriteString(s.DimTxt.Render("log closed") + "\n\n")
	} else {
		b.WriteString(m.spinner.View() + s.SecondaryTxt.Render("following") + "\n\n")
	}

	b.WriteString(fmt.Sprintf("  %s %d   %s %s   %s %s\n\n",
		s.SecondaryTxt.Render("requests"), m.stats.TotalRequests,
		s.SecondaryTxt.Render("allowed"), s.SuccessTxt.Render(fmt.Sprintf("%d", m.stats.AllowedRequests)),
		s.SecondaryTxt.Render("denied"), s.ErrorTxt.Render(fmt.Sprintf("%d", m.stats.DeniedRequests))))

	if len(m.rows) == 0 {
		b.WriteString(s.DimTxt.Render("  waiting for traffic") + "\n")
	} else {
		visible := m.rows
		if max := m.visibleRows(); len(visible) > max {
			visible = visible[len(visible)-max:]
		}
		for _, r := range visible {
			verdict := s.SuccessTxt.Render("ALLOW")
			if !r.allowed {
				verdict = s.ErrorTxt.Render(" DENY")
			}
			b.WriteString(fmt.Sprintf("  %s  %s  %-8s %s",
				s.DimTxt.Render(r.when), verdict, r.method, s.PrimaryTxt.Render(r.domain)))
			if r.proc != "" {
				b.WriteString(s.DimTxt.Render("  " + r.proc))
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("\n" + "  " + s.KbdKey.Render("q") + " " + s.KbdDesc.Render("quit") + "\n")
	return b.String()
}

// visibleRows is how many scrollback rows fit under the header and footer.
func (m *TailModel) visibleRows() int {
	n := m.height - 7
	if n < 3 {
		n = 3
	}
	return n
}
