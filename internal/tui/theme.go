package tui

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// TermTheme is the color palette the follow view renders with.
type TermTheme struct {
	Name string

	// Accent marks the tool's own chrome: title, spinner.
	Accent    lipgloss.Color
	AccentDim lipgloss.Color

	// Verdict colors. Success is ALLOW, Error is DENY.
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color

	// Text ranks.
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Dim       lipgloss.Color

	Surface lipgloss.Color
	Border  lipgloss.Color
}

// DarkTheme is the default palette.
var DarkTheme = TermTheme{
	Name:      "dark",
	Accent:    lipgloss.Color("#22d3ee"),
	AccentDim: lipgloss.Color("#0e7490"),
	Success:   lipgloss.Color("#4ade80"),
	Warning:   lipgloss.Color("#fbbf24"),
	Error:     lipgloss.Color("#f87171"),
	Primary:   lipgloss.Color("#e5e7eb"),
	Secondary: lipgloss.Color("#9ca3af"),
	Dim:       lipgloss.Color("#6b7280"),
	Surface:   lipgloss.Color("#111827"),
	Border:    lipgloss.Color("#374151"),
}

// LightTheme is the palette for light terminal backgrounds.
var LightTheme = TermTheme{
	Name:      "light",
	Accent:    lipgloss.Color("#0e7490"),
	AccentDim: lipgloss.Color("#155e75"),
	Success:   lipgloss.Color("#16a34a"),
	Warning:   lipgloss.Color("#b45309"),
	Error:     lipgloss.Color("#dc2626"),
	Primary:   lipgloss.Color("#111827"),
	Secondary: lipgloss.Color("#4b5563"),
	Dim:       lipgloss.Color("#6b7280"),
	Surface:   lipgloss.Color("#f9fafb"),
	Border:    lipgloss.Color("#e5e7eb"),
}

// themeByName resolves "dark" or "light" case-insensitively.
func themeByName(name string) (TermTheme, bool) {
	switch strings.ToLower(name) {
	case "dark":
		return DarkTheme, true
	case "light":
		return LightTheme, true
	}
	return TermTheme{}, false
}

// DetectTheme picks a palette. Precedence: the --theme flag, then the
// AWF_THEME environment variable, then a COLORFGBG sniff, then dark.
func DetectTheme(flagVal string) TermTheme {
	if th, ok := themeByName(flagVal); ok {
		return th
	}
	if th, ok := themeByName(os.Getenv("AWF_THEME")); ok {
		return th
	}

	// COLORFGBG is "fg;bg"; xterm-likes export bg 7 or 15 on light
	// backgrounds.
	if fgbg := os.Getenv("COLORFGBG"); fgbg != "" {
		fields := strings.Split(fgbg, ";")
		bg := fields[len(fields)-1]
		if bg == "7" || bg == "15" {
			return LightTheme
		}
	}

	return DarkTheme
}

// StyleSet is the lipgloss styles the follow view needs, derived once
// from a palette.
type StyleSet struct {
	Theme TermTheme

	Title        lipgloss.Style
	AccentTxt    lipgloss.Style
	DimTxt       lipgloss.Style
	SuccessTxt   lipgloss.Style
	WarningTxt   lipgloss.Style
	ErrorTxt     lipgloss.Style
	PrimaryTxt   lipgloss.Style
	SecondaryTxt lipgloss.Style

	KbdKey  lipgloss.Style
	KbdDesc lipgloss.Style
}

// NewStyleSet derives the view styles from theme.
func NewStyleSet(theme TermTheme) *StyleSet {
	fg := func(c lipgloss.Color) lipgloss.Style {
		return lipgloss.NewStyle().Foreground(c)
	}
	return &StyleSet{
		Theme: theme,

		Title:        fg(theme.Accent).Bold(true),
		AccentTxt:    fg(theme.Accent),
		DimTxt:       fg(theme.Dim),
		SuccessTxt:   fg(theme.Success),
		WarningTxt:   fg(theme.Warning),
		ErrorTxt:     fg(theme.Error),
		PrimaryTxt:   fg(theme.Primary),
		SecondaryTxt: fg(theme.Secondary),

		KbdKey:  fg(theme.Primary).Bold(true),
		KbdDesc: fg(theme.Dim),
	}
}
