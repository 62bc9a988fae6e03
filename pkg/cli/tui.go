package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines the monitor color scheme.
type Theme struct {
	Primary lipgloss.Color // accent
	Dim     lipgloss.Color // help and status text
	Warn    lipgloss.Color // stale or over-limit values
}

// DefaultTheme is a green-on-dark scheme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Dim:     lipgloss.Color("#6e7681"),
	Warn:    lipgloss.Color("#f0883e"),
}

// Styles holds the styles derived from a theme.
type Styles struct {
	Title lipgloss.Style
	Label lipgloss.Style
	Value lipgloss.Style
	Warn  lipgloss.Style
	Help  lipgloss.Style
	Panel lipgloss.Style
}

// NewStyles derives styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Title: lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Label: lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Value: lipgloss.NewStyle(),
		Warn:  lipgloss.NewStyle().Foreground(t.Warn),
		Help:  lipgloss.NewStyle().Foreground(t.Dim),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(t.Primary).
			Padding(0, 1),
	}
}

// Panel is one labeled block of monitor rows.
type Panel struct {
	Label string
	Rows  []string

	// MaxRows trims the panel to its newest rows when positive.
	MaxRows int
}

// Frame is a full-width monitor view: a title bar, bordered panels and a
// help line. It renders to a string; the caller owns the redraw loop.
type Frame struct {
	Styles Styles
	Title  string
	Status string
	Panels []Panel
	Help   string
}

// Render renders the frame for the given terminal width.
func (f Frame) Render(width int) string {
	if width <= 8 {
		width = 80
	}

	title := f.Styles.Title.Render(f.Title)
	status := f.Styles.Help.Render(f.Status)
	gap := max(1, width-lipgloss.Width(title)-lipgloss.Width(status))
	blocks := []string{title + strings.Repeat(" ", gap) + status}

	inner := width - 4 // border and padding
	for _, p := range f.Panels {
		rows := p.Rows
		if p.MaxRows > 0 && len(rows) > p.MaxRows {
			rows = rows[len(rows)-p.MaxRows:]
		}
		body := make([]string, 0, len(rows)+1)
		body = append(body, f.Styles.Label.Render(p.Label))
		for _, row := range rows {
			body = append(body, clipRow(row, inner))
		}
		blocks = append(blocks, f.Styles.Panel.Width(width-2).Render(strings.Join(body, "\n")))
	}

	if f.Help != "" {
		blocks = append(blocks, f.Styles.Help.Render(f.Help))
	}
	return strings.Join(blocks, "\n")
}

// clipRow trims a row to the panel's inner width, multi-width runes
// accounted for.
func clipRow(s string, width int) string {
	if width <= 1 || lipgloss.Width(s) <= width {
		return s
	}
	w := 0
	for i, r := range s {
		rw := lipgloss.Width(string(r))
		if w+rw > width-1 {
			return s[:i] + "…"
		}
		w += rw
	}
	return s
}
