package cmd

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// styles holds the lipgloss styles used by command output
var styles = struct {
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Muted    lipgloss.Style
	Header   lipgloss.Style
	Cell     lipgloss.Style
	Border   lipgloss.Style
	Error    lipgloss.Style
	Warning  lipgloss.Style
	Info     lipgloss.Style
}{
	Title:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")), // Purple
	Subtitle: lipgloss.NewStyle().Foreground(lipgloss.Color("243")),           // Gray
	Muted:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")),           // Dark gray
	Header:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("228")).Padding(0, 1),
	Cell:     lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Padding(0, 1),
	Border:   lipgloss.NewStyle().Foreground(lipgloss.Color("59")),
	Error:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true), // Bright red
	Warning:  lipgloss.NewStyle().Foreground(lipgloss.Color("226")),            // Yellow
	Info:     lipgloss.NewStyle().Foreground(lipgloss.Color("39")),             // Cyan
}

// renderTable draws rows under headers with the shared styles
func renderTable(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styles.Border).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return styles.Header
			}
			return styles.Cell
		})
	return t.Render()
}

// section renders a titled block
func section(title, body string) string {
	return lipgloss.JoinVertical(lipgloss.Left, styles.Title.Render(title), body) + "\n"
}
