// Package watch implements the pushdeploy live watch TUI: it follows the
// receiver's /events stream and shows recent deployments.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme keeps every color of the watch TUI in one place.
type Theme struct {
	StatusOK      lipgloss.Style
	StatusRunning lipgloss.Style
	StatusFailed  lipgloss.Style
	StatusIgnored lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style
	Help      lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		StatusOK:      lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusRunning: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		StatusFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		StatusIgnored: lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
		Help:      lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}
}

// StatusStyle picks the style for an event type or deployment status.
func (t Theme) StatusStyle(status string) lipgloss.Style {
	switch status {
	case "succeeded", "deploy.succeeded":
		return t.StatusOK
	case "running", "deploy.started":
		return t.StatusRunning
	case "failed", "deploy.failed", "webhook.rejected", "deploy.busy":
		return t.StatusFailed
	default:
		return t.StatusIgnored
	}
}
