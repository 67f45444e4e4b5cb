package monitor

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/harlan/fieldsync/internal/store"
)

var (
	// Base colors
	primaryColor   = lipgloss.Color("212")
	secondaryColor = lipgloss.Color("141")
	mutedColor     = lipgloss.Color("241")
	successColor   = lipgloss.Color("42")
	warningColor   = lipgloss.Color("214")
	errorColor     = lipgloss.Color("196")

	// Panel styles
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	activePanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(primaryColor).
				Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Background(lipgloss.Color("237")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	// Text styles
	titleStyle     = lipgloss.NewStyle().Bold(true)
	subtleStyle    = lipgloss.NewStyle().Foreground(mutedColor)
	helpStyle      = lipgloss.NewStyle().Foreground(mutedColor)
	timestampStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))

	// Connectivity badges
	onlineBadge  = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	offlineBadge = lipgloss.NewStyle().Foreground(errorColor).Bold(true)

	// Mutation state styles
	stateStyles = map[string]lipgloss.Style{
		store.StatePending:  lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		store.StateInFlight: lipgloss.NewStyle().Foreground(warningColor),
		store.StateDead:     lipgloss.NewStyle().Foreground(errorColor),
	}

	// Direction badges for history rows
	pushBadge    = lipgloss.NewStyle().Foreground(successColor)
	pullBadge    = lipgloss.NewStyle().Foreground(secondaryColor)
	resolveBadge = lipgloss.NewStyle().Foreground(warningColor)
)

// formatState renders a mutation state with color
func formatState(s string) string {
	style, ok := stateStyles[s]
	if !ok {
		return s
	}
	return style.Render(s)
}

// formatDirectionBadge renders a history direction badge
func formatDirectionBadge(direction string) string {
	switch direction {
	case "push":
		return pushBadge.Render("[PUSH]")
	case "pull":
		return pullBadge.Render("[PULL]")
	case "resolve":
		return resolveBadge.Render("[RSLV]")
	default:
		return subtleStyle.Render("[????]")
	}
}
