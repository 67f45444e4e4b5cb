package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/harlan/fieldsync/internal/store"
)

// renderView renders the complete TUI view
func (m Model) renderView() string {
	if m.Width == 0 || m.Height == 0 {
		return "Loading..."
	}

	// Handle small terminal sizes gracefully
	if m.Width < MinWidth || m.Height < MinHeight {
		return m.renderCompact()
	}

	if m.Err != nil {
		return m.renderError()
	}

	if m.ShowHelp {
		return m.renderHelp()
	}

	// Calculate panel heights (3 panels + footer)
	availableHeight := m.Height - 3 // Leave room for footer
	panelHeight := availableHeight / 3

	statusPanel := m.renderStatusPanel(panelHeight)
	queuePanel := m.renderQueuePanel(panelHeight)
	historyPanel := m.renderHistoryPanel(panelHeight)

	panels := lipgloss.JoinVertical(lipgloss.Left,
		statusPanel,
		queuePanel,
		historyPanel,
	)

	footer := m.renderFooter()

	return lipgloss.JoinVertical(lipgloss.Left, panels, footer)
}

// renderCompact renders a minimal view for small terminals
func (m Model) renderCompact() string {
	var s strings.Builder

	s.WriteString("fieldsync monitor (resize for full view)\n\n")
	s.WriteString(fmt.Sprintf("Online: %v\n", m.Online))
	s.WriteString(fmt.Sprintf("Pending: %d | Dead: %d | Conflicts: %d\n",
		len(m.Pending), len(m.DeadLetters), len(m.Conflicts)))

	s.WriteString("\nq:quit r:refresh ?:help")

	return s.String()
}

// renderError renders an error message
func (m Model) renderError() string {
	return fmt.Sprintf("Error: %v\n\nPress r to retry, q to quit", m.Err)
}

// renderStatusPanel renders connectivity and summary counts (Panel 1)
func (m Model) renderStatusPanel(height int) string {
	var content strings.Builder

	badge := offlineBadge.Render("● OFFLINE")
	if m.Online {
		badge = onlineBadge.Render("● ONLINE")
	}
	content.WriteString(badge)
	content.WriteString("\n\n")

	lastSync := subtleStyle.Render("never")
	if m.LastSyncAt != nil {
		lastSync = m.LastSyncAt.Local().Format("2006-01-02 15:04:05")
	}
	content.WriteString(fmt.Sprintf("Last sync:    %s\n", lastSync))
	content.WriteString(fmt.Sprintf("Pending:      %d\n", len(m.Pending)))
	content.WriteString(fmt.Sprintf("Dead letters: %d\n", len(m.DeadLetters)))
	content.WriteString(fmt.Sprintf("Conflicts:    %d\n", len(m.Conflicts)))

	if len(m.Conflicts) > 0 {
		content.WriteString("\n")
		content.WriteString(conflictAlertStyle.Render(fmt.Sprintf(" %d UNRESOLVED ", len(m.Conflicts))))
		content.WriteString("  run: fieldsync conflicts")
	}

	return m.wrapPanel("SYNC STATUS", content.String(), height, PanelStatus)
}

// renderQueuePanel renders pending and dead-lettered mutations (Panel 2)
func (m Model) renderQueuePanel(height int) string {
	var content strings.Builder

	rows := make([]store.QueuedMutation, 0, len(m.Pending)+len(m.DeadLetters))
	rows = append(rows, m.Pending...)
	rows = append(rows, m.DeadLetters...)

	if len(rows) == 0 {
		content.WriteString(subtleStyle.Render("Queue empty"))
	} else {
		offset := m.ScrollOffset[PanelQueue]
		visible := m.visibleItems(len(rows), offset, height-2)

		for i := offset; i < offset+visible && i < len(rows); i++ {
			content.WriteString(m.formatMutationRow(&rows[i]))
			content.WriteString("\n")
		}
	}

	return m.wrapPanel("MUTATION QUEUE", content.String(), height, PanelQueue)
}

// renderHistoryPanel renders the recent sync history (Panel 3)
func (m Model) renderHistoryPanel(height int) string {
	var content strings.Builder

	if len(m.History) == 0 {
		content.WriteString(subtleStyle.Render("No sync activity yet"))
	} else {
		// Newest last in storage; show newest first here.
		offset := m.ScrollOffset[PanelHistory]
		total := len(m.History)
		visible := m.visibleItems(total, offset, height-2)

		for i := 0; i < visible; i++ {
			idx := total - 1 - offset - i
			if idx < 0 {
				break
			}
			content.WriteString(m.formatHistoryRow(&m.History[idx]))
			content.WriteString("\n")
		}
	}

	return m.wrapPanel("SYNC HISTORY", content.String(), height, PanelHistory)
}

// renderFooter renders the footer with key bindings and refresh time
func (m Model) renderFooter() string {
	keys := helpStyle.Render("q:quit  tab:switch  j/k:scroll  r:refresh  ?:help")

	refresh := timestampStyle.Render(fmt.Sprintf("Last: %s", m.LastRefresh.Format("15:04:05")))

	padding := m.Width - lipgloss.Width(keys) - lipgloss.Width(refresh) - 2
	if padding < 0 {
		padding = 0
	}

	return fmt.Sprintf(" %s%s%s", keys, strings.Repeat(" ", padding), refresh)
}

// renderHelp renders the help overlay
func (m Model) renderHelp() string {
	help := `
SYNC MONITOR - Key Bindings

NAVIGATION:
  Tab / Shift+Tab   Switch between panels
  1 / 2 / 3         Jump to panel
  j / k             Scroll active panel

ACTIONS:
  r                 Force refresh
  q / Ctrl+C        Quit

Press ? to close help
`
	return helpStyle.Render(help)
}

// wrapPanel wraps content in a panel with title and border
func (m Model) wrapPanel(title, content string, height int, panel Panel) string {
	style := panelStyle
	if m.ActivePanel == panel {
		style = activePanelStyle
	}

	titleStr := panelTitleStyle.Render(title)

	contentWidth := m.Width - 4 // Account for border and padding

	lines := strings.Split(content, "\n")
	contentHeight := height - 3 // Title + border

	for len(lines) < contentHeight {
		lines = append(lines, "")
	}
	if len(lines) > contentHeight {
		lines = lines[:contentHeight]
	}

	for i, line := range lines {
		if lipgloss.Width(line) > contentWidth {
			lines[i] = truncateString(line, contentWidth)
		}
	}

	body := strings.Join(lines, "\n")

	inner := lipgloss.JoinVertical(lipgloss.Left, titleStr, body)

	return style.Width(m.Width - 2).Render(inner)
}

// formatMutationRow formats a queued mutation for the queue panel
func (m Model) formatMutationRow(mut *store.QueuedMutation) string {
	parts := []string{
		titleStyle.Render(fmt.Sprintf("#%d", mut.ID)),
		formatState(mut.State),
		string(mut.Op),
		mut.Table + "/" + mut.RecordID,
	}
	if mut.RetryCount > 0 {
		parts = append(parts, subtleStyle.Render(fmt.Sprintf("retries:%d", mut.RetryCount)))
	}
	if mut.LastError != "" {
		parts = append(parts, truncateString(mut.LastError, m.Width-60))
	}
	return strings.Join(parts, "  ")
}

// formatHistoryRow formats a sync history row
func (m Model) formatHistoryRow(e *store.HistoryEntry) string {
	timestamp := timestampStyle.Render(e.Timestamp.Local().Format("15:04:05"))
	badge := formatDirectionBadge(e.Direction)

	detail := ""
	if e.Detail != "" {
		detail = " " + subtleStyle.Render(e.Detail)
	}

	return fmt.Sprintf("%s %s %s %s%s", timestamp, badge, e.Op, e.Table+"/"+e.RecordID, detail)
}

// visibleItems calculates how many items can be shown given scroll offset and height
func (m Model) visibleItems(total, offset, height int) int {
	remaining := total - offset
	if remaining > height {
		return height
	}
	return remaining
}

// truncateString truncates a string to maxLen with ellipsis
func truncateString(s string, maxLen int) string {
	if maxLen <= 3 {
		return s
	}
	if lipgloss.Width(s) <= maxLen {
		return s
	}
	if len(s) > maxLen-3 {
		return s[:maxLen-3] + "..."
	}
	return s
}

// Prominent style for the unresolved-conflict alert
var conflictAlertStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("0")).
	Background(errorColor)
