// Package output provides styled terminal output helpers (success, error,
// warning, record and queue formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/harlan/fieldsync/internal/store"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dirtyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	cleanStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	stateStyles  = map[string]lipgloss.Style{
		store.StatePending:  lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		store.StateInFlight: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		store.StateDead:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// Success prints a success message
func Success(format string, args ...interface{}) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...interface{}) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Error codes for structured JSON output
const (
	ErrCodeNotFound      = "not_found"
	ErrCodeInvalidInput  = "invalid_input"
	ErrCodeConflict      = "conflict"
	ErrCodeStorageFull   = "storage_full"
	ErrCodeUnavailable   = "storage_unavailable"
	ErrCodeUnauthorized  = "unauthorized"
	ErrCodeDatabaseError = "database_error"
)

// JSONError outputs an error as JSON for --json consumers.
func JSONError(code, message string) {
	data, _ := json.Marshal(map[string]map[string]string{
		"error": {"code": code, "message": message},
	})
	fmt.Println(string(data))
}

// FormatState formats a mutation state with color
func FormatState(state string) string {
	style, ok := stateStyles[state]
	if !ok {
		return state
	}
	return style.Render(fmt.Sprintf("[%s]", state))
}

// FormatRecordShort formats a cached record on one line.
func FormatRecordShort(rec *store.CachedRecord) string {
	var parts []string
	parts = append(parts, titleStyle.Render(rec.Table+"/"+rec.ID))
	if rec.Dirty {
		parts = append(parts, dirtyStyle.Render("[dirty]"))
	} else {
		parts = append(parts, cleanStyle.Render("[synced]"))
	}
	if rec.SyncedAt != nil {
		parts = append(parts, subtleStyle.Render(FormatTimeAgo(*rec.SyncedAt)))
	}
	return strings.Join(parts, "  ")
}

// FormatMutation formats a queued mutation on one line.
func FormatMutation(mut *store.QueuedMutation) string {
	var parts []string
	parts = append(parts, titleStyle.Render(fmt.Sprintf("#%d", mut.ID)))
	parts = append(parts, string(mut.Op))
	parts = append(parts, mut.Table+"/"+mut.RecordID)
	parts = append(parts, FormatState(mut.State))
	if mut.RetryCount > 0 {
		parts = append(parts, subtleStyle.Render(fmt.Sprintf("%d retries", mut.RetryCount)))
	}
	if mut.LastError != "" {
		parts = append(parts, errorStyle.Render(mut.LastError))
	}
	return strings.Join(parts, "  ")
}

// FormatConflict formats a conflict header plus both payloads.
func FormatConflict(c *store.Conflict) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(fmt.Sprintf("Conflict #%d: %s/%s", c.ID, c.Table, c.RecordID)))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Detected: %s\n", FormatTimeAgo(c.DetectedAt)))
	sb.WriteString(subtleStyle.Render("Local:"))
	sb.WriteString("\n")
	sb.WriteString(indentJSON(c.LocalData))
	sb.WriteString("\n")
	sb.WriteString(subtleStyle.Render("Remote:"))
	sb.WriteString("\n")
	sb.WriteString(indentJSON(c.RemoteData))
	return sb.String()
}

func indentJSON(data json.RawMessage) string {
	if len(data) == 0 || string(data) == "null" {
		return "  (deleted)"
	}
	var buf strings.Builder
	var obj any
	if err := json.Unmarshal(data, &obj); err != nil {
		return "  " + string(data)
	}
	pretty, err := json.MarshalIndent(obj, "  ", "  ")
	if err != nil {
		return "  " + string(data)
	}
	buf.WriteString("  ")
	buf.Write(pretty)
	return buf.String()
}

// FormatHistoryEntry formats one sync history row.
func FormatHistoryEntry(e *store.HistoryEntry) string {
	var parts []string
	parts = append(parts, subtleStyle.Render(e.Timestamp.Local().Format("2006-01-02 15:04:05")))
	parts = append(parts, e.Direction)
	parts = append(parts, e.Op)
	parts = append(parts, e.Table+"/"+e.RecordID)
	if e.Detail != "" {
		parts = append(parts, subtleStyle.Render(e.Detail))
	}
	return strings.Join(parts, "  ")
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1m ago"
		}
		return fmt.Sprintf("%dm ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1h ago"
		}
		return fmt.Sprintf("%dh ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	default:
		return t.Format("2006-01-02")
	}
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nCONFLICTS:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}
