// Package output provides styled terminal output helpers (success, error,
// warning, mutation/conflict formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/marcus/offsync/internal/models"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	statusStyles = map[models.Status]lipgloss.Style{
		models.StatusPending:    lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.StatusSyncing:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.StatusCompleted:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		models.StatusConflicted: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// Success prints a success message.
func Success(format string, args ...any) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message.
func Error(format string, args ...any) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message.
func Warning(format string, args ...any) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints a plain message.
func Info(format string, args ...any) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as indented JSON.
func JSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Mutation prints one mutation record as a single line.
func Mutation(m *models.MutationRecord) {
	status := statusStyles[m.Status].Render(string(m.Status))
	retries := ""
	if m.RetryCount > 0 {
		retries = subtleStyle.Render(fmt.Sprintf(" retries=%d", m.RetryCount))
	}
	fmt.Printf("%s  %-10s %s/%s %s%s\n",
		titleStyle.Render(m.ID),
		status,
		m.ResourceKind,
		string(m.Kind),
		subtleStyle.Render(m.RecordedAt.Local().Format(time.RFC3339)),
		retries,
	)
}

// Conflict prints one ledger entry as a single line.
func Conflict(e *models.ConflictLedgerEntry) {
	state := warningStyle.Render("open")
	if e.Resolved() {
		state = successStyle.Render(fmt.Sprintf("resolved(%s)", e.Resolution.Choice))
	}
	fmt.Printf("%s  %s mutation=%s fields=%d %s\n",
		titleStyle.Render(e.ID),
		state,
		e.MutationID,
		len(e.FieldConflicts),
		subtleStyle.Render(e.CreatedAt.Local().Format(time.RFC3339)),
	)
}
