package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/marcus/offsync/internal/events"
	"github.com/marcus/offsync/internal/models"
)

// View renders the two panels: queue summary and recent events.
func (m Model) View() string {
	if m.Width == 0 {
		return "loading..."
	}

	var b strings.Builder
	b.WriteString(m.headerView())
	b.WriteString("\n")
	b.WriteString(m.eventsView())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("q: quit"))
	return b.String()
}

func (m Model) headerView() string {
	conn := offlineStyle.Render("OFFLINE")
	if m.Online {
		conn = onlineStyle.Render("ONLINE")
	}

	counts := fmt.Sprintf("pending %d  syncing %d  completed %d  conflicted %d",
		m.Counts[models.StatusPending],
		m.Counts[models.StatusSyncing],
		m.Counts[models.StatusCompleted],
		m.Counts[models.StatusConflicted],
	)
	if m.Err != nil {
		counts = errStyle.Render("error: " + m.Err.Error())
	}

	line := lipgloss.JoinHorizontal(lipgloss.Top,
		panelTitleStyle.Render("offsync"), "  ", conn, "  ", counts)
	return panelStyle.Width(m.Width - 2).Render(line)
}

func (m Model) eventsView() string {
	rows := m.Height - 8
	if rows < 3 {
		rows = 3
	}

	evs := m.Events
	if len(evs) > rows {
		evs = evs[len(evs)-rows:]
	}

	var lines []string
	for _, ev := range evs {
		lines = append(lines, eventLine(ev))
	}
	if len(lines) == 0 {
		lines = append(lines, subtleStyle.Render("no events yet"))
	}

	body := panelTitleStyle.Render("Events") + "\n" + strings.Join(lines, "\n")
	return panelStyle.Width(m.Width - 2).Render(body)
}

func eventLine(ev events.Event) string {
	kind := kindStyle.Render(string(ev.EventKind()))
	switch e := ev.(type) {
	case events.ActionRecorded:
		return fmt.Sprintf("%s %s %s/%s", kind, e.Mutation.ID, e.Mutation.ResourceKind, e.Mutation.Kind)
	case events.SyncStarted:
		return fmt.Sprintf("%s pending=%d", kind, e.Pending)
	case events.SyncCompleted:
		return fmt.Sprintf("%s processed=%d conflicts=%d", kind, e.Processed, e.Conflicts)
	case events.ConflictDetected:
		return fmt.Sprintf("%s %s mutation=%s fields=%d", kind, e.ConflictID, e.Mutation.ID, len(e.Conflicts))
	case events.ConflictResolved:
		return fmt.Sprintf("%s %s choice=%s", kind, e.ConflictID, e.Resolution.Choice)
	case events.SyncFailed:
		return fmt.Sprintf("%s %s: %v", kind, e.Mutation.ID, e.Err)
	case events.Initialized:
		return fmt.Sprintf("%s %s", kind, e.At.Local().Format(time.Kitchen))
	default:
		return kind
	}
}
