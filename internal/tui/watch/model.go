// Package watch is a small Bubble Tea dashboard over the sync engine: queue
// counts by status plus the tail of the event bus, refreshed on a timer.
package watch

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/marcus/offsync/internal/events"
	"github.com/marcus/offsync/internal/models"
)

// DataSource supplies the queue counts shown in the header panel.
type DataSource interface {
	CountByStatus() (map[models.Status]int, error)
}

const refreshInterval = time.Second

// Model is the Bubble Tea model for the watch dashboard.
type Model struct {
	Source DataSource
	Bus    *events.Bus

	Width  int
	Height int

	Counts      map[models.Status]int
	Events      []events.Event
	Online      bool
	LastRefresh time.Time
	Err         error
}

// New creates a watch model over the given data source and event bus.
func New(source DataSource, bus *events.Bus) Model {
	return Model{Source: source, Bus: bus}
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init starts the refresh loop.
func (m Model) Init() tea.Cmd {
	return tick()
}

// Update handles resize, quit keys, and periodic refresh.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		return m, nil

	case tickMsg:
		m.refresh()
		return m, tick()
	}
	return m, nil
}

func (m *Model) refresh() {
	counts, err := m.Source.CountByStatus()
	if err != nil {
		m.Err = err
	} else {
		m.Err = nil
		m.Counts = counts
	}

	recent := m.Bus.Recent()
	for _, ev := range recent {
		switch ev.(type) {
		case events.Online:
			m.Online = true
		case events.Offline:
			m.Online = false
		}
	}
	m.Events = recent
	m.LastRefresh = time.Now()
}
