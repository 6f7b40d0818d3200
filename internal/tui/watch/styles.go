package watch

import "github.com/charmbracelet/lipgloss"

var (
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("255"))

	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	kindStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("141"))
	onlineStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	offlineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)
