// Package tui renders a live stream status view for `ralph status
// --watch`: a periodic tick recomputes the derived statuses and a table
// shows each stream's state and progress.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ralphloop/ralph/internal/stream"
)

// refreshInterval is how often statuses are recomputed.
const refreshInterval = 2 * time.Second

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7F849C"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F38BA8"))

	statusStyles = map[stream.Status]lipgloss.Style{
		stream.StatusNotInitialized: lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086")),
		stream.StatusReady:          lipgloss.NewStyle().Foreground(lipgloss.Color("#89B4FA")),
		stream.StatusRunning:        lipgloss.NewStyle().Foreground(lipgloss.Color("#F9E2AF")),
		stream.StatusCompleted:      lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E3A1")),
		stream.StatusMerged:         lipgloss.NewStyle().Foreground(lipgloss.Color("#CBA6F7")),
	}
)

// Fetch recomputes the stream statuses. Injected so the model never
// touches git directly.
type Fetch func(ctx context.Context) ([]*stream.Info, error)

type statusMsg struct {
	infos []*stream.Info
	err   error
}

type tickMsg time.Time

// Model is the watch view.
type Model struct {
	fetch   Fetch
	spinner spinner.Model
	infos   []*stream.Info
	err     error
	width   int
}

// NewModel creates a watch model over the given status source.
func NewModel(fetch Fetch) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{fetch: fetch, spinner: sp}
}

// Init starts the spinner and the first status fetch.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetchCmd(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) fetchCmd() tea.Cmd {
	return func() tea.Msg {
		infos, err := m.fetch(context.Background())
		return statusMsg{infos: infos, err: err}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		return m, nil

	case statusMsg:
		m.infos = msg.infos
		m.err = msg.err
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.fetchCmd(), tick())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the status table.
func (m Model) View() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("ralph streams"))
	sb.WriteString(" " + m.spinner.View() + "\n\n")

	if m.err != nil {
		sb.WriteString(errStyle.Render("error: "+m.err.Error()) + "\n")
		return sb.String()
	}
	if len(m.infos) == 0 {
		sb.WriteString("no streams configured\n")
		return sb.String()
	}

	sb.WriteString(headerStyle.Render(fmt.Sprintf("%-12s %-16s %-20s %s", "STREAM", "STATUS", "BRANCH", "STORIES")))
	sb.WriteString("\n")
	for _, info := range m.infos {
		style, ok := statusStyles[info.Status]
		if !ok {
			style = lipgloss.NewStyle()
		}
		line := fmt.Sprintf("%-12s %-16s %-20s %d/%d",
			info.Name, info.Status, info.Branch, info.Completed, info.Total)
		sb.WriteString(style.Render(line) + "\n")
	}

	sb.WriteString("\n" + headerStyle.Render("q to quit") + "\n")
	return sb.String()
}

// Run starts the watch view and blocks until the user quits.
func Run(fetch Fetch) error {
	_, err := tea.NewProgram(NewModel(fetch), tea.WithAltScreen()).Run()
	return err
}
