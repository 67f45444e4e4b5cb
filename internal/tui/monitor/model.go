// Package monitor implements the live sync dashboard TUI: connectivity,
// queue depth, open conflicts, and the recent sync history, refreshed on
// an interval.
package monitor

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/harlan/fieldsync/internal/status"
	"github.com/harlan/fieldsync/internal/store"
)

// Panel represents which panel is active
type Panel int

const (
	PanelStatus Panel = iota
	PanelQueue
	PanelHistory
)

// Model is the main Bubble Tea model for the monitor TUI
type Model struct {
	Store  *store.Store
	Prober status.Prober

	// Window dimensions
	Width  int
	Height int

	// Panel data
	Online      bool
	LastSyncAt  *time.Time
	Pending     []store.QueuedMutation
	DeadLetters []store.QueuedMutation
	Conflicts   []store.Conflict
	History     []store.HistoryEntry

	// UI state
	ActivePanel  Panel
	ScrollOffset map[Panel]int
	ShowHelp     bool
	LastRefresh  time.Time
	Err          error

	// Configuration
	RefreshInterval time.Duration
}

// MinWidth is the minimum terminal width for proper display
const MinWidth = 40

// MinHeight is the minimum terminal height for proper display
const MinHeight = 15

// TickMsg triggers a data refresh
type TickMsg time.Time

// RefreshDataMsg carries refreshed data
type RefreshDataMsg struct {
	Online      bool
	LastSyncAt  *time.Time
	Pending     []store.QueuedMutation
	DeadLetters []store.QueuedMutation
	Conflicts   []store.Conflict
	History     []store.HistoryEntry
	Err         error
	Timestamp   time.Time
}

// NewModel creates a new monitor model
func NewModel(st *store.Store, prober status.Prober, interval time.Duration) Model {
	return Model{
		Store:           st,
		Prober:          prober,
		RefreshInterval: interval,
		ScrollOffset:    make(map[Panel]int),
		ActivePanel:     PanelStatus,
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.fetchData(),
		m.scheduleTick(),
	)
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		return m, nil

	case TickMsg:
		return m, tea.Batch(m.fetchData(), m.scheduleTick())

	case RefreshDataMsg:
		m.Online = msg.Online
		m.LastSyncAt = msg.LastSyncAt
		m.Pending = msg.Pending
		m.DeadLetters = msg.DeadLetters
		m.Conflicts = msg.Conflicts
		m.History = msg.History
		m.Err = msg.Err
		m.LastRefresh = msg.Timestamp
		return m, nil
	}

	return m, nil
}

// handleKey processes key input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "tab":
		m.ActivePanel = (m.ActivePanel + 1) % 3
		return m, nil

	case "shift+tab":
		m.ActivePanel = (m.ActivePanel + 2) % 3
		return m, nil

	case "1":
		m.ActivePanel = PanelStatus
		return m, nil

	case "2":
		m.ActivePanel = PanelQueue
		return m, nil

	case "3":
		m.ActivePanel = PanelHistory
		return m, nil

	case "j", "down":
		m.ScrollOffset[m.ActivePanel]++
		return m, nil

	case "k", "up":
		if m.ScrollOffset[m.ActivePanel] > 0 {
			m.ScrollOffset[m.ActivePanel]--
		}
		return m, nil

	case "r":
		return m, m.fetchData()

	case "?":
		m.ShowHelp = !m.ShowHelp
		return m, nil
	}

	return m, nil
}

// View implements tea.Model
func (m Model) View() string {
	return m.renderView()
}

// scheduleTick returns a command that sends a TickMsg after the refresh interval
func (m Model) scheduleTick() tea.Cmd {
	return tea.Tick(m.RefreshInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// fetchData returns a command that fetches all data and sends a RefreshDataMsg
func (m Model) fetchData() tea.Cmd {
	return func() tea.Msg {
		return FetchData(m.Store, m.Prober)
	}
}
