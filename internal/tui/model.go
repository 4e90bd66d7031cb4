// Package tui is a read-only terminal monitor for a running pool. It
// follows the event bus and polls pool snapshots.
package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/scenepilot/internal/events"
	"github.com/aristath/scenepilot/internal/scheduler"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneTasks PaneID = iota
	PaneQueue
	numPanes
)

// Source supplies pool snapshots. *scheduler.Pool implements it.
type Source interface {
	Workers() []scheduler.WorkerInfo
	Stats() scheduler.Stats
}

// snapshotMsg carries one poll of the Source.
type snapshotMsg struct {
	workers []scheduler.WorkerInfo
	stats   scheduler.Stats
}

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	taskPane     TaskPaneModel
	queuePane    QueuePaneModel
	focusedPane  PaneID
	eventSub     <-chan events.Event
	source       Source
	pollInterval time.Duration
	width        int
	height       int
	quitting     bool
}

// New creates a monitor subscribed to every topic of bus. source may be nil.
func New(bus *events.Bus, source Source, pollInterval time.Duration) Model {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return Model{
		taskPane:     NewTaskPaneModel(),
		queuePane:    NewQueuePaneModel(),
		focusedPane:  PaneTasks,
		eventSub:     bus.SubscribeAll(256),
		source:       source,
		pollInterval: pollInterval,
	}
}

// Init starts listening for events and polling snapshots.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.eventSub), m.poll(0))
}

// waitForEvent returns a command that waits for the next event from the bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

func (m Model) poll(after time.Duration) tea.Cmd {
	if m.source == nil {
		return nil
	}
	src := m.source
	read := func(time.Time) tea.Msg {
		return snapshotMsg{workers: src.Workers(), stats: src.Stats()}
	}
	if after <= 0 {
		return func() tea.Msg { return read(time.Now()) }
	}
	return tea.Tick(after, read)
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case KeyTab:
			m.focusedPane = (m.focusedPane + 1) % numPanes
			m.updateFocusStates()

		case KeyShiftTab:
			m.focusedPane = (m.focusedPane + numPanes - 1) % numPanes
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneTasks
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PaneQueue
			m.updateFocusStates()

		default:
			if m.focusedPane == PaneTasks {
				var cmd tea.Cmd
				m.taskPane, cmd = m.taskPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()

	case tickMsg:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd)

	case snapshotMsg:
		m.queuePane, _ = m.queuePane.Update(msg)
		cmds = append(cmds, m.poll(m.pollInterval))

	case events.Event:
		// Every event goes to both panes; each ignores what it does not show.
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd)
		m.queuePane, _ = m.queuePane.Update(msg)
		cmds = append(cmds, waitForEvent(m.eventSub))
	}

	return m, tea.Batch(cmds...)
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, m.taskPane.View(), m.queuePane.View())
	return lipgloss.JoinVertical(lipgloss.Left, mainContent, HelpView())
}

// computeLayout splits the screen 60/40 and reserves one line for help.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 60) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 1

	m.taskPane.SetSize(leftWidth, availableHeight)
	m.queuePane.SetSize(rightWidth, availableHeight)
	m.updateFocusStates()
}

func (m *Model) updateFocusStates() {
	m.taskPane.SetFocused(m.focusedPane == PaneTasks)
	m.queuePane.SetFocused(m.focusedPane == PaneQueue)
}
