package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/scenepilot/internal/events"
)

// listWidth is the width of the task list column.
const listWidth = 28

// TaskState is what the monitor knows about one execution.
type TaskState struct {
	ID        string
	Name      string
	Type      string
	Priority  string
	Status    string // queued, running, completed, failed, cancelled, timeout
	WorkerID  int
	Log       []string
	StartTime time.Time
	Duration  time.Duration
}

// TaskPaneModel is the execution list with a per-execution event log.
type TaskPaneModel struct {
	tasks       map[string]*TaskState // execution ID -> state
	taskOrder   []string              // submission order for display
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
	updateTag   int // for debouncing
}

// NewTaskPaneModel creates an empty task pane.
func NewTaskPaneModel() TaskPaneModel {
	return TaskPaneModel{
		tasks:    make(map[string]*TaskState),
		viewport: viewport.New(0, 0),
	}
}

// tickMsg debounces viewport refreshes.
type tickMsg struct {
	tag int
}

// Update handles messages for the task pane.
func (m TaskPaneModel) Update(msg tea.Msg) (TaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.taskOrder)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		case KeyFirst:
			m.selectedIdx = 0
			m.updateViewportContent()
		case KeyLast:
			m.selectedIdx = max(0, len(m.taskOrder)-1)
			m.updateViewportContent()
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.TaskQueuedEvent:
		st := m.ensure(msg.ID)
		st.Name = msg.Name
		st.Type = msg.Type
		st.Priority = msg.Priority
		st.Status = "queued"
		st.Log = append(st.Log, fmt.Sprintf("%s queued (%s, %s)", stamp(msg.Timestamp), msg.Type, msg.Priority))
		return m, m.refresh(msg.ID)

	case events.TaskStartedEvent:
		st := m.ensure(msg.ID)
		if st.Name == "" {
			st.Name = msg.Name
		}
		st.Status = "running"
		st.WorkerID = msg.WorkerID
		st.StartTime = msg.Timestamp
		st.Log = append(st.Log, fmt.Sprintf("%s started on worker %d", stamp(msg.Timestamp), msg.WorkerID))
		return m, m.refresh(msg.ID)

	case events.TaskRequeuedEvent:
		if st, ok := m.tasks[msg.ID]; ok {
			st.Log = append(st.Log, fmt.Sprintf("%s waiting on %s", stamp(msg.Timestamp), strings.Join(msg.WaitingOn, ", ")))
			return m, m.refresh(msg.ID)
		}

	case events.TaskAttemptEvent:
		if st, ok := m.tasks[msg.ID]; ok {
			line := fmt.Sprintf("%s attempt %d failed [%s]: %s", stamp(msg.Timestamp), msg.Attempt, msg.Kind, msg.Err)
			if msg.Recovered {
				line += " (recovered)"
			}
			st.Log = append(st.Log, line)
			return m, m.refresh(msg.ID)
		}

	case events.TaskFinishedEvent:
		st := m.ensure(msg.ID)
		st.Status = msg.State
		st.Duration = msg.Duration
		line := fmt.Sprintf("\n[%s after %d attempt(s) in %v]", msg.State, msg.Attempts, msg.Duration.Round(time.Millisecond))
		if msg.Err != "" {
			line += "\n" + msg.Err
		}
		st.Log = append(st.Log, line)
		if m.selectedTaskID() == msg.ID {
			m.updateViewportContent()
		}

	case tickMsg:
		if msg.tag == m.updateTag {
			m.updateViewportContent()
		}
	}

	return m, cmd
}

func (m *TaskPaneModel) ensure(id string) *TaskState {
	st, ok := m.tasks[id]
	if !ok {
		st = &TaskState{ID: id, Name: id, WorkerID: -1}
		m.tasks[id] = st
		m.taskOrder = append(m.taskOrder, id)
		if len(m.taskOrder) == 1 {
			m.selectedIdx = 0
			m.updateViewportContent()
		}
	}
	return st
}

// refresh schedules a debounced viewport update when id is selected.
func (m *TaskPaneModel) refresh(id string) tea.Cmd {
	if m.selectedTaskID() != id {
		return nil
	}
	m.updateTag++
	tag := m.updateTag
	return tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
		return tickMsg{tag: tag}
	})
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderTaskList(),
		lipgloss.NewStyle().
			Width(m.width-listWidth-4).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	return paneStyle(m.focused).
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m TaskPaneModel) renderTaskList() string {
	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(listWidth, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.taskOrder) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	}
	for i, id := range m.taskOrder {
		st := m.tasks[id]
		name := st.Name
		if len(name) > listWidth-6 {
			name = name[:listWidth-9] + "..."
		}
		line := fmt.Sprintf("%s %s", StatusIcon(st.Status), name)
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(listWidth).
		Height(m.height - 2).
		Render(b.String())
}


func (m TaskPaneModel) selectedTaskID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.taskOrder) {
		return m.taskOrder[m.selectedIdx]
	}
	return ""
}

// Selected returns the selected task, or nil.
func (m TaskPaneModel) Selected() *TaskState {
	return m.tasks[m.selectedTaskID()]
}

func (m *TaskPaneModel) updateViewportContent() {
	st := m.Selected()
	if st == nil {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}
	header := fmt.Sprintf("%s  %s/%s  %s", st.ID, st.Type, st.Priority, st.Status)
	m.viewport.SetContent(header + "\n\n" + strings.Join(st.Log, "\n"))
	m.viewport.GotoBottom()
}

func (m *TaskPaneModel) resizeViewport() {
	m.viewport.Width = max(m.width-listWidth-4, 10)
	m.viewport.Height = max(m.height-4, 5)
}

// SetSize updates the pane dimensions.
func (m *TaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *TaskPaneModel) SetFocused(focused bool) {
	m.focused = focused
}

func stamp(t time.Time) string {
	return t.Format("15:04:05")
}
