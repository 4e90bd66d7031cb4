package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/scenepilot/internal/events"
	"github.com/aristath/scenepilot/internal/scheduler"
	"github.com/aristath/scenepilot/internal/task"
)

// QueuePaneModel shows queue progress, workers, the current scene and
// governor backpressure.
type QueuePaneModel struct {
	progress     events.QueueProgressEvent
	workers      []scheduler.WorkerInfo
	stats        scheduler.Stats
	scene        string
	backpressure string
	pressureAt   time.Time
	width        int
	height       int
	focused      bool
}

// NewQueuePaneModel creates an empty queue pane.
func NewQueuePaneModel() QueuePaneModel {
	return QueuePaneModel{scene: "unknown"}
}

// Update handles messages for the queue pane.
func (m QueuePaneModel) Update(msg tea.Msg) (QueuePaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case events.QueueProgressEvent:
		m.progress = msg

	case events.SceneChangedEvent:
		m.scene = msg.To

	case events.BackpressureEvent:
		m.backpressure = fmt.Sprintf("%s (cpu %.0f%%, mem %.0f%%, level %d)",
			msg.Reason, msg.CPUPercent, msg.MemoryPercent, msg.Level)
		m.pressureAt = msg.Timestamp

	case snapshotMsg:
		m.workers = msg.workers
		m.stats = msg.stats
	}

	return m, nil
}

// View renders the queue pane.
func (m QueuePaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder
	p := m.progress

	title := StyleTitle.Render("Queue")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("Total:     %d\n", p.Total))
	b.WriteString(fmt.Sprintf("Completed: %s\n", StyleStatusComplete.Render(fmt.Sprintf("%d", p.Completed))))
	b.WriteString(fmt.Sprintf("Running:   %s\n", StyleStatusRunning.Render(fmt.Sprintf("%d", p.Running+p.Paused))))
	b.WriteString(fmt.Sprintf("Failed:    %s\n", StyleStatusFailed.Render(fmt.Sprintf("%d", p.Failed))))
	b.WriteString(fmt.Sprintf("Queued:    %s\n", StyleStatusPending.Render(fmt.Sprintf("%d", p.Queued))))

	levels := make([]string, 0, task.NumPriorities)
	for lvl, n := range p.ByLevel {
		levels = append(levels, fmt.Sprintf("%s=%d", task.Priority(lvl), n))
	}
	b.WriteString(StyleStatusPending.Render(strings.Join(levels, " ")))
	b.WriteString("\n\n")

	if p.Total > 0 {
		barWidth := min(m.width-4, 40)
		completedWidth := (p.Completed * barWidth) / p.Total
		failedWidth := (p.Failed * barWidth) / p.Total
		runningWidth := ((p.Running + p.Paused) * barWidth) / p.Total
		queuedWidth := barWidth - completedWidth - failedWidth - runningWidth

		bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, completedWidth)))
		bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
		bar += StyleStatusRunning.Render(strings.Repeat("-", max(0, runningWidth)))
		bar += StyleStatusPending.Render(strings.Repeat(".", max(0, queuedWidth)))

		b.WriteString(fmt.Sprintf("[%s]  %d/%d\n\n", bar, p.Completed, p.Total))
	}

	b.WriteString(fmt.Sprintf("Scene:     %s\n", m.scene))
	if m.backpressure != "" {
		b.WriteString(fmt.Sprintf("Governor:  %s at %s\n", StyleWarning.Render(m.backpressure), stamp(m.pressureAt)))
	}
	if m.stats.Vetoes > 0 || m.stats.Requeued > 0 {
		b.WriteString(fmt.Sprintf("Vetoes:    %d   Requeues: %d\n", m.stats.Vetoes, m.stats.Requeued))
	}

	if len(m.workers) > 0 {
		b.WriteString("\n")
		b.WriteString(StyleTitle.Render("Workers"))
		b.WriteString("\n")
		for _, w := range m.workers {
			current := StyleStatusPending.Render("idle")
			if w.Busy {
				current = StyleStatusRunning.Render(shortID(w.CurrentTask))
			}
			b.WriteString(fmt.Sprintf("#%d %-10s done %-4d %v\n",
				w.ID, current, w.Completed, w.ExecutionTime.Round(time.Second)))
		}
	}

	return paneStyle(m.focused).
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

// SetSize updates the pane dimensions.
func (m *QueuePaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *QueuePaneModel) SetFocused(focused bool) {
	m.focused = focused
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
