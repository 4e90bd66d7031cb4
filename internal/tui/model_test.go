package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aristath/scenepilot/internal/events"
	"github.com/aristath/scenepilot/internal/scheduler"
)

type fakeSource struct {
	workers []scheduler.WorkerInfo
	stats   scheduler.Stats
}

func (f fakeSource) Workers() []scheduler.WorkerInfo { return f.workers }
func (f fakeSource) Stats() scheduler.Stats          { return f.stats }

func sized(t *testing.T, m Model) Model {
	t.Helper()
	next, _ := m.Update(tea.WindowSizeMsg{Width: 160, Height: 40})
	return next.(Model)
}

func send(m Model, msgs ...tea.Msg) Model {
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		m = next.(Model)
	}
	return m
}

func TestModel_TracksTaskLifecycle(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	m := sized(t, New(bus, nil, 0))

	now := time.Now()
	m = send(m,
		events.TaskQueuedEvent{ID: "exec-1", Name: "claim-rewards", Type: "collection", Priority: "high", Timestamp: now},
		events.TaskStartedEvent{ID: "exec-1", Name: "claim-rewards", WorkerID: 1, Timestamp: now},
		events.TaskAttemptEvent{ID: "exec-1", Attempt: 0, Kind: "detection-failure", Err: "claim_button not detected", Recovered: true, Timestamp: now},
		events.TaskFinishedEvent{ID: "exec-1", State: "completed", Attempts: 2, Duration: 3 * time.Second, Timestamp: now},
	)

	st := m.taskPane.Selected()
	if st == nil {
		t.Fatal("expected a selected task")
	}
	if st.Status != "completed" {
		t.Errorf("expected status completed, got %s", st.Status)
	}
	if st.WorkerID != 1 {
		t.Errorf("expected worker 1, got %d", st.WorkerID)
	}
	if len(st.Log) != 4 {
		t.Errorf("expected 4 log lines, got %d", len(st.Log))
	}
	if !strings.Contains(st.Log[2], "(recovered)") {
		t.Errorf("expected recovered attempt line, got %q", st.Log[2])
	}

	view := m.View()
	if !strings.Contains(view, "claim-rewards") {
		t.Error("expected task name in view")
	}
}

func TestModel_QueuePane(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	m := sized(t, New(bus, nil, 0))

	m = send(m,
		events.QueueProgressEvent{Total: 4, Queued: 1, Running: 1, Completed: 2, ByLevel: [5]int{0, 1, 0, 0, 0}},
		events.SceneChangedEvent{From: "home", To: "battle", Confidence: 0.9},
		events.BackpressureEvent{Reason: "cpu", CPUPercent: 95, Level: 1, Timestamp: time.Now()},
	)

	view := m.View()
	for _, want := range []string{"Queue", "battle", "cpu", "high=1", "2/4"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected %q in view", want)
		}
	}
}

func TestModel_SnapshotPolling(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	src := fakeSource{
		workers: []scheduler.WorkerInfo{
			{ID: 0, Busy: true, CurrentTask: "abcdef1234567890", Completed: 3},
			{ID: 1},
		},
		stats: scheduler.Stats{Vetoes: 2},
	}
	m := sized(t, New(bus, src, time.Hour))

	msg := m.poll(0)()
	next, cmd := m.Update(msg)
	m = next.(Model)

	if cmd == nil {
		t.Error("expected the next poll to be scheduled")
	}
	if len(m.queuePane.workers) != 2 {
		t.Fatalf("expected 2 workers, got %d", len(m.queuePane.workers))
	}

	view := m.View()
	if !strings.Contains(view, "abcdef12") {
		t.Error("expected shortened busy task id in view")
	}
	if !strings.Contains(view, "Vetoes:") {
		t.Error("expected veto count in view")
	}
}

func TestModel_NilSourceDoesNotPoll(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	m := New(bus, nil, 0)

	if cmd := m.poll(time.Second); cmd != nil {
		t.Error("expected no poll command without a source")
	}
}

func TestModel_FocusAndSelection(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	m := sized(t, New(bus, nil, 0))

	m = send(m,
		events.TaskQueuedEvent{ID: "a", Name: "first"},
		events.TaskQueuedEvent{ID: "b", Name: "second"},
	)
	if got := m.taskPane.Selected().ID; got != "a" {
		t.Fatalf("expected first task selected, got %s", got)
	}

	m = send(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	if got := m.taskPane.Selected().ID; got != "b" {
		t.Errorf("expected j to select second task, got %s", got)
	}

	m = send(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("g")})
	if got := m.taskPane.Selected().ID; got != "a" {
		t.Errorf("expected g to select the first task, got %s", got)
	}
	m = send(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("G")})
	if got := m.taskPane.Selected().ID; got != "b" {
		t.Errorf("expected G to select the last task, got %s", got)
	}

	m = send(m, tea.KeyMsg{Type: tea.KeyTab})
	if m.focusedPane != PaneQueue {
		t.Errorf("expected queue pane focused after tab, got %d", m.focusedPane)
	}

	// Selection keys are ignored while the queue pane has focus.
	m = send(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("k")})
	if got := m.taskPane.Selected().ID; got != "b" {
		t.Errorf("expected selection unchanged, got %s", got)
	}

	m = send(m, tea.KeyMsg{Type: tea.KeyShiftTab})
	if m.focusedPane != PaneTasks {
		t.Errorf("expected tasks pane focused after shift+tab, got %d", m.focusedPane)
	}
}

func TestModel_Quit(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	m := New(bus, nil, 0)

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if !next.(Model).quitting {
		t.Error("expected quitting flag")
	}
	if next.View() != "Goodbye!\n" {
		t.Errorf("unexpected final view %q", next.View())
	}
}
