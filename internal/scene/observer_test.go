package scene

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/scenepilot/internal/device"
	"github.com/aristath/scenepilot/internal/events"
)

func newTestObserver(threshold, history int) *Observer {
	return NewObserver(device.NewSimulator("home"), Config{
		PollInterval:       5 * time.Millisecond,
		StabilityThreshold: threshold,
		HistorySize:        history,
	}, nil, nil)
}

func TestObserver_DebouncesNoise(t *testing.T) {
	o := newTestObserver(3, 8)
	now := time.Now()

	for i := 0; i < 3; i++ {
		o.Observe("home", now)
	}
	require.Equal(t, "home", o.Label())

	// Single-sample flickers never become the state.
	o.Observe("popup", now)
	o.Observe("home", now)
	o.Observe("battle", now)
	o.Observe("battle", now)
	o.Observe("home", now)
	assert.Equal(t, "home", o.Label())
	assert.Len(t, o.History(), 1, "only unknown->home recorded")
}

func TestObserver_ConfirmsAfterThreshold(t *testing.T) {
	o := newTestObserver(3, 8)
	now := time.Now()
	for i := 0; i < 3; i++ {
		o.Observe("home", now)
	}

	var got []Transition
	o.OnTransition(func(tr Transition) { got = append(got, tr) })

	o.Observe("popup", now)
	o.Observe("battle", now)
	o.Observe("battle", now)
	assert.Equal(t, "home", o.Label())
	o.Observe("battle", now)

	require.Equal(t, "battle", o.Label())
	require.Len(t, got, 1)
	assert.Equal(t, "home", got[0].From)
	assert.Equal(t, "battle", got[0].To)
	assert.InDelta(t, 0.75, got[0].Confidence, 1e-9)

	state := o.Current()
	assert.Equal(t, "battle", state.Label)
	assert.InDelta(t, 1.0, state.Stability, 1e-9)
}

func TestObserver_HistoryIsBounded(t *testing.T) {
	o := newTestObserver(1, 3)
	now := time.Now()
	for _, label := range []string{"a", "b", "c", "d", "e"} {
		o.Observe(label, now)
	}

	h := o.History()
	require.Len(t, h, 3)
	assert.Equal(t, "c", h[0].To)
	assert.Equal(t, "d", h[1].To)
	assert.Equal(t, "e", h[2].To)
}

func TestObserver_StableForResetsOnCandidate(t *testing.T) {
	o := newTestObserver(2, 4)
	now := time.Now().Add(-time.Second)
	o.Observe("home", now)
	o.Observe("home", now)
	assert.GreaterOrEqual(t, o.StableFor(), 900*time.Millisecond)

	o.Observe("battle", time.Now())
	assert.Zero(t, o.StableFor())
}

func TestObserver_RunSkipsDetectorErrors(t *testing.T) {
	sim := device.NewSimulator("menu")
	sim.FailNextDetections(2)
	bus := events.NewBus()
	defer bus.Close()
	sceneCh := bus.Subscribe(4, events.TopicScene)

	o := NewObserver(sim, Config{PollInterval: 2 * time.Millisecond, StabilityThreshold: 2}, bus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	require.Eventually(t, func() bool { return o.Label() == "menu" }, time.Second, 2*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 2, o.Errors())
	select {
	case ev := <-sceneCh:
		assert.Equal(t, events.EventTypeSceneChanged, ev.EventType())
	default:
		t.Fatal("expected a scene.changed event")
	}
}

func TestObserver_DegradeScalesInterval(t *testing.T) {
	o := newTestObserver(1, 2)
	assert.Equal(t, 5*time.Millisecond, o.Interval())

	o.Degrade(2)
	assert.Equal(t, 20*time.Millisecond, o.Interval())

	o.Degrade(10)
	assert.Equal(t, 40*time.Millisecond, o.Interval())

	o.Degrade(0)
	assert.Equal(t, 5*time.Millisecond, o.Interval())
}
