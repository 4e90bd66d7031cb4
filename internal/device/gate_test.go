package device

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// overlapTarget records the maximum number of concurrent calls it observed.
type overlapTarget struct {
	*Simulator
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (o *overlapTarget) enter() func() {
	n := o.inFlight.Add(1)
	for {
		cur := o.maxSeen.Load()
		if n <= cur || o.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	return func() { o.inFlight.Add(-1) }
}

func (o *overlapTarget) Click(ctx context.Context, at Point, kind ClickType) OpResult {
	defer o.enter()()
	return o.Simulator.Click(ctx, at, kind)
}

func (o *overlapTarget) DetectScene(ctx context.Context) (string, error) {
	defer o.enter()()
	return o.Simulator.DetectScene(ctx)
}

func TestGate_SerializesConcurrentCalls(t *testing.T) {
	target := &overlapTarget{Simulator: NewSimulator("home")}
	gate := NewGate(target, 4)

	ctx, cancel := context.WithCancel(context.Background())
	gate.Start(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				gate.Click(ctx, Point{X: i, Y: i}, ClickSingle)
			} else {
				if _, err := gate.DetectScene(ctx); err != nil {
					t.Errorf("DetectScene: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	if got := target.maxSeen.Load(); got != 1 {
		t.Errorf("expected at most 1 concurrent call, observed %d", got)
	}
	if got := len(target.Clicks()); got != 4 {
		t.Errorf("expected 4 clicks, got %d", got)
	}

	cancel()
	gate.Stop()
}

func TestGate_ClosedAfterStop(t *testing.T) {
	gate := NewGate(NewSimulator("home"), 1)
	ctx, cancel := context.WithCancel(context.Background())
	gate.Start(ctx)
	cancel()
	gate.Stop()

	res := gate.Click(context.Background(), Point{}, ClickSingle)
	if !errors.Is(res.Err, ErrGateClosed) {
		t.Errorf("expected ErrGateClosed, got %v", res.Err)
	}
	if gate.IsTargetActive(context.Background()) {
		t.Error("closed gate should report inactive target")
	}
}

func TestGate_CallerContextCancelled(t *testing.T) {
	gate := NewGate(NewSimulator("home"), 1)
	// Owner goroutine never started: the request sits in the buffer.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := gate.DetectScene(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestSimulator_TapHandler(t *testing.T) {
	sim := NewSimulator("home")
	sim.Show("battle_button", Point{X: 100, Y: 200})
	sim.OnTap("battle_button", func(s *Simulator) {
		s.SetScene("battle")
		s.Hide("battle_button")
	})

	ctx := context.Background()
	res := sim.Click(ctx, Point{X: 105, Y: 198}, ClickSingle)
	if !res.Success {
		t.Fatalf("click failed: %v", res.Err)
	}
	if sim.Scene() != "battle" {
		t.Errorf("scene = %q, want battle", sim.Scene())
	}
	m, err := sim.FindElement(ctx, "battle_button", 0.8)
	if err != nil || m != nil {
		t.Errorf("expected button hidden, got %v, %v", m, err)
	}
}

func TestSimulator_ConfidenceThreshold(t *testing.T) {
	sim := NewSimulator("home")
	sim.ShowWithConfidence("icon", Point{X: 1, Y: 1}, 0.6)

	ctx := context.Background()
	if m, _ := sim.FindElement(ctx, "icon", 0.8); m != nil {
		t.Error("match below threshold should be filtered")
	}
	if m, _ := sim.FindElement(ctx, "icon", 0.5); m == nil {
		t.Error("expected match above threshold")
	}
}

func TestSimulator_InjectedFailures(t *testing.T) {
	sim := NewSimulator("home")
	sim.FailNextDetections(2)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := sim.DetectScene(ctx); !errors.Is(err, ErrSimulatedFailure) {
			t.Errorf("call %d: expected injected failure, got %v", i, err)
		}
	}
	if scene, err := sim.DetectScene(ctx); err != nil || scene != "home" {
		t.Errorf("expected recovery, got %q, %v", scene, err)
	}
}
