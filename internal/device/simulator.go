package device

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"
)

// ErrSimulatedFailure is returned by the simulator when a failure was injected.
var ErrSimulatedFailure = errors.New("simulated detector failure")

// hitRadius is how close a click must land to an element to trigger its handler.
const hitRadius = 20.0

// SimElement is an element shown by the simulator.
type SimElement struct {
	Position   Point
	Confidence float64
}

// TapHandler runs when a click lands on an element.
type TapHandler func(s *Simulator)

// Click records one operator call received by the simulator.
type Click struct {
	At   Point
	Kind ClickType
	Time time.Time
}

// Simulator is a scriptable in-memory target. It backs the CLI's simulate
// mode and the package tests.
type Simulator struct {
	mu           sync.Mutex
	active       bool
	scene        string
	elements     map[string]SimElement
	handlers     map[string]TapHandler
	clicks       []Click
	typed        []string
	swipes       int
	failDetect   int
	screen       image.Rectangle
	detectCalls  int
	captureCalls int
}

// NewSimulator creates an active simulator showing the given scene.
func NewSimulator(scene string) *Simulator {
	return &Simulator{
		active:   true,
		scene:    scene,
		elements: make(map[string]SimElement),
		handlers: make(map[string]TapHandler),
		screen:   image.Rect(0, 0, 1280, 720),
	}
}

// SetActive toggles whether the target window is present.
func (s *Simulator) SetActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = active
}

// SetScene changes the current scene label.
func (s *Simulator) SetScene(scene string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scene = scene
}

// Scene returns the current scene label.
func (s *Simulator) Scene() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scene
}

// Show places an element at a position with full confidence.
func (s *Simulator) Show(name string, at Point) {
	s.ShowWithConfidence(name, at, 1.0)
}

// ShowWithConfidence places an element with an explicit match confidence.
func (s *Simulator) ShowWithConfidence(name string, at Point, confidence float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elements[name] = SimElement{Position: at, Confidence: confidence}
}

// Hide removes an element.
func (s *Simulator) Hide(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.elements, name)
}

// OnTap registers a handler for clicks landing on the named element.
func (s *Simulator) OnTap(name string, h TapHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = h
}

// FailNextDetections makes the next n DetectScene/FindElement calls error.
func (s *Simulator) FailNextDetections(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDetect = n
}

// Clicks returns a copy of the recorded clicks.
func (s *Simulator) Clicks() []Click {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Click(nil), s.clicks...)
}

// Typed returns the text sent with TypeText.
func (s *Simulator) Typed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.typed...)
}

// Swipes returns the number of swipes received.
func (s *Simulator) Swipes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.swipes
}

// DetectCalls returns how many times DetectScene was called.
func (s *Simulator) DetectCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detectCalls
}

// CaptureCalls returns how many times Capture was called.
func (s *Simulator) CaptureCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captureCalls
}

func (s *Simulator) IsTargetActive(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Simulator) Capture(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captureCalls++
	if !s.active {
		return nil, nil
	}
	return image.NewGray(s.screen), nil
}

// consumeFailure must be called with s.mu held.
func (s *Simulator) consumeFailure() bool {
	if s.failDetect > 0 {
		s.failDetect--
		return true
	}
	return false
}

func (s *Simulator) DetectScene(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detectCalls++
	if s.consumeFailure() {
		return "", ErrSimulatedFailure
	}
	if !s.active {
		return SceneUnknown, nil
	}
	return s.scene, nil
}

func (s *Simulator) FindElement(ctx context.Context, name string, threshold float64) (*Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consumeFailure() {
		return nil, ErrSimulatedFailure
	}
	el, ok := s.elements[name]
	if !ok || !s.active || el.Confidence < threshold {
		return nil, nil
	}
	return &Match{Position: el.Position, Confidence: el.Confidence}, nil
}

func (s *Simulator) Click(ctx context.Context, at Point, kind ClickType) OpResult {
	start := time.Now()

	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return OpResult{Err: errors.New("target not active"), ExecutionTime: time.Since(start)}
	}
	s.clicks = append(s.clicks, Click{At: at, Kind: kind, Time: start})
	var hit TapHandler
	for name, el := range s.elements {
		if el.Position.Distance(at) <= hitRadius {
			hit = s.handlers[name]
			break
		}
	}
	s.mu.Unlock()

	// Handlers mutate the simulator, so they run without the lock held.
	if hit != nil {
		hit(s)
	}
	return OpResult{Success: true, ExecutionTime: time.Since(start)}
}

func (s *Simulator) Swipe(ctx context.Context, from, to Point, duration time.Duration) OpResult {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return OpResult{Err: errors.New("target not active"), ExecutionTime: time.Since(start)}
	}
	s.swipes++
	return OpResult{Success: true, ExecutionTime: time.Since(start)}
}

func (s *Simulator) TypeText(ctx context.Context, text string) OpResult {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return OpResult{Err: errors.New("target not active"), ExecutionTime: time.Since(start)}
	}
	s.typed = append(s.typed, text)
	return OpResult{Success: true, ExecutionTime: time.Since(start)}
}
