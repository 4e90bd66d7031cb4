package device

import (
	"context"
	"errors"
	"image"
	"time"
)

// ErrGateClosed is returned for calls made after the gate's owner goroutine exited.
var ErrGateClosed = errors.New("device gate closed")

// request is a unit of work for the owner goroutine.
type request struct {
	ctx  context.Context
	fn   func(ctx context.Context)
	done chan struct{}
}

// Gate serializes every call to the wrapped target through a single owner
// goroutine, so concurrent workers never interleave captures and clicks on
// the shared window.
type Gate struct {
	target   Target
	requests chan request
	done     chan struct{}
}

// NewGate wraps target. bufferSize should typically be about 2x the worker count.
func NewGate(target Target, bufferSize int) *Gate {
	if bufferSize <= 0 {
		bufferSize = 8
	}
	return &Gate{
		target:   target,
		requests: make(chan request, bufferSize),
		done:     make(chan struct{}),
	}
}

// Start launches the owner goroutine. It runs until ctx is cancelled.
func (g *Gate) Start(ctx context.Context) {
	go g.serve(ctx)
}

func (g *Gate) serve(ctx context.Context) {
	defer close(g.done)

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-g.requests:
			if req.ctx.Err() == nil {
				req.fn(req.ctx)
			}
			close(req.done)
		}
	}
}

// Stop blocks until the owner goroutine has exited.
func (g *Gate) Stop() {
	<-g.done
}

// do runs fn on the owner goroutine, respecting ctx at both the send and
// the wait stage.
func (g *Gate) do(ctx context.Context, fn func(ctx context.Context)) error {
	req := request{ctx: ctx, fn: fn, done: make(chan struct{})}

	select {
	case g.requests <- req:
	case <-g.done:
		return ErrGateClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-g.done:
		return ErrGateClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gate) IsTargetActive(ctx context.Context) bool {
	var active bool
	if err := g.do(ctx, func(ctx context.Context) { active = g.target.IsTargetActive(ctx) }); err != nil {
		return false
	}
	return active
}

func (g *Gate) Capture(ctx context.Context) (image.Image, error) {
	var (
		img    image.Image
		capErr error
	)
	if err := g.do(ctx, func(ctx context.Context) { img, capErr = g.target.Capture(ctx) }); err != nil {
		return nil, err
	}
	return img, capErr
}

func (g *Gate) DetectScene(ctx context.Context) (string, error) {
	var (
		scene    string
		sceneErr error
	)
	if err := g.do(ctx, func(ctx context.Context) { scene, sceneErr = g.target.DetectScene(ctx) }); err != nil {
		return "", err
	}
	return scene, sceneErr
}

func (g *Gate) FindElement(ctx context.Context, name string, threshold float64) (*Match, error) {
	var (
		match   *Match
		findErr error
	)
	if err := g.do(ctx, func(ctx context.Context) { match, findErr = g.target.FindElement(ctx, name, threshold) }); err != nil {
		return nil, err
	}
	return match, findErr
}

func (g *Gate) Click(ctx context.Context, at Point, kind ClickType) OpResult {
	var res OpResult
	if err := g.do(ctx, func(ctx context.Context) { res = g.target.Click(ctx, at, kind) }); err != nil {
		return OpResult{Err: err}
	}
	return res
}

func (g *Gate) Swipe(ctx context.Context, from, to Point, duration time.Duration) OpResult {
	var res OpResult
	if err := g.do(ctx, func(ctx context.Context) { res = g.target.Swipe(ctx, from, to, duration) }); err != nil {
		return OpResult{Err: err}
	}
	return res
}

func (g *Gate) TypeText(ctx context.Context, text string) OpResult {
	var res OpResult
	if err := g.do(ctx, func(ctx context.Context) { res = g.target.TypeText(ctx, text) }); err != nil {
		return OpResult{Err: err}
	}
	return res
}
