// Package device declares the collaborators that observe and drive the
// monitored target: a Detector that classifies screenshots and an Operator
// that injects input. Implementations of recognition and input injection
// live outside this module; Gate and Simulator are the in-tree adapters.
package device

import (
	"context"
	"fmt"
	"image"
	"math"
	"time"
)

// SceneUnknown is the label reported when no scene matches.
const SceneUnknown = "unknown"

// Point is a screen coordinate in pixels.
type Point struct {
	X int `yaml:"x" json:"x"`
	Y int `yaml:"y" json:"y"`
}

func (p Point) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

// Distance returns the euclidean distance between two points.
func (p Point) Distance(q Point) float64 {
	dx := float64(p.X - q.X)
	dy := float64(p.Y - q.Y)
	return math.Hypot(dx, dy)
}

// Match is a located element.
type Match struct {
	Position   Point
	Confidence float64
}

// ClickType selects the kind of click.
type ClickType string

const (
	ClickSingle ClickType = "single"
	ClickDouble ClickType = "double"
	ClickLong   ClickType = "long"
)

// OpResult reports the outcome of one input operation.
type OpResult struct {
	Success       bool
	ExecutionTime time.Duration
	Err           error
}

// Detector observes the target.
type Detector interface {
	// IsTargetActive reports whether the target window is present and focused.
	IsTargetActive(ctx context.Context) bool

	// Capture takes a screenshot. A nil image with nil error means nothing
	// could be captured.
	Capture(ctx context.Context) (image.Image, error)

	// DetectScene classifies the current screenshot.
	DetectScene(ctx context.Context) (string, error)

	// FindElement locates a named element with at least the given match
	// confidence. A nil match with nil error means "not found".
	FindElement(ctx context.Context, name string, threshold float64) (*Match, error)
}

// Operator drives the target.
type Operator interface {
	Click(ctx context.Context, at Point, kind ClickType) OpResult
	Swipe(ctx context.Context, from, to Point, duration time.Duration) OpResult
	TypeText(ctx context.Context, text string) OpResult
}

// Target bundles both sides of the target.
type Target interface {
	Detector
	Operator
}
