package wait

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Kind identifies what a wait is blocking on.
type Kind int

const (
	KindElementAppear Kind = iota
	KindElementDisappear
	KindSceneChange
	KindSceneIs
	KindSceneStable
	KindElementStable
	KindAllOf
	KindAnyOf
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindElementAppear:
		return "element-appear"
	case KindElementDisappear:
		return "element-disappear"
	case KindSceneChange:
		return "scene-change"
	case KindSceneIs:
		return "scene-is"
	case KindSceneStable:
		return "scene-stable"
	case KindElementStable:
		return "element-stable"
	case KindAllOf:
		return "all-of"
	case KindAnyOf:
		return "any-of"
	case KindCustom:
		return "custom"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Predicate is a custom wait check.
type Predicate func(ctx context.Context) (bool, error)

// Condition describes one wait. Zero Timeout, CheckInterval, Threshold and
// Tolerance take the coordinator defaults.
type Condition struct {
	Kind           Kind
	Target         string   // Element name or scene label
	Targets        []string // Element names for all-of / any-of
	Timeout        time.Duration
	CheckInterval  time.Duration
	Threshold      float64
	StableDuration time.Duration
	Tolerance      float64 // Pixels an element may drift and still count as stable
	Predicate      Predicate
	Label          string // Name for custom predicates
}

// ElementAppears waits until name is found.
func ElementAppears(name string) Condition {
	return Condition{Kind: KindElementAppear, Target: name}
}

// ElementDisappears waits until name is no longer found.
func ElementDisappears(name string) Condition {
	return Condition{Kind: KindElementDisappear, Target: name}
}

// SceneChanges waits until the scene differs from the one seen at the start.
func SceneChanges() Condition {
	return Condition{Kind: KindSceneChange}
}

// SceneIs waits until the scene equals label.
func SceneIs(label string) Condition {
	return Condition{Kind: KindSceneIs, Target: label}
}

// SceneStable waits until the scene has not changed for d.
func SceneStable(d time.Duration) Condition {
	return Condition{Kind: KindSceneStable, StableDuration: d}
}

// ElementStable waits until name stays within the tolerance of one
// position for d. Movement or disappearance restarts the timer.
func ElementStable(name string, d time.Duration) Condition {
	return Condition{Kind: KindElementStable, Target: name, StableDuration: d}
}

// AllOf waits until every named element is visible at once.
func AllOf(names ...string) Condition {
	return Condition{Kind: KindAllOf, Targets: names}
}

// AnyOf waits until at least one named element is visible.
func AnyOf(names ...string) Condition {
	return Condition{Kind: KindAnyOf, Targets: names}
}

// Custom waits on an arbitrary predicate.
func Custom(label string, fn Predicate) Condition {
	return Condition{Kind: KindCustom, Label: label, Predicate: fn}
}

// WithTimeout returns a copy with the given timeout.
func (c Condition) WithTimeout(d time.Duration) Condition {
	c.Timeout = d
	return c
}

// WithInterval returns a copy with the given poll interval.
func (c Condition) WithInterval(d time.Duration) Condition {
	c.CheckInterval = d
	return c
}

// WithThreshold returns a copy with the given match threshold.
func (c Condition) WithThreshold(th float64) Condition {
	c.Threshold = th
	return c
}

// WithTolerance returns a copy with the given stability tolerance in pixels.
func (c Condition) WithTolerance(px float64) Condition {
	c.Tolerance = px
	return c
}

// String describes the condition for logs and timeout errors.
func (c Condition) String() string {
	switch c.Kind {
	case KindAllOf, KindAnyOf:
		return fmt.Sprintf("%s(%s)", c.Kind, strings.Join(c.Targets, ","))
	case KindCustom:
		return fmt.Sprintf("custom(%s)", c.Label)
	case KindSceneChange:
		return c.Kind.String()
	case KindSceneStable:
		return fmt.Sprintf("scene-stable(%s)", c.StableDuration)
	default:
		return fmt.Sprintf("%s(%s)", c.Kind, c.Target)
	}
}

func (c Condition) validate() error {
	switch c.Kind {
	case KindElementAppear, KindElementDisappear, KindElementStable, KindSceneIs:
		if c.Target == "" {
			return fmt.Errorf("%s wait needs a target", c.Kind)
		}
	case KindAllOf, KindAnyOf:
		if len(c.Targets) == 0 {
			return fmt.Errorf("%s wait needs at least one target", c.Kind)
		}
	case KindCustom:
		if c.Predicate == nil {
			return fmt.Errorf("custom wait %q has no predicate", c.Label)
		}
	case KindSceneChange, KindSceneStable:
	default:
		return fmt.Errorf("unknown wait kind %d", int(c.Kind))
	}
	return nil
}
