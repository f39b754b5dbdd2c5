// Package targeting picks the primary region out of a perception frame and
// classifies it against fixed size and alignment thresholds.
package targeting

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r2"
)

// ErrInvalidRegion is returned when a region violates the perception contract
// (non-positive width or height).
var ErrInvalidRegion = errors.New("invalid region")

// Region is a detected bounding box in pixel units with an upper-left origin.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Area returns width*height in square pixels.
func (r Region) Area() int {
	return r.Width * r.Height
}

// Rect returns the region as a planar rectangle.
func (r Region) Rect() r2.Rect {
	return r2.RectFromPoints(
		r2.Point{X: float64(r.X), Y: float64(r.Y)},
		r2.Point{X: float64(r.X + r.Width), Y: float64(r.Y + r.Height)},
	)
}

// Center returns the centre point of the region.
func (r Region) Center() r2.Point {
	return r.Rect().Center()
}

// Validate reports whether the region satisfies width > 0 and height > 0.
func (r Region) Validate() error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("%w: %dx%d at (%d,%d)", ErrInvalidRegion, r.Width, r.Height, r.X, r.Y)
	}
	return nil
}

func (r Region) String() string {
	return fmt.Sprintf("(%d,%d %dx%d)", r.X, r.Y, r.Width, r.Height)
}

// Frame is the set of regions detected in a single perception frame, in the
// order the detector reported them.
type Frame []Region

// Validate checks every region in the frame.
func (f Frame) Validate() error {
	for i, r := range f {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("region %d: %w", i, err)
		}
	}
	return nil
}

// SelectPrimaryTarget returns the region with the largest area. When several
// regions share the largest area the first one in frame order wins. The bool
// is false for an empty frame.
func SelectPrimaryTarget(frame Frame) (Region, bool) {
	if len(frame) == 0 {
		return Region{}, false
	}
	best := frame[0]
	for _, r := range frame[1:] {
		if r.Area() > best.Area() {
			best = r
		}
	}
	return best, true
}

// Alignment is the horizontal position of a target relative to the centre
// column of the camera.
type Alignment int

const (
	Centered Alignment = iota
	Left
	Right
)

func (a Alignment) String() string {
	switch a {
	case Centered:
		return "centered"
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return fmt.Sprintf("alignment(%d)", int(a))
	}
}

// Classification is the size and alignment verdict for one region.
type Classification struct {
	AreaSufficient bool
	Alignment      Alignment
	// Delta is the signed horizontal distance of the region centre from the
	// centre column, kept for logging.
	Delta float64
}

// Policy holds the fixed thresholds used by Classify.
type Policy struct {
	CenterColumn       float64 // pixel column treated as straight ahead
	AreaThreshold      int     // area a region must exceed to be in range
	MaxHorizontalDelta float64 // centre offset still considered aligned
}

// Classify computes the classification of a region against the policy.
func Classify(r Region, p Policy) Classification {
	delta := r.Center().X - p.CenterColumn

	c := Classification{
		AreaSufficient: r.Area() > p.AreaThreshold,
		Delta:          delta,
	}
	switch {
	case math.Abs(delta) <= p.MaxHorizontalDelta:
		c.Alignment = Centered
	case delta < 0:
		c.Alignment = Left
	default:
		c.Alignment = Right
	}
	return c
}
