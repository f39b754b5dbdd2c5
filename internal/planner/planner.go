// Package planner turns a targeting verdict into the single action the rover
// should take next.
package planner

import (
	"fmt"

	"github.com/banshee-data/pursuit/internal/targeting"
)

// Kind identifies a planned action.
type Kind int

const (
	Advance Kind = iota + 1
	Retreat
	RotateCW
	RotateCCW
	Fire
	ScanRotate
)

var kindNames = map[Kind]string{
	Advance:    "advance",
	Retreat:    "retreat",
	RotateCW:   "rotate_cw",
	RotateCCW:  "rotate_ccw",
	Fire:       "fire",
	ScanRotate: "scan_rotate",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseDirection accepts the names used in configuration files for the scan
// rotation direction.
func ParseDirection(s string) (Kind, error) {
	switch s {
	case "cw", "CW", "clockwise", "rotate_cw":
		return RotateCW, nil
	case "ccw", "CCW", "counterclockwise", "rotate_ccw":
		return RotateCCW, nil
	}
	return 0, fmt.Errorf("unknown rotation direction %q: expected cw or ccw", s)
}

// Action is one planned command. Magnitude is in the actuator's units:
// uncalibrated movement/rotation units, or seconds for Fire.
type Action struct {
	Kind      Kind
	Magnitude float64
	// Direction is the rotation used for a ScanRotate (RotateCW or RotateCCW).
	// It is ignored for every other kind.
	Direction Kind
}

func (a Action) String() string {
	if a.Kind == ScanRotate {
		return fmt.Sprintf("%s(%s %g)", a.Kind, a.Direction, a.Magnitude)
	}
	return fmt.Sprintf("%s(%g)", a.Kind, a.Magnitude)
}

// Policy is the immutable tuning used for every decision. It is built once at
// startup and never changed.
type Policy struct {
	Targeting       targeting.Policy
	AdvanceUnits    float64
	RotateUnits     float64
	FireSeconds     float64
	ScanRotateUnits float64
	ScanDirection   Kind
}

// DefaultPolicy returns the values the rover was tuned with for a
// 640x360 camera frame.
func DefaultPolicy() Policy {
	return Policy{
		Targeting: targeting.Policy{
			CenterColumn:       320,
			AreaThreshold:      3600,
			MaxHorizontalDelta: 80,
		},
		AdvanceUnits:    170,
		RotateUnits:     40,
		FireSeconds:     3,
		ScanRotateUnits: 50,
		ScanDirection:   RotateCW,
	}
}

// Plan maps a classification to an action:
//
//	area too small            -> Advance
//	in range, centred         -> Fire
//	in range, left of centre  -> RotateCCW
//	in range, right of centre -> RotateCW
func Plan(c targeting.Classification, p Policy) Action {
	if !c.AreaSufficient {
		return Action{Kind: Advance, Magnitude: p.AdvanceUnits}
	}
	switch c.Alignment {
	case targeting.Left:
		return Action{Kind: RotateCCW, Magnitude: p.RotateUnits}
	case targeting.Right:
		return Action{Kind: RotateCW, Magnitude: p.RotateUnits}
	default:
		return Action{Kind: Fire, Magnitude: p.FireSeconds}
	}
}

// Scan is the action taken when nothing is visible.
func Scan(p Policy) Action {
	return Action{Kind: ScanRotate, Magnitude: p.ScanRotateUnits, Direction: p.ScanDirection}
}

// Decision records how an action was reached, for logging and the journal.
type Decision struct {
	Action         Action
	Target         targeting.Region
	HasTarget      bool
	Classification targeting.Classification
}

// PlanFrame selects the primary target in a frame and plans against it. An
// empty frame goes straight to Scan without classification.
func PlanFrame(frame targeting.Frame, p Policy) Decision {
	target, ok := targeting.SelectPrimaryTarget(frame)
	if !ok {
		return Decision{Action: Scan(p)}
	}
	c := targeting.Classify(target, p.Targeting)
	return Decision{
		Action:         Plan(c, p),
		Target:         target,
		HasTarget:      true,
		Classification: c,
	}
}
