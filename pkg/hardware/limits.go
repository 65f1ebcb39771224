package hardware

import (
	"context"
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"

	"github.com/robocam-suite/robocam/pkg/wellgrid"
)

var ErrOutOfLimits = errors.New("position out of stage limits")

// Range is an inclusive interval in millimeters.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (r Range) contains(v float64) bool { return v >= r.Min && v <= r.Max }

// Limits is the box the stage may move in.
type Limits struct {
	X Range `json:"x"`
	Y Range `json:"y"`
	Z Range `json:"z"`
}

// DefaultLimits are the travel limits of the stock stage.
func DefaultLimits() Limits {
	return Limits{
		X: Range{Min: 0, Max: 200},
		Y: Range{Min: 80, Max: 150},
		Z: Range{Min: 95, Max: 170},
	}
}

// Check returns ErrOutOfLimits if p is outside l.
func (l Limits) Check(p wellgrid.Point) error {
	axes := []struct {
		name string
		r    Range
		v    float64
	}{
		{"X", l.X, p.X},
		{"Y", l.Y, p.Y},
		{"Z", l.Z, p.Z},
	}
	for _, a := range axes {
		if !a.r.contains(a.v) {
			return pkgerrors.Wrapf(ErrOutOfLimits, "%s=%g not in [%g, %g]", a.name, a.v, a.r.Min, a.r.Max)
		}
	}
	return nil
}

// Validate checks that every range is non-empty.
func (l Limits) Validate() error {
	names := []string{"X", "Y", "Z"}
	for i, r := range []Range{l.X, l.Y, l.Z} {
		if r.Min > r.Max {
			return fmt.Errorf("%s limit min %g is greater than max %g", names[i], r.Min, r.Max)
		}
	}
	return nil
}

type limitedStage struct {
	Stage
	limits Limits
}

// WithLimits wraps s so that moves outside l are refused before reaching the
// stage.
func WithLimits(s Stage, l Limits) Stage {
	return &limitedStage{Stage: s, limits: l}
}

func (s *limitedStage) MoveTo(ctx context.Context, p wellgrid.Point, feedrate float64) error {
	if err := s.limits.Check(p); err != nil {
		return err
	}
	return s.Stage.MoveTo(ctx, p, feedrate)
}
