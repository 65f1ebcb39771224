package experiment

import (
	"fmt"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/robocam-suite/robocam/pkg/calibration"
	"github.com/robocam-suite/robocam/pkg/config"
	"github.com/robocam-suite/robocam/pkg/wellgrid"
)

// Plan is a validated experiment ready to run.
type Plan struct {
	Settings Settings
	Pattern  wellgrid.Pattern
	Motion   config.MotionProfile
	// Wells are the selected wells in visiting order.
	Wells []wellgrid.Well
}

// BuildPlan orders the selected wells of cal by the settings' pattern.
// Wells keep the traversal order of the full grid, whatever order they were
// selected in.
func BuildPlan(cal *calibration.Calibration, s Settings, motion config.MotionProfile) (*Plan, error) {
	s = s.WithDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}

	pattern, err := wellgrid.ParsePattern(s.Pattern)
	if err != nil {
		return nil, err
	}

	wells, err := cal.Wells()
	if err != nil {
		return nil, err
	}

	ordered, err := wellgrid.Sequence(wells, cal.XQuantity, cal.YQuantity, pattern)
	if err != nil {
		return nil, err
	}

	selected, missing := wellgrid.Select(ordered, s.SelectedWells)
	if len(missing) > 0 {
		return nil, pkgerrors.Wrapf(ErrUnknownWell, "%s (calibration %s has %d wells)",
			strings.Join(missing, ", "), s.CalibrationFile, len(wells))
	}
	if len(selected) == 0 {
		return nil, ErrNoWellsSelected
	}

	return &Plan{
		Settings: s,
		Pattern:  pattern,
		Motion:   motion,
		Wells:    selected,
	}, nil
}

// Mode is the capture mode of the plan.
func (p *Plan) Mode() CaptureMode { return p.Settings.CaptureMode }

// WellDuration is the time spent executing action phases at one well.
func (p *Plan) WellDuration() time.Duration {
	var d time.Duration
	for _, ph := range p.Settings.ActionPhases {
		d += ph.Duration(p.Mode())
	}
	return d
}

// TotalDuration is the estimated phase time of the whole run, excluding
// moves.
func (p *Plan) TotalDuration() time.Duration {
	return time.Duration(len(p.Wells)) * p.WellDuration()
}

// Labels returns the labels of the planned wells in visiting order.
func (p *Plan) Labels() []string {
	out := make([]string, len(p.Wells))
	for i, w := range p.Wells {
		out[i] = w.Label
	}
	return out
}

// FormatHMS formats d as HH:MM:SS, truncating fractions of a second.
func FormatHMS(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs%3600/60, secs%60)
}
