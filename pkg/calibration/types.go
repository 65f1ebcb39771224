package calibration

import (
	"errors"

	"github.com/robocam-suite/robocam/pkg/wellgrid"
)

// Phase is the state of a calibration session.
type Phase string

const (
	// PhaseCollecting waits for the grid size or at least one corner.
	PhaseCollecting Phase = "Collecting"
	// PhaseReady has every input and an interpolated preview.
	PhaseReady Phase = "Ready"
	// PhaseSaved has been written to disk and not changed since.
	PhaseSaved Phase = "Saved"
)

// Corner names one of the four measured corners.
type Corner string

const (
	UpperLeft  Corner = "upper_left"
	LowerLeft  Corner = "lower_left"
	UpperRight Corner = "upper_right"
	LowerRight Corner = "lower_right"
)

// Corners lists every corner in the order they are usually measured.
var Corners = []Corner{UpperLeft, LowerLeft, UpperRight, LowerRight}

// ParseCorner accepts the snake_case names and their dashed forms
// ("upper-left").
func ParseCorner(s string) (Corner, error) {
	for _, c := range Corners {
		if s == string(c) || s == dashed(c) {
			return c, nil
		}
	}
	return "", ErrUnknownCorner
}

func dashed(c Corner) string {
	b := []byte(c)
	for i := range b {
		if b[i] == '_' {
			b[i] = '-'
		}
	}
	return string(b)
}

var (
	ErrUnknownCorner = errors.New("unknown corner, expected one of upper_left, lower_left, upper_right, lower_right")
	ErrIncomplete    = errors.New("calibration is incomplete")
	ErrInvalidFile   = errors.New("invalid calibration file")
	ErrInvalidName   = errors.New("invalid calibration name")
)

// Status is a view of a Session exposed via HTTP.
type Status struct {
	Phase     Phase                     `json:"phase"`
	Columns   int                       `json:"columns"`
	Rows      int                       `json:"rows"`
	Corners   map[Corner]wellgrid.Point `json:"corners"`
	Missing   []Corner                  `json:"missing,omitempty"`
	Wells     int                       `json:"wells"`
	SavedFile string                    `json:"savedFile,omitempty"`
	Message   string                    `json:"message,omitempty"`
}
