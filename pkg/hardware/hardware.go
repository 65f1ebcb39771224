package hardware

import (
	"context"
	"time"

	"github.com/robocam-suite/robocam/pkg/wellgrid"
)

// Stage moves the camera over the plate.
type Stage interface {
	// Home moves every axis to its end stop.
	Home(ctx context.Context) error
	// MoveTo moves to an absolute position at feedrate mm/min and returns once
	// the move has finished.
	MoveTo(ctx context.Context, p wellgrid.Point, feedrate float64) error
	// SetAcceleration sets the acceleration in mm/s² for subsequent moves.
	SetAcceleration(ctx context.Context, a float64) error
	// Position reports the current position.
	Position(ctx context.Context) (wellgrid.Point, error)
}

// Emitter is a light source that is either on or off.
type Emitter interface {
	Switch(ctx context.Context, on bool) error
	On() bool
}

// RecordingOptions describes a video recording.
type RecordingOptions struct {
	Width  int
	Height int
	FPS    float64
}

// Camera captures stills and videos to files.
type Camera interface {
	CaptureImage(ctx context.Context, path string) error
	StartRecording(ctx context.Context, path string, opts RecordingOptions) error
	// StopRecording ends the current recording and returns how long it ran.
	StopRecording(ctx context.Context) (time.Duration, error)
}
