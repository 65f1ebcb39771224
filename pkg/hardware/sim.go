package hardware

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/robocam-suite/robocam/pkg/wellgrid"
)

var (
	ErrNotHomed         = errors.New("stage is not homed")
	ErrNotRecording     = errors.New("camera is not recording")
	ErrAlreadyRecording = errors.New("camera is already recording")
)

// SimStage is an in-memory stage. Moves complete instantly unless
// MoveDuration is set.
type SimStage struct {
	// MoveDuration is how long every move takes.
	MoveDuration time.Duration
	// RequireHome refuses moves before the first Home.
	RequireHome bool

	mu           sync.Mutex
	pos          wellgrid.Point
	home         wellgrid.Point
	homed        bool
	acceleration float64
	moves        []wellgrid.Point
}

func NewSimStage(home wellgrid.Point) *SimStage {
	return &SimStage{pos: home, home: home}
}

func (s *SimStage) Home(ctx context.Context) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = s.home
	s.homed = true
	logrus.WithField("position", s.pos).Debug("simulated stage homed")
	return nil
}

func (s *SimStage) MoveTo(ctx context.Context, p wellgrid.Point, feedrate float64) error {
	if feedrate <= 0 {
		return fmt.Errorf("feedrate must be positive, got %g", feedrate)
	}
	s.mu.Lock()
	if s.RequireHome && !s.homed {
		s.mu.Unlock()
		return ErrNotHomed
	}
	s.mu.Unlock()

	if err := s.wait(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = p
	s.moves = append(s.moves, p)
	logrus.WithFields(logrus.Fields{
		"position": p,
		"feedrate": feedrate,
	}).Debug("simulated stage moved")
	return nil
}

func (s *SimStage) SetAcceleration(_ context.Context, a float64) error {
	if a <= 0 {
		return fmt.Errorf("acceleration must be positive, got %g", a)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acceleration = a
	return nil
}

func (s *SimStage) Position(_ context.Context) (wellgrid.Point, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos, nil
}

// Acceleration returns the last acceleration set.
func (s *SimStage) Acceleration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acceleration
}

// Moves returns every position moved to, in order.
func (s *SimStage) Moves() []wellgrid.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wellgrid.Point(nil), s.moves...)
}

func (s *SimStage) wait(ctx context.Context) error {
	if s.MoveDuration <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.MoveDuration)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SimEmitter records switch events.
type SimEmitter struct {
	mu       sync.Mutex
	on       bool
	switches []bool
}

func NewSimEmitter(on bool) *SimEmitter {
	return &SimEmitter{on: on}
}

func (e *SimEmitter) Switch(_ context.Context, on bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.on = on
	e.switches = append(e.switches, on)
	logrus.WithField("on", on).Debug("simulated emitter switched")
	return nil
}

func (e *SimEmitter) On() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.on
}

// Switches returns every state switched to, in order.
func (e *SimEmitter) Switches() []bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]bool(nil), e.switches...)
}

// SimCamera writes a small placeholder file for every capture and recording.
type SimCamera struct {
	mu          sync.Mutex
	recording   string
	recordStart time.Time
	files       []string
}

func NewSimCamera() *SimCamera { return &SimCamera{} }

func (c *SimCamera) CaptureImage(_ context.Context, path string) error {
	if err := os.WriteFile(path, []byte("simulated image\n"), 0644); err != nil {
		return pkgerrors.Wrapf(err, "failed to write %s", path)
	}
	c.mu.Lock()
	c.files = append(c.files, path)
	c.mu.Unlock()
	return nil
}

func (c *SimCamera) StartRecording(_ context.Context, path string, opts RecordingOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recording != "" {
		return pkgerrors.Wrapf(ErrAlreadyRecording, "to %s", c.recording)
	}
	content := fmt.Sprintf("simulated video %dx%d@%g\n", opts.Width, opts.Height, opts.FPS)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return pkgerrors.Wrapf(err, "failed to write %s", path)
	}
	c.recording = path
	c.recordStart = time.Now()
	c.files = append(c.files, path)
	return nil
}

func (c *SimCamera) StopRecording(_ context.Context) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recording == "" {
		return 0, ErrNotRecording
	}
	d := time.Since(c.recordStart)
	c.recording = ""
	return d, nil
}

// Files returns every file written, in order.
func (c *SimCamera) Files() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.files...)
}
