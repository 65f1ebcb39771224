package calibration

import (
	"fmt"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/robocam-suite/robocam/pkg/wellgrid"
)

// Session collects the inputs of one calibration. It is safe for concurrent
// use.
type Session struct {
	mu        sync.Mutex
	columns   int
	rows      int
	corners   map[Corner]wellgrid.Point
	wells     []wellgrid.Well
	savedFile string
	message   string

	now func() time.Time
}

func NewSession() *Session {
	return &Session{
		corners: map[Corner]wellgrid.Point{},
		now:     time.Now,
	}
}

// SetGrid sets the number of columns and rows.
func (s *Session) SetGrid(columns, rows int) error {
	if err := wellgrid.ValidateSize(columns, rows); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.columns, s.rows = columns, rows
	s.changed()
	return nil
}

// SetCorner records the position of corner c.
func (s *Session) SetCorner(c Corner, p wellgrid.Point) error {
	if _, err := ParseCorner(string(c)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.corners[c] = p
	s.changed()
	return nil
}

// Reset forgets every input.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.columns, s.rows = 0, 0
	s.corners = map[Corner]wellgrid.Point{}
	s.wells = nil
	s.savedFile = ""
	s.message = ""
}

// changed re-interpolates when every input is known. Must hold s.mu.
func (s *Session) changed() {
	s.savedFile = ""
	s.wells = nil

	missing := s.missing()
	if s.columns == 0 || len(missing) > 0 {
		s.message = fmt.Sprintf("%d of 4 corners set", 4-len(missing))
		if s.columns == 0 {
			s.message += ", grid size not set"
		}
		return
	}

	wells, err := wellgrid.GenerateFromCorners(s.columns, s.rows, s.cornersLocked())
	if err != nil {
		s.message = err.Error()
		return
	}
	s.wells = wells
	s.message = fmt.Sprintf("%d wells interpolated", len(wells))
}

func (s *Session) missing() []Corner {
	var m []Corner
	for _, c := range Corners {
		if _, ok := s.corners[c]; !ok {
			m = append(m, c)
		}
	}
	return m
}

func (s *Session) cornersLocked() wellgrid.Corners {
	return wellgrid.Corners{
		UpperLeft:  s.corners[UpperLeft],
		LowerLeft:  s.corners[LowerLeft],
		UpperRight: s.corners[UpperRight],
		LowerRight: s.corners[LowerRight],
	}
}

// Wells returns the interpolated wells, or nil when inputs are missing.
func (s *Session) Wells() []wellgrid.Well {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wellgrid.Well(nil), s.wells...)
}

func (s *Session) Status() *Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	corners := make(map[Corner]wellgrid.Point, len(s.corners))
	for k, v := range s.corners {
		corners[k] = v
	}

	phase := PhaseCollecting
	switch {
	case s.savedFile != "":
		phase = PhaseSaved
	case s.wells != nil:
		phase = PhaseReady
	}

	return &Status{
		Phase:     phase,
		Columns:   s.columns,
		Rows:      s.rows,
		Corners:   corners,
		Missing:   s.missing(),
		Wells:     len(s.wells),
		SavedFile: s.savedFile,
		Message:   s.message,
	}
}

// Build returns the calibration record for the current inputs.
func (s *Session) Build(name string) (*Calibration, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wells == nil {
		return nil, pkgerrors.Wrap(ErrIncomplete, s.message)
	}

	return New(name, s.columns, s.rows, s.cornersLocked(), s.wells, s.now()), nil
}

// MarkSaved records that the current inputs were written to file.
func (s *Session) MarkSaved(file string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.savedFile = file
	s.message = "saved to " + file
}
