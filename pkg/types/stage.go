// Package types holds request and response bodies shared by the daemon and
// its clients.
package types

import "github.com/robocam-suite/robocam/pkg/wellgrid"

// MoveRequest is the body of POST /move. Feedrate is in mm/min; zero uses
// the between-wells feedrate of the default motion profile.
type MoveRequest struct {
	wellgrid.Point
	Feedrate float64 `json:"feedrate,omitempty"`
	// Relative moves by the given offsets instead of to an absolute position.
	Relative bool `json:"relative,omitempty"`
}

// GridRequest is the body of POST /grid.
type GridRequest struct {
	Columns int              `json:"columns"`
	Rows    int              `json:"rows"`
	Corners wellgrid.Corners `json:"corners"`
	// Pattern is optional and defaults to snake.
	Pattern string `json:"pattern,omitempty"`
}

// GridResponse holds the row-major wells and the same wells in visiting
// order.
type GridResponse struct {
	Pattern  wellgrid.Pattern `json:"pattern"`
	Wells    []wellgrid.Well  `json:"wells"`
	Sequence []wellgrid.Well  `json:"sequence"`
}
