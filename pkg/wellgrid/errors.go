package wellgrid

import "errors"

var (
	// ErrInvalidGridSpec is returned when a grid has fewer than one column or
	// row, or more rows than can be labelled.
	ErrInvalidGridSpec = errors.New("invalid grid spec")

	// ErrGridSizeMismatch is returned when the number of wells does not equal
	// columns*rows.
	ErrGridSizeMismatch = errors.New("grid size mismatch")

	// ErrInvalidLabel is returned when a well label cannot be parsed.
	ErrInvalidLabel = errors.New("invalid well label")

	// ErrUnknownPattern is returned when a traversal pattern name is not recognized.
	ErrUnknownPattern = errors.New("unknown pattern")
)
