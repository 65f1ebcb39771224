package wellgrid

import (
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// Pattern is the order in which the stage visits wells.
type Pattern string

const (
	// Raster visits every row left to right.
	Raster Pattern = "raster"
	// Snake visits even rows left to right and odd rows right to left, so the
	// stage never travels back across the plate between rows.
	Snake Pattern = "snake"
)

// ParsePattern accepts "snake" and "raster" as well as the arrow-decorated
// names saved by older experiment settings ("snake →↙", "raster →↓").
func ParsePattern(s string) (Pattern, error) {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) == 0 {
		return "", pkgerrors.Wrapf(ErrUnknownPattern, "%q", s)
	}
	switch Pattern(fields[0]) {
	case Snake:
		return Snake, nil
	case Raster:
		return Raster, nil
	}
	return "", pkgerrors.Wrapf(ErrUnknownPattern, "%q", s)
}

// Sequence returns the wells of a row-major columns x rows grid in the order
// given by p. The input slice is never modified.
func Sequence(wells []Well, columns, rows int, p Pattern) ([]Well, error) {
	if columns < 0 || rows < 0 || len(wells) != columns*rows {
		return nil, pkgerrors.Wrapf(ErrGridSizeMismatch, "got %d wells for a %dx%d grid", len(wells), columns, rows)
	}

	out := make([]Well, len(wells))
	copy(out, wells)

	switch p {
	case Raster:
	case Snake:
		for r := 1; r < rows; r += 2 {
			row := out[r*columns : (r+1)*columns]
			for i, j := 0, len(row)-1; i < j; i, j = i+1, j-1 {
				row[i], row[j] = row[j], row[i]
			}
		}
	default:
		return nil, pkgerrors.Wrapf(ErrUnknownPattern, "%q", p)
	}

	return out, nil
}

// Select keeps the wells whose labels are in labels, preserving the order of
// wells. Labels that match no well are returned as missing.
func Select(wells []Well, labels []string) (selected []Well, missing []string) {
	want := make(map[string]bool, len(labels))
	for _, l := range labels {
		want[l] = true
	}

	seen := make(map[string]bool, len(labels))
	for _, w := range wells {
		if want[w.Label] {
			selected = append(selected, w)
			seen[w.Label] = true
		}
	}

	for _, l := range labels {
		if !seen[l] {
			missing = append(missing, l)
			seen[l] = true
		}
	}

	return selected, missing
}
