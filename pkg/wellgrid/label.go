package wellgrid

import (
	"strconv"

	pkgerrors "github.com/pkg/errors"
)

// Label returns the label of the well at zero-based row and column, e.g.
// Label(1, 2) == "B3".
func Label(row, column int) string {
	return RowLetter(row) + strconv.Itoa(column+1)
}

// RowLetter returns the letter naming a zero-based row.
func RowLetter(row int) string {
	return string(rune('A' + row))
}

// ParseLabel is the inverse of Label.
func ParseLabel(label string) (row, column int, err error) {
	if len(label) < 2 {
		return 0, 0, pkgerrors.Wrapf(ErrInvalidLabel, "%q", label)
	}
	letter := label[0]
	if letter < 'A' || letter > 'Z' {
		return 0, 0, pkgerrors.Wrapf(ErrInvalidLabel, "%q: row must be a letter A-Z", label)
	}
	n, err := strconv.Atoi(label[1:])
	if err != nil || n < 1 {
		return 0, 0, pkgerrors.Wrapf(ErrInvalidLabel, "%q: column must be a positive number", label)
	}
	return int(letter - 'A'), n - 1, nil
}
