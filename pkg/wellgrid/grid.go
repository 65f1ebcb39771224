package wellgrid

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"
)

// MaxRows is the number of rows that can be labelled with a single letter.
const MaxRows = 26

// Point is a stage position in millimeters.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (p Point) vec() r3.Vec { return r3.Vec{X: p.X, Y: p.Y, Z: p.Z} }

func pointOf(v r3.Vec) Point { return Point{X: v.X, Y: v.Y, Z: v.Z} }

func (p Point) String() string {
	return fmt.Sprintf("(%g, %g, %g)", p.X, p.Y, p.Z)
}

// Corners holds the four measured corner wells of a plate. Upper/lower and
// left/right refer to how the plate is seen from the camera, not to any axis
// direction; skewed and rotated plates are fine.
type Corners struct {
	UpperLeft  Point `json:"upperLeft"`
	LowerLeft  Point `json:"lowerLeft"`
	UpperRight Point `json:"upperRight"`
	LowerRight Point `json:"lowerRight"`
}

// Well is a single labelled position on the plate.
type Well struct {
	Label    string `json:"label"`
	Row      int    `json:"row"`
	Column   int    `json:"column"`
	Position Point  `json:"position"`
}

// ValidateSize checks that a grid of columns x rows can be generated.
func ValidateSize(columns, rows int) error {
	if columns < 1 || rows < 1 {
		return pkgerrors.Wrapf(ErrInvalidGridSpec, "columns and rows must be at least 1, got %dx%d", columns, rows)
	}
	if rows > MaxRows {
		return pkgerrors.Wrapf(ErrInvalidGridSpec, "at most %d rows can be labelled, got %d", MaxRows, rows)
	}
	return nil
}

// Generate interpolates a columns x rows grid of wells between the four
// corners. Wells are returned row-major: A1, A2, ..., B1, B2, ...
//
// Each row is found by interpolating along the top edge (UL to UR) and the
// bottom edge (LL to LR) at the column fraction, then between those two
// points at the row fraction. A single column or row sits on the left or top
// edge respectively.
func Generate(columns, rows int, ul, ll, ur, lr Point) ([]Well, error) {
	if err := ValidateSize(columns, rows); err != nil {
		return nil, err
	}

	a, b, c, d := ul.vec(), ll.vec(), ur.vec(), lr.vec()

	wells := make([]Well, 0, columns*rows)
	for r := 0; r < rows; r++ {
		v := fraction(r, rows)
		for col := 0; col < columns; col++ {
			h := fraction(col, columns)
			top := lerp(a, c, h)
			bottom := lerp(b, d, h)
			wells = append(wells, Well{
				Label:    Label(r, col),
				Row:      r,
				Column:   col,
				Position: pointOf(lerp(top, bottom, v)),
			})
		}
	}

	return wells, nil
}

// GenerateFromCorners is Generate with the corners taken from c.
func GenerateFromCorners(columns, rows int, c Corners) ([]Well, error) {
	return Generate(columns, rows, c.UpperLeft, c.LowerLeft, c.UpperRight, c.LowerRight)
}

func fraction(i, n int) float64 {
	if n <= 1 {
		return 0
	}
	return float64(i) / float64(n-1)
}

// lerp returns p + t*(q-p) written as (1-t)*p + t*q, which lands exactly on
// p at t=0 and exactly on q at t=1.
func lerp(p, q r3.Vec, t float64) r3.Vec {
	return r3.Add(r3.Scale(1-t, p), r3.Scale(t, q))
}
