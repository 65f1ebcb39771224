package calibration

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/robocam-suite/robocam/pkg/wellgrid"
)

const fileTimeLayout = "20060102_150405"

// Triple is a position stored as [x, y, z].
type Triple [3]float64

func tripleOf(p wellgrid.Point) Triple { return Triple{p.X, p.Y, p.Z} }

func (t Triple) Point() wellgrid.Point { return wellgrid.Point{X: t[0], Y: t[1], Z: t[2]} }

// Calibration is the on-disk record of a calibrated plate.
type Calibration struct {
	Name                  string    `json:"name"`
	UpperLeft             Triple    `json:"upper_left"`
	LowerLeft             Triple    `json:"lower_left"`
	UpperRight            Triple    `json:"upper_right"`
	LowerRight            Triple    `json:"lower_right"`
	XQuantity             int       `json:"x_quantity"`
	YQuantity             int       `json:"y_quantity"`
	InterpolatedPositions []Triple  `json:"interpolated_positions"`
	Labels                []string  `json:"labels"`
	Timestamp             time.Time `json:"timestamp"`
}

// New builds a calibration record from row-major wells.
func New(name string, columns, rows int, c wellgrid.Corners, wells []wellgrid.Well, at time.Time) *Calibration {
	cal := &Calibration{
		Name:                  name,
		UpperLeft:             tripleOf(c.UpperLeft),
		LowerLeft:             tripleOf(c.LowerLeft),
		UpperRight:            tripleOf(c.UpperRight),
		LowerRight:            tripleOf(c.LowerRight),
		XQuantity:             columns,
		YQuantity:             rows,
		InterpolatedPositions: make([]Triple, len(wells)),
		Labels:                make([]string, len(wells)),
		Timestamp:             at,
	}
	for i, w := range wells {
		cal.InterpolatedPositions[i] = tripleOf(w.Position)
		cal.Labels[i] = w.Label
	}
	return cal
}

func (c *Calibration) Corners() wellgrid.Corners {
	return wellgrid.Corners{
		UpperLeft:  c.UpperLeft.Point(),
		LowerLeft:  c.LowerLeft.Point(),
		UpperRight: c.UpperRight.Point(),
		LowerRight: c.LowerRight.Point(),
	}
}

// Validate checks that the record describes a complete grid.
func (c *Calibration) Validate() error {
	if err := wellgrid.ValidateSize(c.XQuantity, c.YQuantity); err != nil {
		return pkgerrors.Wrapf(ErrInvalidFile, "%v", err)
	}
	n := c.XQuantity * c.YQuantity
	if len(c.InterpolatedPositions) != n {
		return pkgerrors.Wrapf(ErrInvalidFile, "expected %d positions for a %dx%d grid, got %d",
			n, c.XQuantity, c.YQuantity, len(c.InterpolatedPositions))
	}
	if len(c.Labels) != n {
		return pkgerrors.Wrapf(ErrInvalidFile, "expected %d labels for a %dx%d grid, got %d",
			n, c.XQuantity, c.YQuantity, len(c.Labels))
	}
	// Wells are stored row-major, A1 first.
	for i, label := range c.Labels {
		if want := wellgrid.Label(i/c.XQuantity, i%c.XQuantity); label != want {
			return pkgerrors.Wrapf(ErrInvalidFile, "well %d is labelled %q, expected %s", i, label, want)
		}
	}
	return nil
}

// Wells rebuilds the row-major well list stored in the record.
func (c *Calibration) Wells() ([]wellgrid.Well, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	wells := make([]wellgrid.Well, len(c.Labels))
	for i, label := range c.Labels {
		wells[i] = wellgrid.Well{
			Label:    label,
			Row:      i / c.XQuantity,
			Column:   i % c.XQuantity,
			Position: c.InterpolatedPositions[i].Point(),
		}
	}
	return wells, nil
}

// ValidateName checks that name can be used in a file name.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return pkgerrors.Wrap(ErrInvalidName, "name is empty")
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return pkgerrors.Wrapf(ErrInvalidName, "%q", name)
	}
	return nil
}

// FileName returns the file name a calibration is saved under,
// YYYYMMDD_HHMMSS_<name>.json.
func FileName(name string, at time.Time) string {
	return at.Format(fileTimeLayout) + "_" + name + ".json"
}

// LoadFile reads and validates a calibration file at path.
func LoadFile(path string) (*Calibration, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to read calibration %s", path)
	}

	var c Calibration
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, pkgerrors.Wrapf(ErrInvalidFile, "%s: %v", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, pkgerrors.Wrapf(err, "%s", path)
	}
	return &c, nil
}

// FileInfo describes a saved calibration.
type FileInfo struct {
	File    string    `json:"file"`
	Name    string    `json:"name"`
	Columns int       `json:"columns"`
	Rows    int       `json:"rows"`
	SavedAt time.Time `json:"savedAt"`
}

// Store keeps calibration files in a directory.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Dir() string { return s.dir }

// Save writes c and returns the file name it was written to.
func (s *Store) Save(c *Calibration) (string, error) {
	if err := ValidateName(c.Name); err != nil {
		return "", err
	}
	if err := c.Validate(); err != nil {
		return "", err
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", pkgerrors.Wrapf(err, "failed to create %s", s.dir)
	}

	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to marshal calibration %s", c.Name)
	}

	file := FileName(c.Name, c.Timestamp)
	path := filepath.Join(s.dir, file)
	if err := os.WriteFile(path, b, 0644); err != nil {
		return "", pkgerrors.Wrapf(err, "failed to write %s", path)
	}

	logrus.WithFields(logrus.Fields{
		"file":  path,
		"wells": len(c.Labels),
	}).Info("calibration saved")

	return file, nil
}

// Load reads the calibration saved under file, a bare file name in the
// store directory.
func (s *Store) Load(file string) (*Calibration, error) {
	if filepath.Base(file) != file || file == "." || file == ".." {
		return nil, pkgerrors.Wrapf(ErrInvalidName, "%q is not a file name", file)
	}
	return LoadFile(filepath.Join(s.dir, file))
}

// List returns every readable calibration, newest first. Unreadable files
// are skipped with a warning.
func (s *Store) List() ([]FileInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []FileInfo{}, nil
		}
		return nil, pkgerrors.Wrapf(err, "failed to list %s", s.dir)
	}

	infos := []FileInfo{}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		c, err := s.Load(e.Name())
		if err != nil {
			logrus.WithError(err).Warnf("skipping calibration file %s", e.Name())
			continue
		}
		savedAt := c.Timestamp
		if savedAt.IsZero() {
			savedAt = timeFromFileName(e.Name())
		}
		infos = append(infos, FileInfo{
			File:    e.Name(),
			Name:    c.Name,
			Columns: c.XQuantity,
			Rows:    c.YQuantity,
			SavedAt: savedAt,
		})
	}

	sort.SliceStable(infos, func(i, j int) bool { return infos[i].File > infos[j].File })

	return infos, nil
}

func timeFromFileName(name string) time.Time {
	if len(name) < len(fileTimeLayout) {
		return time.Time{}
	}
	t, err := time.ParseInLocation(fileTimeLayout, name[:len(fileTimeLayout)], time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (fi FileInfo) String() string {
	return fmt.Sprintf("%s (%s, %dx%d)", fi.File, fi.Name, fi.Columns, fi.Rows)
}
