package experiment

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/robocam-suite/robocam/pkg/wellgrid"
)

const (
	dateLayout     = "20060102"
	timeLayout     = "150405"
	dateTimeLayout = dateLayout + "_" + timeLayout
)

// OutputFolder returns <root>/YYYYMMDD_<experiment>.
func OutputFolder(root, experiment string, at time.Time) string {
	return filepath.Join(root, at.Format(dateLayout)+"_"+experiment)
}

// PointsFileName returns YYYYMMDD_HHMMSS_<experiment>_points.csv.
func PointsFileName(experiment string, at time.Time) string {
	return at.Format(dateTimeLayout) + "_" + experiment + "_points.csv"
}

// VideoFileName returns YYYYMMDD_HHMMSS_<experiment>_<label>.h264.
func VideoFileName(experiment, label string, at time.Time) string {
	return at.Format(dateTimeLayout) + "_" + experiment + "_" + label + ".h264"
}

// ImageFileName returns
// YYYYMMDD_HHMMSS_<experiment>_<label>_GPIO_<ON|OFF>_img<n>.<ext>, where n
// counts captures at the well from 1.
func ImageFileName(experiment, label string, at time.Time, emitterOn bool, n int, exportType string) string {
	state := "OFF"
	if emitterOn {
		state = "ON"
	}
	ext := ".png"
	if exportType == ExportJPEG {
		ext = ".jpg"
	}
	return at.Format(dateTimeLayout) + "_" + experiment + "_" + label + "_GPIO_" + state + "_img" + strconv.Itoa(n) + ext
}

var pointsHeader = []string{"xlabel", "ylabel", "xval", "yval", "zval"}

// WritePoints writes one CSV row per well: column number, row letter and
// the x, y, z position.
func WritePoints(w io.Writer, wells []wellgrid.Well) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(pointsHeader); err != nil {
		return err
	}
	for _, well := range wells {
		rec := []string{
			strconv.Itoa(well.Column + 1),
			wellgrid.RowLetter(well.Row),
			formatFloat(well.Position.X),
			formatFloat(well.Position.Y),
			formatFloat(well.Position.Z),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// SavePoints writes the points CSV into dir and returns its path.
func SavePoints(dir, experiment string, at time.Time, wells []wellgrid.Well) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", pkgerrors.Wrapf(err, "failed to create %s", dir)
	}
	path := filepath.Join(dir, PointsFileName(experiment, at))
	f, err := os.Create(path)
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to create %s", path)
	}
	if err := WritePoints(f, wells); err != nil {
		_ = f.Close()
		return "", pkgerrors.Wrapf(err, "failed to write %s", path)
	}
	if err := f.Close(); err != nil {
		return "", pkgerrors.Wrapf(err, "failed to close %s", path)
	}
	return path, nil
}

// VideoMetadata is written next to every video so that playback can use the
// frame rate the camera actually achieved.
type VideoMetadata struct {
	TargetFPS             float64 `json:"target_fps"`
	FPS                   float64 `json:"fps"`
	ActualFPS             float64 `json:"actual_fps"`
	Resolution            [2]int  `json:"resolution"`
	DurationSeconds       float64 `json:"duration_seconds"`
	ActualDurationSeconds float64 `json:"actual_duration_seconds"`
	Format                string  `json:"format"`
	Timestamp             string  `json:"timestamp"`
	WellLabel             string  `json:"well_label"`
	VideoFile             string  `json:"video_file"`
}

// NewVideoMetadata derives the actual frame rate from the number of frames
// expected at targetFPS over expected, spread over actual.
func NewVideoMetadata(videoPath, label string, targetFPS float64, resolution [2]int, expected, actual time.Duration, format string, at time.Time) VideoMetadata {
	fps := targetFPS
	if actual > 0 && expected > 0 {
		fps = targetFPS * expected.Seconds() / actual.Seconds()
	}
	actualSecs := actual.Seconds()
	if actual <= 0 {
		actualSecs = expected.Seconds()
	}
	return VideoMetadata{
		TargetFPS:             targetFPS,
		FPS:                   fps,
		ActualFPS:             fps,
		Resolution:            resolution,
		DurationSeconds:       expected.Seconds(),
		ActualDurationSeconds: actualSecs,
		Format:                format,
		Timestamp:             at.Format(dateTimeLayout),
		WellLabel:             label,
		VideoFile:             filepath.Base(videoPath),
	}
}

// DurationMismatch reports whether the actual duration differs from the
// expected one by more than 5% or one second, whichever is larger.
func (m VideoMetadata) DurationMismatch() bool {
	tolerance := m.DurationSeconds * 0.05
	if tolerance < 1 {
		tolerance = 1
	}
	diff := m.ActualDurationSeconds - m.DurationSeconds
	if diff < 0 {
		diff = -diff
	}
	return diff > tolerance
}

// MetadataPath returns the metadata file for a video: the video path with
// its extension replaced by _metadata.json.
func MetadataPath(videoPath string) string {
	return strings.TrimSuffix(videoPath, filepath.Ext(videoPath)) + "_metadata.json"
}

// WriteVideoMetadata writes m next to videoPath and returns the file path.
func WriteVideoMetadata(videoPath string, m VideoMetadata) (string, error) {
	path := MetadataPath(videoPath)
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", pkgerrors.Wrap(err, "failed to marshal video metadata")
	}
	if err := os.WriteFile(path, b, 0644); err != nil {
		return "", pkgerrors.Wrapf(err, "failed to write %s", path)
	}
	return path, nil
}
