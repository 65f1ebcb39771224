package experiment

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// convertTimeout bounds a single ffmpeg run.
var convertTimeout = 5 * time.Minute

// ffmpeg runs the ffmpeg binary and returns its combined output.
var ffmpeg = func(ctx context.Context, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, "ffmpeg", args...).CombinedOutput()
}

// MP4Path returns where the MP4 copy of a raw H264 recording is written.
func MP4Path(h264Path string) string {
	return strings.TrimSuffix(h264Path, filepath.Ext(h264Path)) + ".mp4"
}

// ConvertToMP4 remuxes a raw H264 recording into an MP4 container next to
// it, without re-encoding. The frame rate recorded in the video's metadata
// file is only logged; the stream keeps its own timing.
func ConvertToMP4(ctx context.Context, h264Path string) (string, error) {
	if _, err := os.Stat(h264Path); err != nil {
		return "", pkgerrors.Wrapf(err, "recording %s", h264Path)
	}

	mp4Path := MP4Path(h264Path)
	log := logrus.WithFields(logrus.Fields{
		"input":  h264Path,
		"output": mp4Path,
	})
	if fps, ok := metadataFPS(MetadataPath(h264Path)); ok {
		log = log.WithField("fps", fps)
	}
	log.Info("converting recording to mp4")

	ctx, cancel := context.WithTimeout(ctx, convertTimeout)
	defer cancel()

	out, err := ffmpeg(ctx, "-y", "-i", h264Path, "-c", "copy", mp4Path)
	if err != nil {
		return "", pkgerrors.Wrapf(err, "ffmpeg failed for %s: %s", h264Path, strings.TrimSpace(string(out)))
	}
	if _, err := os.Stat(mp4Path); err != nil {
		return "", pkgerrors.Wrapf(err, "ffmpeg succeeded but %s is missing", mp4Path)
	}

	return mp4Path, nil
}

// ConvertFolder converts every .h264 recording in dir. Failures are logged
// and counted; an error is returned only when dir cannot be read or ctx
// is cancelled.
func ConvertFolder(ctx context.Context, dir string) (converted, total int, err error) {
	if _, err := os.Stat(dir); err != nil {
		return 0, 0, pkgerrors.Wrapf(err, "failed to read %s", dir)
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.h264"))
	if err != nil {
		return 0, 0, pkgerrors.Wrapf(err, "failed to list recordings in %s", dir)
	}

	for _, path := range matches {
		if ctx.Err() != nil {
			return converted, len(matches), ctx.Err()
		}
		if _, err := ConvertToMP4(ctx, path); err != nil {
			logrus.WithError(err).Warnf("failed to convert %s", path)
			continue
		}
		converted++
	}

	logrus.WithFields(logrus.Fields{
		"dir":       dir,
		"converted": converted,
		"total":     len(matches),
	}).Info("conversion finished")

	return converted, len(matches), nil
}

func metadataFPS(path string) (float64, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	var m VideoMetadata
	if err := json.Unmarshal(b, &m); err != nil {
		return 0, false
	}
	for _, fps := range []float64{m.ActualFPS, m.FPS, m.TargetFPS} {
		if fps > 0 {
			return fps, true
		}
	}
	return 0, false
}
