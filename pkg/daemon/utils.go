package daemon

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/robocam-suite/robocam/pkg/calibration"
	"github.com/robocam-suite/robocam/pkg/experiment"
	"github.com/robocam-suite/robocam/pkg/hardware"
	"github.com/robocam-suite/robocam/pkg/store"
	"github.com/robocam-suite/robocam/pkg/wellgrid"
)

// Logger is the logrus logger handler
func ginLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// other handler can change c.Path so:
		path := c.Request.URL.Path
		start := time.Now()
		c.Next()
		stop := time.Since(start)
		latency := int(math.Ceil(float64(stop.Nanoseconds()) / 1000000.0))
		statusCode := c.Writer.Status()
		dataLength := c.Writer.Size()
		if dataLength < 0 {
			dataLength = 0
		}

		entry := logger.WithFields(logrus.Fields{
			"statusCode": statusCode,
			"latency":    latency, // time to process
			"method":     c.Request.Method,
			"path":       path,
			"dataLength": dataLength,
		})

		if len(c.Errors) > 0 {
			entry.Error(c.Errors.ByType(gin.ErrorTypePrivate).String())
		} else {
			msg := fmt.Sprintf("%s %s %d (%dms)", c.Request.Method, path, statusCode, latency)
			//nolint:gocritic
			if statusCode >= http.StatusInternalServerError {
				entry.Error(msg)
			} else if statusCode >= http.StatusBadRequest {
				entry.Warn(msg)
			} else {
				entry.Debug(msg)
			}
		}
	}
}

// abortWithError writes err as the response body and records it on c so that
// ginLogger logs it.
func abortWithError(c *gin.Context, code int, err error) {
	c.IndentedJSON(code, err.Error())
	_ = c.AbortWithError(code, err)
}

// statusFor maps errors from the packages the handlers call to a status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, experiment.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, experiment.ErrNotRunning),
		errors.Is(err, ErrNoSchedule):
		return http.StatusConflict
	case errors.Is(err, os.ErrNotExist),
		errors.Is(err, store.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, wellgrid.ErrInvalidGridSpec),
		errors.Is(err, wellgrid.ErrGridSizeMismatch),
		errors.Is(err, wellgrid.ErrUnknownPattern),
		errors.Is(err, wellgrid.ErrInvalidLabel),
		errors.Is(err, calibration.ErrUnknownCorner),
		errors.Is(err, calibration.ErrIncomplete),
		errors.Is(err, calibration.ErrInvalidName),
		errors.Is(err, calibration.ErrInvalidFile),
		errors.Is(err, experiment.ErrInvalidSettings),
		errors.Is(err, experiment.ErrInvalidPhase),
		errors.Is(err, experiment.ErrNoWellsSelected),
		errors.Is(err, experiment.ErrUnknownWell),
		errors.Is(err, hardware.ErrOutOfLimits),
		errors.Is(err, ErrUnknownMotionProfile),
		errors.Is(err, ErrInvalidSchedule):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// bindBody decodes a JSON body that has already been read.
func bindBody(body []byte, v any) error {
	d := json.NewDecoder(bytes.NewReader(body))
	d.DisallowUnknownFields()
	return d.Decode(v)
}
