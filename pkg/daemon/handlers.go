package daemon

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/robocam-suite/robocam/pkg/config"
	"github.com/robocam-suite/robocam/pkg/types"
	"github.com/robocam-suite/robocam/pkg/version"
	"github.com/robocam-suite/robocam/pkg/wellgrid"
)

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}

func getConfig(c *gin.Context) {
	fc, err := config.NewRawFileConfigFromConfig(conf)
	if err != nil {
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, fc)
}

func getMotionProfiles(c *gin.Context) {
	profiles := map[string]config.MotionProfile{}
	for _, name := range conf.MotionProfileNames() {
		if p, ok := conf.MotionProfile(name); ok {
			profiles[name] = p
		}
	}
	c.IndentedJSON(http.StatusOK, profiles)
}

func getStatus(c *gin.Context) {
	pos, err := stage.Position(c.Request.Context())
	if err != nil {
		logrus.Errorf("getStatus failed: %v", err)
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}

	c.IndentedJSON(http.StatusOK, types.Status{
		Version:     version.Version,
		Position:    pos,
		Laser:       emitter.On(),
		Camera:      string(conf.CameraKind()),
		Calibration: session.Status().Phase,
		Experiment:  runner.Status(),
		Schedule:    scheduleStatus(),
	})
}

func getPosition(c *gin.Context) {
	pos, err := stage.Position(c.Request.Context())
	if err != nil {
		logrus.Errorf("getPosition failed: %v", err)
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, pos)
}

// manualControlAllowed rejects manual stage and laser control while an
// experiment owns the devices.
func manualControlAllowed(c *gin.Context) bool {
	st := runner.Status()
	if st.Phase.Active() {
		abortWithError(c, http.StatusConflict, fmt.Errorf("experiment %s is %s, stop it first", st.RunID, st.Phase))
		return false
	}
	return true
}

func home(c *gin.Context) {
	if !manualControlAllowed(c) {
		return
	}

	if err := stage.Home(c.Request.Context()); err != nil {
		logrus.Errorf("home failed: %v", err)
		abortWithError(c, statusFor(err), err)
		return
	}

	pos, _ := stage.Position(c.Request.Context())
	logrus.WithField("position", pos).Info("stage homed")

	c.IndentedJSON(http.StatusCreated, pos)
}

func move(c *gin.Context) {
	var req types.MoveRequest
	if err := c.BindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	if !manualControlAllowed(c) {
		return
	}

	ctx := c.Request.Context()
	target := req.Point
	if req.Relative {
		pos, err := stage.Position(ctx)
		if err != nil {
			abortWithError(c, http.StatusInternalServerError, err)
			return
		}
		target = wellgrid.Point{X: pos.X + req.X, Y: pos.Y + req.Y, Z: pos.Z + req.Z}
	}

	feedrate := req.Feedrate
	if feedrate <= 0 {
		p, _ := conf.MotionProfile("")
		feedrate = p.BetweenWells.Feedrate
	}

	if err := stage.MoveTo(ctx, target, feedrate); err != nil {
		logrus.Errorf("move failed: %v", err)
		abortWithError(c, statusFor(err), err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"position": target,
		"feedrate": feedrate,
	}).Info("stage moved")

	c.IndentedJSON(http.StatusCreated, target)
}

func setLaser(c *gin.Context) {
	var on bool
	if err := c.BindJSON(&on); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	if !manualControlAllowed(c) {
		return
	}

	if err := emitter.Switch(c.Request.Context(), on); err != nil {
		logrus.Errorf("setLaser failed: %v", err)
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}

	logrus.Infof("set laser to %t", on)

	c.IndentedJSON(http.StatusCreated, "ok")
}

func getLaser(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, emitter.On())
}

// generateGrid interpolates and orders a plate without touching any device
// or the calibration session.
func generateGrid(c *gin.Context) {
	var req types.GridRequest
	if err := c.BindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	pattern := wellgrid.Snake
	if req.Pattern != "" {
		var err error
		if pattern, err = wellgrid.ParsePattern(req.Pattern); err != nil {
			abortWithError(c, http.StatusBadRequest, err)
			return
		}
	}

	wells, err := wellgrid.GenerateFromCorners(req.Columns, req.Rows, req.Corners)
	if err != nil {
		abortWithError(c, statusFor(err), err)
		return
	}
	seq, err := wellgrid.Sequence(wells, req.Columns, req.Rows, pattern)
	if err != nil {
		abortWithError(c, statusFor(err), err)
		return
	}

	c.IndentedJSON(http.StatusOK, types.GridResponse{
		Pattern:  pattern,
		Wells:    wells,
		Sequence: seq,
	})
}
