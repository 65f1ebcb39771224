package daemon

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/robocam-suite/robocam/pkg/experiment"
	"github.com/robocam-suite/robocam/pkg/types"
)

var ErrUnknownMotionProfile = errors.New("unknown motion profile")

const defaultRunsLimit = 20

// startFromSettings plans s against its saved calibration and starts it.
func startFromSettings(s experiment.Settings) (*types.StartExperimentResponse, error) {
	s = s.WithDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}

	cal, err := calStore.Load(s.CalibrationFile)
	if err != nil {
		return nil, err
	}

	motion, ok := conf.MotionProfile(s.MotionConfigProfile)
	if !ok {
		return nil, pkgerrors.Wrapf(ErrUnknownMotionProfile, "%q (available: %v)", s.MotionConfigProfile, conf.MotionProfileNames())
	}

	plan, err := experiment.BuildPlan(cal, s, motion)
	if err != nil {
		return nil, err
	}

	runID, err := runner.Start(rootCtx, plan)
	if err != nil {
		return nil, err
	}

	return &types.StartExperimentResponse{
		RunID:        runID,
		Wells:        plan.Labels(),
		Estimate:     experiment.FormatHMS(plan.TotalDuration()),
		OutputFolder: runner.Status().OutputFolder,
	}, nil
}

func startExperiment(c *gin.Context) {
	var s experiment.Settings
	if err := c.BindJSON(&s); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	resp, err := startFromSettings(s)
	if err != nil {
		logrus.Errorf("startExperiment failed: %v", err)
		abortWithError(c, statusFor(err), err)
		return
	}

	c.IndentedJSON(http.StatusCreated, resp)
}

func pauseExperiment(c *gin.Context) {
	if err := runner.Pause(); err != nil {
		abortWithError(c, statusFor(err), err)
		return
	}
	logrus.Info("experiment paused")
	c.IndentedJSON(http.StatusCreated, runner.Status())
}

func resumeExperiment(c *gin.Context) {
	if err := runner.Resume(); err != nil {
		abortWithError(c, statusFor(err), err)
		return
	}
	logrus.Info("experiment resumed")
	c.IndentedJSON(http.StatusCreated, runner.Status())
}

func stopExperiment(c *gin.Context) {
	if err := runner.Stop(); err != nil {
		abortWithError(c, statusFor(err), err)
		return
	}
	logrus.Info("experiment stop requested")
	c.IndentedJSON(http.StatusCreated, runner.Status())
}

func getExperiment(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, runner.Status())
}

func listRuns(c *gin.Context) {
	limit := defaultRunsLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			abortWithError(c, http.StatusBadRequest, pkgerrors.Wrapf(err, "invalid limit %q", v))
			return
		}
		limit = n
	}

	runs, err := history.ListRuns(c.Request.Context(), limit)
	if err != nil {
		logrus.Errorf("listRuns failed: %v", err)
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, runs)
}

func getRun(c *gin.Context) {
	ctx := c.Request.Context()
	run, err := history.GetRun(ctx, c.Param("id"))
	if err != nil {
		abortWithError(c, statusFor(err), err)
		return
	}
	visits, err := history.Visits(ctx, run.ID)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{
		"run":    run,
		"visits": visits,
	})
}
