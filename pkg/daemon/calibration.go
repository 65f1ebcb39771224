package daemon

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/robocam-suite/robocam/pkg/calibration"
	"github.com/robocam-suite/robocam/pkg/events"
	"github.com/robocam-suite/robocam/pkg/types"
	"github.com/robocam-suite/robocam/pkg/wellgrid"
)

type gridSize struct {
	Columns int `json:"columns"`
	Rows    int `json:"rows"`
}

func publishCalibration(corner calibration.Corner) {
	st := session.Status()
	sseHub.Publish(events.CalibrationChange, events.CalibrationChangeEvent{
		Phase:   string(st.Phase),
		Corner:  string(corner),
		Wells:   st.Wells,
		Message: st.Message,
		Ts:      time.Now().Unix(),
	})
}

func getCalibration(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, session.Status())
}

func getCalibrationGrid(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, session.Wells())
}

func setCalibrationGrid(c *gin.Context) {
	var g gridSize
	if err := c.BindJSON(&g); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	if err := session.SetGrid(g.Columns, g.Rows); err != nil {
		abortWithError(c, statusFor(err), err)
		return
	}

	logrus.Infof("set calibration grid to %dx%d", g.Columns, g.Rows)
	publishCalibration("")

	c.IndentedJSON(http.StatusCreated, session.Status())
}

// setCalibrationCorner records a corner from the request body, or from the
// current stage position when the body is empty.
func setCalibrationCorner(c *gin.Context) {
	corner, err := calibration.ParseCorner(c.Param("name"))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	var p wellgrid.Point
	if len(body) == 0 {
		p, err = stage.Position(c.Request.Context())
		if err != nil {
			logrus.Errorf("failed to read stage position: %v", err)
			abortWithError(c, http.StatusInternalServerError, err)
			return
		}
	} else if err := bindBody(body, &p); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	if err := session.SetCorner(corner, p); err != nil {
		abortWithError(c, statusFor(err), err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"corner":   corner,
		"position": p,
	}).Info("calibration corner set")
	publishCalibration(corner)

	c.IndentedJSON(http.StatusCreated, session.Status())
}

func saveCalibration(c *gin.Context) {
	var req types.SaveCalibrationRequest
	if err := c.BindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	cal, err := session.Build(req.Name)
	if err != nil {
		abortWithError(c, statusFor(err), err)
		return
	}

	file, err := calStore.Save(cal)
	if err != nil {
		logrus.Errorf("saveCalibration failed: %v", err)
		abortWithError(c, statusFor(err), err)
		return
	}
	session.MarkSaved(file)
	publishCalibration("")

	c.IndentedJSON(http.StatusCreated, types.SaveCalibrationResponse{
		File:  file,
		Wells: len(cal.Labels),
	})
}

func resetCalibration(c *gin.Context) {
	session.Reset()
	logrus.Info("calibration reset")
	publishCalibration("")

	c.IndentedJSON(http.StatusCreated, session.Status())
}

func listCalibrations(c *gin.Context) {
	infos, err := calStore.List()
	if err != nil {
		logrus.Errorf("listCalibrations failed: %v", err)
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, infos)
}
