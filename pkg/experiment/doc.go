// Package experiment plans and runs an imaging experiment over a calibrated
// plate.
//
// A Plan is built from a saved calibration and user Settings: the selected
// wells are put in traversal order and the per-well action phases are
// validated. A Runner then walks the plan through the stage, emitter and
// camera, writing the points CSV, videos or images, and per-video metadata
// into the output folder. Runs can be paused, resumed and stopped.
package experiment
