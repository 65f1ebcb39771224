// Package calibration turns four measured plate corners into a saved well
// list. It contains:
//
//   - Session: collects the grid size and the four corners, and re-runs the
//     interpolation whenever enough is known
//   - Calibration: the record written to disk, in the JSON layout used by the
//     calibration files robocam has always produced
//   - Store: saves, lists and loads calibration files in a directory
//
// These types are shared across daemon, client and CLI code to keep JSON
// contracts consistent.
package calibration
