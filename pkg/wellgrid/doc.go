// Package wellgrid computes the positions of every well on a multi-well plate
// from four measured corner positions, and orders those wells into the path the
// stage follows during an experiment.
//
// The package is pure: it performs no I/O, keeps no state and never logs.
// Callers own persistence of the returned wells.
//
//	wells, err := wellgrid.Generate(12, 8, ul, ll, ur, lr)
//	if err != nil { /* handle */ }
//	path, err := wellgrid.Sequence(wells, 12, 8, wellgrid.Snake)
package wellgrid
