// Package hardware defines the devices an experiment drives: a positioning
// stage, an on/off emitter (the laser) and a camera. Only simulated devices
// live here; real drivers plug in through the same interfaces.
package hardware
