package hardware

import (
	"errors"
	"sort"
	"sync"

	pkgerrors "github.com/pkg/errors"
)

// CameraKind names a capture backend. The backend is chosen once at startup.
type CameraKind string

const CameraSimulated CameraKind = "simulated"

var ErrUnknownCamera = errors.New("unknown camera kind")

// CameraFactory builds a Camera backend.
type CameraFactory func() (Camera, error)

var (
	camerasMu sync.RWMutex
	cameras   = map[CameraKind]CameraFactory{
		CameraSimulated: func() (Camera, error) { return NewSimCamera(), nil },
	}
)

// RegisterCamera makes a backend available to NewCamera. Registering a kind
// twice replaces the earlier factory.
func RegisterCamera(kind CameraKind, f CameraFactory) {
	camerasMu.Lock()
	defer camerasMu.Unlock()
	cameras[kind] = f
}

// CameraKinds lists the registered backends.
func CameraKinds() []CameraKind {
	camerasMu.RLock()
	defer camerasMu.RUnlock()

	kinds := make([]CameraKind, 0, len(cameras))
	for k := range cameras {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// NewCamera builds the backend registered for kind.
func NewCamera(kind CameraKind) (Camera, error) {
	camerasMu.RLock()
	f, ok := cameras[kind]
	camerasMu.RUnlock()
	if !ok {
		return nil, pkgerrors.Wrapf(ErrUnknownCamera, "%q (available: %v)", kind, CameraKinds())
	}
	return f()
}
