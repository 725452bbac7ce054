// Package mirror defines the handle to the steering-mirror hardware and a
// simulated implementation for tests and offline runs. The real driver lives
// outside this repository; the core only ever sees this interface, passed in
// explicitly rather than reached through global instrument state.
package mirror

import (
	"context"
	"errors"

	"github.com/jvietorisz/BeamAlignment/internal/scan"
)

// ErrHardwareFault is wrapped by adapter errors when the instrument fails
// mid-scan. The scan loop treats it as scan-abort: the record is marked
// partial, never discarded.
var ErrHardwareFault = errors.New("steering mirror hardware fault")

// Mirror is the minimal interface the core needs from the instrument layer:
// aim the beam, read the transmitted power. Implementations own exactly one
// physical (or simulated) device; the mirror is a singleton resource and the
// active scan owns it exclusively.
type Mirror interface {
	// Move applies the voltage pair to the steering mirror.
	Move(ctx context.Context, v scan.VoltagePair) error

	// ReadPower returns the sensor's transmitted power in mW.
	ReadPower(ctx context.Context) (float64, error)

	// Close releases the device.
	Close() error
}
