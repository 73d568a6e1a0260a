// Package driver defines the instrument-specific adapter vocabulary that
// a DeviceSession drives. Concrete SCPI dialects are encapsulated behind
// a Driver interface and out of scope here; this package only provides
// the interface, a thin SCPI line-command helper every dialect needs,
// and a simulated driver (simdriver) used by tests and the hardware-free
// demo CLI.
package driver

import (
	"context"
	"fmt"

	"github.com/multiverse-labs/labctl/internal/protocol"
)

// StatusFields is the result of a lower-cadence status refresh.
type StatusFields struct {
	Mode          string
	OutputEnabled bool
	Setpoints     map[string]float64
}

// Driver is the PSU/electronic-load operation vocabulary.
type Driver interface {
	Identify(ctx context.Context) (protocol.DeviceInfo, error)
	GetCapabilities(ctx context.Context) (protocol.DeviceCapabilities, error)
	ReadMeasurements(ctx context.Context) (map[string]float64, error)
	ReadStatusFields(ctx context.Context) (StatusFields, error)
	SetMode(ctx context.Context, mode string) error
	SetOutput(ctx context.Context, enabled bool) error
	SetValue(ctx context.Context, name string, value float64) error
	Close() error
}

// Oscilloscope extends Driver with scope-specific acquisition operations.
type Oscilloscope interface {
	Driver

	Run(ctx context.Context) error
	Stop(ctx context.Context) error
	Single(ctx context.Context) error
	AutoSetup(ctx context.Context) error
	GetStatus(ctx context.Context) (protocol.OscilloscopeStatus, error)
	GetWaveform(ctx context.Context, channel string) (protocol.WaveformData, error)
	GetMeasurement(ctx context.Context, channel, measurementType string) (float64, error)
	GetScreenshot(ctx context.Context) ([]byte, error)
	SetChannel(ctx context.Context, channel string, cfg protocol.ChannelConfig) error
	SetTimebase(ctx context.Context, secondsPerDiv float64) error
	SetTrigger(ctx context.Context, params map[string]interface{}) error
}

// Error wraps a failed driver operation with the operation name, for a
// consistent "pkg: op failed: cause" logging/error convention.
type Error struct {
	Op    string
	Cause error
}

func (e *Error) Error() string { return fmt.Sprintf("driver: %s: %v", e.Op, e.Cause) }
func (e *Error) Unwrap() error { return e.Cause }

// Wrap builds a driver.Error for op, or returns nil if cause is nil.
func Wrap(op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Op: op, Cause: cause}
}
