// Package resource specifies the narrow interface through which the
// recognition core talks to the device/route resource manager: an
// out-of-scope external collaborator per spec.md §1, here reduced to its
// register/deregister/query contract.
package resource

import "context"

// CaptureProfile is the tuple (sample_rate, bit_width, channels, snd_name,
// EC_required) representing the shared input configuration (GLOSSARY).
type CaptureProfile struct {
	SampleRate   int
	BitWidth     int
	Channels     int
	DeviceName   string
	ECRequired   bool
	LowPowerIsle bool // LPI vs NLPI, see GLOSSARY
}

// Equal reports whether two profiles describe the same shared input
// configuration, used by the idempotence check of spec.md §8.
func (p CaptureProfile) Equal(o CaptureProfile) bool {
	return p == o
}

// Token is returned by RegisterStream and threaded by value through
// stream critical sections, standing in for the coarse resource-manager
// mutex of spec.md §5 per the lock-ordering redesign of spec.md §9: it
// proves the caller registered before touching shared capture state, and
// carries nothing mutable so passing it around cannot deadlock.
type Token struct {
	StreamID string
}

// Manager is the resource manager / device-route manager boundary.
type Manager interface {
	RegisterStream(ctx context.Context, streamID string) (Token, error)
	DeregisterStream(ctx context.Context, tok Token) error

	RegisterDevice(ctx context.Context, tok Token, deviceName string) error
	DeregisterDevice(ctx context.Context, tok Token, deviceName string) error

	// GetCaptureProfile resolves the shared profile for an operating
	// mode/input mode pair.
	GetCaptureProfile(ctx context.Context, operatingMode, inputMode string) (CaptureProfile, error)

	// UpdateCaptureProfile recomputes the merge-max profile across all
	// active streams and reports whether it changed.
	UpdateCaptureProfile(ctx context.Context, tok Token, active bool) (changed bool, profile CaptureProfile, err error)

	VoteSleepMonitor(ctx context.Context, tok Token, on bool, pinned bool) error

	CheckECRef(ctx context.Context, rxDevice, txDevice string) (bool, error)

	// ConcurrentStreamStatus reports whether another, incompatible
	// concurrent capture session started or stopped.
	ConcurrentStreamStatus(ctx context.Context, tok Token, started bool) error

	HandleDeferredSwitch(ctx context.Context, tok Token) error

	AcquireWakeLock(ctx context.Context, tok Token) error
	ReleaseWakeLock(ctx context.Context, tok Token) error
}
