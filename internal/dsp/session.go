// Package dsp specifies the narrow interface through which the recognition
// core drives the external DSP graph driver. Per spec.md §1 this driver is
// an out-of-scope external collaborator: only its contract — set_param,
// get_param, start, stop, read, and asynchronous event callbacks — is
// specified here.
package dsp

import "context"

// ParamTag identifies a parameter on the DSP graph (spec.md §6).
type ParamTag uint32

// EventID distinguishes the two first-stage detection payload shapes
// spec.md §6 names.
type EventID int

const (
	EventGenericInfo       EventID = iota // first-stage detection with confidence levels and timestamps
	EventMMADetectionEvent                // PDK variant with per-model stats
)

// Event is a single asynchronous notification from the DSP graph,
// delivered on the channel passed to RegisterCallback.
type Event struct {
	ID         EventID
	MIID       uint32 // module-instance id addressing the detecting submodule
	Confidence []int32
	StartIdx   uint32
	EndIdx     uint32
	FTRT       uint32 // faster-than-real-time byte count, not yet 10ms-rounded
	Timestamp  uint64
}

// Session is one open DSP graph instance, shared by every stream attached
// to the stage-1 engine that owns it (spec.md §4.2).
type Session interface {
	// Open builds the graph from merged model bytes for the given module
	// type. The stage-1 engine calls it when the first stream loads and
	// when it reconfigures the graph; models of later streams are not
	// passed to it.
	Open(ctx context.Context, moduleType string, modelBytes []byte) error

	// Close tears the graph down. Called when the last stream detaches.
	Close(ctx context.Context) error

	// Start issues the DSP start; the caller is responsible for the
	// reference counting described in spec.md §4.2.
	Start(ctx context.Context) error

	// Stop issues the DSP stop.
	Stop(ctx context.Context) error

	// SetParam pushes a tagged parameter, addressed by MIID where relevant.
	SetParam(ctx context.Context, tag ParamTag, miid uint32, payload []byte) error

	// GetParam reads a tagged parameter back.
	GetParam(ctx context.Context, tag ParamTag, miid uint32) ([]byte, error)

	// RegisterCallback arms asynchronous event delivery on the given
	// channel; the session owns the goroutine that feeds it and stops
	// feeding it once ctx is done.
	RegisterCallback(ctx context.Context, events chan<- Event) error

	// Read pulls PCM/FTRT bytes out of the DSP's buffer, used by the
	// stage-1 engine while buffering. A Session may also implement
	// MMapWriter (spec.md §4.2 "MMAP mode"), but the stage-1 engine does
	// not check for it and always uses Read.
	Read(ctx context.Context, buf []byte) (int, error)
}

// MMapWriter is implemented by Session values that expose a DSP-mapped PCM
// buffer whose write-position the ring buffer can use directly as its
// producer pointer (spec.md §4.2 "MMAP mode").
type MMapWriter interface {
	// WritePosition returns the current producer offset into the mapped
	// buffer, in bytes since the buffer was armed.
	WritePosition() uint64
}

// ParamTags used across the core; values are opaque identifiers agreed
// with the DSP graph driver, not meaningful outside this boundary.
const (
	ParamBufferConfig ParamTag = iota + 1
	ParamECRef
	ParamDetectionGraph
	ParamCaptureProfile
)
