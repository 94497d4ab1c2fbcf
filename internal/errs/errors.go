// Package errs holds the sentinel error kinds of spec.md §7, shared across
// the recognition-core packages the way pipeline.ErrQueueFull and friends
// are shared across the teacher's pipeline package.
package errs

import "errors"

var (
	// ErrInvalidArgument covers a bad pointer, bad size, or config mismatch.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNoMemory covers allocation failure (ring buffer, plugin scratch).
	ErrNoMemory = errors.New("no memory available")

	// ErrDeviceBusy is returned as contention when paused during start.
	ErrDeviceBusy = errors.New("device busy")

	// ErrDeviceFailure covers an open/start/stop failure on the capture device.
	ErrDeviceFailure = errors.New("device failure")

	// ErrPluginFailure covers a stage-2 plugin returning a failure code.
	ErrPluginFailure = errors.New("stage-2 plugin failure")

	// ErrRingBufferUnderrun propagates up as an IO error to the stage-2
	// worker only; it never reaches the client.
	ErrRingBufferUnderrun = errors.New("ring buffer underrun")

	// ErrRestartIgnored is returned by Stream.Start when a stream in the
	// detected state fails to restart its stage-1 engine; the stream stays
	// detected and no fallback to a fresh start is made.
	ErrRestartIgnored = errors.New("restart ignored: engine not active")

	// ErrSsrInProgress is returned for events that must be retried after
	// ssr_online.
	ErrSsrInProgress = errors.New("sub-system restart in progress")

	// ErrUnknownStream is returned by the registry for stream ids with no
	// live entry.
	ErrUnknownStream = errors.New("unknown stream")

	// ErrUnknownEngine is returned by the registry for module types with no
	// live stage-1 engine.
	ErrUnknownEngine = errors.New("unknown engine")
)
