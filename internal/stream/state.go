// Package stream implements the per-stream recognition state machine of
// spec.md §4.1: the client-facing facade that orchestrates a stage-1
// engine, its stage-2 engines, the resource manager, and the deferred
// stop timer for one recognition session.
package stream

// State is one of the six states spec.md §4.1 names.
type State int

const (
	StateIdle State = iota
	StateLoaded
	StateActive
	StateDetected
	StateBuffering
	StateSSR
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoaded:
		return "loaded"
	case StateActive:
		return "active"
	case StateDetected:
		return "detected"
	case StateBuffering:
		return "buffering"
	case StateSSR:
		return "ssr"
	default:
		return "unknown"
	}
}

// DetectionKind distinguishes the detected(kind) event variants spec.md
// §4.1 names.
type DetectionKind int

const (
	DetectionGMM DetectionKind = iota
	DetectionKWSuccess
	DetectionKWReject
	DetectionUVSuccess
	DetectionUVReject
)
