package stplugin

import (
	"encoding/binary"
	"sync"
)

// referenceHandle is the Handle a Reference plugin instance hands back.
type referenceHandle struct {
	algorithm  Algorithm
	threshold  int32
	mu         sync.Mutex
	confidence int32 // score the next Process call should report
	detected   bool
}

// Reference is a deterministic, test-friendly Plugin: callers pre-load
// the confidence/detected verdict a session should report via
// SetNextResult, then drive it through the normal v-table the way a real
// vendor .so would be driven. It exists so internal/engine2 and
// internal/stream have a concrete Plugin to exercise without a vendor
// binary, per spec.md §9's "narrow capability interface" redesign note.
type Reference struct {
	mu       sync.Mutex
	sessions map[*referenceHandle]bool
}

// NewReference builds a Reference plugin.
func NewReference() *Reference {
	return &Reference{sessions: make(map[*referenceHandle]bool)}
}

func (r *Reference) Init(props InitProperties) (Handle, error) {
	h := &referenceHandle{algorithm: props.Algorithm, threshold: 50}
	r.mu.Lock()
	r.sessions[h] = true
	r.mu.Unlock()
	return h, nil
}

func (r *Reference) handle(h Handle) (*referenceHandle, bool) {
	rh, ok := h.(*referenceHandle)
	return rh, ok
}

// Process is a no-op in the reference plugin: the verdict for the next
// GetParam(ParamResult) call is whatever SetNextResult configured, not
// derived from frames. Real plugins analyze frames here.
func (r *Reference) Process(h Handle, frames []byte) error {
	_, ok := r.handle(h)
	if !ok {
		return ErrFail
	}
	return nil
}

func (r *Reference) SetParam(h Handle, id ParamID, payload []byte) error {
	rh, ok := r.handle(h)
	if !ok {
		return ErrFail
	}
	switch id {
	case ParamThresholdConfig:
		if len(payload) >= 4 {
			rh.mu.Lock()
			rh.threshold = int32(binary.LittleEndian.Uint32(payload))
			rh.mu.Unlock()
		}
	case ParamReinitAll:
		rh.mu.Lock()
		rh.detected = false
		rh.mu.Unlock()
	}
	return nil
}

func (r *Reference) GetParam(h Handle, id ParamID) ([]byte, error) {
	rh, ok := r.handle(h)
	if !ok {
		return nil, ErrFail
	}
	switch id {
	case ParamResult:
		rh.mu.Lock()
		defer rh.mu.Unlock()
		buf := make([]byte, 9)
		if rh.detected {
			buf[0] = 1
		}
		binary.LittleEndian.PutUint32(buf[1:5], uint32(rh.confidence))
		binary.LittleEndian.PutUint32(buf[5:9], uint32(rh.confidence))
		return buf, nil
	default:
		return nil, nil
	}
}

func (r *Reference) End(h Handle) error {
	rh, ok := r.handle(h)
	if !ok {
		return ErrFail
	}
	r.mu.Lock()
	delete(r.sessions, rh)
	r.mu.Unlock()
	return nil
}

// Sessions returns the set of currently open session handles, for tests
// driving a worker loop that need to reach a handle they did not keep.
func (r *Reference) Sessions() map[*referenceHandle]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[*referenceHandle]bool, len(r.sessions))
	for h, v := range r.sessions {
		out[h] = v
	}
	return out
}

// SetNextResult configures what GetParam(ParamResult) reports for this
// session, for use by tests driving the worker loop. A later
// SetParam(ParamReinitAll) clears the detected flag again; the confidence
// is kept.
func (r *Reference) SetNextResult(h Handle, detected bool, confidence int32) {
	rh, ok := r.handle(h)
	if !ok {
		return
	}
	rh.mu.Lock()
	rh.detected = detected
	rh.confidence = confidence
	rh.mu.Unlock()
}

// DecodeResult parses the 9-byte RESULT payload the Reference plugin
// (and any compatible plugin) reports: [0]=is_detected, [1:5]=confidence,
// [5:9]=user score.
func DecodeResult(payload []byte) Result {
	if len(payload) < 9 {
		return Result{}
	}
	return Result{
		IsDetected: payload[0] != 0,
		Confidence: int32(binary.LittleEndian.Uint32(payload[1:5])),
		UserScore:  int32(binary.LittleEndian.Uint32(payload[5:9])),
	}
}
