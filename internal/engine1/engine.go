// Package engine1 implements the stage-1 shared DSP engine of spec.md
// §4.2: one instance per module_type, shared by every stream whose sound
// model targets that DSP graph.
package engine1

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fankserver/voicetrigger/internal/dsp"
	"github.com/fankserver/voicetrigger/internal/errs"
	"github.com/fankserver/voicetrigger/internal/ringbuffer"
	"github.com/sirupsen/logrus"
)

// pcmPumpChunkBytes is the chunk size the buffering-mode PCM pump reads
// from the DSP session per iteration (spec.md §4.2/§4.4).
const pcmPumpChunkBytes = 320

// pendingDetection is one queued detection, carrying its stream id and the
// original event so a promoted stream (spec.md §4.2 "det_streams_q") gets
// its own published indices instead of a synthesized, indices-less replay.
type pendingDetection struct {
	streamID string
	ev       dsp.Event
}

// SubState is the engine's position in the idle -> loaded -> active <->
// buffering|detected sub-state machine (spec.md §4.2).
type SubState int

const (
	SubStateIdle SubState = iota
	SubStateLoaded
	SubStateActive
	SubStateBuffering
	SubStateDetected
)

// BufConfig is the merge-max buffer window spec.md §4.2's
// update_buf_config maintains across attached streams.
type BufConfig struct {
	HistoryMs int
	PrerollMs int
}

// DetectionHandler is how an engine reports a first-stage trigger back
// to the stream that owns the detecting model, standing in for the
// original's direct set_engine_detection_state virtual call.
type DetectionHandler func(streamID string, ev dsp.Event)

// Engine is the stage-1 shared session for one module_type.
type Engine struct {
	moduleType string
	session    dsp.Session
	arbiter    *DetectionArbiter
	onDetect   DetectionHandler

	log *logrus.Entry

	mu             sync.Mutex
	state          SubState
	loadedStreams  map[string]bool
	startedStreams map[string]bool
	bufConfigs     map[string]BufConfig
	ecRefCount     int
	miidToStream   map[uint32]string
	detStreamsQ    []pendingDetection
	detStreamID    string // stream id currently owning detected/buffering, if any
	ringBuffers    map[string]*ringbuffer.Buffer
	runCtx         context.Context

	eventsCh chan dsp.Event
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs a stage-1 engine for moduleType, sharing the given
// global detection arbiter with every other engine in the process.
func New(moduleType string, session dsp.Session, arbiter *DetectionArbiter, onDetect DetectionHandler) *Engine {
	return &Engine{
		moduleType:     moduleType,
		session:        session,
		arbiter:        arbiter,
		onDetect:       onDetect,
		log:            logrus.WithFields(logrus.Fields{"module_type": moduleType}),
		loadedStreams:  make(map[string]bool),
		startedStreams: make(map[string]bool),
		bufConfigs:     make(map[string]BufConfig),
		miidToStream:   make(map[uint32]string),
		ringBuffers:    make(map[string]*ringbuffer.Buffer),
		runCtx:         context.Background(),
		eventsCh:       make(chan dsp.Event, 16),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

// AttachRingBuffer registers the ring buffer belonging to streamID's engine
// chain, so the buffering-mode PCM pump has somewhere to write the PCM it
// reads from the DSP session while that stream owns a detection (spec.md
// §4.2 "DSP PCM -> ring buffer").
func (e *Engine) AttachRingBuffer(streamID string, ring *ringbuffer.Buffer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ringBuffers[streamID] = ring
}

// DetachRingBuffer removes streamID's ring buffer registration, called on
// unload.
func (e *Engine) DetachRingBuffer(streamID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.ringBuffers, streamID)
}

// Load attaches a stream's model (spec.md §4.2 "load"). The first stream
// opens the DSP graph with its model bytes; every later stream is attached
// to the open graph and its MIID is mapped, but its model bytes are not
// pushed to the DSP session.
func (e *Engine) Load(ctx context.Context, streamID string, modelBytes []byte, miid uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.loadedStreams) == 0 {
		if err := e.session.Open(ctx, e.moduleType, modelBytes); err != nil {
			return errs.ErrDeviceFailure
		}
		e.state = SubStateLoaded
	}
	e.loadedStreams[streamID] = true
	e.miidToStream[miid] = streamID
	return nil
}

// Unload detaches a stream; the session is torn down once the last
// stream leaves (spec.md §4.2 "unload").
func (e *Engine) Unload(ctx context.Context, streamID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.loadedStreams, streamID)
	delete(e.startedStreams, streamID)
	for miid, sid := range e.miidToStream {
		if sid == streamID {
			delete(e.miidToStream, miid)
		}
	}
	delete(e.bufConfigs, streamID)
	e.removeFromDetQueueLocked(streamID)
	// Deliberately not removing streamID's ring buffer here: Load/Unload is
	// a reversible cycle on the same Stream, which keeps the same ring
	// buffer for its whole lifetime; only DetachRingBuffer (called when the
	// stream itself is torn down) should drop the registration.

	if len(e.loadedStreams) == 0 {
		e.state = SubStateIdle
		return e.session.Close(ctx)
	}
	return nil
}

// Start reference-counts the DSP start: issued only for the first stream
// to start (spec.md §4.2 "start/stop").
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	first := len(e.startedStreams) == 0
	e.runCtx = ctx
	if first {
		// A previous Stop closed stopCh and doneCh; the new event loop
		// needs its own pair.
		e.stopCh = make(chan struct{})
		e.doneCh = make(chan struct{})
	}
	e.mu.Unlock()

	if first {
		if err := e.session.Start(ctx); err != nil {
			return errs.ErrDeviceFailure
		}
		if err := e.session.RegisterCallback(ctx, e.eventsCh); err != nil {
			return errs.ErrDeviceFailure
		}
		go e.eventLoop()
	}
	return nil
}

// AttachStarted marks streamID as started for refcounting purposes; call
// after Start succeeds so Stop knows when the last stream has left.
func (e *Engine) AttachStarted(streamID string) {
	e.mu.Lock()
	e.startedStreams[streamID] = true
	e.state = SubStateActive
	e.mu.Unlock()
}

// Stop reference-counts the DSP stop: issued only once the last started
// stream leaves.
func (e *Engine) Stop(ctx context.Context, streamID string) error {
	e.mu.Lock()
	delete(e.startedStreams, streamID)
	last := len(e.startedStreams) == 0
	if last {
		e.state = SubStateLoaded
	}
	e.mu.Unlock()

	if !last {
		return nil
	}
	close(e.stopCh)
	<-e.doneCh
	return e.session.Stop(ctx)
}

// UpdateBufConfig merges a stream's requested history/preroll into the
// engine-wide max and pushes it to the DSP session (spec.md §4.2
// "update_buf_config"), with the same max-per-field merge that
// vui.MergeHistoryBuffer applies to TLV-decoded history-buffer configs.
func (e *Engine) UpdateBufConfig(ctx context.Context, streamID string, cfg BufConfig) error {
	e.mu.Lock()
	e.bufConfigs[streamID] = cfg
	merged := BufConfig{}
	for _, c := range e.bufConfigs {
		if c.HistoryMs > merged.HistoryMs {
			merged.HistoryMs = c.HistoryMs
		}
		if c.PrerollMs > merged.PrerollMs {
			merged.PrerollMs = c.PrerollMs
		}
	}
	e.mu.Unlock()

	payload := make([]byte, 8)
	putU32(payload[0:4], uint32(merged.HistoryMs))
	putU32(payload[4:8], uint32(merged.PrerollMs))
	return e.session.SetParam(ctx, dsp.ParamBufferConfig, 0, payload)
}

// SetECRef implements the refcounted echo-cancellation binding of
// spec.md §5: the original uses a recursive mutex because setECRef may
// re-enter via device connect/disconnect; here that is expressed as an
// explicit alreadyLocked parameter instead, since Go mutexes are not
// reentrant.
func (e *Engine) SetECRef(ctx context.Context, rxDevice string, enable bool, alreadyLocked bool) error {
	if !alreadyLocked {
		e.mu.Lock()
		defer e.mu.Unlock()
	}

	if enable {
		first := e.ecRefCount == 0
		e.ecRefCount++
		if !first {
			return nil
		}
	} else {
		if e.ecRefCount == 0 {
			return nil
		}
		e.ecRefCount--
		if e.ecRefCount > 0 {
			return nil
		}
	}

	payload := []byte(rxDevice)
	var flag byte
	if enable {
		flag = 1
	}
	payload = append(payload, flag)
	return e.session.SetParam(ctx, dsp.ParamECRef, 0, payload)
}

// ReconfigureDetectionGraph tears down and reopens the DSP graph under
// the new shared capture profile without dropping any stream's loaded
// state (spec.md §4.2).
func (e *Engine) ReconfigureDetectionGraph(ctx context.Context, profilePayload []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.loadedStreams) == 0 {
		return nil
	}
	if err := e.session.Close(ctx); err != nil {
		return errs.ErrDeviceFailure
	}
	if err := e.session.Open(ctx, e.moduleType, profilePayload); err != nil {
		return errs.ErrDeviceFailure
	}
	return nil
}

// GetParameters is a synchronized pass-through to the DSP session.
func (e *Engine) GetParameters(ctx context.Context, tag dsp.ParamTag, miid uint32) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.GetParam(ctx, tag, miid)
}

// State returns the engine's current sub-state.
func (e *Engine) State() SubState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// StartedStreamCount reports how many streams currently hold this
// engine started, used by invariant checks (spec.md §8).
func (e *Engine) StartedStreamCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.startedStreams)
}

func (e *Engine) removeFromDetQueueLocked(streamID string) {
	out := e.detStreamsQ[:0]
	for _, p := range e.detStreamsQ {
		if p.streamID != streamID {
			out = append(out, p)
		}
	}
	e.detStreamsQ = out
}

// eventLoop is the internal event thread of spec.md §4.2: drains the DSP
// callback queue, maps MIID to stream, serializes concurrent detections
// across this engine (and, via the arbiter, across engines sharing
// hardware), and invokes the owning stream's detection handler.
func (e *Engine) eventLoop() {
	defer close(e.doneCh)
	for {
		select {
		case <-e.stopCh:
			return
		case ev := <-e.eventsCh:
			e.handleEvent(ev)
		}
	}
}

func (e *Engine) handleEvent(ev dsp.Event) {
	e.mu.Lock()
	streamID, ok := e.miidToStream[ev.MIID]
	if !ok {
		e.mu.Unlock()
		e.log.WithField("miid", ev.MIID).Warn("detection event for unknown stream, dropped")
		return
	}

	// Serialize: only one stream may be in detected/buffering on this
	// engine at a time. Later detections queue behind det_streams_q.
	if e.state == SubStateDetected || e.state == SubStateBuffering {
		e.detStreamsQ = append(e.detStreamsQ, pendingDetection{streamID: streamID, ev: ev})
		e.mu.Unlock()
		return
	}

	if !e.arbiter.TryAcquire(e.moduleType, streamID) {
		// Another engine sharing hardware already owns a detection;
		// queue this one rather than double-waking the client.
		e.detStreamsQ = append(e.detStreamsQ, pendingDetection{streamID: streamID, ev: ev})
		e.mu.Unlock()
		return
	}

	e.state = SubStateBuffering
	e.detStreamID = streamID
	e.mu.Unlock()

	go e.pumpPCM(streamID)

	if e.onDetect != nil {
		e.onDetect(streamID, ev)
	}
}

// pumpPCM is the buffering-mode PCM pump of spec.md §4.2/§4.4: while
// streamID owns this engine's detection, it reads PCM out of the DSP
// session and writes it into that stream's ring buffer, so the stage-2
// readers and the client LAB reader have something to read from. It stops
// as soon as the engine leaves buffering for streamID, whether by success,
// reject, or client stop.
func (e *Engine) pumpPCM(streamID string) {
	e.mu.Lock()
	ring := e.ringBuffers[streamID]
	ctx := e.runCtx
	e.mu.Unlock()
	if ring == nil {
		return
	}

	chunk := make([]byte, pcmPumpChunkBytes)
	for {
		e.mu.Lock()
		stillOwner := e.state == SubStateBuffering && e.detStreamID == streamID
		e.mu.Unlock()
		if !stillOwner {
			return
		}

		n, err := e.session.Read(ctx, chunk)
		if err != nil {
			e.log.WithError(err).Warn("PCM pump read failed")
			return
		}
		if n > 0 {
			ring.Write(chunk[:n])
			continue
		}
		// Real DSP sessions block in Read until data is available; a
		// reference Session that always returns immediately would spin
		// this goroutine otherwise.
		time.Sleep(5 * time.Millisecond)
	}
}

// ReleaseDetection is called once a stream's detection lifecycle
// concludes (success, reject, or client stop), clearing this engine back
// to active and promoting the next queued stream, if any.
func (e *Engine) ReleaseDetection(streamID string) {
	e.arbiter.Release(e.moduleType, streamID)

	e.mu.Lock()
	e.state = SubStateActive
	e.detStreamID = ""
	var next *pendingDetection
	if len(e.detStreamsQ) > 0 {
		nd := e.detStreamsQ[0]
		next = &nd
		e.detStreamsQ = e.detStreamsQ[1:]
	}
	e.mu.Unlock()

	if next != nil {
		e.handleEvent(next.ev)
	}
}

// LoadedStreamIDs returns a sorted snapshot of attached stream ids, for
// deterministic test assertions and invariant checks.
func (e *Engine) LoadedStreamIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.loadedStreams))
	for id := range e.loadedStreams {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
