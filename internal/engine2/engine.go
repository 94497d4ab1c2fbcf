// Package engine2 implements the stage-2 verification engine of
// spec.md §4.3: one per (stream, algorithm) pair, running a single
// cooperative worker that pulls ring-buffered PCM and drives a
// stplugin.Plugin to a confirm/reject verdict.
package engine2

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/fankserver/voicetrigger/internal/errs"
	"github.com/fankserver/voicetrigger/internal/ringbuffer"
	"github.com/fankserver/voicetrigger/pkg/stplugin"
	"github.com/sirupsen/logrus"
)

// Verdict is the final state a stage-2 worker iteration reaches
// (spec.md §3 "current verdict (idle|pending|success|reject)").
type Verdict int

const (
	VerdictIdle Verdict = iota
	VerdictPending
	VerdictSuccess
	VerdictReject
)

// Config carries the fixed per-engine knobs spec.md §4.3 step 2/3 names.
type Config struct {
	Algorithm stplugin.Algorithm

	// Byte-domain tolerances, pre-converted from their millisecond specs
	// by the caller (which knows the active capture profile's byte rate).
	KWStartTolBytes     uint64
	KWEndTolBytes       uint64
	DataAfterKWEndBytes uint64
	DataBeforeKWStart   uint64

	BufferSize     int   // frame chunk size passed to plugin.Process
	MaxProcessingSz uint64 // reject once this many bytes are processed without a detection; 0 means the read window plus one BufferSize

	Threshold int32
}

// Engine is one stage-2 verification session.
type Engine struct {
	id     string
	plugin stplugin.Plugin
	cfg    Config
	reader *ringbuffer.Reader

	log *logrus.Entry

	mu                sync.Mutex
	handle            stplugin.Handle
	verdict           Verdict
	processingStarted bool
	exitBuffering     atomic.Bool

	processStartedCh chan struct{}
	workerDone       chan struct{}

	// onVerdict is called from the worker goroutine once per detection
	// iteration, never while the engine's own mutex is held.
	onVerdict func(Verdict, stplugin.Result)
}

// New constructs a stage-2 engine bound to reader, not yet loaded.
func New(id string, plugin stplugin.Plugin, reader *ringbuffer.Reader, cfg Config, onVerdict func(Verdict, stplugin.Result)) *Engine {
	return &Engine{
		id:               id,
		plugin:           plugin,
		cfg:              cfg,
		reader:           reader,
		log:              logrus.WithFields(logrus.Fields{"stage2_id": id}),
		processStartedCh: make(chan struct{}, 1),
		workerDone:       make(chan struct{}),
		onVerdict:        onVerdict,
	}
}

// LoadSoundModel initializes the plugin with the raw model bytes and
// starts the worker goroutine (spec.md §4.3 "load_sound_model").
func (e *Engine) LoadSoundModel(ctx context.Context, modelBytes []byte) error {
	h, err := e.plugin.Init(stplugin.InitProperties{ModelBytes: modelBytes, Algorithm: e.cfg.Algorithm})
	if err != nil {
		return errs.ErrPluginFailure
	}
	e.mu.Lock()
	e.handle = h
	e.verdict = VerdictIdle
	e.mu.Unlock()

	if e.cfg.Algorithm == stplugin.AlgorithmUserVerification {
		if _, err := e.plugin.GetParam(h, stplugin.ParamInModelBufferSize); err != nil {
			e.log.WithError(err).Warn("failed to query scratch buffer size, continuing with default")
		}
	}

	go e.workerLoop(ctx)
	return nil
}

// StartRecognition applies the confidence threshold and reinitializes the
// plugin ready for the next utterance (spec.md §4.3 "start_recognition").
func (e *Engine) StartRecognition() error {
	e.mu.Lock()
	h := e.handle
	e.verdict = VerdictPending
	e.mu.Unlock()

	var thresh [4]byte
	thresh[0] = byte(e.cfg.Threshold)
	thresh[1] = byte(e.cfg.Threshold >> 8)
	thresh[2] = byte(e.cfg.Threshold >> 16)
	thresh[3] = byte(e.cfg.Threshold >> 24)
	if err := e.plugin.SetParam(h, stplugin.ParamThresholdConfig, thresh[:]); err != nil {
		return errs.ErrPluginFailure
	}
	return e.plugin.SetParam(h, stplugin.ParamReinitAll, nil)
}

// SetDetected is called by the owning stream once stage 1 has triggered:
// it enables the reader and wakes the worker (spec.md §4.3
// "set_detected(true)").
//
// Per spec.md §9's documented open question ("stops win on tie"): if
// StopRecognition raced this call and already cleared processingStarted,
// the worker wakes, observes processingStarted still false at the top of
// its loop, and returns without doing any work — the stop wins.
func (e *Engine) SetDetected(detected bool) {
	e.mu.Lock()
	e.processingStarted = detected
	e.mu.Unlock()

	e.reader.UpdateState(ringbuffer.ReaderEnabled)
	if detected {
		select {
		case e.processStartedCh <- struct{}{}:
		default:
		}
	}
}

// Restart clears processing state, arms exit_buffering, and disables the
// reader (spec.md §4.3 "restart/stop_recognition").
func (e *Engine) Restart() {
	e.mu.Lock()
	e.processingStarted = false
	e.mu.Unlock()
	e.exitBuffering.Store(true)
	e.reader.UpdateState(ringbuffer.ReaderDisabled)
}

// StopRecognition is an alias for Restart at the public API level; the
// two are the same operation in spec.md §4.3.
func (e *Engine) StopRecognition() { e.Restart() }

// ReaderEnabled reports whether this engine's ring-buffer reader is
// currently enabled, for callers (and tests) that need to observe the
// effect of SetDetected/Restart without reaching into the reader itself.
func (e *Engine) ReaderEnabled() bool { return e.reader.Enabled() }

// End tears the plugin session down (spec.md §3 "destroyed at unload").
func (e *Engine) End() error {
	e.Restart()
	<-e.workerDone
	e.mu.Lock()
	h := e.handle
	e.mu.Unlock()
	if h == nil {
		return nil
	}
	return e.plugin.End(h)
}

func (e *Engine) isProcessingStarted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.processingStarted
}

func (e *Engine) setVerdict(v Verdict) {
	e.mu.Lock()
	e.verdict = v
	e.mu.Unlock()
}

// Verdict returns the engine's current verdict.
func (e *Engine) Verdict() Verdict {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.verdict
}

func (e *Engine) workerLoop(ctx context.Context) {
	defer close(e.workerDone)
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.processStartedCh:
		}

		// Per the documented open question, a stop racing the wake wins:
		// if processingStarted was cleared before we got here, drop this
		// iteration without touching the plugin or the reader.
		if !e.isProcessingStarted() {
			continue
		}
		e.exitBuffering.Store(false)

		verdict, result, err := e.runIteration(ctx)
		if err != nil {
			if err == errs.ErrRingBufferUnderrun {
				e.log.Debug("stage-2 iteration aborted: buffer gone")
				continue
			}
			e.log.WithError(err).Warn("stage-2 iteration failed")
			continue
		}

		e.setVerdict(verdict)

		// Step 4: reinit regardless of verdict, readying for the next
		// utterance (spec.md §4.3 step 4).
		e.mu.Lock()
		h := e.handle
		e.mu.Unlock()
		if err := e.plugin.SetParam(h, stplugin.ParamReinitAll, nil); err != nil {
			e.log.WithError(err).Warn("reinit after verdict failed")
		}

		// Step 5: only report if the stream has not stopped meanwhile.
		if e.isProcessingStarted() && e.onVerdict != nil {
			e.onVerdict(verdict, result)
		}
	}
}

// runIteration implements spec.md §4.3 worker loop steps 1-3: compute the
// read window from the published indices, seek to the pre-start offset,
// and feed frames to the plugin until it reports a result or the window
// is exhausted.
func (e *Engine) runIteration(ctx context.Context) (Verdict, stplugin.Result, error) {
	idx := e.reader.Indices()

	// idx.FTRT arrives already rounded down to a multiple of 10ms (the
	// stream rounds it at the active byte rate before publishing). This
	// iteration does not read it: the window below is computed from the
	// published start/end indices and the configured tolerances only.
	var preStart uint64
	var windowEnd uint64
	switch e.cfg.Algorithm {
	case stplugin.AlgorithmKeywordDetection:
		// spec.md §8 "Keyword-indices adjustment".
		if idx.Start > e.cfg.KWStartTolBytes {
			preStart = idx.Start - e.cfg.KWStartTolBytes
		} else {
			preStart = 0
		}
		windowEnd = idx.End + e.cfg.KWEndTolBytes + e.cfg.DataAfterKWEndBytes
	case stplugin.AlgorithmUserVerification, stplugin.AlgorithmCustom:
		if idx.Start > e.cfg.DataBeforeKWStart {
			preStart = idx.Start - e.cfg.DataBeforeKWStart
		} else {
			preStart = 0
		}
		windowEnd = idx.End + e.cfg.KWEndTolBytes
	}

	e.reader.Seek(preStart)

	bufSize := e.cfg.BufferSize
	if bufSize <= 0 {
		bufSize = 320
	}
	chunk := make([]byte, bufSize)

	var processed uint64
	maxSz := e.cfg.MaxProcessingSz
	if maxSz == 0 {
		maxSz = windowEnd - preStart + uint64(bufSize)
	}

	e.mu.Lock()
	h := e.handle
	e.mu.Unlock()

	for {
		if e.exitBuffering.Load() {
			return VerdictReject, stplugin.Result{}, errs.ErrRingBufferUnderrun
		}
		if err := e.reader.WaitForBuffers(ctx, uint64(bufSize)); err != nil {
			return VerdictReject, stplugin.Result{}, errs.ErrRingBufferUnderrun
		}

		n, err := e.reader.Read(chunk)
		if err != nil {
			return VerdictReject, stplugin.Result{}, errs.ErrRingBufferUnderrun
		}
		if n == 0 {
			continue
		}
		processed += uint64(n)

		if err := e.plugin.Process(h, chunk[:n]); err != nil {
			return VerdictReject, stplugin.Result{}, errs.ErrPluginFailure
		}

		raw, err := e.plugin.GetParam(h, stplugin.ParamResult)
		if err != nil {
			return VerdictReject, stplugin.Result{}, errs.ErrPluginFailure
		}
		result := stplugin.DecodeResult(raw)
		if result.IsDetected {
			return VerdictSuccess, result, nil
		}
		if processed >= maxSz {
			return VerdictReject, result, nil
		}
	}
}
