package stream

import (
	"context"
	"sync"
	"time"

	"github.com/fankserver/voicetrigger/internal/deferredstop"
	"github.com/fankserver/voicetrigger/internal/dsp"
	"github.com/fankserver/voicetrigger/internal/engine1"
	"github.com/fankserver/voicetrigger/internal/engine2"
	"github.com/fankserver/voicetrigger/internal/errs"
	"github.com/fankserver/voicetrigger/internal/events"
	"github.com/fankserver/voicetrigger/internal/resource"
	"github.com/fankserver/voicetrigger/internal/ringbuffer"
	"github.com/fankserver/voicetrigger/internal/vui"
	"github.com/fankserver/voicetrigger/pkg/stplugin"
	"github.com/sirupsen/logrus"
)

// Stage2Key names a stage-2 engine slot on a stream; the reference
// platform always wires at most a keyword-detection and a
// user-verification engine per stream (spec.md §3).
type Stage2Key string

const (
	Stage2KeywordDetection Stage2Key = "kwd"
	Stage2UserVerification Stage2Key = "uv"
)

// Config is the fixed, platform-level policy a Stream is built with.
type Config struct {
	ModuleType               string
	NotifySecondStageFailure bool // spec.md §7 "platform opts to notify stage-2 rejections"
	SampleRate, BitWidth, Channels int
	RingBufferCapacity       int
	Plugin                   stplugin.Plugin
}

// Stream is the per-client recognition session of spec.md §3/§4.1.
type Stream struct {
	id  string
	cfg Config

	log *logrus.Entry

	engine1     *engine1.Engine
	resourceMgr resource.Manager
	vuiIface    vui.Interface
	bus         *events.Bus
	token       resource.Token

	ring         *ringbuffer.Buffer
	clientReader *ringbuffer.Reader
	stopTimer    *deferredstop.Timer

	mu               sync.Mutex
	state            State
	stateForRestore  State
	paused           bool
	pendingStop      bool
	captureRequested bool
	wakeLockHeld     bool
	ecDevice         string
	stage2           map[Stage2Key]*engine2.Engine
	stage2Verdicts   map[Stage2Key]engine2.Verdict
	recognitionCfg   vui.RecognitionConfig
	modelBytes       []byte
	miid             uint32
}

// New constructs an idle Stream bound to the shared stage-1 engine for
// cfg.ModuleType.
func New(id string, cfg Config, eng1 *engine1.Engine, resourceMgr resource.Manager, vuiIface vui.Interface, bus *events.Bus) *Stream {
	if cfg.RingBufferCapacity == 0 {
		cfg.RingBufferCapacity = 64 * 1024
	}
	s := &Stream{
		id:             id,
		cfg:            cfg,
		log:            logrus.WithFields(logrus.Fields{"stream_id": id, "module_type": cfg.ModuleType}),
		engine1:        eng1,
		resourceMgr:    resourceMgr,
		vuiIface:       vuiIface,
		bus:            bus,
		token:          resource.Token{StreamID: id},
		stage2:         make(map[Stage2Key]*engine2.Engine),
		stage2Verdicts: make(map[Stage2Key]engine2.Verdict),
		state:          StateIdle,
		ring:           ringbuffer.NewBuffer(cfg.RingBufferCapacity),
	}
	s.stopTimer = deferredstop.New(s.onDeferredStopFired)
	s.clientReader = s.ring.AddReader("client-lab")
	eng1.AttachRingBuffer(id, s.ring)
	return s
}

func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Stream) byteRate() int {
	rate := s.cfg.SampleRate * (s.cfg.BitWidth / 8) * s.cfg.Channels
	if rate == 0 {
		rate = 16000 * 2 * 1 // 16kHz mono 16-bit default
	}
	return rate
}

func (s *Stream) newStage2Engine(key Stage2Key, algo stplugin.Algorithm) *engine2.Engine {
	reader := s.ring.AddReader(string(key))
	byteRate := s.byteRate()
	cfg := engine2.Config{
		Algorithm:           algo,
		KWStartTolBytes:     uint64(byteRate) * 200 / 1000,
		KWEndTolBytes:       uint64(byteRate) * 200 / 1000,
		DataAfterKWEndBytes: uint64(byteRate) * 100 / 1000,
		DataBeforeKWStart:   uint64(byteRate) * 500 / 1000,
		BufferSize:          320,
		Threshold:           50,
	}
	return engine2.New(s.id+":"+string(key), s.cfg.Plugin, reader, cfg, func(v engine2.Verdict, r stplugin.Result) {
		s.onStage2Verdict(key, v, r)
	})
}

// LoadSoundModel parses blob via the voice-UI interface, registers with
// the shared stage-1 engine, and instantiates stage-2 engines for every
// stage the model carries (spec.md §4.1 idle -> loaded).
func (s *Stream) LoadSoundModel(ctx context.Context, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return errs.ErrInvalidArgument
	}

	model, err := s.vuiIface.RegisterModel(s.id, blob)
	if err != nil {
		return errs.ErrInvalidArgument
	}

	tok, err := s.resourceMgr.RegisterStream(ctx, s.id)
	if err != nil {
		return errs.ErrDeviceFailure
	}
	s.token = tok

	s.miid = uint32(len(blob))<<8 | uint32(len(s.id))
	if err := s.engine1.Load(ctx, s.id, blob, s.miid); err != nil {
		s.resourceMgr.DeregisterStream(ctx, s.token)
		return errs.ErrDeviceFailure
	}

	for _, bm := range model.Models {
		switch bm.StageOf() {
		case vui.StageSecondPDK, vui.StageSecondRNN:
			if _, ok := s.stage2[Stage2KeywordDetection]; !ok {
				s.stage2[Stage2KeywordDetection] = s.newStage2Engine(Stage2KeywordDetection, stplugin.AlgorithmKeywordDetection)
			}
		case vui.StageSecondUser, vui.StageSecondUDK:
			if _, ok := s.stage2[Stage2UserVerification]; !ok {
				s.stage2[Stage2UserVerification] = s.newStage2Engine(Stage2UserVerification, stplugin.AlgorithmUserVerification)
			}
		}
	}
	for key, eng := range s.stage2 {
		if err := eng.LoadSoundModel(ctx, blob); err != nil {
			s.log.WithError(err).WithField("stage2", key).Warn("stage-2 load failed")
		}
	}

	s.modelBytes = blob
	s.state = StateLoaded
	return nil
}

// UnloadSoundModel tears everything down and returns the stream to idle
// (spec.md §8 "Load -> unload with no recognition_config is idempotent
// and leaks no resources").
func (s *Stream) UnloadSoundModel(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle {
		return nil
	}

	for key, eng := range s.stage2 {
		if err := eng.End(); err != nil {
			s.log.WithError(err).WithField("stage2", key).Warn("stage-2 teardown failed")
		}
	}
	s.stage2 = make(map[Stage2Key]*engine2.Engine)

	if err := s.engine1.Unload(ctx, s.id); err != nil {
		s.log.WithError(err).Warn("stage-1 unload failed")
	}
	s.resourceMgr.DeregisterStream(ctx, s.token)
	s.vuiIface.DeregisterModel(s.id)

	s.state = StateIdle
	s.modelBytes = nil
	return nil
}

// RecognitionConfig parses the opaque vendor payload and merges its
// history/preroll requirements into stage 1 (spec.md §4.1 "loaded
// -recognition_config-> loaded"), cancelling any pending deferred stop.
// It does not size the ring buffer or create readers: the ring is
// allocated by New with Config.RingBufferCapacity and readers are added
// at load.
func (s *Stream) RecognitionConfig(ctx context.Context, captureRequested bool, opaque []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle {
		return errs.ErrInvalidArgument
	}
	s.stopTimer.Cancel()

	cfg, err := s.vuiIface.ParseRecognitionConfig(s.id, vui.RecognitionConfig{CaptureRequested: captureRequested}, opaque)
	if err != nil {
		return errs.ErrInvalidArgument
	}
	s.recognitionCfg = cfg
	s.captureRequested = captureRequested

	return s.engine1.UpdateBufConfig(ctx, s.id, engine1.BufConfig{
		HistoryMs: int(cfg.HistoryBuffer.HistoryMs),
		PrerollMs: int(cfg.HistoryBuffer.PrerollMs),
	})
}

// Start cancels any pending deferred stop, marks the stream's capture
// profile active with the resource manager, and starts the stage-1 and
// stage-2 engines, rolling already-started engines back in reverse order
// on failure (spec.md §4.1 "loaded -start-> active", §7). No capture
// device is opened or registered here. A stream in detected restarts its
// engines instead.
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopTimer.Cancel()
	if s.state == StateDetected {
		if err := s.restartEnginesLocked(ctx); err != nil {
			return err
		}
		s.state = StateActive
		return nil
	}
	if s.state != StateLoaded {
		return errs.ErrInvalidArgument
	}

	if _, _, err := s.resourceMgr.UpdateCaptureProfile(ctx, s.token, true); err != nil {
		return errs.ErrDeviceFailure
	}

	if err := s.engine1.Start(ctx); err != nil {
		s.resourceMgr.UpdateCaptureProfile(ctx, s.token, false)
		return errs.ErrDeviceFailure
	}
	s.engine1.AttachStarted(s.id)

	var started []*engine2.Engine
	for _, eng := range s.stage2 {
		if err := eng.StartRecognition(); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				started[i].Restart()
			}
			s.engine1.Stop(ctx, s.id)
			return errs.ErrDeviceFailure
		}
		started = append(started, eng)
	}

	s.ring.Reset()
	s.state = StateActive
	return nil
}

// Stop is reference-counted on shared resources and tears the stream
// back down to loaded.
func (s *Stream) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(ctx)
}

func (s *Stream) stopLocked(ctx context.Context) error {
	if s.state == StateLoaded || s.state == StateIdle {
		return nil
	}
	for _, eng := range s.stage2 {
		eng.StopRecognition()
	}
	if err := s.engine1.Stop(ctx, s.id); err != nil {
		s.log.WithError(err).Warn("stage-1 stop failed")
	}
	s.engine1.ReleaseDetection(s.id)
	s.resourceMgr.UpdateCaptureProfile(ctx, s.token, false)
	s.releaseWakeLockLocked(ctx)
	s.state = StateLoaded
	return nil
}

func (s *Stream) restartEnginesLocked(ctx context.Context) error {
	if err := s.engine1.Start(ctx); err != nil {
		return errs.ErrRestartIgnored
	}
	s.engine1.AttachStarted(s.id)
	for _, eng := range s.stage2 {
		eng.StartRecognition()
	}
	return nil
}

// ReadBuffer reads up to len(buf) bytes from the client LAB reader,
// sleeping to roughly real-time pace when the reader is empty (spec.md
// §8 boundary behavior).
func (s *Stream) ReadBuffer(ctx context.Context, buf []byte) (int, error) {
	n, err := s.clientReader.Read(buf)
	if err != nil {
		return 0, errs.ErrRingBufferUnderrun
	}
	if n == 0 {
		rate := s.byteRate()
		if rate > 0 {
			ms := time.Duration(len(buf)) * time.Second / time.Duration(rate)
			time.Sleep(ms)
		}
	}
	return n, nil
}

// StopBuffering keeps engines warm but drains no further LAB (spec.md
// §4.1 "buffering -stop_buffering-> buffering").
func (s *Stream) StopBuffering(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateBuffering {
		return
	}
	s.clientReader.UpdateState(ringbuffer.ReaderDisabled)
	s.resourceMgr.VoteSleepMonitor(ctx, s.token, false, false)
	s.stopTimer.Arm(deferredstop.LabDelay)
}

// Pause stops engines and the device and notifies ABORT when external
// (spec.md §4.1 "any loaded+ -pause/internal_pause-> loaded").
func (s *Stream) Pause(ctx context.Context, external bool) error {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return nil
	}
	s.paused = true
	err := s.stopLocked(ctx)
	s.state = StateLoaded
	s.mu.Unlock()

	if external {
		s.emit(events.KindAbort, nil)
	}
	return err
}

// Resume reopens the device and restarts engines; no client callback is
// issued (spec.md §4.1).
func (s *Stream) Resume(ctx context.Context) error {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	return s.Start(ctx)
}

// ConcurrentStreamChanged pauses the stream (stop to loaded, with an ABORT
// callback) when an incompatible concurrent capture becomes active, and
// resumes it when the conflict clears (spec.md §4.1). It does not
// recompute the shared capture profile or reconfigure the detection
// graph, and never drops the stream to idle.
func (s *Stream) ConcurrentStreamChanged(ctx context.Context, active bool) error {
	if active {
		return s.Pause(ctx, true)
	}
	return s.Resume(ctx)
}

// DeviceDisconnected/DeviceConnected implement the route-change scenario
// of spec.md §8 scenario 5. DeviceDisconnected stops the stage-2 engines
// and resets every reader; a stream mid-buffering returns to active and
// releases its stage-1 detection. DeviceConnected starts the stage-1
// engine (a no-op while this stream still holds it started) and restarts
// the stage-2 engines. Neither touches the resource manager's device
// registration or the DSP session, and the device name is not used.
func (s *Stream) DeviceDisconnected(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wasBuffering := s.state == StateBuffering
	for _, eng := range s.stage2 {
		eng.Restart()
	}
	s.ring.Reset()
	if wasBuffering {
		s.state = StateActive
		s.engine1.ReleaseDetection(s.id)
	}
}

func (s *Stream) DeviceConnected(ctx context.Context, device string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle || s.state == StateLoaded {
		return nil
	}
	if err := s.engine1.Start(ctx); err != nil {
		return errs.ErrDeviceFailure
	}
	for _, eng := range s.stage2 {
		eng.StartRecognition()
	}
	return nil
}

// SetECRef binds or releases the echo-reference RX device through the
// shared stage-1 engine's refcounted path (spec.md §5).
func (s *Stream) SetECRef(ctx context.Context, rxDevice string, enable bool) error {
	if enable {
		s.ecDevice = rxDevice
	} else {
		s.ecDevice = ""
	}
	return s.engine1.SetECRef(ctx, rxDevice, enable, false)
}

// SSROffline records the restore state and unloads (spec.md §4.1/§8
// scenario 6).
func (s *Stream) SSROffline(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateForRestore = collapseForRestore(s.state)
	s.stopLocked(ctx)
	s.engine1.Unload(ctx, s.id)
	s.state = StateSSR
}

// collapseForRestore maps any runtime state onto the {idle, loaded, active}
// domain spec.md §8's round-trip law requires of state_for_restore: SSR
// always tears down an in-flight detection before going offline, so
// buffering/detected collapse to active and SSR itself collapses to idle.
func collapseForRestore(s State) State {
	switch s {
	case StateBuffering, StateDetected, StateActive:
		return StateActive
	case StateLoaded:
		return StateLoaded
	default:
		return StateIdle
	}
}

// SSROnline replays load, recognition-config, and start as applicable,
// restoring the pre-SSR state.
func (s *Stream) SSROnline(ctx context.Context) error {
	s.mu.Lock()
	target := s.stateForRestore
	blob := s.modelBytes
	s.state = StateIdle
	s.mu.Unlock()

	if target == StateIdle || blob == nil {
		return nil
	}
	if err := s.LoadSoundModel(ctx, blob); err != nil {
		return err
	}
	s.mu.Lock()
	hb := s.recognitionCfg.HistoryBuffer
	s.mu.Unlock()
	if err := s.engine1.UpdateBufConfig(ctx, s.id, engine1.BufConfig{
		HistoryMs: int(hb.HistoryMs),
		PrerollMs: int(hb.PrerollMs),
	}); err != nil {
		return err
	}
	if target == StateActive {
		return s.Start(ctx)
	}
	return nil
}

func (s *Stream) acquireWakeLockLocked(ctx context.Context) {
	if s.wakeLockHeld {
		return
	}
	if err := s.resourceMgr.AcquireWakeLock(ctx, s.token); err == nil {
		s.wakeLockHeld = true
	}
}

func (s *Stream) releaseWakeLockLocked(ctx context.Context) {
	if !s.wakeLockHeld {
		return
	}
	s.resourceMgr.ReleaseWakeLock(ctx, s.token)
	s.wakeLockHeld = false
}

// Detected handles a first-stage GMM trigger forwarded by the stage-1
// engine's event dispatch (spec.md §4.1 "active -detected(gmm)->
// detected|buffering"). Before any stage-2 engine or the client LAB reader
// can be woken, the engine's (start, end, ftrt) indices are published on
// every reader in this stream's engine chain (spec.md §4.2/§4.4 "Index
// publication").
func (s *Stream) Detected(ctx context.Context, ev dsp.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Absorbed silently outside active: forces resync but never reaches
	// the client (spec.md §8 boundary behaviors).
	if s.state != StateActive {
		s.engine1.ReleaseDetection(s.id)
		return
	}

	s.acquireWakeLockLocked(ctx)

	idx := ringbuffer.Indices{
		Start: uint64(ev.StartIdx),
		End:   uint64(ev.EndIdx),
		FTRT:  s.roundFTRTBytes(ev.FTRT),
	}
	names := make([]string, 0, len(s.stage2)+1)
	for key := range s.stage2 {
		names = append(names, string(key))
	}
	names = append(names, "client-lab")
	s.ring.PublishIndices(names, idx)

	if len(s.stage2) == 0 && !s.captureRequested {
		s.state = StateDetected
		s.emit(events.KindSuccess, nil)
		s.stopTimer.Arm(deferredstop.DefaultDelay)
		s.engine1.ReleaseDetection(s.id)
		return
	}

	s.clientReader.UpdateState(ringbuffer.ReaderEnabled)
	for _, eng := range s.stage2 {
		eng.SetDetected(true)
	}
	s.resourceMgr.VoteSleepMonitor(ctx, s.token, true, true)
	s.state = StateBuffering
	s.stopTimer.Arm(deferredstop.LabDelay)
}

// roundFTRTBytes rounds the DSP-reported faster-than-real-time byte count
// down to a multiple of 10ms at the stream's active byte rate, per spec.md
// §8 "ftrt rounded down to a multiple of 10ms before use".
func (s *Stream) roundFTRTBytes(raw uint32) uint64 {
	step := uint64(s.byteRate()) * 10 / 1000
	if step == 0 {
		return uint64(raw)
	}
	return uint64(raw) / step * step
}

func (s *Stream) onStage2Verdict(key Stage2Key, v engine2.Verdict, r stplugin.Result) {
	ctx := context.Background()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateBuffering {
		return
	}
	s.stage2Verdicts[key] = v

	if v == engine2.VerdictReject {
		for k, eng := range s.stage2 {
			if k == key {
				eng.Restart()
				continue
			}
			// Stop the complementary stage-2 (spec.md §4.1 transition table).
			eng.StopRecognition()
		}
		if s.cfg.NotifySecondStageFailure {
			s.emit(events.KindFailure, r)
			s.releaseWakeLockLocked(ctx)
			s.state = StateLoaded
			s.engine1.ReleaseDetection(s.id)
			return
		}
		s.state = StateActive
		s.engine1.ReleaseDetection(s.id)
		return
	}

	if s.allRequiredSucceededLocked() {
		s.emit(events.KindSuccess, r)
		if !s.captureRequested {
			s.ring.Reset()
			s.state = StateDetected
		}
		delay := deferredstop.DefaultDelay
		if s.captureRequested {
			delay = deferredstop.LabDelay
		}
		s.stopTimer.Arm(delay)
		s.engine1.ReleaseDetection(s.id)
	}
}

func (s *Stream) allRequiredSucceededLocked() bool {
	for key := range s.stage2 {
		if s.stage2Verdicts[key] != engine2.VerdictSuccess {
			return false
		}
	}
	return true
}

func (s *Stream) onDeferredStopFired() {
	ctx := context.Background()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
}

func (s *Stream) emit(kind events.Kind, payload interface{}) {
	s.bus.Publish(events.Event{StreamID: s.id, Kind: kind, Payload: payload, Done: make(chan struct{})})
}
