package stream

import (
	"context"
	"testing"
	"time"

	"github.com/fankserver/voicetrigger/internal/dsp"
	"github.com/fankserver/voicetrigger/internal/engine1"
	"github.com/fankserver/voicetrigger/internal/engine2"
	"github.com/fankserver/voicetrigger/internal/events"
	"github.com/fankserver/voicetrigger/internal/vui"
	"github.com/fankserver/voicetrigger/pkg/stplugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	stream  *Stream
	dsp     *fakeDSPSession
	rm      *fakeResourceManager
	plugin  *stplugin.Reference
	bus     *events.Bus
	events  chan events.Event
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	dspSession := newFakeDSPSession()
	arbiter := engine1.NewDetectionArbiter()
	rm := newFakeResourceManager()
	vuiIface := vui.NewDefaultInterface()
	bus := events.NewBus(8)
	plugin := stplugin.NewReference()

	streams := make(map[string]*Stream)
	eng1 := engine1.New(cfg.ModuleType, dspSession, arbiter, func(streamID string, ev dsp.Event) {
		if st, ok := streams[streamID]; ok {
			st.Detected(context.Background(), ev)
		}
	})

	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
		cfg.BitWidth = 16
		cfg.Channels = 1
	}
	cfg.Plugin = plugin

	st := New("st-1", cfg, eng1, rm, vuiIface, bus)
	streams["st-1"] = st

	evCh := make(chan events.Event, 8)
	bus.Subscribe("st-1", func(ev events.Event) { evCh <- ev })

	return &harness{stream: st, dsp: dspSession, rm: rm, plugin: plugin, bus: bus, events: evCh}
}

func (h *harness) waitEvent(t *testing.T) events.Event {
	t.Helper()
	select {
	case ev := <-h.events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for client callback")
		return events.Event{}
	}
}

// Scenario 1: happy path, single stage (spec.md §8 scenario 1).
func TestScenarioHappyPathSingleStage(t *testing.T) {
	h := newHarness(t, Config{ModuleType: "gmm"})
	ctx := context.Background()

	blob := buildSoundModelBlob(0x01) // GMM only, no stage-2
	require.NoError(t, h.stream.LoadSoundModel(ctx, blob))
	require.NoError(t, h.stream.Start(ctx))

	h.dsp.emit(dsp.Event{ID: dsp.EventGenericInfo, MIID: h.stream.miid, Confidence: []int32{80}})

	ev := h.waitEvent(t)
	assert.Equal(t, events.KindSuccess, ev.Kind)
	assert.Equal(t, StateDetected, h.stream.State())
}

// Scenario 2: two-stage success (spec.md §8 scenario 2).
func TestScenarioTwoStageSuccess(t *testing.T) {
	h := newHarness(t, Config{ModuleType: "gmm"})
	ctx := context.Background()

	blob := buildSoundModelBlob(0x01, 0x02, 0x04) // GMM + PDK (kwd) + user
	require.NoError(t, h.stream.LoadSoundModel(ctx, blob))
	require.NoError(t, h.stream.RecognitionConfig(ctx, true, nil))
	require.NoError(t, h.stream.Start(ctx))

	h.dsp.emit(dsp.Event{ID: dsp.EventGenericInfo, MIID: h.stream.miid})

	// Give the engine goroutine time to flip to buffering before we
	// deliver the stage-2 verdicts.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateBuffering, h.stream.State())
	assert.True(t, h.rm.heldWakeLock("st-1"))

	kwd := h.stream.stage2[Stage2KeywordDetection]
	uv := h.stream.stage2[Stage2UserVerification]
	require.NotNil(t, kwd)
	require.NotNil(t, uv)

	h.stream.onStage2Verdict(Stage2KeywordDetection, engine2.VerdictSuccess, stplugin.Result{IsDetected: true, Confidence: 72})
	h.stream.onStage2Verdict(Stage2UserVerification, engine2.VerdictSuccess, stplugin.Result{IsDetected: true, UserScore: 85})

	ev := h.waitEvent(t)
	assert.Equal(t, events.KindSuccess, ev.Kind)
	assert.Equal(t, StateBuffering, h.stream.State(), "capture requested keeps the stream buffering")
	assert.True(t, h.rm.heldWakeLock("st-1"))
}

// Scenario 3: two-stage reject, not notified (spec.md §8 scenario 3).
// Loads GMM+KWD+UV, same as scenario 2, so a KWD reject exercises the
// transition table's "stop the complementary stage-2" clause on UV.
func TestScenarioTwoStageRejectNotNotified(t *testing.T) {
	h := newHarness(t, Config{ModuleType: "gmm", NotifySecondStageFailure: false})
	ctx := context.Background()

	blob := buildSoundModelBlob(0x01, 0x02, 0x04)
	require.NoError(t, h.stream.LoadSoundModel(ctx, blob))
	require.NoError(t, h.stream.RecognitionConfig(ctx, true, nil))
	require.NoError(t, h.stream.Start(ctx))

	h.dsp.emit(dsp.Event{ID: dsp.EventGenericInfo, MIID: h.stream.miid})
	time.Sleep(20 * time.Millisecond)

	uv := h.stream.stage2[Stage2UserVerification]
	require.NotNil(t, uv)
	assert.True(t, uv.ReaderEnabled())

	h.stream.onStage2Verdict(Stage2KeywordDetection, engine2.VerdictReject, stplugin.Result{})

	select {
	case ev := <-h.events:
		t.Fatalf("unexpected client callback on silently-notified reject: %+v", ev)
	case <-time.After(30 * time.Millisecond):
	}
	assert.Equal(t, StateActive, h.stream.State())
	assert.False(t, uv.ReaderEnabled(), "complementary stage-2 should be stopped on reject")
}

// Scenario 4: concurrent pause (spec.md §8 scenario 4).
func TestScenarioConcurrentPause(t *testing.T) {
	h := newHarness(t, Config{ModuleType: "gmm"})
	ctx := context.Background()

	blob := buildSoundModelBlob(0x01)
	require.NoError(t, h.stream.LoadSoundModel(ctx, blob))
	require.NoError(t, h.stream.Start(ctx))
	require.Equal(t, StateActive, h.stream.State())

	require.NoError(t, h.stream.ConcurrentStreamChanged(ctx, true))
	ev := h.waitEvent(t)
	assert.Equal(t, events.KindAbort, ev.Kind)
	assert.Equal(t, StateLoaded, h.stream.State())

	require.NoError(t, h.stream.ConcurrentStreamChanged(ctx, false))
	assert.Equal(t, StateActive, h.stream.State())
}

// Scenario 5: device switch mid-buffering (spec.md §8 scenario 5). The
// disconnect must release the stage-1 engine's detection ownership so a
// later detection on the same (or another) stream is not blocked forever.
func TestScenarioDeviceSwitchMidBuffering(t *testing.T) {
	h := newHarness(t, Config{ModuleType: "gmm"})
	ctx := context.Background()

	blob := buildSoundModelBlob(0x01, 0x02)
	require.NoError(t, h.stream.LoadSoundModel(ctx, blob))
	require.NoError(t, h.stream.RecognitionConfig(ctx, true, nil))
	require.NoError(t, h.stream.Start(ctx))

	h.dsp.emit(dsp.Event{ID: dsp.EventGenericInfo, MIID: h.stream.miid})
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateBuffering, h.stream.State())

	h.stream.DeviceDisconnected(ctx)
	assert.Equal(t, StateActive, h.stream.State())

	require.NoError(t, h.stream.DeviceConnected(ctx, "new-device"))
	assert.Equal(t, StateActive, h.stream.State())

	// The stage-1 engine must have released this stream's detection slot;
	// a fresh trigger should reach buffering again instead of being queued
	// or silently dropped.
	h.dsp.emit(dsp.Event{ID: dsp.EventGenericInfo, MIID: h.stream.miid})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateBuffering, h.stream.State())
}

// Scenario 6: sub-system restart during detection (spec.md §8 scenario 6).
// stateForRestore must collapse onto {idle, loaded, active} even when SSR
// lands mid-buffering, per spec.md §8's round-trip law.
func TestScenarioSSRDuringDetection(t *testing.T) {
	h := newHarness(t, Config{ModuleType: "gmm"})
	ctx := context.Background()

	blob := buildSoundModelBlob(0x01, 0x02)
	require.NoError(t, h.stream.LoadSoundModel(ctx, blob))
	require.NoError(t, h.stream.RecognitionConfig(ctx, true, nil))
	require.NoError(t, h.stream.Start(ctx))

	h.dsp.emit(dsp.Event{ID: dsp.EventGenericInfo, MIID: h.stream.miid})
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateBuffering, h.stream.State())

	h.stream.SSROffline(ctx)
	assert.Equal(t, StateSSR, h.stream.State())
	assert.Contains(t, []State{StateIdle, StateLoaded, StateActive}, h.stream.stateForRestore,
		"state_for_restore must be confined to {idle, loaded, active}")
	assert.Equal(t, StateActive, h.stream.stateForRestore)

	require.NoError(t, h.stream.SSROnline(ctx))
	assert.Equal(t, StateActive, h.stream.State())
}

// Round-trip law: load -> unload with no recognition_config leaks nothing.
func TestLawLoadUnloadIdempotent(t *testing.T) {
	h := newHarness(t, Config{ModuleType: "gmm"})
	ctx := context.Background()
	blob := buildSoundModelBlob(0x01)

	require.NoError(t, h.stream.LoadSoundModel(ctx, blob))
	require.NoError(t, h.stream.UnloadSoundModel(ctx))
	assert.Equal(t, StateIdle, h.stream.State())
	assert.Empty(t, h.stream.stage2)
}

// Round-trip law: start -> stop -> start reaches the same state as a
// single start.
func TestLawStartStopStart(t *testing.T) {
	h := newHarness(t, Config{ModuleType: "gmm"})
	ctx := context.Background()
	blob := buildSoundModelBlob(0x01)

	require.NoError(t, h.stream.LoadSoundModel(ctx, blob))
	require.NoError(t, h.stream.Start(ctx))
	require.NoError(t, h.stream.Stop(ctx))
	require.NoError(t, h.stream.Start(ctx))
	assert.Equal(t, StateActive, h.stream.State())
}

// Boundary: detection arriving outside active/buffering is absorbed
// without a client callback (spec.md §8 boundary behaviors).
func TestBoundaryDetectionAbsorbedOutsideActive(t *testing.T) {
	h := newHarness(t, Config{ModuleType: "gmm"})
	ctx := context.Background()
	blob := buildSoundModelBlob(0x01)
	require.NoError(t, h.stream.LoadSoundModel(ctx, blob))
	// state is "loaded", not active or buffering.

	h.stream.Detected(ctx, dsp.Event{})

	select {
	case ev := <-h.events:
		t.Fatalf("unexpected client callback for absorbed detection: %+v", ev)
	case <-time.After(30 * time.Millisecond):
	}
	assert.Equal(t, StateLoaded, h.stream.State())
}
