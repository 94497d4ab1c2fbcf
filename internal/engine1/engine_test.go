package engine1

import (
	"context"
	"testing"
	"time"

	"github.com/fankserver/voicetrigger/internal/dsp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadUnloadRoundTripLeavesIdle(t *testing.T) {
	sess := newFakeSession()
	arb := NewDetectionArbiter()
	e := New("gmm", sess, arb, nil)
	ctx := context.Background()

	require.NoError(t, e.Load(ctx, "st-1", []byte{0x01}, 100))
	assert.Equal(t, SubStateLoaded, e.State())

	require.NoError(t, e.Unload(ctx, "st-1"))
	assert.Equal(t, SubStateIdle, e.State())
}

func TestSecondStreamMergesIntoSameSession(t *testing.T) {
	sess := newFakeSession()
	arb := NewDetectionArbiter()
	e := New("gmm", sess, arb, nil)
	ctx := context.Background()

	require.NoError(t, e.Load(ctx, "st-1", []byte{0x01}, 100))
	require.NoError(t, e.Load(ctx, "st-2", []byte{0x02}, 200))

	assert.ElementsMatch(t, []string{"st-1", "st-2"}, e.LoadedStreamIDs())

	require.NoError(t, e.Unload(ctx, "st-1"))
	assert.Equal(t, SubStateLoaded, e.State(), "session stays open while st-2 remains")
	require.NoError(t, e.Unload(ctx, "st-2"))
	assert.Equal(t, SubStateIdle, e.State())
}

func TestStartStopIsRefcountedAcrossStreams(t *testing.T) {
	sess := newFakeSession()
	arb := NewDetectionArbiter()
	e := New("gmm", sess, arb, nil)
	ctx := context.Background()

	require.NoError(t, e.Load(ctx, "st-1", []byte{0x01}, 100))
	require.NoError(t, e.Load(ctx, "st-2", []byte{0x02}, 200))

	require.NoError(t, e.Start(ctx))
	e.AttachStarted("st-1")
	require.NoError(t, e.Start(ctx)) // second stream's start is a no-op DSP-wise
	e.AttachStarted("st-2")

	assert.True(t, sess.started)

	require.NoError(t, e.Stop(ctx, "st-1"))
	assert.True(t, sess.started, "DSP stays started while st-2 remains")

	require.NoError(t, e.Stop(ctx, "st-2"))
	assert.False(t, sess.started)
}

func TestUpdateBufConfigMergesMax(t *testing.T) {
	sess := newFakeSession()
	arb := NewDetectionArbiter()
	e := New("gmm", sess, arb, nil)
	ctx := context.Background()

	require.NoError(t, e.Load(ctx, "st-1", []byte{0x01}, 100))
	require.NoError(t, e.Load(ctx, "st-2", []byte{0x02}, 200))

	require.NoError(t, e.UpdateBufConfig(ctx, "st-1", BufConfig{HistoryMs: 1000, PrerollMs: 200}))
	require.NoError(t, e.UpdateBufConfig(ctx, "st-2", BufConfig{HistoryMs: 1500, PrerollMs: 100}))

	payload := sess.params[dsp.ParamBufferConfig]
	require.Len(t, payload, 8)
	history := uint32(payload[0]) | uint32(payload[1])<<8 | uint32(payload[2])<<16 | uint32(payload[3])<<24
	preroll := uint32(payload[4]) | uint32(payload[5])<<8 | uint32(payload[6])<<16 | uint32(payload[7])<<24
	assert.Equal(t, uint32(1500), history, "history merges to the max across streams")
	assert.Equal(t, uint32(200), preroll, "preroll merges to the max across streams")
}

func TestSetECRefIsRefcounted(t *testing.T) {
	sess := newFakeSession()
	arb := NewDetectionArbiter()
	e := New("gmm", sess, arb, nil)
	ctx := context.Background()

	require.NoError(t, e.SetECRef(ctx, "rx0", true, false))
	first := sess.params[dsp.ParamECRef]
	require.NoError(t, e.SetECRef(ctx, "rx0", true, false)) // second enable is a refcount bump only
	assert.Equal(t, first, sess.params[dsp.ParamECRef])

	require.NoError(t, e.SetECRef(ctx, "rx0", false, false)) // refcount drops to 1, still programmed
	require.NoError(t, e.SetECRef(ctx, "rx0", false, false)) // last disable clears it
	last := sess.params[dsp.ParamECRef]
	assert.Equal(t, byte(0), last[len(last)-1], "final disable clears the EC binding")
}

func TestConcurrentDetectionsOnSameEngineAreSerialized(t *testing.T) {
	sess := newFakeSession()
	arb := NewDetectionArbiter()

	detected := make(chan string, 2)
	e := New("gmm", sess, arb, func(streamID string, ev dsp.Event) {
		detected <- streamID
	})
	ctx := context.Background()

	require.NoError(t, e.Load(ctx, "st-1", []byte{0x01}, 100))
	require.NoError(t, e.Load(ctx, "st-2", []byte{0x02}, 200))
	require.NoError(t, e.Start(ctx))
	e.AttachStarted("st-1")
	e.AttachStarted("st-2")

	sess.emit(dsp.Event{ID: dsp.EventGenericInfo, MIID: 100})
	sess.emit(dsp.Event{ID: dsp.EventGenericInfo, MIID: 200})

	select {
	case first := <-detected:
		assert.Equal(t, "st-1", first, "the first detection wins the engine")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first detection")
	}

	select {
	case <-detected:
		t.Fatal("second stream's detection must queue, not fire concurrently")
	case <-time.After(30 * time.Millisecond):
	}

	e.ReleaseDetection("st-1")

	select {
	case second := <-detected:
		assert.Equal(t, "st-2", second, "releasing the engine promotes the queued detection")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for promoted detection")
	}
}
