package dsp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopbackSessionEmitDeliversToRegisteredChannel(t *testing.T) {
	s := NewLoopbackSession()
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, "gmm", []byte{0x01}))
	require.NoError(t, s.Start(ctx))

	ch := make(chan Event, 1)
	require.NoError(t, s.RegisterCallback(ctx, ch))

	s.Emit(Event{ID: EventGenericInfo, MIID: 7})

	select {
	case ev := <-ch:
		assert.Equal(t, uint32(7), ev.MIID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for emitted event")
	}
}
