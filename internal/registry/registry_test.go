package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamRegistrationRoundTrip(t *testing.T) {
	r := New()
	id := r.NextStreamID()
	r.RegisterStream(id, "stream-payload")

	got, err := r.Stream(id)
	require.NoError(t, err)
	assert.Equal(t, "stream-payload", got)

	r.DeregisterStream(id)
	_, err = r.Stream(id)
	assert.Error(t, err)
}

func TestEngineLookupUnknownReturnsError(t *testing.T) {
	r := New()
	_, err := r.Engine("gmm")
	assert.Error(t, err)

	r.RegisterEngine("gmm", "engine-payload")
	got, err := r.Engine("gmm")
	require.NoError(t, err)
	assert.Equal(t, "engine-payload", got)
}

func TestNextStreamIDsAreUnique(t *testing.T) {
	r := New()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := r.NextStreamID()
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestStreamIDsSnapshotsRegisteredStreams(t *testing.T) {
	r := New()
	a := r.NextStreamID()
	b := r.NextStreamID()
	r.RegisterStream(a, 1)
	r.RegisterStream(b, 2)

	ids := r.StreamIDs()
	assert.ElementsMatch(t, []string{a, b}, ids)
}
