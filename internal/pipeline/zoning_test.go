package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticZoning_Lookup(t *testing.T) {
	z := NewStaticZoning()

	env, ok := z.Envelope("nc-buncombe")
	require.True(t, ok)
	assert.Equal(t, PosturePermitted, env.Posture)
	assert.Equal(t, "CI", env.Code)
	assert.Equal(t, 25.0, env.SetbackFt)

	_, ok = z.Envelope("mt-gallatin")
	assert.False(t, ok)
}

func TestStaticZoning_CharlestonProhibition(t *testing.T) {
	z := NewStaticZoning()

	env, ok := z.Envelope("sc-charleston")
	require.True(t, ok)
	assert.Equal(t, PostureProhibited, env.Posture)
	assert.True(t, env.Fatal)
}

func TestStaticZoning_ChathamEnvelopeIncomplete(t *testing.T) {
	z := NewStaticZoning()

	env, ok := z.Envelope("ga-chatham")
	require.True(t, ok)
	assert.Equal(t, PostureConditional, env.Posture)
	assert.Zero(t, env.MaxHeightFt)
}

func TestStaticZoning_CustomRows(t *testing.T) {
	z := NewStaticZoningFrom(map[string]ZoningEnvelope{
		"tx-travis": {Code: "CS", Posture: PosturePermitted, SetbackFt: 15, MaxHeightFt: 60, MaxCoveragePct: 55},
	})

	env, ok := z.Envelope("tx-travis")
	require.True(t, ok)
	assert.Equal(t, 55.0, env.MaxCoveragePct)

	_, ok = z.Envelope("nc-buncombe")
	assert.False(t, ok)
}
