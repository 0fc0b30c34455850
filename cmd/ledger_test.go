package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sitescope/internal/ledger"
	"github.com/sells-group/sitescope/internal/model"
)

func TestFormatLedgerPass(t *testing.T) {
	l, err := ledger.New()
	require.NoError(t, err)

	var sb strings.Builder
	require.NoError(t, formatLedgerPass(&sb, l, model.PassRateEvidence))
	out := sb.String()

	assert.Contains(t, out, "pass1_5")
	assert.Contains(t, out, "osm_rate_survey")
	assert.Contains(t, out, "ai_rate_call")
	assert.Contains(t, out, "$0.50")
	assert.Contains(t, out, "street_rate")
	assert.Contains(t, out, "rate_compose")
	assert.Contains(t, out, "locked")
}

func TestFormatLedgerPass_UnknownPass(t *testing.T) {
	l, err := ledger.New()
	require.NoError(t, err)

	var sb strings.Builder
	assert.Error(t, formatLedgerPass(&sb, l, model.Pass("pass9")))
}
