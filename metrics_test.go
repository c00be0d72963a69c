package restruct

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("restruct", reg)

	h := newAttemptHistory()
	failed := Attempt{Stage: StageParsing, Err: errors.New("x"), Usage: Usage{InputTokens: 5, OutputTokens: 2}, Duration: time.Second}
	ok := Attempt{Index: 1, Stage: StageSucceeded, Usage: Usage{InputTokens: 7, OutputTokens: 3}, Duration: time.Second}
	h.record(failed)
	h.record(ok)

	m.observeAttempt(ModeToolCall, failed)
	m.observeAttempt(ModeToolCall, ok)
	m.observeRequest(ModeToolCall, h, true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.attemptsTotal.WithLabelValues("tool_call", "parsing")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.tokensTotal.WithLabelValues("input")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.tokensTotal.WithLabelValues("output")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("tool_call", "success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("tool_call", "failure")))

	count, err := testutil.GatherAndCount(reg, "restruct_attempts_per_request", "restruct_attempt_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.observeAttempt(ModePlainJSON, Attempt{})
		m.observeRequest(ModePlainJSON, newAttemptHistory(), false)
	})
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics("dup", reg)
	assert.Panics(t, func() { NewMetrics("dup", reg) })
}
