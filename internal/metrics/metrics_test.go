package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.BlockProcessed("registry", 101)
	m.BlockProcessed("registry", 102)
	m.Rebuild("registry", RebuildReorg, 102)
	m.PollResult(PollOK)
	m.PollResult(PollCastFailed)
	m.CacheLookup(CacheMiss)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.blocksProcessed.WithLabelValues("registry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rebuilds.WithLabelValues("registry", RebuildReorg)))
	assert.Equal(t, 102.0, testutil.ToFloat64(m.lastBlock.WithLabelValues("registry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pollResults.WithLabelValues(PollCastFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues(CacheMiss)))
}

func TestMetricsDoubleRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.BlockProcessed("x", 1)
		m.Rebuild("x", RebuildReorg, 1)
		m.DecodeError("x")
		m.PollResult(PollOK)
		m.CacheLookup(CacheHit)
	})
}
