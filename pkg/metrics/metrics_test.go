package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersOnCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IngestionsTotal.WithLabelValues("success", "").Inc()
	m.IngestionsTotal.WithLabelValues("failed", "blob").Add(2)
	m.ListCacheHitsTotal.Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestionsTotal.WithLabelValues("success", "")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.IngestionsTotal.WithLabelValues("failed", "blob")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["conversation_ingestions_total"])
	assert.True(t, names["conversation_list_cache_hits_total"])
}

func TestNewTwiceOnSameRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
