package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fscwatch/harvester/internal/metrics"
)

func TestNewRegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	set := metrics.New(reg)

	set.RequestsTotal.Inc()
	set.RequestsTotal.Inc()
	set.UploadErrorsTotal.Inc()

	assert.InDelta(t, 2.0, testutil.ToFloat64(set.RequestsTotal), 0.001)
	assert.InDelta(t, 1.0, testutil.ToFloat64(set.UploadErrorsTotal), 0.001)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestIndependentRegistries(t *testing.T) {
	// Two sets on two registries must never panic or share counts.
	a := metrics.New(prometheus.NewRegistry())
	b := metrics.New(prometheus.NewRegistry())

	a.RecordsHarvested.Inc()
	assert.InDelta(t, 1.0, testutil.ToFloat64(a.RecordsHarvested), 0.001)
	assert.InDelta(t, 0.0, testutil.ToFloat64(b.RecordsHarvested), 0.001)
}
