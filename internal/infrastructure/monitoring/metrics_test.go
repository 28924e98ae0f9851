package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordCommand(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith(reg)

	m.RecordCommand("completed", 120*time.Millisecond)
	m.RecordCommand("completed", 80*time.Millisecond)
	m.RecordCommand("timeout", 30*time.Second)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.CommandsTotal.WithLabelValues("completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CommandsTotal.WithLabelValues("timeout")))

	snap := m.GetSnapshot()
	assert.Equal(t, int64(3), snap.TotalCommands)
}

func TestRecordHTTPRequestTracksErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith(reg)

	m.RecordHTTPRequest("GET", "/sessions", "200", 5*time.Millisecond)
	m.RecordHTTPRequest("GET", "/sessions/:id", "404", 2*time.Millisecond)
	m.RecordHTTPRequest("POST", "/sessions", "500", 2*time.Millisecond)

	snap := m.GetSnapshot()
	assert.Equal(t, int64(3), snap.TotalRequests)
	assert.Equal(t, int64(2), snap.TotalErrors)
}

func TestStreamCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith(reg)

	m.RecordChunk(1024)
	m.RecordChunk(512)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.ChunksPublished))
	assert.Equal(t, float64(1536), testutil.ToFloat64(m.BytesPublished))
}

func TestWSConnectionGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith(reg)

	m.IncWSConnections()
	m.IncWSConnections()
	m.DecWSConnections()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.WSConnections))
}
