package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.Encoded(3, 1)
	m.Encoded(0, 0)
	m.UploadRetried()
	assert.Equal(t, 3.0, testutil.ToFloat64(m.EncodedMessages))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EncodedFiles))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UploadRetries))

	start := time.Date(2024, 2, 27, 0, 0, 0, 0, time.UTC)
	m.ObserveStage("encode", start, start.Add(2*time.Second))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StageDuration))

	path := filepath.Join(t.TempDir(), "mlgefs.prom")
	require.NoError(t, WriteTextfile(path, reg))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "mlgefs_encoded_messages_total 3")
	assert.Contains(t, string(b), `mlgefs_stage_duration_seconds_count{stage="encode"} 1`)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.Encoded(1, 1)
	m.Selected(2)
	m.SubprocessFailed()
	m.ObserveStage("prep", time.Now(), time.Now())
}
