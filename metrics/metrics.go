// Package metrics holds the Prometheus collectors of the pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mlgefs"

// Metrics holds the counters and histograms updated by the pipeline stages.
type Metrics struct {
	SelectedMessages   prometheus.Counter
	MaterializedFields prometheus.Counter
	EncodedMessages    prometheus.Counter
	EncodedFiles       prometheus.Counter
	SubprocessFailures prometheus.Counter
	UploadRetries      prometheus.Counter
	UploadedObjects    prometheus.Counter

	// StageDuration is labelled by stage={prep,forecast,encode,upload,batch}.
	StageDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}
	m := &Metrics{
		SelectedMessages:   counter("selected_messages_total", "GRIB2 messages matched by extraction queries."),
		MaterializedFields: counter("materialized_fields_total", "Labeled fields built from selected messages."),
		EncodedMessages:    counter("encoded_messages_total", "GRIB2 messages written by the encoder."),
		EncodedFiles:       counter("encoded_files_total", "GRIB2 output files written by the encoder."),
		SubprocessFailures: counter("subprocess_failures_total", "External commands that failed or exited non-zero."),
		UploadRetries:      counter("upload_retries_total", "Retried object storage uploads."),
		UploadedObjects:    counter("uploaded_objects_total", "Objects written to the output bucket."),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of a pipeline stage.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"stage"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.SelectedMessages,
			m.MaterializedFields,
			m.EncodedMessages,
			m.EncodedFiles,
			m.SubprocessFailures,
			m.UploadRetries,
			m.UploadedObjects,
			m.StageDuration,
		)
	}
	return m
}

// ObserveStage records the time elapsed since start for stage.
func (m *Metrics) ObserveStage(stage string, start, end time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(end.Sub(start).Seconds())
}

func add(c prometheus.Counter, n int) {
	if n > 0 {
		c.Add(float64(n))
	}
}

// Selected counts messages matched by extraction queries.
func (m *Metrics) Selected(n int) {
	if m != nil {
		add(m.SelectedMessages, n)
	}
}

// Materialized counts labeled fields.
func (m *Metrics) Materialized(n int) {
	if m != nil {
		add(m.MaterializedFields, n)
	}
}

// Encoded counts GRIB2 messages and output files.
func (m *Metrics) Encoded(messages, files int) {
	if m != nil {
		add(m.EncodedMessages, messages)
		add(m.EncodedFiles, files)
	}
}

// SubprocessFailed counts one failed external command.
func (m *Metrics) SubprocessFailed() {
	if m != nil {
		m.SubprocessFailures.Inc()
	}
}

// UploadRetried counts one retried upload.
func (m *Metrics) UploadRetried() {
	if m != nil {
		m.UploadRetries.Inc()
	}
}

// Uploaded counts written objects.
func (m *Metrics) Uploaded(n int) {
	if m != nil {
		add(m.UploadedObjects, n)
	}
}

// WriteTextfile writes every metric gathered by g to path in the text format
// read by the node exporter textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}
