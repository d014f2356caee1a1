package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMockMetricsRecordsCountsHistsAndLabels(t *testing.T) {
	m := NewMockMetrics()
	m.IncCounter("visibility_events_total", map[string]string{"op": "publish"})
	m.IncCounter("visibility_events_total", map[string]string{"op": "rollback"})
	m.ObserveHistogram("query_latency_ms", 12, map[string]string{"stage": "retrieve"})
	m.ObserveHistogram("query_latency_ms", 34, map[string]string{"stage": "rerank"})

	assert.Equal(t, 2, m.Counters["visibility_events_total"])
	assert.Equal(t, []float64{12, 34}, m.Hists["query_latency_ms"])

	labels := m.Labels["visibility_events_total"]
	assert.Equal(t, []map[string]string{{"op": "publish"}, {"op": "rollback"}}, labels)

	histLabels := m.Labels["query_latency_ms"]
	assert.Equal(t, []map[string]string{{"stage": "retrieve"}, {"stage": "rerank"}}, histLabels)
}

func TestMockMetricsLabelsNilForEmptyLabelSet(t *testing.T) {
	m := NewMockMetrics()
	m.IncCounter("notes_created_total", nil)
	assert.Nil(t, m.Labels["notes_created_total"][0])
}
