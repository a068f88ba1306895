package trendstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/dbhealth/internal/model"
)

func TestCommonExtractorsPullKnownFields(t *testing.T) {
	finding := model.Finding{
		Status: model.StatusWarning,
		Data: map[string]any{
			"memory_used_percent":    85.5,
			"under_replicated_count": 5.0,
			"unrelated_field":        "ignored",
		},
	}

	var metrics []TrendMetric
	for _, extract := range CommonExtractors() {
		metrics = append(metrics, extract("kafka_broker_memory", finding)...)
	}

	require.Len(t, metrics, 2)

	byName := map[string]TrendMetric{}
	for _, m := range metrics {
		byName[m.MetricName] = m
	}

	mem := byName["memory_used_percent"]
	assert.Equal(t, 85.5, mem.MetricValue)
	assert.Equal(t, "percent", mem.MetricUnit)
	assert.Equal(t, "resource", mem.MetricCategory)
	assert.Equal(t, "kafka_broker_memory.memory_used_percent", mem.MetricDescription)

	urp := byName["under_replicated_partitions"]
	assert.Equal(t, 5.0, urp.MetricValue)
	assert.Equal(t, "availability", urp.MetricCategory)
}

func TestCommonExtractorsCoerceIntegers(t *testing.T) {
	finding := model.Finding{Data: map[string]any{"connection_count": 42}}

	var metrics []TrendMetric
	for _, extract := range CommonExtractors() {
		metrics = append(metrics, extract("postgres_connections", finding)...)
	}

	require.Len(t, metrics, 1)
	assert.Equal(t, 42.0, metrics[0].MetricValue)
}

func TestCommonExtractorsEmptyDataYieldsNothing(t *testing.T) {
	for _, extract := range CommonExtractors() {
		assert.Empty(t, extract("any_check", model.Finding{}))
	}
}

func TestNamedFieldExtractor(t *testing.T) {
	extract := NamedFieldExtractor(map[string]MetricField{
		"total_urp": {MetricName: "total_urp", Unit: "count", Category: "availability"},
	})

	finding := model.Finding{Data: map[string]any{"total_urp": 5.0, "other": 1.0}}
	metrics := extract("kafka_under_replicated_partitions", finding)

	require.Len(t, metrics, 1)
	assert.Equal(t, "total_urp", metrics[0].MetricName)
	assert.Equal(t, 5.0, metrics[0].MetricValue)
	assert.Equal(t, "availability", metrics[0].MetricCategory)
	assert.Equal(t, "kafka_under_replicated_partitions.total_urp", metrics[0].MetricDescription)
}
