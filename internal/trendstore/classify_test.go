package trendstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyTrendInsufficientData(t *testing.T) {
	trend := classifyTrend([]TrendMetric{{MetricValue: 42, MetricUnit: "percent"}})
	assert.Equal(t, TrendInsufficientData, trend.Direction)
	assert.Equal(t, "percent", trend.Unit)
}

func TestClassifyTrendIncreasing(t *testing.T) {
	series := []TrendMetric{
		{MetricValue: 10}, {MetricValue: 10},
		{MetricValue: 20}, {MetricValue: 20},
	}
	trend := classifyTrend(series)
	assert.Equal(t, TrendIncreasing, trend.Direction)
	assert.Equal(t, 10.0, trend.Min)
	assert.Equal(t, 20.0, trend.Max)
}

func TestClassifyTrendDecreasing(t *testing.T) {
	series := []TrendMetric{
		{MetricValue: 20}, {MetricValue: 20},
		{MetricValue: 10}, {MetricValue: 10},
	}
	trend := classifyTrend(series)
	assert.Equal(t, TrendDecreasing, trend.Direction)
}

func TestClassifyTrendStableWithinThreshold(t *testing.T) {
	series := []TrendMetric{
		{MetricValue: 100}, {MetricValue: 100},
		{MetricValue: 105}, {MetricValue: 105},
	}
	trend := classifyTrend(series)
	assert.Equal(t, TrendStable, trend.Direction)
}

func TestClassifyTrendZeroBaseline(t *testing.T) {
	allZero := classifyTrend([]TrendMetric{{MetricValue: 0}, {MetricValue: 0}})
	assert.Equal(t, TrendStable, allZero.Direction)

	fromZero := classifyTrend([]TrendMetric{{MetricValue: 0}, {MetricValue: 5}})
	assert.Equal(t, TrendIncreasing, fromZero.Direction)
}

func TestMean(t *testing.T) {
	assert.Equal(t, 0.0, mean(nil))
	assert.Equal(t, 2.0, mean([]float64{1, 2, 3}))
}
