package trendstore

import "github.com/evalgo/dbhealth/internal/model"

// field reads a named float64 out of a finding's Data map, returning
// (0, false) if absent or not numeric.
func field(data map[string]any, name string) (float64, bool) {
	raw, ok := data[name]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// MetricField describes how one finding data field maps onto a trend
// metric row.
type MetricField struct {
	MetricName string
	Unit       string
	Category   string
}

// NamedFieldExtractor builds a MetricExtractor from a static table of
// (data field -> metric name, unit, category) mappings, so new
// extractors are table entries rather than writer-core changes.
func NamedFieldExtractor(table map[string]MetricField) MetricExtractor {
	return func(checkName string, finding model.Finding) []TrendMetric {
		var out []TrendMetric
		for dataField, meta := range table {
			if value, ok := field(finding.Data, dataField); ok {
				out = append(out, TrendMetric{
					MetricName:        meta.MetricName,
					MetricValue:       value,
					MetricUnit:        meta.Unit,
					MetricCategory:    meta.Category,
					MetricDescription: checkName + "." + dataField,
				})
			}
		}
		return out
	}
}

// CommonExtractors covers the well-known fields most checks across all
// five plugins surface: memory, disk, connection counts, and
// replication lag. The writer appends each plugin's own extractor table
// (its Extractors function, wired through the plugin registry) to this
// set.
func CommonExtractors() []MetricExtractor {
	return []MetricExtractor{
		NamedFieldExtractor(map[string]MetricField{
			"memory_used_percent":     {"memory_used_percent", "percent", "resource"},
			"disk_used_percent":       {"disk_used_percent", "percent", "resource"},
			"connection_count":        {"connection_count", "count", "connections"},
			"replication_lag_seconds": {"replication_lag_seconds", "seconds", "replication"},
			"cache_hit_ratio":         {"cache_hit_ratio", "ratio", "performance"},
			"under_replicated_count":  {"under_replicated_partitions", "count", "availability"},
			"pending_compactions":     {"pending_compactions", "count", "storage"},
			"consumer_lag_total":      {"consumer_lag_total", "count", "throughput"},
		}),
	}
}
