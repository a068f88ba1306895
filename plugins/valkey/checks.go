package valkey

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/evalgo/dbhealth/internal/accumulator"
	"github.com/evalgo/dbhealth/internal/check"
	"github.com/evalgo/dbhealth/internal/connector"
	"github.com/evalgo/dbhealth/internal/formatter"
	"github.com/evalgo/dbhealth/internal/model"
	"github.com/evalgo/dbhealth/internal/trendstore"
)

var fmtr = formatter.AsciiDocFormatter{}

func threshold(settings map[string]any, name string, def float64) float64 {
	overrides, _ := settings["check_overrides"].(map[string]float64)
	if v, ok := overrides[name]; ok {
		return v
	}
	return def
}

func nowMetadata(nodeCount int) model.FindingMetadata {
	return model.FindingMetadata{CollectionMethod: string(model.StrategyNativeQuery), TimestampUTC: time.Now().UTC(), NodeCount: nodeCount}
}

// Checks registers the Valkey/Redis connector's diagnostic checks.
func Checks() *check.Registry {
	r := check.NewRegistry()
	r.Register(check.Check{Name: "valkey_memory_usage", Section: "Resources", Weight: 8, Run: memoryUsageCheck})
	r.Register(check.Check{Name: "valkey_replication_lag", Section: "Replication", Weight: 9, Run: replicationLagCheck})
	r.Register(check.Check{Name: "valkey_keyspace_hit_rate", Section: "Performance", Weight: 4, Run: keyspaceHitRateCheck})
	return r
}

// Extractors maps this plugin's check-specific finding fields onto
// trend metrics, appended to the common table at write time.
func Extractors() []trendstore.MetricExtractor {
	return []trendstore.MetricExtractor{
		trendstore.NamedFieldExtractor(map[string]trendstore.MetricField{
			"used_memory_bytes":       {MetricName: "used_memory_bytes", Unit: "bytes", Category: "resource"},
			"mem_fragmentation_ratio": {MetricName: "mem_fragmentation_ratio", Unit: "ratio", Category: "resource"},
		}),
	}
}

// memoryUsageCheck reads INFO memory and classifies used_memory against
// maxmemory when a limit is configured.
func memoryUsageCheck(ctx context.Context, conn connector.Connector, settings map[string]any, _ accumulator.View) (check.Fragment, model.Finding, error) {
	result, err := conn.ExecuteOperation(ctx, model.Operation{Kind: model.OperationNative, Params: map[string]any{"section": "memory"}})
	if err != nil {
		return "", model.Finding{}, fmt.Errorf("valkey_memory_usage: %w", err)
	}
	if result.Err != nil {
		return "", model.Finding{Status: model.StatusError, Message: "INFO memory failed", ErrorMessage: result.Err.Message}, nil
	}

	values := result.Rows[0].Values
	used := asFloat(values["used_memory"])
	maxMem := asFloat(values["maxmemory"])
	fragmentation := asFloat(values["mem_fragmentation_ratio"])

	warning := threshold(settings, "valkey_memory_warning", 80)
	critical := threshold(settings, "valkey_memory_critical", 95)

	usedPercent := 0.0
	if maxMem > 0 {
		usedPercent = used / maxMem * 100
	}

	status, severity := model.StatusSuccess, 0
	if maxMem > 0 {
		switch {
		case usedPercent >= critical:
			status, severity = model.StatusCritical, 8
		case usedPercent >= warning:
			status, severity = model.StatusWarning, 5
		}
	}

	fragment := check.Fragment(fmtr.DictTable(map[string]any{
		"used_memory_bytes":       used,
		"maxmemory_bytes":         maxMem,
		"used_percent":            usedPercent,
		"mem_fragmentation_ratio": fragmentation,
	}, "metric", "value"))

	msg := fmt.Sprintf("%s used, fragmentation ratio %.2f", humanize.Bytes(uint64(used)), fragmentation)
	if maxMem > 0 {
		msg = fmt.Sprintf("%s of %s (%.1f%%) used, fragmentation ratio %.2f", humanize.Bytes(uint64(used)), humanize.Bytes(uint64(maxMem)), usedPercent, fragmentation)
	}

	return fragment, model.Finding{
		Status:   status,
		Severity: severity,
		Message:  msg,
		Data: map[string]any{
			"used_memory_bytes":       used,
			"memory_used_percent":     usedPercent,
			"mem_fragmentation_ratio": fragmentation,
		},
		Metadata: nowMetadata(1),
	}, nil
}

// replicationLagCheck reads each replica's reported lag from the
// connector's discovered topology metadata.
func replicationLagCheck(ctx context.Context, conn connector.Connector, settings map[string]any, _ accumulator.View) (check.Fragment, model.Finding, error) {
	vc, ok := conn.(*Connector)
	if !ok {
		return "", model.Finding{}, fmt.Errorf("valkey_replication_lag: unexpected connector type")
	}

	warning := threshold(settings, "valkey_replication_lag_warning", 10)
	critical := threshold(settings, "valkey_replication_lag_critical", 60)

	var rows []map[string]any
	var maxLag float64
	replicaCount := 0
	for _, n := range vc.topo.Instances() {
		if n.Role != model.RoleReader || n.ID == "self" {
			continue
		}
		replicaCount++
		lag := asFloat(n.Metadata["lag_seconds"])
		if lag > maxLag {
			maxLag = lag
		}
		rows = append(rows, map[string]any{"replica": n.Host, "lag_seconds": lag, "state": string(n.State), "offset": n.Metadata["offset"]})
	}
	fragment := check.Fragment(fmtr.Table(rows))

	if replicaCount == 0 {
		return fragment, model.Finding{
			Status:   model.StatusSuccess,
			Severity: 0,
			Message:  "no replicas configured",
			Data:     map[string]any{"replica_count": 0},
			Metadata: nowMetadata(1),
		}, nil
	}

	status, severity := model.StatusSuccess, 0
	switch {
	case maxLag >= critical:
		status, severity = model.StatusCritical, 8
	case maxLag >= warning:
		status, severity = model.StatusWarning, 5
	}

	return fragment, model.Finding{
		Status:   status,
		Severity: severity,
		Message:  fmt.Sprintf("max replication lag %.1fs across %d replica(s)", maxLag, replicaCount),
		Data: map[string]any{
			"replication_lag_seconds": maxLag,
			"replica_count":           replicaCount,
		},
		Metadata: nowMetadata(replicaCount + 1),
	}, nil
}

// keyspaceHitRateCheck reads INFO stats and reports the cache hit ratio,
// a low-severity informational signal.
func keyspaceHitRateCheck(ctx context.Context, conn connector.Connector, settings map[string]any, _ accumulator.View) (check.Fragment, model.Finding, error) {
	result, err := conn.ExecuteOperation(ctx, model.Operation{Kind: model.OperationNative, Params: map[string]any{"section": "stats"}})
	if err != nil {
		return "", model.Finding{}, fmt.Errorf("valkey_keyspace_hit_rate: %w", err)
	}
	if result.Err != nil {
		return "", model.Finding{Status: model.StatusError, Message: "INFO stats failed", ErrorMessage: result.Err.Message}, nil
	}

	values := result.Rows[0].Values
	hits := asFloat(values["keyspace_hits"])
	misses := asFloat(values["keyspace_misses"])

	hitRate := 1.0
	total := hits + misses
	if total > 0 {
		hitRate = hits / total
	}

	warning := threshold(settings, "valkey_hit_rate_warning", 0.8)

	status, severity := model.StatusSuccess, 0
	if total > 0 && hitRate < warning {
		status, severity = model.StatusWarning, 3
	}

	fragment := check.Fragment(fmtr.DictTable(map[string]any{
		"keyspace_hits":   hits,
		"keyspace_misses": misses,
		"hit_rate":        hitRate,
	}, "metric", "value"))

	return fragment, model.Finding{
		Status:   status,
		Severity: severity,
		Message:  fmt.Sprintf("keyspace hit rate %.1f%%", hitRate*100),
		Data:     map[string]any{"keyspace_hit_rate": hitRate, "cache_hit_ratio": hitRate, "keyspace_hits": hits, "keyspace_misses": misses},
		Metadata: nowMetadata(1),
	}, nil
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case string:
		var f float64
		if _, err := fmt.Sscanf(n, "%f", &f); err == nil {
			return f
		}
	}
	return 0
}
