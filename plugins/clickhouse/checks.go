package clickhouse

import (
	"context"
	"fmt"
	"time"

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

// Checks registers the ClickHouse connector's diagnostic checks.
func Checks() *check.Registry {
	r := check.NewRegistry()
	r.Register(check.Check{Name: "clickhouse_replication_queue", Section: "Replication", Weight: 9, Run: replicationQueueCheck})
	r.Register(check.Check{Name: "clickhouse_merge_pressure", Section: "Performance", Weight: 6, Run: mergePressureCheck})
	r.Register(check.Check{Name: "clickhouse_disk_usage", Section: "Resources", Weight: 5, Run: diskUsageCheck})
	return r
}

// Extractors maps this plugin's check-specific finding fields onto
// trend metrics, appended to the common table at write time.
func Extractors() []trendstore.MetricExtractor {
	return []trendstore.MetricExtractor{
		trendstore.NamedFieldExtractor(map[string]trendstore.MetricField{
			"total_queue_size":   {MetricName: "replication_queue_size", Unit: "count", Category: "replication"},
			"merges_in_progress": {MetricName: "merges_in_progress", Unit: "count", Category: "performance"},
		}),
	}
}

// replicationQueueCheck queries system.replication_queue for the total
// pending entries across all replicated tables, a direct signal of
// replication falling behind.
func replicationQueueCheck(ctx context.Context, conn connector.Connector, settings map[string]any, _ accumulator.View) (check.Fragment, model.Finding, error) {
	result, err := conn.ExecuteOperation(ctx, model.Operation{
		Kind:    model.OperationNative,
		Command: "SELECT database, table, count(*) AS queue_size FROM system.replication_queue GROUP BY database, table",
	})
	if err != nil {
		return "", model.Finding{}, fmt.Errorf("clickhouse_replication_queue: %w", err)
	}
	if result.Err != nil {
		return "", model.Finding{Status: model.StatusError, Message: "replication queue query failed", ErrorMessage: result.Err.Message}, nil
	}

	rows := make([]map[string]any, 0, len(result.Rows))
	var total float64
	for _, row := range result.Rows {
		rows = append(rows, row.Values)
		total += asFloat(row.Values["queue_size"])
	}
	fragment := check.Fragment(fmtr.Table(rows))

	if len(rows) == 0 {
		return fragment, model.Finding{
			Status:   model.StatusSuccess,
			Severity: 0,
			Message:  "no replicated tables or empty replication queue",
			Data:     map[string]any{"total_queue_size": 0},
			Metadata: nowMetadata(1),
		}, nil
	}

	warning := threshold(settings, "clickhouse_replication_queue_warning", 20)
	critical := threshold(settings, "clickhouse_replication_queue_critical", 100)

	status, severity := model.StatusSuccess, 0
	switch {
	case total >= critical:
		status, severity = model.StatusCritical, 8
	case total >= warning:
		status, severity = model.StatusWarning, 5
	}

	return fragment, model.Finding{
		Status:   status,
		Severity: severity,
		Message:  fmt.Sprintf("%.0f pending replication queue entr(y/ies) across %d table(s)", total, len(rows)),
		Data:     map[string]any{"total_queue_size": total, "table_count": len(rows)},
		Metadata: nowMetadata(1),
	}, nil
}

// mergePressureCheck queries system.merges for in-progress background
// merges and their combined progress, surfacing merge backlog before it
// becomes a disk-space or query-latency problem.
func mergePressureCheck(ctx context.Context, conn connector.Connector, settings map[string]any, _ accumulator.View) (check.Fragment, model.Finding, error) {
	result, err := conn.ExecuteOperation(ctx, model.Operation{
		Kind:    model.OperationNative,
		Command: "SELECT database, table, elapsed, progress, num_parts FROM system.merges",
	})
	if err != nil {
		return "", model.Finding{}, fmt.Errorf("clickhouse_merge_pressure: %w", err)
	}
	if result.Err != nil {
		return "", model.Finding{Status: model.StatusError, Message: "merges query failed", ErrorMessage: result.Err.Message}, nil
	}

	rows := make([]map[string]any, 0, len(result.Rows))
	for _, row := range result.Rows {
		rows = append(rows, row.Values)
	}
	fragment := check.Fragment(fmtr.Table(rows))

	warning := threshold(settings, "clickhouse_merges_in_progress_warning", 10)
	critical := threshold(settings, "clickhouse_merges_in_progress_critical", 30)

	status, severity := model.StatusSuccess, 0
	count := float64(len(rows))
	switch {
	case count >= critical:
		status, severity = model.StatusCritical, 6
	case count >= warning:
		status, severity = model.StatusWarning, 3
	}

	return fragment, model.Finding{
		Status:   status,
		Severity: severity,
		Message:  fmt.Sprintf("%d merge(s) in progress", len(rows)),
		Data:     map[string]any{"merges_in_progress": len(rows)},
		Metadata: nowMetadata(1),
	}, nil
}

// diskUsageCheck requires SSH; it skips cleanly when no SSH host is
// configured.
func diskUsageCheck(ctx context.Context, conn connector.Connector, settings map[string]any, _ accumulator.View) (check.Fragment, model.Finding, error) {
	if !conn.Capabilities().HasSSHSupport {
		return "", model.Finding{
			Status:           model.StatusSkipped,
			Reason:           "SSH not configured",
			RequiredSettings: []string{"ssh_host", "ssh_user"},
		}, nil
	}

	result, err := conn.ExecuteOperation(ctx, model.Operation{Kind: model.OperationShell, Command: "df -h /var/lib/clickhouse"})
	if err != nil {
		return "", model.Finding{}, fmt.Errorf("clickhouse_disk_usage: %w", err)
	}
	if result.Err != nil {
		return "", model.Finding{Status: model.StatusUnavailable, Message: "disk usage probe failed", Reason: result.Err.Message}, nil
	}

	fragment := check.Fragment(fmtr.ShellOutput("df -h", result.Rendered))
	return fragment, model.Finding{
		Status:   model.StatusSuccess,
		Severity: 0,
		Message:  "disk usage probe collected",
		Data:     map[string]any{"probe_collected": true},
		Metadata: model.FindingMetadata{CollectionMethod: string(model.StrategyShellProbe), TimestampUTC: time.Now().UTC(), NodeCount: 1},
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
	}
	return 0
}
