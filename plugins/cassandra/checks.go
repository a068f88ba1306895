package cassandra

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
	return model.FindingMetadata{CollectionMethod: string(model.StrategyShellProbe), TimestampUTC: time.Now().UTC(), NodeCount: nodeCount}
}

// Checks registers the Cassandra connector's diagnostic checks, all
// running over nodetool since this connector has no CQL native channel.
func Checks() *check.Registry {
	r := check.NewRegistry()
	r.Register(check.Check{Name: "cassandra_node_status", Section: "Topology", Weight: 9, Run: nodeStatusCheck})
	r.Register(check.Check{Name: "cassandra_compaction_pending", Section: "Compaction", Weight: 6, Run: compactionPendingCheck})
	r.Register(check.Check{Name: "cassandra_thread_pool_blocked", Section: "Performance", Weight: 5, Run: threadPoolBlockedCheck})
	return r
}

// Extractors maps this plugin's check-specific finding fields onto
// trend metrics, appended to the common table at write time.
func Extractors() []trendstore.MetricExtractor {
	return []trendstore.MetricExtractor{
		trendstore.NamedFieldExtractor(map[string]trendstore.MetricField{
			"down_count":         {MetricName: "nodes_down", Unit: "count", Category: "availability"},
			"blocked_pool_count": {MetricName: "blocked_thread_pools", Unit: "count", Category: "performance"},
		}),
	}
}

// nodeStatusCheck reports every node of the topology discovered at
// connect time (one `nodetool status` on the primary host) and counts
// the nodes that host saw as down.
func nodeStatusCheck(ctx context.Context, conn connector.Connector, settings map[string]any, _ accumulator.View) (check.Fragment, model.Finding, error) {
	cc, ok := conn.(*Connector)
	if !ok {
		return "", model.Finding{}, fmt.Errorf("cassandra_node_status: unexpected connector type")
	}

	rows := make([]map[string]any, 0, len(cc.topo.Nodes))
	downCount := 0
	for _, n := range cc.topo.Instances() {
		if n.State == model.StateDown {
			downCount++
		}
		rows = append(rows, map[string]any{
			"address":    n.Host,
			"state":      string(n.State),
			"datacenter": n.Metadata["datacenter"],
			"rack":       n.Metadata["rack"],
		})
	}
	fragment := check.Fragment(fmtr.Table(rows))

	status, severity := model.StatusSuccess, 0
	if downCount > 0 {
		status, severity = model.StatusCritical, 9
	}

	return fragment, model.Finding{
		Status:   status,
		Severity: severity,
		Message:  fmt.Sprintf("%d node(s) down out of %d", downCount, len(rows)),
		Data:     map[string]any{"node_count": len(rows), "down_count": downCount},
		Metadata: nowMetadata(len(rows)),
	}, nil
}

// compactionPendingCheck runs `nodetool compactionstats` on every
// connected host and flags a cluster-wide backlog.
func compactionPendingCheck(ctx context.Context, conn connector.Connector, settings map[string]any, _ accumulator.View) (check.Fragment, model.Finding, error) {
	cc, ok := conn.(*Connector)
	if !ok {
		return "", model.Finding{}, fmt.Errorf("cassandra_compaction_pending: unexpected connector type")
	}

	results, err := cc.ExecuteOperationAllNodes(ctx, model.Operation{Kind: model.OperationNodetool, Command: "nodetool compactionstats"})
	if err != nil {
		return "", model.Finding{}, fmt.Errorf("cassandra_compaction_pending: %w", err)
	}

	warning := threshold(settings, "cassandra_compaction_pending_warning", 10)
	critical := threshold(settings, "cassandra_compaction_pending_critical", 50)

	rows := make([]map[string]any, 0, len(results))
	var maxPending float64
	for nodeID, res := range results {
		if res.Err != nil {
			rows = append(rows, map[string]any{"node": nodeID, "error": res.Err.Message})
			continue
		}
		pending := 0.0
		if len(res.Rows) > 0 {
			pending = asFloat(res.Rows[0].Values["pending_tasks"])
		}
		if pending > maxPending {
			maxPending = pending
		}
		rows = append(rows, map[string]any{"node": nodeID, "pending_tasks": pending})
	}
	fragment := check.Fragment(fmtr.Table(rows))

	status, severity := model.StatusSuccess, 0
	switch {
	case maxPending >= critical:
		status, severity = model.StatusCritical, 7
	case maxPending >= warning:
		status, severity = model.StatusWarning, 4
	}

	return fragment, model.Finding{
		Status:   status,
		Severity: severity,
		Message:  fmt.Sprintf("max %d pending compaction task(s) across %d node(s)", int(maxPending), len(results)),
		Data:     map[string]any{"pending_compactions": maxPending, "node_count": len(results)},
		Metadata: nowMetadata(len(results)),
	}, nil
}

// threadPoolBlockedCheck runs `nodetool tpstats` on the primary host and
// reports any thread pool with blocked tasks, an early signal of
// overload.
func threadPoolBlockedCheck(ctx context.Context, conn connector.Connector, settings map[string]any, _ accumulator.View) (check.Fragment, model.Finding, error) {
	result, err := conn.ExecuteOperation(ctx, model.Operation{Kind: model.OperationNodetool, Command: "nodetool tpstats"})
	if err != nil {
		return "", model.Finding{}, fmt.Errorf("cassandra_thread_pool_blocked: %w", err)
	}
	if result.Err != nil {
		return "", model.Finding{Status: model.StatusUnavailable, Message: "tpstats probe failed", Reason: result.Err.Message}, nil
	}

	rows := make([]map[string]any, 0, len(result.Rows))
	blockedPools := 0
	for _, row := range result.Rows {
		rows = append(rows, row.Values)
		if asFloat(row.Values["blocked"]) > 0 {
			blockedPools++
		}
	}
	fragment := check.Fragment(fmtr.Table(rows))

	status, severity := model.StatusSuccess, 0
	if blockedPools > 0 {
		status, severity = model.StatusWarning, 5
	}

	return fragment, model.Finding{
		Status:   status,
		Severity: severity,
		Message:  fmt.Sprintf("%d thread pool(s) with blocked tasks out of %d", blockedPools, len(rows)),
		Data:     map[string]any{"pool_count": len(rows), "blocked_pool_count": blockedPools},
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
	}
	return 0
}
