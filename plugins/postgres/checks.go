package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/evalgo/dbhealth/internal/accumulator"
	"github.com/evalgo/dbhealth/internal/check"
	"github.com/evalgo/dbhealth/internal/connector"
	"github.com/evalgo/dbhealth/internal/cve"
	"github.com/evalgo/dbhealth/internal/formatter"
	"github.com/evalgo/dbhealth/internal/metrics"
	"github.com/evalgo/dbhealth/internal/model"
	"github.com/evalgo/dbhealth/internal/trendstore"
)

var fmtr = formatter.AsciiDocFormatter{}

// threshold resolves a per-check override from settings["check_overrides"],
// falling back to def when the operator has not configured one.
func threshold(settings map[string]any, name string, def float64) float64 {
	overrides, _ := settings["check_overrides"].(map[string]float64)
	if v, ok := overrides[name]; ok {
		return v
	}
	return def
}

func nowMetadata(method string, nodeCount int) model.FindingMetadata {
	return model.FindingMetadata{
		CollectionMethod: method,
		TimestampUTC:     time.Now().UTC(),
		NodeCount:        nodeCount,
	}
}

// Checks registers the PostgreSQL connector's diagnostic checks, weight
// ordered so replication health runs ahead of the cosmetic summaries.
func Checks() *check.Registry {
	r := check.NewRegistry()
	r.Register(check.Check{Name: "postgres_replication_lag", Section: "Replication", Weight: 9, Run: replicationLagCheck})
	r.Register(check.Check{Name: "postgres_connections", Section: "Connections", Weight: 7, Run: connectionCountCheck})
	r.Register(check.Check{Name: "postgres_pgstat_statements", Section: "Performance", Weight: 5, Run: pgStatStatementsCheck})
	r.Register(check.Check{Name: "postgres_disk_usage", Section: "Resources", Weight: 6, Run: diskUsageCheck})
	r.Register(check.Check{Name: "postgres_cloud_storage_metric", Section: "Resources", Weight: 3, Run: cloudStorageMetricCheck})
	r.Register(check.Check{Name: "postgres_vulnerability_scan", Section: "Security", Weight: 4, Run: vulnerabilityScanCheck})
	return r
}

// Extractors maps this plugin's check-specific finding fields onto
// trend metrics, appended to the common table at write time.
func Extractors() []trendstore.MetricExtractor {
	return []trendstore.MetricExtractor{
		trendstore.NamedFieldExtractor(map[string]trendstore.MetricField{
			"connections_used_percent": {MetricName: "connections_used_percent", Unit: "percent", Category: "connections"},
			"max_cvss_score":           {MetricName: "max_cvss_score", Unit: "score", Category: "security"},
			"replica_count":            {MetricName: "replica_count", Unit: "count", Category: "replication"},
		}),
	}
}

// vulnerabilityScanCheck maps the detected server version to a CPE and
// queries the connector's CVE feed, skipping cleanly when no feed is
// configured or the version is unknown rather than treating either as
// an error.
func vulnerabilityScanCheck(ctx context.Context, conn connector.Connector, settings map[string]any, _ accumulator.View) (check.Fragment, model.Finding, error) {
	pc, ok := conn.(*Connector)
	if !ok {
		return "", model.Finding{}, fmt.Errorf("postgres_vulnerability_scan: unexpected connector type")
	}
	if !conn.Capabilities().HasCVEFeed {
		return "", model.Finding{
			Status:           model.StatusSkipped,
			Reason:           "no CVE feed configured",
			RequiredSettings: []string{"vulnerability_scan_enabled", "nvd_api_key"},
		}, nil
	}
	if pc.versionString == "" {
		return "", model.Finding{Status: model.StatusSkipped, Reason: "server version unknown, cannot map to a CPE"}, nil
	}

	cpe := cve.CPEForVersion("postgresql", "postgresql", pc.versionString)
	findings, err := pc.cveSource.LookupByCPE(ctx, cpe)
	if err != nil {
		return "", model.Finding{Status: model.StatusError, Message: "CVE lookup failed", ErrorMessage: err.Error()}, nil
	}

	rows := make([]map[string]any, 0, len(findings))
	var maxScore float64
	for _, f := range findings {
		rows = append(rows, map[string]any{
			"cve_id": f.CVEID, "severity": f.Severity, "cvss_score": f.CVSSScore, "published": f.Published,
		})
		if f.CVSSScore > maxScore {
			maxScore = f.CVSSScore
		}
	}
	fragment := check.Fragment(fmtr.Table(rows))

	status, severity := model.StatusSuccess, 0
	switch {
	case maxScore >= 9.0:
		status, severity = model.StatusCritical, 9
	case maxScore >= 7.0:
		status, severity = model.StatusWarning, 6
	case len(findings) > 0:
		status, severity = model.StatusWarning, 3
	}

	return fragment, model.Finding{
		Status:   status,
		Severity: severity,
		Message:  fmt.Sprintf("%d known CVE(s) for %s, highest CVSS %.1f", len(findings), cpe, maxScore),
		Data:     map[string]any{"cve_count": len(findings), "max_cvss_score": maxScore, "cpe": cpe},
		Metadata: nowMetadata("native_query", 1),
	}, nil
}

// cloudStorageMetricCheck reads the managed provider's own storage
// metric (CloudWatch RDS FreeStorageSpace, or an Azure Monitor storage
// metric for Flexible Server) when a cloud probe is configured, skipping
// cleanly otherwise. This is a supplementary cross-check alongside
// diskUsageCheck's SSH-based df reading, not a replacement for it.
func cloudStorageMetricCheck(ctx context.Context, conn connector.Connector, settings map[string]any, _ accumulator.View) (check.Fragment, model.Finding, error) {
	if !conn.Capabilities().HasCloudMetrics {
		return "", model.Finding{
			Status:           model.StatusSkipped,
			Reason:           "no cloud metrics probe configured",
			RequiredSettings: []string{"aws_region", "aws_resource_id", "azure_subscription_id", "azure_resource_uri"},
		}, nil
	}

	pc, ok := conn.(*Connector)
	if !ok {
		return "", model.Finding{}, fmt.Errorf("postgres_cloud_storage_metric: unexpected connector type")
	}

	var fn metrics.CloudMetricsFunc
	var params map[string]string
	switch {
	case pc.awsProbe != nil:
		fn = pc.cloudMetricsAWS
		params = map[string]string{
			"namespace": "AWS/RDS", "metric_name": "FreeStorageSpace",
			"dimension_name": "DBInstanceIdentifier", "dimension_value": pc.target.AWS.ResourceID,
		}
	case pc.azureProbe != nil:
		fn = pc.cloudMetricsAzure
		params = map[string]string{"resource_uri": pc.target.Azure.ResourceURI, "metric_name": "storage_percent"}
	default:
		return "", model.Finding{Status: model.StatusUnavailable, Reason: "cloud metrics capability set but no probe constructed"}, nil
	}

	def := model.MetricDefinition{
		LogicalName: "postgres_cloud_storage_metric",
		Aggregation: model.AggAvg,
		Strategies:  []model.StrategyEntry{{Kind: model.StrategyCloudMetrics, Params: params}},
	}

	collector := metrics.New(pc.log, metrics.NewCloudMetricsStrategy(fn))
	sample, err := collector.Collect(ctx, def)
	if err != nil {
		return "", model.Finding{}, fmt.Errorf("postgres_cloud_storage_metric: %w", err)
	}
	if sample == nil {
		return "", model.Finding{Status: model.StatusUnavailable, Reason: "cloud provider returned no datapoints"}, nil
	}

	fragment := check.Fragment(fmtr.DictTable(map[string]any{
		"metric":            params["metric_name"],
		"value":             sample.ClusterTotal,
		"collection_method": string(sample.Method),
	}, "field", "value"))

	return fragment, model.Finding{
		Status:   model.StatusSuccess,
		Severity: 0,
		Message:  fmt.Sprintf("cloud monitoring reports %s = %.2f", params["metric_name"], sample.ClusterTotal),
		Data:     map[string]any{"cloud_metric_name": params["metric_name"], "cloud_metric_value": sample.ClusterTotal},
		Metadata: nowMetadata(string(sample.Method), 1),
	}, nil
}

// cloudMetricsAWS reads a CloudWatch metric average for the configured
// RDS/MSK resource.
func (pc *Connector) cloudMetricsAWS(ctx context.Context, params map[string]string) (map[string]float64, error) {
	avg, err := pc.awsProbe.GetMetricAverage(ctx, params["namespace"], params["metric_name"], params["dimension_name"], params["dimension_value"], 5*time.Minute)
	if err != nil {
		return nil, err
	}
	return map[string]float64{"cluster": avg}, nil
}

// cloudMetricsAzure reads an Azure Monitor metric average for the
// configured resource URI.
func (pc *Connector) cloudMetricsAzure(ctx context.Context, params map[string]string) (map[string]float64, error) {
	avg, err := pc.azureProbe.GetMetricAverage(ctx, params["resource_uri"], params["metric_name"], 5*time.Minute)
	if err != nil {
		return nil, err
	}
	return map[string]float64{"cluster": avg}, nil
}

// replicationLagCheck reads each replica's lag from the connector's
// discovered topology metadata, classifying severity against
// warning/critical thresholds.
func replicationLagCheck(ctx context.Context, conn connector.Connector, settings map[string]any, _ accumulator.View) (check.Fragment, model.Finding, error) {
	pc, ok := conn.(*Connector)
	if !ok {
		return "", model.Finding{}, fmt.Errorf("postgres_replication_lag: unexpected connector type")
	}

	warning := threshold(settings, "postgres_replication_lag_warning", 30)
	critical := threshold(settings, "postgres_replication_lag_critical", 120)

	replicas := pc.topo.Instances()
	rows := make([]map[string]any, 0, len(replicas))
	var maxLag float64
	replicaCount := 0
	for _, n := range replicas {
		if n.Role != model.RoleReader {
			continue
		}
		replicaCount++
		lagStr := n.Metadata["lag_seconds"]
		var lag float64
		fmt.Sscanf(lagStr, "%f", &lag)
		if lag > maxLag {
			maxLag = lag
		}
		rows = append(rows, map[string]any{
			"replica":      n.Host,
			"lag_seconds":  lag,
			"state":        string(n.State),
			"application":  n.Metadata["application_name"],
		})
	}

	fragment := check.Fragment(fmtr.Table(rows))

	if replicaCount == 0 {
		return fragment, model.Finding{
			Status:   model.StatusSuccess,
			Severity: 0,
			Message:  "no streaming replicas configured",
			Data:     map[string]any{"replica_count": 0},
			Metadata: nowMetadata("native_query", 1),
		}, nil
	}

	status, severity := model.StatusSuccess, 0
	switch {
	case maxLag >= critical:
		status, severity = model.StatusCritical, 9
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
		Metadata: nowMetadata("native_query", replicaCount+1),
	}, nil
}

// connectionCountCheck queries pg_stat_activity for the current
// connection count against max_connections.
func connectionCountCheck(ctx context.Context, conn connector.Connector, settings map[string]any, _ accumulator.View) (check.Fragment, model.Finding, error) {
	result, err := conn.ExecuteOperation(ctx, model.Operation{
		Kind:    model.OperationNative,
		Command: "SELECT count(*) AS current, (SELECT setting::int FROM pg_settings WHERE name = 'max_connections') AS max_connections FROM pg_stat_activity",
	})
	if err != nil {
		return "", model.Finding{}, fmt.Errorf("postgres_connections: %w", err)
	}
	if result.Err != nil {
		return "", model.Finding{Status: model.StatusError, Message: "connection count query failed", ErrorMessage: result.Err.Message}, nil
	}
	if len(result.Rows) == 0 {
		return "", model.Finding{Status: model.StatusUnavailable, Message: "no rows returned", Reason: "empty result set"}, nil
	}

	current := asFloat(result.Rows[0].Values["current"])
	maxConn := asFloat(result.Rows[0].Values["max_connections"])
	usedPercent := 0.0
	if maxConn > 0 {
		usedPercent = current / maxConn * 100
	}

	warning := threshold(settings, "postgres_connections_warning", 80)
	critical := threshold(settings, "postgres_connections_critical", 95)

	status, severity := model.StatusSuccess, 0
	switch {
	case usedPercent >= critical:
		status, severity = model.StatusCritical, 8
	case usedPercent >= warning:
		status, severity = model.StatusWarning, 4
	}

	fragment := check.Fragment(fmtr.DictTable(map[string]any{
		"current_connections": current,
		"max_connections":     maxConn,
		"used_percent":        usedPercent,
	}, "metric", "value"))

	return fragment, model.Finding{
		Status:   status,
		Severity: severity,
		Message:  fmt.Sprintf("%.0f/%.0f connections in use (%.1f%%)", current, maxConn, usedPercent),
		Data: map[string]any{
			"connection_count": current,
			"max_connections":  maxConn,
			"connections_used_percent": usedPercent,
		},
		Metadata: nowMetadata("native_query", 1),
	}, nil
}

// pgStatStatementsCheck is skipped when the extension is not installed,
// gated on the capability flag detected at connect time.
func pgStatStatementsCheck(ctx context.Context, conn connector.Connector, settings map[string]any, _ accumulator.View) (check.Fragment, model.Finding, error) {
	if !conn.Capabilities().HasPgStat {
		return "", model.Finding{
			Status:           model.StatusSkipped,
			Reason:           "pg_stat_statements extension not installed",
			RequiredSettings: []string{"pg_stat_statements extension"},
		}, nil
	}

	result, err := conn.ExecuteOperation(ctx, model.Operation{
		Kind:    model.OperationNative,
		Command: "SELECT query, calls, total_exec_time, mean_exec_time FROM pg_stat_statements ORDER BY total_exec_time DESC LIMIT 10",
	})
	if err != nil {
		return "", model.Finding{}, fmt.Errorf("postgres_pgstat_statements: %w", err)
	}
	if result.Err != nil {
		return "", model.Finding{Status: model.StatusError, Message: "pg_stat_statements query failed", ErrorMessage: result.Err.Message}, nil
	}

	rows := make([]map[string]any, 0, len(result.Rows))
	for _, row := range result.Rows {
		rows = append(rows, row.Values)
	}
	rows = formatter.TruncateField(rows, "query", 120)
	fragment := check.Fragment(fmtr.Table(rows))

	return fragment, model.Finding{
		Status:   model.StatusSuccess,
		Severity: 0,
		Message:  fmt.Sprintf("%d top statements by total execution time", len(rows)),
		Data:     map[string]any{"top_statement_count": len(rows)},
		Metadata: nowMetadata("native_query", 1),
	}, nil
}

// diskUsageCheck requires SSH; it skips cleanly when no SSH host is
// configured rather than attempting a connection.
func diskUsageCheck(ctx context.Context, conn connector.Connector, settings map[string]any, _ accumulator.View) (check.Fragment, model.Finding, error) {
	if !conn.Capabilities().HasSSHSupport {
		return "", model.Finding{
			Status:           model.StatusSkipped,
			Reason:           "SSH not configured",
			RequiredSettings: []string{"ssh_host", "ssh_user"},
		}, nil
	}

	result, err := conn.ExecuteOperation(ctx, model.Operation{Kind: model.OperationShell, Command: "df -h /var/lib/postgresql"})
	if err != nil {
		return "", model.Finding{}, fmt.Errorf("postgres_disk_usage: %w", err)
	}
	if result.Err != nil {
		return "", model.Finding{Status: model.StatusUnavailable, Message: "disk usage probe failed", Reason: result.Err.Message}, nil
	}

	fragment := check.Fragment(fmtr.ShellOutput("df -h", result.Rendered))

	warning := threshold(settings, "postgres_disk_warning", 80)
	critical := threshold(settings, "postgres_disk_critical", 90)
	usedPercent := parseDfPercent(result.Rendered)

	status, severity := model.StatusSuccess, 0
	switch {
	case usedPercent >= critical:
		status, severity = model.StatusCritical, 7
	case usedPercent >= warning:
		status, severity = model.StatusWarning, 4
	}

	return fragment, model.Finding{
		Status:   status,
		Severity: severity,
		Message:  fmt.Sprintf("data directory disk usage %.1f%%", usedPercent),
		Data:     map[string]any{"disk_used_percent": usedPercent},
		Metadata: nowMetadata("shell_probe", 1),
	}, nil
}

func parseDfPercent(output string) float64 {
	var pct float64
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		if n, ok := parsePercentField(fields[4]); ok {
			pct = n
		}
	}
	return pct
}

func parsePercentField(s string) (float64, bool) {
	if !strings.HasSuffix(s, "%") {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	return n, err == nil
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}
