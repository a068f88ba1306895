package kafka

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/evalgo/dbhealth/internal/accumulator"
	"github.com/evalgo/dbhealth/internal/check"
	"github.com/evalgo/dbhealth/internal/connector"
	"github.com/evalgo/dbhealth/internal/formatter"
	"github.com/evalgo/dbhealth/internal/metrics"
	"github.com/evalgo/dbhealth/internal/model"
	"github.com/evalgo/dbhealth/internal/shellexec"
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

func nowMetadata(method model.StrategyKind, nodeCount int) model.FindingMetadata {
	return model.FindingMetadata{CollectionMethod: string(method), TimestampUTC: time.Now().UTC(), NodeCount: nodeCount}
}

// Checks registers the Kafka connector's diagnostic checks.
func Checks() *check.Registry {
	r := check.NewRegistry()
	r.Register(check.Check{Name: "kafka_under_replicated_partitions", Section: "Replication", Weight: 10, Run: underReplicatedPartitionsCheck})
	r.Register(check.Check{Name: "kafka_broker_memory", Section: "Resources", Weight: 7, Run: brokerMemoryCheck})
	r.Register(check.Check{Name: "kafka_broker_topology", Section: "Topology", Weight: 6, Run: brokerTopologyCheck})
	r.Register(check.Check{Name: "kafka_file_descriptors", Section: "Resources", Weight: 5, Run: fileDescriptorCheck})
	r.Register(check.Check{Name: "kafka_managed_cluster_status", Section: "Topology", Weight: 3, Run: managedClusterStatusCheck})
	return r
}

// Extractors maps this plugin's check-specific finding fields onto
// trend metrics, appended to the common table at write time.
func Extractors() []trendstore.MetricExtractor {
	return []trendstore.MetricExtractor{
		trendstore.NamedFieldExtractor(map[string]trendstore.MetricField{
			"total_urp":       {MetricName: "total_urp", Unit: "count", Category: "availability"},
			"fd_used_percent": {MetricName: "fd_used_percent", Unit: "percent", Category: "resource"},
			"broker_count":    {MetricName: "broker_count", Unit: "count", Category: "topology"},
		}),
	}
}

// underReplicatedPartitionsCheck collects the URP metric through the
// adaptive strategy chain: CloudWatch first when an AWS probe exists,
// then managed-service Prometheus, then a local exporter scrape over SSH,
// then describe_topics over the admin channel as the always-available
// fallback.
func underReplicatedPartitionsCheck(ctx context.Context, conn connector.Connector, settings map[string]any, _ accumulator.View) (check.Fragment, model.Finding, error) {
	kc, ok := conn.(*Connector)
	if !ok {
		return "", model.Finding{}, fmt.Errorf("kafka_under_replicated_partitions: unexpected connector type")
	}

	def := model.MetricDefinition{
		LogicalName: "kafka_under_replicated_partitions",
		Aggregation: model.AggSum,
		Strategies:  kc.urpStrategyChain(),
	}

	collector := metrics.New(kc.log, kc.urpStrategies()...)
	sample, err := collector.Collect(ctx, def)
	if err != nil {
		return "", model.Finding{}, fmt.Errorf("kafka_under_replicated_partitions: %w", err)
	}
	if sample == nil {
		return "", model.Finding{
			Status: model.StatusUnavailable,
			Reason: "no collection strategy produced data",
		}, nil
	}

	warning := threshold(settings, "kafka_urp_warning", 0)
	critical := threshold(settings, "kafka_urp_critical", 10)

	nodesWithURP := 0
	for _, v := range sample.NodeMetrics {
		if v > 0 {
			nodesWithURP++
		}
	}

	status, severity := model.StatusSuccess, 0
	switch {
	case sample.ClusterTotal >= critical:
		status, severity = model.StatusCritical, 9
	case sample.ClusterTotal > warning:
		status, severity = model.StatusWarning, 7
	}

	fragment := check.Fragment(fmtr.DictTable(map[string]any{
		"total_urp":       sample.ClusterTotal,
		"nodes_with_urp":  nodesWithURP,
		"collection_method": string(sample.Method),
	}, "metric", "value"))

	return fragment, model.Finding{
		Status:   status,
		Severity: severity,
		Message:  fmt.Sprintf("%.0f under-replicated partition(s) across %d broker(s)", sample.ClusterTotal, nodesWithURP),
		Data: map[string]any{
			"total_urp":       sample.ClusterTotal,
			"nodes_with_urp":  nodesWithURP,
			"under_replicated_count": sample.ClusterTotal,
		},
		Metadata: model.FindingMetadata{
			CollectionMethod: string(sample.Method),
			TimestampUTC:     time.Now().UTC(),
			NodeCount:        len(sample.NodeMetrics),
		},
	}, nil
}

// urpStrategyChain declares the ordered strategy list for the URP
// metric; only entries whose backing strategy is actually registered
// (urpStrategies) will ever be tried.
func (c *Connector) urpStrategyChain() []model.StrategyEntry {
	var chain []model.StrategyEntry
	if c.awsProbe != nil {
		chain = append(chain, model.StrategyEntry{Kind: model.StrategyCloudMetrics, Params: map[string]string{
			"namespace": "AWS/Kafka", "metric_name": "UnderReplicatedPartitions",
			"dimension_name": "Cluster Name", "dimension_value": c.target.AWS.ResourceID,
		}})
	}
	if c.target.ManagedService.PrometheusConfigured() {
		chain = append(chain, model.StrategyEntry{Kind: model.StrategyManagedPrometheus, Params: map[string]string{"query": "kafka_server_replicamanager_underreplicatedpartitions"}})
	}
	if c.ssh != nil {
		chain = append(chain, model.StrategyEntry{Kind: model.StrategyLocalExporter, Params: map[string]string{"exporter_port": "9308", "metric_name": "kafka_server_replicamanager_underreplicatedpartitions"}})
	}
	chain = append(chain, model.StrategyEntry{Kind: model.StrategyNativeQuery, Params: map[string]string{}})
	return chain
}

func (c *Connector) urpStrategies() []metrics.Strategy {
	var out []metrics.Strategy
	if c.awsProbe != nil {
		out = append(out, metrics.NewCloudMetricsStrategy(c.cloudMetricsURP))
	}
	if c.target.ManagedService.PrometheusConfigured() {
		if s, err := metrics.NewManagedPrometheusStrategy(c.target.ManagedService.PrometheusURL); err == nil {
			out = append(out, s)
		} else {
			c.log.WithError(err).Warn("kafka: managed prometheus strategy unavailable")
		}
	}
	if c.ssh != nil {
		out = append(out, metrics.NewLocalExporterStrategy(c.ssh))
	}
	out = append(out, metrics.NewNativeQueryStrategy(c.urpFromAdminAPI))
	return out
}

// cloudMetricsURP reads CloudWatch's own UnderReplicatedPartitions
// metric for a managed (MSK) cluster, the highest-trust URP source
// since it needs no SSH access to the brokers.
func (c *Connector) cloudMetricsURP(ctx context.Context, params map[string]string) (map[string]float64, error) {
	avg, err := c.awsProbe.GetMetricAverage(ctx, params["namespace"], params["metric_name"], params["dimension_name"], params["dimension_value"], 5*time.Minute)
	if err != nil {
		return nil, err
	}
	return map[string]float64{"cluster": avg}, nil
}

// managedClusterStatusCheck reports the Instaclustr control plane's own
// view of cluster health, skipping cleanly when no managed-service
// credentials are configured.
func managedClusterStatusCheck(ctx context.Context, conn connector.Connector, settings map[string]any, _ accumulator.View) (check.Fragment, model.Finding, error) {
	kc, ok := conn.(*Connector)
	if !ok {
		return "", model.Finding{}, fmt.Errorf("kafka_managed_cluster_status: unexpected connector type")
	}
	if kc.instaclustrProbe == nil {
		return "", model.Finding{
			Status:           model.StatusSkipped,
			Reason:           "no managed-service credentials configured",
			RequiredSettings: []string{"managed_service_api_key", "managed_service_cluster_id"},
		}, nil
	}

	details, err := kc.instaclustrProbe.GetClusterDetails(ctx)
	if err != nil {
		return "", model.Finding{Status: model.StatusError, Message: "instaclustr cluster lookup failed", ErrorMessage: err.Error()}, nil
	}

	fragment := check.Fragment(fmtr.DictTable(map[string]any{
		"cluster_status": details.Status,
		"node_count":     details.NodeCount,
		"data_centres":   details.DataCentres,
	}, "field", "value"))

	status, severity := model.StatusSuccess, 0
	if !strings.EqualFold(details.Status, "running") {
		status, severity = model.StatusWarning, 5
	}

	return fragment, model.Finding{
		Status:   status,
		Severity: severity,
		Message:  fmt.Sprintf("instaclustr reports cluster %q status %q across %d node(s)", details.Name, details.Status, details.NodeCount),
		Data:     map[string]any{"cluster_status": details.Status, "node_count": details.NodeCount},
		Metadata: nowMetadata(model.StrategyCloudMetrics, 1),
	}, nil
}

// urpFromAdminAPI is the native-query fallback: it sums under-replicated
// partitions across every topic using the metadata already returned by
// describeTopics, always available since it needs no external agent.
func (c *Connector) urpFromAdminAPI(ctx context.Context, params map[string]string) (map[string]float64, error) {
	result, err := c.describeTopics(ctx, nil)
	if err != nil {
		return nil, err
	}
	if result.Err != nil {
		return nil, fmt.Errorf("%s", result.Err.Message)
	}

	values := map[string]float64{"cluster": 0}
	for _, row := range result.Rows {
		if urp, ok := row.Values["under_replicated"].(bool); ok && urp {
			values["cluster"]++
		}
	}
	return values, nil
}

// brokerMemoryCheck fans `free -m` out across every broker's SSH host
// and classifies each broker's memory usage. Brokers whose probe failed
// are reported individually; partial fan-out failure degrades the
// finding to a warning naming the unreachable brokers rather than
// discarding the reachable ones.
func brokerMemoryCheck(ctx context.Context, conn connector.Connector, settings map[string]any, _ accumulator.View) (check.Fragment, model.Finding, error) {
	if !conn.Capabilities().HasSSHSupport {
		return "", model.Finding{
			Status:           model.StatusSkipped,
			Reason:           "SSH not configured",
			RequiredSettings: []string{"ssh_hosts", "ssh_user"},
		}, nil
	}

	results, err := conn.ExecuteOperationAllNodes(ctx, model.Operation{Kind: model.OperationShell, Command: "free -m"})
	if err != nil {
		return "", model.Finding{}, fmt.Errorf("kafka_broker_memory: %w", err)
	}

	warning := threshold(settings, "kafka_memory_warning", 80)
	critical := threshold(settings, "kafka_memory_critical", 90)

	parser := shellexec.FreeParser{}
	rows := make([]map[string]any, 0, len(results))
	var failedNodes []string
	var maxUsedPercent float64
	for nodeID, res := range results {
		if res.Err != nil {
			failedNodes = append(failedNodes, nodeID)
			rows = append(rows, map[string]any{"broker": nodeID, "error": res.Err.Message})
			continue
		}
		parsed, perr := parser.Parse("free -m", res.Rendered)
		if perr != nil {
			failedNodes = append(failedNodes, nodeID)
			rows = append(rows, map[string]any{"broker": nodeID, "error": perr.Error()})
			continue
		}
		total := asFloat(parsed.Attrs["mem_total_bytes"])
		used := asFloat(parsed.Attrs["mem_used_bytes"])
		usedPercent := 0.0
		if total > 0 {
			usedPercent = used / total * 100
		}
		if usedPercent > maxUsedPercent {
			maxUsedPercent = usedPercent
		}
		rows = append(rows, map[string]any{"broker": nodeID, "mem_used_percent": usedPercent})
	}
	fragment := check.Fragment(fmtr.Table(rows))

	status, severity := model.StatusSuccess, 0
	switch {
	case maxUsedPercent >= critical:
		status, severity = model.StatusCritical, 8
	case maxUsedPercent >= warning || len(failedNodes) > 0:
		status, severity = model.StatusWarning, 4
	}

	msg := fmt.Sprintf("max memory usage %.1f%% across %d broker(s)", maxUsedPercent, len(results))
	if len(failedNodes) > 0 {
		msg += fmt.Sprintf("; probe failed on: %s", strings.Join(failedNodes, ", "))
	}

	return fragment, model.Finding{
		Status:   status,
		Severity: severity,
		Message:  msg,
		Data: map[string]any{
			"memory_used_percent": maxUsedPercent,
			"broker_count":        len(results),
			"failed_brokers":      failedNodes,
		},
		Metadata: nowMetadata(model.StrategyShellProbe, len(results)),
	}, nil
}

// fileDescriptorCheck reads /proc/sys/fs/file-nr on every broker host:
// allocated and maximum system-wide descriptors, the early-warning
// signal for Kafka's notoriously large fd appetite.
func fileDescriptorCheck(ctx context.Context, conn connector.Connector, settings map[string]any, _ accumulator.View) (check.Fragment, model.Finding, error) {
	if !conn.Capabilities().HasSSHSupport {
		return "", model.Finding{
			Status:           model.StatusSkipped,
			Reason:           "SSH not configured",
			RequiredSettings: []string{"ssh_hosts", "ssh_user"},
		}, nil
	}

	results, err := conn.ExecuteOperationAllNodes(ctx, model.Operation{Kind: model.OperationShell, Command: "cat /proc/sys/fs/file-nr"})
	if err != nil {
		return "", model.Finding{}, fmt.Errorf("kafka_file_descriptors: %w", err)
	}

	warning := threshold(settings, "kafka_fd_warning", 70)
	critical := threshold(settings, "kafka_fd_critical", 85)

	rows := make([]map[string]any, 0, len(results))
	var failedNodes []string
	var maxUsedPercent float64
	for nodeID, res := range results {
		if res.Err != nil {
			failedNodes = append(failedNodes, nodeID)
			rows = append(rows, map[string]any{"broker": nodeID, "error": res.Err.Message})
			continue
		}
		allocated, limit, ok := parseFileNr(res.Rendered)
		if !ok {
			failedNodes = append(failedNodes, nodeID)
			rows = append(rows, map[string]any{"broker": nodeID, "error": "unparseable file-nr output"})
			continue
		}
		usedPercent := 0.0
		if limit > 0 {
			usedPercent = allocated / limit * 100
		}
		if usedPercent > maxUsedPercent {
			maxUsedPercent = usedPercent
		}
		rows = append(rows, map[string]any{"broker": nodeID, "fd_allocated": allocated, "fd_limit": limit, "fd_used_percent": usedPercent})
	}
	fragment := check.Fragment(fmtr.Table(rows))

	status, severity := model.StatusSuccess, 0
	switch {
	case maxUsedPercent >= critical:
		status, severity = model.StatusCritical, 8
	case maxUsedPercent >= warning || len(failedNodes) > 0:
		status, severity = model.StatusWarning, 4
	}

	msg := fmt.Sprintf("max fd usage %.1f%% across %d broker(s)", maxUsedPercent, len(results))
	if len(failedNodes) > 0 {
		msg += fmt.Sprintf("; probe failed on: %s", strings.Join(failedNodes, ", "))
	}

	return fragment, model.Finding{
		Status:   status,
		Severity: severity,
		Message:  msg,
		Data: map[string]any{
			"fd_used_percent": maxUsedPercent,
			"broker_count":    len(results),
			"failed_brokers":  failedNodes,
		},
		Metadata: nowMetadata(model.StrategyShellProbe, len(results)),
	}, nil
}

// parseFileNr parses /proc/sys/fs/file-nr's "allocated unused max" line.
func parseFileNr(output string) (allocated, limit float64, ok bool) {
	fields := strings.Fields(strings.TrimSpace(output))
	if len(fields) < 3 {
		return 0, 0, false
	}
	a, err1 := strconv.ParseFloat(fields[0], 64)
	m, err2 := strconv.ParseFloat(fields[2], 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return a, m, true
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

// brokerTopologyCheck reports cluster membership and controller role, a
// low-weight informational check.
func brokerTopologyCheck(ctx context.Context, conn connector.Connector, settings map[string]any, _ accumulator.View) (check.Fragment, model.Finding, error) {
	kc, ok := conn.(*Connector)
	if !ok {
		return "", model.Finding{}, fmt.Errorf("kafka_broker_topology: unexpected connector type")
	}

	rows := make([]map[string]any, 0, len(kc.topo.Nodes))
	for _, n := range kc.topo.Instances() {
		rows = append(rows, map[string]any{"broker_id": n.ID, "host": n.Host, "role": string(n.Role), "rack": n.Metadata["rack"]})
	}
	fragment := check.Fragment(fmtr.Table(rows))

	return fragment, model.Finding{
		Status:   model.StatusSuccess,
		Severity: 0,
		Message:  fmt.Sprintf("%d broker(s) in cluster, kraft=%v", len(rows), kc.Capabilities().IsKRaft),
		Data:     map[string]any{"broker_count": len(rows), "is_kraft": kc.Capabilities().IsKRaft},
		Metadata: nowMetadata(model.StrategyNativeQuery, len(rows)),
	}, nil
}
