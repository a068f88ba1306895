package metrics

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	promapi "github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	prommodel "github.com/prometheus/common/model"

	dbhmodel "github.com/evalgo/dbhealth/internal/model"
	"github.com/evalgo/dbhealth/internal/sshpool"
)

// ManagedPrometheusStrategy queries a managed-service Prometheus
// endpoint over HTTP, the highest-trust strategy when the cluster is
// managed and credentials are present.
type ManagedPrometheusStrategy struct {
	client promv1.API
}

// NewManagedPrometheusStrategy builds a strategy against a given
// Prometheus-compatible HTTP endpoint.
func NewManagedPrometheusStrategy(endpointURL string) (*ManagedPrometheusStrategy, error) {
	client, err := promapi.NewClient(promapi.Config{Address: endpointURL})
	if err != nil {
		return nil, fmt.Errorf("metrics: building prometheus client: %w", err)
	}
	return &ManagedPrometheusStrategy{client: promv1.NewAPI(client)}, nil
}

func (s *ManagedPrometheusStrategy) Kind() dbhmodel.StrategyKind { return dbhmodel.StrategyManagedPrometheus }

// Collect runs params["query"] as an instant vector query and maps each
// result series' "instance" (or "node_id") label to its value.
func (s *ManagedPrometheusStrategy) Collect(ctx context.Context, params map[string]string) (map[string]float64, error) {
	query, ok := params["query"]
	if !ok || query == "" {
		return nil, fmt.Errorf("metrics: managed_prometheus strategy requires a query param")
	}

	result, warnings, err := s.client.Query(ctx, query, time.Now())
	if err != nil {
		return nil, fmt.Errorf("metrics: prometheus query failed: %w", err)
	}
	_ = warnings

	vector, ok := result.(prommodel.Vector)
	if !ok {
		return nil, fmt.Errorf("metrics: prometheus query did not return a vector")
	}

	values := make(map[string]float64, len(vector))
	for _, sample := range vector {
		key := string(sample.Metric["node_id"])
		if key == "" {
			key = string(sample.Metric["instance"])
		}
		if key == "" {
			key = "cluster"
		}
		values[key] = float64(sample.Value)
	}
	return values, nil
}

// CloudMetricsFunc fetches one logical metric from a cloud provider's
// monitoring API (CloudWatch, Azure Monitor). Providers report a single
// resource-level reading rather than a per-node breakdown, so the
// returned map typically carries one "cluster" entry.
type CloudMetricsFunc func(ctx context.Context, params map[string]string) (map[string]float64, error)

// CloudMetricsStrategy wraps a plugin-supplied cloud-provider metric
// call, the highest-trust strategy for a managed deployment since it
// needs no SSH access and reflects the provider's own view of the
// instance.
type CloudMetricsStrategy struct {
	fn CloudMetricsFunc
}

// NewCloudMetricsStrategy builds a strategy around a plugin's cloud
// probe call.
func NewCloudMetricsStrategy(fn CloudMetricsFunc) *CloudMetricsStrategy {
	return &CloudMetricsStrategy{fn: fn}
}

func (s *CloudMetricsStrategy) Kind() dbhmodel.StrategyKind { return dbhmodel.StrategyCloudMetrics }

func (s *CloudMetricsStrategy) Collect(ctx context.Context, params map[string]string) (map[string]float64, error) {
	return s.fn(ctx, params)
}

// LocalExporterStrategy scrapes a local Prometheus exporter on each
// node over SSH via curl, the second-choice strategy when no managed
// endpoint is configured.
type LocalExporterStrategy struct {
	pool *sshpool.Pool
}

// NewLocalExporterStrategy builds a strategy that scrapes the given
// host's local exporter through the shared SSH pool.
func NewLocalExporterStrategy(pool *sshpool.Pool) *LocalExporterStrategy {
	return &LocalExporterStrategy{pool: pool}
}

func (s *LocalExporterStrategy) Kind() dbhmodel.StrategyKind { return dbhmodel.StrategyLocalExporter }

// Collect issues `curl -s http://127.0.0.1:<port>/metrics` on every
// connected host and extracts params["metric_name"] from the exposition
// text format.
func (s *LocalExporterStrategy) Collect(ctx context.Context, params map[string]string) (map[string]float64, error) {
	port := params["exporter_port"]
	metricName := params["metric_name"]
	if port == "" || metricName == "" {
		return nil, fmt.Errorf("metrics: local_exporter strategy requires exporter_port and metric_name")
	}

	command := fmt.Sprintf("curl -s http://127.0.0.1:%s/metrics", port)
	results := s.pool.ExecuteAll(ctx, command, nil)

	values := make(map[string]float64)
	for _, r := range results {
		if !r.Success {
			continue
		}
		if v, ok := extractExpositionValue(r.Stdout, metricName); ok {
			values[NodeKey(r.NodeID, r.Host)] = v
		}
	}
	return values, nil
}

func extractExpositionValue(text, metricName string) (float64, bool) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasPrefix(line, metricName) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		value, err := strconv.ParseFloat(fields[len(fields)-1], 64)
		if err != nil {
			continue
		}
		return value, true
	}
	return 0, false
}

// JMXOverSSHStrategy issues jmxterm-style probes over SSH against each
// node's JMX port, the third-choice strategy for JVM-hosted databases
// (Cassandra, Kafka).
type JMXOverSSHStrategy struct {
	pool *sshpool.Pool
}

// NewJMXOverSSHStrategy builds a strategy bound to the shared SSH pool.
func NewJMXOverSSHStrategy(pool *sshpool.Pool) *JMXOverSSHStrategy {
	return &JMXOverSSHStrategy{pool: pool}
}

func (s *JMXOverSSHStrategy) Kind() dbhmodel.StrategyKind { return dbhmodel.StrategyJMXOverSSH }

// Collect runs a `get -b <mbean> <attribute>` jmxterm probe on every
// connected host, echoing the probe into the jmxterm jar's stdin.
func (s *JMXOverSSHStrategy) Collect(ctx context.Context, params map[string]string) (map[string]float64, error) {
	mbean := params["mbean"]
	attribute := params["attribute"]
	jmxPort := params["jmx_port"]
	if mbean == "" || attribute == "" || jmxPort == "" {
		return nil, fmt.Errorf("metrics: jmx_ssh strategy requires mbean, attribute, jmx_port")
	}

	command := fmt.Sprintf(
		"echo 'get -b %s %s' | java -jar /opt/jmxterm.jar -l 127.0.0.1:%s -n",
		mbean, attribute, jmxPort,
	)
	results := s.pool.ExecuteAll(ctx, command, nil)

	values := make(map[string]float64)
	for _, r := range results {
		if !r.Success {
			continue
		}
		if v, ok := extractJMXTermValue(r.Stdout, attribute); ok {
			values[NodeKey(r.NodeID, r.Host)] = v
		}
	}
	return values, nil
}

func extractJMXTermValue(output, attribute string) (float64, bool) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, attribute) {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		// jmxterm terminates values with a semicolon
		raw := strings.TrimSuffix(strings.TrimSpace(parts[1]), ";")
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		return value, true
	}
	return 0, false
}

// ShellProbeStrategy derives a metric from OS tools (free/df/lsof/proc)
// over SSH, the fourth-choice strategy. ParseFunc extracts the metric
// value from one node's command output; callers supply one per metric
// since the command and extraction differ per OS tool.
type ShellProbeStrategy struct {
	pool    *sshpool.Pool
	command string
	parse   func(stdout string) (float64, bool)
}

// NewShellProbeStrategy builds a strategy that runs command on every
// connected host and extracts a value with parse.
func NewShellProbeStrategy(pool *sshpool.Pool, command string, parse func(stdout string) (float64, bool)) *ShellProbeStrategy {
	return &ShellProbeStrategy{pool: pool, command: command, parse: parse}
}

func (s *ShellProbeStrategy) Kind() dbhmodel.StrategyKind { return dbhmodel.StrategyShellProbe }

func (s *ShellProbeStrategy) Collect(ctx context.Context, params map[string]string) (map[string]float64, error) {
	results := s.pool.ExecuteAll(ctx, s.command, nil)

	values := make(map[string]float64)
	for _, r := range results {
		if !r.Success {
			continue
		}
		if v, ok := s.parse(r.Stdout); ok {
			values[NodeKey(r.NodeID, r.Host)] = v
		}
	}
	return values, nil
}

// NativeQueryFunc runs a metric query against a connector's primary
// channel, returning per-node values keyed the same way every other
// strategy keys them. Plugins supply a closure that calls their own
// connector's native/admin operation.
type NativeQueryFunc func(ctx context.Context, params map[string]string) (map[string]float64, error)

// NativeQueryStrategy is the lowest-priority, most-compatible strategy:
// a value derivable from the primary connection (e.g. a SQL catalog
// view), wrapped to satisfy the Strategy interface.
type NativeQueryStrategy struct {
	fn NativeQueryFunc
}

// NewNativeQueryStrategy wraps a plugin-supplied native query function.
func NewNativeQueryStrategy(fn NativeQueryFunc) *NativeQueryStrategy {
	return &NativeQueryStrategy{fn: fn}
}

func (s *NativeQueryStrategy) Kind() dbhmodel.StrategyKind { return dbhmodel.StrategyNativeQuery }

func (s *NativeQueryStrategy) Collect(ctx context.Context, params map[string]string) (map[string]float64, error) {
	return s.fn(ctx, params)
}
