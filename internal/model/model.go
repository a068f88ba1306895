// Package model defines the data shapes shared across the health-check
// engine: operation envelopes, cluster topology, metric samples, and the
// finding/run records that make up the trend-store contract.
package model

import "time"

// OperationKind selects which channel a Connector routes an Operation
// through.
type OperationKind string

const (
	OperationNative         OperationKind = "native"
	OperationAdmin          OperationKind = "admin"
	OperationShell          OperationKind = "shell"
	OperationNodetool       OperationKind = "nodetool"
	OperationNodetoolAll    OperationKind = "nodetool_cluster"
	OperationHTTPAPI        OperationKind = "http_api"
)

// Operation is the ephemeral request a check hands to a Connector. It is
// owned by the caller for the duration of the call.
type Operation struct {
	Kind       OperationKind
	Command    string
	Params     map[string]any
	ReturnRaw  bool
}

// Row is one row of a tabular result; keys are column names, and insertion
// order is preserved by iterating Columns rather than ranging the map.
type Row struct {
	Columns []string
	Values  map[string]any
}

// OperationError is the structured error shape an Operation may complete
// with, in place of raising.
type OperationError struct {
	Message string
	Context map[string]any
}

func (e *OperationError) Error() string { return e.Message }

// Result is what execute_operation returns: exactly one of Rows or Err is
// populated.
type Result struct {
	Rendered string
	Rows     []Row
	Err      *OperationError
}

// NodeRole classifies a node's function within its cluster.
type NodeRole string

const (
	RoleWriter     NodeRole = "writer"
	RoleReader     NodeRole = "reader"
	RoleController NodeRole = "controller"
	RoleUnknown    NodeRole = "unknown"
)

// EndpointType distinguishes real per-instance nodes from virtual
// connection endpoints that never participate in per-node checks.
type EndpointType string

const (
	EndpointInstance EndpointType = "instance"
	EndpointCluster  EndpointType = "cluster"
	EndpointReaderLB EndpointType = "reader_lb"
)

// NodeState is the node's membership/availability state.
type NodeState string

const (
	StateActive  NodeState = "active"
	StateDown    NodeState = "down"
	StateJoining NodeState = "joining"
	StateLeaving NodeState = "leaving"
)

// Node is one member of a discovered cluster topology. ID is unique within
// a topology; virtual endpoints (cluster, reader_lb) carry an ID but are
// never the target of a per-node check.
type Node struct {
	ID           string
	Host         string
	Role         NodeRole
	EndpointType EndpointType
	State        NodeState
	Metadata     map[string]string
}

// IsInstance reports whether this node participates in per-instance checks.
func (n Node) IsInstance() bool { return n.EndpointType == EndpointInstance }

// Topology is the full discovered cluster membership.
type Topology struct {
	Nodes []Node
}

// Instances returns only the real, per-instance nodes (excludes virtual
// cluster/reader-LB endpoints).
func (t Topology) Instances() []Node {
	out := make([]Node, 0, len(t.Nodes))
	for _, n := range t.Nodes {
		if n.IsInstance() {
			out = append(out, n)
		}
	}
	return out
}

// ByID looks up a node by its stable identity.
func (t Topology) ByID(id string) (Node, bool) {
	for _, n := range t.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Aggregation selects how a cluster-level value is derived from per-node
// values.
type Aggregation string

const (
	AggSum     Aggregation = "sum"
	AggAvg     Aggregation = "avg"
	AggMax     Aggregation = "max"
	AggPerNode Aggregation = "per_node"
)

// StrategyKind names one way a metric can be collected.
type StrategyKind string

const (
	StrategyManagedPrometheus StrategyKind = "managed_prometheus"
	StrategyCloudMetrics      StrategyKind = "cloud_metrics"
	StrategyLocalExporter     StrategyKind = "local_exporter"
	StrategyJMXOverSSH        StrategyKind = "jmx_ssh"
	StrategyShellProbe        StrategyKind = "shell_probe"
	StrategyNativeQuery       StrategyKind = "native_query"
)

// StrategyEntry is one ordered entry in a MetricDefinition's strategy
// chain.
type StrategyEntry struct {
	Kind   StrategyKind
	Params map[string]string
}

// Thresholds bounds a metric's warning/critical severity classification.
type Thresholds struct {
	Warning  float64
	Critical float64
}

// MetricDefinition is the static, startup-loaded description of one
// logical metric and how to collect it.
type MetricDefinition struct {
	LogicalName string
	Strategies  []StrategyEntry
	Thresholds  Thresholds
	Aggregation Aggregation
}

// MetricSample is the normalized result of one collect() call. A nil
// *MetricSample (returned as (nil, ...) by callers) means no strategy
// produced data; a present sample with a zero ClusterTotal is a
// legitimate healthy reading.
type MetricSample struct {
	NodeMetrics  map[string]float64
	ClusterTotal float64
	ClusterAvg   float64
	Method       StrategyKind
	Metadata     map[string]any
}

// Status is a Finding's outcome classification.
type Status string

const (
	StatusSuccess       Status = "success"
	StatusWarning       Status = "warning"
	StatusCritical      Status = "critical"
	StatusError         Status = "error"
	StatusSkipped       Status = "skipped"
	StatusUnavailable   Status = "unavailable"
	StatusNotApplicable Status = "not_applicable"
)

// FindingMetadata carries collection provenance alongside a Finding.
type FindingMetadata struct {
	CollectionMethod string
	TimestampUTC     time.Time
	SourceVersions   map[string]string
	NodeCount        int
}

// Finding is one check's structured conclusion. Data is a rooted tree of
// scalars/sequences/string-keyed maps, serializable to JSON.
type Finding struct {
	Status       Status
	Severity     int
	Message      string
	Data         map[string]any
	Metadata     FindingMetadata
	ErrorMessage string
	Reason       string
	RequiredSettings []string
}

// Validate enforces the Finding Envelope invariants from the data model:
// error requires ErrorMessage, skipped requires Reason, and the
// success/warning/critical statuses require non-empty Data.
func (f Finding) Validate() error {
	switch f.Status {
	case StatusError:
		if f.ErrorMessage == "" {
			return errMissingField("error_message", f.Status)
		}
	case StatusSkipped:
		if f.Reason == "" {
			return errMissingField("reason", f.Status)
		}
	case StatusSuccess, StatusWarning, StatusCritical:
		if len(f.Data) == 0 {
			return errMissingField("data", f.Status)
		}
	}
	return nil
}

type fieldError struct {
	field  string
	status Status
}

func (e *fieldError) Error() string {
	return "finding with status " + string(e.status) + " requires non-empty " + e.field
}

func errMissingField(field string, status Status) error {
	return &fieldError{field: field, status: status}
}

// RunRecord is the persisted, immutable-after-completion summary of one
// engine execution.
type RunRecord struct {
	RunID            string
	Company          string
	DatabaseTarget   string
	HostTarget       string
	Timestamp        time.Time
	TargetVersion    string
	TotalChecks      int
	SuccessfulChecks int
	FailedChecks     int
	DurationSeconds  float64
	AIStatus         *string
	AIModel          *string
}
