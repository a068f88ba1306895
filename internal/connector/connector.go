// Package connector defines the per-technology adapter contract: the
// single channel through which checks reach a database's native
// protocol, admin API, SSH shell, or HTTP management endpoint, hiding
// backend heterogeneity behind one operation dispatch.
package connector

import (
	"context"
	"fmt"
	"sync"

	"github.com/evalgo/dbhealth/internal/model"
)

// State is the connection lifecycle. Reconnection is never automatic:
// a lost primary connection moves a connector to StateDisconnected and
// the orchestrator treats the run as fatally aborted.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateDisconnecting State = "disconnecting"
)

// ConnectionError reports that the native channel could not be reached
// during connect(), or was lost mid-run.
type ConnectionError struct {
	Technology string
	Err        error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connector(%s): connection error: %v", e.Technology, e.Err)
}
func (e *ConnectionError) Unwrap() error { return e.Err }

// Capabilities are the feature flags a connector detects during connect
// and that checks may branch on instead of probing directly.
type Capabilities struct {
	HasPgStat       bool // PostgreSQL: pg_stat_statements installed
	HasIOTiming     bool // PostgreSQL: track_io_timing enabled
	IsKRaft         bool // Kafka: KRaft vs ZooKeeper controller mode
	HasSSHSupport   bool // auxiliary SSH channel opened successfully
	HasCloudMetrics bool // a cloud probe (CloudWatch/Azure Monitor) is configured
	HasCVEFeed      bool // a CVE/CPE vulnerability feed is configured
	NativeLimited   bool // native query channel is unsupported; shell/nodetool only
}

// Connector is the uniform per-technology contract every plugin
// implements. Single-op failures are always returned as *model.Result
// with Err populated, never as a Go error from ExecuteOperation; only
// engine-level faults (a dead primary connection, a context cancellation)
// surface as a returned error.
type Connector interface {
	// Connect establishes the native connection, discovers version and
	// topology hints, opens auxiliary channels, and detects capabilities.
	// It returns *ConnectionError if the native channel is unreachable;
	// auxiliary-channel failures are logged internally, not returned.
	Connect(ctx context.Context) error

	// Disconnect releases the native connection, SSH sessions, and cloud
	// clients, in that order. It is idempotent.
	Disconnect(ctx context.Context) error

	// ExecuteOperation dispatches a single operation and never raises for
	// data-quality or remote-command failures; it returns a non-nil error
	// only when the connector itself is not in StateConnected.
	ExecuteOperation(ctx context.Context, op model.Operation) (model.Result, error)

	// ExecuteOperationAllNodes fans an operation out across every known
	// instance node, keyed by node ID, preserving per-node result
	// semantics identically to ExecuteOperation. A command rejected by
	// the shell-executor safelist is returned as an error before any
	// host is contacted.
	ExecuteOperationAllNodes(ctx context.Context, op model.Operation) (map[string]model.Result, error)

	// Capabilities returns the flags detected during Connect. Calling it
	// before Connect returns the zero value.
	Capabilities() Capabilities

	// State reports the current connection lifecycle state.
	State() State

	// Technology names the plugin for logging and trend-store tagging.
	Technology() string
}

// BaseConnector centralizes the state machine and capability storage so
// each plugin only has to implement the technology-specific dispatch.
// Plugins embed BaseConnector and call its transition helpers from their
// own Connect/Disconnect.
type BaseConnector struct {
	mu    sync.RWMutex
	state State
	caps  Capabilities
	tech  string
}

// NewBase constructs a BaseConnector in StateDisconnected.
func NewBase(technology string) BaseConnector {
	return BaseConnector{state: StateDisconnected, tech: technology}
}

func (b *BaseConnector) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *BaseConnector) Technology() string { return b.tech }

func (b *BaseConnector) Capabilities() Capabilities {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.caps
}

// SetCapabilities stores the capability flags detected during connect.
func (b *BaseConnector) SetCapabilities(c Capabilities) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.caps = c
}

// TransitionConnecting moves StateDisconnected -> StateConnecting.
func (b *BaseConnector) TransitionConnecting() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateConnecting
}

// TransitionConnected moves StateConnecting -> StateConnected.
func (b *BaseConnector) TransitionConnected() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateConnected
}

// TransitionDisconnecting moves StateConnected -> StateDisconnecting.
func (b *BaseConnector) TransitionDisconnecting() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateDisconnecting
}

// TransitionDisconnected moves any state -> StateDisconnected. Lost
// primary connections call this directly to mark the run as fatally
// degraded without going through TransitionDisconnecting.
func (b *BaseConnector) TransitionDisconnected() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateDisconnected
}

// RequireConnected returns *ConnectionError unless the connector is
// currently StateConnected; every ExecuteOperation implementation should
// call this first.
func (b *BaseConnector) RequireConnected() error {
	if b.State() != StateConnected {
		return &ConnectionError{Technology: b.tech, Err: fmt.Errorf("not connected (state=%s)", b.State())}
	}
	return nil
}

// RowsFromMaps converts generic row maps (parsed shell/nodetool output)
// into model rows, using each map's keys as its column set.
func RowsFromMaps(maps []map[string]any) []model.Row {
	out := make([]model.Row, 0, len(maps))
	for _, m := range maps {
		cols := make([]string, 0, len(m))
		for k := range m {
			cols = append(cols, k)
		}
		out = append(out, model.Row{Columns: cols, Values: m})
	}
	return out
}

// NotApplicableResult builds the standard "this capability is
// unsupported for this connector" operation result, used by Cassandra
// and ClickHouse for operation kinds with no native driver.
func NotApplicableResult(reason string) model.Result {
	return model.Result{
		Err: &model.OperationError{
			Message: "not_applicable: " + reason,
			Context: map[string]any{"reason": reason},
		},
	}
}
