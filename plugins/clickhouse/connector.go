// Package clickhouse implements the ClickHouse connector and checks.
// The native channel is ClickHouse's own HTTP interface, a
// TSV-over-POST protocol the server exposes on its default HTTP port;
// no separate driver is required for the statement-per-request access
// pattern the checks use.
package clickhouse

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/evalgo/dbhealth/internal/config"
	"github.com/evalgo/dbhealth/internal/connector"
	"github.com/evalgo/dbhealth/internal/model"
	"github.com/evalgo/dbhealth/internal/obs"
	"github.com/evalgo/dbhealth/internal/shellexec"
	"github.com/evalgo/dbhealth/internal/sshpool"
	"github.com/evalgo/dbhealth/internal/topology"
)

// Connector is the ClickHouse implementation of connector.Connector.
type Connector struct {
	connector.BaseConnector

	target *config.Target
	log    *obs.ContextLogger

	httpClient *http.Client
	baseURL    string
	ssh        *sshpool.Pool
	exec       *shellexec.Executor

	topo      model.Topology
	sshToNode map[string]string
}

// New builds a disconnected ClickHouse connector.
func New(target *config.Target, log *obs.ContextLogger) *Connector {
	return &Connector{
		BaseConnector: connector.NewBase("clickhouse"),
		target:        target,
		log:           log,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		exec:          shellexec.New(),
	}
}

// Connect verifies the HTTP interface is reachable with a trivial
// "SELECT 1", then discovers cluster topology via system.clusters.
func (c *Connector) Connect(ctx context.Context) error {
	c.TransitionConnecting()

	c.baseURL = fmt.Sprintf("http://%s:%d", c.target.Host, c.target.Port)

	if _, err := c.query(ctx, "SELECT 1"); err != nil {
		return &connector.ConnectionError{Technology: "clickhouse", Err: err}
	}

	c.topo = c.discoverTopology(ctx)

	caps := connector.Capabilities{}

	if c.target.SSH.Configured() {
		c.ssh = sshpool.New(c.target.SSH, c.log)
		connected := c.ssh.ConnectAll(ctx)
		if len(connected) > 0 {
			caps.HasSSHSupport = true
			mapped, unmapped := topology.MapSSHHosts(c.target.SSH.Hosts, c.topo, nil)
			c.sshToNode = mapped
			if len(unmapped) > 0 {
				c.log.WithField("unmapped_hosts", unmapped).Warn("clickhouse: ssh hosts could not be mapped to a node")
			}
		}
	}

	if c.target.AWS.Configured() || c.target.ManagedService.Configured() {
		caps.HasCloudMetrics = true
	}

	c.SetCapabilities(caps)
	c.TransitionConnected()
	return nil
}

// Disconnect closes SSH sessions; the HTTP client holds no persistent
// connection state that needs releasing.
func (c *Connector) Disconnect(ctx context.Context) error {
	c.TransitionDisconnecting()
	if c.ssh != nil {
		c.ssh.CloseAll()
		c.ssh = nil
	}
	c.TransitionDisconnected()
	return nil
}

// ExecuteOperation dispatches native SQL-over-HTTP and shell operations;
// admin/nodetool kinds are not_applicable here.
func (c *Connector) ExecuteOperation(ctx context.Context, op model.Operation) (model.Result, error) {
	if err := c.RequireConnected(); err != nil {
		return model.Result{}, err
	}

	switch op.Kind {
	case model.OperationNative:
		return c.runNativeQuery(ctx, op)
	case model.OperationShell:
		if c.ssh == nil {
			return connector.NotApplicableResult("ssh not configured"), nil
		}
		return c.runShell(ctx, op, c.primaryHost())
	default:
		return connector.NotApplicableResult(fmt.Sprintf("operation kind %s unsupported for clickhouse", op.Kind)), nil
	}
}

// ExecuteOperationAllNodes fans a shell operation out to every SSH host
// mapped to a node; native queries use distributed table engines instead
// of a per-node fan-out.
func (c *Connector) ExecuteOperationAllNodes(ctx context.Context, op model.Operation) (map[string]model.Result, error) {
	if err := c.RequireConnected(); err != nil {
		return nil, err
	}
	if op.Kind != model.OperationShell || c.ssh == nil {
		return nil, nil
	}
	if err := c.exec.Sanitize(op.Command); err != nil {
		return nil, err
	}

	results := c.ssh.ExecuteAll(ctx, op.Command, c.sshToNode)
	out := make(map[string]model.Result, len(results))
	for _, r := range results {
		nodeID := r.NodeID
		if nodeID == "" {
			nodeID = r.Host
		}
		if !r.Success {
			out[nodeID] = model.Result{Err: &model.OperationError{Message: r.Error}}
			continue
		}
		out[nodeID] = model.Result{Rendered: r.Stdout, Rows: []model.Row{{Columns: []string{"output"}, Values: map[string]any{"output": r.Stdout}}}}
	}
	return out, nil
}

func (c *Connector) runNativeQuery(ctx context.Context, op model.Operation) (model.Result, error) {
	rows, columns, err := c.queryTSVWithNames(ctx, op.Command)
	if err != nil {
		return model.Result{Err: &model.OperationError{Message: err.Error()}}, nil
	}

	out := make([]model.Row, 0, len(rows))
	for _, r := range rows {
		values := make(map[string]any, len(columns))
		for i, col := range columns {
			if i < len(r) {
				values[col] = coerce(r[i])
			}
		}
		out = append(out, model.Row{Columns: columns, Values: values})
	}
	return model.Result{Rows: out}, nil
}

// runShell routes the command through the shell executor so the
// safelist and metacharacter rejection apply before anything reaches a
// host.
func (c *Connector) runShell(ctx context.Context, op model.Operation, host string) (model.Result, error) {
	parsed, stdout, _, err := c.exec.Run(host, "shell", op.Command, c.hostRunner(ctx))
	if err != nil {
		return model.Result{Err: &model.OperationError{Message: err.Error()}}, nil
	}
	return model.Result{Rendered: stdout, Rows: connector.RowsFromMaps(parsed.RowMaps())}, nil
}

func (c *Connector) hostRunner(ctx context.Context) shellexec.HostExecutor {
	return shellexec.HostExecutorFunc(func(host, command string) (string, int, error) {
		stdout, _, code, err := c.ssh.Execute(ctx, host, command, 0)
		return stdout, code, err
	})
}

func (c *Connector) primaryHost() string {
	if len(c.target.SSH.Hosts) > 0 {
		return c.target.SSH.Hosts[0]
	}
	return c.target.Host
}

// query issues a statement and returns raw TSV body text, used for the
// connect-time liveness probe where no structured result is needed.
func (c *Connector) query(ctx context.Context, sql string) (string, error) {
	body, err := c.post(ctx, sql)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// queryTSVWithNames issues `<sql> FORMAT TabSeparatedWithNames` and
// parses the tab-separated response into rows plus the header's column
// names, ClickHouse's simplest self-describing HTTP output format.
func (c *Connector) queryTSVWithNames(ctx context.Context, sql string) ([][]string, []string, error) {
	body, err := c.post(ctx, sql+" FORMAT TabSeparatedWithNames")
	if err != nil {
		return nil, nil, err
	}

	scanner := bufio.NewScanner(strings.NewReader(string(body)))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var columns []string
	var rows [][]string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if columns == nil {
			columns = fields
			continue
		}
		rows = append(rows, fields)
	}
	return rows, columns, scanner.Err()
}

func (c *Connector) post(ctx context.Context, sql string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(sql))
	if err != nil {
		return nil, err
	}
	if c.target.User != "" {
		q := url.Values{"user": {c.target.User}, "password": {c.target.Password}}
		req.URL.RawQuery = q.Encode()
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("clickhouse: http %d: %s", resp.StatusCode, strings.TrimSpace(string(out)))
	}
	return out, nil
}

// discoverTopology queries system.clusters for distributed-engine
// deployments; a standalone server returns no rows and is recorded as a
// single writer node.
func (c *Connector) discoverTopology(ctx context.Context) model.Topology {
	rows, columns, err := c.queryTSVWithNames(ctx, "SELECT cluster, host_name, host_address, is_local FROM system.clusters")
	if err != nil {
		c.log.WithError(err).Debug("clickhouse: system.clusters query failed")
		return model.Topology{Nodes: []model.Node{{ID: "self", Host: c.target.Host, Role: model.RoleWriter, EndpointType: model.EndpointInstance, State: model.StateActive}}}
	}
	if len(rows) == 0 {
		return model.Topology{Nodes: []model.Node{{ID: "self", Host: c.target.Host, Role: model.RoleWriter, EndpointType: model.EndpointInstance, State: model.StateActive}}}
	}

	idx := columnIndex(columns)
	seen := map[string]bool{}
	var nodes []model.Node
	for _, r := range rows {
		host := field(r, idx, "host_address")
		if host == "" || seen[host] {
			continue
		}
		seen[host] = true
		nodes = append(nodes, model.Node{
			ID:           host,
			Host:         host,
			Role:         model.RoleUnknown,
			EndpointType: model.EndpointInstance,
			State:        model.StateActive,
			Metadata:     map[string]string{"cluster": field(r, idx, "cluster")},
		})
	}
	return model.Topology{Nodes: nodes}
}

func columnIndex(columns []string) map[string]int {
	idx := make(map[string]int, len(columns))
	for i, c := range columns {
		idx[c] = i
	}
	return idx
}

func field(row []string, idx map[string]int, name string) string {
	i, ok := idx[name]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

// coerce converts a TSV cell to a float64 when it parses as one,
// otherwise leaves it as a string; ClickHouse's TSV format carries no
// type metadata beyond the column header.
func coerce(s string) any {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
