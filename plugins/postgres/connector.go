// Package postgres implements the PostgreSQL connector and checks:
// native queries over pgx, streaming-replication topology discovery,
// and pg_stat_statements capability detection.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evalgo/dbhealth/internal/cloudprobe"
	"github.com/evalgo/dbhealth/internal/config"
	"github.com/evalgo/dbhealth/internal/connector"
	"github.com/evalgo/dbhealth/internal/cve"
	"github.com/evalgo/dbhealth/internal/model"
	"github.com/evalgo/dbhealth/internal/obs"
	"github.com/evalgo/dbhealth/internal/shellexec"
	"github.com/evalgo/dbhealth/internal/sshpool"
	"github.com/evalgo/dbhealth/internal/topology"
)

// Connector is the PostgreSQL implementation of connector.Connector.
type Connector struct {
	connector.BaseConnector

	target *config.Target
	log    *obs.ContextLogger

	pool *pgxpool.Pool
	ssh  *sshpool.Pool
	exec *shellexec.Executor

	awsProbe   *cloudprobe.AWSProbe
	azureProbe *cloudprobe.AzureProbe
	cveSource  cve.Source

	versionString string
	topo          model.Topology
	sshToNode     map[string]string
}

// New builds a disconnected PostgreSQL connector.
func New(target *config.Target, log *obs.ContextLogger) *Connector {
	return &Connector{
		BaseConnector: connector.NewBase("postgres"),
		target:        target,
		log:           log,
		exec:          shellexec.New(),
	}
}

// Connect opens the native pgx pool, detects capabilities, discovers
// streaming-replication topology, and opens the SSH pool if configured.
func (c *Connector) Connect(ctx context.Context) error {
	c.TransitionConnecting()

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s", c.target.User, c.target.Password, c.target.Host, c.target.Port, c.target.Database)
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return &connector.ConnectionError{Technology: "postgres", Err: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return &connector.ConnectionError{Technology: "postgres", Err: err}
	}
	c.pool = pool

	var version string
	if err := pool.QueryRow(ctx, "SHOW server_version").Scan(&version); err != nil {
		c.log.WithError(err).Warn("postgres: could not read server_version")
	}
	c.versionString = version

	hasPgStat := c.detectPgStatStatements(ctx)
	hasIOTiming := c.detectIOTiming(ctx)

	c.topo = c.discoverTopology(ctx)

	caps := connector.Capabilities{HasPgStat: hasPgStat, HasIOTiming: hasIOTiming}

	if c.target.SSH.Configured() {
		c.ssh = sshpool.New(c.target.SSH, c.log)
		connected := c.ssh.ConnectAll(ctx)
		if len(connected) > 0 {
			caps.HasSSHSupport = true
			mapped, unmapped := topology.MapSSHHosts(c.target.SSH.Hosts, c.topo, nil)
			c.sshToNode = mapped
			if len(unmapped) > 0 {
				c.log.WithField("unmapped_hosts", unmapped).Warn("postgres: ssh hosts could not be mapped to a node")
			}
		}
	}

	if c.target.AWS.Configured() {
		probe, err := cloudprobe.NewAWSProbe(ctx, c.target.AWS)
		if err != nil {
			c.log.WithError(err).Warn("postgres: cloudwatch probe unavailable")
		} else {
			c.awsProbe = probe
			caps.HasCloudMetrics = true
		}
	} else if c.target.Azure.Configured() {
		probe, err := cloudprobe.NewAzureProbe(c.target.Azure)
		if err != nil {
			c.log.WithError(err).Warn("postgres: azure monitor probe unavailable")
		} else {
			c.azureProbe = probe
			caps.HasCloudMetrics = true
		}
	}

	c.cveSource = cve.NoopSource{}
	if c.target.VulnerabilityScanEnabled {
		c.cveSource = cve.NewNVDSource(c.target.NVDAPIKey)
		caps.HasCVEFeed = true
	}

	c.SetCapabilities(caps)
	c.TransitionConnected()
	return nil
}

// Disconnect releases the native pool and SSH sessions, idempotently.
func (c *Connector) Disconnect(ctx context.Context) error {
	c.TransitionDisconnecting()
	if c.pool != nil {
		c.pool.Close()
		c.pool = nil
	}
	if c.ssh != nil {
		c.ssh.CloseAll()
		c.ssh = nil
	}
	c.TransitionDisconnected()
	return nil
}

// ExecuteOperation dispatches native/shell/nodetool-less operations for
// PostgreSQL; admin/http_api/nodetool kinds are not_applicable here.
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
		return connector.NotApplicableResult(fmt.Sprintf("operation kind %s unsupported for postgres", op.Kind)), nil
	}
}

// ExecuteOperationAllNodes fans a shell operation across every SSH host
// mapped to an instance node; native queries have no multi-node variant
// here and run only over the primary's pool.
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
	rows, err := c.pool.Query(ctx, op.Command)
	if err != nil {
		return model.Result{Err: &model.OperationError{Message: err.Error()}}, nil
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = string(fd.Name)
	}

	var out []model.Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return model.Result{Err: &model.OperationError{Message: err.Error()}}, nil
		}
		row := model.Row{Columns: columns, Values: make(map[string]any, len(columns))}
		for i, col := range columns {
			row.Values[col] = values[i]
		}
		out = append(out, row)
	}
	if rows.Err() != nil {
		return model.Result{Err: &model.OperationError{Message: rows.Err().Error()}}, nil
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

func (c *Connector) detectPgStatStatements(ctx context.Context) bool {
	var exists bool
	err := c.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'pg_stat_statements')").Scan(&exists)
	if err != nil {
		c.log.WithError(err).Debug("postgres: pg_stat_statements detection failed")
		return false
	}
	return exists
}

func (c *Connector) detectIOTiming(ctx context.Context) bool {
	var setting string
	err := c.pool.QueryRow(ctx, "SHOW track_io_timing").Scan(&setting)
	if err != nil {
		return false
	}
	return strings.EqualFold(setting, "on")
}

// discoverTopology queries pg_stat_replication on the primary: each row
// is a connected standby. The primary itself is recorded as the
// cluster's writer endpoint.
func (c *Connector) discoverTopology(ctx context.Context) model.Topology {
	nodes := []model.Node{
		{ID: "primary", Host: c.target.Host, Role: model.RoleWriter, EndpointType: model.EndpointInstance, State: model.StateActive},
	}

	rows, err := c.pool.Query(ctx, `
		SELECT client_addr, application_name, state,
		       COALESCE(EXTRACT(EPOCH FROM (now() - reply_time)), 0) AS lag_seconds
		FROM pg_stat_replication`)
	if err != nil {
		c.log.WithError(err).Debug("postgres: replication catalog query failed")
		return model.Topology{Nodes: nodes}
	}
	defer rows.Close()

	for rows.Next() {
		var clientAddr, appName, state *string
		var lagSeconds float64
		if err := rows.Scan(&clientAddr, &appName, &state, &lagSeconds); err != nil {
			continue
		}
		host := ""
		if clientAddr != nil {
			host = *clientAddr
		}
		nodeState := model.StateActive
		if state != nil && *state != "streaming" {
			nodeState = model.StateJoining
		}
		nodes = append(nodes, model.Node{
			ID:           "replica-" + host,
			Host:         host,
			Role:         model.RoleReader,
			EndpointType: model.EndpointInstance,
			State:        nodeState,
			Metadata:     map[string]string{"application_name": derefOr(appName, ""), "lag_seconds": fmt.Sprintf("%.3f", lagSeconds)},
		})
	}

	return model.Topology{Nodes: nodes}
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
