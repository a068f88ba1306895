// Package cassandra implements the Cassandra connector and checks.
// This connector carries no CQL driver and is deliberately
// native-limited: the native operation kind always returns
// not_applicable, and every real check runs over nodetool via SSH
// (status, tpstats, compactionstats), the channel operators rely on
// for cluster-state inspection anyway.
package cassandra

import (
	"context"
	"fmt"
	"strconv"

	"github.com/evalgo/dbhealth/internal/config"
	"github.com/evalgo/dbhealth/internal/connector"
	"github.com/evalgo/dbhealth/internal/model"
	"github.com/evalgo/dbhealth/internal/obs"
	"github.com/evalgo/dbhealth/internal/shellexec"
	"github.com/evalgo/dbhealth/internal/sshpool"
	"github.com/evalgo/dbhealth/internal/topology"
)

// Connector is the Cassandra implementation of connector.Connector. It
// has no native query channel: the only way in is SSH plus nodetool, so
// Connect requires an SSH host and treats it as the primary channel
// whose loss aborts the run.
type Connector struct {
	connector.BaseConnector

	target *config.Target
	log    *obs.ContextLogger
	ssh    *sshpool.Pool
	exec   *shellexec.Executor

	topo      model.Topology
	sshToNode map[string]string
}

// New builds a disconnected Cassandra connector.
func New(target *config.Target, log *obs.ContextLogger) *Connector {
	return &Connector{BaseConnector: connector.NewBase("cassandra"), target: target, log: log, exec: shellexec.New()}
}

// Connect opens the SSH pool (the only available channel for this
// connector) and discovers topology via `nodetool status`.
func (c *Connector) Connect(ctx context.Context) error {
	c.TransitionConnecting()

	if !c.target.SSH.Configured() {
		return &connector.ConnectionError{Technology: "cassandra", Err: fmt.Errorf("cassandra requires ssh_hosts/ssh_user: no CQL driver is available in this deployment")}
	}

	c.ssh = sshpool.New(c.target.SSH, c.log)
	connected := c.ssh.ConnectAll(ctx)
	if len(connected) == 0 {
		return &connector.ConnectionError{Technology: "cassandra", Err: fmt.Errorf("no ssh host reachable")}
	}

	c.topo = c.discoverTopology(ctx)
	mapped, unmapped := topology.MapSSHHosts(c.target.SSH.Hosts, c.topo, nil)
	c.sshToNode = mapped
	if len(unmapped) > 0 {
		c.log.WithField("unmapped_hosts", unmapped).Warn("cassandra: ssh hosts could not be mapped to a node")
	}

	c.SetCapabilities(connector.Capabilities{
		HasSSHSupport: true,
		NativeLimited: true,
		HasCloudMetrics: c.target.AWS.Configured() || c.target.ManagedService.Configured(),
	})
	c.TransitionConnected()
	return nil
}

// Disconnect closes every SSH session; idempotent.
func (c *Connector) Disconnect(ctx context.Context) error {
	c.TransitionDisconnecting()
	if c.ssh != nil {
		c.ssh.CloseAll()
		c.ssh = nil
	}
	c.TransitionDisconnected()
	return nil
}

// ExecuteOperation routes shell/nodetool kinds through the shell
// executor's safelist and parsers; native and admin kinds are
// not_applicable since this connector carries no CQL driver.
func (c *Connector) ExecuteOperation(ctx context.Context, op model.Operation) (model.Result, error) {
	if err := c.RequireConnected(); err != nil {
		return model.Result{}, err
	}

	switch op.Kind {
	case model.OperationNative, model.OperationAdmin:
		return connector.NotApplicableResult("native channel requires a CQL driver dependency not available in this environment"), nil
	case model.OperationNodetool, model.OperationShell:
		return c.runOnHost(ctx, op, c.primaryHost())
	default:
		return connector.NotApplicableResult(fmt.Sprintf("operation kind %s unsupported for cassandra", op.Kind)), nil
	}
}

// ExecuteOperationAllNodes fans a nodetool/shell command out to every
// connected SSH host, matching the `_cluster` nodetool operation
// variant.
func (c *Connector) ExecuteOperationAllNodes(ctx context.Context, op model.Operation) (map[string]model.Result, error) {
	if err := c.RequireConnected(); err != nil {
		return nil, err
	}
	if op.Kind != model.OperationNodetool && op.Kind != model.OperationNodetoolAll && op.Kind != model.OperationShell {
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
		parsed, renderErr := c.parse(op.Command, r.Stdout)
		if renderErr != nil {
			out[nodeID] = model.Result{Err: &model.OperationError{Message: renderErr.Error()}}
			continue
		}
		out[nodeID] = model.Result{Rendered: r.Stdout, Rows: parsed}
	}
	return out, nil
}

func (c *Connector) runOnHost(ctx context.Context, op model.Operation, host string) (model.Result, error) {
	operation := "shell"
	if op.Kind == model.OperationNodetool {
		operation = "nodetool"
	}

	parsed, stdout, _, err := c.exec.Run(host, operation, op.Command, c.hostRunner(ctx))
	if err != nil {
		return model.Result{Err: &model.OperationError{Message: err.Error()}}, nil
	}
	return model.Result{Rendered: stdout, Rows: connector.RowsFromMaps(parsed.RowMaps())}, nil
}

func (c *Connector) parse(command, stdout string) ([]model.Row, error) {
	parsed, err := shellexec.NodetoolParser{}.Parse(command, stdout)
	if err != nil {
		return nil, err
	}
	return connector.RowsFromMaps(parsed.RowMaps()), nil
}

func (c *Connector) primaryHost() string {
	return c.target.SSH.Hosts[0]
}

// discoverTopology runs `nodetool status` on the primary host and
// parses one Node per UN/DN-style row, nodetool being the only
// membership source without driver metadata.
func (c *Connector) discoverTopology(ctx context.Context) model.Topology {
	stdout, _, _, err := c.ssh.Execute(ctx, c.primaryHost(), "nodetool status", 0)
	if err != nil {
		c.log.WithError(err).Warn("cassandra: nodetool status failed")
		return model.Topology{}
	}

	parsed, err := shellexec.NodetoolParser{}.Parse("nodetool status", stdout)
	if err != nil {
		return model.Topology{}
	}

	nodes := make([]model.Node, 0, len(parsed.Rows))
	for i, row := range parsed.Rows {
		status, _ := row["status"].(string)
		state := model.StateDown
		switch status {
		case "U":
			state = model.StateActive
		case "D":
			state = model.StateDown
		}
		host, _ := row["address"].(string)
		nodeID := host
		if nodeID == "" {
			nodeID = "node-" + strconv.Itoa(i)
		}
		metadata := map[string]string{}
		if dc, ok := row["datacenter"].(string); ok {
			metadata["datacenter"] = dc
		}
		if rack, ok := row["rack"].(string); ok {
			metadata["rack"] = rack
		}
		nodes = append(nodes, model.Node{
			ID:           nodeID,
			Host:         host,
			Role:         model.RoleUnknown,
			EndpointType: model.EndpointInstance,
			State:        state,
			Metadata:     metadata,
		})
	}
	return model.Topology{Nodes: nodes}
}

// hostRunner binds the SSH pool and the calling context into the shell
// executor's host-runner shape; a zero timeout defers to the pool's
// configured default.
func (c *Connector) hostRunner(ctx context.Context) shellexec.HostExecutor {
	return shellexec.HostExecutorFunc(func(host, command string) (string, int, error) {
		stdout, _, code, err := c.ssh.Execute(ctx, host, command, 0)
		return stdout, code, err
	})
}
