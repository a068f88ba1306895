// Package valkey implements the Valkey/Redis connector and checks over
// go-redis, probing the server through its INFO command sections.
package valkey

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/evalgo/dbhealth/internal/config"
	"github.com/evalgo/dbhealth/internal/connector"
	"github.com/evalgo/dbhealth/internal/model"
	"github.com/evalgo/dbhealth/internal/obs"
	"github.com/evalgo/dbhealth/internal/shellexec"
	"github.com/evalgo/dbhealth/internal/sshpool"
	"github.com/evalgo/dbhealth/internal/topology"
)

// Connector is the Valkey/Redis implementation of connector.Connector.
// The native channel is a go-redis client; shell operations reach
// redis-cli over SSH for host-local metrics the protocol doesn't expose
// (memory fragmentation from the OS view, RDB file size on disk).
type Connector struct {
	connector.BaseConnector

	target *config.Target
	log    *obs.ContextLogger

	client *redis.Client
	ssh    *sshpool.Pool
	exec   *shellexec.Executor

	topo      model.Topology
	sshToNode map[string]string
}

// New builds a disconnected Valkey connector.
func New(target *config.Target, log *obs.ContextLogger) *Connector {
	return &Connector{BaseConnector: connector.NewBase("valkey"), target: target, log: log, exec: shellexec.New()}
}

// Connect opens the native redis client, discovers replication topology
// via INFO replication, and opens the SSH pool if configured.
func (c *Connector) Connect(ctx context.Context) error {
	c.TransitionConnecting()

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", c.target.Host, c.target.Port),
		Password: c.target.Password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return &connector.ConnectionError{Technology: "valkey", Err: err}
	}
	c.client = client

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
				c.log.WithField("unmapped_hosts", unmapped).Warn("valkey: ssh hosts could not be mapped to a node")
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

// Disconnect releases the native client and SSH sessions, idempotently.
func (c *Connector) Disconnect(ctx context.Context) error {
	c.TransitionDisconnecting()
	if c.client != nil {
		_ = c.client.Close()
		c.client = nil
	}
	if c.ssh != nil {
		c.ssh.CloseAll()
		c.ssh = nil
	}
	c.TransitionDisconnected()
	return nil
}

// ExecuteOperation dispatches native INFO-style commands and shell
// operations over SSH; admin/nodetool kinds are not_applicable here.
func (c *Connector) ExecuteOperation(ctx context.Context, op model.Operation) (model.Result, error) {
	if err := c.RequireConnected(); err != nil {
		return model.Result{}, err
	}

	switch op.Kind {
	case model.OperationNative:
		return c.runNative(ctx, op)
	case model.OperationShell:
		if c.ssh == nil {
			return connector.NotApplicableResult("ssh not configured"), nil
		}
		return c.runShell(ctx, op, c.primaryHost())
	default:
		return connector.NotApplicableResult(fmt.Sprintf("operation kind %s unsupported for valkey", op.Kind)), nil
	}
}

// ExecuteOperationAllNodes fans a shell operation out to every SSH host
// mapped to a node.
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

// runNative issues INFO for op.Params["section"] ("default" when unset)
// and returns the parsed key:value text as one row; op.Command is not
// consulted.
func (c *Connector) runNative(ctx context.Context, op model.Operation) (model.Result, error) {
	section, _ := op.Params["section"].(string)
	if section == "" {
		section = "default"
	}

	raw, err := c.client.Info(ctx, section).Result()
	if err != nil {
		return model.Result{Err: &model.OperationError{Message: err.Error()}}, nil
	}

	attrs := parseInfo(raw)
	return model.Result{Rendered: raw, Rows: []model.Row{{Columns: infoKeys(attrs), Values: attrs}}}, nil
}

// runShell routes the command through the shell executor so the
// safelist and metacharacter rejection apply before anything reaches a
// host. The redis-cli parser kicks in for redis-cli/valkey-cli
// invocations; everything else falls back to the generic shell parser.
func (c *Connector) runShell(ctx context.Context, op model.Operation, host string) (model.Result, error) {
	operation := "shell"
	if strings.HasPrefix(op.Command, "redis-cli") || strings.HasPrefix(op.Command, "valkey-cli") {
		operation = "redis-cli"
	}
	parsed, stdout, _, err := c.exec.Run(host, operation, op.Command, c.hostRunner(ctx))
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

// discoverTopology reads INFO replication: the connected node is always
// recorded as the writer unless role:slave names it a replica of another
// master, and each slaveN line becomes a reader node.
func (c *Connector) discoverTopology(ctx context.Context) model.Topology {
	raw, err := c.client.Info(ctx, "replication").Result()
	if err != nil {
		c.log.WithError(err).Warn("valkey: INFO replication failed")
		return model.Topology{Nodes: []model.Node{{ID: "self", Host: c.target.Host, Role: model.RoleWriter, EndpointType: model.EndpointInstance, State: model.StateActive}}}
	}

	attrs := parseInfo(raw)
	role := model.RoleWriter
	if attrs["role"] == "slave" {
		role = model.RoleReader
	}

	nodes := []model.Node{{ID: "self", Host: c.target.Host, Role: role, EndpointType: model.EndpointInstance, State: model.StateActive}}

	for key, val := range attrs {
		if !strings.HasPrefix(key, "slave") {
			continue
		}
		line, ok := val.(string)
		if !ok {
			continue
		}
		fields := parseKVFields(line)
		host := fields["ip"]
		if host == "" {
			continue
		}
		state := model.StateActive
		if fields["state"] != "online" {
			state = model.StateJoining
		}
		nodes = append(nodes, model.Node{
			ID:           "replica-" + host,
			Host:         host,
			Role:         model.RoleReader,
			EndpointType: model.EndpointInstance,
			State:        state,
			Metadata:     map[string]string{"offset": fields["offset"], "lag_seconds": fields["lag"]},
		})
	}

	return model.Topology{Nodes: nodes}
}

// parseInfo parses the server's INFO response (`# Section` headers,
// `key:value` lines) into a flat attribute map, coercing numeric values.
func parseInfo(raw string) map[string]any {
	attrs := make(map[string]any)
	for _, line := range strings.Split(raw, "\r\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		kv := strings.SplitN(line, ":", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := kv[0], kv[1]
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			attrs[key] = f
		} else {
			attrs[key] = val
		}
	}
	return attrs
}

// parseKVFields parses a slaveN info line's "ip=10.0.0.2,port=6379,state=online,offset=123,lag=0" shape.
func parseKVFields(line string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(line, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			out[kv[0]] = kv[1]
		}
	}
	return out
}

func infoKeys(attrs map[string]any) []string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	return keys
}
