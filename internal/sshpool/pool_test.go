package sshpool_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/dbhealth/internal/config"
	"github.com/evalgo/dbhealth/internal/obs"
	"github.com/evalgo/dbhealth/internal/sshpool"
)

func testLogger() *obs.ContextLogger {
	return obs.RunLogger("test-run", "acme", "localhost")
}

func TestNewBuildsWithoutConnecting(t *testing.T) {
	pool := sshpool.New(config.SSHConfig{Hosts: []string{"10.0.0.1", "10.0.0.2"}, User: "ops"}, testLogger())

	assert.False(t, pool.Connected("10.0.0.1"))
	assert.False(t, pool.Connected("10.0.0.2"))
	assert.Empty(t, pool.ConnectedHosts())
}

func TestConnectAllStrictWithoutKnownHostsFails(t *testing.T) {
	cfg := config.SSHConfig{
		Hosts:                 []string{"10.0.0.1"},
		User:                  "ops",
		Password:              "secret",
		StrictHostKeyChecking: true,
		// no KnownHostsFile: strict mode has nothing to verify against
	}
	pool := sshpool.New(cfg, testLogger())

	ok := pool.ConnectAll(context.Background())
	assert.Empty(t, ok)
}

func TestExecuteOnUnknownHostIsConnectionError(t *testing.T) {
	pool := sshpool.New(config.SSHConfig{Hosts: []string{"10.0.0.1"}, User: "ops"}, testLogger())

	_, _, code, err := pool.Execute(context.Background(), "10.0.0.9", "uptime", 0)
	require.Error(t, err)
	assert.Equal(t, -1, code)
	var connErr *sshpool.ConnectionError
	assert.ErrorAs(t, err, &connErr)
}

func TestExecuteOnDisconnectedHostIsConnectionError(t *testing.T) {
	pool := sshpool.New(config.SSHConfig{Hosts: []string{"10.0.0.1"}, User: "ops"}, testLogger())

	_, _, _, err := pool.Execute(context.Background(), "10.0.0.1", "uptime", 0)
	require.Error(t, err)
	var connErr *sshpool.ConnectionError
	assert.ErrorAs(t, err, &connErr)
}

func TestExecuteAllWithNoConnectedHostsIsEmpty(t *testing.T) {
	pool := sshpool.New(config.SSHConfig{Hosts: []string{"10.0.0.1"}, User: "ops"}, testLogger())

	results := pool.ExecuteAll(context.Background(), "uptime", nil)
	assert.Empty(t, results)
}

func TestCloseAllIsIdempotent(t *testing.T) {
	pool := sshpool.New(config.SSHConfig{Hosts: []string{"10.0.0.1"}, User: "ops"}, testLogger())
	pool.CloseAll()
	pool.CloseAll()
}
