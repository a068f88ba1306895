package valkey_test

import (
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/dbhealth/internal/config"
	"github.com/evalgo/dbhealth/internal/connector"
	"github.com/evalgo/dbhealth/internal/model"
	"github.com/evalgo/dbhealth/internal/obs"
	"github.com/evalgo/dbhealth/plugins/valkey"
)

func newTestTarget(t *testing.T, srv *miniredis.Miniredis) *config.Target {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return &config.Target{Plugin: "valkey", Host: host, Port: port, CompanyName: "acme"}
}

func testLogger() *obs.ContextLogger {
	return obs.RunLogger("test-run", "acme", "localhost")
}

func TestConnectAndDisconnect(t *testing.T) {
	srv := miniredis.RunT(t)
	conn := valkey.New(newTestTarget(t, srv), testLogger())

	require.NoError(t, conn.Connect(context.Background()))
	assert.Equal(t, connector.StateConnected, conn.State())
	assert.Equal(t, "valkey", conn.Technology())

	require.NoError(t, conn.Disconnect(context.Background()))
	assert.Equal(t, connector.StateDisconnected, conn.State())

	// idempotent
	require.NoError(t, conn.Disconnect(context.Background()))
}

func TestConnectFailsWhenUnreachable(t *testing.T) {
	target := &config.Target{Plugin: "valkey", Host: "127.0.0.1", Port: 1, CompanyName: "acme"}
	conn := valkey.New(target, testLogger())

	err := conn.Connect(context.Background())
	require.Error(t, err)
	var connErr *connector.ConnectionError
	assert.ErrorAs(t, err, &connErr)
}

func TestExecuteOperationRequiresConnected(t *testing.T) {
	srv := miniredis.RunT(t)
	conn := valkey.New(newTestTarget(t, srv), testLogger())

	_, err := conn.ExecuteOperation(context.Background(), model.Operation{Kind: model.OperationNative})
	require.Error(t, err)
}

func TestNativeInfoOperation(t *testing.T) {
	srv := miniredis.RunT(t)
	conn := valkey.New(newTestTarget(t, srv), testLogger())
	require.NoError(t, conn.Connect(context.Background()))
	defer conn.Disconnect(context.Background())

	result, err := conn.ExecuteOperation(context.Background(), model.Operation{
		Kind:   model.OperationNative,
		Params: map[string]any{"section": "server"},
	})
	require.NoError(t, err, "single-op failures must be error records, never raised")

	// dispatch totality: exactly one of rows or error is populated
	if result.Err == nil {
		assert.NotEmpty(t, result.Rows)
	} else {
		assert.Empty(t, result.Rows)
	}
}

func TestShellWithoutSSHIsNotApplicable(t *testing.T) {
	srv := miniredis.RunT(t)
	conn := valkey.New(newTestTarget(t, srv), testLogger())
	require.NoError(t, conn.Connect(context.Background()))
	defer conn.Disconnect(context.Background())

	result, err := conn.ExecuteOperation(context.Background(), model.Operation{Kind: model.OperationShell, Command: "df -h"})
	require.NoError(t, err)
	require.NotNil(t, result.Err)
	assert.Contains(t, result.Err.Message, "not_applicable")
}
