package clickhouse_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/dbhealth/internal/config"
	"github.com/evalgo/dbhealth/internal/connector"
	"github.com/evalgo/dbhealth/internal/model"
	"github.com/evalgo/dbhealth/internal/obs"
	"github.com/evalgo/dbhealth/plugins/clickhouse"
)

// fakeClickHouse answers the HTTP interface's POST-a-statement protocol
// with canned TSV bodies keyed by query substring.
func fakeClickHouse(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		sql := string(body)

		switch {
		case strings.Contains(sql, "system.clusters"):
			w.Write([]byte("cluster\thost_name\thost_address\tis_local\n" +
				"main\tch-1\t10.0.0.1\t1\n" +
				"main\tch-2\t10.0.0.2\t0\n"))
		case strings.Contains(sql, "system.replication_queue"):
			w.Write([]byte("database\ttable\tqueue_size\n" +
				"analytics\tevents\t3\n"))
		case strings.Contains(sql, "SELECT 1"):
			w.Write([]byte("1\n"))
		default:
			http.Error(w, "unexpected statement: "+sql, http.StatusBadRequest)
		}
	}))
}

func testTarget(t *testing.T, srv *httptest.Server) *config.Target {
	t.Helper()
	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return &config.Target{Plugin: "clickhouse", Host: host, Port: port, CompanyName: "acme"}
}

func testLogger() *obs.ContextLogger {
	return obs.RunLogger("test-run", "acme", "localhost")
}

func TestConnectDiscoversClusterTopology(t *testing.T) {
	srv := fakeClickHouse(t)
	defer srv.Close()

	conn := clickhouse.New(testTarget(t, srv), testLogger())
	require.NoError(t, conn.Connect(context.Background()))
	defer conn.Disconnect(context.Background())

	assert.Equal(t, connector.StateConnected, conn.State())
	assert.Equal(t, "clickhouse", conn.Technology())
}

func TestConnectFailsWhenUnreachable(t *testing.T) {
	target := &config.Target{Plugin: "clickhouse", Host: "127.0.0.1", Port: 1, CompanyName: "acme"}
	conn := clickhouse.New(target, testLogger())

	err := conn.Connect(context.Background())
	require.Error(t, err)
	var connErr *connector.ConnectionError
	assert.ErrorAs(t, err, &connErr)
}

func TestNativeQueryParsesTSVWithNames(t *testing.T) {
	srv := fakeClickHouse(t)
	defer srv.Close()

	conn := clickhouse.New(testTarget(t, srv), testLogger())
	require.NoError(t, conn.Connect(context.Background()))
	defer conn.Disconnect(context.Background())

	result, err := conn.ExecuteOperation(context.Background(), model.Operation{
		Kind:    model.OperationNative,
		Command: "SELECT database, table, count(*) AS queue_size FROM system.replication_queue GROUP BY database, table",
	})
	require.NoError(t, err)
	require.Nil(t, result.Err)
	require.Len(t, result.Rows, 1)

	row := result.Rows[0]
	assert.Equal(t, []string{"database", "table", "queue_size"}, row.Columns)
	assert.Equal(t, "analytics", row.Values["database"])
	assert.Equal(t, 3.0, row.Values["queue_size"], "numeric TSV cells coerce to float64")
}

func TestNativeQueryErrorIsAnErrorRecordNotARaise(t *testing.T) {
	srv := fakeClickHouse(t)
	defer srv.Close()

	conn := clickhouse.New(testTarget(t, srv), testLogger())
	require.NoError(t, conn.Connect(context.Background()))
	defer conn.Disconnect(context.Background())

	result, err := conn.ExecuteOperation(context.Background(), model.Operation{
		Kind:    model.OperationNative,
		Command: "SELECT something_the_fake_rejects",
	})
	require.NoError(t, err, "single-op failures must not surface as Go errors")
	require.NotNil(t, result.Err)
}

func TestUnsupportedKindIsNotApplicable(t *testing.T) {
	srv := fakeClickHouse(t)
	defer srv.Close()

	conn := clickhouse.New(testTarget(t, srv), testLogger())
	require.NoError(t, conn.Connect(context.Background()))
	defer conn.Disconnect(context.Background())

	result, err := conn.ExecuteOperation(context.Background(), model.Operation{Kind: model.OperationNodetool, Command: "nodetool status"})
	require.NoError(t, err)
	require.NotNil(t, result.Err)
	assert.Contains(t, result.Err.Message, "not_applicable")
}
