//go:build integration

package trendstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/evalgo/dbhealth/internal/config"
	"github.com/evalgo/dbhealth/internal/model"
	"github.com/evalgo/dbhealth/internal/obs"
	"github.com/evalgo/dbhealth/internal/trendstore"
)

// setupPostgresContainer starts a disposable PostgreSQL container for
// the trend store's integration tests.
func setupPostgresContainer(t *testing.T) (config.TrendDatabaseConfig, func()) {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "dbhealth",
			"POSTGRES_PASSWORD": "dbhealth",
			"POSTGRES_DB":       "dbhealth_trends",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start postgres container")

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	cfg := config.TrendDatabaseConfig{
		Host:     host,
		Port:     port.Int(),
		Database: "dbhealth_trends",
		User:     "dbhealth",
		Password: "dbhealth",
	}

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	}

	return cfg, cleanup
}

// TestWriteRunCascadeDeletesFindingsAndMetrics verifies that removing a
// run row removes its findings and metrics too, via the run_id foreign
// key rather than application-level cleanup.
func TestWriteRunCascadeDeletesFindingsAndMetrics(t *testing.T) {
	cfg, cleanup := setupPostgresContainer(t)
	defer cleanup()

	log := obs.New(map[string]any{"test": "trendstore_cascade"})
	store, err := trendstore.Open(cfg, "cascade-test-tenant", log)
	require.NoError(t, err)
	defer store.Close()

	run := model.RunRecord{
		RunID:            "run-cascade-001",
		Company:          "acme",
		DatabaseTarget:   "postgres",
		HostTarget:       "db-1.internal",
		Timestamp:        time.Now().UTC(),
		TargetVersion:    "16.2",
		TotalChecks:      2,
		SuccessfulChecks: 2,
		FailedChecks:     0,
		DurationSeconds:  1.25,
	}

	findings := []trendstore.NamedFindingInput{
		{CheckName: "postgres_disk_usage", Finding: model.Finding{Status: model.StatusSuccess, Severity: 0, Message: "ok"}},
	}

	extractor := func(checkName string, finding model.Finding) []trendstore.TrendMetric {
		return []trendstore.TrendMetric{{MetricName: "disk_used_percent", MetricValue: 42, MetricUnit: "percent"}}
	}

	require.NoError(t, store.WriteRun(run, findings, []trendstore.MetricExtractor{extractor}))

	// round-trip: the persisted finding reads back with the same content
	stored, err := store.GetRunFindings(run.RunID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, "postgres_disk_usage", stored[0].CheckName)
	require.Equal(t, string(model.StatusSuccess), stored[0].Status)

	var findingCount, metricCount int64
	require.NoError(t, store.DB().Model(&trendstore.ModuleFinding{}).Where("run_id = ?", run.RunID).Count(&findingCount).Error)
	require.NoError(t, store.DB().Model(&trendstore.TrendMetric{}).Where("run_id = ?", run.RunID).Count(&metricCount).Error)
	require.Equal(t, int64(1), findingCount)
	require.Equal(t, int64(1), metricCount)

	require.NoError(t, store.DB().Delete(&trendstore.HealthCheckRun{RunID: run.RunID}).Error)

	require.NoError(t, store.DB().Model(&trendstore.ModuleFinding{}).Where("run_id = ?", run.RunID).Count(&findingCount).Error)
	require.NoError(t, store.DB().Model(&trendstore.TrendMetric{}).Where("run_id = ?", run.RunID).Count(&metricCount).Error)
	require.Equal(t, int64(0), findingCount, "findings must cascade-delete with their run")
	require.Equal(t, int64(0), metricCount, "metrics must cascade-delete with their run")
}
