package main

import (
	"context"
	"fmt"

	"github.com/evalgo/dbhealth/internal/config"
	"github.com/evalgo/dbhealth/internal/connector"
	"github.com/evalgo/dbhealth/internal/obs"
	"github.com/evalgo/dbhealth/internal/orchestrator"
	"github.com/evalgo/dbhealth/plugins/cassandra"
	"github.com/evalgo/dbhealth/plugins/clickhouse"
	"github.com/evalgo/dbhealth/plugins/kafka"
	"github.com/evalgo/dbhealth/plugins/postgres"
	"github.com/evalgo/dbhealth/plugins/valkey"
)

// pluginRegistry maps a Target's Plugin name onto the orchestrator.Plugin
// that drives it; config.Validate already rejects any other value.
func pluginRegistry() map[string]orchestrator.Plugin {
	return map[string]orchestrator.Plugin{
		"postgres": {
			Technology: "postgres",
			NewConnector: func(ctx context.Context, target *config.Target, log *obs.ContextLogger) (connector.Connector, error) {
				return postgres.New(target, log), nil
			},
			Checks:     postgres.Checks(),
			Extractors: postgres.Extractors(),
		},
		"kafka": {
			Technology: "kafka",
			NewConnector: func(ctx context.Context, target *config.Target, log *obs.ContextLogger) (connector.Connector, error) {
				return kafka.New(target, log), nil
			},
			Checks:     kafka.Checks(),
			Extractors: kafka.Extractors(),
		},
		"cassandra": {
			Technology: "cassandra",
			NewConnector: func(ctx context.Context, target *config.Target, log *obs.ContextLogger) (connector.Connector, error) {
				return cassandra.New(target, log), nil
			},
			Checks:     cassandra.Checks(),
			Extractors: cassandra.Extractors(),
		},
		"clickhouse": {
			Technology: "clickhouse",
			NewConnector: func(ctx context.Context, target *config.Target, log *obs.ContextLogger) (connector.Connector, error) {
				return clickhouse.New(target, log), nil
			},
			Checks:     clickhouse.Checks(),
			Extractors: clickhouse.Extractors(),
		},
		"valkey": {
			Technology: "valkey",
			NewConnector: func(ctx context.Context, target *config.Target, log *obs.ContextLogger) (connector.Connector, error) {
				return valkey.New(target, log), nil
			},
			Checks:     valkey.Checks(),
			Extractors: valkey.Extractors(),
		},
	}
}

func resolvePlugin(name string) (orchestrator.Plugin, error) {
	p, ok := pluginRegistry()[name]
	if !ok {
		return orchestrator.Plugin{}, fmt.Errorf("unknown plugin %q", name)
	}
	return p, nil
}
