// Package metrics implements the adaptive metric collection strategy
// chain: for a metric with N possible sources, try them in declared
// order and return the first one that produces data, normalized into a
// MetricSample. The chain never raises; a strategy that errors is
// recorded and the next one is attempted.
package metrics

import (
	"context"
	"fmt"

	"github.com/evalgo/dbhealth/internal/model"
	"github.com/evalgo/dbhealth/internal/obs"
)

// Strategy collects one logical metric one way. NodeValues maps a
// stable node identifier (broker/instance id preferred, hostname as
// fallback) to the raw numeric reading.
type Strategy interface {
	Kind() model.StrategyKind
	Collect(ctx context.Context, params map[string]string) (nodeValues map[string]float64, err error)
}

// Collector runs a MetricDefinition's strategy chain in order.
type Collector struct {
	log        *obs.ContextLogger
	strategies map[model.StrategyKind]Strategy
}

// New builds a Collector over the given strategy implementations,
// keyed by the StrategyKind they serve.
func New(log *obs.ContextLogger, strategies ...Strategy) *Collector {
	m := make(map[model.StrategyKind]Strategy, len(strategies))
	for _, s := range strategies {
		m[s.Kind()] = s
	}
	return &Collector{log: log, strategies: m}
}

// Collect tries def.Strategies in declared order and returns the first
// one that produces at least one node value, aggregated per
// def.Aggregation. A nil result (with nil error) means no strategy had
// data; this is distinct from a present sample whose ClusterTotal is a
// legitimate zero.
func (c *Collector) Collect(ctx context.Context, def model.MetricDefinition) (*model.MetricSample, error) {
	attempts := make(map[string]any, len(def.Strategies))

	for _, entry := range def.Strategies {
		strategy, ok := c.strategies[entry.Kind]
		if !ok {
			attempts[string(entry.Kind)] = "strategy not registered"
			continue
		}

		values, err := strategy.Collect(ctx, entry.Params)
		if err != nil {
			attempts[string(entry.Kind)] = err.Error()
			c.log.WithField("strategy", entry.Kind).WithError(err).Debug("metric strategy failed, trying next")
			continue
		}
		if len(values) == 0 {
			attempts[string(entry.Kind)] = "no data"
			continue
		}

		sample := aggregate(values, def.Aggregation)
		sample.Method = entry.Kind
		sample.Metadata = map[string]any{"attempts": attempts}
		return &sample, nil
	}

	return nil, nil
}

func aggregate(values map[string]float64, agg model.Aggregation) model.MetricSample {
	sample := model.MetricSample{NodeMetrics: values}

	switch agg {
	case model.AggSum:
		var sum float64
		for _, v := range values {
			sum += v
		}
		sample.ClusterTotal = sum
	case model.AggAvg:
		var sum float64
		for _, v := range values {
			sum += v
		}
		sample.ClusterTotal = sum / float64(len(values))
		sample.ClusterAvg = sample.ClusterTotal
	case model.AggMax:
		var max float64
		first := true
		for _, v := range values {
			if first || v > max {
				max, first = v, false
			}
		}
		sample.ClusterTotal = max
	case model.AggPerNode:
		// no scalar reduction; callers read NodeMetrics directly
	}
	return sample
}

// NodeKey picks the stable identifier to use as a node_metrics key,
// preferring the topology-assigned ID over the bare hostname.
func NodeKey(nodeID, hostname string) string {
	if nodeID != "" {
		return nodeID
	}
	if hostname != "" {
		return hostname
	}
	return "unknown"
}

// ErrNoStrategyData is returned by strategy implementations (not by
// Collector.Collect) when the remote call succeeded but yielded nothing
// usable, distinguishing that from a transport-level failure.
type ErrNoStrategyData struct {
	Strategy model.StrategyKind
}

func (e *ErrNoStrategyData) Error() string {
	return fmt.Sprintf("metrics: strategy %s produced no data", e.Strategy)
}
