package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/dbhealth/internal/model"
	"github.com/evalgo/dbhealth/internal/obs"
)

// fakeStrategy is a scripted Strategy: it returns its configured values
// or error and counts how often it was asked.
type fakeStrategy struct {
	kind   model.StrategyKind
	values map[string]float64
	err    error
	calls  int
}

func (f *fakeStrategy) Kind() model.StrategyKind { return f.kind }

func (f *fakeStrategy) Collect(ctx context.Context, params map[string]string) (map[string]float64, error) {
	f.calls++
	return f.values, f.err
}

func testLogger() *obs.ContextLogger {
	return obs.RunLogger("test-run", "acme", "localhost")
}

func chain(kinds ...model.StrategyKind) []model.StrategyEntry {
	entries := make([]model.StrategyEntry, len(kinds))
	for i, k := range kinds {
		entries[i] = model.StrategyEntry{Kind: k}
	}
	return entries
}

func TestCollectFirstSuccessWins(t *testing.T) {
	first := &fakeStrategy{kind: model.StrategyManagedPrometheus, values: map[string]float64{"broker-1": 5, "broker-2": 0, "broker-3": 0}}
	second := &fakeStrategy{kind: model.StrategyLocalExporter, values: map[string]float64{"broker-1": 99}}

	c := New(testLogger(), first, second)
	def := model.MetricDefinition{
		LogicalName: "under_replicated_partitions",
		Aggregation: model.AggSum,
		Strategies:  chain(model.StrategyManagedPrometheus, model.StrategyLocalExporter),
	}

	sample, err := c.Collect(context.Background(), def)
	require.NoError(t, err)
	require.NotNil(t, sample)

	assert.Equal(t, model.StrategyManagedPrometheus, sample.Method)
	assert.Equal(t, 5.0, sample.ClusterTotal)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 0, second.calls, "later strategies must not run once one succeeds")
}

func TestCollectFallsBackAndRecordsAttempt(t *testing.T) {
	first := &fakeStrategy{kind: model.StrategyManagedPrometheus, err: errors.New("503 service unavailable")}
	second := &fakeStrategy{kind: model.StrategyLocalExporter, values: map[string]float64{"broker-1": 5, "broker-2": 0, "broker-3": 0}}

	c := New(testLogger(), first, second)
	def := model.MetricDefinition{
		LogicalName: "under_replicated_partitions",
		Aggregation: model.AggSum,
		Strategies:  chain(model.StrategyManagedPrometheus, model.StrategyLocalExporter),
	}

	sample, err := c.Collect(context.Background(), def)
	require.NoError(t, err)
	require.NotNil(t, sample)

	assert.Equal(t, model.StrategyLocalExporter, sample.Method)
	assert.Equal(t, 5.0, sample.ClusterTotal)

	attempts, ok := sample.Metadata["attempts"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, attempts[string(model.StrategyManagedPrometheus)], "503")
}

func TestCollectReturnsNilWhenNoStrategyHasData(t *testing.T) {
	first := &fakeStrategy{kind: model.StrategyManagedPrometheus, err: errors.New("unreachable")}
	second := &fakeStrategy{kind: model.StrategyLocalExporter, values: map[string]float64{}}

	c := New(testLogger(), first, second)
	def := model.MetricDefinition{
		Aggregation: model.AggSum,
		Strategies:  chain(model.StrategyManagedPrometheus, model.StrategyLocalExporter),
	}

	sample, err := c.Collect(context.Background(), def)
	require.NoError(t, err)
	assert.Nil(t, sample)
}

func TestCollectSkipsUnregisteredStrategies(t *testing.T) {
	registered := &fakeStrategy{kind: model.StrategyShellProbe, values: map[string]float64{"n1": 3}}

	c := New(testLogger(), registered)
	def := model.MetricDefinition{
		Aggregation: model.AggSum,
		Strategies:  chain(model.StrategyJMXOverSSH, model.StrategyShellProbe),
	}

	sample, err := c.Collect(context.Background(), def)
	require.NoError(t, err)
	require.NotNil(t, sample)
	assert.Equal(t, model.StrategyShellProbe, sample.Method)

	attempts := sample.Metadata["attempts"].(map[string]any)
	assert.Equal(t, "strategy not registered", attempts[string(model.StrategyJMXOverSSH)])
}

func TestCollectZeroTotalIsALegitimateSample(t *testing.T) {
	s := &fakeStrategy{kind: model.StrategyNativeQuery, values: map[string]float64{"cluster": 0}}

	c := New(testLogger(), s)
	def := model.MetricDefinition{Aggregation: model.AggSum, Strategies: chain(model.StrategyNativeQuery)}

	sample, err := c.Collect(context.Background(), def)
	require.NoError(t, err)
	require.NotNil(t, sample, "a zero reading is not the same as no data")
	assert.Equal(t, 0.0, sample.ClusterTotal)
}

func TestAggregate(t *testing.T) {
	values := map[string]float64{"a": 2, "b": 4, "c": 6}

	sum := aggregate(values, model.AggSum)
	assert.Equal(t, 12.0, sum.ClusterTotal)

	avg := aggregate(values, model.AggAvg)
	assert.Equal(t, 4.0, avg.ClusterTotal)
	assert.Equal(t, 4.0, avg.ClusterAvg)

	max := aggregate(values, model.AggMax)
	assert.Equal(t, 6.0, max.ClusterTotal)

	perNode := aggregate(values, model.AggPerNode)
	assert.Equal(t, 0.0, perNode.ClusterTotal)
	assert.Equal(t, values, perNode.NodeMetrics)
}

func TestNodeKey(t *testing.T) {
	assert.Equal(t, "broker-1", NodeKey("broker-1", "10.0.0.1"))
	assert.Equal(t, "10.0.0.1", NodeKey("", "10.0.0.1"))
	assert.Equal(t, "unknown", NodeKey("", ""))
}

func TestExtractExpositionValue(t *testing.T) {
	text := `# HELP kafka_server_replicamanager_underreplicatedpartitions URP count
# TYPE kafka_server_replicamanager_underreplicatedpartitions gauge
kafka_server_replicamanager_underreplicatedpartitions 5
other_metric 42
`
	v, ok := extractExpositionValue(text, "kafka_server_replicamanager_underreplicatedpartitions")
	require.True(t, ok)
	assert.Equal(t, 5.0, v)

	_, ok = extractExpositionValue(text, "missing_metric")
	assert.False(t, ok)
}

func TestExtractJMXTermValue(t *testing.T) {
	output := `Welcome to jmxterm
UnderReplicatedPartitions = 7;
`
	v, ok := extractJMXTermValue(output, "UnderReplicatedPartitions")
	require.True(t, ok)
	assert.Equal(t, 7.0, v)

	_, ok = extractJMXTermValue("no match here", "UnderReplicatedPartitions")
	assert.False(t, ok)
}
