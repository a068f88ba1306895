package kafka

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/dbhealth/internal/accumulator"
	"github.com/evalgo/dbhealth/internal/connector"
	"github.com/evalgo/dbhealth/internal/model"
)

// fanoutConnector fakes the SSH fan-out surface the resource checks use.
type fanoutConnector struct {
	connector.BaseConnector
	caps    connector.Capabilities
	results map[string]model.Result
	calls   int
}

func (f *fanoutConnector) Connect(ctx context.Context) error    { return nil }
func (f *fanoutConnector) Disconnect(ctx context.Context) error { return nil }
func (f *fanoutConnector) Capabilities() connector.Capabilities { return f.caps }

func (f *fanoutConnector) ExecuteOperation(ctx context.Context, op model.Operation) (model.Result, error) {
	f.calls++
	return model.Result{}, nil
}

func (f *fanoutConnector) ExecuteOperationAllNodes(ctx context.Context, op model.Operation) (map[string]model.Result, error) {
	f.calls++
	return f.results, nil
}

func shellResult(stdout string) model.Result {
	return model.Result{Rendered: stdout, Rows: []model.Row{{Columns: []string{"output"}, Values: map[string]any{"output": stdout}}}}
}

func TestFileDescriptorCheckSkipsWithoutSSH(t *testing.T) {
	conn := &fanoutConnector{BaseConnector: connector.NewBase("kafka")}

	_, finding, err := fileDescriptorCheck(context.Background(), conn, nil, accumulator.View{})
	require.NoError(t, err)

	assert.Equal(t, model.StatusSkipped, finding.Status)
	assert.Contains(t, finding.Reason, "SSH not configured")
	assert.Contains(t, finding.RequiredSettings, "ssh_hosts")
	assert.Contains(t, finding.RequiredSettings, "ssh_user")
	assert.Equal(t, 0, conn.calls, "no SSH attempts may be made when skipping")
}

func TestFileDescriptorCheckPartialFanoutFailure(t *testing.T) {
	conn := &fanoutConnector{
		BaseConnector: connector.NewBase("kafka"),
		caps:          connector.Capabilities{HasSSHSupport: true},
		results: map[string]model.Result{
			"1": shellResult("1000 0 100000\n"),
			"2": shellResult("2000 0 100000\n"),
			"3": {Err: &model.OperationError{Message: "ssh: broker-3: command timed out"}},
		},
	}

	_, finding, err := fileDescriptorCheck(context.Background(), conn, nil, accumulator.View{})
	require.NoError(t, err)

	assert.Equal(t, model.StatusWarning, finding.Status)
	assert.Equal(t, 3, finding.Data["broker_count"])
	assert.Equal(t, []string{"3"}, finding.Data["failed_brokers"].([]string))
	assert.Contains(t, finding.Message, "probe failed on: 3")
	assert.InDelta(t, 2.0, finding.Data["fd_used_percent"], 0.001)
}

func TestFileDescriptorCheckCriticalThreshold(t *testing.T) {
	conn := &fanoutConnector{
		BaseConnector: connector.NewBase("kafka"),
		caps:          connector.Capabilities{HasSSHSupport: true},
		results: map[string]model.Result{
			"1": shellResult("90000 0 100000\n"),
		},
	}

	settings := map[string]any{"check_overrides": map[string]float64{"kafka_fd_critical": 85}}
	_, finding, err := fileDescriptorCheck(context.Background(), conn, settings, accumulator.View{})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCritical, finding.Status)
}

func TestBrokerMemoryCheckSkipsWithoutSSH(t *testing.T) {
	conn := &fanoutConnector{BaseConnector: connector.NewBase("kafka")}

	_, finding, err := brokerMemoryCheck(context.Background(), conn, nil, accumulator.View{})
	require.NoError(t, err)
	assert.Equal(t, model.StatusSkipped, finding.Status)
	assert.Contains(t, finding.RequiredSettings, "ssh_hosts")
}

func TestBrokerMemoryCheckClassifiesUsage(t *testing.T) {
	free := "Mem: 32000 27200 4800\nSwap: 0 0 0\n"
	conn := &fanoutConnector{
		BaseConnector: connector.NewBase("kafka"),
		caps:          connector.Capabilities{HasSSHSupport: true},
		results: map[string]model.Result{
			"1": shellResult(free),
		},
	}

	_, finding, err := brokerMemoryCheck(context.Background(), conn, nil, accumulator.View{})
	require.NoError(t, err)

	assert.Equal(t, model.StatusWarning, finding.Status)
	assert.InDelta(t, 85.0, finding.Data["memory_used_percent"], 0.001)
}

func TestExtractorsCoverCheckDataFields(t *testing.T) {
	finding := model.Finding{Data: map[string]any{"total_urp": 5.0, "fd_used_percent": 12.5}}

	var names []string
	for _, extract := range Extractors() {
		for _, m := range extract("kafka_under_replicated_partitions", finding) {
			names = append(names, m.MetricName)
		}
	}
	assert.ElementsMatch(t, []string{"total_urp", "fd_used_percent"}, names)
}

func TestParseFileNr(t *testing.T) {
	allocated, limit, ok := parseFileNr("4224	0	9223372036854775807\n")
	require.True(t, ok)
	assert.Equal(t, 4224.0, allocated)
	assert.Greater(t, limit, 0.0)

	_, _, ok = parseFileNr("garbage")
	assert.False(t, ok)
}
