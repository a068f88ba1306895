package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/evalgo/dbhealth/internal/model"
)

func TestFindingValidate(t *testing.T) {
	cases := []struct {
		name    string
		finding model.Finding
		wantErr bool
	}{
		{"success with data", model.Finding{Status: model.StatusSuccess, Data: map[string]any{"x": 1}}, false},
		{"success without data", model.Finding{Status: model.StatusSuccess}, true},
		{"warning without data", model.Finding{Status: model.StatusWarning}, true},
		{"critical with data", model.Finding{Status: model.StatusCritical, Data: map[string]any{"x": 1}}, false},
		{"error with message", model.Finding{Status: model.StatusError, ErrorMessage: "boom"}, false},
		{"error without message", model.Finding{Status: model.StatusError}, true},
		{"skipped with reason", model.Finding{Status: model.StatusSkipped, Reason: "no ssh"}, false},
		{"skipped without reason", model.Finding{Status: model.StatusSkipped}, true},
		{"not_applicable needs nothing", model.Finding{Status: model.StatusNotApplicable}, false},
		{"unavailable needs nothing", model.Finding{Status: model.StatusUnavailable}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.finding.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTopologyInstances(t *testing.T) {
	topo := model.Topology{Nodes: []model.Node{
		{ID: "cluster", EndpointType: model.EndpointCluster},
		{ID: "node-1", EndpointType: model.EndpointInstance, State: model.StateActive},
		{ID: "node-2", EndpointType: model.EndpointInstance, State: model.StateDown},
		{ID: "reader-lb", EndpointType: model.EndpointReaderLB},
	}}

	instances := topo.Instances()
	assert.Len(t, instances, 2)
	assert.ElementsMatch(t, []string{"node-1", "node-2"}, []string{instances[0].ID, instances[1].ID})
}

func TestTopologyByID(t *testing.T) {
	topo := model.Topology{Nodes: []model.Node{
		{ID: "node-1", EndpointType: model.EndpointInstance},
	}}

	found, ok := topo.ByID("node-1")
	assert.True(t, ok)
	assert.Equal(t, "node-1", found.ID)

	_, ok = topo.ByID("missing")
	assert.False(t, ok)
}
