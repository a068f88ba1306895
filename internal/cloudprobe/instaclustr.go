package cloudprobe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/evalgo/dbhealth/internal/config"
)

const instaclustrBaseURL = "https://api.instaclustr.com"

// InstaclustrProbe is the third managed-service accessor (alongside AWS
// and Azure): a bearer-token REST client over Instaclustr's cluster
// management and monitoring APIs, used by the Kafka connector's
// kafka_managed_cluster_status check.
type InstaclustrProbe struct {
	apiKey    string
	clusterID string
	client    *http.Client
	retry     RetryConfig
}

// NewInstaclustrProbe builds a probe bound to one cluster. The caller
// checks cfg.Configured() before constructing one; a zero-value config
// is a programming error, not a runtime condition to guard here.
func NewInstaclustrProbe(cfg config.ManagedServiceConfig) *InstaclustrProbe {
	return &InstaclustrProbe{
		apiKey:    cfg.APIKey,
		clusterID: cfg.ClusterID,
		client:    &http.Client{Timeout: 30 * time.Second},
		retry:     DefaultRetryConfig(),
	}
}

// ClusterDetails is the normalized response from GetClusterDetails.
type ClusterDetails struct {
	ClusterID    string   `json:"cluster_id"`
	Name         string   `json:"name"`
	Status       string   `json:"status"`
	DataCentres  int      `json:"data_centres"`
	NodeIDs      []string `json:"nodes"`
	NodeCount    int      `json:"node_count"`
}

type instaclustrClusterResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	DataCentres []any  `json:"dataCentres"`
	Nodes       []struct {
		ID string `json:"id"`
	} `json:"nodes"`
}

// GetClusterDetails fetches cluster metadata, retrying transient
// failures; kafka_managed_cluster_status reports the result.
func (p *InstaclustrProbe) GetClusterDetails(ctx context.Context) (*ClusterDetails, error) {
	url := fmt.Sprintf("%s/cluster-management/v2/resources/clusters/%s", instaclustrBaseURL, p.clusterID)

	raw, err := Retry(ctx, p.retry, func(ctx context.Context) (instaclustrClusterResponse, error) {
		var out instaclustrClusterResponse
		body, status, err := p.get(ctx, url)
		if err != nil {
			return out, err
		}
		if status != http.StatusOK {
			return out, classifyHTTPStatus(status)
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return out, fmt.Errorf("cloudprobe: decoding instaclustr cluster response: %w", err)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	nodeIDs := make([]string, 0, len(raw.Nodes))
	for _, n := range raw.Nodes {
		nodeIDs = append(nodeIDs, n.ID)
	}
	return &ClusterDetails{
		ClusterID:   raw.ID,
		Name:        raw.Name,
		Status:      raw.Status,
		DataCentres: len(raw.DataCentres),
		NodeIDs:     nodeIDs,
		NodeCount:   len(raw.Nodes),
	}, nil
}

// MetricResult is the normalized response from GetMetrics; Status
// distinguishes auth/permission/rate-limit/service failures the way the
// original handler's HTTP-status branches did.
type MetricResult struct {
	MetricType string
	Value      string
	Timestamp  string
	Status     string
	Note       string
}

// GetMetrics fetches cluster health/performance metrics over the
// trailing window. It never returns a Go error for API-level failures:
// those are classified into MetricResult.Status/Note so callers can
// report them without unwinding.
func (p *InstaclustrProbe) GetMetrics(ctx context.Context, metricType string, window time.Duration) MetricResult {
	end := time.Now().UTC()
	start := end.Add(-window)
	url := fmt.Sprintf("%s/monitoring/v2/clusters/%s/metrics?metric=%s&start=%s&end=%s",
		instaclustrBaseURL, p.clusterID, metricType, start.Format(time.RFC3339), end.Format(time.RFC3339))

	body, status, err := p.get(ctx, url)
	if err != nil {
		return MetricResult{MetricType: metricType, Value: "N/A", Status: "error", Note: err.Error()}
	}

	switch status {
	case http.StatusOK:
		var decoded struct {
			Value     any    `json:"value"`
			Timestamp string `json:"timestamp"`
			Note      string `json:"note"`
		}
		if err := json.Unmarshal(body, &decoded); err != nil {
			return MetricResult{MetricType: metricType, Value: "N/A", Status: "error", Note: "decoding response: " + err.Error()}
		}
		return MetricResult{
			MetricType: metricType,
			Value:      fmt.Sprintf("%v", decoded.Value),
			Timestamp:  decoded.Timestamp,
			Status:     "success",
			Note:       decoded.Note,
		}
	case http.StatusUnauthorized:
		return MetricResult{MetricType: metricType, Value: "N/A", Status: "auth_error", Note: "Authentication failed: invalid API key"}
	case http.StatusForbidden:
		return MetricResult{MetricType: metricType, Value: "N/A", Status: "permission_error", Note: "Permission denied"}
	case http.StatusTooManyRequests:
		return MetricResult{MetricType: metricType, Value: "N/A", Status: "rate_limited", Note: "Rate limited"}
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return MetricResult{MetricType: metricType, Value: "N/A", Status: "service_error", Note: fmt.Sprintf("Service error (%d)", status)}
	default:
		return MetricResult{MetricType: metricType, Value: "N/A", Status: "error", Note: fmt.Sprintf("HTTP error (%d)", status)}
	}
}

func (p *InstaclustrProbe) get(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func classifyHTTPStatus(status int) error {
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("instaclustr: transient HTTP status %d", status)
	default:
		return fmt.Errorf("instaclustr: HTTP status %d", status)
	}
}
