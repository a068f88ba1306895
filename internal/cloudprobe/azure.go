package cloudprobe

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/monitor/azquery"

	"github.com/evalgo/dbhealth/internal/config"
)

// AzureProbe reads Azure Monitor metrics for managed Cassandra
// (Azure Managed Instance for Apache Cassandra) or PostgreSQL Flexible
// Server deployments.
type AzureProbe struct {
	metrics *azquery.MetricsClient
}

// NewAzureProbe authenticates with the target's Azure service principal
// credentials and builds the Azure Monitor metrics client.
func NewAzureProbe(cfg config.AzureConfig) (*AzureProbe, error) {
	cred, err := azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, nil)
	if err != nil {
		return nil, fmt.Errorf("cloudprobe: azure credential: %w", err)
	}

	client, err := azquery.NewMetricsClient(cred, nil)
	if err != nil {
		return nil, fmt.Errorf("cloudprobe: azure metrics client: %w", err)
	}

	return &AzureProbe{metrics: client}, nil
}

// GetMetricAverage reads the average of one Azure Monitor metric over
// the given window for a resource URI, retrying transient failures.
func (p *AzureProbe) GetMetricAverage(ctx context.Context, resourceURI, metricName string, window time.Duration) (float64, error) {
	retry := DefaultRetryConfig()
	end := time.Now()
	start := end.Add(-window)
	timespan := azquery.TimeInterval(fmt.Sprintf("%s/%s", start.Format(time.RFC3339), end.Format(time.RFC3339)))
	aggregation := azquery.AggregationTypeAverage

	resp, err := Retry(ctx, retry, func(ctx context.Context) (azquery.MetricsClientQueryResourceResponse, error) {
		return p.metrics.QueryResource(ctx, resourceURI, &azquery.MetricsClientQueryResourceOptions{
			MetricNames: toPtr(metricName),
			Timespan:    toPtr(timespan),
			Aggregation: []*azquery.AggregationType{&aggregation},
		})
	})
	if err != nil {
		return 0, fmt.Errorf("cloudprobe: azure monitor QueryResource: %w", err)
	}

	var sum float64
	var count int
	for _, m := range resp.Value {
		for _, ts := range m.TimeSeries {
			for _, dp := range ts.Data {
				if dp.Average != nil {
					sum += *dp.Average
					count++
				}
			}
		}
	}
	if count == 0 {
		return 0, fmt.Errorf("cloudprobe: no datapoints for metric %s", metricName)
	}
	return sum / float64(count), nil
}

func toPtr[T any](v T) *T { return &v }
