package cloudprobe

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/rds"

	"github.com/evalgo/dbhealth/internal/config"
)

// AWSProbe reads CloudWatch metrics and RDS instance metadata for
// managed PostgreSQL/Kafka (MSK) deployments; GetMetricAverage backs the
// cloud_metrics strategy entries when the target is cloud-hosted.
type AWSProbe struct {
	cloudwatch *cloudwatch.Client
	rds        *rds.Client
	retry      RetryConfig
}

// NewAWSProbe builds the CloudWatch and RDS clients from the target's
// AWS config. Returns an error only on malformed credentials; it does
// not make any network calls.
func NewAWSProbe(ctx context.Context, cfg config.AWSConfig) (*AWSProbe, error) {
	optFns := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("cloudprobe: loading aws config: %w", err)
	}

	return &AWSProbe{
		cloudwatch: cloudwatch.NewFromConfig(awsCfg),
		rds:        rds.NewFromConfig(awsCfg),
		retry:      DefaultRetryConfig(),
	}, nil
}

// GetMetricAverage reads the average of one CloudWatch metric over the
// last window for a given dimension, retrying transient API failures.
func (p *AWSProbe) GetMetricAverage(ctx context.Context, namespace, metricName, dimensionName, dimensionValue string, window time.Duration) (float64, error) {
	end := time.Now()
	start := end.Add(-window)

	out, err := Retry(ctx, p.retry, func(ctx context.Context) (*cloudwatch.GetMetricStatisticsOutput, error) {
		return p.cloudwatch.GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
			Namespace:  &namespace,
			MetricName: &metricName,
			StartTime:  &start,
			EndTime:    &end,
			Period:     awsInt32(60),
			Statistics: []types.Statistic{types.StatisticAverage},
			Dimensions: []types.Dimension{{Name: &dimensionName, Value: &dimensionValue}},
		})
	})
	if err != nil {
		return 0, fmt.Errorf("cloudprobe: cloudwatch GetMetricStatistics: %w", err)
	}

	if len(out.Datapoints) == 0 {
		return 0, fmt.Errorf("cloudprobe: no datapoints for %s/%s", namespace, metricName)
	}

	var sum float64
	for _, dp := range out.Datapoints {
		if dp.Average != nil {
			sum += *dp.Average
		}
	}
	return sum / float64(len(out.Datapoints)), nil
}

// DescribeInstance returns the RDS instance's engine version and status,
// retrying transient API failures.
func (p *AWSProbe) DescribeInstance(ctx context.Context, dbInstanceIdentifier string) (engineVersion string, status string, err error) {
	out, err := Retry(ctx, p.retry, func(ctx context.Context) (*rds.DescribeDBInstancesOutput, error) {
		return p.rds.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{
			DBInstanceIdentifier: &dbInstanceIdentifier,
		})
	})
	if err != nil {
		return "", "", fmt.Errorf("cloudprobe: rds DescribeDBInstances: %w", err)
	}
	if len(out.DBInstances) == 0 {
		return "", "", fmt.Errorf("cloudprobe: rds instance %s not found", dbInstanceIdentifier)
	}
	inst := out.DBInstances[0]
	return stringOr(inst.EngineVersion), stringOr(inst.DBInstanceStatus), nil
}

func awsInt32(v int32) *int32 { return &v }

func stringOr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
