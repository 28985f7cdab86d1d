package aws

import (
	"context"
	"fmt"
	"sort"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// CloudWatchReporter pushes count metrics into a CloudWatch namespace.
type CloudWatchReporter struct {
	client    CloudWatchAPI
	namespace string
	nowFunc   func() time.Time
}

// NewCloudWatchReporter returns a reporter writing into namespace.
func NewCloudWatchReporter(client CloudWatchAPI, namespace string) *CloudWatchReporter {
	return &CloudWatchReporter{
		client:    client,
		namespace: namespace,
		nowFunc:   time.Now,
	}
}

// PutCounts publishes one datum per entry, sorted by name so batches are stable.
func (r *CloudWatchReporter) PutCounts(ctx context.Context, counts map[string]float64) error {
	if len(counts) == 0 {
		return nil
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	now := r.nowFunc()
	data := make([]cwtypes.MetricDatum, 0, len(names))
	for _, name := range names {
		data = append(data, cwtypes.MetricDatum{
			MetricName: awssdk.String(name),
			Value:      awssdk.Float64(counts[name]),
			Unit:       cwtypes.StandardUnitCount,
			Timestamp:  &now,
		})
	}

	_, err := r.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  &r.namespace,
		MetricData: data,
	})
	if err != nil {
		return fmt.Errorf("put metric data: %w", err)
	}
	return nil
}
