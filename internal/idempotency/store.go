package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/imrishuroy/fulfillment-sync/internal/aws"
)

// DynamoLocker keeps leases in a DynamoDB table with a TTL attribute.
type DynamoLocker struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
	ownerFunc func() string
}

// NewDynamoLocker returns a locker bound to tableName.
func NewDynamoLocker(client aws.DynamoDBAPI, tableName string) *DynamoLocker {
	return &DynamoLocker{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
		ownerFunc: uuid.NewString,
	}
}

// Acquire writes the lease unless an unexpired one exists.
func (l *DynamoLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	now := l.nowFunc()
	lease := Lease{Key: key, Owner: l.ownerFunc(), ExpiresAt: now.Add(ttl)}
	rec := LeaseRecord{
		LeaseKey:  key,
		Owner:     lease.Owner,
		CreatedAt: now,
		ExpiresAt: lease.ExpiresAt.Unix(),
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return Lease{}, fmt.Errorf("marshal lease: %w", err)
	}

	_, err = l.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &l.tableName,
		Item:      item,
		// DynamoDB TTL deletion lags, so an expired row still counts as free.
		ConditionExpression: awsString("attribute_not_exists(lease_key) OR expires_at < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return Lease{}, ErrHeld
		}
		return Lease{}, fmt.Errorf("put lease: %w", err)
	}
	return lease, nil
}

// Release deletes the lease if it is still ours.
func (l *DynamoLocker) Release(ctx context.Context, lease Lease) error {
	_, err := l.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName: &l.tableName,
		Key: map[string]types.AttributeValue{
			"lease_key": &types.AttributeValueMemberS{Value: lease.Key},
		},
		ConditionExpression:      awsString("#o = :owner"),
		ExpressionAttributeNames: map[string]string{"#o": "owner"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: lease.Owner},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			// expired and taken over; nothing of ours to delete
			return nil
		}
		return fmt.Errorf("delete lease: %w", err)
	}
	return nil
}

func isConditionFailed(err error) bool {
	var sc smithy.APIError
	return errors.As(err, &sc) && sc.ErrorCode() == "ConditionalCheckFailedException"
}

// Helper
func awsString(s string) *string { return &s }
