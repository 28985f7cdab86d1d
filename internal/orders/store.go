package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/imrishuroy/fulfillment-sync/internal/aws"
)

// Store persists orders. Writes are atomic per order; operations on distinct
// order ids never contend with each other.
type Store interface {
	// UpsertIfAbsent inserts order unless one with the same id exists and
	// returns the stored order plus whether this call created it.
	UpsertIfAbsent(ctx context.Context, order Order) (Order, bool, error)
	// Get returns ErrNotFound when the order does not exist.
	Get(ctx context.Context, orderID string) (Order, error)
	// UpdateState atomically moves an order to state and applies patch.
	UpdateState(ctx context.Context, orderID string, to State, patch Patch) (Order, error)
	// ListByState returns orders in state, least recently updated first.
	ListByState(ctx context.Context, state State) ([]Order, error)
	// CountByState returns the number of orders per state.
	CountByState(ctx context.Context) (map[State]int, error)
}

// StateIndex is the DynamoDB GSI keyed on state (PK) and updated_at (SK).
const StateIndex = "state-index"

// DynamoStore keeps orders in a DynamoDB table keyed on order_id.
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewDynamoStore creates a DynamoDB-backed store.
func NewDynamoStore(client aws.DynamoDBAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

func orderKey(orderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
}

// UpsertIfAbsent puts the order guarded by attribute_not_exists(order_id).
func (s *DynamoStore) UpsertIfAbsent(ctx context.Context, order Order) (Order, bool, error) {
	now := s.nowFunc()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	order.Version = 1

	item, err := attributevalue.MarshalMap(order)
	if err != nil {
		return Order{}, false, fmt.Errorf("marshal order: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(order_id)"),
	})
	if err != nil {
		if !isConditionFailed(err) {
			return Order{}, false, storageErr("put order", err)
		}
		existing, err := s.Get(ctx, order.OrderID)
		if err != nil {
			return Order{}, false, err
		}
		return existing, false, nil
	}
	return order, true, nil
}

// Get fetches an order with a strongly consistent read.
func (s *DynamoStore) Get(ctx context.Context, orderID string) (Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            orderKey(orderID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return Order{}, storageErr("get order", err)
	}
	if len(out.Item) == 0 {
		return Order{}, ErrNotFound
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return Order{}, storageErr("unmarshal order", err)
	}
	return o, nil
}

// UpdateState rewrites the mutable attributes conditioned on the version
// that was read, retrying when another writer got there first.
func (s *DynamoStore) UpdateState(ctx context.Context, orderID string, to State, patch Patch) (Order, error) {
	get := func(id string) (Order, error) { return s.Get(ctx, id) }
	cas := func(expected int64, next Order) error { return s.compareAndSwap(ctx, expected, next) }
	return updateWithCAS(orderID, to, patch, s.nowFunc, get, cas)
}

// mutable lists the attributes rewritten by compareAndSwap.
var mutable = []string{
	"state", "shipment_id", "tracking_code", "retry_count", "last_error",
	"next_attempt_at", "source_synced", "sync_attempts", "details",
	"version", "updated_at", "delivered_at",
}

func (s *DynamoStore) compareAndSwap(ctx context.Context, expected int64, next Order) error {
	item, err := attributevalue.MarshalMap(next)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}

	names := map[string]string{"#version": "version"}
	values := map[string]types.AttributeValue{
		":expected_version": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)},
	}
	var sets, removes []string
	for _, attr := range mutable {
		names["#"+attr] = attr
		v, ok := item[attr]
		if !ok {
			// omitempty attributes that became empty
			removes = append(removes, "#"+attr)
			continue
		}
		values[":"+attr] = v
		sets = append(sets, fmt.Sprintf("#%s = :%s", attr, attr))
	}
	expr := "SET " + strings.Join(sets, ", ")
	if len(removes) > 0 {
		expr += " REMOVE " + strings.Join(removes, ", ")
	}

	_, err = s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       orderKey(next.OrderID),
		UpdateExpression:          &expr,
		ConditionExpression:       awsString("#version = :expected_version"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrConflict
		}
		return storageErr("update order", err)
	}
	return nil
}

// ListByState queries the state index, following pagination.
func (s *DynamoStore) ListByState(ctx context.Context, state State) ([]Order, error) {
	var (
		result []Order
		start  map[string]types.AttributeValue
	)
	for {
		out, err := s.client.Query(ctx, s.stateQuery(state, start, false))
		if err != nil {
			return nil, storageErr("query orders", err)
		}
		var page []Order
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, storageErr("unmarshal orders", err)
		}
		result = append(result, page...)
		if len(out.LastEvaluatedKey) == 0 {
			return result, nil
		}
		start = out.LastEvaluatedKey
	}
}

// CountByState issues one COUNT query per state.
func (s *DynamoStore) CountByState(ctx context.Context) (map[State]int, error) {
	counts := make(map[State]int, len(States))
	for _, state := range States {
		var start map[string]types.AttributeValue
		for {
			out, err := s.client.Query(ctx, s.stateQuery(state, start, true))
			if err != nil {
				return nil, storageErr("count orders", err)
			}
			counts[state] += int(out.Count)
			if len(out.LastEvaluatedKey) == 0 {
				break
			}
			start = out.LastEvaluatedKey
		}
	}
	return counts, nil
}

func (s *DynamoStore) stateQuery(state State, start map[string]types.AttributeValue, count bool) *dyn.QueryInput {
	in := &dyn.QueryInput{
		TableName:                &s.tableName,
		IndexName:                awsString(StateIndex),
		KeyConditionExpression:   awsString("#state = :state"),
		ExpressionAttributeNames: map[string]string{"#state": "state"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":state": &types.AttributeValueMemberS{Value: string(state)},
		},
		ExclusiveStartKey: start,
	}
	if count {
		in.Select = types.SelectCount
	}
	return in
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException"
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
