package idempotency

import (
	"context"
	"errors"
	"strconv"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// simpleMock implements the DynamoDB calls the locker makes against a
// single in-memory table keyed on lease_key.
type simpleMock struct {
	mu    sync.Mutex
	table map[string]map[string]types.AttributeValue
	err   error
}

func newSimpleMock() *simpleMock {
	return &simpleMock{table: map[string]map[string]types.AttributeValue{}}
}

func leaseKeyOf(m map[string]types.AttributeValue) string {
	return m["lease_key"].(*types.AttributeValueMemberS).Value
}

func (m *simpleMock) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	key := leaseKeyOf(params.Item)
	if existing, ok := m.table[key]; ok {
		now, _ := strconv.ParseInt(params.ExpressionAttributeValues[":now"].(*types.AttributeValueMemberN).Value, 10, 64)
		exp, _ := strconv.ParseInt(existing["expires_at"].(*types.AttributeValueMemberN).Value, 10, 64)
		if !(exp < now) {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	m.table[key] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *simpleMock) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := leaseKeyOf(params.Key)
	existing, ok := m.table[key]
	want := params.ExpressionAttributeValues[":owner"].(*types.AttributeValueMemberS).Value
	if !ok || existing["owner"].(*types.AttributeValueMemberS).Value != want {
		return nil, &types.ConditionalCheckFailedException{}
	}
	delete(m.table, key)
	return &dyn.DeleteItemOutput{}, nil
}

func (m *simpleMock) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &dyn.GetItemOutput{Item: m.table[leaseKeyOf(params.Key)]}, nil
}

func (m *simpleMock) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	return nil, errors.New("not used")
}

func (m *simpleMock) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	return nil, errors.New("not used")
}
