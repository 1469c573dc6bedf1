package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Trivi1234567/vapi-transfer-server-render/internal/registry"
	"github.com/Trivi1234567/vapi-transfer-server-render/internal/types"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"
)

const (
	intentKeyAttr    = "CorrelationKey"
	intentExpiryAttr = "ExpiresAt"
)

// IntentAPI is the part of the DynamoDB client the intent store uses.
// *dynamodb.Client satisfies it.
type IntentAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

type intentItem struct {
	CorrelationKey string               `dynamodbav:"CorrelationKey"`
	Intent         types.TransferIntent `dynamodbav:"Intent"`
	ExpiresAt      int64                `dynamodbav:"ExpiresAt"` // epoch seconds, 0 never expires
}

// DynamoIntentStore is a registry.Store shared by every instance behind the
// same table. Single consumption comes from a conditional delete that returns
// the old item; expiry is enforced by the condition and cleaned up by table TTL.
type DynamoIntentStore struct {
	api    IntentAPI
	table  string
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

var _ registry.Store = (*DynamoIntentStore)(nil)

// NewDynamoIntentStore creates a pending intent registry on a DynamoDB table
func NewDynamoIntentStore(api IntentAPI, table string, ttl time.Duration, logger zerolog.Logger) *DynamoIntentStore {
	return &DynamoIntentStore{
		api:    api,
		table:  table,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With().Str("component", "intent_store").Logger(),
	}
}

// Put stores an intent, replacing whatever was pending under key
func (s *DynamoIntentStore) Put(ctx context.Context, key string, intent types.TransferIntent) error {
	item := intentItem{CorrelationKey: key, Intent: intent}
	if s.ttl > 0 {
		item.ExpiresAt = s.now().Add(s.ttl).Unix()
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal transfer intent: %w", err)
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("failed to put transfer intent: %w", err)
	}
	return nil
}

// TakeMatching deletes the intent under key and returns it, provided it has
// not expired. Concurrent callers race on the delete; only one gets the item.
func (s *DynamoIntentStore) TakeMatching(ctx context.Context, key string) (types.TransferIntent, bool, error) {
	cond := expression.Or(
		expression.Name(intentExpiryAttr).Equal(expression.Value(0)),
		expression.Name(intentExpiryAttr).GreaterThan(expression.Value(s.now().Unix())),
	)
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return types.TransferIntent{}, false, fmt.Errorf("failed to build expression: %w", err)
	}

	out, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key: map[string]dbtypes.AttributeValue{
			intentKeyAttr: &dbtypes.AttributeValueMemberS{Value: key},
		},
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              dbtypes.ReturnValueAllOld,
	})
	if err != nil {
		var ccf *dbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			// absent, expired, or taken by someone else
			return types.TransferIntent{}, false, nil
		}
		return types.TransferIntent{}, false, fmt.Errorf("failed to take transfer intent: %w", err)
	}
	if len(out.Attributes) == 0 {
		return types.TransferIntent{}, false, nil
	}

	var item intentItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &item); err != nil {
		return types.TransferIntent{}, false, fmt.Errorf("failed to unmarshal transfer intent: %w", err)
	}
	return item.Intent, true, nil
}

// Sweep is left to the table's TTL; expired items are already never returned
func (s *DynamoIntentStore) Sweep(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

// Count scans the table for live intents
func (s *DynamoIntentStore) Count(ctx context.Context) (int, error) {
	filter := expression.Or(
		expression.Name(intentExpiryAttr).Equal(expression.Value(0)),
		expression.Name(intentExpiryAttr).GreaterThan(expression.Value(s.now().Unix())),
	)
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return 0, fmt.Errorf("failed to build expression: %w", err)
	}

	total := 0
	var lastKey map[string]dbtypes.AttributeValue
	for {
		out, err := s.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(s.table),
			Select:                    dbtypes.SelectCount,
			FilterExpression:          expr.Filter(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         lastKey,
		})
		if err != nil {
			return 0, fmt.Errorf("failed to count transfer intents: %w", err)
		}
		total += int(out.Count)
		lastKey = out.LastEvaluatedKey
		if len(lastKey) == 0 {
			return total, nil
		}
	}
}
