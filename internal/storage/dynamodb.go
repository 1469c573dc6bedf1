package storage

import (
	"context"
	"fmt"

	"github.com/Trivi1234567/vapi-transfer-server-render/internal/types"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"
)

// DynamoDBStore implements Store using AWS DynamoDB
type DynamoDBStore struct {
	client *dynamodb.Client
	config DynamoConfig
	logger zerolog.Logger
}

// NewClient builds a DynamoDB client for the configured mode and, in local
// mode, creates any missing tables
func NewClient(ctx context.Context, cfg DynamoConfig, logger zerolog.Logger) (*dynamodb.Client, error) {
	var client *dynamodb.Client

	if cfg.Mode == DynamoModeLocal {
		// For local mode, build the client directly without LoadDefaultConfig.
		// LoadDefaultConfig probes the EC2 IMDS endpoint which hangs on EC2
		// instances when static credentials are intended.
		client = dynamodb.New(dynamodb.Options{
			Region:       cfg.Region,
			BaseEndpoint: aws.String(cfg.Endpoint),
			Credentials:  credentials.NewStaticCredentialsProvider("local", "local", ""),
		})
		if err := CreateTablesIfNotExist(ctx, client, cfg, logger); err != nil {
			return nil, err
		}
		return client, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg), nil
}

// NewDynamoDBStore creates a transfer record store over an existing client
func NewDynamoDBStore(client *dynamodb.Client, cfg DynamoConfig, logger zerolog.Logger) *DynamoDBStore {
	logger.Info().
		Str("mode", string(cfg.Mode)).
		Str("region", cfg.Region).
		Str("table", cfg.TransferRecordsTable).
		Msg("DynamoDB store initialized")

	return &DynamoDBStore{
		client: client,
		config: cfg,
		logger: logger,
	}
}

func (s *DynamoDBStore) SaveTransferRecord(record types.TransferRecord) error {
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal transfer record: %w", err)
	}

	_, err = s.client.PutItem(context.Background(), &dynamodb.PutItemInput{
		TableName: aws.String(s.config.TransferRecordsTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save transfer record: %w", err)
	}
	return nil
}

func (s *DynamoDBStore) GetTransferRecords(dateKey string) ([]types.TransferRecord, error) {
	keyCond := expression.Key("DateKey").Equal(expression.Value(dateKey))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	var (
		records []types.TransferRecord
		lastKey map[string]dbtypes.AttributeValue
	)
	for {
		result, err := s.client.Query(context.Background(), &dynamodb.QueryInput{
			TableName:                 aws.String(s.config.TransferRecordsTable),
			KeyConditionExpression:    expr.KeyCondition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         lastKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query transfer records: %w", err)
		}

		var page []types.TransferRecord
		if err := attributevalue.UnmarshalListOfMaps(result.Items, &page); err != nil {
			return nil, fmt.Errorf("failed to unmarshal transfer records: %w", err)
		}
		records = append(records, page...)

		lastKey = result.LastEvaluatedKey
		if len(lastKey) == 0 {
			return records, nil
		}
	}
}

// NewStore creates the appropriate record store based on configuration. The
// returned client is nil when DynamoDB is disabled.
func NewStore(ctx context.Context, cfg DynamoConfig, logger zerolog.Logger) (Store, *dynamodb.Client, error) {
	if !cfg.Enabled() {
		logger.Info().Msg("DynamoDB disabled (DYNAMO_MODE=none)")
		return NewNoopStore(), nil, nil
	}

	client, err := NewClient(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return NewDynamoDBStore(client, cfg, logger), client, nil
}

// TruncateAll deletes all items from both DynamoDB tables (scan + batch delete)
func (s *DynamoDBStore) TruncateAll() error {
	for _, table := range tableSpecs(s.config) {
		if err := s.truncateTable(table); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", table.name, err)
		}
	}
	return nil
}

func (s *DynamoDBStore) truncateTable(table tableSpec) error {
	var lastKey map[string]dbtypes.AttributeValue

	projection := "#pk"
	names := map[string]string{"#pk": table.pk}
	if table.sk != "" {
		projection += ", #sk"
		names["#sk"] = table.sk
	}

	for {
		input := &dynamodb.ScanInput{
			TableName:                aws.String(table.name),
			ProjectionExpression:     aws.String(projection),
			ExpressionAttributeNames: names,
			Limit:                    aws.Int32(500),
		}
		if lastKey != nil {
			input.ExclusiveStartKey = lastKey
		}

		result, err := s.client.Scan(context.Background(), input)
		if err != nil {
			return err
		}

		// Batch delete in groups of 25
		for i := 0; i < len(result.Items); i += 25 {
			end := i + 25
			if end > len(result.Items) {
				end = len(result.Items)
			}

			requests := make([]dbtypes.WriteRequest, 0, end-i)
			for _, item := range result.Items[i:end] {
				key := map[string]dbtypes.AttributeValue{table.pk: item[table.pk]}
				if table.sk != "" {
					key[table.sk] = item[table.sk]
				}
				requests = append(requests, dbtypes.WriteRequest{
					DeleteRequest: &dbtypes.DeleteRequest{Key: key},
				})
			}

			_, err := s.client.BatchWriteItem(context.Background(), &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]dbtypes.WriteRequest{
					table.name: requests,
				},
			})
			if err != nil {
				return err
			}
		}

		lastKey = result.LastEvaluatedKey
		if lastKey == nil {
			break
		}
	}

	s.logger.Info().Str("table", table.name).Msg("table truncated")
	return nil
}
