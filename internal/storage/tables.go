package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"
)

type tableSpec struct {
	name string
	pk   string
	sk   string // empty for hash-only tables
	ttl  string // TTL attribute, empty when items never expire
}

func tableSpecs(config DynamoConfig) []tableSpec {
	return []tableSpec{
		{name: config.TransferRecordsTable, pk: "DateKey", sk: "SessionID"},
		{name: config.PendingIntentsTable, pk: intentKeyAttr, ttl: intentExpiryAttr},
	}
}

// CreateTablesIfNotExist creates DynamoDB tables for local development
func CreateTablesIfNotExist(ctx context.Context, client *dynamodb.Client, config DynamoConfig, logger zerolog.Logger) error {
	for _, table := range tableSpecs(config) {
		_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(table.name),
		})
		if err == nil {
			logger.Info().Str("table", table.name).Msg("table already exists")
			continue
		}

		keySchema := []dbtypes.KeySchemaElement{
			{AttributeName: aws.String(table.pk), KeyType: dbtypes.KeyTypeHash},
		}
		attributes := []dbtypes.AttributeDefinition{
			{AttributeName: aws.String(table.pk), AttributeType: dbtypes.ScalarAttributeTypeS},
		}
		if table.sk != "" {
			keySchema = append(keySchema, dbtypes.KeySchemaElement{AttributeName: aws.String(table.sk), KeyType: dbtypes.KeyTypeRange})
			attributes = append(attributes, dbtypes.AttributeDefinition{AttributeName: aws.String(table.sk), AttributeType: dbtypes.ScalarAttributeTypeS})
		}

		_, err = client.CreateTable(ctx, &dynamodb.CreateTableInput{
			TableName:            aws.String(table.name),
			KeySchema:            keySchema,
			AttributeDefinitions: attributes,
			BillingMode:          dbtypes.BillingModePayPerRequest,
		})
		if err != nil {
			return fmt.Errorf("failed to create table %s: %w", table.name, err)
		}
		logger.Info().Str("table", table.name).Msg("table created")

		if table.ttl == "" {
			continue
		}
		_, err = client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
			TableName: aws.String(table.name),
			TimeToLiveSpecification: &dbtypes.TimeToLiveSpecification{
				AttributeName: aws.String(table.ttl),
				Enabled:       aws.Bool(true),
			},
		})
		if err != nil {
			// expired items are still never handed out, only kept longer
			logger.Warn().Err(err).Str("table", table.name).Msg("failed to enable table TTL")
		}
	}

	return nil
}
