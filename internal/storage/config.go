package storage

import "os"

// DynamoMode represents the DynamoDB connection mode
type DynamoMode string

const (
	DynamoModeLocal DynamoMode = "local"
	DynamoModeAWS   DynamoMode = "aws"
	DynamoModeNone  DynamoMode = "none"
)

// DynamoConfig holds DynamoDB configuration
type DynamoConfig struct {
	Mode                 DynamoMode
	Endpoint             string // for local mode
	Region               string
	TransferRecordsTable string
	PendingIntentsTable  string
}

// Enabled reports whether a DynamoDB backend was requested
func (c DynamoConfig) Enabled() bool {
	return c.Mode == DynamoModeLocal || c.Mode == DynamoModeAWS
}

// LoadDynamoConfig loads DynamoDB config from environment
func LoadDynamoConfig() DynamoConfig {
	mode := DynamoMode(getEnv("DYNAMO_MODE", "none"))
	if mode != DynamoModeLocal && mode != DynamoModeAWS {
		mode = DynamoModeNone
	}

	return DynamoConfig{
		Mode:                 mode,
		Endpoint:             getEnv("DYNAMO_ENDPOINT", "http://localhost:8000"),
		Region:               getEnv("DYNAMO_REGION", "us-east-1"),
		TransferRecordsTable: getEnv("DYNAMO_TRANSFER_RECORDS_TABLE", "vapi-transfer-records"),
		PendingIntentsTable:  getEnv("DYNAMO_PENDING_INTENTS_TABLE", "vapi-transfer-pending-intents"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
