package types

// TransferRecord represents a finished transfer session for DynamoDB persistence
type TransferRecord struct {
	DateKey           string  `json:"dateKey" dynamodbav:"DateKey"`     // YYYY-MM-DD (partition key)
	SessionID         string  `json:"sessionId" dynamodbav:"SessionID"` // sort key
	Department        string  `json:"department" dynamodbav:"Department"`
	ExternalCallID    string  `json:"externalCallId" dynamodbav:"ExternalCallID"`
	CallerPhoneNumber string  `json:"callerPhoneNumber" dynamodbav:"CallerPhoneNumber"`
	Outcome           string  `json:"outcome" dynamodbav:"Outcome"` // connected | exhausted
	ConnectedTo       string  `json:"connectedTo,omitempty" dynamodbav:"ConnectedTo"`
	Attempts          int     `json:"attempts" dynamodbav:"Attempts"`
	StartTime         string  `json:"startTime" dynamodbav:"StartTime"` // RFC3339
	EndTime           string  `json:"endTime" dynamodbav:"EndTime"`     // RFC3339
	DurationSecs      float64 `json:"durationSecs" dynamodbav:"DurationSecs"`
}
