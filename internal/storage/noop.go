package storage

import "github.com/Trivi1234567/vapi-transfer-server-render/internal/types"

// Store defines the storage interface for finished transfer sessions
type Store interface {
	SaveTransferRecord(record types.TransferRecord) error
	GetTransferRecords(dateKey string) ([]types.TransferRecord, error)
	TruncateAll() error
}

// NoopStore is a no-op implementation when DynamoDB is disabled
type NoopStore struct{}

func NewNoopStore() *NoopStore { return &NoopStore{} }

func (s *NoopStore) SaveTransferRecord(_ types.TransferRecord) error              { return nil }
func (s *NoopStore) GetTransferRecords(_ string) ([]types.TransferRecord, error) { return nil, nil }
func (s *NoopStore) TruncateAll() error                                          { return nil }
