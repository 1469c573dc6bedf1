package transfer

import (
	"time"

	"github.com/Trivi1234567/vapi-transfer-server-render/internal/types"
)

// toRecord converts a terminal session snapshot into its persisted form
func toRecord(snap types.SessionSnapshot) types.TransferRecord {
	end := time.Now()
	if snap.EndedAt != nil {
		end = *snap.EndedAt
	}

	record := types.TransferRecord{
		DateKey:           snap.StartedAt.UTC().Format("2006-01-02"),
		SessionID:         snap.SessionID,
		Department:        snap.DepartmentName,
		ExternalCallID:    snap.ExternalCallID,
		CallerPhoneNumber: snap.CallerPhoneNumber,
		Outcome:           string(snap.State),
		Attempts:          len(snap.Attempts),
		StartTime:         snap.StartedAt.UTC().Format(time.RFC3339),
		EndTime:           end.UTC().Format(time.RFC3339),
		DurationSecs:      end.Sub(snap.StartedAt).Seconds(),
	}
	if snap.State == types.StateConnected && snap.Cursor < len(snap.Candidates) {
		record.ConnectedTo = snap.Candidates[snap.Cursor].Name
	}
	return record
}
