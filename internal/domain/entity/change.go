package entity

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/moroshma/hc2stream/pkg/fibaro"
)

// ChangeRecord is one change of a value-changing report, flattened for sinks
type ChangeRecord struct {
	ID        uuid.UUID       `json:"id"`
	BatchID   uuid.UUID       `json:"batch_id"`
	Offset    uint64          `json:"offset"`
	Timestamp time.Time       `json:"timestamp"`
	DeviceID  int64           `json:"device_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// HasDevice reports whether the change names a device
func (r *ChangeRecord) HasDevice() bool {
	return r.DeviceID != 0
}

// ChangeBatch is everything one poll delivered to the sinks
type ChangeBatch struct {
	ID        uuid.UUID
	Cursor    fibaro.EventCursor
	Timestamp time.Time
	Raw       []byte
	Records   []ChangeRecord
}

// NewChangeBatch flattens a poll result. Only changes that carry a value
// become records; the raw report is kept whole.
func NewChangeBatch(res fibaro.PollResult) (*ChangeBatch, error) {
	if res.Report == nil {
		return nil, fmt.Errorf("poll result has no report")
	}

	batch := &ChangeBatch{
		ID:        uuid.New(),
		Cursor:    res.Cursor,
		Timestamp: res.Report.Time(),
		Raw:       res.Report.Raw,
	}

	for _, change := range res.Report.Changes {
		if !change.HasValue() {
			continue
		}

		payload, err := json.Marshal(change)
		if err != nil {
			return nil, fmt.Errorf("failed to encode change: %w", err)
		}

		record := ChangeRecord{
			ID:        uuid.New(),
			BatchID:   batch.ID,
			Offset:    res.Report.Last,
			Timestamp: batch.Timestamp,
			Payload:   payload,
		}
		if id, ok := change.DeviceID(); ok {
			record.DeviceID = id
		}
		batch.Records = append(batch.Records, record)
	}

	return batch, nil
}

// BridgeStatus is the bridge status snapshot exposed to operators
type BridgeStatus struct {
	State     string             `json:"state"`
	Cursor    fibaro.EventCursor `json:"cursor"`
	Polls     uint64             `json:"polls"`
	Restarts  uint64             `json:"restarts"`
	LastError string             `json:"last_error,omitempty"`
	LastBatch time.Time          `json:"last_batch,omitempty"`
}
