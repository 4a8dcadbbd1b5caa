package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record is one outbox row. Rows are inserted inside the transaction that
// produced the event and published asynchronously by the worker.
type Record struct {
	ID        uuid.UUID
	DraftID   uuid.UUID
	EventType string
	Payload   json.RawMessage
	CreatedAt time.Time
	SentAt    *time.Time
	Attempts  int
}

// NewRecord builds an unsent record with a serialized payload.
func NewRecord(draftID uuid.UUID, eventType string, payload any, now time.Time) (Record, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Record{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return Record{
		ID:        uuid.New(),
		DraftID:   draftID,
		EventType: eventType,
		Payload:   data,
		CreatedAt: now,
	}, nil
}
