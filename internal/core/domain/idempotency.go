package domain

import (
	"time"

	"github.com/google/uuid"
)

// IdempotencyLog stores the result of an escrow creation so a retried request
// returns the same record instead of debiting twice.
type IdempotencyLog struct {
	Key          string    `json:"key"` // Format: "client_id:idempotency_key"
	EscrowID     uuid.UUID `json:"escrow_id"`
	ResponseJSON []byte    `json:"response_json"`
	CreatedAt    time.Time `json:"created_at"`
}

// BuildIdempotencyKey constructs the standard key format.
func BuildIdempotencyKey(clientID uuid.UUID, requestKey string) string {
	return clientID.String() + ":" + requestKey
}
