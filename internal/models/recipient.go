package models

import (
	"time"

	"github.com/google/uuid"
)

// Recipient statuses. "sending" marks a recipient claimed by a dispatch tick
// that has not committed yet; it never survives a clean shutdown.
const (
	RecipientStatusPending = "pending"
	RecipientStatusSending = "sending"
	RecipientStatusSent    = "sent"
	RecipientStatusFailed  = "failed"
)

type Recipient struct {
	ID           uuid.UUID  `json:"id"`
	CampaignID   uuid.UUID  `json:"campaign_id"`
	Position     int        `json:"position"` // import order, dispatch order
	Number       string     `json:"number"`   // normalized digits, 10-15
	Name         *string    `json:"name,omitempty"`
	Status       string     `json:"status"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
