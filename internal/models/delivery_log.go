package models

import (
	"time"

	"github.com/google/uuid"
)

// Delivery outcomes
const (
	DeliveryOutcomeSuccess = "success"
	DeliveryOutcomeFailed  = "failed"
	DeliveryOutcomeError   = "error"
)

// DeliveryLogEntry is the append-only per-attempt audit record. It is never
// consulted by the resume logic; the campaign counters and cursor are.
type DeliveryLogEntry struct {
	ID          uuid.UUID  `json:"id"`
	CampaignID  uuid.UUID  `json:"campaign_id"`
	RecipientID *uuid.UUID `json:"recipient_id,omitempty"`
	Number      string     `json:"number"`
	Name        *string    `json:"name,omitempty"`
	Outcome     string     `json:"outcome"` // success / failed / error
	Message     string     `json:"message"`
	CreatedAt   time.Time  `json:"created_at"`
}
