package models

import (
	"time"

	"github.com/google/uuid"
)

// Campaign statuses
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusReady     = "ready"
	CampaignStatusRunning   = "running"
	CampaignStatusPaused    = "paused"
	CampaignStatusCompleted = "completed"
	CampaignStatusCancelled = "cancelled"
	CampaignStatusError     = "error"
)

// Content kinds
const (
	ContentKindText     = "text"
	ContentKindImage    = "image"
	ContentKindAudio    = "audio"
	ContentKindDocument = "document"
)

// Valid state transitions: from -> []to
var ValidCampaignTransitions = map[string][]string{
	CampaignStatusDraft:     {CampaignStatusReady},
	CampaignStatusReady:     {CampaignStatusRunning},
	CampaignStatusRunning:   {CampaignStatusPaused, CampaignStatusCompleted, CampaignStatusCancelled, CampaignStatusError},
	CampaignStatusPaused:    {CampaignStatusRunning, CampaignStatusCancelled},
	CampaignStatusCompleted: {},
	CampaignStatusCancelled: {},
	CampaignStatusError:     {},
}

func IsValidTransition(from, to string) bool {
	allowed, ok := ValidCampaignTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

func IsValidContentKind(kind string) bool {
	switch kind {
	case ContentKindText, ContentKindImage, ContentKindAudio, ContentKindDocument:
		return true
	}
	return false
}

// Inter-send delay bounds
const (
	MinSendDelaySeconds = 2
	MaxSendDelaySeconds = 120
)

type Campaign struct {
	ID                 uuid.UUID  `json:"id"`
	TenantID           uuid.UUID  `json:"tenant_id"`
	ConnectionID       uuid.UUID  `json:"connection_id"`
	Name               string     `json:"name"`
	ContentKind        string     `json:"content_kind"` // text / image / audio / document
	ContentBody        string     `json:"content_body"`
	Caption            *string    `json:"caption,omitempty"`
	SendDelaySeconds   int        `json:"send_delay_seconds"`
	Status             string     `json:"status"`
	TotalRecipients    int        `json:"total_recipients"`
	SentCount          int        `json:"sent_count"`
	FailedCount        int        `json:"failed_count"`
	PendingCount       int        `json:"pending_count"`
	LastProcessedIndex int        `json:"last_processed_index"`
	ErrorMessage       *string    `json:"error_message,omitempty"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	PausedAt           *time.Time `json:"paused_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func (c *Campaign) SendDelay() time.Duration {
	return time.Duration(c.SendDelaySeconds) * time.Second
}
