package models

import (
	"time"

	"github.com/google/uuid"
)

// Channel kinds. Only WhatsApp is wired to a gateway; other kinds are
// rejected at send time.
const (
	ChannelWhatsApp  = "whatsapp"
	ChannelTelegram  = "telegram"
	ChannelInstagram = "instagram"
)

var AllChannels = []string{ChannelWhatsApp, ChannelTelegram, ChannelInstagram}

func IsValidChannel(ch string) bool {
	for _, c := range AllChannels {
		if c == ch {
			return true
		}
	}
	return false
}

// Connection statuses
const (
	ConnectionStatusConnected    = "connected"
	ConnectionStatusDisconnected = "disconnected"
)

// Connection is an outbound channel session a campaign sends through.
type Connection struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	Name      string    `json:"name"`
	Channel   string    `json:"channel"` // whatsapp / telegram / instagram
	SessionID string    `json:"session_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
