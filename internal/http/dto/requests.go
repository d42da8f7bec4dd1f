package dto

// Campaigns

type CreateCampaignRequest struct {
	Name             string  `json:"name"`
	ConnectionID     string  `json:"connection_id"`
	ContentKind      string  `json:"content_kind"` // text / image / audio / document
	ContentBody      string  `json:"content_body"`
	Caption          *string `json:"caption,omitempty"`
	SendDelaySeconds int     `json:"send_delay_seconds"`
}

type UpdateCampaignRequest struct {
	Name             string  `json:"name"`
	ConnectionID     string  `json:"connection_id"`
	ContentKind      string  `json:"content_kind"`
	ContentBody      string  `json:"content_body"`
	Caption          *string `json:"caption,omitempty"`
	SendDelaySeconds int     `json:"send_delay_seconds"`
}

// Connections

type CreateConnectionRequest struct {
	Name      string `json:"name"`
	Channel   string `json:"channel"` // whatsapp / telegram / instagram
	SessionID string `json:"session_id"`
}

type UpdateConnectionRequest struct {
	Name      string `json:"name"`
	Channel   string `json:"channel,omitempty"`
	SessionID string `json:"session_id"`
	Status    string `json:"status,omitempty"`
}
