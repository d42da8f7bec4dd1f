package events

import "context"

// Streams
const (
	StreamCampaign = "events:campaign"
)

// Event types
const (
	EventCampaignStatusChanged = "campaign_status_changed"
	EventCampaignProgress      = "campaign_progress"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

// NopPublisher drops events. Used where live progress push is not wired,
// e.g. the janitor worker and tests.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, Event) error { return nil }
