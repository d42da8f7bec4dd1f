package models

import (
	"testing"
	"time"
)

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		// Happy path
		{CampaignStatusDraft, CampaignStatusReady, true},
		{CampaignStatusReady, CampaignStatusRunning, true},
		{CampaignStatusRunning, CampaignStatusCompleted, true},
		{CampaignStatusRunning, CampaignStatusPaused, true},
		{CampaignStatusPaused, CampaignStatusRunning, true},

		// Cancellation paths
		{CampaignStatusRunning, CampaignStatusCancelled, true},
		{CampaignStatusPaused, CampaignStatusCancelled, true},

		// Fault path
		{CampaignStatusRunning, CampaignStatusError, true},

		// Invalid transitions
		{CampaignStatusDraft, CampaignStatusRunning, false},
		{CampaignStatusDraft, CampaignStatusPaused, false},
		{CampaignStatusReady, CampaignStatusPaused, false},
		{CampaignStatusReady, CampaignStatusCancelled, false},
		{CampaignStatusPaused, CampaignStatusCompleted, false},
		{CampaignStatusPaused, CampaignStatusError, false},
		{CampaignStatusCompleted, CampaignStatusRunning, false},
		{CampaignStatusCancelled, CampaignStatusRunning, false},
		{CampaignStatusError, CampaignStatusRunning, false},
		{CampaignStatusCompleted, CampaignStatusCancelled, false},
		{"nonexistent", CampaignStatusRunning, false},
		{CampaignStatusRunning, "nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestAllStatusesHaveTransitionEntry(t *testing.T) {
	allStatuses := []string{
		CampaignStatusDraft, CampaignStatusReady, CampaignStatusRunning,
		CampaignStatusPaused, CampaignStatusCompleted, CampaignStatusCancelled,
		CampaignStatusError,
	}

	for _, status := range allStatuses {
		if _, ok := ValidCampaignTransitions[status]; !ok {
			t.Errorf("status %q missing from ValidCampaignTransitions map", status)
		}
	}
}

func TestTerminalStatusesHaveNoTransitions(t *testing.T) {
	terminal := []string{CampaignStatusCompleted, CampaignStatusCancelled, CampaignStatusError}
	for _, status := range terminal {
		transitions := ValidCampaignTransitions[status]
		if len(transitions) != 0 {
			t.Errorf("terminal status %q should have no transitions, got %v", status, transitions)
		}
	}
}

func TestSendDelay(t *testing.T) {
	c := Campaign{SendDelaySeconds: 5}
	if c.SendDelay() != 5*time.Second {
		t.Errorf("SendDelay() = %v, want 5s", c.SendDelay())
	}
}

func TestIsValidContentKind(t *testing.T) {
	for _, kind := range []string{ContentKindText, ContentKindImage, ContentKindAudio, ContentKindDocument} {
		if !IsValidContentKind(kind) {
			t.Errorf("IsValidContentKind(%q) = false, want true", kind)
		}
	}
	if IsValidContentKind("video") {
		t.Error(`IsValidContentKind("video") = true, want false`)
	}
}
