package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/messaging-crm/backend/internal/events"
	"github.com/messaging-crm/backend/internal/gateway"
	"github.com/messaging-crm/backend/internal/models"
	"github.com/messaging-crm/backend/internal/repositories"
	"go.uber.org/zap"
)

// runner walks one campaign's pending recipients in import order, one tick at
// a time. Ticks are strictly sequential within a campaign; pacing between
// ticks is a timer the stop channel preempts.
type runner struct {
	d        *Dispatcher
	campaign models.Campaign
	conn     models.Connection

	stopOnce sync.Once
	stop     chan struct{}
	target   string // status to settle into once the loop observes stop
	done     chan struct{}

	sent   int
	failed int
}

func newRunner(d *Dispatcher, campaign models.Campaign, conn models.Connection) *runner {
	return &runner{
		d:        d,
		campaign: campaign,
		conn:     conn,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// requestStop records the status the campaign should settle into and closes
// the stop channel. Safe to call more than once; the first caller wins.
func (r *runner) requestStop(target string) {
	r.stopOnce.Do(func() {
		r.target = target
		close(r.stop)
	})
}

func (r *runner) run() {
	defer close(r.done)
	defer r.d.removeRunner(r.campaign.ID)

	ctx := context.Background()
	log := r.d.log.With(zap.String("campaign_id", r.campaign.ID.String()))

	for {
		// Stop wins over the next claim: nothing is attempted past the
		// point the operator paused or cancelled.
		select {
		case <-r.stop:
			r.settle(ctx, log)
			return
		default:
		}

		rec, err := r.d.store.ClaimNextRecipient(ctx, r.campaign.ID)
		if errors.Is(err, repositories.ErrNoPendingRecipients) {
			r.complete(ctx, log)
			return
		}
		if err != nil {
			r.fail(ctx, log, nil, err)
			return
		}

		outcome, err := r.d.gw.Send(ctx, gateway.SendRequest{
			SessionID:   r.conn.SessionID,
			Channel:     r.conn.Channel,
			Number:      rec.Number,
			Name:        rec.Name,
			ContentKind: r.campaign.ContentKind,
			Body:        r.campaign.ContentBody,
			Caption:     r.campaign.Caption,
		})
		if err != nil {
			// The adapter could not attempt the send at all. That is a
			// campaign-level fault, unlike a rejected delivery.
			r.fail(ctx, log, rec, err)
			return
		}

		if err := r.commitTick(ctx, rec, outcome); err != nil {
			r.fail(ctx, log, rec, err)
			return
		}

		if outcome.Delivered {
			r.sent++
		} else {
			r.failed++
			log.Debug("recipient delivery failed",
				zap.String("number", rec.Number),
				zap.String("detail", outcome.Detail),
			)
		}
		r.publishProgress(rec, outcome)

		timer := time.NewTimer(r.campaign.SendDelay())
		select {
		case <-r.stop:
			timer.Stop()
			r.settle(ctx, log)
			return
		case <-timer.C:
		}
	}
}

func (r *runner) commitTick(ctx context.Context, rec *models.Recipient, outcome gateway.Outcome) error {
	res := repositories.TickResult{
		CampaignID:  r.campaign.ID,
		RecipientID: rec.ID,
		Delivered:   outcome.Delivered,
		SentAt:      time.Now(),
		LogEntry: models.DeliveryLogEntry{
			CampaignID:  r.campaign.ID,
			RecipientID: &rec.ID,
			Number:      rec.Number,
			Name:        rec.Name,
			Message:     outcome.Detail,
		},
	}
	if outcome.Delivered {
		res.LogEntry.Outcome = models.DeliveryOutcomeSuccess
	} else {
		detail := outcome.Detail
		res.ErrorMessage = &detail
		res.LogEntry.Outcome = models.DeliveryOutcomeFailed
	}
	return r.d.store.CommitTick(ctx, res)
}

// settle finishes a stopped loop: the claimed-but-uncommitted recipient (if
// any) goes back to pending and the campaign lands on the requested status.
func (r *runner) settle(ctx context.Context, log *zap.Logger) {
	if err := r.d.store.ReleaseClaims(ctx, r.campaign.ID); err != nil {
		r.fail(ctx, log, nil, err)
		return
	}

	switch r.target {
	case models.CampaignStatusCancelled:
		if err := r.d.store.UpdateStatus(ctx, r.campaign.ID, models.CampaignStatusCancelled); err != nil {
			r.fail(ctx, log, nil, err)
			return
		}
		log.Info("campaign dispatch cancelled", zap.Int("sent", r.sent), zap.Int("failed", r.failed))
	default:
		if err := r.d.store.MarkPaused(ctx, r.campaign.ID, time.Now()); err != nil {
			r.fail(ctx, log, nil, err)
			return
		}
		log.Info("campaign dispatch paused", zap.Int("sent", r.sent), zap.Int("failed", r.failed))
	}
	r.d.publishStatus(&r.campaign, models.CampaignStatusRunning, r.target)
}

func (r *runner) complete(ctx context.Context, log *zap.Logger) {
	if err := r.d.store.MarkCompleted(ctx, r.campaign.ID, time.Now()); err != nil {
		r.fail(ctx, log, nil, err)
		return
	}
	r.d.publishStatus(&r.campaign, models.CampaignStatusRunning, models.CampaignStatusCompleted)
	log.Info("campaign dispatch completed", zap.Int("sent", r.sent), zap.Int("failed", r.failed))
}

// fail is the campaign-level fault path: the loop halts, the campaign is
// marked for manual intervention, the process survives. The fault lands in
// the delivery log too, so the halt is visible next to the sends it
// interrupted. rec is nil when the fault precedes a claim.
func (r *runner) fail(ctx context.Context, log *zap.Logger, rec *models.Recipient, cause error) {
	log.Error("campaign dispatch halted", zap.Error(cause))
	_ = r.d.store.ReleaseClaims(ctx, r.campaign.ID)

	entry := models.DeliveryLogEntry{
		CampaignID: r.campaign.ID,
		Outcome:    models.DeliveryOutcomeError,
		Message:    cause.Error(),
	}
	if rec != nil {
		entry.RecipientID = &rec.ID
		entry.Number = rec.Number
		entry.Name = rec.Name
	}
	if err := r.d.store.AppendLog(ctx, entry); err != nil {
		log.Error("failed to log campaign fault", zap.Error(err))
	}

	if err := r.d.store.MarkError(ctx, r.campaign.ID, cause.Error()); err != nil {
		log.Error("failed to mark campaign error", zap.Error(err))
	}
	r.d.publishStatus(&r.campaign, models.CampaignStatusRunning, models.CampaignStatusError)
}

func (r *runner) publishProgress(rec *models.Recipient, outcome gateway.Outcome) {
	_ = r.d.publisher.Publish(context.Background(), events.StreamCampaign, events.Event{
		Type: events.EventCampaignProgress,
		Payload: map[string]any{
			"tenant_id":   r.campaign.TenantID.String(),
			"campaign_id": r.campaign.ID.String(),
			"number":      rec.Number,
			"position":    rec.Position,
			"delivered":   outcome.Delivered,
			"sent":        r.sent,
			"failed":      r.failed,
		},
	})
}
