package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/messaging-crm/backend/internal/events"
	"github.com/messaging-crm/backend/internal/gateway"
	"github.com/messaging-crm/backend/internal/models"
	"github.com/messaging-crm/backend/internal/repositories"
	"go.uber.org/zap"
)

var (
	// ErrAlreadyRunning rejects a second concurrent loop for one campaign.
	ErrAlreadyRunning = errors.New("campaign dispatch already running")
	// ErrNotRunning is returned for pause/cancel of a campaign with no live loop.
	ErrNotRunning = errors.New("campaign dispatch not running")
	// ErrNoPending rejects starting a campaign with nothing left to send.
	ErrNoPending = errors.New("campaign has no pending recipients")
)

// Dispatcher supervises one runner goroutine per active campaign, keyed by
// campaign ID. Pause and cancel are hard cancellations: they signal the
// runner's stop channel and wait for the loop to acknowledge before
// returning, so no already-scheduled tick can fire afterwards.
//
// The runners map dedupes starts within one process; across processes the
// conditional ready/paused-to-running write in the store is the guard, so
// two replicas racing to start the same campaign cannot both get a loop.
type Dispatcher struct {
	store     Store
	gw        gateway.Gateway
	publisher events.Publisher
	log       *zap.Logger

	mu      sync.Mutex
	runners map[uuid.UUID]*runner
}

func NewDispatcher(store Store, gw gateway.Gateway, publisher events.Publisher, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:     store,
		gw:        gw,
		publisher: publisher,
		log:       log,
		runners:   make(map[uuid.UUID]*runner),
	}
}

// Start launches the dispatch loop for a ready campaign. The connection is
// resolved by the caller so the engine never touches tenant scoping.
func (d *Dispatcher) Start(ctx context.Context, campaign *models.Campaign, conn *models.Connection) error {
	if campaign.Status != models.CampaignStatusReady {
		return fmt.Errorf("cannot start campaign in status %q", campaign.Status)
	}
	return d.launch(ctx, campaign, conn)
}

// Resume re-enters the loop of a paused campaign at the persisted cursor.
func (d *Dispatcher) Resume(ctx context.Context, campaign *models.Campaign, conn *models.Connection) error {
	if campaign.Status != models.CampaignStatusPaused {
		return fmt.Errorf("cannot resume campaign in status %q", campaign.Status)
	}
	return d.launch(ctx, campaign, conn)
}

func (d *Dispatcher) launch(ctx context.Context, campaign *models.Campaign, conn *models.Connection) error {
	if campaign.PendingCount == 0 {
		return ErrNoPending
	}

	d.mu.Lock()
	if existing, ok := d.runners[campaign.ID]; ok {
		select {
		case <-existing.done:
			delete(d.runners, campaign.ID) // retired loop, sweep it
		default:
			d.mu.Unlock()
			return ErrAlreadyRunning
		}
	}
	r := newRunner(d, *campaign, *conn)
	d.runners[campaign.ID] = r
	d.mu.Unlock()

	// Recipients stuck in the in-flight state from an interrupted run go back
	// to pending before the loop claims anything.
	if err := d.store.ReleaseClaims(ctx, campaign.ID); err != nil {
		d.abortLaunch(r)
		return err
	}
	// MarkStarted is a conditional write: it succeeds only from ready or
	// paused, so if another process already owns this campaign's loop the
	// launch fails here instead of starting a second one.
	if err := d.store.MarkStarted(ctx, campaign.ID); err != nil {
		d.abortLaunch(r)
		return err
	}
	d.publishStatus(campaign, campaign.Status, models.CampaignStatusRunning)

	go r.run()
	d.log.Info("campaign dispatch started",
		zap.String("campaign_id", campaign.ID.String()),
		zap.Int("pending", campaign.PendingCount),
		zap.Int("send_delay_seconds", campaign.SendDelaySeconds),
	)
	return nil
}

// Pause requests a stop and waits for the loop to exit. The cursor stays
// exactly where it stood; resume re-enters at the same position.
func (d *Dispatcher) Pause(ctx context.Context, campaignID uuid.UUID) error {
	return d.stop(ctx, campaignID, models.CampaignStatusPaused)
}

// Cancel terminates a running campaign's loop. Cancelling a paused campaign
// (no live loop) is handled by the service layer as a plain status write.
func (d *Dispatcher) Cancel(ctx context.Context, campaignID uuid.UUID) error {
	return d.stop(ctx, campaignID, models.CampaignStatusCancelled)
}

func (d *Dispatcher) stop(ctx context.Context, campaignID uuid.UUID, target string) error {
	d.mu.Lock()
	r, ok := d.runners[campaignID]
	d.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}

	r.requestStop(target)
	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// IsRunning reports whether a live loop exists for the campaign.
func (d *Dispatcher) IsRunning(campaignID uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.runners[campaignID]
	if !ok {
		return false
	}
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// Recover reconciles campaigns left running by an interrupted process: they
// are moved to paused with their claims released, so the resume point is
// well defined. They are not auto-resumed; restarting is an explicit
// operator decision.
func (d *Dispatcher) Recover(ctx context.Context) error {
	campaigns, err := d.store.ListCampaignsByStatus(ctx, models.CampaignStatusRunning)
	if err != nil {
		return err
	}
	for _, c := range campaigns {
		if d.IsRunning(c.ID) {
			continue
		}
		if err := d.store.ReleaseClaims(ctx, c.ID); err != nil {
			return err
		}
		if err := d.store.MarkPaused(ctx, c.ID, time.Now()); err != nil {
			// Settled between the list and the write, by a live loop in
			// another process or by the janitor. Nothing left to reconcile.
			if errors.Is(err, repositories.ErrStatusConflict) {
				continue
			}
			return err
		}
		d.publishStatus(&c, models.CampaignStatusRunning, models.CampaignStatusPaused)
		d.log.Warn("recovered interrupted campaign",
			zap.String("campaign_id", c.ID.String()),
			zap.Int("last_processed_index", c.LastProcessedIndex),
		)
	}
	return nil
}

// Shutdown pauses every live loop and waits for acknowledgment.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	running := make([]*runner, 0, len(d.runners))
	for _, r := range d.runners {
		running = append(running, r)
	}
	d.mu.Unlock()

	for _, r := range running {
		r.requestStop(models.CampaignStatusPaused)
	}
	for _, r := range running {
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// abortLaunch retires a runner whose loop never started. done must close so
// a stop that already grabbed the runner does not wait out its context.
func (d *Dispatcher) abortLaunch(r *runner) {
	d.removeRunner(r.campaign.ID)
	close(r.done)
}

func (d *Dispatcher) removeRunner(campaignID uuid.UUID) {
	d.mu.Lock()
	delete(d.runners, campaignID)
	d.mu.Unlock()
}

func (d *Dispatcher) publishStatus(campaign *models.Campaign, oldStatus, newStatus string) {
	_ = d.publisher.Publish(context.Background(), events.StreamCampaign, events.Event{
		Type: events.EventCampaignStatusChanged,
		Payload: map[string]any{
			"tenant_id":   campaign.TenantID.String(),
			"campaign_id": campaign.ID.String(),
			"old_status":  oldStatus,
			"new_status":  newStatus,
		},
	})
}
