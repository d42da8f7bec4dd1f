package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/messaging-crm/backend/internal/events"
	"github.com/messaging-crm/backend/internal/gateway"
	"github.com/messaging-crm/backend/internal/models"
	"github.com/messaging-crm/backend/internal/repositories"
	"go.uber.org/zap"
)

// fakeStore keeps one campaign and its recipients in memory and mirrors the
// transactional tick semantics of the Postgres repositories.
type fakeStore struct {
	mu         sync.Mutex
	campaign   *models.Campaign
	recipients []*models.Recipient
	logEntries []models.DeliveryLogEntry

	committed chan struct{}
	settled   chan string
}

func newFakeStore(pending int, delaySeconds int) *fakeStore {
	campaignID := uuid.New()
	s := &fakeStore{
		campaign: &models.Campaign{
			ID:               campaignID,
			TenantID:         uuid.New(),
			ConnectionID:     uuid.New(),
			Name:             "launch blast",
			Status:           models.CampaignStatusReady,
			ContentKind:      models.ContentKindText,
			ContentBody:      "hello",
			SendDelaySeconds: delaySeconds,
			TotalRecipients:  pending,
			PendingCount:     pending,
		},
		committed: make(chan struct{}, pending),
		settled:   make(chan string, 4),
	}
	for i := 0; i < pending; i++ {
		s.recipients = append(s.recipients, &models.Recipient{
			ID:         uuid.New(),
			CampaignID: campaignID,
			Position:   i,
			Number:     fmt.Sprintf("551199999%04d", i),
			Status:     models.RecipientStatusPending,
		})
	}
	return s
}

func (s *fakeStore) snapshot() (models.Campaign, models.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.campaign, models.Connection{
		ID:        s.campaign.ConnectionID,
		TenantID:  s.campaign.TenantID,
		Channel:   models.ChannelWhatsApp,
		SessionID: "session-1",
	}
}

func (s *fakeStore) ListCampaignsByStatus(_ context.Context, status string) ([]models.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.campaign.Status == status {
		return []models.Campaign{*s.campaign}, nil
	}
	return nil, nil
}

func (s *fakeStore) ClaimNextRecipient(_ context.Context, campaignID uuid.UUID) (*models.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.recipients {
		if rec.Status == models.RecipientStatusPending {
			rec.Status = models.RecipientStatusSending
			cp := *rec
			return &cp, nil
		}
	}
	return nil, repositories.ErrNoPendingRecipients
}

func (s *fakeStore) ReleaseClaims(_ context.Context, campaignID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.recipients {
		if rec.Status == models.RecipientStatusSending {
			rec.Status = models.RecipientStatusPending
		}
	}
	return nil
}

func (s *fakeStore) CommitTick(_ context.Context, res repositories.TickResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.recipients {
		if rec.ID != res.RecipientID {
			continue
		}
		if res.Delivered {
			rec.Status = models.RecipientStatusSent
			sentAt := res.SentAt
			rec.SentAt = &sentAt
			s.campaign.SentCount++
		} else {
			rec.Status = models.RecipientStatusFailed
			rec.ErrorMessage = res.ErrorMessage
			s.campaign.FailedCount++
		}
		s.campaign.PendingCount--
		s.campaign.LastProcessedIndex++
		s.logEntries = append(s.logEntries, res.LogEntry)
		s.committed <- struct{}{}
		return nil
	}
	return fmt.Errorf("recipient %s not found", res.RecipientID)
}

// The status writers mirror the conditional SQL updates: an origin state the
// state machine forbids yields ErrStatusConflict and leaves the row alone.
func (s *fakeStore) MarkStarted(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !models.IsValidTransition(s.campaign.Status, models.CampaignStatusRunning) {
		return repositories.ErrStatusConflict
	}
	s.campaign.Status = models.CampaignStatusRunning
	return nil
}

func (s *fakeStore) MarkPaused(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	if !models.IsValidTransition(s.campaign.Status, models.CampaignStatusPaused) {
		s.mu.Unlock()
		return repositories.ErrStatusConflict
	}
	s.campaign.Status = models.CampaignStatusPaused
	s.campaign.PausedAt = &at
	s.mu.Unlock()
	s.settled <- models.CampaignStatusPaused
	return nil
}

func (s *fakeStore) MarkCompleted(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	if !models.IsValidTransition(s.campaign.Status, models.CampaignStatusCompleted) {
		s.mu.Unlock()
		return repositories.ErrStatusConflict
	}
	s.campaign.Status = models.CampaignStatusCompleted
	s.campaign.CompletedAt = &at
	s.mu.Unlock()
	s.settled <- models.CampaignStatusCompleted
	return nil
}

func (s *fakeStore) MarkError(_ context.Context, id uuid.UUID, diagnostic string) error {
	s.mu.Lock()
	if !models.IsValidTransition(s.campaign.Status, models.CampaignStatusError) {
		s.mu.Unlock()
		return repositories.ErrStatusConflict
	}
	s.campaign.Status = models.CampaignStatusError
	s.campaign.ErrorMessage = &diagnostic
	s.mu.Unlock()
	s.settled <- models.CampaignStatusError
	return nil
}

func (s *fakeStore) UpdateStatus(_ context.Context, id uuid.UUID, status string) error {
	s.mu.Lock()
	if !models.IsValidTransition(s.campaign.Status, status) {
		s.mu.Unlock()
		return repositories.ErrStatusConflict
	}
	s.campaign.Status = status
	s.mu.Unlock()
	s.settled <- status
	return nil
}

func (s *fakeStore) AppendLog(_ context.Context, entry models.DeliveryLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logEntries = append(s.logEntries, entry)
	return nil
}

type fakeGateway struct {
	mu    sync.Mutex
	sends []gateway.SendRequest
	fn    func(gateway.SendRequest) (gateway.Outcome, error)
}

func (g *fakeGateway) Send(_ context.Context, req gateway.SendRequest) (gateway.Outcome, error) {
	g.mu.Lock()
	g.sends = append(g.sends, req)
	fn := g.fn
	g.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return gateway.Success("sent"), nil
}

func (g *fakeGateway) sendCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sends)
}

func newTestDispatcher(store Store, gw gateway.Gateway) *Dispatcher {
	return NewDispatcher(store, gw, events.NopPublisher{}, zap.NewNop())
}

func waitSettled(t *testing.T, store *fakeStore, want string) {
	t.Helper()
	select {
	case got := <-store.settled:
		if got != want {
			t.Fatalf("campaign settled as %q, want %q", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("campaign never settled as %q", want)
	}
}

func waitCommitted(t *testing.T, store *fakeStore) {
	t.Helper()
	select {
	case <-store.committed:
	case <-time.After(5 * time.Second):
		t.Fatal("no tick committed in time")
	}
}

func TestRunToCompletion(t *testing.T) {
	store := newFakeStore(3, 0)
	gw := &fakeGateway{}
	d := newTestDispatcher(store, gw)

	campaign, conn := store.snapshot()
	if err := d.Start(context.Background(), &campaign, &conn); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitSettled(t, store, models.CampaignStatusCompleted)

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.campaign.SentCount != 3 || store.campaign.FailedCount != 0 || store.campaign.PendingCount != 0 {
		t.Errorf("counters sent=%d failed=%d pending=%d, want 3/0/0",
			store.campaign.SentCount, store.campaign.FailedCount, store.campaign.PendingCount)
	}
	if store.campaign.LastProcessedIndex != 3 {
		t.Errorf("cursor = %d, want 3", store.campaign.LastProcessedIndex)
	}
	if store.campaign.CompletedAt == nil {
		t.Error("completed_at not set")
	}
	for _, rec := range store.recipients {
		if rec.Status != models.RecipientStatusSent {
			t.Errorf("recipient %d status = %q, want sent", rec.Position, rec.Status)
		}
		if rec.SentAt == nil {
			t.Errorf("recipient %d has no sent_at", rec.Position)
		}
	}
	if len(store.logEntries) != 3 {
		t.Errorf("delivery log has %d entries, want 3", len(store.logEntries))
	}
}

func TestRejectedDeliveryDoesNotHaltCampaign(t *testing.T) {
	store := newFakeStore(3, 0)
	badNumber := store.recipients[1].Number
	gw := &fakeGateway{fn: func(req gateway.SendRequest) (gateway.Outcome, error) {
		if req.Number == badNumber {
			return gateway.Failure("number not on whatsapp"), nil
		}
		return gateway.Success("sent"), nil
	}}
	d := newTestDispatcher(store, gw)

	campaign, conn := store.snapshot()
	if err := d.Start(context.Background(), &campaign, &conn); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitSettled(t, store, models.CampaignStatusCompleted)

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.campaign.SentCount != 2 || store.campaign.FailedCount != 1 || store.campaign.PendingCount != 0 {
		t.Errorf("counters sent=%d failed=%d pending=%d, want 2/1/0",
			store.campaign.SentCount, store.campaign.FailedCount, store.campaign.PendingCount)
	}
	rec := store.recipients[1]
	if rec.Status != models.RecipientStatusFailed {
		t.Errorf("rejected recipient status = %q, want failed", rec.Status)
	}
	if rec.ErrorMessage == nil || *rec.ErrorMessage != "number not on whatsapp" {
		t.Errorf("rejected recipient error = %v", rec.ErrorMessage)
	}
	wantOutcomes := []string{
		models.DeliveryOutcomeSuccess,
		models.DeliveryOutcomeFailed,
		models.DeliveryOutcomeSuccess,
	}
	if len(store.logEntries) != len(wantOutcomes) {
		t.Fatalf("delivery log has %d entries, want %d", len(store.logEntries), len(wantOutcomes))
	}
	for i, entry := range store.logEntries {
		if entry.Outcome != wantOutcomes[i] {
			t.Errorf("log entry %d outcome = %q, want %q", i, entry.Outcome, wantOutcomes[i])
		}
	}
}

func TestGatewayFaultHaltsCampaign(t *testing.T) {
	store := newFakeStore(3, 0)
	gw := &fakeGateway{fn: func(req gateway.SendRequest) (gateway.Outcome, error) {
		if len(req.Number) > 0 && req.Number[len(req.Number)-1] == '1' {
			return gateway.Outcome{}, errors.New("gateway unreachable")
		}
		return gateway.Success("sent"), nil
	}}
	d := newTestDispatcher(store, gw)

	campaign, conn := store.snapshot()
	if err := d.Start(context.Background(), &campaign, &conn); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitSettled(t, store, models.CampaignStatusError)

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.campaign.ErrorMessage == nil || *store.campaign.ErrorMessage != "gateway unreachable" {
		t.Errorf("campaign error = %v, want gateway unreachable", store.campaign.ErrorMessage)
	}
	// The recipient whose send never committed goes back to pending.
	if store.recipients[1].Status != models.RecipientStatusPending {
		t.Errorf("faulted recipient status = %q, want pending", store.recipients[1].Status)
	}
	if store.campaign.SentCount != 1 {
		t.Errorf("sent = %d, want 1", store.campaign.SentCount)
	}
	// The halt shows up in the delivery log, after the one committed send.
	if len(store.logEntries) != 2 {
		t.Fatalf("delivery log has %d entries, want 2", len(store.logEntries))
	}
	last := store.logEntries[1]
	if last.Outcome != models.DeliveryOutcomeError {
		t.Errorf("fault entry outcome = %q, want error", last.Outcome)
	}
	if last.Message != "gateway unreachable" {
		t.Errorf("fault entry message = %q, want gateway unreachable", last.Message)
	}
	if last.Number != store.recipients[1].Number {
		t.Errorf("fault entry number = %q, want %q", last.Number, store.recipients[1].Number)
	}
}

func TestPauseHoldsCursor(t *testing.T) {
	store := newFakeStore(3, 60)
	gw := &fakeGateway{}
	d := newTestDispatcher(store, gw)

	campaign, conn := store.snapshot()
	if err := d.Start(context.Background(), &campaign, &conn); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// First tick commits, then the loop parks on the send-delay timer.
	waitCommitted(t, store)

	if err := d.Pause(context.Background(), campaign.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	waitSettled(t, store, models.CampaignStatusPaused)

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.campaign.Status != models.CampaignStatusPaused {
		t.Fatalf("status = %q, want paused", store.campaign.Status)
	}
	if store.campaign.SentCount != 1 || store.campaign.PendingCount != 2 {
		t.Errorf("counters sent=%d pending=%d, want 1/2", store.campaign.SentCount, store.campaign.PendingCount)
	}
	if store.campaign.LastProcessedIndex != 1 {
		t.Errorf("cursor = %d, want 1", store.campaign.LastProcessedIndex)
	}
	if store.campaign.PausedAt == nil {
		t.Error("paused_at not set")
	}
	for _, rec := range store.recipients {
		if rec.Status == models.RecipientStatusSending {
			t.Errorf("recipient %d left in sending after pause", rec.Position)
		}
	}
	if gw.sendCount() != 1 {
		t.Errorf("gateway saw %d sends after pause, want 1", gw.sendCount())
	}
}

func TestPauseIsIdempotentViaNotRunning(t *testing.T) {
	store := newFakeStore(2, 60)
	gw := &fakeGateway{}
	d := newTestDispatcher(store, gw)

	campaign, conn := store.snapshot()
	if err := d.Start(context.Background(), &campaign, &conn); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitCommitted(t, store)
	if err := d.Pause(context.Background(), campaign.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	waitSettled(t, store, models.CampaignStatusPaused)

	// A second pause has no loop to stop; the service layer treats this
	// as a no-op for already-paused campaigns.
	if err := d.Pause(context.Background(), campaign.ID); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("second Pause = %v, want ErrNotRunning", err)
	}
}

func TestCancelStopsLoop(t *testing.T) {
	store := newFakeStore(3, 60)
	gw := &fakeGateway{}
	d := newTestDispatcher(store, gw)

	campaign, conn := store.snapshot()
	if err := d.Start(context.Background(), &campaign, &conn); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitCommitted(t, store)

	if err := d.Cancel(context.Background(), campaign.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	waitSettled(t, store, models.CampaignStatusCancelled)

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.campaign.Status != models.CampaignStatusCancelled {
		t.Fatalf("status = %q, want cancelled", store.campaign.Status)
	}
	// Unsent recipients stay pending; cancellation does not rewrite history.
	if store.campaign.SentCount != 1 || store.campaign.PendingCount != 2 {
		t.Errorf("counters sent=%d pending=%d, want 1/2", store.campaign.SentCount, store.campaign.PendingCount)
	}
}

func TestResumeContinuesWithoutResending(t *testing.T) {
	store := newFakeStore(3, 60)
	gw := &fakeGateway{}
	d := newTestDispatcher(store, gw)

	campaign, conn := store.snapshot()
	if err := d.Start(context.Background(), &campaign, &conn); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitCommitted(t, store)
	if err := d.Pause(context.Background(), campaign.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	waitSettled(t, store, models.CampaignStatusPaused)

	// Resume from the persisted snapshot with zero delay so the tail drains.
	store.mu.Lock()
	store.campaign.SendDelaySeconds = 0
	resumed := *store.campaign
	store.mu.Unlock()

	if err := d.Resume(context.Background(), &resumed, &conn); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitSettled(t, store, models.CampaignStatusCompleted)

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.campaign.SentCount != 3 || store.campaign.PendingCount != 0 {
		t.Errorf("counters sent=%d pending=%d, want 3/0", store.campaign.SentCount, store.campaign.PendingCount)
	}
	if len(store.logEntries) != 3 {
		t.Fatalf("delivery log has %d entries, want 3", len(store.logEntries))
	}
	// Each number was attempted exactly once across both runs.
	gw.mu.Lock()
	seen := map[string]int{}
	for _, req := range gw.sends {
		seen[req.Number]++
	}
	gw.mu.Unlock()
	for number, n := range seen {
		if n != 1 {
			t.Errorf("number %s attempted %d times", number, n)
		}
	}
}

func TestStartGuards(t *testing.T) {
	store := newFakeStore(2, 60)
	gw := &fakeGateway{}
	d := newTestDispatcher(store, gw)
	ctx := context.Background()

	campaign, conn := store.snapshot()

	draft := campaign
	draft.Status = models.CampaignStatusDraft
	if err := d.Start(ctx, &draft, &conn); err == nil {
		t.Error("Start accepted a draft campaign")
	}

	drained := campaign
	drained.PendingCount = 0
	if err := d.Start(ctx, &drained, &conn); !errors.Is(err, ErrNoPending) {
		t.Errorf("Start with no pending = %v, want ErrNoPending", err)
	}

	if err := d.Start(ctx, &campaign, &conn); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := d.Start(ctx, &campaign, &conn); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}
	if !d.IsRunning(campaign.ID) {
		t.Error("IsRunning = false for a live loop")
	}

	if err := d.Cancel(ctx, campaign.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
}

func TestRecoverParksInterruptedCampaign(t *testing.T) {
	store := newFakeStore(3, 0)
	store.campaign.Status = models.CampaignStatusRunning
	store.recipients[0].Status = models.RecipientStatusSending

	d := newTestDispatcher(store, &fakeGateway{})
	if err := d.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.campaign.Status != models.CampaignStatusPaused {
		t.Errorf("status = %q, want paused", store.campaign.Status)
	}
	if store.recipients[0].Status != models.RecipientStatusPending {
		t.Errorf("claimed recipient status = %q, want pending", store.recipients[0].Status)
	}
}

func TestShutdownPausesLiveLoops(t *testing.T) {
	store := newFakeStore(3, 60)
	gw := &fakeGateway{}
	d := newTestDispatcher(store, gw)

	campaign, conn := store.snapshot()
	if err := d.Start(context.Background(), &campaign, &conn); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitCommitted(t, store)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.campaign.Status != models.CampaignStatusPaused {
		t.Errorf("status after shutdown = %q, want paused", store.campaign.Status)
	}
}

// gatedStartStore holds the start write open until the gate closes, then
// fails it, keeping the launch mid-flight long enough for a stop to race it.
type gatedStartStore struct {
	*fakeStore
	gate chan struct{}
}

func (s *gatedStartStore) MarkStarted(ctx context.Context, id uuid.UUID) error {
	<-s.gate
	return errors.New("campaign row gone")
}

func TestStopDuringFailedLaunchDoesNotHang(t *testing.T) {
	store := newFakeStore(2, 60)
	gated := &gatedStartStore{fakeStore: store, gate: make(chan struct{})}
	d := newTestDispatcher(gated, &fakeGateway{})

	campaign, conn := store.snapshot()
	startErr := make(chan error, 1)
	go func() { startErr <- d.Start(context.Background(), &campaign, &conn) }()

	// Wait for the runner to be published while the launch is still writing.
	deadline := time.Now().Add(5 * time.Second)
	for {
		d.mu.Lock()
		_, ok := d.runners[campaign.ID]
		d.mu.Unlock()
		if ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("runner never appeared")
		}
		time.Sleep(time.Millisecond)
	}

	stopErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stopErr <- d.Pause(ctx, campaign.ID)
	}()
	time.Sleep(10 * time.Millisecond)
	close(gated.gate)

	if err := <-startErr; err == nil {
		t.Fatal("Start succeeded despite a failed store write")
	}
	// Pause either caught the aborted runner (nil) or missed it
	// (ErrNotRunning); what it must never do is wait out its context.
	select {
	case err := <-stopErr:
		if errors.Is(err, context.DeadlineExceeded) {
			t.Fatal("Pause waited out its context on an aborted launch")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Pause still blocked after the launch aborted")
	}
}

func TestStartRefusedWhenAnotherDispatcherOwnsCampaign(t *testing.T) {
	store := newFakeStore(3, 60)
	gw := &fakeGateway{}
	d1 := newTestDispatcher(store, gw)
	d2 := newTestDispatcher(store, gw)

	campaign, conn := store.snapshot()
	if err := d1.Start(context.Background(), &campaign, &conn); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitCommitted(t, store)

	// The second process works off a stale ready snapshot; the store's
	// conditional start write turns its launch away.
	if err := d2.Start(context.Background(), &campaign, &conn); !errors.Is(err, repositories.ErrStatusConflict) {
		t.Fatalf("second process Start = %v, want ErrStatusConflict", err)
	}

	if err := d1.Cancel(context.Background(), campaign.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	waitSettled(t, store, models.CampaignStatusCancelled)
}

// staleListStore reproduces the recovery window: the listing still says
// running while the row has since settled.
type staleListStore struct {
	*fakeStore
}

func (s *staleListStore) ListCampaignsByStatus(_ context.Context, status string) ([]models.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.campaign
	cp.Status = models.CampaignStatusRunning
	return []models.Campaign{cp}, nil
}

func TestRecoverSkipsCampaignSettledElsewhere(t *testing.T) {
	store := newFakeStore(3, 0)
	store.campaign.Status = models.CampaignStatusCompleted
	d := newTestDispatcher(&staleListStore{fakeStore: store}, &fakeGateway{})

	if err := d.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.campaign.Status != models.CampaignStatusCompleted {
		t.Errorf("status = %q, want completed", store.campaign.Status)
	}
}
