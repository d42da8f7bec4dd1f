package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/messaging-crm/backend/internal/config"
	"github.com/messaging-crm/backend/internal/db"
	"github.com/messaging-crm/backend/internal/models"
	"github.com/messaging-crm/backend/internal/repositories"
	"go.uber.org/zap"
)

// staleRunningAfter is how long a running campaign may go without a tick
// before the janitor treats it as orphaned by a dead API process. Every
// committed tick bumps updated_at, so a healthy campaign never trips this
// even at the maximum send delay.
const staleRunningAfter = 10 * time.Minute

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	campaignRepo := repositories.NewCampaignRepo(pool)
	recipientRepo := repositories.NewRecipientRepo(pool)
	logRepo := repositories.NewDeliveryLogRepo(pool)

	log.Info("janitor worker started")

	reconcileTicker := time.NewTicker(cfg.ReconcileInterval)
	retentionTicker := time.NewTicker(cfg.RetentionInterval)
	defer reconcileTicker.Stop()
	defer retentionTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-reconcileTicker.C:
			reconcileOrphans(ctx, campaignRepo, recipientRepo, log)
		case <-retentionTicker.C:
			trimDeliveryLog(ctx, logRepo, cfg.LogRetention, log)
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

// reconcileOrphans parks running campaigns that stopped ticking. The API
// process recovers its own campaigns on boot; this catches the window where
// it crashed and never came back.
func reconcileOrphans(ctx context.Context, campaignRepo *repositories.CampaignRepo, recipientRepo *repositories.RecipientRepo, log *zap.Logger) {
	campaigns, err := campaignRepo.ListByStatus(ctx, models.CampaignStatusRunning)
	if err != nil {
		log.Error("failed to list running campaigns", zap.Error(err))
		return
	}

	cutoff := time.Now().Add(-staleRunningAfter)
	for _, c := range campaigns {
		if c.UpdatedAt.After(cutoff) {
			continue
		}

		log.Warn("parking orphaned campaign",
			zap.String("campaign_id", c.ID.String()),
			zap.Time("last_activity", c.UpdatedAt),
		)
		if err := recipientRepo.ReleaseClaims(ctx, c.ID); err != nil {
			log.Error("failed to release claims", zap.String("campaign_id", c.ID.String()), zap.Error(err))
			continue
		}
		if err := campaignRepo.MarkPaused(ctx, c.ID, time.Now()); err != nil {
			// The conditional write refuses to drag a campaign that settled
			// after the listing back to paused.
			if errors.Is(err, repositories.ErrStatusConflict) {
				continue
			}
			log.Error("failed to pause campaign", zap.String("campaign_id", c.ID.String()), zap.Error(err))
		}
	}
}

func trimDeliveryLog(ctx context.Context, logRepo *repositories.DeliveryLogRepo, retention time.Duration, log *zap.Logger) {
	removed, err := logRepo.TrimOlderThan(ctx, time.Now().Add(-retention))
	if err != nil {
		log.Error("failed to trim delivery log", zap.Error(err))
		return
	}
	if removed > 0 {
		log.Info("trimmed delivery log", zap.Int64("removed", removed))
	}
}
