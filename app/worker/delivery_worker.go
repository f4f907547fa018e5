// Package worker contains the background loops that move deliveries and
// scheduled jobs through their lifecycles.
package worker

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/clubroster/mailengine/app/services"
	"github.com/clubroster/mailengine/config"
	"github.com/clubroster/mailengine/models"
	"github.com/clubroster/mailengine/repository"
	"github.com/clubroster/mailengine/utils"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const deliveryWorkerName = "delivery_worker"

// DeliveryWorker periodically claims due deliveries and pushes them
// through the provider. Multiple instances can run against the same
// database; the claim statement keeps their work disjoint.
type DeliveryWorker struct {
	deliveryRepo repository.EmailDeliveryRepository
	campaignRepo repository.EmailCampaignRepository
	quotaRepo    repository.QuotaRepository
	provider     services.EmailProvider
	heartbeat    *Heartbeat
	logger       *log.Logger

	cfg        config.WorkerConfig
	quotaLimit int
	orgLoc     *time.Location
}

func NewDeliveryWorker(
	deliveryRepo repository.EmailDeliveryRepository,
	campaignRepo repository.EmailCampaignRepository,
	quotaRepo repository.QuotaRepository,
	provider services.EmailProvider,
	heartbeat *Heartbeat,
	cfg config.WorkerConfig,
	quotaCfg config.QuotaConfig,
	logCfg config.LoggingConfig,
) *DeliveryWorker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}

	w := &DeliveryWorker{
		deliveryRepo: deliveryRepo,
		campaignRepo: campaignRepo,
		quotaRepo:    quotaRepo,
		provider:     provider,
		heartbeat:    heartbeat,
		cfg:          cfg,
		quotaLimit:   quotaCfg.DailyLimit,
		orgLoc:       quotaCfg.OrgLocation(),
	}
	w.logger = newWorkerLogger(deliveryWorkerName, cfg.LogDir, logCfg)
	return w
}

// newWorkerLogger builds a logger writing to stdout and a rotated file
// under the worker log directory
func newWorkerLogger(name, dir string, logCfg config.LoggingConfig) *log.Logger {
	if dir == "" {
		dir = "data"
	}
	rotor := &lumberjack.Logger{
		Filename:   filepath.Join(dir, name+".log"),
		MaxSize:    logCfg.MaxSizeMB,
		MaxBackups: logCfg.MaxBackups,
		MaxAge:     logCfg.MaxAgeDays,
		Compress:   logCfg.Compress,
	}
	mw := io.MultiWriter(os.Stdout, rotor)
	return log.New(mw, name+" ", log.LstdFlags|log.Lmicroseconds|log.LUTC)
}

// Start launches the worker loop in a background goroutine and returns a
// stop function
func (w *DeliveryWorker) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		ticker := time.NewTicker(w.cfg.PollInterval)
		defer ticker.Stop()

		w.runOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.runOnce(ctx)
			}
		}
	}()

	return cancel
}

func (w *DeliveryWorker) runOnce(ctx context.Context) {
	now := utils.UTCNow()

	if err := w.heartbeat.Beat(ctx, deliveryWorkerName); err != nil {
		w.logger.Printf("heartbeat failed: %v", err)
	}

	// Rows stuck in sending past the lease belong to a dead worker. The
	// outcome of their in-flight attempt is unknown, so they fail and
	// become retry-eligible immediately.
	swept, err := w.deliveryRepo.ReleaseStuckSending(ctx, now.Add(-w.cfg.LeaseTimeout))
	if err != nil {
		w.logger.Printf("release stuck sending failed: %v", err)
	} else if swept > 0 {
		stuckSendingReleasedTotal.Add(float64(swept))
		w.logger.Printf("released %d deliveries stuck in sending", swept)
	}

	due, err := w.deliveryRepo.ListDue(ctx, now, w.cfg.MaxRetries, w.cfg.BatchSize)
	if err != nil {
		w.logger.Printf("list due deliveries failed: %v", err)
		return
	}
	if len(due) > 0 {
		w.processBatch(ctx, due, now)
	}

	w.sweepCompletedCampaigns(ctx)
	w.publishQuotaUsage(ctx)
}

func (w *DeliveryWorker) processBatch(ctx context.Context, due []*models.EmailDelivery, now time.Time) {
	ids := make([]uint, 0, len(due))
	for _, d := range due {
		ids = append(ids, d.ID)
	}

	claimed, err := w.deliveryRepo.Claim(ctx, ids, now, w.cfg.MaxRetries)
	if err != nil {
		w.logger.Printf("claim failed: %v", err)
		return
	}
	if len(claimed) < len(ids) {
		w.logger.Printf("claimed %d of %d due deliveries (rest taken concurrently)", len(claimed), len(ids))
	}

	// RETURNING gives ids in no particular order; walk the due list so
	// attempts keep its priority and due-time ordering
	claimedSet := make(map[uint]struct{}, len(claimed))
	for _, id := range claimed {
		claimedSet[id] = struct{}{}
	}

	for _, d := range due {
		if _, ok := claimedSet[d.ID]; !ok {
			continue
		}
		if ctx.Err() != nil {
			// Shutting down mid-batch: hand unattempted claims back
			if err := w.deliveryRepo.Release(context.Background(), d.ID); err != nil {
				w.logger.Printf("release delivery %d on shutdown failed: %v", d.ID, err)
			}
			continue
		}
		w.attempt(ctx, d)
	}
}

// attempt reserves a quota slot and runs one provider call for a claimed
// delivery, recording the outcome.
func (w *DeliveryWorker) attempt(ctx context.Context, d *models.EmailDelivery) {
	day := utils.OrgDay(utils.UTCNow(), w.orgLoc)

	ok, err := w.quotaRepo.Reserve(ctx, day, 1, w.quotaLimit)
	if err != nil {
		w.logger.Printf("quota reserve failed for delivery %d: %v", d.ID, err)
		if relErr := w.deliveryRepo.Release(ctx, d.ID); relErr != nil {
			w.logger.Printf("release delivery %d failed: %v", d.ID, relErr)
		}
		return
	}
	if !ok {
		// Daily limit reached: no attempt, the row stays due and goes out
		// after the organization's midnight.
		deliveriesDeferredTotal.Inc()
		w.logger.Printf("quota exhausted for day %s, deferring delivery %d", day, d.ID)
		if relErr := w.deliveryRepo.Release(ctx, d.ID); relErr != nil {
			w.logger.Printf("release delivery %d failed: %v", d.ID, relErr)
		}
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.cfg.SendTimeout)
	msgID, sendErr := w.provider.Send(sendCtx, services.OutboundEmail{
		RecipientEmail: d.RecipientEmail,
		RecipientName:  d.RecipientName,
		Subject:        d.Subject,
		BodyHTML:       d.BodyHTML,
		BodyText:       d.BodyText,
	})
	cancel()

	now := utils.UTCNow()
	if sendErr != nil {
		deliveriesFailedTotal.Inc()

		var nextRetryAt *time.Time
		if d.RetryCount+1 < w.cfg.MaxRetries {
			t := now.Add(models.RetryBackoff(d.RetryCount, w.cfg.BackoffBase, w.cfg.BackoffMax))
			nextRetryAt = &t
			w.logger.Printf("delivery %d to %s failed (attempt %d): %v, retrying at %s",
				d.ID, d.RecipientEmail, d.RetryCount+1, sendErr, t.Format(time.RFC3339))
		} else {
			w.logger.Printf("delivery %d to %s permanently failed after %d attempts: %v",
				d.ID, d.RecipientEmail, d.RetryCount+1, sendErr)
		}
		if err := w.deliveryRepo.MarkFailed(ctx, d.ID, sendErr.Error(), nextRetryAt, now); err != nil {
			w.logger.Printf("mark delivery %d failed errored: %v", d.ID, err)
		}
		// No email left the organization; the slot goes back to the pool.
		if err := w.quotaRepo.Release(ctx, day, 1); err != nil {
			w.logger.Printf("quota release failed for day %s: %v", day, err)
		}
		return
	}

	if err := w.deliveryRepo.MarkSent(ctx, d.ID, msgID, now); err != nil {
		w.logger.Printf("mark delivery %d sent errored: %v", d.ID, err)
		return
	}
	deliveriesSentTotal.Inc()
}

// sweepCompletedCampaigns marks active campaigns whose deliveries have
// all reached an outcome. The status is advisory; live stats stay
// derived from delivery rows.
func (w *DeliveryWorker) sweepCompletedCampaigns(ctx context.Context) {
	ids, err := w.campaignRepo.ListActiveIDs(ctx, 100)
	if err != nil {
		w.logger.Printf("list active campaigns failed: %v", err)
		return
	}
	for _, id := range ids {
		unsettled, err := w.deliveryRepo.CountUnsettled(ctx, id, w.cfg.MaxRetries)
		if err != nil {
			w.logger.Printf("count unsettled for campaign %d failed: %v", id, err)
			continue
		}
		if unsettled > 0 {
			continue
		}
		// Campaigns with no deliveries at all stay active; fan-out may
		// still be in flight in another transaction.
		counts, err := w.deliveryRepo.CountByStatus(ctx, id)
		if err != nil || len(counts) == 0 {
			continue
		}
		if err := w.campaignRepo.MarkCompleted(ctx, id, utils.UTCNow()); err != nil {
			w.logger.Printf("mark campaign %d completed failed: %v", id, err)
			continue
		}
		campaignsCompletedTotal.Inc()
		w.logger.Printf("campaign %d completed", id)
	}
}

func (w *DeliveryWorker) publishQuotaUsage(ctx context.Context) {
	day := utils.OrgToday(w.orgLoc)
	q, err := w.quotaRepo.ByDay(ctx, day)
	if err != nil {
		w.logger.Printf("read quota for day %s failed: %v", day, err)
		return
	}
	if q == nil {
		quotaUsedGauge.Set(0)
		return
	}
	quotaUsedGauge.Set(float64(q.SentCount))
}
