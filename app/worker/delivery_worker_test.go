package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clubroster/mailengine/app/services"
	"github.com/clubroster/mailengine/config"
	"github.com/clubroster/mailengine/models"
	"github.com/clubroster/mailengine/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDeliveryRepo records the worker's calls; unimplemented interface
// methods panic via the embedded nil interface.
type fakeDeliveryRepo struct {
	repository.EmailDeliveryRepository

	due       []*models.EmailDelivery
	claimable map[uint]bool

	released  []uint
	sent      map[uint]string
	sentOrder []uint
	failed    map[uint]*time.Time
	swept     int64
	unsettled map[uint]int64
	counts    map[uint]map[models.DeliveryStatus]int64
}

func newFakeDeliveryRepo() *fakeDeliveryRepo {
	return &fakeDeliveryRepo{
		claimable: map[uint]bool{},
		sent:      map[uint]string{},
		failed:    map[uint]*time.Time{},
		unsettled: map[uint]int64{},
		counts:    map[uint]map[models.DeliveryStatus]int64{},
	}
}

func (f *fakeDeliveryRepo) ListDue(ctx context.Context, now time.Time, maxRetries, limit int) ([]*models.EmailDelivery, error) {
	return f.due, nil
}

// Claim returns ids in reverse, like a RETURNING clause whose row order
// happens to differ from the request.
func (f *fakeDeliveryRepo) Claim(ctx context.Context, ids []uint, now time.Time, maxRetries int) ([]uint, error) {
	var claimed []uint
	for i := len(ids) - 1; i >= 0; i-- {
		if f.claimable[ids[i]] {
			claimed = append(claimed, ids[i])
		}
	}
	return claimed, nil
}

func (f *fakeDeliveryRepo) Release(ctx context.Context, id uint) error {
	f.released = append(f.released, id)
	return nil
}

func (f *fakeDeliveryRepo) MarkSent(ctx context.Context, id uint, providerMessageID string, at time.Time) error {
	f.sent[id] = providerMessageID
	f.sentOrder = append(f.sentOrder, id)
	return nil
}

func (f *fakeDeliveryRepo) MarkFailed(ctx context.Context, id uint, errMsg string, nextRetryAt *time.Time, at time.Time) error {
	f.failed[id] = nextRetryAt
	return nil
}

func (f *fakeDeliveryRepo) ReleaseStuckSending(ctx context.Context, olderThan time.Time) (int64, error) {
	return f.swept, nil
}

func (f *fakeDeliveryRepo) CountUnsettled(ctx context.Context, campaignID uint, maxRetries int) (int64, error) {
	return f.unsettled[campaignID], nil
}

func (f *fakeDeliveryRepo) CountByStatus(ctx context.Context, campaignID uint) (map[models.DeliveryStatus]int64, error) {
	return f.counts[campaignID], nil
}

type fakeCampaignRepo struct {
	repository.EmailCampaignRepository

	activeIDs []uint
	completed []uint
}

func (f *fakeCampaignRepo) ListActiveIDs(ctx context.Context, limit int) ([]uint, error) {
	return f.activeIDs, nil
}

func (f *fakeCampaignRepo) MarkCompleted(ctx context.Context, id uint, at time.Time) error {
	f.completed = append(f.completed, id)
	return nil
}

type fakeQuotaRepo struct {
	remaining int
	reserved  int
	released  int
}

func (f *fakeQuotaRepo) Reserve(ctx context.Context, day string, n, limit int) (bool, error) {
	if f.remaining < n {
		return false, nil
	}
	f.remaining -= n
	f.reserved += n
	return true, nil
}

func (f *fakeQuotaRepo) Release(ctx context.Context, day string, n int) error {
	f.remaining += n
	f.released += n
	return nil
}

func (f *fakeQuotaRepo) ByDay(ctx context.Context, day string) (*models.DailySendQuota, error) {
	return &models.DailySendQuota{Day: day, SentCount: f.reserved}, nil
}

type failingProvider struct {
	err error
}

func (p *failingProvider) Send(ctx context.Context, email services.OutboundEmail) (string, error) {
	return "", p.err
}

func testWorkerConfig(t *testing.T) (config.WorkerConfig, config.QuotaConfig, config.LoggingConfig) {
	t.Helper()
	return config.WorkerConfig{
			PollInterval: time.Minute,
			BatchSize:    10,
			MaxRetries:   3,
			BackoffBase:  time.Minute,
			BackoffMax:   time.Hour,
			SendTimeout:  5 * time.Second,
			LeaseTimeout: 5 * time.Minute,
			LogDir:       t.TempDir(),
		}, config.QuotaConfig{DailyLimit: 100, OrgTimezone: "UTC"},
		config.LoggingConfig{MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1}
}

func newTestWorker(t *testing.T, dr *fakeDeliveryRepo, cr *fakeCampaignRepo, qr *fakeQuotaRepo, provider services.EmailProvider) *DeliveryWorker {
	t.Helper()
	cfg, quotaCfg, logCfg := testWorkerConfig(t)
	return NewDeliveryWorker(dr, cr, qr, provider, nil, cfg, quotaCfg, logCfg)
}

func pendingDelivery(id uint) *models.EmailDelivery {
	return &models.EmailDelivery{
		ID:             id,
		RecipientEmail: "member@example.org",
		Subject:        "Hello",
		BodyHTML:       "<p>Hello</p>",
		Status:         models.DeliveryStatusPending,
	}
}

func TestAttemptSuccess(t *testing.T) {
	dr := newFakeDeliveryRepo()
	qr := &fakeQuotaRepo{remaining: 10}
	w := newTestWorker(t, dr, &fakeCampaignRepo{}, qr, services.NewMockEmailProvider())

	w.attempt(context.Background(), pendingDelivery(1))

	require.Contains(t, dr.sent, uint(1))
	assert.NotEmpty(t, dr.sent[1])
	assert.Empty(t, dr.failed)
	assert.Empty(t, dr.released)
	// A committed send keeps its quota slot
	assert.Equal(t, 1, qr.reserved)
	assert.Equal(t, 0, qr.released)
}

func TestAttemptQuotaExhausted(t *testing.T) {
	dr := newFakeDeliveryRepo()
	qr := &fakeQuotaRepo{remaining: 0}
	w := newTestWorker(t, dr, &fakeCampaignRepo{}, qr, services.NewMockEmailProvider())

	w.attempt(context.Background(), pendingDelivery(1))

	// No attempt is made; the claim goes back so the row stays due
	assert.Empty(t, dr.sent)
	assert.Empty(t, dr.failed)
	assert.Equal(t, []uint{1}, dr.released)
}

func TestAttemptFailureSchedulesRetry(t *testing.T) {
	dr := newFakeDeliveryRepo()
	qr := &fakeQuotaRepo{remaining: 10}
	w := newTestWorker(t, dr, &fakeCampaignRepo{}, qr, &failingProvider{err: errors.New("451 greylisted")})

	d := pendingDelivery(1)
	w.attempt(context.Background(), d)

	require.Contains(t, dr.failed, uint(1))
	nextRetryAt := dr.failed[1]
	require.NotNil(t, nextRetryAt, "first failure should schedule a retry")
	assert.True(t, nextRetryAt.After(time.Now().UTC()))
	// The failed attempt returns its quota slot
	assert.Equal(t, 1, qr.released)
}

func TestAttemptFailureAtCeilingIsPermanent(t *testing.T) {
	dr := newFakeDeliveryRepo()
	qr := &fakeQuotaRepo{remaining: 10}
	w := newTestWorker(t, dr, &fakeCampaignRepo{}, qr, &failingProvider{err: errors.New("mailbox unavailable")})

	d := pendingDelivery(1)
	d.Status = models.DeliveryStatusFailed
	d.RetryCount = 2 // next failure is attempt 3 of 3

	w.attempt(context.Background(), d)

	require.Contains(t, dr.failed, uint(1))
	assert.Nil(t, dr.failed[1], "ceiling reached, no retry should be scheduled")
}

func TestProcessBatchSkipsUnclaimedRows(t *testing.T) {
	dr := newFakeDeliveryRepo()
	dr.due = []*models.EmailDelivery{pendingDelivery(1), pendingDelivery(2), pendingDelivery(3)}
	dr.claimable[1] = true
	dr.claimable[3] = true

	qr := &fakeQuotaRepo{remaining: 10}
	w := newTestWorker(t, dr, &fakeCampaignRepo{}, qr, services.NewMockEmailProvider())

	w.processBatch(context.Background(), dr.due, time.Now().UTC())

	assert.Contains(t, dr.sent, uint(1))
	assert.Contains(t, dr.sent, uint(3))
	assert.NotContains(t, dr.sent, uint(2), "unclaimed rows belong to another worker")
}

func TestProcessBatchAttemptsInDueOrder(t *testing.T) {
	urgent := pendingDelivery(9)
	urgent.Priority = 1
	routine := pendingDelivery(2)
	routine.Priority = 100

	dr := newFakeDeliveryRepo()
	// Due list arrives priority-ordered; the fake claim reverses it
	dr.due = []*models.EmailDelivery{urgent, routine}
	dr.claimable[9] = true
	dr.claimable[2] = true

	qr := &fakeQuotaRepo{remaining: 10}
	w := newTestWorker(t, dr, &fakeCampaignRepo{}, qr, services.NewMockEmailProvider())

	w.processBatch(context.Background(), dr.due, time.Now().UTC())

	assert.Equal(t, []uint{9, 2}, dr.sentOrder, "attempts must follow the due ordering, not the claim result ordering")
}

func TestSweepCompletedCampaigns(t *testing.T) {
	dr := newFakeDeliveryRepo()
	cr := &fakeCampaignRepo{activeIDs: []uint{10, 20, 30}}

	// 10: settled, 20: still has unsettled rows, 30: no deliveries yet
	dr.unsettled[10] = 0
	dr.counts[10] = map[models.DeliveryStatus]int64{models.DeliveryStatusSent: 5}
	dr.unsettled[20] = 2
	dr.counts[20] = map[models.DeliveryStatus]int64{models.DeliveryStatusSent: 3, models.DeliveryStatusPending: 2}
	dr.unsettled[30] = 0

	w := newTestWorker(t, dr, cr, &fakeQuotaRepo{remaining: 10}, services.NewMockEmailProvider())
	w.sweepCompletedCampaigns(context.Background())

	assert.Equal(t, []uint{10}, cr.completed)
}

func TestRunOnceEndToEnd(t *testing.T) {
	dr := newFakeDeliveryRepo()
	dr.due = []*models.EmailDelivery{pendingDelivery(1), pendingDelivery(2)}
	dr.claimable[1] = true
	dr.claimable[2] = true

	qr := &fakeQuotaRepo{remaining: 1}
	w := newTestWorker(t, dr, &fakeCampaignRepo{}, qr, services.NewMockEmailProvider())

	w.runOnce(context.Background())

	// One slot: one row sends, the other defers
	assert.Len(t, dr.sent, 1)
	assert.Len(t, dr.released, 1)
}
