package sync

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/junseo/bidwatcher/internal/config"
	"github.com/junseo/bidwatcher/internal/mail"
	"github.com/junseo/bidwatcher/internal/models"
	"github.com/junseo/bidwatcher/internal/narajangter"
)

// Fetcher is the slice of the upstream client the orchestrator needs.
type Fetcher interface {
	FetchNotices(ctx context.Context, bt models.BidType, q narajangter.NoticeQuery) (*narajangter.Page, error)
	FetchRegionsByDate(ctx context.Context, beginDt, endDt string, pageNo, numOfRows int) ([]models.Payload, error)
	FetchLicenseLimits(ctx context.Context, beginDt, endDt string, pageNo, numOfRows int) ([]models.Payload, error)
}

// Storage merges fetched records and keeps the window ledger.
type Storage interface {
	SaveNotices(ctx context.Context, items []models.Payload) (int, error)
	SaveRegions(ctx context.Context, items []models.Payload) (int, error)
	SaveLicenseLimits(ctx context.Context, items []models.Payload) (int, error)

	GetWindow(ctx context.Context, windowStart string) (*models.SyncWindow, error)
	MarkWindow(ctx context.Context, w models.SyncWindow) error
}

var errBudgetExhausted = errors.New("api call budget exhausted")

// budget is the shared per-cycle API call allowance. Every upstream
// page fetch draws one call.
type budget struct {
	remaining int
}

func (b *budget) take() bool {
	if b.remaining <= 0 {
		return false
	}
	b.remaining--
	return true
}

// Orchestrator runs the periodic window sync. All entry points
// (scheduled cycle, manual resync, query-triggered range sync)
// serialize on one lock so a window is never synced twice concurrently.
type Orchestrator struct {
	fetcher Fetcher
	storage Storage
	mailer  mail.Sender
	cfg     config.SyncConfig
	log     *zap.Logger

	mu              sync.Mutex
	pendingFailures []string
	lastAlertAt     time.Time

	// injectable for tests
	now   func() time.Time
	sleep func(time.Duration)
}

func New(fetcher Fetcher, storage Storage, mailer mail.Sender, cfg config.SyncConfig, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		fetcher: fetcher,
		storage: storage,
		mailer:  mailer,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
		sleep:   time.Sleep,
	}
}

// Run executes one cycle immediately, then one per interval until the
// context is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	o.log.Info("sync orchestrator started", zap.Duration("interval", o.cfg.Interval))

	if err := o.RunCycle(ctx); err != nil {
		o.log.Error("sync cycle failed", zap.Error(err))
	}

	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.log.Info("sync orchestrator stopped")
			return
		case <-ticker.C:
			if err := o.RunCycle(ctx); err != nil {
				o.log.Error("sync cycle failed", zap.Error(err))
			}
		}
	}
}

// RunCycle performs one scheduled sync cycle: recent-hour resync, then
// daily backfill, both drawing on one API-call budget.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	b := &budget{remaining: o.cfg.CycleCallBudget}
	now := o.now()

	o.syncRecentHours(ctx, now, b)
	o.backfillDays(ctx, now, b)
	o.flushAlerts(now)

	return ctx.Err()
}

// ResyncDays re-syncs the last n calendar days, today included, under
// the larger manual budget. Days already in the ledger are skipped.
func (o *Orchestrator) ResyncDays(ctx context.Context, n int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	b := &budget{remaining: o.cfg.ManualCallBudget}
	now := o.now()

	for i := 0; i <= n; i++ {
		day := now.AddDate(0, 0, -i)
		if err := o.syncDayIfMissing(ctx, day, b); err != nil {
			if errors.Is(err, errBudgetExhausted) {
				o.log.Warn("manual resync stopped on budget", zap.Int("days_done", i))
				break
			}
			return err
		}
		o.sleep(o.cfg.WindowPause)
	}

	o.flushAlerts(o.now())
	return ctx.Err()
}

// SyncDateRange syncs every day in [start, end] that is missing a
// daily ledger entry. Used by the query path as a background task.
func (o *Orchestrator) SyncDateRange(ctx context.Context, start, end time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	b := &budget{remaining: o.cfg.ManualCallBudget}

	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if err := o.syncDayIfMissing(ctx, day, b); err != nil {
			if errors.Is(err, errBudgetExhausted) {
				o.log.Warn("range sync stopped on budget", zap.String("day", day.Format("20060102")))
				break
			}
			return err
		}
		o.sleep(o.cfg.WindowPause)
	}

	o.flushAlerts(o.now())
	return ctx.Err()
}

// syncRecentHours re-syncs the last few hourly windows. The current
// hour always re-syncs; older hours only when their ledger entry is
// missing or stale, giving a rolling overlap that picks up
// late-arriving notices without burning budget every cycle.
func (o *Orchestrator) syncRecentHours(ctx context.Context, now time.Time, b *budget) {
	for offset := 0; offset < o.cfg.RecentHours; offset++ {
		hour := now.Truncate(time.Hour).Add(-time.Duration(offset) * time.Hour)
		windowStart := hour.Format("2006010215") + "00"
		windowEnd := hour.Format("2006010215") + "59"

		if offset > 0 {
			entry, err := o.storage.GetWindow(ctx, windowStart)
			if err != nil {
				o.log.Warn("ledger lookup failed", zap.String("window", windowStart), zap.Error(err))
			} else if entry != nil && now.Sub(entry.SyncedAt) < o.cfg.Interval {
				continue
			}
		}

		if err := o.syncWindow(ctx, windowStart, windowEnd, b); err != nil {
			if errors.Is(err, errBudgetExhausted) {
				o.log.Warn("recent-hours resync stopped on budget", zap.String("window", windowStart))
				return
			}
			o.log.Error("window sync failed", zap.String("window", windowStart), zap.Error(err))
		}
		o.sleep(o.cfg.WindowPause)
	}
}

// backfillDays walks backwards from yesterday looking for days with no
// daily ledger entry, syncing at most MaxDaysPerCycle of them.
func (o *Orchestrator) backfillDays(ctx context.Context, now time.Time, b *budget) {
	synced := 0
	for i := 1; i <= o.cfg.BackfillDays && synced < o.cfg.MaxDaysPerCycle; i++ {
		day := now.AddDate(0, 0, -i)
		windowStart := day.Format("20060102") + "0000"

		entry, err := o.storage.GetWindow(ctx, windowStart)
		if err != nil {
			o.log.Warn("ledger lookup failed", zap.String("window", windowStart), zap.Error(err))
			continue
		}
		if entry != nil {
			continue
		}

		if err := o.syncWindow(ctx, windowStart, day.Format("20060102")+"2359", b); err != nil {
			if errors.Is(err, errBudgetExhausted) {
				o.log.Warn("backfill stopped on budget", zap.Int("days_done", synced))
				return
			}
			o.log.Error("backfill window failed", zap.String("window", windowStart), zap.Error(err))
		}
		synced++
		o.sleep(o.cfg.WindowPause)
	}
}

func (o *Orchestrator) syncDayIfMissing(ctx context.Context, day time.Time, b *budget) error {
	windowStart := day.Format("20060102") + "0000"
	entry, err := o.storage.GetWindow(ctx, windowStart)
	if err == nil && entry != nil {
		return nil
	}
	return o.syncWindow(ctx, windowStart, day.Format("20060102")+"2359", b)
}

// syncWindow is the unit of work: four independent sub-fetches over one
// time window. The window is marked once any sub-fetch succeeds; if all
// four fail it stays absent from the ledger so the next cycle retries
// it, and the window id is queued for alerting. Running out of budget
// mid-window also leaves the window unmarked.
func (o *Orchestrator) syncWindow(ctx context.Context, windowStart, windowEnd string, b *budget) error {
	o.log.Info("syncing window", zap.String("start", windowStart), zap.String("end", windowEnd))

	var totalNotices, totalRegions, totalLicenses int
	succeeded := 0

	for _, bt := range []models.BidType{models.BidTypeConstruction, models.BidTypeService} {
		n, ok, err := o.fetchNoticePages(ctx, bt, windowStart, windowEnd, b)
		if err != nil {
			return err
		}
		totalNotices += n
		if ok {
			succeeded++
		}
	}

	n, ok, err := o.fetchChildPages(ctx, windowStart, windowEnd, b, o.fetcher.FetchRegionsByDate, o.storage.SaveRegions, "regions")
	if err != nil {
		return err
	}
	totalRegions = n
	if ok {
		succeeded++
	}

	n, ok, err = o.fetchChildPages(ctx, windowStart, windowEnd, b, o.fetcher.FetchLicenseLimits, o.storage.SaveLicenseLimits, "license limits")
	if err != nil {
		return err
	}
	totalLicenses = n
	if ok {
		succeeded++
	}

	if succeeded == 0 {
		o.log.Error("all sub-fetches failed, leaving window unmarked", zap.String("window", windowStart))
		o.pendingFailures = appendFailure(o.pendingFailures, windowStart)
		return nil
	}

	// A mark failure is not fatal: the merge already happened and is
	// idempotent, so redoing the window next cycle is safe.
	if err := o.storage.MarkWindow(ctx, models.SyncWindow{
		WindowStart:        windowStart,
		WindowEnd:          windowEnd,
		TotalNotices:       totalNotices,
		TotalRegions:       totalRegions,
		TotalLicenseLimits: totalLicenses,
	}); err != nil {
		o.log.Warn("failed to mark window", zap.String("window", windowStart), zap.Error(err))
	}

	o.log.Info("window synced",
		zap.String("window", windowStart),
		zap.Int("notices", totalNotices),
		zap.Int("regions", totalRegions),
		zap.Int("license_limits", totalLicenses))
	return nil
}

// fetchNoticePages pages through one notice category. A fetch error
// fails only this sub-fetch; running out of budget aborts the window.
func (o *Orchestrator) fetchNoticePages(ctx context.Context, bt models.BidType, windowStart, windowEnd string, b *budget) (int, bool, error) {
	total := 0
	for page := 1; page <= narajangter.MaxPageNo; page++ {
		if !b.take() {
			return total, false, errBudgetExhausted
		}
		result, err := o.fetcher.FetchNotices(ctx, bt, narajangter.NoticeQuery{
			InquiryDiv: "1",
			BeginDt:    windowStart,
			EndDt:      windowEnd,
			PageNo:     page,
			NumOfRows:  o.cfg.NoticePageSize,
		})
		if err != nil {
			o.log.Error("notice fetch failed",
				zap.String("bid_type", string(bt)),
				zap.String("window", windowStart),
				zap.Int("page", page),
				zap.Error(err))
			return total, false, nil
		}
		if len(result.Items) == 0 {
			break
		}
		saved, err := o.storage.SaveNotices(ctx, result.Items)
		if err != nil {
			o.log.Error("notice merge failed", zap.String("window", windowStart), zap.Error(err))
			return total, false, nil
		}
		total += saved
		if len(result.Items) < o.cfg.NoticePageSize {
			break
		}
		o.sleep(o.cfg.PagePause)
	}
	return total, true, nil
}

// fetchChildPages pages through a child-row capability (regions or
// license limits) with the larger page size.
func (o *Orchestrator) fetchChildPages(
	ctx context.Context,
	windowStart, windowEnd string,
	b *budget,
	fetch func(context.Context, string, string, int, int) ([]models.Payload, error),
	save func(context.Context, []models.Payload) (int, error),
	what string,
) (int, bool, error) {
	total := 0
	for page := 1; page <= narajangter.MaxPageNo; page++ {
		if !b.take() {
			return total, false, errBudgetExhausted
		}
		items, err := fetch(ctx, windowStart, windowEnd, page, o.cfg.ChildRowsPageSize)
		if err != nil {
			o.log.Error("child fetch failed",
				zap.String("what", what),
				zap.String("window", windowStart),
				zap.Int("page", page),
				zap.Error(err))
			return total, false, nil
		}
		if len(items) == 0 {
			break
		}
		saved, err := save(ctx, items)
		if err != nil {
			o.log.Error("child merge failed", zap.String("what", what), zap.String("window", windowStart), zap.Error(err))
			return total, false, nil
		}
		total += saved
		if len(items) < o.cfg.ChildRowsPageSize {
			break
		}
		o.sleep(o.cfg.PagePause)
	}
	return total, true, nil
}

// maxPendingFailures bounds the alert queue while mail stays
// undeliverable; the oldest window drops first.
const maxPendingFailures = 100

// appendFailure queues a failed window once, however many cycles it
// keeps failing.
func appendFailure(queue []string, window string) []string {
	for _, w := range queue {
		if w == window {
			return queue
		}
	}
	if len(queue) >= maxPendingFailures {
		queue = queue[1:]
	}
	return append(queue, window)
}

// flushAlerts sends one summary email for accumulated total-window
// failures, at most once per throttle interval. Failures stay queued
// while the throttle holds or the send fails.
func (o *Orchestrator) flushAlerts(now time.Time) {
	if len(o.pendingFailures) == 0 {
		return
	}
	if o.mailer == nil || o.cfg.AlertRecipient == "" {
		return
	}
	if !o.lastAlertAt.IsZero() && now.Sub(o.lastAlertAt) < o.cfg.AlertThrottle {
		return
	}

	subject, html, text := mail.SyncFailureEmail(o.pendingFailures)
	if o.mailer.Send(o.cfg.AlertRecipient, subject, html, text) {
		o.lastAlertAt = now
		o.pendingFailures = nil
	}
}
