package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/junseo/bidwatcher/internal/bids"
	"github.com/junseo/bidwatcher/internal/config"
	"github.com/junseo/bidwatcher/internal/db"
	"github.com/junseo/bidwatcher/internal/mail"
	"github.com/junseo/bidwatcher/internal/models"
)

// Searcher runs a saved search against the bid store.
type Searcher interface {
	Search(ctx context.Context, req bids.SearchRequest, userID *uuid.UUID) (*db.SearchResult, error)
}

// Storage is the slice of the store the scheduler needs.
type Storage interface {
	ListNotifiablePreferences(ctx context.Context) ([]models.User, []models.Preference, error)
	TouchNotification(ctx context.Context, preferenceID uuid.UUID) error
}

// Scheduler periodically re-runs every saved search with email
// notifications enabled and mails the owner the matching notices.
type Scheduler struct {
	storage Storage
	search  Searcher
	mailer  mail.Sender
	cfg     config.NotifyConfig
	log     *zap.Logger

	now func() time.Time
}

func New(storage Storage, search Searcher, mailer mail.Sender, cfg config.NotifyConfig, log *zap.Logger) *Scheduler {
	return &Scheduler{
		storage: storage,
		search:  search,
		mailer:  mailer,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

// Run executes a pass immediately and then on every tick until the
// context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.RunPass(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunPass(ctx)
		}
	}
}

// RunPass walks every notifiable preference once. Per-user failures are
// logged and skipped so one bad search cannot starve the rest.
func (s *Scheduler) RunPass(ctx context.Context) {
	users, prefs, err := s.storage.ListNotifiablePreferences(ctx)
	if err != nil {
		s.log.Error("failed to list notifiable preferences", zap.Error(err))
		return
	}

	for i, pref := range prefs {
		if !s.due(pref) {
			continue
		}
		if err := s.notify(ctx, users[i], pref); err != nil {
			s.log.Warn("notification pass failed for preference",
				zap.String("preference_id", pref.PreferenceID.String()),
				zap.Error(err))
		}
	}
}

func (s *Scheduler) due(pref models.Preference) bool {
	if pref.LastNotificationAt == nil {
		return true
	}
	return s.now().Sub(*pref.LastNotificationAt) >= pref.Frequency.Throttle()
}

func (s *Scheduler) notify(ctx context.Context, user models.User, pref models.Preference) error {
	req := s.requestFor(pref)
	result, err := s.search.Search(ctx, req, nil)
	if err != nil {
		return err
	}
	if len(result.Items) == 0 {
		return nil
	}

	subject, htmlBody, textBody := mail.BidNotificationEmail(user.Username, result.Items)
	if !s.mailer.Send(user.Email, subject, htmlBody, textBody) {
		s.log.Warn("notification email was not sent",
			zap.String("user_id", user.UserID.String()))
		return nil
	}

	if err := s.storage.TouchNotification(ctx, pref.PreferenceID); err != nil {
		return err
	}
	s.log.Info("notification sent",
		zap.String("user_id", user.UserID.String()),
		zap.Int("notices", len(result.Items)))
	return nil
}

// requestFor turns a saved search into a registration-date query over
// the preference's lookback window ending now.
func (s *Scheduler) requestFor(pref models.Preference) bids.SearchRequest {
	now := s.now()
	cond := pref.SearchConditions
	return bids.SearchRequest{
		InquiryDiv:    "1",
		BeginDt:       now.Add(-pref.Frequency.Lookback()).Format("200601021504"),
		EndDt:         now.Format("200601021504"),
		RegionNames:   cond.Get("prtcptLmtRgnNm"),
		IndustryNames: cond.Get("indstrytyNm"),
		PriceBegin:    cond.Get("presmptPrceBgn"),
		PriceEnd:      cond.Get("presmptPrceEnd"),
		ExcludeClosed: cond.Get("bidClseExcpYn"),
		SiteRegion:    cond.Get("cnstrtsiteRgnNm"),
		OrderBy:       "rgstDt",
		OrderDir:      "desc",
		PageNo:        1,
		NumOfRows:     50,
	}
}
