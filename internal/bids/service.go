package bids

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/junseo/bidwatcher/internal/db"
	"github.com/junseo/bidwatcher/internal/models"
	"github.com/junseo/bidwatcher/internal/narajangter"
)

// ErrNotFound is returned when neither the store nor upstream has any
// data for the requested entity.
var ErrNotFound = errors.New("not found")

const (
	basisRetryCooldown   = time.Hour
	basisRetryWindowDays = 3
	openingResultsTTL    = time.Hour
	openingResultsPage   = 100
)

// Fetcher is the slice of the upstream client the query path needs.
type Fetcher interface {
	FetchNotices(ctx context.Context, bt models.BidType, q narajangter.NoticeQuery) (*narajangter.Page, error)
	FetchRegionsByNotice(ctx context.Context, bidNtceNo, bidNtceOrd string) ([]models.Payload, error)
	FetchBasisAmount(ctx context.Context, bidNtceNo string, bt models.BidType) (models.Payload, error)
	FetchOpeningResults(ctx context.Context, bidNtceNo string, pageNo, numOfRows int) ([]models.Payload, error)
}

// Storage is the store surface consumed by the query engine.
type Storage interface {
	SearchNotices(ctx context.Context, params db.SearchParams) (*db.SearchResult, error)
	IsRangeSynced(ctx context.Context, startDt, endDt string) (bool, error)
	GetNotice(ctx context.Context, bidNtceNo, bidNtceOrd string) (*models.Notice, error)
	GetOpeningDt(ctx context.Context, bidNtceNo string) (string, error)
	RegionsForNotice(ctx context.Context, bidNtceNo, bidNtceOrd string) ([]models.EligibleRegion, error)
	SaveNotices(ctx context.Context, items []models.Payload) (int, error)
	SaveRegions(ctx context.Context, items []models.Payload) (int, error)
	GetBasisAmount(ctx context.Context, bidNtceNo string, bt models.BidType) (*models.BasisAmount, error)
	SaveBasisAmount(ctx context.Context, bidNtceNo, bidNtceOrd string, bt models.BidType, payload models.Payload) error
	TouchBasisAmount(ctx context.Context, bidNtceNo string, bt models.BidType) error
	GetOpeningResults(ctx context.Context, bidNtceNo string) (*models.OpeningResultCache, error)
	SaveOpeningResults(ctx context.Context, bidNtceNo string, results []models.Payload) error
	GetUserLocation(ctx context.Context, userID uuid.UUID) (*models.UserLocation, error)
}

// Syncer triggers the background range sync after a live fallback.
type Syncer interface {
	SyncDateRange(ctx context.Context, start, end time.Time) error
}

// SearchRequest mirrors the upstream query vocabulary so saved
// searches round-trip unchanged.
type SearchRequest struct {
	InquiryDiv    string `json:"inqryDiv"`
	BeginDt       string `json:"inqryBgnDt"`
	EndDt         string `json:"inqryEndDt"`
	RegionNames   string `json:"prtcptLmtRgnNm"` // comma separated
	IndustryNames string `json:"indstrytyNm"`    // comma separated
	PriceBegin    string `json:"presmptPrceBgn"`
	PriceEnd      string `json:"presmptPrceEnd"`
	ExcludeClosed string `json:"bidClseExcpYn"` // "Y" to exclude closed
	SiteRegion    string `json:"cnstrtsiteRgnNm"`
	OrderBy       string `json:"orderBy"`
	OrderDir      string `json:"orderDir"`
	PageNo        int    `json:"pageNo"`
	NumOfRows     int    `json:"numOfRows"`

	UseLocationFilter bool `json:"useLocationFilter"`
}

// OpeningResults is the ranked bidder list for one notice, with the
// requesting user's own row when their business number appears.
type OpeningResults struct {
	BidNoticeNo  string           `json:"bid_ntce_no"`
	Results      []models.Payload `json:"results"`
	UserRank     models.Payload   `json:"user_rank,omitempty"`
	TotalBidders int              `json:"total_bidders"`
}

// Service is the query engine over the merged store, with live
// upstream fallback for ranges the ledger has not covered yet.
type Service struct {
	storage Storage
	fetcher Fetcher
	syncer  Syncer
	log     *zap.Logger

	// injectable for tests
	now        func() time.Time
	background func(func())
}

func NewService(storage Storage, fetcher Fetcher, syncer Syncer, log *zap.Logger) *Service {
	return &Service{
		storage:    storage,
		fetcher:    fetcher,
		syncer:     syncer,
		log:        log,
		now:        time.Now,
		background: func(fn func()) { go fn() },
	}
}

// Search routes a query to the store or live upstream. Opening-date
// queries always read the store; registration-date queries fall back to
// a live two-category fetch when the range is not fully synced, and
// kick off a background sync so the next identical query hits the store.
func (s *Service) Search(ctx context.Context, req SearchRequest, userID *uuid.UUID) (*db.SearchResult, error) {
	beginDt := models.NormalizeTimestamp(req.BeginDt)
	endDt := models.NormalizeTimestamp(req.EndDt)

	if req.InquiryDiv == "2" {
		return s.searchStore(ctx, req, beginDt, endDt, userID)
	}

	synced, err := s.storage.IsRangeSynced(ctx, beginDt, endDt)
	if err != nil {
		s.log.Warn("completeness check failed", zap.Error(err))
		synced = false
	}
	if synced {
		return s.searchStore(ctx, req, beginDt, endDt, userID)
	}

	return s.searchLive(ctx, req, beginDt, endDt)
}

func (s *Service) searchStore(ctx context.Context, req SearchRequest, beginDt, endDt string, userID *uuid.UUID) (*db.SearchResult, error) {
	params := db.SearchParams{
		InquiryDiv:    req.InquiryDiv,
		BeginDt:       beginDt,
		EndDt:         endDt,
		PriceBegin:    models.ParsePrice(req.PriceBegin),
		PriceEnd:      models.ParsePrice(req.PriceEnd),
		ExcludeClosed: req.ExcludeClosed == "Y",
		Now:           s.now().Format("200601021504"),
		SiteRegion:    req.SiteRegion,
		OrderBy:       req.OrderBy,
		OrderDir:      req.OrderDir,
		PageNo:        req.PageNo,
		NumOfRows:     req.NumOfRows,
	}

	if req.UseLocationFilter && userID != nil {
		loc, err := s.storage.GetUserLocation(ctx, *userID)
		if err != nil {
			s.log.Warn("user location lookup failed", zap.Error(err))
		}
		if loc != nil {
			params.Regions = MatchingRegions(loc.LocationName)
			params.RegionLike = []string{loc.LocationName}
		}
	} else if req.RegionNames != "" {
		regions := splitTrim(req.RegionNames)
		params.Regions = append([]string{unrestrictedRegion, ""}, regions...)
		params.RegionLike = regions
	}

	if req.IndustryNames != "" {
		params.Industries = splitTrim(req.IndustryNames)
	}

	return s.storage.SearchNotices(ctx, params)
}

// searchLive fetches both notice categories for the requested page,
// de-duplicates, and returns immediately while the full range syncs in
// the background.
func (s *Service) searchLive(ctx context.Context, req SearchRequest, beginDt, endDt string) (*db.SearchResult, error) {
	query := narajangter.NoticeQuery{
		InquiryDiv:    "1",
		BeginDt:       beginDt,
		EndDt:         endDt,
		PageNo:        req.PageNo,
		NumOfRows:     req.NumOfRows,
		RegionName:    req.RegionNames,
		IndustryName:  req.IndustryNames,
		PriceBegin:    req.PriceBegin,
		PriceEnd:      req.PriceEnd,
		ExcludeClosed: req.ExcludeClosed,
	}
	if query.PageNo <= 0 {
		query.PageNo = 1
	}
	if query.NumOfRows <= 0 {
		query.NumOfRows = 100
	}

	seen := map[string]bool{}
	var merged []models.Payload
	for _, bt := range []models.BidType{models.BidTypeConstruction, models.BidTypeService} {
		page, err := s.fetcher.FetchNotices(ctx, bt, query)
		if err != nil {
			return nil, fmt.Errorf("live fetch (%s): %w", bt, err)
		}
		for _, item := range page.Items {
			key := item.Get("bidNtceNo") + "-" + item.Get("bidNtceOrd")
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, item)
		}
	}

	s.scheduleRangeSync(beginDt, endDt, merged)

	return &db.SearchResult{
		Items:      merged,
		TotalCount: len(merged),
		NumOfRows:  query.NumOfRows,
		PageNo:     query.PageNo,
	}, nil
}

// scheduleRangeSync persists what the live call already fetched, then
// syncs the range day by day. The caller's response never waits on it.
func (s *Service) scheduleRangeSync(beginDt, endDt string, fetched []models.Payload) {
	if len(beginDt) < 8 || len(endDt) < 8 {
		s.log.Warn("skipping background sync, bad range", zap.String("begin", beginDt), zap.String("end", endDt))
		return
	}
	start, err := time.Parse("20060102", beginDt[:8])
	if err != nil {
		s.log.Warn("skipping background sync, bad range start", zap.String("begin", beginDt))
		return
	}
	end, err := time.Parse("20060102", endDt[:8])
	if err != nil {
		s.log.Warn("skipping background sync, bad range end", zap.String("end", endDt))
		return
	}

	s.background(func() {
		ctx := context.Background()
		if len(fetched) > 0 {
			if _, err := s.storage.SaveNotices(ctx, fetched); err != nil {
				s.log.Error("failed to persist live-fetched notices", zap.Error(err))
			}
		}
		if err := s.syncer.SyncDateRange(ctx, start, end); err != nil {
			s.log.Error("background range sync failed", zap.Error(err))
		}
	})
}

// Detail returns a stored notice or ErrNotFound.
func (s *Service) Detail(ctx context.Context, bidNtceNo, bidNtceOrd string) (*models.Notice, error) {
	if bidNtceOrd == "" {
		bidNtceOrd = "000"
	}
	notice, err := s.storage.GetNotice(ctx, bidNtceNo, bidNtceOrd)
	if err != nil {
		return nil, err
	}
	if notice == nil {
		return nil, ErrNotFound
	}
	return notice, nil
}

// Regions returns the eligible-region rows for a notice, falling back
// to a live lookup (persisted for next time) on a store miss.
func (s *Service) Regions(ctx context.Context, bidNtceNo, bidNtceOrd string) ([]models.EligibleRegion, error) {
	if bidNtceOrd == "" {
		bidNtceOrd = "000"
	}
	regions, err := s.storage.RegionsForNotice(ctx, bidNtceNo, bidNtceOrd)
	if err != nil {
		return nil, err
	}
	if len(regions) > 0 {
		return regions, nil
	}

	items, err := s.fetcher.FetchRegionsByNotice(ctx, bidNtceNo, bidNtceOrd)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	if _, err := s.storage.SaveRegions(ctx, items); err != nil {
		s.log.Warn("failed to persist fetched regions", zap.Error(err))
	}

	var out []models.EligibleRegion
	for _, item := range items {
		sno, err := strconv.Atoi(item.Get("lmtSno"))
		if err != nil {
			continue
		}
		ord := item.Get("bidNtceOrd")
		if ord == "" {
			ord = bidNtceOrd
		}
		out = append(out, models.EligibleRegion{
			BidNoticeNo:  item.Get("bidNtceNo"),
			BidNoticeOrd: ord,
			LineNo:       sno,
			RegionName:   item.Get("prtcptPsblRgnNm"),
			RegDt:        item.Get("rgstDt"),
			BusinessDiv:  item.Get("bsnsDivNm"),
		})
	}
	return out, nil
}

// BasisAmount returns the basis-amount payload for a notice, cache
// first. A cached row without a published amount is only re-fetched
// once per cooldown and only near the opening date, because upstream
// publishes the amount late; when the requested category has nothing
// usable, the opposite category is tried before giving up.
func (s *Service) BasisAmount(ctx context.Context, bidNtceNo string, bt models.BidType) (models.Payload, error) {
	cachedRow, err := s.storage.GetBasisAmount(ctx, bidNtceNo, bt)
	if err != nil {
		s.log.Warn("basis amount cache read failed", zap.Error(err))
	}
	if cachedRow != nil && !hasBasisAmount(cachedRow.Data) {
		if !s.shouldRetryBasisAmount(ctx, bidNtceNo, cachedRow.FetchedAt) {
			return cachedRow.Data, nil
		}
	}
	if cachedRow != nil && hasRateFields(cachedRow.Data) && hasBasisAmount(cachedRow.Data) {
		return cachedRow.Data, nil
	}

	result := s.fetchAndCacheBasisAmount(ctx, bidNtceNo, bt)
	if result != nil && hasRateFields(result) {
		return result, nil
	}

	// Refetch still lacks an amount: restart the cooldown clock so the
	// next request within the hour serves the cache silently.
	if cachedRow != nil && !(result != nil && hasBasisAmount(result)) {
		if err := s.storage.TouchBasisAmount(ctx, bidNtceNo, bt); err != nil {
			s.log.Warn("failed to touch basis amount", zap.Error(err))
		}
	}

	alt := bt.Opposite()
	altCached, err := s.storage.GetBasisAmount(ctx, bidNtceNo, alt)
	if err != nil {
		s.log.Warn("basis amount cache read failed", zap.Error(err))
	}
	if altCached != nil && hasRateFields(altCached.Data) {
		return altCached.Data, nil
	}

	altResult := s.fetchAndCacheBasisAmount(ctx, bidNtceNo, alt)
	if altResult != nil && hasRateFields(altResult) {
		return altResult, nil
	}

	for _, best := range []models.Payload{result, altResult} {
		if best != nil {
			return best, nil
		}
	}
	if cachedRow != nil {
		return cachedRow.Data, nil
	}
	if altCached != nil {
		return altCached.Data, nil
	}
	return nil, ErrNotFound
}

func (s *Service) fetchAndCacheBasisAmount(ctx context.Context, bidNtceNo string, bt models.BidType) models.Payload {
	result, err := s.fetcher.FetchBasisAmount(ctx, bidNtceNo, bt)
	if err != nil {
		s.log.Error("basis amount fetch failed", zap.String("bid_ntce_no", bidNtceNo), zap.Error(err))
		return nil
	}
	if result == nil {
		return nil
	}
	if err := s.storage.SaveBasisAmount(ctx, bidNtceNo, result.Get("bidNtceOrd"), bt, result); err != nil {
		s.log.Warn("failed to cache basis amount", zap.Error(err))
	}
	return result
}

// shouldRetryBasisAmount gates the refetch of a not-yet-published
// amount: outside the cooldown, and only within a few days of the
// opening date. Missing or unparseable opening dates allow the retry.
func (s *Service) shouldRetryBasisAmount(ctx context.Context, bidNtceNo string, fetchedAt time.Time) bool {
	now := s.now()
	if !fetchedAt.IsZero() && now.Sub(fetchedAt) < basisRetryCooldown {
		return false
	}

	opengDt, err := s.storage.GetOpeningDt(ctx, bidNtceNo)
	if err != nil || opengDt == "" {
		return true
	}
	openg, err := time.ParseInLocation("200601021504", models.NormalizeTimestamp(opengDt), now.Location())
	if err != nil {
		return true
	}
	return openg.Sub(now).Hours()/24 <= basisRetryWindowDays
}

// Results returns the opening results for a notice from a one-hour
// cache, refreshing it from upstream when stale, and locates the
// requesting user's row by business number.
func (s *Service) Results(ctx context.Context, bidNtceNo, userBizNo string) (*OpeningResults, error) {
	var items []models.Payload

	cached, err := s.storage.GetOpeningResults(ctx, bidNtceNo)
	if err != nil {
		s.log.Warn("opening results cache read failed", zap.Error(err))
	}
	if cached != nil && s.now().Sub(cached.FetchedAt) < openingResultsTTL {
		items = cached.Results
	}

	if items == nil {
		fetched, fetchErr := s.fetchAllResults(ctx, bidNtceNo)
		items = fetched
		// A partial sweep is served best-effort but never cached: a
		// truncated bidder list would skew ranks for a full TTL.
		if fetchErr == nil && len(fetched) > 0 {
			if err := s.storage.SaveOpeningResults(ctx, bidNtceNo, fetched); err != nil {
				s.log.Warn("failed to cache opening results", zap.Error(err))
			}
		}
	}

	items = assignSyntheticRanks(items)

	resp := &OpeningResults{
		BidNoticeNo:  bidNtceNo,
		Results:      items,
		TotalBidders: len(items),
	}

	if biz := models.NormalizeBizNo(userBizNo); biz != "" {
		for _, item := range items {
			if models.NormalizeBizNo(item.Get("prcbdrBizno")) == biz {
				resp.UserRank = item
				break
			}
		}
	}
	return resp, nil
}

func (s *Service) fetchAllResults(ctx context.Context, bidNtceNo string) ([]models.Payload, error) {
	var all []models.Payload
	for page := 1; page <= narajangter.MaxPageNo; page++ {
		items, err := s.fetcher.FetchOpeningResults(ctx, bidNtceNo, page, openingResultsPage)
		if err != nil {
			s.log.Error("opening results fetch failed", zap.String("bid_ntce_no", bidNtceNo), zap.Error(err))
			return all, err
		}
		if len(items) == 0 {
			break
		}
		all = append(all, items...)
		if len(items) < openingResultsPage {
			break
		}
	}
	return all, nil
}

func splitTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
