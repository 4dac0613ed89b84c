package bids

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/junseo/bidwatcher/internal/db"
	"github.com/junseo/bidwatcher/internal/models"
	"github.com/junseo/bidwatcher/internal/narajangter"
)

type fakeStorage struct {
	searchResult *db.SearchResult
	searchParams []db.SearchParams
	rangeSynced  bool

	notice     *models.Notice
	opengDt    string
	regions    []models.EligibleRegion
	savedItems []models.Payload

	basis       map[models.BidType]*models.BasisAmount
	savedBasis  map[models.BidType]models.Payload
	touched     int
	openResults *models.OpeningResultCache
	savedOpen   []models.Payload
	location    *models.UserLocation
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		searchResult: &db.SearchResult{},
		basis:        map[models.BidType]*models.BasisAmount{},
		savedBasis:   map[models.BidType]models.Payload{},
	}
}

func (f *fakeStorage) SearchNotices(ctx context.Context, params db.SearchParams) (*db.SearchResult, error) {
	f.searchParams = append(f.searchParams, params)
	return f.searchResult, nil
}

func (f *fakeStorage) IsRangeSynced(ctx context.Context, startDt, endDt string) (bool, error) {
	return f.rangeSynced, nil
}

func (f *fakeStorage) GetNotice(ctx context.Context, no, ord string) (*models.Notice, error) {
	return f.notice, nil
}

func (f *fakeStorage) GetOpeningDt(ctx context.Context, no string) (string, error) {
	return f.opengDt, nil
}

func (f *fakeStorage) RegionsForNotice(ctx context.Context, no, ord string) ([]models.EligibleRegion, error) {
	return f.regions, nil
}

func (f *fakeStorage) SaveNotices(ctx context.Context, items []models.Payload) (int, error) {
	f.savedItems = append(f.savedItems, items...)
	return len(items), nil
}

func (f *fakeStorage) SaveRegions(ctx context.Context, items []models.Payload) (int, error) {
	return len(items), nil
}

func (f *fakeStorage) GetBasisAmount(ctx context.Context, no string, bt models.BidType) (*models.BasisAmount, error) {
	return f.basis[bt], nil
}

func (f *fakeStorage) SaveBasisAmount(ctx context.Context, no, ord string, bt models.BidType, payload models.Payload) error {
	f.savedBasis[bt] = payload
	return nil
}

func (f *fakeStorage) TouchBasisAmount(ctx context.Context, no string, bt models.BidType) error {
	f.touched++
	return nil
}

func (f *fakeStorage) GetOpeningResults(ctx context.Context, no string) (*models.OpeningResultCache, error) {
	return f.openResults, nil
}

func (f *fakeStorage) SaveOpeningResults(ctx context.Context, no string, results []models.Payload) error {
	f.savedOpen = results
	return nil
}

func (f *fakeStorage) GetUserLocation(ctx context.Context, userID uuid.UUID) (*models.UserLocation, error) {
	return f.location, nil
}

type fakeFetcher struct {
	noticeItems  map[models.BidType][]models.Payload
	noticeCalls  int
	basisItems   map[models.BidType]models.Payload
	basisCalls   int
	regionItems  []models.Payload
	openItems    []models.Payload
	openCalls    int
	openFailPage int
}

func (f *fakeFetcher) FetchNotices(ctx context.Context, bt models.BidType, q narajangter.NoticeQuery) (*narajangter.Page, error) {
	f.noticeCalls++
	items := f.noticeItems[bt]
	return &narajangter.Page{Items: items, TotalCount: len(items)}, nil
}

func (f *fakeFetcher) FetchRegionsByNotice(ctx context.Context, no, ord string) ([]models.Payload, error) {
	return f.regionItems, nil
}

func (f *fakeFetcher) FetchBasisAmount(ctx context.Context, no string, bt models.BidType) (models.Payload, error) {
	f.basisCalls++
	return f.basisItems[bt], nil
}

func (f *fakeFetcher) FetchOpeningResults(ctx context.Context, no string, pageNo, numOfRows int) ([]models.Payload, error) {
	f.openCalls++
	if f.openFailPage > 0 && pageNo >= f.openFailPage {
		return nil, errors.New("upstream unavailable")
	}
	if pageNo > 1 {
		return nil, nil
	}
	return f.openItems, nil
}

type fakeSyncer struct {
	mu     sync.Mutex
	ranges [][2]time.Time
}

func (f *fakeSyncer) SyncDateRange(ctx context.Context, start, end time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ranges = append(f.ranges, [2]time.Time{start, end})
	return nil
}

func newTestService(storage *fakeStorage, fetcher *fakeFetcher, syncer *fakeSyncer, at time.Time) *Service {
	s := NewService(storage, fetcher, syncer, zap.NewNop())
	s.now = func() time.Time { return at }
	s.background = func(fn func()) { fn() } // run inline for determinism
	return s
}

func TestSearchOpeningBasisAlwaysReadsStore(t *testing.T) {
	storage := newFakeStorage()
	storage.rangeSynced = false
	fetcher := &fakeFetcher{}
	svc := newTestService(storage, fetcher, &fakeSyncer{}, time.Now())

	_, err := svc.Search(context.Background(), SearchRequest{
		InquiryDiv: "2",
		BeginDt:    "202602100000",
		EndDt:      "202602102359",
	}, nil)

	require.NoError(t, err)
	assert.Zero(t, fetcher.noticeCalls, "opening-date queries never hit upstream")
	require.Len(t, storage.searchParams, 1)
	assert.Equal(t, "2", storage.searchParams[0].InquiryDiv)
}

func TestSearchSyncedRangeReadsStore(t *testing.T) {
	storage := newFakeStorage()
	storage.rangeSynced = true
	fetcher := &fakeFetcher{}
	svc := newTestService(storage, fetcher, &fakeSyncer{}, time.Now())

	_, err := svc.Search(context.Background(), SearchRequest{
		InquiryDiv: "1",
		BeginDt:    "202602100000",
		EndDt:      "202602102359",
	}, nil)

	require.NoError(t, err)
	assert.Zero(t, fetcher.noticeCalls)
	assert.Len(t, storage.searchParams, 1)
}

func TestSearchUnsyncedRangeFallsBackLive(t *testing.T) {
	storage := newFakeStorage()
	fetcher := &fakeFetcher{
		noticeItems: map[models.BidType][]models.Payload{
			models.BidTypeConstruction: {
				{"bidNtceNo": "A", "bidNtceOrd": "000"},
				{"bidNtceNo": "B", "bidNtceOrd": "000"},
			},
			models.BidTypeService: {
				{"bidNtceNo": "B", "bidNtceOrd": "000"}, // duplicate across categories
				{"bidNtceNo": "C", "bidNtceOrd": "000"},
			},
		},
	}
	syncer := &fakeSyncer{}
	svc := newTestService(storage, fetcher, syncer, time.Now())

	result, err := svc.Search(context.Background(), SearchRequest{
		InquiryDiv: "1",
		BeginDt:    "202602100000",
		EndDt:      "202602112359",
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.noticeCalls, "both categories fetched")
	assert.Equal(t, 3, result.TotalCount, "duplicates collapse on (no, ord)")
	assert.Len(t, storage.savedItems, 3, "live results persisted for the background sync")
	require.Len(t, syncer.ranges, 1)
	assert.Equal(t, "20260210", syncer.ranges[0][0].Format("20060102"))
	assert.Equal(t, "20260211", syncer.ranges[0][1].Format("20060102"))
	assert.Empty(t, storage.searchParams, "store is not queried on the live path")
}

func TestSearchLocationFilterExpandsRegions(t *testing.T) {
	storage := newFakeStorage()
	storage.rangeSynced = true
	storage.location = &models.UserLocation{LocationName: "경기도 성남시"}
	svc := newTestService(storage, &fakeFetcher{}, &fakeSyncer{}, time.Now())

	userID := uuid.New()
	_, err := svc.Search(context.Background(), SearchRequest{
		InquiryDiv:        "1",
		BeginDt:           "202602100000",
		EndDt:             "202602102359",
		UseLocationFilter: true,
	}, &userID)

	require.NoError(t, err)
	require.Len(t, storage.searchParams, 1)
	assert.Equal(t, []string{"전체", "", "경기도", "경기도 성남시"}, storage.searchParams[0].Regions)
	assert.Equal(t, []string{"경기도 성남시"}, storage.searchParams[0].RegionLike)
}

func TestBasisAmountCooldownServesStaleCache(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	storage := newFakeStorage()
	// No published amount, fetched 10 minutes ago, opening 10 days out.
	storage.basis[models.BidTypeConstruction] = &models.BasisAmount{
		Data:      models.Payload{"bssamt": "", "bidNtceNo": "X"},
		FetchedAt: now.Add(-10 * time.Minute),
	}
	storage.opengDt = "202602201000"
	fetcher := &fakeFetcher{}
	svc := newTestService(storage, fetcher, &fakeSyncer{}, now)

	got, err := svc.BasisAmount(context.Background(), "X", models.BidTypeConstruction)

	require.NoError(t, err)
	assert.Zero(t, fetcher.basisCalls, "cooldown must suppress the live call")
	assert.Equal(t, "X", got.Get("bidNtceNo"))
}

func TestBasisAmountRetriesAfterCooldown(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	storage := newFakeStorage()
	storage.basis[models.BidTypeConstruction] = &models.BasisAmount{
		Data:      models.Payload{"bssamt": ""},
		FetchedAt: now.Add(-2 * time.Hour),
	}
	storage.opengDt = "202602111000" // opening tomorrow, inside the retry window
	fetcher := &fakeFetcher{
		basisItems: map[models.BidType]models.Payload{
			models.BidTypeConstruction: {
				"bidNtceNo": "X", "bssamt": "42000000",
				"rsrvtnPrceRngBgnRate": "-3", "rsrvtnPrceRngEndRate": "3",
			},
		},
	}
	svc := newTestService(storage, fetcher, &fakeSyncer{}, now)

	got, err := svc.BasisAmount(context.Background(), "X", models.BidTypeConstruction)

	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.basisCalls)
	assert.Equal(t, "42000000", got.Get("bssamt"))
	assert.NotNil(t, storage.savedBasis[models.BidTypeConstruction], "fresh result must be cached")
}

func TestBasisAmountFarFromOpeningSkipsRetry(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	storage := newFakeStorage()
	storage.basis[models.BidTypeConstruction] = &models.BasisAmount{
		Data:      models.Payload{"bssamt": "0"},
		FetchedAt: now.Add(-2 * time.Hour), // cooldown lapsed
	}
	storage.opengDt = "202602251000" // opening 15 days out
	fetcher := &fakeFetcher{}
	svc := newTestService(storage, fetcher, &fakeSyncer{}, now)

	got, err := svc.BasisAmount(context.Background(), "X", models.BidTypeConstruction)

	require.NoError(t, err)
	assert.Zero(t, fetcher.basisCalls)
	assert.Equal(t, "0", got.Get("bssamt"))
}

func TestBasisAmountFallsBackToOppositeType(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	storage := newFakeStorage()
	fetcher := &fakeFetcher{
		basisItems: map[models.BidType]models.Payload{
			models.BidTypeService: {
				"bidNtceNo": "X", "bssamt": "9000000",
				"rsrvtnPrceRngBgnRate": "-2", "rsrvtnPrceRngEndRate": "2",
			},
		},
	}
	svc := newTestService(storage, fetcher, &fakeSyncer{}, now)

	got, err := svc.BasisAmount(context.Background(), "X", models.BidTypeConstruction)

	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.basisCalls, "construction then service")
	assert.Equal(t, "9000000", got.Get("bssamt"))
}

func TestBasisAmountNotFound(t *testing.T) {
	svc := newTestService(newFakeStorage(), &fakeFetcher{}, &fakeSyncer{}, time.Now())

	_, err := svc.BasisAmount(context.Background(), "X", models.BidTypeConstruction)

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResultsServedFromFreshCache(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	storage := newFakeStorage()
	storage.openResults = &models.OpeningResultCache{
		BidNoticeNo: "X",
		Results:     []models.Payload{{"opengRank": "1", "prcbdrBizno": "123-45-67890"}},
		FetchedAt:   now.Add(-30 * time.Minute),
	}
	fetcher := &fakeFetcher{}
	svc := newTestService(storage, fetcher, &fakeSyncer{}, now)

	resp, err := svc.Results(context.Background(), "X", "1234567890")

	require.NoError(t, err)
	assert.Zero(t, fetcher.openCalls)
	assert.Equal(t, 1, resp.TotalBidders)
	require.NotNil(t, resp.UserRank, "dash-insensitive business number match")
	assert.Equal(t, "1", resp.UserRank.Get("opengRank"))
}

func TestResultsStaleCacheRefetchesAndRanks(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	storage := newFakeStorage()
	storage.openResults = &models.OpeningResultCache{
		BidNoticeNo: "X",
		Results:     []models.Payload{{"opengRank": "1"}},
		FetchedAt:   now.Add(-2 * time.Hour),
	}
	fetcher := &fakeFetcher{
		openItems: []models.Payload{
			{"opengRank": "1", "bidprcrt": "99.1", "prcbdrBizno": "111"},
			{"opengRank": "", "bidprcrt": "97.5", "prcbdrBizno": "222"},
			{"opengRank": "", "bidprcrt": "98.2", "prcbdrBizno": "333"},
		},
	}
	svc := newTestService(storage, fetcher, &fakeSyncer{}, now)

	resp, err := svc.Results(context.Background(), "X", "222")

	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.openCalls)
	assert.Len(t, storage.savedOpen, 3, "refreshed list replaces the cache")

	// Unranked bidders get -1, -2 by bid rate descending.
	byBiz := map[string]string{}
	for _, r := range resp.Results {
		byBiz[r.Get("prcbdrBizno")] = r.Get("opengRank")
	}
	assert.Equal(t, "1", byBiz["111"])
	assert.Equal(t, "-1", byBiz["333"])
	assert.Equal(t, "-2", byBiz["222"])
	require.NotNil(t, resp.UserRank)
	assert.Equal(t, "-2", resp.UserRank.Get("opengRank"))
}

func TestResultsPartialFetchServedButNotCached(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	storage := newFakeStorage()
	// Page 1 comes back full, so pagination continues; page 2 fails.
	fullPage := make([]models.Payload, openingResultsPage)
	for i := range fullPage {
		fullPage[i] = models.Payload{"opengRank": "", "bidprcrt": "90.0", "prcbdrBizno": strconv.Itoa(i)}
	}
	fetcher := &fakeFetcher{openItems: fullPage, openFailPage: 2}
	svc := newTestService(storage, fetcher, &fakeSyncer{}, now)

	resp, err := svc.Results(context.Background(), "X", "")

	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.openCalls)
	assert.Equal(t, openingResultsPage, resp.TotalBidders, "partial list is still served")
	assert.Nil(t, storage.savedOpen, "truncated list must not enter the cache")
}

func TestDetailNotFound(t *testing.T) {
	svc := newTestService(newFakeStorage(), &fakeFetcher{}, &fakeSyncer{}, time.Now())

	_, err := svc.Detail(context.Background(), "missing", "000")

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegionsLiveFallbackPersists(t *testing.T) {
	storage := newFakeStorage()
	fetcher := &fakeFetcher{
		regionItems: []models.Payload{
			{"bidNtceNo": "X", "bidNtceOrd": "000", "lmtSno": "1", "prtcptPsblRgnNm": "경기도"},
		},
	}
	svc := newTestService(storage, fetcher, &fakeSyncer{}, time.Now())

	regions, err := svc.Regions(context.Background(), "X", "")

	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.Equal(t, "경기도", regions[0].RegionName)
	assert.Equal(t, 1, regions[0].LineNo)
}
