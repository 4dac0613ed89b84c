package narajangter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/junseo/bidwatcher/internal/config"
	"github.com/junseo/bidwatcher/internal/models"
)

// MaxPageNo caps pagination loops so a bad totalCount from upstream
// can never turn a sweep into an unbounded crawl.
const MaxPageNo = 999

const (
	pathNoticesCnstwk  = "/1230000/ad/BidPublicInfoService/getBidPblancListInfoCnstwkPPSSrch"
	pathNoticesServc   = "/1230000/ad/BidPublicInfoService/getBidPblancListInfoServcPPSSrch"
	pathBasisCnstwk    = "/1230000/ad/BidPublicInfoService/getBidPblancListInfoCnstwkBsisAmount"
	pathBasisServc     = "/1230000/ad/BidPublicInfoService/getBidPblancListInfoServcBsisAmount"
	pathRegions        = "/1230000/ad/BidPublicInfoService/getBidPblancListInfoPrtcptPsblRgn"
	pathLicenseLimits  = "/1230000/ad/BidPublicInfoService/getBidPblancListInfoLicenseLimit"
	pathOpeningResults = "/1230000/as/ScsbidInfoService/getOpengResultListInfoOpengCompt"
)

// NoticeQuery selects notices by registration or opening time range,
// optionally narrowed by the live-search filters.
type NoticeQuery struct {
	InquiryDiv string // "1" registration basis, "2" opening basis
	BeginDt    string // YYYYMMDDHHMM
	EndDt      string // YYYYMMDDHHMM
	PageNo     int
	NumOfRows  int

	RegionName    string
	IndustryName  string
	IndustryCode  string
	PriceBegin    string
	PriceEnd      string
	ExcludeClosed string // "Y" to drop notices past their close time
}

// Client talks to the 나라장터 open API. All list endpoints share the
// same envelope; see decodeItems for the single-object quirk.
type Client struct {
	http       *http.Client
	baseURL    string
	serviceKey string
	limiter    *rate.Limiter
	log        *zap.Logger
}

func NewClient(cfg config.UpstreamConfig, log *zap.Logger) *Client {
	return &Client{
		http:       &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		serviceKey: cfg.ServiceKey,
		limiter:    rate.NewLimiter(rate.Limit(cfg.PageRPS), 1),
		log:        log,
	}
}

// FetchNotices returns one page of bid notices for the given category.
func (c *Client) FetchNotices(ctx context.Context, bt models.BidType, q NoticeQuery) (*Page, error) {
	path := pathNoticesCnstwk
	if bt == models.BidTypeService {
		path = pathNoticesServc
	}

	params := url.Values{}
	params.Set("inqryDiv", q.InquiryDiv)
	params.Set("inqryBgnDt", q.BeginDt)
	params.Set("inqryEndDt", q.EndDt)
	params.Set("pageNo", strconv.Itoa(q.PageNo))
	params.Set("numOfRows", strconv.Itoa(q.NumOfRows))
	if q.RegionName != "" {
		params.Set("prtcptLmtRgnNm", q.RegionName)
	}
	if q.IndustryName != "" {
		params.Set("indstrytyNm", q.IndustryName)
	}
	if q.IndustryCode != "" {
		params.Set("indstrytyCd", q.IndustryCode)
	}
	if q.PriceBegin != "" {
		params.Set("presmptPrceBgn", q.PriceBegin)
	}
	if q.PriceEnd != "" {
		params.Set("presmptPrceEnd", q.PriceEnd)
	}
	if q.ExcludeClosed != "" {
		params.Set("bidClseExcpYn", q.ExcludeClosed)
	}

	return c.getPage(ctx, path, params)
}

// FetchRegionsByDate returns one page of eligible-region rows registered
// in the given range.
func (c *Client) FetchRegionsByDate(ctx context.Context, beginDt, endDt string, pageNo, numOfRows int) ([]models.Payload, error) {
	params := url.Values{}
	params.Set("inqryDiv", "1")
	params.Set("inqryBgnDt", beginDt)
	params.Set("inqryEndDt", endDt)
	params.Set("pageNo", strconv.Itoa(pageNo))
	params.Set("numOfRows", strconv.Itoa(numOfRows))

	page, err := c.getPage(ctx, pathRegions, params)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// FetchRegionsByNotice returns every eligible-region row for one notice.
func (c *Client) FetchRegionsByNotice(ctx context.Context, bidNtceNo, bidNtceOrd string) ([]models.Payload, error) {
	if bidNtceOrd == "" {
		bidNtceOrd = "000"
	}
	params := url.Values{}
	params.Set("inqryDiv", "2")
	params.Set("bidNtceNo", bidNtceNo)
	params.Set("bidNtceOrd", bidNtceOrd)
	params.Set("pageNo", "1")
	params.Set("numOfRows", "999")

	page, err := c.getPage(ctx, pathRegions, params)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// FetchLicenseLimits returns one page of license-limit rows registered
// in the given range.
func (c *Client) FetchLicenseLimits(ctx context.Context, beginDt, endDt string, pageNo, numOfRows int) ([]models.Payload, error) {
	params := url.Values{}
	params.Set("inqryDiv", "1")
	params.Set("inqryBgnDt", beginDt)
	params.Set("inqryEndDt", endDt)
	params.Set("pageNo", strconv.Itoa(pageNo))
	params.Set("numOfRows", strconv.Itoa(numOfRows))

	page, err := c.getPage(ctx, pathLicenseLimits, params)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// FetchBasisAmount returns the basis-amount record for one notice, or
// nil when upstream has none. When the endpoint returns several rows
// the one matching the notice number wins, falling back to the first.
func (c *Client) FetchBasisAmount(ctx context.Context, bidNtceNo string, bt models.BidType) (models.Payload, error) {
	path := pathBasisCnstwk
	if bt == models.BidTypeService {
		path = pathBasisServc
	}

	params := url.Values{}
	params.Set("bidNtceNo", bidNtceNo)
	params.Set("inqryDiv", "2")
	params.Set("pageNo", "1")
	params.Set("numOfRows", "1")

	page, err := c.getPage(ctx, path, params)
	if err != nil {
		return nil, err
	}
	if len(page.Items) == 0 {
		return nil, nil
	}
	for _, item := range page.Items {
		if item.Get("bidNtceNo") == bidNtceNo {
			return item, nil
		}
	}
	return page.Items[0], nil
}

// FetchOpeningResults returns the bidder list for one notice.
func (c *Client) FetchOpeningResults(ctx context.Context, bidNtceNo string, pageNo, numOfRows int) ([]models.Payload, error) {
	params := url.Values{}
	params.Set("bidNtceNo", bidNtceNo)
	params.Set("pageNo", strconv.Itoa(pageNo))
	params.Set("numOfRows", strconv.Itoa(numOfRows))

	page, err := c.getPage(ctx, pathOpeningResults, params)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// getPage performs one API call. A 404 means "no rows for this query"
// and a 429 means the daily quota is gone; both come back as an empty
// page so pagination loops terminate cleanly. Everything else that is
// not a well-formed resultCode 00 envelope is a hard failure.
func (c *Client) getPage(ctx context.Context, path string, params url.Values) (*Page, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params.Set("type", "json")
	params.Set("ServiceKey", c.serviceKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return &Page{}, nil
	case http.StatusTooManyRequests:
		c.log.Warn("upstream rate limited", zap.String("path", path))
		return &Page{}, nil
	default:
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	env, err := decodeEnvelope(body)
	if err != nil {
		return nil, err
	}
	if env.Response.Header.ResultCode != "00" {
		return nil, fmt.Errorf("api error %s: %s", env.Response.Header.ResultCode, env.Response.Header.ResultMsg)
	}

	items, err := decodeItems(env.Response.Body.Items)
	if err != nil {
		return nil, err
	}

	return &Page{
		Items:      items,
		TotalCount: decodeCount(env.Response.Body.TotalCount),
	}, nil
}
