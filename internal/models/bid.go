package models

import (
	"time"

	"github.com/google/uuid"
)

// Payload is an upstream record kept verbatim: every field the API
// returned, stringified, keyed by the upstream field name. The typed
// columns on the other structs are derived from these fields at merge
// time and exist only for indexing and filtering.
type Payload map[string]string

// Get returns the value for key, or "" when the field is absent.
func (p Payload) Get(key string) string {
	if p == nil {
		return ""
	}
	return p[key]
}

// Clone returns a shallow copy safe to annotate with derived fields.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// BidType distinguishes the two upstream notice categories.
type BidType string

const (
	BidTypeConstruction BidType = "cnstwk"
	BidTypeService      BidType = "servc"
)

// Opposite returns the other category, used by the basis-amount
// fallback lookup.
func (t BidType) Opposite() BidType {
	if t == BidTypeConstruction {
		return BidTypeService
	}
	return BidTypeConstruction
}

// Notice is a stored bid notice. Identity is (BidNoticeNo, BidNoticeOrd);
// re-ingesting the same identity overwrites Data and the derived columns.
type Notice struct {
	BidNoticeNo    string    `json:"bid_ntce_no"`
	BidNoticeOrd   string    `json:"bid_ntce_ord"`
	RegDt          string    `json:"rgst_dt"`      // YYYYMMDDHHMM or ""
	OpeningDt      string    `json:"openg_dt"`     // YYYYMMDDHHMM or ""
	BidCloseDt     string    `json:"bid_close_dt"` // YYYYMMDDHHMM or ""
	EstimatedPrice int64     `json:"presmpt_prce"`
	MainCategory   string    `json:"main_cnsty_nm"`
	Data           Payload   `json:"data"`
	FetchedAt      time.Time `json:"fetched_at"`
}

// EligibleRegion is a denormalized child row of a notice. Rows are
// insert-if-absent: upstream never revises an existing line, so repeated
// fetches of the same key are dropped rather than merged.
type EligibleRegion struct {
	BidNoticeNo  string `json:"bid_ntce_no"`
	BidNoticeOrd string `json:"bid_ntce_ord"`
	LineNo       int    `json:"lmt_sno"`
	RegionName   string `json:"prtcpt_psbl_rgn_nm"` // "전체"/"" means unrestricted
	RegDt        string `json:"rgst_dt"`
	BusinessDiv  string `json:"bsns_div_nm"`
}

// LicenseLimit is an industry/license restriction row, insert-if-absent
// like EligibleRegion.
type LicenseLimit struct {
	BidNoticeNo       string `json:"bid_ntce_no"`
	BidNoticeOrd      string `json:"bid_ntce_ord"`
	LimitGroupNo      string `json:"lmt_grp_no"`
	LimitLineNo       string `json:"lmt_sno"`
	LicenseName       string `json:"lcns_lmt_nm"`
	AllowedIndustries string `json:"permsn_indstryty_list"`
	BusinessDiv       string `json:"bsns_div_nm"`
	RegDt             string `json:"rgst_dt"`
	SpecialtyFields   string `json:"indstryty_mfrc_fld_list"` // bracketed, caret-delimited
}

// BasisAmount caches one basis-amount (A-value) payload per
// (notice, ord, bid type). FetchedAt drives the retry cooldown.
type BasisAmount struct {
	BidNoticeNo  string    `json:"bid_ntce_no"`
	BidNoticeOrd string    `json:"bid_ntce_ord"`
	BidType      BidType   `json:"bid_type"`
	Data         Payload   `json:"data"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// OpeningResultCache holds the full bidder list for one notice, replaced
// wholesale on refresh and valid for an hour from FetchedAt.
type OpeningResultCache struct {
	BidNoticeNo string    `json:"bid_ntce_no"`
	Results     []Payload `json:"results"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// SyncWindow is one ledger entry. WindowStart is the key
// (YYYYMMDDHH00 for hourly windows, YYYYMMDD0000 for daily ones);
// WindowEnd ends in "59" or "2359" respectively. Only daily windows
// count toward range completeness.
type SyncWindow struct {
	WindowStart        string    `json:"window_start"`
	WindowEnd          string    `json:"window_end"`
	TotalNotices       int       `json:"total_notices"`
	TotalRegions       int       `json:"total_regions"`
	TotalLicenseLimits int       `json:"total_license_limits"`
	SyncedAt           time.Time `json:"synced_at"`
}

// Daily reports whether the entry covers a full calendar day.
func (w SyncWindow) Daily() bool {
	return len(w.WindowEnd) == 12 && w.WindowEnd[8:] == "2359"
}

// UserLocation is the free-text business address used to derive the
// eligible-region match patterns.
type UserLocation struct {
	LocationID   uuid.UUID `json:"location_id"`
	UserID       uuid.UUID `json:"user_id"`
	LocationName string    `json:"location_name"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
