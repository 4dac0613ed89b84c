package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/junseo/bidwatcher/internal/models"
)

// SearchParams filters stored notices. Regions and RegionLike carry the
// already-expanded match patterns; exact values match as-is and the like
// patterns match child districts via `name %`.
type SearchParams struct {
	InquiryDiv string // "1" registration basis, "2" opening basis
	BeginDt    string // normalized YYYYMMDDHHMM
	EndDt      string

	Regions    []string
	RegionLike []string
	Industries []string

	PriceBegin int64
	PriceEnd   int64

	ExcludeClosed bool
	Now           string // YYYYMMDDHHMM, compared against bid_close_dt

	SiteRegion string

	OrderBy  string // rgstDt, bidClseDt, presmptPrce, bdgtAmt
	OrderDir string // asc or desc

	PageNo    int
	NumOfRows int
}

type SearchResult struct {
	Items      []models.Payload `json:"items"`
	TotalCount int              `json:"totalCount"`
	NumOfRows  int              `json:"numOfRows"`
	PageNo     int              `json:"pageNo"`
}

// SearchNotices runs the filter against the store and enriches every
// returned payload with the aggregated region and license fields the
// upstream list response never carries.
func (s *Store) SearchNotices(ctx context.Context, params SearchParams) (*SearchResult, error) {
	where, args := buildSearchWhere(params)

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM bid_notices n "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count notices: %w", err)
	}

	if params.NumOfRows <= 0 {
		params.NumOfRows = 100
	}
	if params.PageNo <= 0 {
		params.PageNo = 1
	}

	query := "SELECT n.bid_ntce_no, n.data FROM bid_notices n " + where +
		" " + buildSearchOrder(params) +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, params.NumOfRows, (params.PageNo-1)*params.NumOfRows)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search notices: %w", err)
	}
	defer rows.Close()

	var bidNos []string
	var items []models.Payload
	for rows.Next() {
		var no string
		var data []byte
		if err := rows.Scan(&no, &data); err != nil {
			return nil, fmt.Errorf("scan notice: %w", err)
		}
		var p models.Payload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode notice data: %w", err)
		}
		bidNos = append(bidNos, no)
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(items) > 0 {
		if err := s.enrichNotices(ctx, bidNos, items); err != nil {
			return nil, err
		}
	}

	return &SearchResult{
		Items:      items,
		TotalCount: total,
		NumOfRows:  params.NumOfRows,
		PageNo:     params.PageNo,
	}, nil
}

// buildSearchWhere assembles the WHERE clause and its positional args.
// Kept separate from the query so the clause logic stays testable
// without a database.
func buildSearchWhere(params SearchParams) (string, []any) {
	where := "WHERE 1=1"
	args := []any{}
	argIdx := 1

	dateCol := "n.rgst_dt"
	if params.InquiryDiv == "2" {
		dateCol = "n.openg_dt"
	}
	if params.BeginDt != "" {
		where += fmt.Sprintf(" AND %s >= $%d", dateCol, argIdx)
		args = append(args, params.BeginDt)
		argIdx++
	}
	if params.EndDt != "" {
		where += fmt.Sprintf(" AND %s <= $%d", dateCol, argIdx)
		args = append(args, params.EndDt)
		argIdx++
	}

	// A notice with no region rows is open to everyone; one with rows
	// must have at least one row matching the caller's patterns.
	if len(params.Regions) > 0 {
		regionMatch := fmt.Sprintf("r.prtcpt_psbl_rgn_nm = ANY($%d)", argIdx)
		args = append(args, params.Regions)
		argIdx++
		for _, rgn := range params.RegionLike {
			regionMatch += fmt.Sprintf(" OR r.prtcpt_psbl_rgn_nm LIKE $%d", argIdx)
			args = append(args, rgn+" %")
			argIdx++
		}
		where += ` AND (
			NOT EXISTS (
				SELECT 1 FROM bid_prtcpt_psbl_rgns r
				WHERE r.bid_ntce_no = n.bid_ntce_no AND r.bid_ntce_ord = n.bid_ntce_ord
			)
			OR EXISTS (
				SELECT 1 FROM bid_prtcpt_psbl_rgns r
				WHERE r.bid_ntce_no = n.bid_ntce_no AND r.bid_ntce_ord = n.bid_ntce_ord
				AND (` + regionMatch + `)
			)
		)`
	}

	if len(params.Industries) > 0 {
		var conds []string
		for _, ind := range params.Industries {
			conds = append(conds, fmt.Sprintf("l.lcns_lmt_nm ILIKE $%d", argIdx))
			args = append(args, "%"+ind+"%")
			argIdx++
			conds = append(conds, fmt.Sprintf("l.permsn_indstryty_list ILIKE $%d", argIdx))
			args = append(args, "%"+ind+"%")
			argIdx++
		}
		where += ` AND EXISTS (
			SELECT 1 FROM bid_license_limits l
			WHERE l.bid_ntce_no = n.bid_ntce_no AND l.bid_ntce_ord = n.bid_ntce_ord
			AND (` + strings.Join(conds, " OR ") + `)
		)`
	}

	if params.PriceBegin > 0 {
		where += fmt.Sprintf(" AND n.presmpt_prce >= $%d", argIdx)
		args = append(args, params.PriceBegin)
		argIdx++
	}
	if params.PriceEnd > 0 {
		where += fmt.Sprintf(" AND n.presmpt_prce <= $%d", argIdx)
		args = append(args, params.PriceEnd)
		argIdx++
	}

	if params.ExcludeClosed && params.Now != "" {
		where += fmt.Sprintf(" AND n.bid_close_dt > $%d", argIdx)
		args = append(args, params.Now)
		argIdx++
	}

	if params.SiteRegion != "" {
		where += fmt.Sprintf(" AND n.data->>'cnstrtsiteRgnNm' ILIKE $%d", argIdx)
		args = append(args, "%"+params.SiteRegion+"%")
		argIdx++
	}

	return where, args
}

func buildSearchOrder(params SearchParams) string {
	orderCols := map[string]string{
		"rgstDt":      "n.rgst_dt",
		"bidClseDt":   "n.bid_close_dt",
		"presmptPrce": "n.presmpt_prce",
		"bdgtAmt":     "NULLIF(n.data->>'bdgtAmt', '')::bigint",
	}
	col, ok := orderCols[params.OrderBy]
	if !ok {
		return "ORDER BY n.rgst_dt DESC"
	}
	dir := "DESC"
	if params.OrderDir == "asc" {
		dir = "ASC"
	}
	return fmt.Sprintf("ORDER BY %s %s NULLS LAST", col, dir)
}

// enrichNotices annotates each payload with the comma-joined region
// names, license names and specialty fields of its notice.
func (s *Store) enrichNotices(ctx context.Context, bidNos []string, items []models.Payload) error {
	rgnMap := map[string][]string{}
	rows, err := s.pool.Query(ctx, `
		SELECT bid_ntce_no, prtcpt_psbl_rgn_nm
		FROM bid_prtcpt_psbl_rgns
		WHERE bid_ntce_no = ANY($1)
	`, bidNos)
	if err != nil {
		return fmt.Errorf("load region names: %w", err)
	}
	for rows.Next() {
		var no string
		var name *string
		if err := rows.Scan(&no, &name); err != nil {
			rows.Close()
			return fmt.Errorf("scan region name: %w", err)
		}
		if name != nil && *name != "" {
			rgnMap[no] = appendUnique(rgnMap[no], *name)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	licMap := map[string][]string{}
	mfrcMap := map[string][]string{}
	rows, err = s.pool.Query(ctx, `
		SELECT bid_ntce_no, lcns_lmt_nm, permsn_indstryty_list, indstryty_mfrc_fld_list
		FROM bid_license_limits
		WHERE bid_ntce_no = ANY($1)
	`, bidNos)
	if err != nil {
		return fmt.Errorf("load license names: %w", err)
	}
	for rows.Next() {
		var no string
		var lcnsNm, permsnList, mfrcList *string
		if err := rows.Scan(&no, &lcnsNm, &permsnList, &mfrcList); err != nil {
			rows.Close()
			return fmt.Errorf("scan license row: %w", err)
		}
		switch {
		case lcnsNm != nil && *lcnsNm != "":
			licMap[no] = appendUnique(licMap[no], StripLicenseCode(*lcnsNm))
		case permsnList != nil && *permsnList != "":
			licMap[no] = appendUnique(licMap[no], *permsnList)
		}
		if mfrcList != nil {
			for _, f := range ParseSpecialtyFields(*mfrcList) {
				mfrcMap[no] = appendUnique(mfrcMap[no], f)
			}
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for i, item := range items {
		no := item.Get("bidNtceNo")
		items[i]["prtcptPsblRgnNms"] = strings.Join(rgnMap[no], ", ")
		items[i]["permsnIndstrytyListNms"] = strings.Join(licMap[no], ", ")
		items[i]["indstrytyMfrcFldListNms"] = strings.Join(mfrcMap[no], ", ")
	}
	return nil
}

// StripLicenseCode removes the trailing "/code" from a license name,
// e.g. "조경식재ㆍ시설물공사업/4993" becomes "조경식재ㆍ시설물공사업".
func StripLicenseCode(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[:i]
	}
	return name
}

// ParseSpecialtyFields splits a bracketed caret list like
// "[1^철근·콘크리트공사^2^상하수도설비공사]" into its non-numeric tokens.
func ParseSpecialtyFields(raw string) []string {
	raw = strings.Trim(raw, "[]")
	if raw == "" {
		return nil
	}
	var fields []string
	for _, tok := range strings.Split(raw, "^") {
		if tok == "" || isDigits(tok) {
			continue
		}
		fields = append(fields, tok)
	}
	return fields
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func appendUnique(list []string, v string) []string {
	for _, item := range list {
		if item == v {
			return list
		}
	}
	return append(list, v)
}
