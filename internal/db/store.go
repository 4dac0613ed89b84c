package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/junseo/bidwatcher/internal/models"
)

// Pool is the slice of pgxpool.Pool the store uses. Tests substitute a
// pgxmock pool.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool Pool
}

func NewStore(pool Pool) *Store {
	return &Store{pool: pool}
}

// SaveNotices upserts upstream notice payloads. The verbatim payload is
// the source of truth; the typed columns are re-derived on every save so
// a revised notice fully replaces its previous version.
func (s *Store) SaveNotices(ctx context.Context, items []models.Payload) (int, error) {
	saved := 0
	for _, item := range items {
		no := item.Get("bidNtceNo")
		if no == "" {
			continue
		}
		ord := item.Get("bidNtceOrd")
		if ord == "" {
			ord = "000"
		}

		data, err := json.Marshal(item)
		if err != nil {
			return saved, fmt.Errorf("marshal notice %s-%s: %w", no, ord, err)
		}

		_, err = s.pool.Exec(ctx, `
			INSERT INTO bid_notices
				(bid_ntce_no, bid_ntce_ord, rgst_dt, openg_dt, bid_close_dt, presmpt_prce, main_cnsty_nm, data)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (bid_ntce_no, bid_ntce_ord) DO UPDATE SET
				rgst_dt = EXCLUDED.rgst_dt,
				openg_dt = EXCLUDED.openg_dt,
				bid_close_dt = EXCLUDED.bid_close_dt,
				presmpt_prce = EXCLUDED.presmpt_prce,
				main_cnsty_nm = EXCLUDED.main_cnsty_nm,
				data = EXCLUDED.data,
				fetched_at = NOW()
		`,
			no, ord,
			models.NormalizeTimestamp(item.Get("rgstDt")),
			models.NormalizeTimestamp(item.Get("opengDt")),
			models.NormalizeTimestamp(item.Get("bidClseDt")),
			models.ParsePrice(item.Get("presmptPrce")),
			item.Get("mainCnsttyNm"),
			data,
		)
		if err != nil {
			return saved, fmt.Errorf("save notice %s-%s: %w", no, ord, err)
		}
		saved++
	}
	return saved, nil
}

// GetNotice returns one stored notice, or nil when absent.
func (s *Store) GetNotice(ctx context.Context, bidNtceNo, bidNtceOrd string) (*models.Notice, error) {
	var n models.Notice
	var data []byte
	err := s.pool.QueryRow(ctx, `
		SELECT bid_ntce_no, bid_ntce_ord,
			COALESCE(rgst_dt, ''), COALESCE(openg_dt, ''), COALESCE(bid_close_dt, ''),
			COALESCE(presmpt_prce, 0), COALESCE(main_cnsty_nm, ''), data, fetched_at
		FROM bid_notices
		WHERE bid_ntce_no = $1 AND bid_ntce_ord = $2
	`, bidNtceNo, bidNtceOrd).Scan(
		&n.BidNoticeNo, &n.BidNoticeOrd,
		&n.RegDt, &n.OpeningDt, &n.BidCloseDt,
		&n.EstimatedPrice, &n.MainCategory, &data, &n.FetchedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get notice: %w", err)
	}
	if err := json.Unmarshal(data, &n.Data); err != nil {
		return nil, fmt.Errorf("decode notice data: %w", err)
	}
	return &n, nil
}

// GetOpeningDt returns the normalized opening timestamp of a notice,
// or "" when the notice is unknown or carries none.
func (s *Store) GetOpeningDt(ctx context.Context, bidNtceNo string) (string, error) {
	var opengDt string
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(openg_dt, '') FROM bid_notices
		WHERE bid_ntce_no = $1
		ORDER BY bid_ntce_ord
		LIMIT 1
	`, bidNtceNo).Scan(&opengDt)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get opening dt: %w", err)
	}
	return opengDt, nil
}

// SaveRegions inserts eligible-region rows, dropping rows already
// present. Upstream never revises a region line so conflicts are noise,
// not updates.
func (s *Store) SaveRegions(ctx context.Context, items []models.Payload) (int, error) {
	saved := 0
	for _, item := range items {
		no := item.Get("bidNtceNo")
		sno, err := strconv.Atoi(item.Get("lmtSno"))
		if no == "" || err != nil {
			continue
		}
		ord := item.Get("bidNtceOrd")
		if ord == "" {
			ord = "000"
		}

		_, err = s.pool.Exec(ctx, `
			INSERT INTO bid_prtcpt_psbl_rgns
				(bid_ntce_no, bid_ntce_ord, lmt_sno, prtcpt_psbl_rgn_nm, rgst_dt, bsns_div_nm)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT DO NOTHING
		`, no, ord, sno, item.Get("prtcptPsblRgnNm"), item.Get("rgstDt"), item.Get("bsnsDivNm"))
		if err != nil {
			return saved, fmt.Errorf("save region %s-%s/%d: %w", no, ord, sno, err)
		}
		saved++
	}
	return saved, nil
}

// SaveLicenseLimits inserts license-limit rows, insert-if-absent like
// SaveRegions.
func (s *Store) SaveLicenseLimits(ctx context.Context, items []models.Payload) (int, error) {
	saved := 0
	for _, item := range items {
		no := item.Get("bidNtceNo")
		if no == "" || item.Get("lmtSno") == "" {
			continue
		}
		ord := item.Get("bidNtceOrd")
		if ord == "" {
			ord = "000"
		}
		grp := item.Get("lmtGrpNo")
		if grp == "" {
			grp = "0"
		}

		_, err := s.pool.Exec(ctx, `
			INSERT INTO bid_license_limits
				(bid_ntce_no, bid_ntce_ord, lmt_grp_no, lmt_sno, lcns_lmt_nm,
				 permsn_indstryty_list, bsns_div_nm, rgst_dt, indstryty_mfrc_fld_list)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT DO NOTHING
		`, no, ord, grp, item.Get("lmtSno"), item.Get("lcnsLmtNm"),
			item.Get("permsnIndstrytyList"), item.Get("bsnsDivNm"),
			item.Get("rgstDt"), item.Get("indstrytyMfrcFldList"))
		if err != nil {
			return saved, fmt.Errorf("save license limit %s-%s: %w", no, ord, err)
		}
		saved++
	}
	return saved, nil
}

// RegionsForNotice returns the stored eligible-region rows for a notice.
func (s *Store) RegionsForNotice(ctx context.Context, bidNtceNo, bidNtceOrd string) ([]models.EligibleRegion, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT bid_ntce_no, bid_ntce_ord, lmt_sno,
			COALESCE(prtcpt_psbl_rgn_nm, ''), COALESCE(rgst_dt, ''), COALESCE(bsns_div_nm, '')
		FROM bid_prtcpt_psbl_rgns
		WHERE bid_ntce_no = $1 AND bid_ntce_ord = $2
		ORDER BY lmt_sno
	`, bidNtceNo, bidNtceOrd)
	if err != nil {
		return nil, fmt.Errorf("list regions: %w", err)
	}
	defer rows.Close()

	var regions []models.EligibleRegion
	for rows.Next() {
		var r models.EligibleRegion
		if err := rows.Scan(&r.BidNoticeNo, &r.BidNoticeOrd, &r.LineNo, &r.RegionName, &r.RegDt, &r.BusinessDiv); err != nil {
			return nil, fmt.Errorf("scan region: %w", err)
		}
		regions = append(regions, r)
	}
	return regions, rows.Err()
}

// SaveBasisAmount upserts the cached basis-amount payload for one
// (notice, category) pair and refreshes its fetch time.
func (s *Store) SaveBasisAmount(ctx context.Context, bidNtceNo, bidNtceOrd string, bt models.BidType, payload models.Payload) error {
	if bidNtceOrd == "" {
		bidNtceOrd = "000"
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal basis amount: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO bid_basis_amounts (bid_ntce_no, bid_ntce_ord, bid_type, data)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (bid_ntce_no, bid_ntce_ord, bid_type) DO UPDATE SET
			data = EXCLUDED.data,
			fetched_at = NOW()
	`, bidNtceNo, bidNtceOrd, string(bt), data)
	if err != nil {
		return fmt.Errorf("save basis amount: %w", err)
	}
	return nil
}

// GetBasisAmount returns the cached basis-amount row, or nil when the
// pair was never fetched.
func (s *Store) GetBasisAmount(ctx context.Context, bidNtceNo string, bt models.BidType) (*models.BasisAmount, error) {
	var b models.BasisAmount
	var data []byte
	err := s.pool.QueryRow(ctx, `
		SELECT bid_ntce_no, bid_ntce_ord, bid_type, data, fetched_at
		FROM bid_basis_amounts
		WHERE bid_ntce_no = $1 AND bid_type = $2
	`, bidNtceNo, string(bt)).Scan(&b.BidNoticeNo, &b.BidNoticeOrd, &b.BidType, &data, &b.FetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get basis amount: %w", err)
	}
	if err := json.Unmarshal(data, &b.Data); err != nil {
		return nil, fmt.Errorf("decode basis amount: %w", err)
	}
	return &b, nil
}

// TouchBasisAmount refreshes only fetched_at, restarting the retry
// cooldown after a refetch that still came back without an amount.
func (s *Store) TouchBasisAmount(ctx context.Context, bidNtceNo string, bt models.BidType) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE bid_basis_amounts SET fetched_at = NOW()
		WHERE bid_ntce_no = $1 AND bid_type = $2
	`, bidNtceNo, string(bt))
	if err != nil {
		return fmt.Errorf("touch basis amount: %w", err)
	}
	return nil
}

// SaveOpeningResults replaces the cached bidder list for one notice.
func (s *Store) SaveOpeningResults(ctx context.Context, bidNtceNo string, results []models.Payload) error {
	if results == nil {
		results = []models.Payload{}
	}
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal opening results: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO bid_opening_results (bid_ntce_no, data)
		VALUES ($1, $2)
		ON CONFLICT (bid_ntce_no) DO UPDATE SET
			data = EXCLUDED.data,
			fetched_at = NOW()
	`, bidNtceNo, data)
	if err != nil {
		return fmt.Errorf("save opening results: %w", err)
	}
	return nil
}

// GetOpeningResults returns the cached bidder list, or nil on a miss.
func (s *Store) GetOpeningResults(ctx context.Context, bidNtceNo string) (*models.OpeningResultCache, error) {
	var c models.OpeningResultCache
	var data []byte
	err := s.pool.QueryRow(ctx, `
		SELECT bid_ntce_no, data, fetched_at
		FROM bid_opening_results
		WHERE bid_ntce_no = $1
	`, bidNtceNo).Scan(&c.BidNoticeNo, &data, &c.FetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get opening results: %w", err)
	}
	if err := json.Unmarshal(data, &c.Results); err != nil {
		return nil, fmt.Errorf("decode opening results: %w", err)
	}
	return &c, nil
}

// GetUserLocation returns the user's registered business address, or
// nil when none is set.
func (s *Store) GetUserLocation(ctx context.Context, userID uuid.UUID) (*models.UserLocation, error) {
	var loc models.UserLocation
	err := s.pool.QueryRow(ctx, `
		SELECT location_id, user_id, location_name, created_at, updated_at
		FROM user_locations
		WHERE user_id = $1
	`, userID).Scan(&loc.LocationID, &loc.UserID, &loc.LocationName, &loc.CreatedAt, &loc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user location: %w", err)
	}
	return &loc, nil
}

// SetUserLocation registers or replaces the user's business address.
func (s *Store) SetUserLocation(ctx context.Context, userID uuid.UUID, locationName string) (*models.UserLocation, error) {
	var loc models.UserLocation
	err := s.pool.QueryRow(ctx, `
		INSERT INTO user_locations (user_id, location_name)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET
			location_name = EXCLUDED.location_name,
			updated_at = NOW()
		RETURNING location_id, user_id, location_name, created_at, updated_at
	`, userID, locationName).Scan(&loc.LocationID, &loc.UserID, &loc.LocationName, &loc.CreatedAt, &loc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("set user location: %w", err)
	}
	return &loc, nil
}

// DeleteUserLocation removes the user's business address. It reports
// whether a row existed.
func (s *Store) DeleteUserLocation(ctx context.Context, userID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM user_locations WHERE user_id = $1`, userID)
	if err != nil {
		return false, fmt.Errorf("delete user location: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetPreference returns the user's saved search, or nil when none
// exists. Each user holds at most one.
func (s *Store) GetPreference(ctx context.Context, userID uuid.UUID) (*models.Preference, error) {
	var p models.Preference
	var conditions []byte
	err := s.pool.QueryRow(ctx, `
		SELECT preference_id, user_id, search_conditions, email_enabled, frequency, last_notification_at
		FROM user_preferences
		WHERE user_id = $1
	`, userID).Scan(&p.PreferenceID, &p.UserID, &conditions, &p.EmailEnabled, &p.Frequency, &p.LastNotificationAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get preference: %w", err)
	}
	if err := json.Unmarshal(conditions, &p.SearchConditions); err != nil {
		return nil, fmt.Errorf("decode search conditions: %w", err)
	}
	return &p, nil
}

// UpsertPreference saves or replaces the user's search conditions and
// email schedule.
func (s *Store) UpsertPreference(ctx context.Context, userID uuid.UUID, conditions models.Payload, emailEnabled bool, frequency models.NotifyFrequency) (*models.Preference, error) {
	raw, err := json.Marshal(conditions)
	if err != nil {
		return nil, fmt.Errorf("encode search conditions: %w", err)
	}

	p := models.Preference{
		UserID:           userID,
		SearchConditions: conditions,
		EmailEnabled:     emailEnabled,
		Frequency:        frequency,
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO user_preferences (user_id, search_conditions, email_enabled, frequency)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			search_conditions = EXCLUDED.search_conditions,
			email_enabled = EXCLUDED.email_enabled,
			frequency = EXCLUDED.frequency,
			updated_at = NOW()
		RETURNING preference_id, last_notification_at
	`, userID, raw, emailEnabled, string(frequency)).Scan(&p.PreferenceID, &p.LastNotificationAt)
	if err != nil {
		return nil, fmt.Errorf("upsert preference: %w", err)
	}
	return &p, nil
}

// ListNotifiablePreferences returns every saved search with email
// notifications switched on, joined with its owner.
func (s *Store) ListNotifiablePreferences(ctx context.Context) ([]models.User, []models.Preference, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT u.user_id, u.username, u.email,
			p.preference_id, p.search_conditions, p.frequency, p.last_notification_at
		FROM users u
		JOIN user_preferences p ON p.user_id = u.user_id
		WHERE p.email_enabled = TRUE
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("list notifiable preferences: %w", err)
	}
	defer rows.Close()

	var users []models.User
	var prefs []models.Preference
	for rows.Next() {
		var u models.User
		var p models.Preference
		var conditions []byte
		if err := rows.Scan(&u.UserID, &u.Username, &u.Email,
			&p.PreferenceID, &conditions, &p.Frequency, &p.LastNotificationAt); err != nil {
			return nil, nil, fmt.Errorf("scan preference: %w", err)
		}
		if err := json.Unmarshal(conditions, &p.SearchConditions); err != nil {
			return nil, nil, fmt.Errorf("decode search conditions: %w", err)
		}
		p.UserID = u.UserID
		p.EmailEnabled = true
		users = append(users, u)
		prefs = append(prefs, p)
	}
	return users, prefs, rows.Err()
}

// TouchNotification records that a saved search was just mailed out.
func (s *Store) TouchNotification(ctx context.Context, preferenceID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE user_preferences SET last_notification_at = NOW()
		WHERE preference_id = $1
	`, preferenceID)
	if err != nil {
		return fmt.Errorf("touch notification: %w", err)
	}
	return nil
}
