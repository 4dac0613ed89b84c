package db

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRangeSyncedMissingDay(t *testing.T) {
	mock, store := newMockStore(t)

	// Three calendar days requested, only two daily entries on record.
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM data_sync_log`).
		WithArgs("202602100000", "202602120000").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))

	synced, err := store.IsRangeSynced(context.Background(), "202602100000", "202602122359")

	require.NoError(t, err)
	assert.False(t, synced)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsRangeSyncedCountsDailyWindowsOnly(t *testing.T) {
	mock, store := newMockStore(t)

	// The count must carry the daily-window predicate and truncate both
	// bounds to day precision, whatever time of day the caller passed.
	mock.ExpectQuery(`window_end LIKE '%2359'`).
		WithArgs("202602100000", "202602110000").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))

	synced, err := store.IsRangeSynced(context.Background(), "202602101030", "202602111700")

	require.NoError(t, err)
	assert.True(t, synced)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsRangeSyncedCompleteRange(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM data_sync_log`).
		WithArgs("202602100000", "202602110000").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))

	synced, err := store.IsRangeSynced(context.Background(), "202602100000", "202602112359")

	require.NoError(t, err)
	assert.True(t, synced)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpectedDays(t *testing.T) {
	tests := []struct {
		name    string
		start   string
		end     string
		want    int
		wantErr bool
	}{
		{"single day", "202602100000", "202602102359", 1, false},
		{"two days", "202602100000", "202602112359", 2, false},
		{"month boundary", "202601310000", "202602022359", 3, false},
		{"leap february", "202802280000", "202803012359", 3, false},
		{"garbage start", "notadate0000", "202602102359", 0, true},
		{"too short", "2026", "202602102359", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := expectedDays(tt.start, tt.end)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("expectedDays: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expectedDays = %d, want %d", got, tt.want)
			}
		})
	}
}
