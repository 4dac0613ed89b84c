package models

import "testing"

func TestNormalizeTimestamp(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"already normalized", "202602101430", "202602101430"},
		{"dashed datetime", "2026-02-10 14:30:00", "202602101430"},
		{"seconds truncated", "20260210143059", "202602101430"},
		{"date only padded", "20260210", "202602100000"},
		{"non digits only", "n/a", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeTimestamp(tt.in); got != tt.want {
				t.Fatalf("NormalizeTimestamp(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeTimestampWidth(t *testing.T) {
	for _, in := range []string{"2026", "202602101430", "2026-02-10 14:30:00.123"} {
		got := NormalizeTimestamp(in)
		if got != "" && len(got) != 12 {
			t.Fatalf("NormalizeTimestamp(%q) = %q, want 12 digits", in, got)
		}
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"123456789", 123456789},
		{"1234567.0", 1234567},
		{" 500 ", 500},
		{"미정", 0},
	}

	for _, tt := range tests {
		if got := ParsePrice(tt.in); got != tt.want {
			t.Fatalf("ParsePrice(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeBizNo(t *testing.T) {
	if got := NormalizeBizNo(" 123-45-67890 "); got != "1234567890" {
		t.Fatalf("NormalizeBizNo = %q", got)
	}
}

func TestBidTypeOpposite(t *testing.T) {
	if BidTypeConstruction.Opposite() != BidTypeService {
		t.Fatal("construction opposite should be service")
	}
	if BidTypeService.Opposite() != BidTypeConstruction {
		t.Fatal("service opposite should be construction")
	}
}

func TestSyncWindowDaily(t *testing.T) {
	daily := SyncWindow{WindowStart: "202602100000", WindowEnd: "202602102359"}
	hourly := SyncWindow{WindowStart: "202602101300", WindowEnd: "202602101359"}
	if !daily.Daily() {
		t.Fatal("expected daily window")
	}
	if hourly.Daily() {
		t.Fatal("hourly window must not count as daily")
	}
}
