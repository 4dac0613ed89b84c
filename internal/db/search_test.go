package db

import (
	"reflect"
	"strings"
	"testing"
)

func TestBuildSearchWhere_DateBasis(t *testing.T) {
	where, args := buildSearchWhere(SearchParams{
		InquiryDiv: "1",
		BeginDt:    "202602100000",
		EndDt:      "202602102359",
	})

	if !strings.Contains(where, "n.rgst_dt >= $1") || !strings.Contains(where, "n.rgst_dt <= $2") {
		t.Fatalf("registration basis must filter on rgst_dt: %s", where)
	}
	if len(args) != 2 {
		t.Fatalf("want 2 args, got %v", args)
	}

	where, _ = buildSearchWhere(SearchParams{
		InquiryDiv: "2",
		BeginDt:    "202602100000",
		EndDt:      "202602102359",
	})
	if !strings.Contains(where, "n.openg_dt >= $1") {
		t.Fatalf("opening basis must filter on openg_dt: %s", where)
	}
	if strings.Contains(where, "rgst_dt >=") {
		t.Fatalf("opening basis must not filter on rgst_dt: %s", where)
	}
}

func TestBuildSearchWhere_RegionClauseAllowsUnrestricted(t *testing.T) {
	where, args := buildSearchWhere(SearchParams{
		Regions:    []string{"전체", "", "경기도", "경기도 성남시"},
		RegionLike: []string{"경기도 성남시"},
	})

	if !strings.Contains(where, "NOT EXISTS") {
		t.Fatalf("a notice without region rows must match everything: %s", where)
	}
	if !strings.Contains(where, "r.prtcpt_psbl_rgn_nm = ANY($1)") {
		t.Fatalf("missing exact region match: %s", where)
	}
	if !strings.Contains(where, "r.prtcpt_psbl_rgn_nm LIKE $2") {
		t.Fatalf("missing child district match: %s", where)
	}
	if got := args[1]; got != "경기도 성남시 %" {
		t.Fatalf("like pattern = %v, want trailing space-percent", got)
	}
}

func TestBuildSearchWhere_IndustryChecksBothColumns(t *testing.T) {
	where, args := buildSearchWhere(SearchParams{Industries: []string{"전기"}})

	if !strings.Contains(where, "l.lcns_lmt_nm ILIKE $1") {
		t.Fatalf("missing license name match: %s", where)
	}
	if !strings.Contains(where, "l.permsn_indstryty_list ILIKE $2") {
		t.Fatalf("missing allowed industry match: %s", where)
	}
	want := []any{"%전기%", "%전기%"}
	if !reflect.DeepEqual(args, want) {
		t.Fatalf("args = %v, want %v", args, want)
	}
}

func TestBuildSearchWhere_PriceAndClose(t *testing.T) {
	where, args := buildSearchWhere(SearchParams{
		PriceBegin:    1000,
		PriceEnd:      50000,
		ExcludeClosed: true,
		Now:           "202602101200",
	})

	for _, token := range []string{
		"n.presmpt_prce >= $1",
		"n.presmpt_prce <= $2",
		"n.bid_close_dt > $3",
	} {
		if !strings.Contains(where, token) {
			t.Fatalf("where missing %q: %s", token, where)
		}
	}
	if len(args) != 3 {
		t.Fatalf("want 3 args, got %v", args)
	}
}

func TestBuildSearchWhere_SiteRegionUsesPayload(t *testing.T) {
	where, args := buildSearchWhere(SearchParams{SiteRegion: "서울"})
	if !strings.Contains(where, "n.data->>'cnstrtsiteRgnNm' ILIKE $1") {
		t.Fatalf("site region must match the payload field: %s", where)
	}
	if args[0] != "%서울%" {
		t.Fatalf("args = %v", args)
	}
}

func TestBuildSearchOrder(t *testing.T) {
	tests := []struct {
		name   string
		params SearchParams
		want   string
	}{
		{"default", SearchParams{}, "ORDER BY n.rgst_dt DESC"},
		{"unknown column falls back", SearchParams{OrderBy: "evil; DROP TABLE"}, "ORDER BY n.rgst_dt DESC"},
		{"close date asc", SearchParams{OrderBy: "bidClseDt", OrderDir: "asc"}, "ORDER BY n.bid_close_dt ASC NULLS LAST"},
		{"budget desc", SearchParams{OrderBy: "bdgtAmt"}, "ORDER BY NULLIF(n.data->>'bdgtAmt', '')::bigint DESC NULLS LAST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildSearchOrder(tt.params); got != tt.want {
				t.Fatalf("buildSearchOrder = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStripLicenseCode(t *testing.T) {
	tests := []struct{ in, want string }{
		{"조경식재ㆍ시설물공사업/4993", "조경식재ㆍ시설물공사업"},
		{"전기공사업", "전기공사업"},
		{"a/b/123", "a/b"},
	}
	for _, tt := range tests {
		if got := StripLicenseCode(tt.in); got != tt.want {
			t.Fatalf("StripLicenseCode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseSpecialtyFields(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"[1^철근·콘크리트공사]", []string{"철근·콘크리트공사"}},
		{"[1^철근·콘크리트공사^2^상하수도설비공사]", []string{"철근·콘크리트공사", "상하수도설비공사"}},
		{"[]", nil},
		{"", nil},
		{"[12^34]", nil},
	}
	for _, tt := range tests {
		if got := ParseSpecialtyFields(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("ParseSpecialtyFields(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
