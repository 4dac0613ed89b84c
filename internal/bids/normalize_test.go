package bids

import (
	"reflect"
	"testing"

	"github.com/junseo/bidwatcher/internal/models"
)

func TestMatchingRegions(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"경기도 성남시", []string{"전체", "", "경기도", "경기도 성남시"}},
		{"서울특별시", []string{"전체", "", "서울특별시"}},
		{"", []string{"전체", ""}},
		{"  경기도   성남시  ", []string{"전체", "", "경기도", "경기도 성남시"}},
	}

	for _, tt := range tests {
		if got := MatchingRegions(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("MatchingRegions(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestHasBasisAmount(t *testing.T) {
	tests := []struct {
		name string
		p    models.Payload
		want bool
	}{
		{"present", models.Payload{"bssamt": "42000000"}, true},
		{"zero placeholder", models.Payload{"bssamt": "0"}, false},
		{"blank", models.Payload{"bssamt": "  "}, false},
		{"absent", models.Payload{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hasBasisAmount(tt.p); got != tt.want {
				t.Fatalf("hasBasisAmount = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHasRateFieldsAcceptsZero(t *testing.T) {
	p := models.Payload{"rsrvtnPrceRngBgnRate": "0", "rsrvtnPrceRngEndRate": "0"}
	if !hasRateFields(p) {
		t.Fatal("a literal 0 rate is a valid rate")
	}
	if hasRateFields(models.Payload{"rsrvtnPrceRngBgnRate": "3"}) {
		t.Fatal("both rates must be present")
	}
}

func TestAssignSyntheticRanksDoesNotMutateInput(t *testing.T) {
	in := []models.Payload{{"opengRank": "", "bidprcrt": "97.5"}}
	out := assignSyntheticRanks(in)

	if in[0].Get("opengRank") != "" {
		t.Fatal("input payloads must stay untouched")
	}
	if out[0].Get("opengRank") != "-1" {
		t.Fatalf("synthetic rank = %q, want -1", out[0].Get("opengRank"))
	}
}

func TestAssignSyntheticRanksOrder(t *testing.T) {
	in := []models.Payload{
		{"opengRank": "2", "bidprcrt": "99.0"},
		{"opengRank": "", "bidprcrt": "95.0"},
		{"opengRank": "", "bidprcrt": "98.0"},
		{"opengRank": "", "bidprcrt": "garbage"},
	}

	out := assignSyntheticRanks(in)

	if out[0].Get("opengRank") != "2" {
		t.Fatal("ranked rows keep their rank")
	}
	if out[2].Get("opengRank") != "-1" || out[1].Get("opengRank") != "-2" || out[3].Get("opengRank") != "-3" {
		t.Fatalf("synthetic ranks wrong: %v %v %v",
			out[1].Get("opengRank"), out[2].Get("opengRank"), out[3].Get("opengRank"))
	}
}
