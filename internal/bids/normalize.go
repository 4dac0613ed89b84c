package bids

import (
	"sort"
	"strconv"
	"strings"

	"github.com/junseo/bidwatcher/internal/models"
)

// unrestrictedRegion is the upstream marker for a notice open to every
// location.
const unrestrictedRegion = "전체"

// MatchingRegions expands a business address into the ordered list of
// region strings it is eligible for, broadest first. "경기도 성남시"
// yields ["전체", "", "경기도", "경기도 성남시"].
func MatchingRegions(locationName string) []string {
	regions := []string{unrestrictedRegion, ""}
	current := ""
	for _, part := range strings.Fields(locationName) {
		current = strings.TrimSpace(current + " " + part)
		regions = append(regions, current)
	}
	return regions
}

// hasBasisAmount reports whether a basis-amount payload carries a real
// published amount. "0" is the upstream placeholder for not-yet-public.
func hasBasisAmount(p models.Payload) bool {
	v := strings.TrimSpace(p.Get("bssamt"))
	return v != "" && v != "0"
}

// hasRateFields reports whether the reserve-price range rates are
// present. A literal "0" is a valid rate, only absence counts.
func hasRateFields(p models.Payload) bool {
	return p.Get("rsrvtnPrceRngBgnRate") != "" && p.Get("rsrvtnPrceRngEndRate") != ""
}

// assignSyntheticRanks numbers the below-cutoff bidders. Upstream only
// ranks bidders above the cutoff; the rest get -1, -2, ... ordered by
// bid rate descending so the near-misses come first.
func assignSyntheticRanks(results []models.Payload) []models.Payload {
	out := make([]models.Payload, len(results))
	var unranked []int
	for i, r := range results {
		out[i] = r.Clone()
		if strings.TrimSpace(r.Get("opengRank")) == "" {
			unranked = append(unranked, i)
		}
	}

	sort.SliceStable(unranked, func(a, b int) bool {
		return bidRate(out[unranked[a]]) > bidRate(out[unranked[b]])
	})
	for n, idx := range unranked {
		out[idx]["opengRank"] = strconv.Itoa(-(n + 1))
	}
	return out
}

func bidRate(p models.Payload) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(p.Get("bidprcrt")), 64)
	if err != nil {
		return 0
	}
	return f
}
