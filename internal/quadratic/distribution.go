package quadratic

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

// basisPoints is the number of 4-decimal units in 100%.
const basisPoints = 10000

// Round4 rounds x to 4 decimal places.
func Round4(x float64) float64 {
	return math.Round(x*basisPoints) / basisPoints
}

// Calculate converts tallies into a matching distribution of pool.
//
// Each project's share is rawWeight / sum(rawWeights). Displayed percentages
// are the share rounded to 4 decimals, so their sum may be off by a few
// basis points; token amounts use the unrounded share. Entries are ordered
// by rawWeight descending, then project id ascending.
//
// When no weight was cast every entry gets 0% and ErrNoVotes is returned
// together with the zero distribution.
func Calculate(tallies []ProjectTally, projects map[string]ProjectInfo, pool decimal.Decimal) (Distribution, error) {
	sorted := make([]ProjectTally, len(tallies))
	copy(sorted, tallies)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].RawWeight != sorted[j].RawWeight {
			return sorted[i].RawWeight > sorted[j].RawWeight
		}
		return sorted[i].ProjectID < sorted[j].ProjectID
	})

	total := 0.0
	for _, t := range sorted {
		total += t.RawWeight
	}

	entries := make([]MatchingStatsEntry, len(sorted))
	for i, t := range sorted {
		info := lookupProject(projects, t.ProjectID)
		entries[i] = MatchingStatsEntry{
			ProjectName:             info.Name,
			ProjectID:               t.ProjectID,
			UniqueContributorsCount: t.UniqueContributors,
			MatchAmountInToken:      decimal.Zero,
			ProjectPayoutAddress:    info.PayoutAddress,
			RawWeight:               t.RawWeight,
		}
	}
	if total == 0 {
		return Distribution{Entries: entries}, ErrNoVotes
	}

	totalWeight := decimal.NewFromFloat(total)
	for i, t := range sorted {
		entries[i].MatchPoolPercentage = Round4(t.RawWeight / total)
		entries[i].MatchAmountInToken = pool.Mul(decimal.NewFromFloat(t.RawWeight)).Div(totalWeight)
	}
	return Distribution{Entries: entries}, nil
}

func lookupProject(projects map[string]ProjectInfo, id string) ProjectInfo {
	if info, ok := projects[id]; ok {
		return info
	}
	if info, ok := projects[Normalize(id)]; ok {
		return info
	}
	for key, info := range projects {
		if Normalize(key) == Normalize(id) {
			return info
		}
	}
	return ProjectInfo{ProjectID: id}
}
