package quadratic

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

// Validate checks a candidate distribution against the computed reference.
// Every reference project must appear in the candidate and the candidate
// percentages must add up to 1.0000 at 4 decimals. Both checks always run;
// failures are joined, project mismatch first.
func Validate(reference, candidate []MatchingStatsEntry) error {
	var errs []error

	present := make(map[string]struct{}, len(candidate))
	for _, e := range candidate {
		present[Normalize(e.ProjectID)] = struct{}{}
	}
	var missing []string
	for _, e := range reference {
		if _, ok := present[Normalize(e.ProjectID)]; !ok {
			missing = append(missing, e.ProjectID)
		}
	}
	if len(missing) > 0 {
		errs = append(errs, &ProjectIDMismatchError{Missing: missing})
	}

	sum := percentageSum(candidate)
	if math.Round(sum*basisPoints) != basisPoints {
		errs = append(errs, &PercentageSumError{Sum: Round4(sum)})
	}
	return errors.Join(errs...)
}

// Extra returns candidate project ids unknown to the reference. Validate
// does not reject them.
func Extra(reference, candidate []MatchingStatsEntry) []string {
	known := make(map[string]struct{}, len(reference))
	for _, e := range reference {
		known[Normalize(e.ProjectID)] = struct{}{}
	}
	var extra []string
	for _, e := range candidate {
		if _, ok := known[Normalize(e.ProjectID)]; !ok {
			extra = append(extra, e.ProjectID)
		}
	}
	return extra
}

// ApplyPool completes an accepted candidate: token amounts follow the
// candidate percentages, and payout addresses and weights missing from the
// upload are taken from the reference.
func ApplyPool(reference, candidate []MatchingStatsEntry, pool decimal.Decimal) []MatchingStatsEntry {
	byID := make(map[string]MatchingStatsEntry, len(reference))
	for _, e := range reference {
		byID[Normalize(e.ProjectID)] = e
	}
	out := make([]MatchingStatsEntry, len(candidate))
	for i, e := range candidate {
		ref, ok := byID[Normalize(e.ProjectID)]
		if ok {
			if e.ProjectPayoutAddress == "" {
				e.ProjectPayoutAddress = ref.ProjectPayoutAddress
			}
			e.RawWeight = ref.RawWeight
			e.ProjectID = ref.ProjectID
		}
		e.MatchAmountInToken = pool.Mul(decimal.NewFromFloat(e.MatchPoolPercentage))
		out[i] = e
	}
	return out
}
