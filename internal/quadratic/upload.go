package quadratic

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
)

type uploadEntry struct {
	ProjectName             *string      `json:"projectName"`
	ProjectID               *string      `json:"projectId"`
	UniqueContributorsCount *json.Number `json:"uniqueContributorsCount"`
	MatchPoolPercentage     *json.Number `json:"matchPoolPercentage"`
}

// ParseUpload reads an operator-authored distribution: a JSON array of
// objects with projectName, projectId, uniqueContributorsCount and
// matchPoolPercentage. Unknown fields are ignored. Any schema violation
// returns a *ParseError.
func ParseUpload(r io.Reader) ([]MatchingStatsEntry, error) {
	var raw []json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, &ParseError{Index: -1, Reason: err.Error()}
	}

	entries := make([]MatchingStatsEntry, 0, len(raw))
	for i, msg := range raw {
		var u uploadEntry
		if err := json.Unmarshal(msg, &u); err != nil {
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &typeErr) {
				return nil, &ParseError{Index: i, Field: typeErr.Field, Reason: "has the wrong type"}
			}
			return nil, &ParseError{Index: i, Reason: err.Error()}
		}
		entry, err := u.toEntry(i)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (u uploadEntry) toEntry(i int) (MatchingStatsEntry, error) {
	missing := func(field string) error {
		return &ParseError{Index: i, Field: field, Reason: "is required"}
	}
	switch {
	case u.ProjectName == nil:
		return MatchingStatsEntry{}, missing("projectName")
	case u.ProjectID == nil || strings.TrimSpace(*u.ProjectID) == "":
		return MatchingStatsEntry{}, missing("projectId")
	case u.UniqueContributorsCount == nil:
		return MatchingStatsEntry{}, missing("uniqueContributorsCount")
	case u.MatchPoolPercentage == nil:
		return MatchingStatsEntry{}, missing("matchPoolPercentage")
	}

	count, err := u.UniqueContributorsCount.Int64()
	if err != nil || count < 0 {
		return MatchingStatsEntry{}, &ParseError{Index: i, Field: "uniqueContributorsCount",
			Reason: fmt.Sprintf("must be a non-negative integer, got %s", u.UniqueContributorsCount.String())}
	}
	pct, err := u.MatchPoolPercentage.Float64()
	if err != nil || pct < 0 || pct > 1 {
		return MatchingStatsEntry{}, &ParseError{Index: i, Field: "matchPoolPercentage",
			Reason: fmt.Sprintf("must be a number between 0 and 1, got %s", u.MatchPoolPercentage.String())}
	}

	return MatchingStatsEntry{
		ProjectName:             *u.ProjectName,
		ProjectID:               strings.TrimSpace(*u.ProjectID),
		UniqueContributorsCount: int(count),
		MatchPoolPercentage:     pct,
		MatchAmountInToken:      decimal.Zero,
	}, nil
}
