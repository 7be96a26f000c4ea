package quadratic

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func entries(pcts map[string]float64, order ...string) []MatchingStatsEntry {
	out := make([]MatchingStatsEntry, 0, len(order))
	for _, id := range order {
		out = append(out, MatchingStatsEntry{ProjectID: id, ProjectName: strings.ToUpper(id), MatchPoolPercentage: pcts[id]})
	}
	return out
}

func TestValidate(t *testing.T) {
	reference := entries(map[string]float64{"p1": 0.6667, "p2": 0.3333}, "p1", "p2")

	tests := []struct {
		name         string
		candidate    []MatchingStatsEntry
		wantMismatch []string
		wantSum      float64
	}{
		{
			name:      "exact sum accepted",
			candidate: entries(map[string]float64{"p1": 0.5, "p2": 0.5}, "p2", "p1"),
		},
		{
			name:      "float noise below 4 decimals accepted",
			candidate: entries(map[string]float64{"p1": 0.1 + 0.2, "p2": 0.7}, "p1", "p2"),
		},
		{
			name:      "sum of 0.9999 rejected",
			candidate: entries(map[string]float64{"p1": 0.5, "p2": 0.4999}, "p1", "p2"),
			wantSum:   0.9999,
		},
		{
			name:         "missing reference project",
			candidate:    entries(map[string]float64{"p1": 1}, "p1"),
			wantMismatch: []string{"p2"},
		},
		{
			name:      "extra projects tolerated",
			candidate: entries(map[string]float64{"p1": 0.5, "p2": 0.25, "p9": 0.25}, "p1", "p2", "p9"),
		},
		{
			name:         "both checks reported",
			candidate:    entries(map[string]float64{"p2": 0.5}, "p2"),
			wantMismatch: []string{"p1"},
			wantSum:      0.5,
		},
		{
			name:      "ids compared case-insensitively",
			candidate: entries(map[string]float64{"P1": 0.6, "P2": 0.4}, "P1", "P2"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(reference, tt.candidate)
			if tt.wantMismatch == nil && tt.wantSum == 0 {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)

			var mismatch *ProjectIDMismatchError
			require.Equal(t, tt.wantMismatch != nil, errors.As(err, &mismatch))
			if tt.wantMismatch != nil {
				require.Equal(t, tt.wantMismatch, mismatch.Missing)
			}
			var sumErr *PercentageSumError
			require.Equal(t, tt.wantSum != 0, errors.As(err, &sumErr))
			if tt.wantSum != 0 {
				require.Equal(t, tt.wantSum, sumErr.Sum)
			}
		})
	}
}

func TestExtra(t *testing.T) {
	reference := entries(nil, "p1", "p2")
	candidate := entries(nil, "p1", "p2", "p3")
	require.Equal(t, []string{"p3"}, Extra(reference, candidate))
	require.Empty(t, Extra(reference, reference))
}

func TestApplyPool(t *testing.T) {
	reference := []MatchingStatsEntry{
		{ProjectID: "p1", ProjectPayoutAddress: "0x01", RawWeight: 6},
		{ProjectID: "p2", ProjectPayoutAddress: "0x02", RawWeight: 3},
	}
	candidate := entries(map[string]float64{"P1": 0.25, "p2": 0.75}, "P1", "p2")

	out := ApplyPool(reference, candidate, decimal.NewFromInt(1000))
	require.Len(t, out, 2)
	require.Equal(t, "p1", out[0].ProjectID)
	require.Equal(t, "0x01", out[0].ProjectPayoutAddress)
	require.Equal(t, "250", out[0].MatchAmountInToken.String())
	require.Equal(t, "750", out[1].MatchAmountInToken.String())
	require.Equal(t, 3.0, out[1].RawWeight)
}
