package quadratic

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var decimalEqual = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

func TestCalculateScenario(t *testing.T) {
	tallies := []ProjectTally{
		{ProjectID: "p2", RawWeight: 3, UniqueContributors: 1},
		{ProjectID: "p1", RawWeight: 6, UniqueContributors: 2},
	}
	projects := map[string]ProjectInfo{
		"p1": {ProjectID: "p1", Name: "Project One", PayoutAddress: "0x01"},
		"p2": {ProjectID: "p2", Name: "Project Two", PayoutAddress: "0x02"},
	}

	dist, err := Calculate(tallies, projects, decimal.NewFromInt(1000))
	require.NoError(t, err)
	require.Equal(t, []string{"p1", "p2"}, dist.ProjectIDs())

	p1, p2 := dist.Entries[0], dist.Entries[1]
	require.Equal(t, 0.6667, p1.MatchPoolPercentage)
	require.Equal(t, 0.3333, p2.MatchPoolPercentage)
	require.Equal(t, "666.7", p1.MatchAmountInToken.Round(1).String())
	require.Equal(t, "333.3", p2.MatchAmountInToken.Round(1).String())
	require.Equal(t, "Project One", p1.ProjectName)
	require.Equal(t, "0x02", p2.ProjectPayoutAddress)
	require.Equal(t, 2, p1.UniqueContributorsCount)

	// amounts come from the unrounded share
	require.True(t, p1.MatchAmountInToken.GreaterThan(decimal.RequireFromString("666.666")))
	require.True(t, p1.MatchAmountInToken.LessThan(decimal.RequireFromString("666.667")))
}

func TestCalculateNoVotes(t *testing.T) {
	tallies := []ProjectTally{{ProjectID: "b"}, {ProjectID: "a"}}

	dist, err := Calculate(tallies, nil, decimal.NewFromInt(500))
	require.True(t, errors.Is(err, ErrNoVotes))
	require.Equal(t, []string{"a", "b"}, dist.ProjectIDs())
	for _, e := range dist.Entries {
		require.Zero(t, e.MatchPoolPercentage)
		require.True(t, e.MatchAmountInToken.IsZero())
	}
}

func TestCalculateTiesBrokenByProjectID(t *testing.T) {
	tallies := []ProjectTally{
		{ProjectID: "p3", RawWeight: 1},
		{ProjectID: "p1", RawWeight: 1},
		{ProjectID: "p2", RawWeight: 1},
	}

	dist, err := Calculate(tallies, nil, decimal.NewFromInt(3))
	require.NoError(t, err)
	require.Equal(t, []string{"p1", "p2", "p3"}, dist.ProjectIDs())
	for _, e := range dist.Entries {
		require.Equal(t, 0.3333, e.MatchPoolPercentage)
	}
	require.InDelta(t, 1.0, dist.PercentageSum(), 0.0001+1e-9)
}

func TestCalculatePercentagesSumToOne(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		n := 1 + rng.Intn(60)
		votes := make([]Vote, 0, n*3)
		approved := make([]string, n)
		for i := 0; i < n; i++ {
			approved[i] = string(rune('a'+i%26)) + string(rune('0'+i/26))
		}
		for i := 0; i < n*3; i++ {
			votes = append(votes, Vote{
				Voter:        string(rune('A' + rng.Intn(20))),
				GrantID:      approved[rng.Intn(n)],
				CreditsSpent: uint64(1 + rng.Intn(100)),
			})
		}
		tallies, err := Aggregate(registered(votes, 0), approved)
		require.NoError(t, err)

		dist, err := Calculate(tallies, nil, decimal.NewFromInt(10000))
		require.NoError(t, err)

		total := 0.0
		for _, tally := range tallies {
			total += tally.RawWeight
		}
		for _, e := range dist.Entries {
			require.InDelta(t, e.RawWeight/total, e.MatchPoolPercentage, 0.00005+1e-12)
		}
		// each entry is off by at most half a basis point
		require.InDelta(t, 1.0, dist.PercentageSum(), float64(len(dist.Entries))*0.00005+1e-9)
		if len(dist.Entries) <= 3 {
			require.InDelta(t, 1.0, dist.PercentageSum(), 0.0001+1e-9)
		}
	}
}

func TestCalculateMatchesRoundedShare(t *testing.T) {
	tallies := []ProjectTally{
		{ProjectID: "a", RawWeight: 1},
		{ProjectID: "b", RawWeight: 1},
		{ProjectID: "c", RawWeight: 1},
		{ProjectID: "d", RawWeight: 4},
	}
	dist, err := Calculate(tallies, nil, decimal.NewFromInt(700))
	require.NoError(t, err)
	require.Equal(t, []string{"d", "a", "b", "c"}, dist.ProjectIDs())
	require.Equal(t, 0.5714, dist.Entries[0].MatchPoolPercentage)
	require.Equal(t, 0.1429, dist.Entries[1].MatchPoolPercentage)
	require.Equal(t, "400", dist.Entries[0].MatchAmountInToken.Round(6).String())
	require.Equal(t, "100", dist.Entries[1].MatchAmountInToken.Round(6).String())
}

func TestCalculateIsDeterministic(t *testing.T) {
	votes := []Vote{
		{Voter: "a", GrantID: "p1", CreditsSpent: 7},
		{Voter: "b", GrantID: "p1", CreditsSpent: 11},
		{Voter: "c", GrantID: "p2", CreditsSpent: 13},
		{Voter: "a", GrantID: "p3", CreditsSpent: 2},
		{Voter: "d", GrantID: "p2", CreditsSpent: 3},
	}
	approved := []string{"p1", "p2", "p3"}
	pool := decimal.RequireFromString("12345.678")

	compute := func(vs []Vote) Distribution {
		tallies, err := Aggregate(registered(vs, 0), approved)
		require.NoError(t, err)
		dist, err := Calculate(tallies, nil, pool)
		require.NoError(t, err)
		return dist
	}

	first := compute(votes)
	reversed := make([]Vote, len(votes))
	for i, v := range votes {
		reversed[len(votes)-1-i] = v
	}
	for _, vs := range [][]Vote{votes, reversed} {
		again := compute(vs)
		if diff := cmp.Diff(first, again, decimalEqual); diff != "" {
			t.Fatalf("distribution changed (-first +again):\n%s", diff)
		}
		for i := range first.Entries {
			require.Equal(t, math.Float64bits(first.Entries[i].MatchPoolPercentage),
				math.Float64bits(again.Entries[i].MatchPoolPercentage))
		}
	}
}

func TestRound4(t *testing.T) {
	require.Equal(t, 0.6667, Round4(2.0/3.0))
	require.Equal(t, 1.0, Round4(0.99996))
	require.Equal(t, 0.9999, Round4(0.99994))
}
