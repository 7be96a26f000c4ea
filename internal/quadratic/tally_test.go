package quadratic

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func registered(votes []Vote, budget uint64) Snapshot {
	s := Snapshot{RoundID: "round", Votes: votes, CreditBudget: budget}
	for _, v := range votes {
		s.Register(v.Voter)
	}
	return s
}

func TestAggregateScenario(t *testing.T) {
	s := registered([]Vote{
		{Voter: "A", GrantID: "p1", CreditsSpent: 16},
		{Voter: "B", GrantID: "p1", CreditsSpent: 4},
		{Voter: "A", GrantID: "p2", CreditsSpent: 9},
	}, 100)

	tallies, err := Aggregate(s, []string{"p1", "p2", "p3"})
	require.NoError(t, err)
	require.Equal(t, []ProjectTally{
		{ProjectID: "p1", RawWeight: 6, UniqueContributors: 2},
		{ProjectID: "p2", RawWeight: 3, UniqueContributors: 1},
		{ProjectID: "p3", RawWeight: 0, UniqueContributors: 0},
	}, tallies)
}

func TestAggregateRejectsUnregisteredVoter(t *testing.T) {
	s := registered([]Vote{{Voter: "0xAA", GrantID: "p1", CreditsSpent: 4}}, 0)
	s.Votes = append(s.Votes, Vote{Voter: "0xBB", GrantID: "p1", CreditsSpent: 9})

	tallies, err := Aggregate(s, []string{"p1"})
	require.Nil(t, tallies)
	var authErr *AuthorizationError
	require.True(t, errors.As(err, &authErr))
	require.Equal(t, "0xBB", authErr.Voter)
}

func TestAggregateRegistrationIsCaseInsensitive(t *testing.T) {
	s := Snapshot{Votes: []Vote{{Voter: "0xAbC", GrantID: "0xP1", CreditsSpent: 4}}}
	s.Register("0xabc")

	tallies, err := Aggregate(s, []string{"0xp1"})
	require.NoError(t, err)
	require.Equal(t, 2.0, tallies[0].RawWeight)
}

func TestAggregateBudgetExceededFailsBatch(t *testing.T) {
	s := registered([]Vote{
		{Voter: "a", GrantID: "p1", CreditsSpent: 16},
		{Voter: "b", GrantID: "p1", CreditsSpent: 4},
		{Voter: "a", GrantID: "p2", CreditsSpent: 9},
	}, 20)

	tallies, err := Aggregate(s, []string{"p1", "p2"})
	require.Nil(t, tallies)
	var budgetErr *BudgetExceededError
	require.True(t, errors.As(err, &budgetErr))
	require.Equal(t, "a", budgetErr.Voter)
	require.Equal(t, uint64(25), budgetErr.Spent)
	require.Equal(t, uint64(20), budgetErr.Budget)
}

func TestAggregateBudgetOverflow(t *testing.T) {
	s := registered([]Vote{
		{Voter: "a", GrantID: "p1", CreditsSpent: math.MaxUint64},
		{Voter: "a", GrantID: "p1", CreditsSpent: 2},
	}, 100)

	_, err := Aggregate(s, []string{"p1"})
	var budgetErr *BudgetExceededError
	require.True(t, errors.As(err, &budgetErr))
	require.Equal(t, uint64(math.MaxUint64), budgetErr.Spent)
}

func TestAggregateIgnoresUnapprovedGrants(t *testing.T) {
	s := registered([]Vote{
		{Voter: "a", GrantID: "p1", CreditsSpent: 1},
		{Voter: "a", GrantID: "rejected", CreditsSpent: 64},
	}, 0)

	tallies, err := Aggregate(s, []string{"p1"})
	require.NoError(t, err)
	require.Len(t, tallies, 1)
	require.Equal(t, 1.0, tallies[0].RawWeight)
}

func TestAggregateWeightGrowsSublinearly(t *testing.T) {
	weight := func(credits uint64) float64 {
		s := registered([]Vote{{Voter: "a", GrantID: "p", CreditsSpent: credits}}, 0)
		tallies, err := Aggregate(s, []string{"p"})
		require.NoError(t, err)
		return tallies[0].RawWeight
	}

	require.Equal(t, 2.0, weight(4))
	require.Equal(t, 4.0, weight(16), "4x credits gives 2x weight")

	prev := 0.0
	for credits := uint64(0); credits <= 400; credits++ {
		w := weight(credits)
		require.GreaterOrEqual(t, w, prev, "credits=%d", credits)
		require.LessOrEqual(t, w, float64(credits)+1e-9)
		prev = w
	}
}

func TestAggregateZeroCreditVoteIsNotAContribution(t *testing.T) {
	s := registered([]Vote{{Voter: "a", GrantID: "p", CreditsSpent: 0}}, 0)
	tallies, err := Aggregate(s, []string{"p"})
	require.NoError(t, err)
	require.Equal(t, ProjectTally{ProjectID: "p"}, tallies[0])
}
