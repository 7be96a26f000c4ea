package quadratic

import (
	"math"
	"sort"
)

// Aggregate turns a vote snapshot into one tally per approved project.
//
// Every vote must come from a registered voter, and no voter may spend more
// than the snapshot's credit budget across the batch; either violation fails
// the whole batch without producing tallies. A vote adds sqrt(credits) to its
// grant. Votes for grants outside approved are ignored. Projects without votes
// are returned with zero weight. Output is sorted by project id.
func Aggregate(s Snapshot, approved []string) ([]ProjectTally, error) {
	spent := make(map[string]uint64)
	for _, v := range s.Votes {
		voter := Normalize(v.Voter)
		if !s.IsRegistered(voter) {
			return nil, &AuthorizationError{Voter: v.Voter}
		}
		total := spent[voter] + v.CreditsSpent
		if total < spent[voter] {
			total = math.MaxUint64
		}
		spent[voter] = total
	}

	if s.CreditBudget > 0 {
		voters := make([]string, 0, len(spent))
		for voter := range spent {
			voters = append(voters, voter)
		}
		sort.Strings(voters)
		for _, voter := range voters {
			if spent[voter] > s.CreditBudget {
				return nil, &BudgetExceededError{Voter: voter, Spent: spent[voter], Budget: s.CreditBudget}
			}
		}
	}

	byProject := make(map[string][]Vote, len(approved))
	for _, id := range approved {
		byProject[Normalize(id)] = nil
	}
	for _, v := range s.Votes {
		grant := Normalize(v.GrantID)
		votes, ok := byProject[grant]
		if !ok {
			continue
		}
		byProject[grant] = append(votes, Vote{Voter: Normalize(v.Voter), GrantID: grant, CreditsSpent: v.CreditsSpent})
	}

	tallies := make([]ProjectTally, 0, len(byProject))
	for id, votes := range byProject {
		tallies = append(tallies, tallyProject(id, votes))
	}
	sort.Slice(tallies, func(i, j int) bool { return tallies[i].ProjectID < tallies[j].ProjectID })
	return tallies, nil
}

// tallyProject sums in a canonical vote order so float results do not
// depend on the order the ledger returned votes in.
func tallyProject(id string, votes []Vote) ProjectTally {
	sort.Slice(votes, func(i, j int) bool {
		if votes[i].Voter != votes[j].Voter {
			return votes[i].Voter < votes[j].Voter
		}
		return votes[i].CreditsSpent < votes[j].CreditsSpent
	})
	contributors := make(map[string]struct{})
	weight := 0.0
	for _, v := range votes {
		if v.CreditsSpent == 0 {
			continue
		}
		weight += math.Sqrt(float64(v.CreditsSpent))
		contributors[v.Voter] = struct{}{}
	}
	return ProjectTally{ProjectID: id, RawWeight: weight, UniqueContributors: len(contributors)}
}
