// Package quadratic computes quadratic-funding tallies and matching
// distributions from a snapshot of round votes.
package quadratic

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Vote is one (voter, grant, credits) record read from the ledger.
type Vote struct {
	Voter        string `json:"voter"`
	GrantID      string `json:"grantId"`
	CreditsSpent uint64 `json:"creditsSpent"`
}

// Snapshot is the full vote set of a round as of one block.
type Snapshot struct {
	RoundID      string
	Block        uint64
	Votes        []Vote
	Registered   map[string]bool // normalized voter address -> registered
	CreditBudget uint64          // 0 disables the budget check
}

// Register marks addresses as registered voters.
func (s *Snapshot) Register(addrs ...string) {
	if s.Registered == nil {
		s.Registered = make(map[string]bool, len(addrs))
	}
	for _, a := range addrs {
		s.Registered[Normalize(a)] = true
	}
}

func (s Snapshot) IsRegistered(addr string) bool {
	return s.Registered[Normalize(addr)]
}

// ProjectTally is the quadratic weight of one approved project.
type ProjectTally struct {
	ProjectID          string  `json:"projectId"`
	RawWeight          float64 `json:"rawWeight"`
	UniqueContributors int     `json:"uniqueContributorsCount"`
}

// ProjectInfo carries the display metadata of an approved project.
type ProjectInfo struct {
	ProjectID     string
	Name          string
	PayoutAddress string
}

// MatchingStatsEntry is one row of a matching distribution.
type MatchingStatsEntry struct {
	ProjectName             string          `json:"projectName"`
	ProjectID               string          `json:"projectId"`
	UniqueContributorsCount int             `json:"uniqueContributorsCount"`
	MatchPoolPercentage     float64         `json:"matchPoolPercentage"`
	MatchAmountInToken      decimal.Decimal `json:"matchAmountInToken"`
	ProjectPayoutAddress    string          `json:"projectPayoutAddress"`
	RawWeight               float64         `json:"rawWeight,omitempty"`
}

// Distribution is an ordered list of matching entries for a round.
type Distribution struct {
	RoundID string               `json:"roundId"`
	Custom  bool                 `json:"custom"`
	Entries []MatchingStatsEntry `json:"matchingDistribution"`
}

// PercentageSum adds up the (rounded) match pool percentages.
func (d Distribution) PercentageSum() float64 {
	return percentageSum(d.Entries)
}

// ProjectIDs returns the entry project ids in distribution order.
func (d Distribution) ProjectIDs() []string {
	ids := make([]string, len(d.Entries))
	for i, e := range d.Entries {
		ids[i] = e.ProjectID
	}
	return ids
}

func percentageSum(entries []MatchingStatsEntry) float64 {
	sum := 0.0
	for _, e := range entries {
		sum += e.MatchPoolPercentage
	}
	return sum
}

// Normalize lower-cases hex addresses and ids so lookups are case-insensitive.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
