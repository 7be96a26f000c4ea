package ledger

import (
	"context"
	"fmt"
	"sort"

	"round-finalizer/internal/db"
	"round-finalizer/internal/logger"
	"round-finalizer/internal/models"
	"round-finalizer/internal/quadratic"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// Reader produces the vote snapshot of a round as of a block (0 = latest).
type Reader interface {
	Snapshot(ctx context.Context, roundID string, block uint64) (quadratic.Snapshot, error)
}

// ChainReader reads Voted logs straight from the strategy contract.
type ChainReader struct {
	backend    Backend
	registry   Registry
	strategy   common.Address
	startBlock uint64
	budget     uint64
}

func NewChainReader(backend Backend, registry Registry, strategy string, startBlock, budget uint64) *ChainReader {
	return &ChainReader{
		backend:    backend,
		registry:   registry,
		strategy:   common.HexToAddress(strategy),
		startBlock: startBlock,
		budget:     budget,
	}
}

func (r *ChainReader) Snapshot(ctx context.Context, roundID string, block uint64) (quadratic.Snapshot, error) {
	if block == 0 {
		head, err := r.backend.BlockNumber(ctx)
		if err != nil {
			return quadratic.Snapshot{}, unavailable("block number", err)
		}
		block = head
	}
	snap := quadratic.Snapshot{RoundID: roundID, Block: block, CreditBudget: r.budget}
	if block < r.startBlock {
		return snap, nil
	}
	q := ethereum.FilterQuery{
		Addresses: []common.Address{r.strategy},
		Topics:    [][]common.Hash{{VotedTopic()}},
	}
	logs, err := FilterLogsChunked(ctx, r.backend, q, r.startBlock, block)
	if err != nil {
		return quadratic.Snapshot{}, err
	}
	seen := make(map[string]bool)
	var voters []string
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		ev, err := DecodeVoted(lg)
		if err != nil {
			return quadratic.Snapshot{}, err
		}
		voter := quadratic.Normalize(ev.Voter.Hex())
		snap.Votes = append(snap.Votes, quadratic.Vote{
			Voter:        voter,
			GrantID:      quadratic.Normalize(ev.GrantID.Hex()),
			CreditsSpent: ev.Credits,
		})
		if !seen[voter] {
			seen[voter] = true
			voters = append(voters, voter)
		}
	}
	for _, v := range voters {
		ok, err := r.registry.IsRegistered(ctx, v, block)
		if err != nil {
			return quadratic.Snapshot{}, err
		}
		if ok {
			snap.Register(v)
		}
	}
	return snap, nil
}

// StoredReader builds snapshots from votes the collector persisted.
// Voters without a cached registration lookup are resolved through the
// registry and cached.
type StoredReader struct {
	repo     *db.Repository
	registry Registry
	budget   uint64
	log      *logger.Logger
}

func NewStoredReader(repo *db.Repository, registry Registry, budget uint64, log *logger.Logger) *StoredReader {
	return &StoredReader{repo: repo, registry: registry, budget: budget, log: log}
}

func (r *StoredReader) Snapshot(ctx context.Context, roundID string, block uint64) (quadratic.Snapshot, error) {
	rows, err := r.repo.Votes(ctx, roundID, block)
	if err != nil {
		return quadratic.Snapshot{}, fmt.Errorf("load votes: %w", err)
	}
	voters, err := r.repo.Voters(ctx, roundID)
	if err != nil {
		return quadratic.Snapshot{}, fmt.Errorf("load voters: %w", err)
	}
	known := make(map[string]bool, len(voters))
	snap := quadratic.Snapshot{RoundID: roundID, Block: block, CreditBudget: r.budget}
	for _, v := range voters {
		known[v.Address] = true
		if v.Registered {
			snap.Register(v.Address)
		}
	}

	var unknown []string
	for _, row := range rows {
		voter := quadratic.Normalize(row.Voter)
		snap.Votes = append(snap.Votes, quadratic.Vote{
			Voter:        voter,
			GrantID:      quadratic.Normalize(row.GrantID),
			CreditsSpent: row.Credits,
		})
		if row.BlockNumber > snap.Block && block == 0 {
			snap.Block = row.BlockNumber
		}
		if !known[voter] {
			known[voter] = true
			unknown = append(unknown, voter)
		}
	}
	sort.Strings(unknown)
	for _, voter := range unknown {
		if r.registry == nil {
			continue
		}
		ok, err := r.registry.IsRegistered(ctx, voter, block)
		if err != nil {
			return quadratic.Snapshot{}, err
		}
		if err := r.repo.UpsertVoter(ctx, models.Voter{
			RoundID: roundID, Address: voter, Registered: ok, CheckedBlock: block,
		}); err != nil {
			r.log.Warnw("cache voter lookup", "voter", voter, "error", err)
		}
		if ok {
			snap.Register(voter)
		}
	}
	return snap, nil
}
