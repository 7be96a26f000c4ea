package db

import (
	"context"
	"errors"
	"fmt"

	"round-finalizer/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when a looked up row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrStateConflict is returned when a guarded round update finds the round
	// in a different state than expected.
	ErrStateConflict = errors.New("round state changed concurrently")
)

// voteBatchSize matches the batch size the vote collector flushes with.
const voteBatchSize = 1000

// Repository groups the queries used by the collector, ledger reader,
// storage and finalization machine.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// DB exposes the underlying handle.
func (r *Repository) DB() *gorm.DB {
	return r.db
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// SaveVotes inserts votes in batches, skipping logs that were stored already.
func (r *Repository) SaveVotes(ctx context.Context, votes []models.Vote) error {
	if len(votes) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(votes, voteBatchSize).Error
}

// Votes returns the votes of a round recorded at or before maxBlock
// (0 means no limit), in ledger order.
func (r *Repository) Votes(ctx context.Context, roundID string, maxBlock uint64) ([]models.Vote, error) {
	q := r.db.WithContext(ctx).Where("round_id = ?", roundID)
	if maxBlock > 0 {
		q = q.Where("block_number <= ?", maxBlock)
	}
	var votes []models.Vote
	err := q.Order("block_number ASC").Order("log_index ASC").Find(&votes).Error
	return votes, err
}

// UpsertVoter stores the latest registration lookup for an address.
func (r *Repository) UpsertVoter(ctx context.Context, v models.Voter) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "round_id"}, {Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"registered", "checked_block", "updated_at"}),
	}).Create(&v).Error
}

func (r *Repository) Voters(ctx context.Context, roundID string) ([]models.Voter, error) {
	var voters []models.Voter
	err := r.db.WithContext(ctx).Where("round_id = ?", roundID).Order("address ASC").Find(&voters).Error
	return voters, err
}

// KnownVoter reports whether a registration lookup exists for the address.
func (r *Repository) KnownVoter(ctx context.Context, roundID, address string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Voter{}).
		Where("round_id = ? AND address = ?", roundID, address).
		Count(&count).Error
	return count > 0, err
}

// Cursor returns the last processed block stored under name.
func (r *Repository) Cursor(ctx context.Context, name string) (uint64, bool, error) {
	var c models.Cursor
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return c.Block, true, nil
}

func (r *Repository) SetCursor(ctx context.Context, name string, block uint64) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"block", "updated_at"}),
	}).Create(&models.Cursor{Name: name, Block: block}).Error
}

func (r *Repository) SaveStrategy(ctx context.Context, s models.Strategy) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&s).Error
}

func (r *Repository) Strategies(ctx context.Context) ([]models.Strategy, error) {
	var out []models.Strategy
	err := r.db.WithContext(ctx).Order("block_number ASC").Order("log_index ASC").Find(&out).Error
	return out, err
}

// UpsertProjects stores applications, replacing metadata of known ones.
func (r *Repository) UpsertProjects(ctx context.Context, projects []models.Project) error {
	if len(projects) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "round_id"}, {Name: "project_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"application_id", "name", "payout_address", "status", "meta_pointer", "updated_at",
		}),
	}).Create(&projects).Error
}

// Projects lists round projects; an empty status returns all of them.
func (r *Repository) Projects(ctx context.Context, roundID, status string) ([]models.Project, error) {
	q := r.db.WithContext(ctx).Where("round_id = ?", roundID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []models.Project
	err := q.Order("project_id ASC").Find(&out).Error
	return out, err
}

func (r *Repository) Round(ctx context.Context, roundID string) (models.Round, error) {
	var round models.Round
	err := r.db.WithContext(ctx).Where("round_id = ?", roundID).First(&round).Error
	return round, notFound(err)
}

// EnsureRound creates the round row if it does not exist yet and returns the stored row.
func (r *Repository) EnsureRound(ctx context.Context, round models.Round) (models.Round, error) {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&round).Error
	if err != nil {
		return models.Round{}, fmt.Errorf("create round %s: %w", round.RoundID, err)
	}
	return r.Round(ctx, round.RoundID)
}

// UpdateRound writes every mutable column of round, but only while the stored
// state still equals fromState. It returns ErrStateConflict otherwise.
func (r *Repository) UpdateRound(ctx context.Context, round *models.Round, fromState string) error {
	res := r.db.WithContext(ctx).Model(&models.Round{}).
		Where("round_id = ? AND state = ?", round.RoundID, fromState).
		Updates(map[string]interface{}{
			"state":                round.State,
			"end_time":             round.EndTime,
			"matching_pool":        round.MatchingPool,
			"token":                round.Token,
			"vote_credits":         round.VoteCredits,
			"proposal":             round.Proposal,
			"proposal_custom":      round.ProposalCustom,
			"snapshot_block":       round.SnapshotBlock,
			"distribution_pointer": round.DistributionPointer,
			"merkle_root":          round.MerkleRoot,
			"last_error":           round.LastError,
			"proposed_at":          round.ProposedAt,
			"finalized_at":         round.FinalizedAt,
			"ready_at":             round.ReadyAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStateConflict
	}
	return nil
}

// SetRoundError records the last failure of a round without touching its state.
func (r *Repository) SetRoundError(ctx context.Context, roundID, message string) error {
	return r.db.WithContext(ctx).Model(&models.Round{}).
		Where("round_id = ?", roundID).
		Update("last_error", message).Error
}

// PutBlob stores data under pointer; storing the same pointer twice is a no-op.
func (r *Repository) PutBlob(ctx context.Context, pointer string, data []byte) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.Blob{Pointer: pointer, Data: data, Size: len(data)}).Error
}

func (r *Repository) Blob(ctx context.Context, pointer string) ([]byte, error) {
	var b models.Blob
	err := r.db.WithContext(ctx).Where("pointer = ?", pointer).First(&b).Error
	if err != nil {
		return nil, notFound(err)
	}
	return b.Data, nil
}

func (r *Repository) PayoutState(ctx context.Context, roundID string) (models.PayoutState, error) {
	var s models.PayoutState
	err := r.db.WithContext(ctx).Where("round_id = ?", roundID).First(&s).Error
	if err != nil {
		return models.PayoutState{}, notFound(err)
	}
	return s, nil
}

// SavePayoutState inserts or replaces the commit of s.RoundID.
func (r *Repository) SavePayoutState(ctx context.Context, s models.PayoutState) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "round_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"root", "protocol", "pointer", "ready", "updates", "updated_at"}),
	}).Create(&s).Error
}
