package finalize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"round-finalizer/internal/db"
	"round-finalizer/internal/ledger"
	"round-finalizer/internal/logger"
	"round-finalizer/internal/models"
	"round-finalizer/internal/payout"
	"round-finalizer/internal/progress"
	"round-finalizer/internal/quadratic"
	"round-finalizer/internal/storage"

	"github.com/shopspring/decimal"
)

// ProjectSource lists the approved projects of a round.
type ProjectSource func(ctx context.Context, roundID string) ([]quadratic.ProjectInfo, error)

// Observer is told about every operation that starts tracking progress.
type Observer func(roundID string, t *progress.Tracker)

type Deps struct {
	Repo     *db.Repository
	Reader   ledger.Reader
	Payout   ledger.PayoutStrategy
	Store    storage.Store
	Projects ProjectSource
	Log      *logger.Logger
}

// Machine runs the round state transitions. Operations on one Machine are
// serialized; every committed transition is a guarded database update.
type Machine struct {
	repo     *db.Repository
	reader   ledger.Reader
	payout   ledger.PayoutStrategy
	store    storage.Store
	projects ProjectSource
	log      *logger.Logger
	opts     Options
	now      func() time.Time

	mu sync.Mutex

	obsMu     sync.Mutex
	observers []Observer
	trackers  map[string]*progress.Tracker
}

func New(d Deps, opts Options) *Machine {
	log := d.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Machine{
		repo:     d.Repo,
		reader:   d.Reader,
		payout:   d.Payout,
		store:    d.Store,
		projects: d.Projects,
		log:      log.Named("finalize"),
		opts:     opts.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
		trackers: make(map[string]*progress.Tracker),
	}
}

// RoundSpec describes a round to register.
type RoundSpec struct {
	RoundID     string
	EndTime     time.Time
	Pool        decimal.Decimal
	Token       string
	VoteCredits uint64
}

// Register creates the round in OPEN state unless it already exists.
func (m *Machine) Register(ctx context.Context, spec RoundSpec) (models.Round, error) {
	if spec.RoundID == "" {
		return models.Round{}, errors.New("round id is required")
	}
	round, err := m.repo.EnsureRound(ctx, models.Round{
		RoundID:      spec.RoundID,
		State:        string(StateOpen),
		EndTime:      spec.EndTime.UTC(),
		MatchingPool: spec.Pool.String(),
		Token:        spec.Token,
		VoteCredits:  spec.VoteCredits,
	})
	if err != nil {
		return models.Round{}, err
	}
	m.log.Debugw("round registered", "round", round.RoundID, "state", round.State, "end", round.EndTime)
	return round, nil
}

// Observe registers o for operations started after this call.
func (m *Machine) Observe(o Observer) {
	m.obsMu.Lock()
	m.observers = append(m.observers, o)
	m.obsMu.Unlock()
}

// Progress returns the operation name and steps of the latest operation on a round.
func (m *Machine) Progress(roundID string) (string, []progress.Step) {
	m.obsMu.Lock()
	t := m.trackers[roundID]
	m.obsMu.Unlock()
	if t == nil {
		return "", nil
	}
	return t.Operation(), t.Snapshot()
}

func (m *Machine) Round(ctx context.Context, roundID string) (models.Round, error) {
	round, err := m.repo.Round(ctx, roundID)
	if err != nil {
		return models.Round{}, fmt.Errorf("load round %s: %w", roundID, err)
	}
	return round, nil
}

func (m *Machine) State(ctx context.Context, roundID string) (State, error) {
	round, err := m.Round(ctx, roundID)
	if err != nil {
		return "", err
	}
	return State(round.State), nil
}

// Distribution returns the active distribution of a round.
func (m *Machine) Distribution(ctx context.Context, roundID string) (quadratic.Distribution, error) {
	round, err := m.Round(ctx, roundID)
	if err != nil {
		return quadratic.Distribution{}, err
	}
	return decodeProposal(round)
}

func decodeProposal(round models.Round) (quadratic.Distribution, error) {
	if round.Proposal == "" {
		return quadratic.Distribution{}, ErrNoProposal
	}
	var dist quadratic.Distribution
	if err := json.Unmarshal([]byte(round.Proposal), &dist); err != nil {
		return quadratic.Distribution{}, fmt.Errorf("decode stored distribution: %w", err)
	}
	return dist, nil
}

// BeginTally closes voting once the round end time has passed. Rounds past
// OPEN are returned unchanged.
func (m *Machine) BeginTally(ctx context.Context, roundID string, now time.Time) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	round, err := m.Round(ctx, roundID)
	if err != nil {
		return "", err
	}
	state := State(round.State)
	if state != StateOpen {
		return state, nil
	}
	if now.Before(round.EndTime) {
		return state, ErrRoundStillOpen
	}
	round.State = string(StateTallying)
	if err := m.repo.UpdateRound(ctx, &round, string(StateOpen)); err != nil {
		return state, fmt.Errorf("begin tally: %w", err)
	}
	m.log.Infow("voting closed", "round", roundID, "end", round.EndTime)
	return StateTallying, nil
}

// Preview computes the distribution from the current votes without
// changing the round. It works in every state.
func (m *Machine) Preview(ctx context.Context, roundID string) (quadratic.Distribution, error) {
	round, err := m.Round(ctx, roundID)
	if err != nil {
		return quadratic.Distribution{}, err
	}
	t := progress.NewTracker(OpPreview, steps(StepSnapshot, StepTally)...)
	return m.reference(ctx, t, &round)
}

// ProposeDefault stores the computed distribution as the active one.
func (m *Machine) ProposeDefault(ctx context.Context, roundID string) (quadratic.Distribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	round, err := m.Round(ctx, roundID)
	if err != nil {
		return quadratic.Distribution{}, err
	}
	from := State(round.State)
	if from != StateTallying && from != StateProposed {
		return quadratic.Distribution{}, &TransitionError{Op: OpPropose, State: from}
	}

	t := m.track(roundID, OpPropose, StepSnapshot, StepTally, StepCommit)
	defer t.Close()

	dist, err := m.reference(ctx, t, &round)
	if errors.Is(err, quadratic.ErrNoVotes) {
		_ = t.Start(StepCommit)
		_ = t.Fail(StepCommit, err)
	}
	if err != nil {
		m.recordError(ctx, roundID, err)
		return dist, err
	}
	if err := m.commitProposal(ctx, t, &round, from, dist); err != nil {
		return quadratic.Distribution{}, err
	}
	m.log.Infow("default distribution proposed", "round", roundID, "projects", len(dist.Entries), "block", round.SnapshotBlock)
	return dist, nil
}

// ProposeCustom replaces the active distribution with an uploaded one after
// validating it against the computed reference. On any failure the round
// and its active distribution are left as they were.
func (m *Machine) ProposeCustom(ctx context.Context, roundID string, upload io.Reader) (quadratic.Distribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	round, err := m.Round(ctx, roundID)
	if err != nil {
		return quadratic.Distribution{}, err
	}
	from := State(round.State)
	if from != StateTallying && from != StateProposed {
		return quadratic.Distribution{}, &TransitionError{Op: OpProposeCustom, State: from}
	}

	t := m.track(roundID, OpProposeCustom, StepParse, StepSnapshot, StepTally, StepValidate, StepCommit)
	defer t.Close()

	_ = t.Start(StepParse)
	candidate, err := quadratic.ParseUpload(upload)
	if err != nil {
		_ = t.Fail(StepParse, err)
		return quadratic.Distribution{}, err
	}
	_ = t.Succeed(StepParse)

	reference, err := m.reference(ctx, t, &round)
	if err != nil && !errors.Is(err, quadratic.ErrNoVotes) {
		m.recordError(ctx, roundID, err)
		return quadratic.Distribution{}, err
	}

	_ = t.Start(StepValidate)
	if err := quadratic.Validate(reference.Entries, candidate); err != nil {
		_ = t.Fail(StepValidate, err)
		m.log.Warnw("uploaded distribution rejected", "round", roundID, "error", err)
		return quadratic.Distribution{}, err
	}
	if extra := quadratic.Extra(reference.Entries, candidate); len(extra) > 0 {
		m.log.Warnw("uploaded distribution names projects outside the round", "round", roundID, "projects", extra)
	}
	_ = t.Succeed(StepValidate)

	pool, err := decimal.NewFromString(round.MatchingPool)
	if err != nil {
		return quadratic.Distribution{}, fmt.Errorf("round matching pool: %w", err)
	}
	dist := quadratic.Distribution{
		RoundID: roundID,
		Custom:  true,
		Entries: quadratic.ApplyPool(reference.Entries, candidate, pool),
	}
	if err := m.commitProposal(ctx, t, &round, from, dist); err != nil {
		return quadratic.Distribution{}, err
	}
	m.log.Infow("custom distribution proposed", "round", roundID, "projects", len(dist.Entries))
	return dist, nil
}

// Finalize writes the active distribution to content storage and to the
// payout strategy, then commits DISTRIBUTION_FINALIZED. Calling it on a
// round that is already finalized returns the current state and does
// nothing.
func (m *Machine) Finalize(ctx context.Context, roundID string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	round, err := m.Round(ctx, roundID)
	if err != nil {
		return "", err
	}
	state := State(round.State)
	if state.rank() >= StateFinalized.rank() {
		m.log.Debugw("finalize skipped", "round", roundID, "state", state)
		return state, nil
	}
	if state != StateProposed {
		return state, &TransitionError{Op: OpFinalize, State: state}
	}
	dist, err := decodeProposal(round)
	if err != nil {
		return state, err
	}

	t := m.track(roundID, OpFinalize, StepStore, StepMerkle, StepLedger, StepCommit)
	defer t.Close()

	pointer, root, err := m.publish(ctx, t, dist)
	if err != nil {
		m.recordError(ctx, roundID, err)
		return state, err
	}

	_ = t.Start(StepCommit)
	now := m.now()
	round.State = string(StateFinalized)
	round.DistributionPointer = pointer
	round.MerkleRoot = root
	round.FinalizedAt = &now
	round.LastError = ""
	if err := m.repo.UpdateRound(ctx, &round, string(StateProposed)); err != nil {
		_ = t.Fail(StepCommit, err)
		return state, fmt.Errorf("commit finalization: %w", err)
	}
	_ = t.Succeed(StepCommit)
	m.log.Infow("distribution finalized", "round", roundID, "pointer", pointer, "root", root)
	return StateFinalized, nil
}

// publish stores the distribution and puts its root on the payout strategy.
// A ledger that already carries the same root and pointer is not written
// again.
func (m *Machine) publish(ctx context.Context, t *progress.Tracker, dist quadratic.Distribution) (string, string, error) {
	raw, err := json.Marshal(dist)
	if err != nil {
		return "", "", fmt.Errorf("encode distribution: %w", err)
	}

	_ = t.Start(StepStore)
	var pointer string
	err = m.retry(ctx, t, StepStore, func() error {
		var putErr error
		pointer, putErr = m.store.Put(ctx, raw)
		return putErr
	})
	if err != nil {
		_ = t.Fail(StepStore, err)
		return "", "", err
	}
	_ = t.Succeed(StepStore)

	_ = t.Start(StepMerkle)
	tree, err := payout.Build(dist.Entries)
	if err != nil {
		_ = t.Fail(StepMerkle, err)
		return "", "", err
	}
	_ = t.Succeed(StepMerkle)

	_ = t.Start(StepLedger)
	meta := ledger.MetaPtr{Protocol: m.store.Protocol(), Pointer: pointer}
	err = m.retry(ctx, t, StepLedger, func() error {
		onChainRoot, onChainMeta, err := m.payout.Distribution(ctx)
		if err != nil {
			return err
		}
		if onChainRoot == tree.Root32() && onChainMeta == meta {
			m.log.Debugw("distribution already on ledger", "pointer", pointer)
			return nil
		}
		tx, err := m.payout.UpdateDistribution(ctx, tree.Root32(), meta)
		if err != nil {
			return err
		}
		m.log.Infow("distribution sent to payout strategy", "tx", tx)
		return nil
	})
	if err != nil {
		_ = t.Fail(StepLedger, err)
		return "", "", err
	}
	_ = t.Succeed(StepLedger)
	return pointer, tree.RootHex(), nil
}

// MarkReadyForPayout confirms the finalized distribution is retrievable and
// visible on the ledger, then marks the round ready for payout. Transient
// failures leave the round finalized; any other failure moves it to
// ERROR_REVIEW.
func (m *Machine) MarkReadyForPayout(ctx context.Context, roundID string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	round, err := m.Round(ctx, roundID)
	if err != nil {
		return "", err
	}
	state := State(round.State)
	switch state {
	case StateReady:
		return state, nil
	case StateFinalized:
	default:
		return state, &TransitionError{Op: OpReady, State: state}
	}

	t := m.track(roundID, OpReady, StepVerifyStorage, StepVerifyLedger, StepMarkReady, StepCommit)
	defer t.Close()

	step, err := m.confirm(ctx, t, round)
	if err != nil {
		if !reviewable(err) {
			m.recordError(ctx, roundID, err)
			return state, err
		}
		return m.review(ctx, round, step, err)
	}

	_ = t.Start(StepCommit)
	now := m.now()
	round.State = string(StateReady)
	round.ReadyAt = &now
	round.LastError = ""
	if err := m.repo.UpdateRound(ctx, &round, string(StateFinalized)); err != nil {
		_ = t.Fail(StepCommit, err)
		return state, fmt.Errorf("commit ready for payout: %w", err)
	}
	_ = t.Succeed(StepCommit)
	m.log.Infow("round ready for payout", "round", roundID)
	return StateReady, nil
}

// confirm runs the ready-for-payout checks and returns the failed step.
func (m *Machine) confirm(ctx context.Context, t *progress.Tracker, round models.Round) (string, error) {
	_ = t.Start(StepVerifyStorage)
	var raw []byte
	err := m.retry(ctx, t, StepVerifyStorage, func() error {
		var getErr error
		raw, getErr = m.store.Get(ctx, round.DistributionPointer)
		if getErr != nil && !errors.Is(getErr, storage.ErrNotFound) {
			return &unavailableError{err: getErr}
		}
		return getErr
	})
	if err != nil {
		_ = t.Fail(StepVerifyStorage, err)
		return StepVerifyStorage, err
	}
	var stored quadratic.Distribution
	if err := json.Unmarshal(raw, &stored); err != nil {
		err = fmt.Errorf("stored distribution %s is unreadable: %w", round.DistributionPointer, err)
		_ = t.Fail(StepVerifyStorage, err)
		return StepVerifyStorage, err
	}
	tree, err := payout.Build(stored.Entries)
	if err == nil && tree.RootHex() != round.MerkleRoot {
		err = fmt.Errorf("stored distribution root %s does not match finalized root %s", tree.RootHex(), round.MerkleRoot)
	}
	if err != nil {
		_ = t.Fail(StepVerifyStorage, err)
		return StepVerifyStorage, err
	}
	_ = t.Succeed(StepVerifyStorage)

	_ = t.Start(StepVerifyLedger)
	var (
		onChainRoot [32]byte
		onChainMeta ledger.MetaPtr
	)
	err = m.retry(ctx, t, StepVerifyLedger, func() error {
		var readErr error
		onChainRoot, onChainMeta, readErr = m.payout.Distribution(ctx)
		return readErr
	})
	if err == nil && (onChainRoot != tree.Root32() || onChainMeta.Pointer != round.DistributionPointer) {
		err = fmt.Errorf("ledger distribution %s does not match finalized pointer %s", onChainMeta.Pointer, round.DistributionPointer)
	}
	if err != nil {
		_ = t.Fail(StepVerifyLedger, err)
		return StepVerifyLedger, err
	}
	_ = t.Succeed(StepVerifyLedger)

	_ = t.Start(StepMarkReady)
	err = m.retry(ctx, t, StepMarkReady, func() error {
		ready, err := m.payout.IsReadyForPayout(ctx)
		if err != nil || ready {
			return err
		}
		tx, err := m.payout.SetReadyForPayout(ctx)
		if err != nil {
			return err
		}
		m.log.Infow("payout strategy marked ready", "tx", tx)
		return nil
	})
	if err != nil {
		_ = t.Fail(StepMarkReady, err)
		return StepMarkReady, err
	}
	_ = t.Succeed(StepMarkReady)
	return "", nil
}

func (m *Machine) review(ctx context.Context, round models.Round, step string, cause error) (State, error) {
	round.State = string(StateErrorReview)
	round.LastError = fmt.Sprintf("%s: %v", step, cause)
	if err := m.repo.UpdateRound(ctx, &round, string(StateFinalized)); err != nil {
		m.log.Errorw("moving round to error review failed", "round", round.RoundID, "error", err)
		return StateFinalized, errors.Join(cause, err)
	}
	m.log.Errorw("round needs review", "round", round.RoundID, "step", step, "error", cause)
	return StateErrorReview, &ReviewError{Step: step, Err: cause}
}

// Proof returns the payout claim of a project in a finalized round.
func (m *Machine) Proof(ctx context.Context, roundID, projectID string) (Claim, error) {
	round, err := m.Round(ctx, roundID)
	if err != nil {
		return Claim{}, err
	}
	if State(round.State).rank() < StateFinalized.rank() {
		return Claim{}, &TransitionError{Op: "prove", State: State(round.State)}
	}
	dist, err := decodeProposal(round)
	if err != nil {
		return Claim{}, err
	}
	tree, err := payout.Build(dist.Entries)
	if err != nil {
		return Claim{}, err
	}
	leaf, proof, err := tree.Proof(projectID)
	if err != nil {
		return Claim{}, err
	}
	return Claim{Root: tree.RootHex(), Leaf: leaf, Proof: proof}, nil
}

// reference reads the vote snapshot and computes the default distribution.
// The snapshot block is pinned on round so later proposals see the same votes.
func (m *Machine) reference(ctx context.Context, t *progress.Tracker, round *models.Round) (quadratic.Distribution, error) {
	_ = t.Start(StepSnapshot)
	var snap quadratic.Snapshot
	err := m.retry(ctx, t, StepSnapshot, func() error {
		var readErr error
		snap, readErr = m.reader.Snapshot(ctx, round.RoundID, round.SnapshotBlock)
		return readErr
	})
	if err != nil {
		_ = t.Fail(StepSnapshot, err)
		return quadratic.Distribution{}, fmt.Errorf("read votes: %w", err)
	}
	snap.CreditBudget = round.VoteCredits
	round.SnapshotBlock = snap.Block
	_ = t.Succeed(StepSnapshot)

	_ = t.Start(StepTally)
	dist, err := m.calculate(ctx, *round, snap)
	if err != nil && !errors.Is(err, quadratic.ErrNoVotes) {
		_ = t.Fail(StepTally, err)
		return quadratic.Distribution{}, err
	}
	_ = t.Succeed(StepTally)
	return dist, err
}

func (m *Machine) calculate(ctx context.Context, round models.Round, snap quadratic.Snapshot) (quadratic.Distribution, error) {
	projects, err := m.projects(ctx, round.RoundID)
	if err != nil {
		return quadratic.Distribution{}, err
	}
	ids := make([]string, len(projects))
	info := make(map[string]quadratic.ProjectInfo, len(projects))
	for i, p := range projects {
		ids[i] = p.ProjectID
		info[quadratic.Normalize(p.ProjectID)] = p
	}
	tallies, err := quadratic.Aggregate(snap, ids)
	if err != nil {
		return quadratic.Distribution{}, err
	}
	pool, err := decimal.NewFromString(round.MatchingPool)
	if err != nil {
		return quadratic.Distribution{}, fmt.Errorf("round matching pool: %w", err)
	}
	dist, err := quadratic.Calculate(tallies, info, pool)
	dist.RoundID = round.RoundID
	return dist, err
}

func (m *Machine) commitProposal(ctx context.Context, t *progress.Tracker, round *models.Round, from State, dist quadratic.Distribution) error {
	_ = t.Start(StepCommit)
	raw, err := json.Marshal(dist)
	if err != nil {
		_ = t.Fail(StepCommit, err)
		return fmt.Errorf("encode distribution: %w", err)
	}
	now := m.now()
	round.State = string(StateProposed)
	round.Proposal = string(raw)
	round.ProposalCustom = dist.Custom
	round.ProposedAt = &now
	round.LastError = ""
	if err := m.repo.UpdateRound(ctx, round, string(from)); err != nil {
		_ = t.Fail(StepCommit, err)
		return fmt.Errorf("store proposal: %w", err)
	}
	_ = t.Succeed(StepCommit)
	return nil
}

func (m *Machine) recordError(ctx context.Context, roundID string, cause error) {
	if err := m.repo.SetRoundError(ctx, roundID, cause.Error()); err != nil {
		m.log.Warnw("record round error", "round", roundID, "error", err)
	}
}

func (m *Machine) track(roundID, operation string, names ...string) *progress.Tracker {
	t := progress.NewTracker(operation, steps(names...)...)
	m.obsMu.Lock()
	m.trackers[roundID] = t
	observers := append([]Observer(nil), m.observers...)
	m.obsMu.Unlock()
	for _, o := range observers {
		o(roundID, t)
	}
	return t
}

// reviewable reports whether err should send a finalized round to review.
func reviewable(err error) bool {
	if Transient(err) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
