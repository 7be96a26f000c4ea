package tui

import (
	"context"
	"errors"
	"time"

	"round-finalizer/internal/finalize"
	"round-finalizer/internal/logger"
	"round-finalizer/internal/models"
	"round-finalizer/internal/progress"
	"round-finalizer/internal/quadratic"
)

// UpdateBufferSize is the buffer of the dashboard update channel.
const UpdateBufferSize = 64

// Source is what the dashboard reads a round from. *finalize.Machine
// satisfies it.
type Source interface {
	Round(ctx context.Context, roundID string) (models.Round, error)
	Distribution(ctx context.Context, roundID string) (quadratic.Distribution, error)
	Progress(roundID string) (string, []progress.Step)
}

func roundInfo(r models.Round, now time.Time) RoundInfo {
	return RoundInfo{
		RoundID:       r.RoundID,
		State:         r.State,
		EndTime:       r.EndTime,
		MatchingPool:  r.MatchingPool,
		Token:         r.Token,
		SnapshotBlock: r.SnapshotBlock,
		Custom:        r.ProposalCustom,
		Pointer:       r.DistributionPointer,
		MerkleRoot:    r.MerkleRoot,
		LastError:     r.LastError,
		Updated:       now,
	}
}

func entryInfos(d quadratic.Distribution) []EntryInfo {
	out := make([]EntryInfo, len(d.Entries))
	for i, e := range d.Entries {
		out[i] = EntryInfo{
			ProjectID:     e.ProjectID,
			Name:          e.ProjectName,
			Contributors:  e.UniqueContributorsCount,
			Percentage:    e.MatchPoolPercentage,
			Amount:        e.MatchAmountInToken.StringFixed(2),
			PayoutAddress: e.ProjectPayoutAddress,
		}
	}
	return out
}

// Poll sends the round, its distribution and the latest operation progress
// to out every interval until ctx is done.
func Poll(ctx context.Context, src Source, roundID string, interval time.Duration, out chan<- interface{}, log *logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		pollOnce(ctx, src, roundID, out, log)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func pollOnce(ctx context.Context, src Source, roundID string, out chan<- interface{}, log *logger.Logger) {
	round, err := src.Round(ctx, roundID)
	if err != nil {
		log.Warnw("dashboard: load round", "round", roundID, "error", err)
		return
	}
	send(ctx, out, roundInfo(round, time.Now()))

	dist, err := src.Distribution(ctx, roundID)
	switch {
	case err == nil:
		send(ctx, out, entryInfos(dist))
	case !errors.Is(err, finalize.ErrNoProposal):
		log.Warnw("dashboard: load distribution", "round", roundID, "error", err)
	}

	if op, steps := src.Progress(roundID); op != "" {
		send(ctx, out, ProgressMsg{Operation: op, Steps: steps})
	}
}

func send(ctx context.Context, out chan<- interface{}, v interface{}) {
	select {
	case out <- v:
	case <-ctx.Done():
	}
}

// Observer forwards the step updates of every operation on roundID to out.
// Updates are dropped while out is full.
func Observer(roundID string, out chan<- interface{}) finalize.Observer {
	return func(id string, t *progress.Tracker) {
		if id != roundID {
			return
		}
		updates := t.Subscribe(8)
		op := t.Operation()
		go func() {
			for steps := range updates {
				select {
				case out <- ProgressMsg{Operation: op, Steps: steps}:
				default:
				}
			}
		}()
	}
}
