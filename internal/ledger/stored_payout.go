package ledger

import (
	"context"
	"errors"
	"fmt"

	"round-finalizer/internal/db"
	"round-finalizer/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// StoredPayout keeps the payout strategy state of one round in the database,
// so separate processes finalizing a round without a payout contract agree on
// the committed distribution.
type StoredPayout struct {
	repo    *db.Repository
	roundID string
}

func NewStoredPayout(repo *db.Repository, roundID string) *StoredPayout {
	return &StoredPayout{repo: repo, roundID: roundID}
}

func (p *StoredPayout) load(ctx context.Context, op string) (models.PayoutState, error) {
	s, err := p.repo.PayoutState(ctx, p.roundID)
	if errors.Is(err, db.ErrNotFound) {
		return models.PayoutState{RoundID: p.roundID}, nil
	}
	if err != nil {
		return models.PayoutState{}, unavailable(op, err)
	}
	return s, nil
}

func (p *StoredPayout) txHash(s models.PayoutState, method string) string {
	return crypto.Keccak256Hash([]byte(fmt.Sprintf("stored-tx-%s-%s-%d", p.roundID, method, s.Updates))).Hex()
}

func (p *StoredPayout) UpdateDistribution(ctx context.Context, root [32]byte, ptr MetaPtr) (string, error) {
	s, err := p.load(ctx, "updateDistribution")
	if err != nil {
		return "", err
	}
	if s.Ready {
		return "", fmt.Errorf("updateDistribution after payout ready: %w", ErrTxReverted)
	}
	s.Root = common.Hash(root).Hex()
	s.Protocol = ptr.Protocol
	s.Pointer = ptr.Pointer
	s.Updates++
	if err := p.repo.SavePayoutState(ctx, s); err != nil {
		return "", unavailable("updateDistribution", err)
	}
	return p.txHash(s, "updateDistribution"), nil
}

func (p *StoredPayout) Distribution(ctx context.Context) ([32]byte, MetaPtr, error) {
	s, err := p.load(ctx, "distributionMetaPtr")
	if err != nil {
		return [32]byte{}, MetaPtr{}, err
	}
	var root [32]byte
	if s.Root != "" {
		root = common.HexToHash(s.Root)
	}
	return root, MetaPtr{Protocol: s.Protocol, Pointer: s.Pointer}, nil
}

func (p *StoredPayout) SetReadyForPayout(ctx context.Context) (string, error) {
	s, err := p.load(ctx, "setReadyForPayout")
	if err != nil {
		return "", err
	}
	if s.Ready {
		return "", fmt.Errorf("setReadyForPayout twice: %w", ErrTxReverted)
	}
	s.Ready = true
	if err := p.repo.SavePayoutState(ctx, s); err != nil {
		return "", unavailable("setReadyForPayout", err)
	}
	return p.txHash(s, "setReadyForPayout"), nil
}

func (p *StoredPayout) IsReadyForPayout(ctx context.Context) (bool, error) {
	s, err := p.load(ctx, "isReadyForPayout")
	if err != nil {
		return false, err
	}
	return s.Ready, nil
}
