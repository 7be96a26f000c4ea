// Package payout builds the merkle commitment a payout strategy stores on
// chain for a finalized distribution.
package payout

import (
	"encoding/hex"
	"errors"
	"fmt"

	"round-finalizer/internal/quadratic"

	"github.com/cometbft/cometbft/crypto/merkle"
	"github.com/shopspring/decimal"
)

// ErrEmptyDistribution is returned when there is nothing to commit to.
var ErrEmptyDistribution = errors.New("distribution has no entries")

// ErrUnknownProject is returned by Proof for projects outside the distribution.
var ErrUnknownProject = errors.New("project is not part of the distribution")

// Leaf is the claim of one project.
type Leaf struct {
	Index         int             `json:"index"`
	ProjectID     string          `json:"projectId"`
	PayoutAddress string          `json:"payoutAddress"`
	Amount        decimal.Decimal `json:"amount"`
}

// Bytes is the canonical leaf encoding hashed into the tree.
func (l Leaf) Bytes() []byte {
	return []byte(fmt.Sprintf("%d:%s:%s:%s",
		l.Index, quadratic.Normalize(l.ProjectID), quadratic.Normalize(l.PayoutAddress), l.Amount.String()))
}

// Tree holds the root and inclusion proofs of a distribution.
type Tree struct {
	Root   []byte
	Leaves []Leaf
	proofs []*merkle.Proof
}

// Build commits to entries in distribution order.
func Build(entries []quadratic.MatchingStatsEntry) (*Tree, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyDistribution
	}
	leaves := make([]Leaf, len(entries))
	items := make([][]byte, len(entries))
	for i, e := range entries {
		leaves[i] = Leaf{
			Index:         i,
			ProjectID:     e.ProjectID,
			PayoutAddress: e.ProjectPayoutAddress,
			Amount:        e.MatchAmountInToken,
		}
		items[i] = leaves[i].Bytes()
	}
	root, proofs := merkle.ProofsFromByteSlices(items)
	return &Tree{Root: root, Leaves: leaves, proofs: proofs}, nil
}

// RootHex returns the 0x-prefixed root.
func (t *Tree) RootHex() string {
	return "0x" + hex.EncodeToString(t.Root)
}

// Root32 returns the root as a fixed-size array for contract calls.
func (t *Tree) Root32() [32]byte {
	var out [32]byte
	copy(out[:], t.Root)
	return out
}

// Proof returns the leaf and inclusion proof of a project.
func (t *Tree) Proof(projectID string) (Leaf, *merkle.Proof, error) {
	want := quadratic.Normalize(projectID)
	for i, l := range t.Leaves {
		if quadratic.Normalize(l.ProjectID) == want {
			return l, t.proofs[i], nil
		}
	}
	return Leaf{}, nil, fmt.Errorf("%w: %s", ErrUnknownProject, projectID)
}

// Verify checks that leaf is committed to by root.
func Verify(root []byte, leaf Leaf, proof *merkle.Proof) error {
	if proof == nil {
		return errors.New("missing proof")
	}
	return proof.Verify(root, leaf.Bytes())
}
