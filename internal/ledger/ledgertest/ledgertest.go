// Package ledgertest provides an in-memory chain for tests of ledger consumers.
package ledgertest

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"round-finalizer/internal/ledger"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrDown is returned while the backend is failing.
var ErrDown = errors.New("connection refused")

// Backend serves logs and voter register balances from memory.
type Backend struct {
	mu       sync.Mutex
	head     uint64
	logs     []types.Log
	balances map[common.Address]int64
	failures int
	queries  int
}

func NewBackend() *Backend {
	return &Backend{balances: make(map[common.Address]int64)}
}

// SetHead moves the chain head.
func (b *Backend) SetHead(head uint64) {
	b.mu.Lock()
	b.head = head
	b.mu.Unlock()
}

// AddLogs appends logs and raises the head to the highest log block.
func (b *Backend) AddLogs(logs ...types.Log) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, lg := range logs {
		b.logs = append(b.logs, lg)
		if lg.BlockNumber > b.head {
			b.head = lg.BlockNumber
		}
	}
}

// SetBalance sets the voter register balance of addr.
func (b *Backend) SetBalance(addr common.Address, balance int64) {
	b.mu.Lock()
	b.balances[addr] = balance
	b.mu.Unlock()
}

// Fail makes the next n calls return ErrDown.
func (b *Backend) Fail(n int) {
	b.mu.Lock()
	b.failures = n
	b.mu.Unlock()
}

// Queries counts FilterLogs calls.
func (b *Backend) Queries() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queries
}

func (b *Backend) failing() bool {
	if b.failures > 0 {
		b.failures--
		return true
	}
	return false
}

func (b *Backend) BlockNumber(context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failing() {
		return 0, ErrDown
	}
	return b.head, nil
}

func (b *Backend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failing() {
		return nil, ErrDown
	}
	b.queries++
	var out []types.Log
	for _, lg := range b.logs {
		if q.FromBlock != nil && lg.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && lg.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		if !matchAddress(q.Addresses, lg.Address) || !matchTopics(q.Topics, lg.Topics) {
			continue
		}
		out = append(out, lg)
	}
	return out, nil
}

func (b *Backend) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failing() {
		return nil, ErrDown
	}
	method := ledger.VoterRegisterABI().Methods["balanceOf"]
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}
	owner, _ := args[0].(common.Address)
	return method.Outputs.Pack(big.NewInt(b.balances[owner]))
}

func matchAddress(want []common.Address, got common.Address) bool {
	if len(want) == 0 {
		return true
	}
	for _, a := range want {
		if a == got {
			return true
		}
	}
	return false
}

func matchTopics(want [][]common.Hash, got []common.Hash) bool {
	for i, options := range want {
		if len(options) == 0 {
			continue
		}
		if i >= len(got) {
			return false
		}
		found := false
		for _, h := range options {
			if h == got[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// VotedLog builds a Voted log emitted by strategy.
func VotedLog(strategy, voter common.Address, grant common.Hash, credits int64, block uint64, index uint) types.Log {
	ev := ledger.StrategyABI().Events[ledger.EventVoted]
	var id [32]byte
	copy(id[:], grant.Bytes())
	data, err := ev.Inputs.NonIndexed().Pack(id, big.NewInt(credits), new(big.Int).Sqrt(big.NewInt(credits)))
	if err != nil {
		panic(err)
	}
	return types.Log{
		Address:     strategy,
		Topics:      []common.Hash{ev.ID, common.BytesToHash(voter.Bytes())},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block)),
		Index:       index,
	}
}

// CreatedLog builds a QVCreated log emitted by factory.
func CreatedLog(factory, strategy, owner common.Address, block uint64, index uint) types.Log {
	ev := ledger.FactoryABI().Events[ledger.EventQVCreated]
	return types.Log{
		Address:     factory,
		Topics:      []common.Hash{ev.ID, common.BytesToHash(strategy.Bytes()), common.BytesToHash(owner.Bytes())},
		BlockNumber: block,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block + 1_000_000)),
		Index:       index,
	}
}
