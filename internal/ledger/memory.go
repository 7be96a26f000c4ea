package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
)

// MemoryPayout keeps the payout strategy state in process. It backs local
// runs without a payout contract and tests.
type MemoryPayout struct {
	mu      sync.Mutex
	root    [32]byte
	ptr     MetaPtr
	ready   bool
	nonce   uint64
	updates int

	// FailNext makes the next n calls fail with a LedgerUnavailableError.
	FailNext int
}

func NewMemoryPayout() *MemoryPayout {
	return &MemoryPayout{}
}

func (m *MemoryPayout) fail(op string) error {
	if m.FailNext > 0 {
		m.FailNext--
		return unavailable(op, fmt.Errorf("connection refused"))
	}
	return nil
}

func (m *MemoryPayout) txHash() string {
	m.nonce++
	return crypto.Keccak256Hash([]byte(fmt.Sprintf("memory-tx-%d", m.nonce))).Hex()
}

func (m *MemoryPayout) UpdateDistribution(_ context.Context, root [32]byte, ptr MetaPtr) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("updateDistribution"); err != nil {
		return "", err
	}
	if m.ready {
		return "", fmt.Errorf("updateDistribution after payout ready: %w", ErrTxReverted)
	}
	m.root = root
	m.ptr = ptr
	m.updates++
	return m.txHash(), nil
}

func (m *MemoryPayout) Distribution(_ context.Context) ([32]byte, MetaPtr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("distributionMetaPtr"); err != nil {
		return [32]byte{}, MetaPtr{}, err
	}
	return m.root, m.ptr, nil
}

func (m *MemoryPayout) SetReadyForPayout(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("setReadyForPayout"); err != nil {
		return "", err
	}
	if m.ready {
		return "", fmt.Errorf("setReadyForPayout twice: %w", ErrTxReverted)
	}
	m.ready = true
	return m.txHash(), nil
}

func (m *MemoryPayout) IsReadyForPayout(_ context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("isReadyForPayout"); err != nil {
		return false, err
	}
	return m.ready, nil
}

// Updates counts successful updateDistribution calls.
func (m *MemoryPayout) Updates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates
}

// SetFailures arms FailNext under the lock.
func (m *MemoryPayout) SetFailures(n int) {
	m.mu.Lock()
	m.FailNext = n
	m.mu.Unlock()
}
