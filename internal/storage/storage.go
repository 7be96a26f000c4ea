// Package storage persists immutable documents under content-derived pointers.
package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/cometbft/cometbft/crypto/tmhash"
)

// Protocol ids used in on-chain metadata pointers.
const (
	ProtocolDatabase uint64 = 0
	ProtocolIPFS     uint64 = 1
)

// ErrNotFound is returned by Get for unknown pointers.
var ErrNotFound = errors.New("content not found")

// Store writes documents once and reads them back by pointer.
// Put of identical content returns the identical pointer.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, pointer string) ([]byte, error)
	Protocol() uint64
}

// StorageWriteError wraps a failed write; callers treat it as transient.
type StorageWriteError struct {
	Err error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("content storage write failed: %v", e.Err)
}

func (e *StorageWriteError) Unwrap() error {
	return e.Err
}

// Pointer derives the database pointer for data.
func Pointer(data []byte) string {
	return hex.EncodeToString(tmhash.Sum(data))
}
