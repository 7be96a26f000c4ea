package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"round-finalizer/internal/db"
)

// DBStore keeps blobs in the blobs table keyed by their tmhash.
type DBStore struct {
	repo *db.Repository
}

func NewDBStore(repo *db.Repository) *DBStore {
	return &DBStore{repo: repo}
}

func (s *DBStore) Put(ctx context.Context, data []byte) (string, error) {
	ptr := Pointer(data)
	if err := s.repo.PutBlob(ctx, ptr, data); err != nil {
		return "", &StorageWriteError{Err: err}
	}
	return ptr, nil
}

func (s *DBStore) Get(ctx context.Context, pointer string) ([]byte, error) {
	data, err := s.repo.Blob(ctx, pointer)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if Pointer(data) != pointer {
		return nil, fmt.Errorf("blob %s does not match its pointer", pointer)
	}
	return bytes.Clone(data), nil
}

func (s *DBStore) Protocol() uint64 {
	return ProtocolDatabase
}
