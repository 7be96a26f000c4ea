package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"round-finalizer/internal/db/dbtest"

	"github.com/stretchr/testify/require"
)

func TestDBStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewDBStore(dbtest.New(t))

	ptr, err := store.Put(ctx, []byte(`[{"projectId":"p1"}]`))
	require.NoError(t, err)
	require.Len(t, ptr, 64)

	again, err := store.Put(ctx, []byte(`[{"projectId":"p1"}]`))
	require.NoError(t, err)
	require.Equal(t, ptr, again, "same content, same pointer")

	data, err := store.Get(ctx, ptr)
	require.NoError(t, err)
	require.JSONEq(t, `[{"projectId":"p1"}]`, string(data))

	_, err = store.Get(ctx, Pointer([]byte("other")))
	require.True(t, errors.Is(err, ErrNotFound))
	require.Equal(t, ProtocolDatabase, store.Protocol())
}

// fakeIPFS implements just enough of the IPFS HTTP RPC API.
type fakeIPFS struct {
	mu    sync.Mutex
	blobs map[string][]byte
	fail  bool
}

func (f *fakeIPFS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.URL.Path {
	case "/api/v0/add":
		if f.fail {
			http.Error(w, "node unavailable", http.StatusBadGateway)
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		sum := sha256.Sum256(data)
		cid := "bafy" + hex.EncodeToString(sum[:8])
		f.blobs[cid] = data
		_, _ = w.Write([]byte(`{"Name":"distribution.json","Hash":"` + cid + `","Size":"1"}`))
	case "/api/v0/cat":
		data, ok := f.blobs[r.URL.Query().Get("arg")]
		if !ok {
			http.Error(w, "block not found", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(data)
	default:
		http.NotFound(w, r)
	}
}

func TestIPFSStore(t *testing.T) {
	ctx := context.Background()
	node := &fakeIPFS{blobs: map[string][]byte{}}
	srv := httptest.NewServer(node)
	defer srv.Close()

	store := NewIPFSStore(srv.URL + "/")
	ptr, err := store.Put(ctx, []byte("distribution"))
	require.NoError(t, err)
	require.Contains(t, ptr, "bafy")

	data, err := store.Get(ctx, ptr)
	require.NoError(t, err)
	require.Equal(t, "distribution", string(data))

	_, err = store.Get(ctx, "bafymissing")
	require.True(t, errors.Is(err, ErrNotFound))

	node.mu.Lock()
	node.fail = true
	node.mu.Unlock()
	_, err = store.Put(ctx, []byte("x"))
	var writeErr *StorageWriteError
	require.True(t, errors.As(err, &writeErr))
	require.Equal(t, ProtocolIPFS, store.Protocol())
}
