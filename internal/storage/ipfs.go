package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// IPFSStore talks to the HTTP RPC API of an IPFS node (/api/v0/add, /api/v0/cat).
type IPFSStore struct {
	apiURL string
	client *http.Client
}

func NewIPFSStore(apiURL string) *IPFSStore {
	return &IPFSStore{
		apiURL: strings.TrimSuffix(apiURL, "/"),
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type addResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

func (s *IPFSStore) Put(ctx context.Context, data []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "distribution.json")
	if err != nil {
		return "", &StorageWriteError{Err: err}
	}
	if _, err := part.Write(data); err != nil {
		return "", &StorageWriteError{Err: err}
	}
	if err := mw.Close(); err != nil {
		return "", &StorageWriteError{Err: err}
	}

	endpoint := s.apiURL + "/api/v0/add?pin=true&cid-version=1"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", &StorageWriteError{Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		return "", &StorageWriteError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &StorageWriteError{Err: fmt.Errorf("ipfs add: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))}
	}

	var payload addResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", &StorageWriteError{Err: fmt.Errorf("decode ipfs add response: %w", err)}
	}
	if payload.Hash == "" {
		return "", &StorageWriteError{Err: fmt.Errorf("ipfs add returned no hash")}
	}
	return payload.Hash, nil
}

func (s *IPFSStore) Get(ctx context.Context, pointer string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/api/v0/cat?arg=%s", s.apiURL, url.QueryEscape(pointer))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if strings.Contains(string(msg), "not found") {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ipfs cat %s: status %d", pointer, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (s *IPFSStore) Protocol() uint64 {
	return ProtocolIPFS
}
