package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// Store is the blob collaborator: bytes go in, a stable address comes out.
// The address is later usable as a direct content reference.
type Store interface {
	Upload(ctx context.Context, name, contentType string, data []byte) (string, error)
	Open(ctx context.Context, address string) (io.ReadCloser, error)
}

// MemoryStore keeps blobs in a map. Test double and relay-mode default.
type MemoryStore struct {
	mu    sync.Mutex
	next  int
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (m *MemoryStore) Upload(ctx context.Context, name, contentType string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	address := fmt.Sprintf("mem://%d/%s", m.next, name)
	buf := make([]byte, len(data))
	copy(buf, data)
	m.blobs[address] = buf
	return address, nil
}

func (m *MemoryStore) Open(ctx context.Context, address string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[address]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", address)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Count reports how many blobs were stored. Test helper.
func (m *MemoryStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blobs)
}
