package mocks

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/accountd/apiserver/internal/storage"
	"github.com/accountd/apiserver/types"
)

// PlainHasher "hashes" by prefixing, so tests stay fast and deterministic.
type PlainHasher struct {
	Err error
}

const plainPrefix = "hashed:"

func (h PlainHasher) Hash(password string) (string, error) {
	if h.Err != nil {
		return "", h.Err
	}
	return plainPrefix + password, nil
}

func (h PlainHasher) Compare(hashed, password string) error {
	if !strings.HasPrefix(hashed, plainPrefix) || strings.TrimPrefix(hashed, plainPrefix) != password {
		return errors.New("password mismatch")
	}
	return nil
}

// Notifier records every notification it receives.
type Notifier struct {
	mu   sync.Mutex
	sent []types.Notification
	Err  error
}

func (n *Notifier) Notify(_ context.Context, notification types.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.sent = append(n.sent, notification)
	return nil
}

// Sent returns a copy of the recorded notifications.
func (n *Notifier) Sent() []types.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]types.Notification(nil), n.sent...)
}

// ObjectStore keeps objects in memory.
type ObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	PutErr  error
}

func NewObjectStore() *ObjectStore {
	return &ObjectStore{objects: make(map[string][]byte)}
}

func (s *ObjectStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	if s.PutErr != nil {
		return s.PutErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *ObjectStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *ObjectStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// Keys returns the stored object keys.
func (s *ObjectStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	return keys
}
