// Package session – Storage
//
// This file defines the Storage contract behind the session Manager and its
// in-process implementation. MemoryStorage copies sessions in and out so a
// caller holding a *PaymentSession never aliases stored state.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tbourn/go-auction-settlement/internal/domain"
)

// Storage is the persistence contract for payment sessions. Implementations
// must hand out copies so callers cannot mutate stored state.
type Storage interface {
	// Get returns the session or nil when absent.
	Get(ctx context.Context, id string) (*domain.PaymentSession, error)

	// Set inserts or replaces a session by ID.
	Set(ctx context.Context, s domain.PaymentSession) error

	// Delete removes a session. Deleting a missing ID is not an error.
	Delete(ctx context.Context, id string) error

	// List returns the sessions of userID, or all sessions when userID is empty.
	List(ctx context.Context, userID string) ([]domain.PaymentSession, error)

	// Cleanup removes every session whose expiry is before now and reports how many.
	Cleanup(ctx context.Context, now time.Time) (int, error)
}

// MemoryStorage is an in-process Storage guarded by a RWMutex.
type MemoryStorage struct {
	mu       sync.RWMutex
	sessions map[string]domain.PaymentSession
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{sessions: make(map[string]domain.PaymentSession)}
}

// Get returns a copy of the stored session, or nil when id is unknown.
func (m *MemoryStorage) Get(_ context.Context, id string) (*domain.PaymentSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// Set stores a copy of s under s.ID.
func (m *MemoryStorage) Set(_ context.Context, s domain.PaymentSession) error {
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return nil
}

// Delete removes id if present.
func (m *MemoryStorage) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

// List returns copies of the sessions of userID, or of every session when
// userID is empty, ordered by creation time, oldest first. Ties break on ID.
func (m *MemoryStorage) List(_ context.Context, userID string) ([]domain.PaymentSession, error) {
	m.mu.RLock()
	out := make([]domain.PaymentSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		if userID == "" || s.UserID == userID {
			out = append(out, s)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Cleanup deletes sessions that expired before now and returns how many
// were removed.
func (m *MemoryStorage) Cleanup(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if s.ExpiresAt.Before(now) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored sessions.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Clear drops every session.
func (m *MemoryStorage) Clear() {
	m.mu.Lock()
	m.sessions = make(map[string]domain.PaymentSession)
	m.mu.Unlock()
}
