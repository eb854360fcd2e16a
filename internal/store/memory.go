package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/handsomefox/watchwise/internal/tracking"
)

// Memory keeps user documents in process. It follows the same version
// rules as the database stores and is meant for tests and local runs.
type Memory struct {
	mu      sync.RWMutex
	byID    map[string]*tracking.User
	byEmail map[string]string
}

func NewMemory() *Memory {
	return &Memory{
		byID:    map[string]*tracking.User{},
		byEmail: map[string]string{},
	}
}

func (m *Memory) CreateUser(_ context.Context, user *tracking.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := NormalizeEmail(user.Email)
	if _, ok := m.byEmail[email]; ok {
		return ErrEmailTaken
	}

	now := time.Now().UTC()
	u := user.Clone()
	u.ID = uuid.NewString()
	u.Email = email
	u.Version = 1
	u.CreatedAt = now
	u.UpdatedAt = now

	m.byID[u.ID] = u
	m.byEmail[email] = u.ID
	*user = *u.Clone()
	return nil
}

func (m *Memory) FindUser(_ context.Context, id string) (*tracking.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u.Clone(), nil
}

func (m *Memory) FindUserByEmail(_ context.Context, email string) (*tracking.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return m.byID[id].Clone(), nil
}

func (m *Memory) SaveUser(_ context.Context, user *tracking.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.byID[user.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != user.Version {
		return tracking.ErrVersionConflict
	}

	email := NormalizeEmail(user.Email)
	if owner, ok := m.byEmail[email]; ok && owner != user.ID {
		return ErrEmailTaken
	}

	u := user.Clone()
	u.Email = email
	u.Version++
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = time.Now().UTC()
	}

	delete(m.byEmail, cur.Email)
	m.byEmail[email] = u.ID
	m.byID[u.ID] = u

	user.Email = u.Email
	user.Version = u.Version
	user.UpdatedAt = u.UpdatedAt
	return nil
}

func (m *Memory) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.byEmail, u.Email)
	delete(m.byID, id)
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
