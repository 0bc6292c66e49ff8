package repository

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/docent/pkg/model"
	"github.com/patrickmn/go-cache"
)

// Memory is a process-local session store. Sessions expire after the
// configured idle time. Every mutation runs under one mutex, so appends are
// atomic with respect to each other.
type Memory struct {
	mu    sync.Mutex
	cache *cache.Cache
}

// NewMemory creates a store whose sessions expire after ttl of inactivity;
// zero keeps them for the life of the process
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &Memory{
		cache: cache.New(ttl, 10*time.Minute),
	}
}

func (m *Memory) Create(ctx context.Context, userID string) (*model.Session, error) {
	session := model.NewSession(userID)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Set(session.ID.String(), session.Clone(), cache.DefaultExpiration)
	return session, nil
}

func (m *Memory) Get(ctx context.Context, id model.SessionID) (*model.Session, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if x, found := m.cache.Get(id.String()); found {
		return x.(*model.Session).Clone(), nil
	}
	return nil, nil
}

func (m *Memory) mutate(id model.SessionID, fn func(s *model.Session)) (*model.Session, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	x, found := m.cache.Get(id.String())
	if !found {
		return nil, notFound(id)
	}
	session := x.(*model.Session)
	fn(session)
	session.UpdatedAt = time.Now().UTC()
	m.cache.Set(id.String(), session, cache.DefaultExpiration)
	return session.Clone(), nil
}

func (m *Memory) AddMessage(ctx context.Context, id model.SessionID, msg *model.ChatMessage) (*model.Session, error) {
	return m.mutate(id, func(s *model.Session) {
		s.ChatHistory = append(s.ChatHistory, *msg)
	})
}

func (m *Memory) UpdateStatus(ctx context.Context, id model.SessionID, st model.SessionStatus) (*model.Session, error) {
	if err := st.Validate(); err != nil {
		return nil, err
	}
	return m.mutate(id, func(s *model.Session) {
		s.Status = st
	})
}

func (m *Memory) ClearHistory(ctx context.Context, id model.SessionID) (*model.Session, error) {
	return m.mutate(id, func(s *model.Session) {
		s.ChatHistory = []model.ChatMessage{}
	})
}

func (m *Memory) Close() error {
	m.cache.Flush()
	return nil
}
