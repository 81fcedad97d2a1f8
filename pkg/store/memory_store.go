package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"aluastro/pkg/domain"
)

// MemoryStore keeps applications in-process for local development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	apps   map[string]domain.Application
	orders []string
	now    func() time.Time
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		apps: make(map[string]domain.Application),
		now:  time.Now,
	}
}

// AddApplication stores a copy of app under a fresh ID.
func (m *MemoryStore) AddApplication(ctx context.Context, app domain.Application) (domain.Application, error) {
	if err := ctx.Err(); err != nil {
		return domain.Application{}, err
	}
	app.ID = uuid.NewString()
	app.CreatedAt = m.now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apps[app.ID] = cloneApplication(app)
	m.orders = append(m.orders, app.ID)
	return app, nil
}

// GetApplication retrieves an application by ID.
func (m *MemoryStore) GetApplication(_ context.Context, id string) (domain.Application, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	app, ok := m.apps[id]
	if !ok {
		return domain.Application{}, false, nil
	}
	return cloneApplication(app), true, nil
}

// ListApplications returns applications in insertion order.
func (m *MemoryStore) ListApplications() []domain.Application {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Application, 0, len(m.orders))
	for _, id := range m.orders {
		res = append(res, cloneApplication(m.apps[id]))
	}
	return res
}

func cloneApplication(app domain.Application) domain.Application {
	app.Phone = cloneString(app.Phone)
	app.Department = cloneString(app.Department)
	app.Skills = cloneString(app.Skills)
	app.CVPath = cloneString(app.CVPath)
	if app.Attachment != nil {
		meta := *app.Attachment
		app.Attachment = &meta
	}
	return app
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
