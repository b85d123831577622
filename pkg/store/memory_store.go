package store

import (
	"context"
	"sync"
	"sync/atomic"

	"recipeshare/pkg/domain"
)

// MemoryStore keeps users and recipes in-process. It implements both Store
// and Sequence and is used by tests and local development.
type MemoryStore struct {
	mu       sync.RWMutex
	recipes  map[int64]domain.Recipe
	order    []int64
	users    map[string]domain.User // key: user ID
	username map[string]string      // username -> user ID

	lastID atomic.Int64
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		recipes:  make(map[int64]domain.Recipe),
		users:    make(map[string]domain.User),
		username: make(map[string]string),
	}
}

// Next returns the next recipe ID. Deleted IDs are never reissued.
func (m *MemoryStore) Next(_ context.Context) (int64, error) {
	return m.lastID.Add(1), nil
}

// SaveRecipe stores or replaces a recipe and tracks insertion order.
func (m *MemoryStore) SaveRecipe(r domain.Recipe) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.recipes[r.ID]; !exists {
		m.order = append(m.order, r.ID)
	}
	m.recipes[r.ID] = r
	return nil
}

// GetRecipe retrieves a recipe by ID.
func (m *MemoryStore) GetRecipe(id int64) (domain.Recipe, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.recipes[id]
	return r, ok, nil
}

// ListRecipes returns recipes in insertion order.
func (m *MemoryStore) ListRecipes() ([]domain.Recipe, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Recipe, 0, len(m.order))
	for _, id := range m.order {
		if r, ok := m.recipes[id]; ok {
			res = append(res, r)
		}
	}
	return res, nil
}

// DeleteRecipe removes a recipe.
func (m *MemoryStore) DeleteRecipe(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recipes, id)
	filtered := m.order[:0]
	for _, item := range m.order {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	m.order = filtered
	return nil
}

// SaveUser registers a user.
func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.username[u.Username] = u.ID
	return nil
}

// HasUsername checks if the username is taken.
func (m *MemoryStore) HasUsername(username string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.username[username]
	return ok, nil
}

// GetUserByUsername looks up a user by username.
func (m *MemoryStore) GetUserByUsername(username string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.username[username]; ok {
		u, exists := m.users[id]
		return u, exists, nil
	}
	return domain.User{}, false, nil
}
