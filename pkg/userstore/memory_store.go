package userstore

import (
	"fmt"
	"sync"
	"time"

	"gundeshapur/pkg/domain"
)

// MemoryStore keeps account records in-process for tests and local runs.
type MemoryStore struct {
	mu     sync.RWMutex
	users  map[string]domain.User // key: user ID
	email  map[string]string      // email -> user ID
	orders []string               // insertion order
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]domain.User),
		email: make(map[string]string),
	}
}

// SaveUser stores or replaces an account record.
func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, exists := m.users[u.ID]; exists {
		delete(m.email, prev.Email)
	} else {
		m.orders = append(m.orders, u.ID)
	}
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[email]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

// HasUserEmail checks if email exists.
func (m *MemoryStore) HasUserEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.email[email]
	return ok, nil
}

// ListUsers returns users in insertion order.
func (m *MemoryStore) ListUsers() ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.User, 0, len(m.orders))
	for _, id := range m.orders {
		if u, ok := m.users[id]; ok {
			res = append(res, u)
		}
	}
	return res, nil
}

// UserCount returns number of users.
func (m *MemoryStore) UserCount() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

// SetSheetID stores the connected spreadsheet ID.
func (m *MemoryStore) SetSheetID(userID, sheetID string) error {
	return m.update(userID, func(u *domain.User) {
		u.SheetID = sheetID
	})
}

// SetPlan updates plan and subscription status.
func (m *MemoryStore) SetPlan(userID string, plan domain.Plan, subscriptionStatus string) error {
	return m.update(userID, func(u *domain.User) {
		u.Plan = plan
		u.SubscriptionStatus = subscriptionStatus
	})
}

// TouchLastLogin stamps the last successful login.
func (m *MemoryStore) TouchLastLogin(userID string, at time.Time) error {
	return m.update(userID, func(u *domain.User) {
		u.LastLogin = at.UTC()
	})
}

func (m *MemoryStore) update(userID string, fn func(*domain.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("user %q not found", userID)
	}
	fn(&u)
	u.UpdatedAt = time.Now().UTC()
	m.users[userID] = u
	return nil
}
