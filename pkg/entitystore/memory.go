// Package entitystore provides entity store and directory implementations.
package entitystore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/dukex/deskflow/pkg/models"
	"github.com/dukex/deskflow/pkg/protocol"
	"github.com/google/uuid"
)

// Memory is an in-process entity store and directory.
type Memory struct {
	mu          sync.RWMutex
	entities    map[models.EntityRef]map[string]any
	users       map[string]*models.User
	departments map[string]*models.Department
}

func NewMemory() *Memory {
	return &Memory{
		entities:    make(map[models.EntityRef]map[string]any),
		users:       make(map[string]*models.User),
		departments: make(map[string]*models.Department),
	}
}

// Put stores an entity, replacing any previous fields.
func (m *Memory) Put(ref models.EntityRef, fields map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entities[ref] = maps.Clone(fields)
}

func (m *Memory) PutUser(user *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := *user
	m.users[user.ID] = &u
}

func (m *Memory) PutDepartment(department *models.Department) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d := *department
	m.departments[department.ID] = &d
}

func (m *Memory) Get(_ context.Context, ref models.EntityRef, path string) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fields, ok := m.entities[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", protocol.ErrEntityNotFound, ref)
	}

	entity := &models.Entity{Ref: ref, Fields: fields}

	value, ok := entity.Field(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", protocol.ErrFieldNotFound, path, ref)
	}

	return value, nil
}

func (m *Memory) Update(_ context.Context, ref models.EntityRef, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.entities[ref]
	if !ok {
		return fmt.Errorf("%w: %s", protocol.ErrEntityNotFound, ref)
	}

	updated := maps.Clone(current)
	if updated == nil {
		updated = map[string]any{}
	}

	maps.Copy(updated, fields)
	m.entities[ref] = updated

	return nil
}

func (m *Memory) Load(_ context.Context, ref models.EntityRef) (*models.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fields, ok := m.entities[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", protocol.ErrEntityNotFound, ref)
	}

	return &models.Entity{Ref: ref, Fields: maps.Clone(fields)}, nil
}

func (m *Memory) Create(_ context.Context, entityType models.EntityType, fields map[string]any) (models.EntityRef, error) {
	ref := models.EntityRef{Type: entityType, ID: uuid.New().String()}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entities[ref] = maps.Clone(fields)

	return ref, nil
}

func (m *Memory) Find(_ context.Context, entityType models.EntityType) ([]models.EntityRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	refs := make([]models.EntityRef, 0)

	for ref := range m.entities {
		if ref.Type == entityType {
			refs = append(refs, ref)
		}
	}

	slices.SortFunc(refs, func(a, b models.EntityRef) int {
		return strings.Compare(a.ID, b.ID)
	})

	return refs, nil
}

func (m *Memory) User(_ context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", protocol.ErrUserNotFound, id)
	}

	u := *user

	return &u, nil
}

func (m *Memory) UsersInDepartment(_ context.Context, departmentID string) ([]*models.User, error) {
	return m.usersWhere(func(u *models.User) bool {
		return u.DepartmentID == departmentID
	}), nil
}

func (m *Memory) DepartmentManagers(_ context.Context, departmentID string) ([]*models.User, error) {
	return m.usersWhere(func(u *models.User) bool {
		return u.DepartmentID == departmentID && u.Role == models.RoleManager
	}), nil
}

func (m *Memory) DepartmentByName(_ context.Context, name string) (*models.Department, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, department := range m.departments {
		if strings.EqualFold(department.Name, name) {
			d := *department

			return &d, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", protocol.ErrDepartmentNotFound, name)
}

func (m *Memory) usersWhere(keep func(*models.User) bool) []*models.User {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]*models.User, 0)

	for _, user := range m.users {
		if keep(user) {
			u := *user
			users = append(users, &u)
		}
	}

	slices.SortFunc(users, func(a, b *models.User) int {
		return strings.Compare(a.ID, b.ID)
	})

	return users
}
