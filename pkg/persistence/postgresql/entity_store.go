package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/deskflow/pkg/models"
	"github.com/dukex/deskflow/pkg/protocol"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// EntityStore keeps entity fields as a JSONB document per (type, id) and
// reads users and departments from their own tables.
type EntityStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewEntityStore(db *sql.DB, logger *slog.Logger) *EntityStore {
	return &EntityStore{db: db, logger: logger}
}

// Get reads a dotted field path with the #> operator.
func (s *EntityStore) Get(ctx context.Context, ref models.EntityRef, path string) (any, error) {
	var (
		exists bool
		raw    []byte
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT true, fields #> $3 FROM entities WHERE entity_type = $1 AND entity_id = $2`,
		ref.Type, ref.ID, pq.Array(strings.Split(path, ".")),
	).Scan(&exists, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", protocol.ErrEntityNotFound, ref)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read %s on %s: %w", path, ref, err)
	}

	if raw == nil {
		return nil, fmt.Errorf("%w: %s on %s", protocol.ErrFieldNotFound, path, ref)
	}

	var value any

	err = json.Unmarshal(raw, &value)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s on %s: %w", path, ref, err)
	}

	return value, nil
}

// Update merges fields into the stored document in one statement.
func (s *EntityStore) Update(ctx context.Context, ref models.EntityRef, fields map[string]any) error {
	patch, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE entities SET fields = fields || $3::jsonb, updated_at = NOW()
		WHERE entity_type = $1 AND entity_id = $2`,
		ref.Type, ref.ID, patch,
	)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", ref, err)
	}

	return expectAffected(result, fmt.Errorf("%w: %s", protocol.ErrEntityNotFound, ref))
}

func (s *EntityStore) Load(ctx context.Context, ref models.EntityRef) (*models.Entity, error) {
	var raw []byte

	err := s.db.QueryRowContext(ctx,
		`SELECT fields FROM entities WHERE entity_type = $1 AND entity_id = $2`,
		ref.Type, ref.ID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", protocol.ErrEntityNotFound, ref)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", ref, err)
	}

	entity := &models.Entity{Ref: ref}

	err = json.Unmarshal(raw, &entity.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", ref, err)
	}

	return entity, nil
}

func (s *EntityStore) Create(ctx context.Context, entityType models.EntityType, fields map[string]any) (models.EntityRef, error) {
	ref := models.EntityRef{Type: entityType, ID: uuid.New().String()}

	err := s.Put(ctx, ref, fields)
	if err != nil {
		return models.EntityRef{}, err
	}

	return ref, nil
}

// Put inserts or replaces an entity document.
func (s *EntityStore) Put(ctx context.Context, ref models.EntityRef, fields map[string]any) error {
	if fields == nil {
		fields = map[string]any{}
	}

	document, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (entity_type, entity_id, fields)
		VALUES ($1, $2, $3)
		ON CONFLICT (entity_type, entity_id) DO UPDATE SET
			fields = EXCLUDED.fields,
			updated_at = NOW()`,
		ref.Type, ref.ID, document,
	)
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", ref, err)
	}

	return nil
}

func (s *EntityStore) Find(ctx context.Context, entityType models.EntityType) ([]models.EntityRef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_id FROM entities WHERE entity_type = $1 ORDER BY entity_id`, entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}

	defer closeRows(ctx, s.logger, rows)

	refs := make([]models.EntityRef, 0)

	for rows.Next() {
		ref := models.EntityRef{Type: entityType}

		err := rows.Scan(&ref.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}

		refs = append(refs, ref)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}

	return refs, nil
}

func (s *EntityStore) User(ctx context.Context, id string) (*models.User, error) {
	users, err := s.users(ctx, `WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}

	if len(users) == 0 {
		return nil, fmt.Errorf("%w: %s", protocol.ErrUserNotFound, id)
	}

	return users[0], nil
}

func (s *EntityStore) UsersInDepartment(ctx context.Context, departmentID string) ([]*models.User, error) {
	return s.users(ctx, `WHERE department_id = $1`, departmentID)
}

func (s *EntityStore) DepartmentManagers(ctx context.Context, departmentID string) ([]*models.User, error) {
	return s.users(ctx, `WHERE department_id = $1 AND role = $2`, departmentID, models.RoleManager)
}

func (s *EntityStore) DepartmentByName(ctx context.Context, name string) (*models.Department, error) {
	var department models.Department

	err := s.db.QueryRowContext(ctx,
		`SELECT id, name FROM departments WHERE LOWER(name) = LOWER($1)`, name,
	).Scan(&department.ID, &department.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", protocol.ErrDepartmentNotFound, name)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query department %s: %w", name, err)
	}

	return &department, nil
}

// SaveUser upserts a directory user.
func (s *EntityStore) SaveUser(ctx context.Context, user *models.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, department_id, role)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			department_id = EXCLUDED.department_id,
			role = EXCLUDED.role`,
		user.ID, user.Name, user.Email, nullIfEmpty(user.DepartmentID), user.Role,
	)
	if err != nil {
		return fmt.Errorf("failed to save user %s: %w", user.ID, err)
	}

	return nil
}

// SaveDepartment upserts a department.
func (s *EntityStore) SaveDepartment(ctx context.Context, department *models.Department) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO departments (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
		department.ID, department.Name,
	)
	if err != nil {
		return fmt.Errorf("failed to save department %s: %w", department.ID, err)
	}

	return nil
}

func (s *EntityStore) users(ctx context.Context, where string, args ...any) ([]*models.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, email, COALESCE(department_id, ''), role FROM users `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}

	defer closeRows(ctx, s.logger, rows)

	users := make([]*models.User, 0)

	for rows.Next() {
		var user models.User

		err := rows.Scan(&user.ID, &user.Name, &user.Email, &user.DepartmentID, &user.Role)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}

		users = append(users, &user)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return users, nil
}
