// Package file provides file-based persistence for workflows, rules and executions.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/deskflow/pkg/persistence"
)

// Persistence implements persistence.Persistence with one JSON document per
// record under a root directory.
type Persistence struct {
	root          string
	workflowRepo  *WorkflowRepository
	ruleRepo      *RuleRepository
	executionRepo *ExecutionRepository
	actionRepo    *ActionRecordRepository
	auditRepo     *AuditRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:          cleanRoot,
		workflowRepo:  NewWorkflowRepository(cleanRoot),
		ruleRepo:      NewRuleRepository(cleanRoot),
		executionRepo: NewExecutionRepository(cleanRoot),
		actionRepo:    NewActionRecordRepository(cleanRoot),
		auditRepo:     NewAuditRepository(cleanRoot),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return fp.workflowRepo
}

func (fp *Persistence) RuleRepository() persistence.RuleRepository {
	return fp.ruleRepo
}

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}

func (fp *Persistence) ActionRecordRepository() persistence.ActionRecordRepository {
	return fp.actionRepo
}

func (fp *Persistence) AuditRepository() persistence.AuditRepository {
	return fp.auditRepo
}

// documents stores values of T as <dir>/<id>.json.
type documents[T any] struct {
	dir string
}

func newDocuments[T any](root string, parts ...string) documents[T] {
	return documents[T]{dir: filepath.Join(append([]string{root}, parts...)...)}
}

// validateID rejects identifiers that could escape the document directory.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", persistence.ErrInvalidID)
	}

	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q", persistence.ErrInvalidID, id)
	}

	return nil
}

// read returns fs.ErrNotExist (wrapped) when the document is missing.
func (d documents[T]) read(id string) (*T, error) {
	err := validateID(id)
	if err != nil {
		return nil, err
	}

	body, err := os.ReadFile(filepath.Join(d.dir, id+".json")) // #nosec G304 -- id is validated
	if err != nil {
		return nil, err
	}

	var value T

	err = json.Unmarshal(body, &value)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", id, err)
	}

	return &value, nil
}

// write replaces the document atomically through a temp file and rename.
func (d documents[T]) write(id string, value *T) error {
	err := validateID(id)
	if err != nil {
		return err
	}

	err = os.MkdirAll(d.dir, 0750)
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", d.dir, err)
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", id, err)
	}

	tmp, err := os.CreateTemp(d.dir, id+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", id, err)
	}

	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write %s: %w", id, err)
	}

	err = os.Rename(tmp.Name(), filepath.Join(d.dir, id+".json"))
	if err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to replace %s: %w", id, err)
	}

	return nil
}

func (d documents[T]) remove(id string) error {
	err := validateID(id)
	if err != nil {
		return err
	}

	return os.Remove(filepath.Join(d.dir, id+".json"))
}

func (d documents[T]) all() ([]*T, error) {
	files, err := fs.Glob(os.DirFS(d.dir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", d.dir, err)
	}

	values := make([]*T, 0, len(files))

	for _, file := range files {
		value, err := d.read(strings.TrimSuffix(file, ".json"))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}

		if err != nil {
			return nil, err
		}

		values = append(values, value)
	}

	return values, nil
}
