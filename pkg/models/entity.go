// Package models defines the core domain types of the deskflow automation engine.
package models

import (
	"strings"

	"github.com/oliveagle/jsonpath"
)

type EntityType string

const (
	EntityTypeTicket           EntityType = "ticket"
	EntityTypeUser             EntityType = "user"
	EntityTypeKnowledgeArticle EntityType = "knowledge_article"
)

// Ticket field names touched by the engine.
const (
	FieldSubject      = "subject"
	FieldDescription  = "description"
	FieldPriorityID   = "priority_id"
	FieldDepartmentID = "department_id"
	FieldAssignedTo   = "assigned_to"
	FieldCreatedBy    = "created_by"
	FieldStatus       = "status"
)

// EntityRef identifies the target of an execution.
type EntityRef struct {
	Type EntityType `json:"type" validate:"required"`
	ID   string     `json:"id"   validate:"required"`
}

// Key is the serialization key used for per-entity locks and queue members.
func (r EntityRef) Key() string {
	return string(r.Type) + ":" + r.ID
}

func (r EntityRef) String() string {
	return r.Key()
}

// Entity is a snapshot of an entity's fields.
type Entity struct {
	Ref    EntityRef      `json:"ref"`
	Fields map[string]any `json:"fields"`
}

// Field resolves a dotted path ("requester.email") against the entity fields.
func (e *Entity) Field(path string) (any, bool) {
	if e == nil || e.Fields == nil || path == "" {
		return nil, false
	}

	if value, ok := e.Fields[path]; ok {
		return value, true
	}

	if !strings.Contains(path, ".") {
		return nil, false
	}

	value, err := jsonpath.JsonPathLookup(e.Fields, "$."+path)
	if err != nil {
		return nil, false
	}

	return value, true
}

// Env returns the entity fields as an expression environment.
func (e *Entity) Env() map[string]any {
	env := make(map[string]any, len(e.Fields)+2)
	for k, v := range e.Fields {
		env[k] = v
	}

	env["entity_type"] = string(e.Ref.Type)
	env["entity_id"] = e.Ref.ID

	return env
}

type User struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	DepartmentID string `json:"department_id,omitempty"`
	Role         string `json:"role,omitempty"`
}

const RoleManager = "manager"

type Department struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

var priorities = map[string]int{
	"low":    1,
	"medium": 2,
	"high":   3,
	"urgent": 4,
}

// PriorityID maps a priority label to its stored id.
func PriorityID(label string) (int, bool) {
	id, ok := priorities[strings.ToLower(strings.TrimSpace(label))]

	return id, ok
}
