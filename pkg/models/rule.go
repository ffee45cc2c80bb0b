package models

import "time"

type MatchMode string

const (
	MatchAll MatchMode = "all"
	MatchAny MatchMode = "any"
)

type Condition struct {
	Field    string `json:"field"    validate:"required"`
	Operator string `json:"operator" validate:"required"`
	Value    any    `json:"value"`
}

// ConditionGroup is the predicate a rule's entity must satisfy. When both
// Conditions and Expression are present, both must hold.
type ConditionGroup struct {
	Match      MatchMode   `json:"match,omitempty"      validate:"omitempty,oneof=all any"`
	Conditions []Condition `json:"conditions,omitempty" validate:"dive"`
	Expression string      `json:"expression,omitempty"`
}

// Rule is an entity-type scoped predicate plus an ordered action list.
type Rule struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"                       validate:"required,min=3"`
	Description    string             `json:"description,omitempty"`
	EntityType     EntityType         `json:"entity_type"                validate:"required"`
	Conditions     ConditionGroup     `json:"conditions"`
	Actions        []ActionDescriptor `json:"actions"                    validate:"required,min=1"`
	Priority       int                `json:"priority"`
	IsActive       bool               `json:"is_active"`
	Schedule       *string            `json:"schedule,omitempty"`
	ExecutionLimit *int               `json:"execution_limit,omitempty"  validate:"omitempty,gt=0"`
	ExecutionCount int                `json:"execution_count"`
	LastExecutedAt *time.Time         `json:"last_executed_at,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// Scheduled reports whether the rule is time-driven.
func (r *Rule) Scheduled() bool {
	return r.Schedule != nil && *r.Schedule != ""
}

// LimitReached reports whether the rule may not fire again given the
// firings already made in the current pass.
func (r *Rule) LimitReached(firedThisPass int) bool {
	if r.ExecutionLimit == nil {
		return false
	}

	return r.ExecutionCount+firedThisPass >= *r.ExecutionLimit
}

// Grant returns how many of requested firings fit under the execution limit.
func (r *Rule) Grant(requested int) int {
	if requested <= 0 {
		return 0
	}

	if r.ExecutionLimit == nil {
		return requested
	}

	return max(0, min(requested, *r.ExecutionLimit-r.ExecutionCount))
}
