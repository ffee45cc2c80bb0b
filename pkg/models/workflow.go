package models

import "time"

// Workflow is a user-authored graph of nodes executed against one entity.
type Workflow struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"        validate:"required,min=3"`
	Description string     `json:"description"`
	EntityType  EntityType `json:"entity_type" validate:"required"`
	IsActive    bool       `json:"is_active"`
	Graph       Graph      `json:"graph"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
