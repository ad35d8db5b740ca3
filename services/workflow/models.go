package workflow

import (
	"encoding/json"
	"fmt"
	"time"

	"linkit/services/registry"
)

// Workflow is a persisted automation owned by a user. Triggers holds the
// root nodes; their descendants are loaded on demand.
type Workflow struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Image       string    `json:"image"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Triggers    []Node    `json:"triggers"`
}

// Node is a persisted instance of an event inside a workflow tree.
type Node struct {
	ID           string             `json:"id"`
	IDNode       string             `json:"idNode"`
	Type         registry.EventType `json:"type"`
	Name         string             `json:"name"`
	ServiceName  string             `json:"serviceName"`
	FieldGroups  []StoredFieldGroup `json:"fieldGroups"`
	Conditions   json.RawMessage    `json:"conditions,omitempty"`
	Variables    json.RawMessage    `json:"variables,omitempty"`
	ParentNodeID *string            `json:"parentNodeId,omitempty"`
	Children     []Node             `json:"children"`
}

// StoredFieldGroup is a field group as saved by the editor. Every attribute
// may be absent; Materialize fills the gaps.
type StoredFieldGroup struct {
	ID          *string       `json:"id,omitempty" yaml:"id"`
	Name        *string       `json:"name,omitempty" yaml:"name"`
	Description *string       `json:"description,omitempty" yaml:"description"`
	Type        *string       `json:"type,omitempty" yaml:"type"`
	Fields      []StoredField `json:"fields" yaml:"fields"`
}

// StoredField is a field as saved by the editor.
type StoredField struct {
	ID          *string                `json:"id,omitempty" yaml:"id"`
	Type        *registry.FieldType    `json:"type,omitempty" yaml:"type"`
	Description *string                `json:"description,omitempty" yaml:"description"`
	Value       any                    `json:"value,omitempty" yaml:"value"`
	Required    *bool                  `json:"required,omitempty" yaml:"required"`
	Options     []registry.FieldOption `json:"options,omitempty" yaml:"options"`
}

// Validate rejects fields whose declared type is unknown.
func (f StoredField) Validate() error {
	if f.Type != nil && !f.Type.Valid() {
		id := "<unnamed>"
		if f.ID != nil {
			id = *f.ID
		}
		return fmt.Errorf("field %s has unknown type %q", id, *f.Type)
	}
	return nil
}

// History statuses.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// HistoryEntry records one cascade run of a workflow.
type HistoryEntry struct {
	ID            string    `json:"id"`
	WorkflowID    string    `json:"workflowId"`
	ExecutionDate time.Time `json:"executionDate"`
	Status        string    `json:"status"`
	Detail        string    `json:"detail,omitempty"`
}

// RunResponse is returned after a manual run has been accepted.
type RunResponse struct {
	ExecutionID string `json:"executionId"`
	WorkflowID  string `json:"workflowId"`
	Status      string `json:"status"`
}
