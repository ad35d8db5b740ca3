package registry

import "fmt"

// Identifiers of the synthesized workflow-context group.
const (
	WorkflowContextGroupID = "workflow_information"
	FieldWorkflowID        = "workflow_id"
	FieldWorkflowName      = "workflow_name"
	FieldWorkflowEnabled   = "workflow_enabled"
	FieldUserID            = "user_id"
)

// FindGroup returns the group with the given id. Events must never rely on position.
func FindGroup(params []FieldGroup, id string) (FieldGroup, bool) {
	for _, g := range params {
		if g.ID == id {
			return g, true
		}
	}
	return FieldGroup{}, false
}

// FindString looks up a field in a group and returns its string value.
func FindString(params []FieldGroup, groupID, fieldID string) (string, bool) {
	g, ok := FindGroup(params, groupID)
	if !ok {
		return "", false
	}
	f, ok := g.Field(fieldID)
	if !ok {
		return "", false
	}
	return f.StringValue()
}

// RequireString is FindString that fails on a missing or empty value.
func RequireString(params []FieldGroup, groupID, fieldID string) (string, error) {
	s, ok := FindString(params, groupID, fieldID)
	if !ok || s == "" {
		return "", fmt.Errorf("missing required field %s.%s", groupID, fieldID)
	}
	return s, nil
}

// WorkflowContext is the decoded form of the workflow_information group.
type WorkflowContext struct {
	WorkflowID   string
	WorkflowName string
	Enabled      bool
	UserID       string
}

// ContextFrom extracts the workflow context injected by the monitor.
func ContextFrom(params []FieldGroup) (WorkflowContext, error) {
	g, ok := FindGroup(params, WorkflowContextGroupID)
	if !ok {
		return WorkflowContext{}, fmt.Errorf("missing %s group", WorkflowContextGroupID)
	}
	var wc WorkflowContext
	if f, ok := g.Field(FieldWorkflowID); ok {
		wc.WorkflowID, _ = f.StringValue()
	}
	if f, ok := g.Field(FieldWorkflowName); ok {
		wc.WorkflowName, _ = f.StringValue()
	}
	if f, ok := g.Field(FieldWorkflowEnabled); ok {
		wc.Enabled, _ = f.BoolValue()
	}
	if f, ok := g.Field(FieldUserID); ok {
		wc.UserID, _ = f.StringValue()
	}
	if wc.WorkflowID == "" || wc.UserID == "" {
		return wc, fmt.Errorf("incomplete %s group", WorkflowContextGroupID)
	}
	return wc, nil
}
