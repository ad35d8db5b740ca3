package workflow

import "linkit/services/registry"

// DefaultFieldGroup is used for nodes saved without any field group.
var DefaultFieldGroup = registry.FieldGroup{
	ID:          "default",
	Name:        "Default",
	Description: "Default Field Group",
	Type:        "default",
	Fields:      []registry.Field{},
}

// Materialize turns the first stored field group of a node into the
// parameter group an event expects, defaulting every missing attribute.
// Values are passed through as-is, including nil.
func Materialize(node Node) registry.FieldGroup {
	if len(node.FieldGroups) == 0 {
		g := DefaultFieldGroup
		g.Fields = []registry.Field{}
		return g
	}

	stored := node.FieldGroups[0]
	fields := make([]registry.Field, 0, len(stored.Fields))
	for _, f := range stored.Fields {
		fields = append(fields, materializeField(f))
	}

	return registry.FieldGroup{
		ID:          stringOr(stored.ID, "default_id"),
		Name:        stringOr(stored.Name, "Unnamed"),
		Description: stringOr(stored.Description, "No description"),
		Type:        stringOr(stored.Type, "default"),
		Fields:      fields,
	}
}

func materializeField(f StoredField) registry.Field {
	typ := registry.FieldString
	if f.Type != nil && *f.Type != "" {
		typ = *f.Type
	}
	required := false
	if f.Required != nil {
		required = *f.Required
	}
	options := []registry.FieldOption{}
	if f.Options != nil {
		options = append(options, f.Options...)
	}
	return registry.Field{
		ID:          stringOr(f.ID, "default_id"),
		Type:        typ,
		Description: stringOr(f.Description, "No description"),
		Value:       f.Value,
		Required:    required,
		Options:     options,
	}
}

// BuildWorkflowContext synthesizes the workflow_information group appended to
// every check and execute call.
func BuildWorkflowContext(wf *Workflow) registry.FieldGroup {
	name := wf.Name
	if name == "" {
		name = "Unnamed Workflow"
	}
	return registry.FieldGroup{
		ID:          registry.WorkflowContextGroupID,
		Name:        "Workflow Information",
		Description: "Information about the workflow being executed",
		Type:        "group",
		Fields: []registry.Field{
			contextField(registry.FieldWorkflowID, registry.FieldString, "ID of the workflow", wf.ID),
			contextField(registry.FieldWorkflowName, registry.FieldString, "Name of the workflow", name),
			contextField(registry.FieldWorkflowEnabled, registry.FieldBoolean, "Whether the workflow is enabled", wf.Enabled),
			contextField(registry.FieldUserID, registry.FieldString, "ID of the workflow owner", wf.UserID),
		},
	}
}

func contextField(id string, typ registry.FieldType, desc string, value any) registry.Field {
	return registry.Field{
		ID:          id,
		Type:        typ,
		Description: desc,
		Value:       value,
		Required:    true,
		Options:     []registry.FieldOption{},
	}
}

// Parameters builds the full parameter list for a node evaluation.
func Parameters(node Node, wf *Workflow) []registry.FieldGroup {
	return []registry.FieldGroup{Materialize(node), BuildWorkflowContext(wf)}
}

func stringOr(s *string, def string) string {
	if s == nil || *s == "" {
		return def
	}
	return *s
}
