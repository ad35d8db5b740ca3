package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkit/services/registry"
)

func ptr[T any](v T) *T { return &v }

func TestMaterialize_NoFieldGroups(t *testing.T) {
	g := Materialize(Node{IDNode: "dateReached"})

	assert.Equal(t, "default", g.ID)
	assert.Equal(t, "Default", g.Name)
	assert.Equal(t, "Default Field Group", g.Description)
	assert.Equal(t, "default", g.Type)
	assert.NotNil(t, g.Fields)
	assert.Empty(t, g.Fields)
}

func TestMaterialize_DefaultsEveryMissingAttribute(t *testing.T) {
	node := Node{FieldGroups: []StoredFieldGroup{{
		Fields: []StoredField{{Value: "x"}},
	}}}

	g := Materialize(node)

	assert.Equal(t, "default_id", g.ID)
	assert.Equal(t, "Unnamed", g.Name)
	assert.Equal(t, "No description", g.Description)
	assert.Equal(t, "default", g.Type)
	require.Len(t, g.Fields, 1)

	f := g.Fields[0]
	assert.Equal(t, "default_id", f.ID)
	assert.Equal(t, registry.FieldString, f.Type)
	assert.Equal(t, "No description", f.Description)
	assert.Equal(t, "x", f.Value)
	assert.False(t, f.Required)
	assert.NotNil(t, f.Options)
	assert.Empty(t, f.Options)
}

func TestMaterialize_KeepsStoredAttributes(t *testing.T) {
	number := registry.FieldNumber
	node := Node{FieldGroups: []StoredFieldGroup{{
		ID:          ptr("locationDetails"),
		Name:        ptr("Location"),
		Description: ptr("Where to look"),
		Type:        ptr("group"),
		Fields: []StoredField{{
			ID:       ptr("latitude"),
			Type:     &number,
			Required: ptr(true),
			Value:    48.85,
			Options:  []registry.FieldOption{{Label: "Paris", Value: 48.85}},
		}},
	}}}

	g := Materialize(node)

	assert.Equal(t, "locationDetails", g.ID)
	assert.Equal(t, "Location", g.Name)
	assert.Equal(t, "Where to look", g.Description)
	assert.Equal(t, "group", g.Type)
	require.Len(t, g.Fields, 1)
	assert.Equal(t, registry.FieldNumber, g.Fields[0].Type)
	assert.True(t, g.Fields[0].Required)
	assert.Equal(t, 48.85, g.Fields[0].Value)
	assert.Len(t, g.Fields[0].Options, 1)
}

func TestMaterialize_OnlyFirstGroupIsUsed(t *testing.T) {
	node := Node{FieldGroups: []StoredFieldGroup{
		{ID: ptr("first"), Fields: []StoredField{}},
		{ID: ptr("second"), Fields: []StoredField{{ID: ptr("ignored")}}},
	}}

	g := Materialize(node)

	assert.Equal(t, "first", g.ID)
	assert.Empty(t, g.Fields)
}

func TestMaterialize_NilValuePassesThrough(t *testing.T) {
	node := Node{FieldGroups: []StoredFieldGroup{{
		Fields: []StoredField{{ID: ptr("empty")}},
	}}}

	g := Materialize(node)

	require.Len(t, g.Fields, 1)
	assert.Nil(t, g.Fields[0].Value)
}

func TestMaterialize_DoesNotShareDefaultGroup(t *testing.T) {
	g := Materialize(Node{})
	g.Fields = append(g.Fields, registry.Field{ID: "leak"})

	assert.Empty(t, DefaultFieldGroup.Fields)
	assert.Empty(t, Materialize(Node{}).Fields)
}

func TestBuildWorkflowContext(t *testing.T) {
	wf := &Workflow{ID: "wf-1", Name: "Alerts", Enabled: true, UserID: "u-1"}

	g := BuildWorkflowContext(wf)

	assert.Equal(t, registry.WorkflowContextGroupID, g.ID)
	require.Len(t, g.Fields, 4)
	for _, f := range g.Fields {
		assert.True(t, f.Required, f.ID)
	}

	ctx, err := registry.ContextFrom([]registry.FieldGroup{g})
	require.NoError(t, err)
	assert.Equal(t, "wf-1", ctx.WorkflowID)
	assert.Equal(t, "Alerts", ctx.WorkflowName)
	assert.True(t, ctx.Enabled)
	assert.Equal(t, "u-1", ctx.UserID)
}

func TestBuildWorkflowContext_UnnamedWorkflow(t *testing.T) {
	g := BuildWorkflowContext(&Workflow{ID: "wf-1"})

	f, ok := g.Field(registry.FieldWorkflowName)
	require.True(t, ok)
	assert.Equal(t, "Unnamed Workflow", f.Value)
}

func TestParameters_Order(t *testing.T) {
	node := Node{FieldGroups: []StoredFieldGroup{{ID: ptr("email_info")}}}
	params := Parameters(node, &Workflow{ID: "wf-1"})

	require.Len(t, params, 2)
	assert.Equal(t, "email_info", params[0].ID)
	assert.Equal(t, registry.WorkflowContextGroupID, params[1].ID)
}
