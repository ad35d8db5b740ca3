package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testService() Service {
	return Service{
		ID:            "discord",
		Name:          "Discord",
		Description:   "Messaging service for teams",
		LoginRequired: true,
		Auth:          &AuthInfo{URI: "/auth/discord", CallbackURI: "/auth/discord/callback"},
	}
}

func sendMessageEvent() Event {
	return Event{
		Type:        Reaction,
		IDNode:      "sendMessage",
		Name:        "Send Message",
		ServiceName: "discord",
		FieldGroupTemplates: []FieldGroup{
			{
				ID:   "messageDetails",
				Name: "Message Details",
				Fields: []Field{
					{ID: "channelId", Type: FieldString, Required: true},
					{ID: "message", Type: FieldString, Required: true},
				},
			},
		},
		Execute: func(context.Context, []FieldGroup) (any, error) { return "sent", nil },
	}
}

func TestRegistry_AddService(t *testing.T) {
	reg := New()

	require.NoError(t, reg.AddService(testService()))

	svc, ok := reg.GetServiceByID("discord")
	require.True(t, ok)
	assert.Equal(t, "Discord", svc.Name)
	assert.Equal(t, "/auth/discord", svc.Auth.URI)
}

func TestRegistry_AddService_Duplicate(t *testing.T) {
	reg := New()
	require.NoError(t, reg.AddService(testService()))
	before := reg.GetAllServices()

	dup := testService()
	dup.Name = "Other"
	err := reg.AddService(dup)

	var dupErr *DuplicateServiceError
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, "discord", dupErr.ID)
	assert.Equal(t, before, reg.GetAllServices())
}

func TestRegistry_AddService_DoesNotAliasCaller(t *testing.T) {
	reg := New()
	svc := testService()
	require.NoError(t, reg.AddService(svc))

	svc.Auth.URI = "/mutated"

	stored, _ := reg.GetServiceByID("discord")
	assert.Equal(t, "/auth/discord", stored.Auth.URI)
}

func TestRegistry_RemoveServiceByID(t *testing.T) {
	reg := New()
	require.NoError(t, reg.AddService(testService()))

	require.NoError(t, reg.RemoveServiceByID("discord"))
	_, ok := reg.GetServiceByID("discord")
	assert.False(t, ok)

	var nf *NotFoundError
	require.ErrorAs(t, reg.RemoveServiceByID("discord"), &nf)
	assert.Equal(t, "service", nf.Kind)
}

func TestRegistry_GetAllServices_InsertionOrder(t *testing.T) {
	reg := New()
	for _, id := range []string{"timer", "discord", "twitch", "outlook"} {
		require.NoError(t, reg.AddService(Service{ID: id}))
	}
	require.NoError(t, reg.RemoveServiceByID("twitch"))

	var ids []string
	for _, s := range reg.GetAllServices() {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"timer", "discord", "outlook"}, ids)
}

func TestRegistry_UpdateService(t *testing.T) {
	reg := New()
	require.NoError(t, reg.AddService(testService()))

	name := "Discord Bot"
	require.NoError(t, reg.UpdateService("discord", ServiceUpdate{Name: &name}))

	svc, _ := reg.GetServiceByID("discord")
	assert.Equal(t, "Discord Bot", svc.Name)
	assert.Equal(t, "Messaging service for teams", svc.Description)
	assert.True(t, svc.LoginRequired)

	var nf *NotFoundError
	assert.ErrorAs(t, reg.UpdateService("missing", ServiceUpdate{Name: &name}), &nf)
}

func TestRegistry_AddEventToService(t *testing.T) {
	reg := New()
	require.NoError(t, reg.AddService(testService()))

	event := sendMessageEvent()
	require.NoError(t, reg.AddEventToService("discord", event))

	// Mutating the caller's templates must not leak into the registry.
	event.FieldGroupTemplates[0].Fields[0].ID = "mutated"

	stored, ok := reg.GetEventByIDInService("discord", "sendMessage")
	require.True(t, ok)
	assert.Equal(t, "channelId", stored.FieldGroupTemplates[0].Fields[0].ID)

	out, err := stored.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "sent", out)
}

func TestRegistry_AddEventToService_Errors(t *testing.T) {
	reg := New()

	var nf *NotFoundError
	require.ErrorAs(t, reg.AddEventToService("discord", sendMessageEvent()), &nf)

	require.NoError(t, reg.AddService(testService()))
	require.NoError(t, reg.AddEventToService("discord", sendMessageEvent()))

	var dup *DuplicateEventError
	require.ErrorAs(t, reg.AddEventToService("discord", sendMessageEvent()), &dup)
	assert.Equal(t, "sendMessage", dup.EventID)
	assert.Equal(t, "discord", dup.ServiceID)
}

func TestRegistry_AddEventToService_InstallsStubs(t *testing.T) {
	reg := New()
	require.NoError(t, reg.AddService(testService()))
	require.NoError(t, reg.AddEventToService("discord", Event{Type: Action, IDNode: "newMessage"}))

	event, ok := reg.GetEventByIDInService("discord", "newMessage")
	require.True(t, ok)
	require.NotNil(t, event.Check)
	require.NotNil(t, event.Execute)

	fired, err := event.Check(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, fired)

	out, err := event.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestRegistry_RemoveEventFromService(t *testing.T) {
	reg := New()
	require.NoError(t, reg.AddService(testService()))
	require.NoError(t, reg.AddEventToService("discord", sendMessageEvent()))

	require.NoError(t, reg.RemoveEventFromService("discord", "sendMessage"))
	_, ok := reg.GetEventByIDInService("discord", "sendMessage")
	assert.False(t, ok)

	var nf *NotFoundError
	require.ErrorAs(t, reg.RemoveEventFromService("discord", "sendMessage"), &nf)
	assert.Equal(t, "event", nf.Kind)
	require.ErrorAs(t, reg.RemoveEventFromService("nope", "sendMessage"), &nf)
	assert.Equal(t, "service", nf.Kind)
}

func TestRegistry_GetAllEventByTypeInService(t *testing.T) {
	reg := New()
	require.NoError(t, reg.AddService(testService()))
	require.NoError(t, reg.AddEventToService("discord", sendMessageEvent()))
	require.NoError(t, reg.AddEventToService("discord", Event{Type: Action, IDNode: "newMessage"}))

	actions := reg.GetAllEventByTypeInService("discord", Action)
	require.Len(t, actions, 1)
	assert.Equal(t, "newMessage", actions[0].IDNode)

	assert.Len(t, reg.GetAllEventByTypeInService("discord", Reaction), 1)
	assert.Empty(t, reg.GetAllEventByTypeInService("missing", Action))
}

func TestRegistry_NodeTemplate(t *testing.T) {
	reg := New()
	require.NoError(t, reg.AddService(testService()))
	require.NoError(t, reg.AddEventToService("discord", sendMessageEvent()))

	tmpl, err := reg.NodeTemplate("discord", "sendMessage")
	require.NoError(t, err)
	assert.Equal(t, "node-sendMessage", tmpl.ID)
	assert.Equal(t, Reaction, tmpl.Type)
	assert.Equal(t, "discord", tmpl.ServiceName)
	assert.Len(t, tmpl.FieldGroups, 1)
	assert.Empty(t, tmpl.Children)

	_, err = reg.NodeTemplate("discord", "unknown")
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}
