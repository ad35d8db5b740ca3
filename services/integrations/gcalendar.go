package integrations

import (
	"context"
	"errors"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/samber/lo"

	"linkit/pkg/httpclient"
	"linkit/services/registry"
)

const (
	calendarGroup = "calendarDetails"
	eventGroup    = "eventDetails"
)

type calendarTime struct {
	DateTime string `json:"dateTime"`
}

type calendarEvent struct {
	ID      string       `json:"id,omitempty"`
	Summary string       `json:"summary"`
	Created string       `json:"created,omitempty"`
	Start   calendarTime `json:"start"`
	End     calendarTime `json:"end"`
}

type calendarEventList struct {
	Items []calendarEvent `json:"items"`
}

func (in *integrations) gcalendar() definition {
	calendarID := optional(field("calendarId", registry.FieldString, "Calendar ID, defaults to the primary calendar"))
	return definition{
		service: registry.Service{
			ID:            "gcalendar",
			Name:          "Google Calendar",
			Description:   "Google Calendar service",
			LoginRequired: true,
			Image:         "https://www.svgrepo.com/show/353803/google-calendar.svg",
			Auth:          authInfo("gcalendar"),
		},
		events: []registry.Event{
			{
				Type:        registry.Action,
				IDNode:      "newEvent",
				Name:        "New Event",
				Description: "Triggers when an event is added to the calendar",
				FieldGroupTemplates: []registry.FieldGroup{
					group(calendarGroup, "Calendar Details", "The calendar to watch", calendarID),
				},
				Check: in.calendarNewEvent,
			},
			{
				Type:        registry.Reaction,
				IDNode:      "createEvent",
				Name:        "Create Event",
				Description: "Create an event in the calendar",
				FieldGroupTemplates: []registry.FieldGroup{
					group(eventGroup, "Event Details", "The event to create",
						calendarID,
						field("summary", registry.FieldString, "Title of the event"),
						field("start", registry.FieldDate, "Start date and time"),
						field("end", registry.FieldDate, "End date and time"),
					),
				},
				Execute: in.calendarCreateEvent,
			},
		},
	}
}

func calendarPath(params []registry.FieldGroup, groupID string) string {
	id, ok := registry.FindString(params, groupID, "calendarId")
	if !ok || id == "" {
		id = "primary"
	}
	return "/calendars/" + id + "/events"
}

// calendarNewEvent remembers when it last looked and reports events created since.
func (in *integrations) calendarNewEvent(ctx context.Context, params []registry.FieldGroup) (bool, error) {
	client, wc, err := in.userClient(ctx, params, "gcalendar", in.urls.Google)
	if err != nil {
		return false, err
	}
	path := calendarPath(params, calendarGroup)
	key := markerKey("gcalendar", wc.WorkflowID, path)
	now := in.Now().UTC()

	prev, found := in.Cache.Get(key)
	if !found {
		in.Cache.Set(key, now, cache.NoExpiration)
		return false, nil
	}
	since := prev.(time.Time)

	var list calendarEventList
	if _, err := client.Get(path,
		httpclient.SetContext(ctx),
		httpclient.SetQueryParams(map[string]string{
			"updatedMin":  since.Format(time.RFC3339),
			"showDeleted": "false",
		}),
		httpclient.SetResult(&list),
	); err != nil {
		return false, err
	}
	in.Cache.Set(key, now, cache.NoExpiration)

	return lo.ContainsBy(list.Items, func(e calendarEvent) bool {
		created, err := time.Parse(time.RFC3339, e.Created)
		return err == nil && !created.Before(since)
	}), nil
}

func (in *integrations) calendarCreateEvent(ctx context.Context, params []registry.FieldGroup) (any, error) {
	summary, err := registry.RequireString(params, eventGroup, "summary")
	if err != nil {
		return nil, err
	}
	g, _ := registry.FindGroup(params, eventGroup)
	startField, _ := g.Field("start")
	endField, _ := g.Field("end")
	start, okStart := startField.TimeValue()
	end, okEnd := endField.TimeValue()
	if !okStart || !okEnd {
		return nil, errors.New("'start' and 'end' must be RFC 3339 timestamps")
	}
	if end.Before(start) {
		return nil, errors.New("event ends before it starts")
	}

	client, _, err := in.userClient(ctx, params, "gcalendar", in.urls.Google)
	if err != nil {
		return nil, err
	}
	var created calendarEvent
	if _, err := client.Post(calendarPath(params, eventGroup),
		httpclient.SetContext(ctx),
		httpclient.SetBody(calendarEvent{
			Summary: summary,
			Start:   calendarTime{DateTime: start.Format(time.RFC3339)},
			End:     calendarTime{DateTime: end.Format(time.RFC3339)},
		}),
		httpclient.SetResult(&created),
	); err != nil {
		return nil, err
	}
	return created, nil
}
