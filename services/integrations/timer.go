package integrations

import (
	"context"
	"errors"

	"linkit/services/registry"
)

const dateGroup = "dateDetails"

func (in *integrations) timer() definition {
	return definition{
		service: registry.Service{
			ID:          "timer",
			Name:        "Timer Service",
			Description: "Service to handle events based on time",
			Image:       "https://www.svgrepo.com/show/532140/timer.svg",
		},
		events: []registry.Event{
			{
				Type:        registry.Action,
				IDNode:      "dateReached",
				Name:        "Date Reached",
				Description: "Trigger when a specific date and time is reached",
				FieldGroupTemplates: []registry.FieldGroup{
					group(dateGroup, "Date Details", "The date to wait for",
						field("targetDate", registry.FieldDate, "The target date and time in ISO format, e.g. 2025-01-03T15:00:00Z"),
					),
				},
				Check: in.dateReached,
			},
		},
	}
}

// dateReached fires on every poll after the target date. The workflow owner
// is expected to disable the workflow once it has run.
func (in *integrations) dateReached(_ context.Context, params []registry.FieldGroup) (bool, error) {
	g, ok := registry.FindGroup(params, dateGroup)
	if !ok {
		return false, errors.New("missing dateDetails in parameters")
	}
	f, _ := g.Field("targetDate")
	target, ok := f.TimeValue()
	if !ok {
		return false, errors.New("'targetDate' must be an RFC 3339 timestamp")
	}
	return !in.Now().Before(target), nil
}
