package integrations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/samber/lo"

	"linkit/pkg/mail"
	"linkit/services/registry"
)

const (
	locationGroup  = "locationDetails"
	conditionGroup = "temperatureCondition"
	emailGroup     = "email_info"
)

func locationFields() []registry.Field {
	return []registry.Field{
		field("latitude", registry.FieldNumber, "Latitude of the location"),
		field("longitude", registry.FieldNumber, "Longitude of the location"),
	}
}

func (in *integrations) testService() definition {
	operator := field("operator", registry.FieldSelect, "How to compare the temperature with the threshold")
	operator.Options = lo.Map([]string{OpGreaterThan, OpLessThan, OpEquals, OpGreaterThanOrEqual, OpLessThanOrEqual},
		func(op string, _ int) registry.FieldOption {
			return registry.FieldOption{Label: strings.ReplaceAll(op, "_", " "), Value: op}
		})

	return definition{
		service: registry.Service{
			ID:          "testService",
			Name:        "Test Service",
			Description: "A service for testing purposes",
		},
		events: []registry.Event{
			{
				Type:                registry.Action,
				IDNode:              "checkFreezingTemperature",
				Name:                "Check Freezing Temperature",
				Description:         "Check if the temperature is below 0°C using Open-Meteo",
				FieldGroupTemplates: []registry.FieldGroup{
					group(locationGroup, "Location Details", "Details of the location to check", locationFields()...),
				},
				Check:               in.checkFreezingTemperature,
			},
			{
				Type:        registry.Action,
				IDNode:      "checkTemperature",
				Name:        "Check Temperature",
				Description: "Compare the current temperature with a threshold",
				// Only the first group of a node is materialized, so location and
				// condition share one group.
				FieldGroupTemplates: []registry.FieldGroup{
					group(conditionGroup, "Temperature Condition", "Location and condition on its temperature",
						append(locationFields(),
							operator,
							field("threshold", registry.FieldNumber, "Threshold in °C"),
						)...,
					),
				},
				Check: in.checkTemperature,
			},
			{
				Type:        registry.Reaction,
				IDNode:      "sendEmail",
				Name:        "Send Mail",
				Description: "Send an email to a list of recipients",
				FieldGroupTemplates: []registry.FieldGroup{
					group(emailGroup, "Email Information", "Details for sending the email",
						field("recipient_emails", registry.FieldString, "Comma-separated list of recipient emails"),
						field("email_subject", registry.FieldString, "Subject of the email"),
						field("email_body", registry.FieldString, "Body content of the email"),
					),
				},
				Execute: in.sendEmail,
			},
		},
	}
}

func (in *integrations) currentTemperature(ctx context.Context, params []registry.FieldGroup, groupID string) (float64, error) {
	g, ok := registry.FindGroup(params, groupID)
	if !ok {
		return 0, fmt.Errorf("missing %q in parameters", groupID)
	}
	latField, _ := g.Field("latitude")
	lonField, _ := g.Field("longitude")
	lat, okLat := latField.FloatValue()
	lon, okLon := lonField.FloatValue()
	if !okLat || !okLon {
		return 0, errors.New("'latitude' and 'longitude' are required fields")
	}

	temperature, err := in.Weather.GetTemperature(ctx, lat, lon)
	if err != nil {
		return 0, err
	}
	slog.Debug("Fetched temperature", "latitude", lat, "longitude", lon, "temperature", temperature)
	return temperature, nil
}

func (in *integrations) checkFreezingTemperature(ctx context.Context, params []registry.FieldGroup) (bool, error) {
	temperature, err := in.currentTemperature(ctx, params, locationGroup)
	if err != nil {
		return false, err
	}
	return temperature < 0, nil
}

func (in *integrations) checkTemperature(ctx context.Context, params []registry.FieldGroup) (bool, error) {
	operator, err := registry.RequireString(params, conditionGroup, "operator")
	if err != nil {
		return false, err
	}
	g, _ := registry.FindGroup(params, conditionGroup)
	f, _ := g.Field("threshold")
	threshold, ok := f.FloatValue()
	if !ok {
		return false, errors.New("'threshold' must be a number")
	}

	temperature, err := in.currentTemperature(ctx, params, conditionGroup)
	if err != nil {
		return false, err
	}
	met, err := evaluateCondition(temperature, operator, threshold)
	if err != nil {
		return false, err
	}
	slog.Debug("Evaluated temperature condition",
		"expression", fmt.Sprintf("%.1f %s %.1f", temperature, operatorSymbol(operator), threshold),
		"result", met)
	return met, nil
}

func (in *integrations) sendEmail(ctx context.Context, params []registry.FieldGroup) (any, error) {
	recipients, err := registry.RequireString(params, emailGroup, "recipient_emails")
	if err != nil {
		return nil, err
	}
	subject, err := registry.RequireString(params, emailGroup, "email_subject")
	if err != nil {
		return nil, err
	}
	body, err := registry.RequireString(params, emailGroup, "email_body")
	if err != nil {
		return nil, err
	}
	if in.Mailer == nil {
		return nil, errors.New("mail sender is not configured")
	}

	to := lo.Filter(lo.Map(strings.Split(recipients, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	}), func(s string, _ int) bool { return s != "" })

	msg := mail.Message{To: to, Subject: subject, Body: body}
	if err := in.Mailer.Send(ctx, msg); err != nil {
		return nil, err
	}
	slog.Info("Email sent", "recipients", len(to), "subject", subject)
	return msg, nil
}
