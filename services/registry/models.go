package registry

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// EventType distinguishes triggers from effects.
type EventType string

const (
	Action   EventType = "action"
	Reaction EventType = "reaction"
)

// FieldType is the declared input kind of a Field.
type FieldType string

const (
	FieldString   FieldType = "string"
	FieldNumber   FieldType = "number"
	FieldBoolean  FieldType = "boolean"
	FieldSelect   FieldType = "select"
	FieldDate     FieldType = "date"
	FieldCheckbox FieldType = "checkbox"
	FieldColor    FieldType = "color"
)

// Valid reports whether t is one of the known field types.
func (t FieldType) Valid() bool {
	switch t {
	case FieldString, FieldNumber, FieldBoolean, FieldSelect, FieldDate, FieldCheckbox, FieldColor:
		return true
	default:
		return false
	}
}

// CheckFunc polls external state and reports whether the trigger fired.
type CheckFunc func(ctx context.Context, params []FieldGroup) (bool, error)

// ExecuteFunc performs the side effect of a reaction.
type ExecuteFunc func(ctx context.Context, params []FieldGroup) (any, error)

// Service is a third-party integration grouping related events.
type Service struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	LoginRequired bool      `json:"loginRequired"`
	Image         string    `json:"image,omitempty"`
	Events        []Event   `json:"events"`
	Auth          *AuthInfo `json:"auth,omitempty"`
}

// AuthInfo points to the OAuth endpoints of a service.
type AuthInfo struct {
	URI         string `json:"uri"`
	CallbackURI string `json:"callbackUri"`
}

// Event is a trigger or reaction definition offered by a service.
type Event struct {
	Type                EventType    `json:"type"`
	IDNode              string       `json:"idNode"`
	Name                string       `json:"name"`
	Description         string       `json:"description"`
	ServiceName         string       `json:"serviceName"`
	FieldGroupTemplates []FieldGroup `json:"fieldGroups"`
	Check               CheckFunc    `json:"-"`
	Execute             ExecuteFunc  `json:"-"`
}

// FieldGroup is a named cluster of configuration inputs.
type FieldGroup struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Type        string  `json:"type"`
	Fields      []Field `json:"fields"`
}

// Field is a single configuration input with its current value.
type Field struct {
	ID          string        `json:"id"`
	Type        FieldType     `json:"type"`
	Description string        `json:"description"`
	Value       any           `json:"value,omitempty"`
	Required    bool          `json:"required"`
	Options     []FieldOption `json:"options"`
}

// FieldOption is one selectable value of a select field.
type FieldOption struct {
	Label string `json:"label"`
	Value any    `json:"value"`
}

// Field returns the field with the given id.
func (g FieldGroup) Field(id string) (Field, bool) {
	for _, f := range g.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

// StringValue returns the value as a string. Numbers and booleans are formatted.
func (f Field) StringValue() (string, bool) {
	if f.Value == nil {
		return "", false
	}
	switch f.Type {
	case FieldNumber:
		n, ok := f.FloatValue()
		if !ok {
			return "", false
		}
		return strconv.FormatFloat(n, 'f', -1, 64), true
	case FieldBoolean, FieldCheckbox:
		b, ok := f.BoolValue()
		if !ok {
			return "", false
		}
		return strconv.FormatBool(b), true
	case FieldString, FieldSelect, FieldDate, FieldColor:
		s, ok := f.Value.(string)
		return s, ok
	default:
		return fmt.Sprint(f.Value), true
	}
}

// FloatValue returns the value as a float64, parsing strings when needed.
func (f Field) FloatValue() (float64, bool) {
	switch n := f.Value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		v, err := strconv.ParseFloat(n, 64)
		return v, err == nil
	default:
		return 0, false
	}
}

// BoolValue returns the value as a bool, parsing strings when needed.
func (f Field) BoolValue() (bool, bool) {
	switch b := f.Value.(type) {
	case bool:
		return b, true
	case string:
		v, err := strconv.ParseBool(b)
		return v, err == nil
	default:
		return false, false
	}
}

// TimeValue parses the value as an RFC 3339 timestamp.
func (f Field) TimeValue() (time.Time, bool) {
	s, ok := f.Value.(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// NodeTemplate is an empty node skeleton built from an event definition.
type NodeTemplate struct {
	ID          string       `json:"id"`
	IDNode      string       `json:"idNode"`
	Type        EventType    `json:"type"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	ServiceName string       `json:"serviceName"`
	FieldGroups []FieldGroup `json:"fieldGroups"`
	Children    []any        `json:"children"`
}
