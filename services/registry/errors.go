package registry

import "fmt"

// DuplicateServiceError is returned when a service id is registered twice.
type DuplicateServiceError struct {
	ID string
}

func (e *DuplicateServiceError) Error() string {
	return fmt.Sprintf("service %q already exists", e.ID)
}

// DuplicateEventError is returned when an event id is registered twice in a service.
type DuplicateEventError struct {
	ServiceID string
	EventID   string
}

func (e *DuplicateEventError) Error() string {
	return fmt.Sprintf("event %q already exists in service %q", e.EventID, e.ServiceID)
}

// NotFoundError is returned when a service or event does not exist.
type NotFoundError struct {
	Kind string // "service" or "event"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func serviceNotFound(id string) error { return &NotFoundError{Kind: "service", ID: id} }
func eventNotFound(id string) error   { return &NotFoundError{Kind: "event", ID: id} }
