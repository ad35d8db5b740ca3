package registry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/samber/lo"
)

// Registry is the in-memory catalog of services and the events they offer.
// It is built at startup and read by the monitor and the HTTP handlers.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	services map[string]*Service
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		services: make(map[string]*Service),
	}
}

// AddService stores a deep copy of svc.
func (r *Registry) AddService(svc Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[svc.ID]; exists {
		return &DuplicateServiceError{ID: svc.ID}
	}
	cloned := cloneService(svc)
	r.services[svc.ID] = &cloned
	r.order = append(r.order, svc.ID)
	return nil
}

// RemoveServiceByID deletes a service and all of its events.
func (r *Registry) RemoveServiceByID(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[id]; !exists {
		return serviceNotFound(id)
	}
	delete(r.services, id)
	r.order = lo.Without(r.order, id)
	return nil
}

// GetServiceByID returns a copy of the service, if registered.
func (r *Registry) GetServiceByID(id string) (Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	svc, ok := r.services[id]
	if !ok {
		return Service{}, false
	}
	return cloneService(*svc), true
}

// GetAllServices returns a snapshot of every service in registration order.
func (r *Registry) GetAllServices() []Service {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Service, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, cloneService(*r.services[id]))
	}
	return out
}

// ServiceUpdate carries the fields to overwrite; nil fields are left untouched.
type ServiceUpdate struct {
	Name          *string
	Description   *string
	LoginRequired *bool
	Image         *string
	Auth          *AuthInfo
}

// UpdateService merges update into the stored service.
func (r *Registry) UpdateService(id string, update ServiceUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	svc, ok := r.services[id]
	if !ok {
		return serviceNotFound(id)
	}
	if update.Name != nil {
		svc.Name = *update.Name
	}
	if update.Description != nil {
		svc.Description = *update.Description
	}
	if update.LoginRequired != nil {
		svc.LoginRequired = *update.LoginRequired
	}
	if update.Image != nil {
		svc.Image = *update.Image
	}
	if update.Auth != nil {
		auth := *update.Auth
		svc.Auth = &auth
	}
	return nil
}

// AddEventToService registers event under serviceID. Field-group templates are
// copied; missing Check/Execute functions are replaced by logging stubs.
func (r *Registry) AddEventToService(serviceID string, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	svc, ok := r.services[serviceID]
	if !ok {
		return serviceNotFound(serviceID)
	}
	if lo.ContainsBy(svc.Events, func(e Event) bool { return e.IDNode == event.IDNode }) {
		return &DuplicateEventError{ServiceID: serviceID, EventID: event.IDNode}
	}

	cloned := cloneEvent(event)
	if cloned.Execute == nil {
		name, typ := event.Name, event.Type
		cloned.Execute = func(context.Context, []FieldGroup) (any, error) {
			slog.Warn("Execute called on event without executor", "event", name, "type", typ)
			return nil, nil
		}
	}
	if cloned.Check == nil {
		name, typ := event.Name, event.Type
		cloned.Check = func(context.Context, []FieldGroup) (bool, error) {
			slog.Warn("Check called on event without checker", "event", name, "type", typ)
			return true, nil
		}
	}
	svc.Events = append(svc.Events, cloned)
	return nil
}

// RemoveEventFromService deletes the event with id eventID from a service.
func (r *Registry) RemoveEventFromService(serviceID, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	svc, ok := r.services[serviceID]
	if !ok {
		return serviceNotFound(serviceID)
	}
	before := len(svc.Events)
	svc.Events = lo.Filter(svc.Events, func(e Event, _ int) bool { return e.IDNode != eventID })
	if len(svc.Events) == before {
		return eventNotFound(eventID)
	}
	return nil
}

// GetEventByIDInService looks up one event of a service.
func (r *Registry) GetEventByIDInService(serviceID, eventID string) (Event, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	svc, ok := r.services[serviceID]
	if !ok {
		return Event{}, false
	}
	return FindEvent(svc.Events, eventID)
}

// GetAllEventByTypeInService lists the events of a service with the given type.
func (r *Registry) GetAllEventByTypeInService(serviceID string, typ EventType) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	svc, ok := r.services[serviceID]
	if !ok {
		return nil
	}
	matching := lo.Filter(svc.Events, func(e Event, _ int) bool { return e.Type == typ })
	return lo.Map(matching, func(e Event, _ int) Event { return cloneEvent(e) })
}

// NodeTemplate builds an empty node for an event, used by workflow editors.
func (r *Registry) NodeTemplate(serviceID, eventID string) (NodeTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	svc, ok := r.services[serviceID]
	if !ok {
		return NodeTemplate{}, serviceNotFound(serviceID)
	}
	event, ok := FindEvent(svc.Events, eventID)
	if !ok {
		return NodeTemplate{}, eventNotFound(eventID)
	}
	return NodeTemplate{
		ID:          "node-" + event.IDNode,
		IDNode:      event.IDNode,
		Type:        event.Type,
		Name:        event.Name,
		Description: event.Description,
		ServiceName: svc.ID,
		FieldGroups: cloneFieldGroups(event.FieldGroupTemplates),
		Children:    []any{},
	}, nil
}

// FindService returns the service with the given id from a snapshot.
func FindService(services []Service, id string) (Service, bool) {
	return lo.Find(services, func(s Service) bool { return s.ID == id })
}

// FindEvent returns the event with the given idNode from a list.
func FindEvent(events []Event, idNode string) (Event, bool) {
	return lo.Find(events, func(e Event) bool { return e.IDNode == idNode })
}

func cloneService(svc Service) Service {
	out := svc
	if svc.Auth != nil {
		auth := *svc.Auth
		out.Auth = &auth
	}
	out.Events = make([]Event, len(svc.Events))
	for i, e := range svc.Events {
		out.Events[i] = cloneEvent(e)
	}
	return out
}

func cloneEvent(e Event) Event {
	out := e
	out.FieldGroupTemplates = cloneFieldGroups(e.FieldGroupTemplates)
	return out
}

func cloneFieldGroups(groups []FieldGroup) []FieldGroup {
	if groups == nil {
		return nil
	}
	out := make([]FieldGroup, len(groups))
	for i, g := range groups {
		out[i] = g
		out[i].Fields = make([]Field, len(g.Fields))
		for j, f := range g.Fields {
			out[i].Fields[j] = f
			if f.Options != nil {
				out[i].Fields[j].Options = append([]FieldOption(nil), f.Options...)
			}
		}
	}
	return out
}
