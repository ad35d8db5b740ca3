package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"linkit/services/registry"
	"linkit/services/workflow"
)

// ExecuteDependentNodes executes every reaction below nodeID, level by level.
// Siblings run concurrently up to the configured limit and a failing branch
// never stops the others. Each node's children run after its own Execute
// returns, whatever it returned. The returned error aggregates branch failures.
func (m *Monitor) ExecuteDependentNodes(ctx context.Context, nodeID, workflowID string, services []registry.Service) error {
	wf, err := m.store.FindEnabledWorkflow(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("resolve workflow %s: %w", workflowID, err)
	}
	if wf == nil {
		slog.Warn("Workflow not found", "workflow_id", workflowID)
		return nil
	}
	return m.executeChildren(ctx, wf, nodeID, services)
}

// RunWorkflow executes the reactions of every root trigger of an enabled
// workflow without checking the triggers, and records the run.
func (m *Monitor) RunWorkflow(ctx context.Context, workflowID string, services []registry.Service) (*workflow.HistoryEntry, error) {
	return m.runRoots(ctx, workflowID, services, func(workflow.Node) bool { return true })
}

// RunTrigger is RunWorkflow restricted to the roots owned by service. Provider
// pushes use it so a webhook only fires the branches of its own trigger.
func (m *Monitor) RunTrigger(ctx context.Context, workflowID, service string, services []registry.Service) (*workflow.HistoryEntry, error) {
	return m.runRoots(ctx, workflowID, services, func(root workflow.Node) bool { return root.ServiceName == service })
}

func (m *Monitor) runRoots(ctx context.Context, workflowID string, services []registry.Service, match func(workflow.Node) bool) (*workflow.HistoryEntry, error) {
	wf, err := m.store.FindEnabledWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("resolve workflow %s: %w", workflowID, err)
	}
	if wf == nil {
		return nil, workflow.ErrNotFound
	}

	roots := lo.Filter(wf.Triggers, func(root workflow.Node, _ int) bool { return match(root) })
	slog.Info("Running workflow", "workflow_id", wf.ID, "triggers", len(roots))
	var errs *multierror.Error
	for _, root := range roots {
		if err := m.executeChildren(ctx, wf, root.ID, services); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return m.record(ctx, wf.ID, errs.ErrorOrNil()), nil
}

// Runner binds the monitor to a service list for on-demand runs.
func (m *Monitor) Runner(services []registry.Service) *Runner {
	return &Runner{monitor: m, services: services}
}

// Runner runs workflows on demand for the HTTP and webhook handlers.
type Runner struct {
	monitor  *Monitor
	services []registry.Service
}

func (r *Runner) RunWorkflow(ctx context.Context, workflowID string) (*workflow.HistoryEntry, error) {
	return r.monitor.RunWorkflow(ctx, workflowID, r.services)
}

func (r *Runner) RunTrigger(ctx context.Context, workflowID, service string) (*workflow.HistoryEntry, error) {
	return r.monitor.RunTrigger(ctx, workflowID, service, r.services)
}

func (m *Monitor) executeChildren(ctx context.Context, wf *workflow.Workflow, parentID string, services []registry.Service) error {
	children, err := m.store.ListChildNodes(ctx, wf.ID, parentID)
	if err != nil {
		return fmt.Errorf("list children of %s: %w", parentID, err)
	}
	if len(children) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		errs *multierror.Error
	)
	g := new(errgroup.Group)
	g.SetLimit(m.concurrency)
	for _, child := range children {
		child := child
		g.Go(func() error {
			if err := m.executeBranch(ctx, wf, child, services); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs.ErrorOrNil()
}

func (m *Monitor) executeBranch(ctx context.Context, wf *workflow.Workflow, node workflow.Node, services []registry.Service) error {
	log := slog.With("workflow_id", wf.ID, "node_id", node.ID, "service", node.ServiceName, "event", node.IDNode)

	svc, ok := registry.FindService(services, node.ServiceName)
	if !ok {
		m.metrics.Executions.WithLabelValues(node.ServiceName, node.IDNode, "skipped").Inc()
		log.Warn("Service not found for node")
		return nil
	}
	event, ok := registry.FindEvent(svc.Events, node.IDNode)
	if !ok {
		m.metrics.Executions.WithLabelValues(node.ServiceName, node.IDNode, "skipped").Inc()
		log.Warn("No matching event found for node")
		return nil
	}

	var errs *multierror.Error
	if err := execute(ctx, event, workflow.Parameters(node, wf)); err != nil {
		m.metrics.Executions.WithLabelValues(node.ServiceName, node.IDNode, "error").Inc()
		log.Error("Reaction failed", "error", err)
		errs = multierror.Append(errs, fmt.Errorf("%s/%s (%s): %w", node.ServiceName, node.IDNode, node.ID, err))
	} else {
		m.metrics.Executions.WithLabelValues(node.ServiceName, node.IDNode, "success").Inc()
		log.Debug("Reaction executed")
	}

	if err := m.executeChildren(ctx, wf, node.ID, services); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

func execute(ctx context.Context, event registry.Event, params []registry.FieldGroup) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("execute panicked: %v", r)
		}
	}()
	if event.Execute == nil {
		return fmt.Errorf("event %s has no execute", event.IDNode)
	}
	_, err = event.Execute(ctx, params)
	return err
}

// record stores the outcome of a cascade. A nil error is a success, branch
// failures make it partial, anything else means the cascade did not run.
func (m *Monitor) record(ctx context.Context, workflowID string, err error) *workflow.HistoryEntry {
	entry := workflow.HistoryEntry{
		ID:            uuid.NewString(),
		WorkflowID:    workflowID,
		ExecutionDate: time.Now().UTC(),
		Status:        workflow.StatusSuccess,
	}
	if err != nil {
		var merr *multierror.Error
		if errors.As(err, &merr) {
			entry.Status = workflow.StatusPartial
		} else {
			entry.Status = workflow.StatusFailed
		}
		entry.Detail = err.Error()
	}

	if m.history != nil {
		if herr := m.history.RecordExecution(ctx, entry); herr != nil {
			slog.Error("Failed to record workflow execution", "workflow_id", workflowID, "error", herr)
		}
	}
	return &entry
}
