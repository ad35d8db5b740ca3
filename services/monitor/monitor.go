package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/samber/lo"

	"linkit/services/registry"
	"linkit/services/workflow"
)

// Store is the read side of workflow persistence the monitor depends on.
type Store interface {
	// ListEnabledWorkflows returns enabled workflows with their root nodes only.
	ListEnabledWorkflows(ctx context.Context) ([]workflow.Workflow, error)
	// FindEnabledWorkflow returns nil, nil when the workflow is absent or disabled.
	FindEnabledWorkflow(ctx context.Context, id string) (*workflow.Workflow, error)
	ListChildNodes(ctx context.Context, workflowID, parentNodeID string) ([]workflow.Node, error)
}

// HistoryRecorder persists the outcome of each cascade.
type HistoryRecorder interface {
	RecordExecution(ctx context.Context, entry workflow.HistoryEntry) error
}

const (
	DefaultScanInterval = 30 * time.Second
	DefaultPollInterval = 10 * time.Second
	DefaultConcurrency  = 8
)

// Option configures a Monitor.
type Option func(*Monitor)

func WithHistory(h HistoryRecorder) Option {
	return func(m *Monitor) { m.history = h }
}

func WithMetrics(metrics *Metrics) Option {
	return func(m *Monitor) { m.metrics = metrics }
}

func WithScanInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.scanInterval = d
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithConcurrency bounds how many sibling reactions execute at once.
func WithConcurrency(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// Monitor discovers enabled workflows, polls their triggers and cascades
// through dependent reactions when a trigger fires.
type Monitor struct {
	store     Store
	scheduler Scheduler
	history   HistoryRecorder
	metrics   *Metrics

	scanInterval time.Duration
	pollInterval time.Duration
	concurrency  int

	mu      sync.Mutex
	handled map[string]struct{}
	loops   map[string][]func()
}

// New creates a Monitor. Without WithMetrics the collectors are created but
// not registered anywhere.
func New(store Store, scheduler Scheduler, opts ...Option) *Monitor {
	m := &Monitor{
		store:        store,
		scheduler:    scheduler,
		scanInterval: DefaultScanInterval,
		pollInterval: DefaultPollInterval,
		concurrency:  DefaultConcurrency,
		handled:      make(map[string]struct{}),
		loops:        make(map[string][]func()),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = NewMetrics(nil)
	}
	return m
}

// Run scans once, then rescans every scan interval until ctx is done.
// Every polling loop is stopped before Run returns.
func (m *Monitor) Run(ctx context.Context, services []registry.Service) error {
	m.Scan(ctx, services)

	cancel, err := m.scheduler.Every("workflow-scan", m.scanInterval, func() {
		m.Scan(ctx, services)
	})
	if err != nil {
		return fmt.Errorf("schedule workflow scan: %w", err)
	}
	slog.Info("Monitoring workflows", "scan_interval", m.scanInterval, "poll_interval", m.pollInterval)

	<-ctx.Done()
	cancel()
	m.Stop()
	return nil
}

// Scan starts polling loops for enabled workflows that are not handled yet and
// stops the loops of handled workflows that are no longer enabled. It returns
// the number of newly handled workflows.
func (m *Monitor) Scan(ctx context.Context, services []registry.Service) int {
	m.metrics.Scans.Inc()

	workflows, err := m.store.ListEnabledWorkflows(ctx)
	if err != nil {
		m.metrics.ScanErrors.Inc()
		slog.Error("Error while processing workflows", "error", err)
		return 0
	}

	m.reconcile(workflows)

	fresh := lo.Filter(workflows, func(wf workflow.Workflow, _ int) bool {
		return !m.isHandled(wf.ID)
	})
	if len(fresh) == 0 {
		return 0
	}
	slog.Info("Found new workflows to handle", "count", len(fresh))

	for _, wf := range fresh {
		for _, node := range wf.Triggers {
			if node.Type != registry.Action {
				continue
			}
			m.startTrigger(ctx, node, services, wf.ID)
		}
		m.markHandled(wf.ID)
	}
	return len(fresh)
}

func (m *Monitor) startTrigger(ctx context.Context, node workflow.Node, services []registry.Service, workflowID string) {
	log := slog.With("workflow_id", workflowID, "node_id", node.ID, "service", node.ServiceName, "event", node.IDNode)

	svc, ok := registry.FindService(services, node.ServiceName)
	if !ok {
		log.Warn("No service found for trigger node")
		return
	}
	event, ok := registry.FindEvent(svc.Events, node.IDNode)
	if !ok {
		log.Warn("No matching event found for trigger node")
		return
	}
	if err := m.StartMonitoring(ctx, event, node, m.pollInterval, services, workflowID); err != nil {
		log.Error("Failed to start monitoring", "error", err)
	}
}

// StartMonitoring schedules a polling loop that checks event every interval
// and cascades into the node's reactions when it fires.
func (m *Monitor) StartMonitoring(ctx context.Context, event registry.Event, node workflow.Node, interval time.Duration, services []registry.Service, workflowID string) error {
	if interval <= 0 {
		interval = m.pollInterval
	}

	name := fmt.Sprintf("poll:%s:%s", workflowID, node.ID)
	cancel, err := m.scheduler.Every(name, interval, func() {
		m.tick(ctx, event, node, services, workflowID)
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.loops[workflowID] = append(m.loops[workflowID], cancel)
	m.mu.Unlock()
	m.metrics.ActiveLoops.Inc()
	return nil
}

// tick runs one poll of a trigger. Nothing here stops the loop.
func (m *Monitor) tick(ctx context.Context, event registry.Event, started workflow.Node, services []registry.Service, workflowID string) {
	if ctx.Err() != nil {
		return
	}
	log := slog.With("workflow_id", workflowID, "node_id", started.ID, "service", started.ServiceName, "event", started.IDNode)

	wf, err := m.store.FindEnabledWorkflow(ctx, workflowID)
	if err != nil {
		log.Error("Failed to resolve workflow", "error", err)
		return
	}
	if wf == nil {
		log.Warn("Workflow not found or disabled, skipping tick")
		return
	}

	node, ok := findRoot(wf.Triggers, started)
	if !ok {
		log.Warn("Trigger node no longer present, skipping tick")
		return
	}

	fired, err := check(ctx, event, workflow.Parameters(node, wf))
	if err != nil {
		m.metrics.Checks.WithLabelValues(node.ServiceName, node.IDNode, "error").Inc()
		log.Error("Trigger check failed", "error", err)
		return
	}
	m.metrics.Checks.WithLabelValues(node.ServiceName, node.IDNode, strconv.FormatBool(fired)).Inc()
	if !fired {
		return
	}

	log.Info("Trigger fired, executing dependent nodes")
	err = m.ExecuteDependentNodes(ctx, node.ID, workflowID, services)
	m.record(ctx, workflowID, err)
}

// findRoot locates the current version of a root node, by persisted id first
// and then by event id.
func findRoot(roots []workflow.Node, started workflow.Node) (workflow.Node, bool) {
	if n, ok := lo.Find(roots, func(n workflow.Node) bool { return started.ID != "" && n.ID == started.ID }); ok {
		return n, true
	}
	return lo.Find(roots, func(n workflow.Node) bool {
		return n.Type == registry.Action && n.IDNode == started.IDNode
	})
}

func check(ctx context.Context, event registry.Event, params []registry.FieldGroup) (fired bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			fired, err = false, fmt.Errorf("check panicked: %v", r)
		}
	}()
	if event.Check == nil {
		return false, fmt.Errorf("event %s has no check", event.IDNode)
	}
	return event.Check(ctx, params)
}

// Stop cancels every polling loop and forgets all handled workflows.
func (m *Monitor) Stop() {
	m.mu.Lock()
	var cancels []func()
	for id := range m.loops {
		cancels = append(cancels, m.detachLocked(id)...)
	}
	clear(m.handled)
	m.mu.Unlock()

	m.cancel(cancels)
}

// Handled returns the ids of handled workflows, sorted.
func (m *Monitor) Handled() []string {
	m.mu.Lock()
	ids := lo.Keys(m.handled)
	m.mu.Unlock()
	slices.Sort(ids)
	return ids
}

func (m *Monitor) isHandled(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handled[id]
	return ok
}

func (m *Monitor) markHandled(id string) {
	m.mu.Lock()
	m.handled[id] = struct{}{}
	m.mu.Unlock()
}

// reconcile drops handled workflows that are missing from the enabled set so
// they are picked up again if re-enabled.
func (m *Monitor) reconcile(enabled []workflow.Workflow) {
	active := lo.Associate(enabled, func(wf workflow.Workflow) (string, struct{}) {
		return wf.ID, struct{}{}
	})

	m.mu.Lock()
	var cancels []func()
	for id := range m.handled {
		if _, ok := active[id]; ok {
			continue
		}
		slog.Info("Workflow no longer enabled, stopping its loops", "workflow_id", id)
		cancels = append(cancels, m.detachLocked(id)...)
		delete(m.handled, id)
	}
	m.mu.Unlock()

	m.cancel(cancels)
}

// detachLocked removes the loops of a workflow from the table and returns
// their cancel funcs. The caller must hold m.mu.
func (m *Monitor) detachLocked(workflowID string) []func() {
	cancels := m.loops[workflowID]
	delete(m.loops, workflowID)
	return cancels
}

func (m *Monitor) cancel(cancels []func()) {
	for _, cancel := range cancels {
		cancel()
		m.metrics.ActiveLoops.Dec()
	}
}
