package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"linkit/services/registry"
)

// Repository handles workflow persistence in PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository backed by the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// InitSchema creates the workflow tables if they do not exist.
func (r *Repository) InitSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS workflows (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			name        TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			image       TEXT NOT NULL DEFAULT '',
			enabled     BOOLEAN NOT NULL DEFAULT FALSE,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS nodes (
			seq            BIGSERIAL,
			id             TEXT PRIMARY KEY,
			workflow_id    TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
			parent_node_id TEXT REFERENCES nodes(id) ON DELETE CASCADE,
			id_node        TEXT NOT NULL,
			type           TEXT NOT NULL,
			name           TEXT NOT NULL DEFAULT '',
			service_name   TEXT NOT NULL,
			field_groups   JSONB NOT NULL DEFAULT '[]',
			conditions     JSONB,
			variables      JSONB
		);
		CREATE INDEX IF NOT EXISTS nodes_workflow_parent_idx ON nodes (workflow_id, parent_node_id);
		CREATE TABLE IF NOT EXISTS workflow_history (
			id             TEXT PRIMARY KEY,
			workflow_id    TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
			execution_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			status         TEXT NOT NULL,
			detail         TEXT NOT NULL DEFAULT ''
		)
	`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Get retrieves a workflow by ID with its complete node tree. Returns nil, nil if not found.
func (r *Repository) Get(ctx context.Context, id string) (*Workflow, error) {
	wf, err := r.getWorkflow(ctx, id, false)
	if err != nil || wf == nil {
		return wf, err
	}

	nodes, err := r.queryNodes(ctx, `WHERE workflow_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get workflow nodes: %w", err)
	}
	wf.Triggers = buildTree(nodes)
	return wf, nil
}

// ListEnabledWorkflows returns every enabled workflow with its root nodes.
func (r *Repository) ListEnabledWorkflows(ctx context.Context) ([]Workflow, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, name, description, image, enabled, created_at, updated_at
		FROM workflows WHERE enabled = TRUE ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list enabled workflows: %w", err)
	}
	workflows, err := pgx.CollectRows(rows, scanWorkflow)
	if err != nil {
		return nil, fmt.Errorf("scan workflows: %w", err)
	}
	if len(workflows) == 0 {
		return workflows, nil
	}

	ids := make([]string, len(workflows))
	for i, wf := range workflows {
		ids[i] = wf.ID
	}
	roots, err := r.queryNodes(ctx, `WHERE parent_node_id IS NULL AND workflow_id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("list root nodes: %w", err)
	}

	byWorkflow := make(map[string][]Node, len(workflows))
	for _, n := range roots {
		byWorkflow[n.workflowID] = append(byWorkflow[n.workflowID], n.Node)
	}
	for i := range workflows {
		workflows[i].Triggers = byWorkflow[workflows[i].ID]
	}
	return workflows, nil
}

// FindEnabledWorkflow returns an enabled workflow with its root nodes.
// Returns nil, nil if the workflow does not exist or is disabled.
func (r *Repository) FindEnabledWorkflow(ctx context.Context, id string) (*Workflow, error) {
	wf, err := r.getWorkflow(ctx, id, true)
	if err != nil || wf == nil {
		return wf, err
	}

	roots, err := r.queryNodes(ctx, `WHERE parent_node_id IS NULL AND workflow_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("find root nodes: %w", err)
	}
	for _, n := range roots {
		wf.Triggers = append(wf.Triggers, n.Node)
	}
	return wf, nil
}

// ListChildNodes returns the direct children of a node.
func (r *Repository) ListChildNodes(ctx context.Context, workflowID, parentNodeID string) ([]Node, error) {
	rows, err := r.queryNodes(ctx, `WHERE workflow_id = $1 AND parent_node_id = $2`, workflowID, parentNodeID)
	if err != nil {
		return nil, fmt.Errorf("list child nodes: %w", err)
	}
	nodes := make([]Node, len(rows))
	for i, n := range rows {
		nodes[i] = n.Node
	}
	return nodes, nil
}

// Create inserts a workflow and its whole trigger tree in one transaction.
// Missing workflow and node IDs are generated.
func (r *Repository) Create(ctx context.Context, wf *Workflow) error {
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create workflow: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO workflows (id, user_id, name, description, image, enabled)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, wf.ID, wf.UserID, wf.Name, wf.Description, wf.Image, wf.Enabled)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}

	for i := range wf.Triggers {
		if err := insertNode(ctx, tx, wf.ID, nil, &wf.Triggers[i]); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func insertNode(ctx context.Context, tx pgx.Tx, workflowID string, parentID *string, node *Node) error {
	if node.ID == "" {
		node.ID = uuid.NewString()
	}
	node.ParentNodeID = parentID

	groups, err := json.Marshal(node.FieldGroups)
	if err != nil {
		return fmt.Errorf("marshal field groups: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO nodes (id, workflow_id, parent_node_id, id_node, type, name, service_name, field_groups, conditions, variables)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`, node.ID, workflowID, parentID, node.IDNode, string(node.Type), node.Name, node.ServiceName,
		groups, nullableJSON(node.Conditions), nullableJSON(node.Variables))
	if err != nil {
		return fmt.Errorf("insert node %s: %w", node.IDNode, err)
	}

	for i := range node.Children {
		if err := insertNode(ctx, tx, workflowID, &node.ID, &node.Children[i]); err != nil {
			return err
		}
	}
	return nil
}

// RecordExecution appends a history entry for a workflow run.
func (r *Repository) RecordExecution(ctx context.Context, entry HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO workflow_history (id, workflow_id, execution_date, status, detail)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.ID, entry.WorkflowID, entry.ExecutionDate, entry.Status, entry.Detail)
	if err != nil {
		return fmt.Errorf("record execution: %w", err)
	}
	return nil
}

// ListHistory returns the executions of a workflow, newest first.
func (r *Repository) ListHistory(ctx context.Context, workflowID string) ([]HistoryEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, workflow_id, execution_date, status, detail
		FROM workflow_history WHERE workflow_id = $1
		ORDER BY execution_date DESC
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (HistoryEntry, error) {
		var e HistoryEntry
		err := row.Scan(&e.ID, &e.WorkflowID, &e.ExecutionDate, &e.Status, &e.Detail)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}
	return entries, nil
}

func (r *Repository) getWorkflow(ctx context.Context, id string, enabledOnly bool) (*Workflow, error) {
	query := `
		SELECT id, user_id, name, description, image, enabled, created_at, updated_at
		FROM workflows WHERE id = $1`
	if enabledOnly {
		query += ` AND enabled = TRUE`
	}

	rows, err := r.db.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	wf, err := pgx.CollectOneRow(rows, scanWorkflow)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return &wf, nil
}

func scanWorkflow(row pgx.CollectableRow) (Workflow, error) {
	var wf Workflow
	err := row.Scan(&wf.ID, &wf.UserID, &wf.Name, &wf.Description, &wf.Image, &wf.Enabled, &wf.CreatedAt, &wf.UpdatedAt)
	return wf, err
}

// storedNode is a Node plus the owning workflow, as read from a row.
type storedNode struct {
	Node
	workflowID string
}

func (r *Repository) queryNodes(ctx context.Context, where string, args ...any) ([]storedNode, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, workflow_id, parent_node_id, id_node, type, name, service_name, field_groups, conditions, variables
		FROM nodes `+where+` ORDER BY seq`, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanNode)
}

func scanNode(row pgx.CollectableRow) (storedNode, error) {
	var (
		n                  storedNode
		typ                string
		groupsJSON         []byte
		condJSON, varsJSON []byte
	)
	err := row.Scan(&n.ID, &n.workflowID, &n.ParentNodeID, &n.IDNode, &typ, &n.Name, &n.ServiceName,
		&groupsJSON, &condJSON, &varsJSON)
	if err != nil {
		return n, err
	}
	n.Type = registry.EventType(typ)
	n.Conditions = condJSON
	n.Variables = varsJSON
	n.FieldGroups = nodeFieldGroups(n.ID, groupsJSON)
	return n, nil
}

// nodeFieldGroups decodes the groups of one node. Malformed JSON is logged and
// yields no groups, so one bad row never hides the rest of the workflows.
func nodeFieldGroups(nodeID string, data []byte) []StoredFieldGroup {
	groups, err := decodeFieldGroups(data)
	if err != nil {
		slog.Error("Ignoring malformed field groups", "node_id", nodeID, "error", err)
		return nil
	}
	return groups
}

// decodeFieldGroups parses persisted field groups and drops fields that fail
// validation, so downstream code only sees known field types.
func decodeFieldGroups(data []byte) ([]StoredFieldGroup, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var groups []StoredFieldGroup
	if err := json.Unmarshal(data, &groups); err != nil {
		return nil, fmt.Errorf("unmarshal field groups: %w", err)
	}
	for i := range groups {
		valid := groups[i].Fields[:0]
		for _, f := range groups[i].Fields {
			if err := f.Validate(); err != nil {
				slog.Warn("Dropping invalid stored field", "error", err)
				continue
			}
			valid = append(valid, f)
		}
		groups[i].Fields = valid
	}
	return groups, nil
}

// buildTree links flat nodes into parent/child trees and returns the roots,
// preserving the input order among siblings.
func buildTree(nodes []storedNode) []Node {
	children := make(map[string][]int)
	var roots []int
	for i, n := range nodes {
		if n.ParentNodeID == nil {
			roots = append(roots, i)
			continue
		}
		children[*n.ParentNodeID] = append(children[*n.ParentNodeID], i)
	}

	var build func(i int) Node
	build = func(i int) Node {
		node := nodes[i].Node
		node.Children = make([]Node, 0, len(children[node.ID]))
		for _, c := range children[node.ID] {
			node.Children = append(node.Children, build(c))
		}
		return node
	}

	out := make([]Node, 0, len(roots))
	for _, i := range roots {
		out = append(out, build(i))
	}
	return out
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
