package workflow

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"

	"linkit/services/registry"
)

//go:embed seed.yaml
var sampleSeed []byte

type seedFile struct {
	Workflows []seedWorkflow `yaml:"workflows"`
}

type seedWorkflow struct {
	ID          string     `yaml:"id"`
	UserID      string     `yaml:"userId"`
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Image       string     `yaml:"image"`
	Enabled     bool       `yaml:"enabled"`
	Triggers    []seedNode `yaml:"triggers"`
}

type seedNode struct {
	ID          string             `yaml:"id"`
	IDNode      string             `yaml:"idNode"`
	Type        registry.EventType `yaml:"type"`
	Name        string             `yaml:"name"`
	ServiceName string             `yaml:"serviceName"`
	FieldGroups []StoredFieldGroup `yaml:"fieldGroups"`
	Children    []seedNode         `yaml:"children"`
}

// ParseSeed decodes a YAML document of workflows.
func ParseSeed(data []byte) ([]Workflow, error) {
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}

	workflows := make([]Workflow, 0, len(file.Workflows))
	for i, sw := range file.Workflows {
		if sw.UserID == "" {
			return nil, fmt.Errorf("seed workflow %d (%q): userId is required", i, sw.Name)
		}
		wf := Workflow{
			ID:          sw.ID,
			UserID:      sw.UserID,
			Name:        sw.Name,
			Description: sw.Description,
			Image:       sw.Image,
			Enabled:     sw.Enabled,
		}
		for _, sn := range sw.Triggers {
			if sn.Type != registry.Action {
				return nil, fmt.Errorf("seed workflow %q: root node %q must be an action", sw.Name, sn.IDNode)
			}
			node, err := sn.toNode()
			if err != nil {
				return nil, fmt.Errorf("seed workflow %q: %w", sw.Name, err)
			}
			wf.Triggers = append(wf.Triggers, node)
		}
		workflows = append(workflows, wf)
	}
	return workflows, nil
}

func (sn seedNode) toNode() (Node, error) {
	if sn.IDNode == "" || sn.ServiceName == "" {
		return Node{}, fmt.Errorf("node %q: idNode and serviceName are required", sn.Name)
	}
	for _, g := range sn.FieldGroups {
		for _, f := range g.Fields {
			if err := f.Validate(); err != nil {
				return Node{}, fmt.Errorf("node %q: %w", sn.IDNode, err)
			}
		}
	}
	node := Node{
		ID:          sn.ID,
		IDNode:      sn.IDNode,
		Type:        sn.Type,
		Name:        sn.Name,
		ServiceName: sn.ServiceName,
		FieldGroups: sn.FieldGroups,
	}
	for _, c := range sn.Children {
		child, err := c.toNode()
		if err != nil {
			return Node{}, err
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}

// Seed inserts the workflows described by a YAML document. Workflows and
// nodes that already exist are left untouched.
func (r *Repository) Seed(ctx context.Context, data []byte) error {
	workflows, err := ParseSeed(data)
	if err != nil {
		return err
	}
	for i := range workflows {
		if err := r.Create(ctx, &workflows[i]); err != nil {
			return fmt.Errorf("seed workflow %q: %w", workflows[i].Name, err)
		}
	}
	return nil
}

// InitDB creates the schema and seeds the sample workflows. Called from main on startup.
func InitDB(ctx context.Context, pool *pgxpool.Pool) error {
	repo := NewRepository(pool)
	if err := repo.InitSchema(ctx); err != nil {
		return err
	}
	return repo.Seed(ctx, sampleSeed)
}
