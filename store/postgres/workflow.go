package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/workflow"
)

const workflowColumns = `id, code, name, version, is_active, entry_node_id, created_at, updated_at`

// CreateWorkflow persists a workflow with its nodes and edges in one
// transaction.
func (s *Store) CreateWorkflow(ctx context.Context, g *workflow.Graph) error {
	wf := g.Workflow
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO courier_workflows (`+workflowColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			wf.ID, wf.Code, wf.Name, wf.Version, wf.IsActive, wf.EntryNodeID,
			wf.CreatedAt, wf.UpdatedAt,
		)
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, n := range g.Nodes {
			batch.Queue(`
				INSERT INTO courier_nodes (id, workflow_id, key, type, config, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				n.ID, wf.ID, n.Key, string(n.Type), nullBytes(n.Config), n.CreatedAt, n.UpdatedAt,
			)
		}
		for _, e := range g.Edges {
			batch.Queue(`
				INSERT INTO courier_edges (id, workflow_id, from_node_id, to_node_id, condition, position, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				e.ID, wf.ID, e.FromNodeID, e.ToNodeID, e.Condition, e.Position, e.CreatedAt, e.UpdatedAt,
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		if isDuplicateKey(err) {
			return courier.ErrWorkflowExists
		}
		return fmt.Errorf("courier/postgres: create workflow: %w", err)
	}
	return nil
}

// GetActiveWorkflow returns the workflow if it exists and is active.
func (s *Store) GetActiveWorkflow(ctx context.Context, workflowID id.WorkflowID) (*workflow.Workflow, error) {
	wf, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if !wf.IsActive {
		return nil, courier.ErrWorkflowNotActive
	}
	return wf, nil
}

// GetWorkflow returns the workflow regardless of its active flag.
func (s *Store) GetWorkflow(ctx context.Context, workflowID id.WorkflowID) (*workflow.Workflow, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+workflowColumns+` FROM courier_workflows WHERE id = $1`,
		workflowID,
	)
	wf, err := scanWorkflow(row)
	if err != nil {
		if isNoRows(err) {
			return nil, courier.ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("courier/postgres: get workflow: %w", err)
	}
	return wf, nil
}

// GetLatestWorkflow returns the highest version published under code.
func (s *Store) GetLatestWorkflow(ctx context.Context, code string) (*workflow.Workflow, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+workflowColumns+` FROM courier_workflows
		WHERE code = $1
		ORDER BY version DESC
		LIMIT 1`,
		code,
	)
	wf, err := scanWorkflow(row)
	if err != nil {
		if isNoRows(err) {
			return nil, courier.ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("courier/postgres: get latest workflow: %w", err)
	}
	return wf, nil
}

// GetNode returns a node of the workflow.
func (s *Store) GetNode(ctx context.Context, workflowID id.WorkflowID, nodeID id.NodeID) (*workflow.Node, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, workflow_id, key, type, config, created_at, updated_at
		FROM courier_nodes
		WHERE id = $1 AND workflow_id = $2`,
		nodeID, workflowID,
	)
	n, err := scanNode(row)
	if err != nil {
		if isNoRows(err) {
			return nil, courier.ErrNodeNotFound
		}
		return nil, fmt.Errorf("courier/postgres: get node: %w", err)
	}
	return n, nil
}

// GetOutgoingEdges returns the edges leaving nodeID ordered by Position.
func (s *Store) GetOutgoingEdges(ctx context.Context, workflowID id.WorkflowID, nodeID id.NodeID) ([]*workflow.Edge, error) {
	return s.queryEdges(ctx, `
		SELECT id, workflow_id, from_node_id, to_node_id, condition, position, created_at, updated_at
		FROM courier_edges
		WHERE workflow_id = $1 AND from_node_id = $2
		ORDER BY position ASC`,
		workflowID, nodeID,
	)
}

// ListNodes returns every node of the workflow ordered by key.
func (s *Store) ListNodes(ctx context.Context, workflowID id.WorkflowID) ([]*workflow.Node, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, workflow_id, key, type, config, created_at, updated_at
		FROM courier_nodes
		WHERE workflow_id = $1
		ORDER BY key ASC`,
		workflowID,
	)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*workflow.Node
	for rows.Next() {
		n, scanErr := scanNode(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("courier/postgres: scan node row: %w", scanErr)
		}
		nodes = append(nodes, n)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("courier/postgres: iterate node rows: %w", err)
	}
	return nodes, nil
}

// ListEdges returns every edge of the workflow ordered by Position.
func (s *Store) ListEdges(ctx context.Context, workflowID id.WorkflowID) ([]*workflow.Edge, error) {
	return s.queryEdges(ctx, `
		SELECT id, workflow_id, from_node_id, to_node_id, condition, position, created_at, updated_at
		FROM courier_edges
		WHERE workflow_id = $1
		ORDER BY position ASC`,
		workflowID,
	)
}

// ActivateWorkflow activates the workflow and deactivates every other
// version sharing its code.
func (s *Store) ActivateWorkflow(ctx context.Context, workflowID id.WorkflowID) error {
	now := time.Now().UTC()
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var code string
		err := tx.QueryRow(ctx,
			`SELECT code FROM courier_workflows WHERE id = $1 FOR UPDATE`,
			workflowID,
		).Scan(&code)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE courier_workflows SET is_active = FALSE, updated_at = $3
			WHERE code = $1 AND id <> $2 AND is_active`,
			code, workflowID, now,
		)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE courier_workflows SET is_active = TRUE, updated_at = $2 WHERE id = $1`,
			workflowID, now,
		)
		return err
	})
	if err != nil {
		if isNoRows(err) {
			return courier.ErrWorkflowNotFound
		}
		return fmt.Errorf("courier/postgres: activate workflow: %w", err)
	}
	return nil
}

// DeactivateWorkflow clears the active flag.
func (s *Store) DeactivateWorkflow(ctx context.Context, workflowID id.WorkflowID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE courier_workflows SET is_active = FALSE, updated_at = NOW() WHERE id = $1`,
		workflowID,
	)
	if err != nil {
		return fmt.Errorf("courier/postgres: deactivate workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return courier.ErrWorkflowNotFound
	}
	return nil
}

// ListWorkflows returns workflows matching opts, newest version first.
func (s *Store) ListWorkflows(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM courier_workflows WHERE 1=1`
	args := []any{}

	if opts.Code != "" {
		args = append(args, opts.Code)
		query += fmt.Sprintf(" AND code = $%d", len(args))
	}
	if opts.ActiveOnly {
		query += " AND is_active"
	}
	query += " ORDER BY code ASC, version DESC"
	query, args = appendPage(query, args, opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: list workflows: %w", err)
	}
	defer rows.Close()

	var out []*workflow.Workflow
	for rows.Next() {
		wf, scanErr := scanWorkflow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("courier/postgres: scan workflow row: %w", scanErr)
		}
		out = append(out, wf)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("courier/postgres: iterate workflow rows: %w", err)
	}
	return out, nil
}

func (s *Store) queryEdges(ctx context.Context, query string, args ...any) ([]*workflow.Edge, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: list edges: %w", err)
	}
	defer rows.Close()

	var edges []*workflow.Edge
	for rows.Next() {
		var e workflow.Edge
		scanErr := rows.Scan(
			&e.ID, &e.WorkflowID, &e.FromNodeID, &e.ToNodeID,
			&e.Condition, &e.Position, &e.CreatedAt, &e.UpdatedAt,
		)
		if scanErr != nil {
			return nil, fmt.Errorf("courier/postgres: scan edge row: %w", scanErr)
		}
		edges = append(edges, &e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("courier/postgres: iterate edge rows: %w", err)
	}
	return edges, nil
}

func scanWorkflow(row pgx.Row) (*workflow.Workflow, error) {
	var wf workflow.Workflow
	err := row.Scan(
		&wf.ID, &wf.Code, &wf.Name, &wf.Version, &wf.IsActive, &wf.EntryNodeID,
		&wf.CreatedAt, &wf.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

func scanNode(row pgx.Row) (*workflow.Node, error) {
	var (
		n        workflow.Node
		nodeType string
		config   []byte
	)
	err := row.Scan(&n.ID, &n.WorkflowID, &n.Key, &nodeType, &config, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	n.Type = workflow.NodeType(nodeType)
	n.Config = config
	return &n, nil
}
