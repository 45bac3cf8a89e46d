package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/weave-hq/weave/internal/core"
)

// WorkflowStore persists compiled DAG documents as JSONB keyed by
// (workflow_id, version).
type WorkflowStore struct {
	pool *pgxpool.Pool
}

var _ core.WorkflowStore = (*WorkflowStore)(nil)

// SaveDAG stores a DAG document. Re-saving the same version replaces the
// document.
func (s *WorkflowStore) SaveDAG(ctx context.Context, userID string, dag *core.DAG) error {
	doc, err := json.Marshal(dag)
	if err != nil {
		return fmt.Errorf("marshaling dag %s: %w", dag.Ref(), err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflows (workflow_id, version, user_id, document)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (workflow_id, version)
		DO UPDATE SET document = EXCLUDED.document, user_id = EXCLUDED.user_id`,
		dag.WorkflowID, dag.Version, userID, doc)
	return err
}

// LoadDAG fetches one DAG version.
func (s *WorkflowStore) LoadDAG(ctx context.Context, workflowID, version string) (*core.DAG, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT document FROM workflows WHERE workflow_id = $1 AND version = $2`,
		workflowID, version).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrWorkflowNotFound
	}
	if err != nil {
		return nil, err
	}
	var dag core.DAG
	if err := json.Unmarshal(doc, &dag); err != nil {
		return nil, fmt.Errorf("unmarshaling dag %s@%s: %w", workflowID, version, err)
	}
	return &dag, nil
}

// ListVersions returns the stored versions of a workflow in creation order.
func (s *WorkflowStore) ListVersions(ctx context.Context, workflowID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT version FROM workflows WHERE workflow_id = $1 ORDER BY created_at, version`,
		workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// TriggerBindingStore resolves event deliveries against bindings written at
// compile time.
type TriggerBindingStore struct {
	pool *pgxpool.Pool
}

var _ core.TriggerBindingStore = (*TriggerBindingStore)(nil)

// PutBinding upserts one binding by trigger instance id.
func (s *TriggerBindingStore) PutBinding(ctx context.Context, b *core.TriggerBinding) error {
	filter, err := json.Marshal(b.Filter)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO trigger_bindings
			(trigger_instance_id, workflow_id, version, user_id, node_id,
			 toolkit_slug, trigger_slug, connection_id, filter)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (trigger_instance_id) DO UPDATE SET
			workflow_id = EXCLUDED.workflow_id,
			version = EXCLUDED.version,
			user_id = EXCLUDED.user_id,
			node_id = EXCLUDED.node_id,
			toolkit_slug = EXCLUDED.toolkit_slug,
			trigger_slug = EXCLUDED.trigger_slug,
			connection_id = EXCLUDED.connection_id,
			filter = EXCLUDED.filter`,
		b.TriggerInstanceID, b.WorkflowID, b.Version, b.UserID, b.NodeID,
		b.ToolkitSlug, b.TriggerSlug, b.ConnectionID, filter)
	return err
}

// Resolve finds the binding for a delivery target, preferring an exact
// connection match over a connection-agnostic binding. No match yields
// (nil, nil).
func (s *TriggerBindingStore) Resolve(ctx context.Context, toolkitSlug, triggerSlug, connectionID string) (*core.TriggerBinding, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT trigger_instance_id, workflow_id, version, user_id, node_id,
		       toolkit_slug, trigger_slug, connection_id, filter
		FROM trigger_bindings
		WHERE toolkit_slug = $1 AND trigger_slug = $2
		  AND (connection_id = $3 OR connection_id = '')
		ORDER BY connection_id DESC
		LIMIT 1`,
		toolkitSlug, triggerSlug, connectionID)
	return scanBinding(row)
}

// GetBinding fetches one binding by id, or (nil, nil) when absent.
func (s *TriggerBindingStore) GetBinding(ctx context.Context, triggerInstanceID string) (*core.TriggerBinding, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT trigger_instance_id, workflow_id, version, user_id, node_id,
		       toolkit_slug, trigger_slug, connection_id, filter
		FROM trigger_bindings
		WHERE trigger_instance_id = $1`,
		triggerInstanceID)
	return scanBinding(row)
}

func scanBinding(row pgx.Row) (*core.TriggerBinding, error) {
	var b core.TriggerBinding
	var filter []byte
	err := row.Scan(&b.TriggerInstanceID, &b.WorkflowID, &b.Version, &b.UserID,
		&b.NodeID, &b.ToolkitSlug, &b.TriggerSlug, &b.ConnectionID, &filter)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(filter) > 0 {
		if err := json.Unmarshal(filter, &b.Filter); err != nil {
			return nil, err
		}
	}
	return &b, nil
}

// ArtifactStore parks large action payloads as JSONB rows; run contexts keep
// only the "pg://<run>/<node>" references.
type ArtifactStore struct {
	pool *pgxpool.Pool
}

var _ core.ArtifactStore = (*ArtifactStore)(nil)

const artifactScheme = "pg://"

// Put stores one payload and returns its reference.
func (s *ArtifactStore) Put(ctx context.Context, runID, nodeID string, payload map[string]any) (string, error) {
	doc, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO artifacts (run_id, node_id, payload) VALUES ($1, $2, $3)
		ON CONFLICT (run_id, node_id) DO UPDATE SET payload = EXCLUDED.payload`,
		runID, nodeID, doc)
	if err != nil {
		return "", err
	}
	return artifactScheme + runID + "/" + nodeID, nil
}

// Get fetches one payload by reference.
func (s *ArtifactStore) Get(ctx context.Context, ref string) (map[string]any, error) {
	rest, ok := strings.CutPrefix(ref, artifactScheme)
	if !ok {
		return nil, fmt.Errorf("malformed artifact ref %q", ref)
	}
	runID, nodeID, ok := strings.Cut(rest, "/")
	if !ok {
		return nil, fmt.Errorf("malformed artifact ref %q", ref)
	}
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM artifacts WHERE run_id = $1 AND node_id = $2`,
		runID, nodeID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(doc, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}
