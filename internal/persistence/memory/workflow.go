package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/weave-hq/weave/internal/core"
)

// WorkflowStore keeps compiled DAGs in process memory, keyed by
// (workflow_id, version).
type WorkflowStore struct {
	mu   sync.Mutex
	dags map[string]map[string][]byte // workflow id -> version -> dag json
}

var _ core.WorkflowStore = (*WorkflowStore)(nil)

// NewWorkflowStore creates an empty WorkflowStore.
func NewWorkflowStore() *WorkflowStore {
	return &WorkflowStore{dags: map[string]map[string][]byte{}}
}

// LoadDAG implements core.WorkflowStore.
func (s *WorkflowStore) LoadDAG(_ context.Context, workflowID, version string) (*core.DAG, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.dags[workflowID][version]
	if !ok {
		return nil, core.ErrWorkflowNotFound
	}
	var dag core.DAG
	if err := json.Unmarshal(raw, &dag); err != nil {
		return nil, err
	}
	return &dag, nil
}

// SaveDAG implements core.WorkflowStore. The document is stored as JSON so
// later mutation of the caller's copy cannot leak in.
func (s *WorkflowStore) SaveDAG(_ context.Context, _ string, dag *core.DAG) error {
	raw, err := json.Marshal(dag)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dags[dag.WorkflowID] == nil {
		s.dags[dag.WorkflowID] = map[string][]byte{}
	}
	s.dags[dag.WorkflowID][dag.Version] = raw
	return nil
}

// ListVersions implements core.WorkflowStore.
func (s *WorkflowStore) ListVersions(_ context.Context, workflowID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := make([]string, 0, len(s.dags[workflowID]))
	for v := range s.dags[workflowID] {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions, nil
}

// TriggerBindingStore resolves event deliveries to trigger instances in
// process memory.
type TriggerBindingStore struct {
	mu       sync.Mutex
	byID     map[string]core.TriggerBinding
	byTarget map[string]string // toolkit|slug|connection -> trigger instance id
}

var _ core.TriggerBindingStore = (*TriggerBindingStore)(nil)

// NewTriggerBindingStore creates an empty TriggerBindingStore.
func NewTriggerBindingStore() *TriggerBindingStore {
	return &TriggerBindingStore{
		byID:     map[string]core.TriggerBinding{},
		byTarget: map[string]string{},
	}
}

func bindingTarget(toolkitSlug, triggerSlug, connectionID string) string {
	return toolkitSlug + "|" + triggerSlug + "|" + connectionID
}

// PutBinding implements core.TriggerBindingStore.
func (s *TriggerBindingStore) PutBinding(_ context.Context, b *core.TriggerBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[b.TriggerInstanceID] = *b
	s.byTarget[bindingTarget(b.ToolkitSlug, b.TriggerSlug, b.ConnectionID)] = b.TriggerInstanceID
	return nil
}

// Resolve implements core.TriggerBindingStore; an unmatched delivery
// resolves to (nil, nil) so the caller can discard it.
func (s *TriggerBindingStore) Resolve(_ context.Context, toolkitSlug, triggerSlug, connectionID string) (*core.TriggerBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byTarget[bindingTarget(toolkitSlug, triggerSlug, connectionID)]
	if !ok {
		return nil, nil
	}
	b := s.byID[id]
	return &b, nil
}

// GetBinding implements core.TriggerBindingStore.
func (s *TriggerBindingStore) GetBinding(_ context.Context, triggerInstanceID string) (*core.TriggerBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byID[triggerInstanceID]
	if !ok {
		return nil, nil
	}
	out := b
	return &out, nil
}
