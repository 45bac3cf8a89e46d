package core

import (
	"context"
	"time"
)

// ActionSpec describes one catalog action.
type ActionSpec struct {
	Name           string   `json:"name"`
	RequiredParams []string `json:"required_params"`
	OptionalParams []string `json:"optional_params,omitempty"`
	RequiredScopes []string `json:"required_scopes,omitempty"`
	Deprecated     bool     `json:"deprecated,omitempty"`
}

// TriggerSpec describes one catalog trigger.
type TriggerSpec struct {
	Slug   string         `json:"slug"`
	Config map[string]any `json:"config,omitempty"`
}

// Provider describes one catalog toolkit.
type Provider struct {
	Slug     string        `json:"slug"`
	Actions  []ActionSpec  `json:"actions,omitempty"`
	Triggers []TriggerSpec `json:"triggers,omitempty"`
}

// ToolCatalog is a read-only lookup of provider/action/trigger specs.
type ToolCatalog interface {
	GetProvider(slug string) *Provider
	GetAction(providerSlug, actionName string) *ActionSpec
	GetTrigger(providerSlug, triggerSlug string) *TriggerSpec
}

// InvokeRequest is one external action invocation.
type InvokeRequest struct {
	Tool           string
	Action         string
	ConnectionID   string
	Arguments      map[string]any
	Timeout        time.Duration
	IdempotencyKey string
}

// ToolInvoker executes one external action. Implementations must honor the
// idempotency key when the provider supports it; the executor's own cache
// covers the rest.
type ToolInvoker interface {
	Invoke(ctx context.Context, req InvokeRequest) (map[string]any, error)
}

// WorkflowStore persists DAGs by (workflow_id, version).
type WorkflowStore interface {
	LoadDAG(ctx context.Context, workflowID, version string) (*DAG, error)
	SaveDAG(ctx context.Context, userID string, dag *DAG) error
	ListVersions(ctx context.Context, workflowID string) ([]string, error)
}

// RunStore persists runs, node executions, and join arrivals.
type RunStore interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	SetRunStatus(ctx context.Context, runID string, status RunStatus, finishedAt *time.Time) error

	RecordNodeExecution(ctx context.Context, exec *NodeExecution) error
	UpdateNodeExecution(ctx context.Context, exec *NodeExecution) error
	ListNodeExecutions(ctx context.Context, runID string) ([]NodeExecution, error)

	RecordJoinArrival(ctx context.Context, arrival *JoinArrival) error
	ListJoinArrivals(ctx context.Context, runID, joinNodeID string) ([]JoinArrival, error)
}

// ScheduleStore persists schedules and schedule runs.
type ScheduleStore interface {
	UpsertSchedule(ctx context.Context, s *Schedule) error
	GetSchedule(ctx context.Context, scheduleID string) (*Schedule, error)
	DeleteSchedule(ctx context.Context, scheduleID string) error
	SetPaused(ctx context.Context, scheduleID string, paused bool) error
	SetNextRunAt(ctx context.Context, scheduleID string, next time.Time) error

	// ListDue returns unpaused schedules whose next_run_at falls at or
	// before the horizon and whose end_at has not passed.
	ListDue(ctx context.Context, now, horizon time.Time) ([]Schedule, error)

	// InsertScheduleRun fails with ErrDuplicateKey when the idempotency key
	// already exists.
	InsertScheduleRun(ctx context.Context, run *ScheduleRun) error
	GetScheduleRun(ctx context.Context, idempotencyKey string) (*ScheduleRun, error)
	UpdateScheduleRunStatus(ctx context.Context, idempotencyKey string, status ScheduleRunStatus, runID string) error

	// HasInflightRuns reports whether any run for the schedule is still
	// ENQUEUED or STARTED.
	HasInflightRuns(ctx context.Context, scheduleID string) (bool, error)
}

// TriggerBinding maps a resolved trigger identity to a workflow trigger
// node. Bindings are written at compile time.
type TriggerBinding struct {
	TriggerInstanceID string         `json:"trigger_instance_id"`
	WorkflowID        string         `json:"workflow_id"`
	Version           string         `json:"version"`
	UserID            string         `json:"user_id"`
	NodeID            string         `json:"node_id"`
	ToolkitSlug       string         `json:"toolkit_slug"`
	TriggerSlug       string         `json:"composio_trigger_slug"`
	ConnectionID      string         `json:"connection_id,omitempty"`
	Filter            map[string]any `json:"filter,omitempty"`
}

// TriggerBindingStore resolves event deliveries to trigger instances.
type TriggerBindingStore interface {
	PutBinding(ctx context.Context, b *TriggerBinding) error
	Resolve(ctx context.Context, toolkitSlug, triggerSlug, connectionID string) (*TriggerBinding, error)
	GetBinding(ctx context.Context, triggerInstanceID string) (*TriggerBinding, error)
}

// IdempotencyCache stores slim action results keyed by idempotency key.
type IdempotencyCache interface {
	Get(ctx context.Context, key string) (map[string]any, bool, error)
	Put(ctx context.Context, key string, value map[string]any, ttl time.Duration) error
}

// ArtifactStore holds large action payloads out of band; the run context
// keeps only the returned references.
type ArtifactStore interface {
	Put(ctx context.Context, runID, nodeID string, payload map[string]any) (ref string, err error)
	Get(ctx context.Context, ref string) (map[string]any, error)
}

// Lease is an advisory lock guarding single-leader sections.
type Lease interface {
	// Acquire returns ErrLeaseHeld when another owner holds the lease.
	Acquire(ctx context.Context, key string, ttl time.Duration) error
	Renew(ctx context.Context, key string, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// Clock returns the current time; replaceable for testing.
type Clock func() time.Time
