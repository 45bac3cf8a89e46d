// Package core defines the data model shared by the validator, scheduler,
// and executor: workflow DAGs, schedules, runs, and the interfaces to the
// external collaborators (tool catalog, tool invoker, stores).
package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// NodeType identifies the behavior of a DAG node. Node types form a closed
// tagged variant; adding one is a schema-breaking change.
type NodeType string

const (
	NodeTypeTrigger       NodeType = "trigger"
	NodeTypeAction        NodeType = "action"
	NodeTypeGatewayIf     NodeType = "gateway_if"
	NodeTypeGatewaySwitch NodeType = "gateway_switch"
	NodeTypeParallel      NodeType = "parallel"
	NodeTypeJoin          NodeType = "join"
	NodeTypeLoopWhile     NodeType = "loop_while"
	NodeTypeLoopForeach   NodeType = "loop_foreach"
)

// Valid reports whether t is one of the known node types.
func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeTrigger, NodeTypeAction, NodeTypeGatewayIf, NodeTypeGatewaySwitch,
		NodeTypeParallel, NodeTypeJoin, NodeTypeLoopWhile, NodeTypeLoopForeach:
		return true
	}
	return false
}

// TriggerKind distinguishes event-based from schedule-based triggers.
type TriggerKind string

const (
	TriggerKindEvent    TriggerKind = "event_based"
	TriggerKindSchedule TriggerKind = "schedule_based"
)

// EdgeWhen gates edge traversal on the source node's final status.
type EdgeWhen string

const (
	EdgeWhenAlways  EdgeWhen = "always"
	EdgeWhenSuccess EdgeWhen = "success"
	EdgeWhenError   EdgeWhen = "error"
)

// JoinMode selects how many distinct predecessors must arrive before a join
// fires. Quorum joins carry their threshold separately.
type JoinMode string

const (
	JoinModeAll    JoinMode = "all"
	JoinModeAny    JoinMode = "any"
	JoinModeQuorum JoinMode = "quorum"
)

// DAG is an immutable, versioned workflow document.
type DAG struct {
	WorkflowID string   `json:"workflow_id"`
	Version    string   `json:"version"`
	Nodes      []Node   `json:"nodes"`
	Edges      []Edge   `json:"edges"`
	Globals    *Globals `json:"globals,omitempty"`
}

// Node is one vertex of the DAG. Data holds the type-specific fields; which
// fields are meaningful depends on Type.
type Node struct {
	ID   string   `json:"id"`
	Type NodeType `json:"type"`
	Data NodeData `json:"data"`
}

// NodeData is the union of type-specific node fields.
type NodeData struct {
	// trigger
	Kind              TriggerKind    `json:"kind,omitempty"`
	ToolkitSlug       string         `json:"toolkit_slug,omitempty"`
	TriggerSlug       string         `json:"composio_trigger_slug,omitempty"`
	Filter            map[string]any `json:"filter,omitempty"`
	CronExpr          string         `json:"cron_expr,omitempty"`
	Timezone          string         `json:"timezone,omitempty"`
	TriggerInstanceID string         `json:"trigger_instance_id,omitempty"`

	// action
	Tool          string            `json:"tool,omitempty"`
	Action        string            `json:"action,omitempty"`
	ConnectionID  string            `json:"connection_id,omitempty"`
	InputTemplate map[string]any    `json:"input_template,omitempty"`
	OutputVars    map[string]string `json:"output_vars,omitempty"`
	Retry         *RetrySpec        `json:"retry,omitempty"`
	TimeoutMS     int               `json:"timeout_ms,omitempty"`

	// gateway_if
	Branches []Branch `json:"branches,omitempty"`
	ElseTo   string   `json:"else_to,omitempty"`

	// gateway_switch
	Selector  string `json:"selector,omitempty"`
	Cases     []Case `json:"cases,omitempty"`
	DefaultTo string `json:"default_to,omitempty"`

	// join
	Mode        JoinMode `json:"mode,omitempty"`
	QuorumCount int      `json:"quorum_count,omitempty"`

	// loop_while / loop_foreach
	Condition       string `json:"condition,omitempty"`
	BodyStart       string `json:"body_start,omitempty"`
	MaxIterations   int    `json:"max_iterations,omitempty"`
	SourceArrayExpr string `json:"source_array_expr,omitempty"`
	MaxConcurrency  int    `json:"max_concurrency,omitempty"`
}

// Branch is one conditional arm of a gateway_if node.
type Branch struct {
	Expr string `json:"expr"`
	To   string `json:"to"`
}

// Case is one arm of a gateway_switch node.
type Case struct {
	Value any    `json:"value"`
	To    string `json:"to"`
}

// Edge is a directed connection between two nodes. When defaults to always.
type Edge struct {
	ID        string   `json:"id"`
	Source    string   `json:"source"`
	Target    string   `json:"target"`
	When      EdgeWhen `json:"when,omitempty"`
	Condition string   `json:"condition,omitempty"`
}

// EffectiveWhen returns the edge gate, applying the default.
func (e Edge) EffectiveWhen() EdgeWhen {
	if e.When == "" {
		return EdgeWhenAlways
	}
	return e.When
}

// Globals are workflow-level defaults inherited by action nodes.
type Globals struct {
	Retry     *RetrySpec     `json:"retry,omitempty"`
	TimeoutMS int            `json:"timeout_ms,omitempty"`
	Values    map[string]any `json:"values,omitempty"`
}

// RetrySpec configures action retry behavior.
type RetrySpec struct {
	Retries int    `json:"retries"`
	Backoff string `json:"backoff,omitempty"` // "linear" or "exponential"
	DelayMS int    `json:"delay_ms,omitempty"`
}

const (
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// JoinSpec returns the join mode and quorum threshold. It accepts both the
// normalized form (mode=quorum plus quorum_count) and the wire shorthand
// mode="quorum:N".
func (d *NodeData) JoinSpec() (JoinMode, int, error) {
	mode := string(d.Mode)
	if rest, ok := strings.CutPrefix(mode, "quorum:"); ok {
		n, err := strconv.Atoi(rest)
		if err != nil || n < 1 {
			return "", 0, fmt.Errorf("invalid quorum threshold %q", rest)
		}
		return JoinModeQuorum, n, nil
	}
	switch JoinMode(mode) {
	case JoinModeAll, JoinModeAny:
		return JoinMode(mode), 0, nil
	case JoinModeQuorum:
		if d.QuorumCount < 1 {
			return "", 0, fmt.Errorf("quorum join requires quorum_count >= 1")
		}
		return JoinModeQuorum, d.QuorumCount, nil
	}
	return "", 0, fmt.Errorf("unknown join mode %q", mode)
}

// NodeByID returns the node with the given id, or nil.
func (d *DAG) NodeByID(id string) *Node {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i]
		}
	}
	return nil
}

// InDegree counts distinct incoming edges of a node.
func (d *DAG) InDegree(nodeID string) int {
	n := 0
	for _, e := range d.Edges {
		if e.Target == nodeID {
			n++
		}
	}
	return n
}

// Triggers returns all trigger nodes.
func (d *DAG) Triggers() []Node {
	var out []Node
	for _, n := range d.Nodes {
		if n.Type == NodeTypeTrigger {
			out = append(out, n)
		}
	}
	return out
}

// TriggerInstanceID computes the deterministic trigger instance identity for
// a trigger node of this workflow.
func TriggerInstanceID(userID, workflowID, version, nodeID string) string {
	sum := sha256.Sum256([]byte(userID + workflowID + version + nodeID))
	return hex.EncodeToString(sum[:])
}

// Ref returns the (workflow_id, version) reference string for logs.
func (d *DAG) Ref() string {
	return fmt.Sprintf("%s@%s", d.WorkflowID, d.Version)
}
