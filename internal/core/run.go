package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// RunStatus is the lifecycle status of a workflow run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "RUNNING"
	RunStatusSuccess RunStatus = "SUCCESS"
	RunStatusFailed  RunStatus = "FAILED"
)

// Final reports whether the run reached a terminal status.
func (s RunStatus) Final() bool {
	return s == RunStatusSuccess || s == RunStatusFailed
}

// RunSource identifies what activated a run.
type RunSource string

const (
	RunSourceEvent    RunSource = "event"
	RunSourceSchedule RunSource = "schedule"
	RunSourceManual   RunSource = "manual"
)

// NodeStatus is the lifecycle status of one node execution attempt.
type NodeStatus string

const (
	NodeStatusPending NodeStatus = "PENDING"
	NodeStatusRunning NodeStatus = "RUNNING"
	NodeStatusDone    NodeStatus = "DONE"
	NodeStatusError   NodeStatus = "ERROR"
	NodeStatusSkipped NodeStatus = "SKIPPED"
)

// Final reports whether the status is terminal.
func (s NodeStatus) Final() bool {
	switch s {
	case NodeStatusDone, NodeStatusError, NodeStatusSkipped:
		return true
	}
	return false
}

// Run is one execution of a workflow version.
type Run struct {
	RunID         string     `json:"run_id"`
	WorkflowID    string     `json:"workflow_id"`
	Version       string     `json:"version"`
	UserID        string     `json:"user_id"`
	Status        RunStatus  `json:"status"`
	Source        RunSource  `json:"source"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	TriggerDigest string     `json:"trigger_digest,omitempty"`
}

// NodeExecution is one attempt at executing a node within a run. The
// logical current attempt per (run_id, node_id) is the max attempt.
type NodeExecution struct {
	RunID      string         `json:"run_id"`
	NodeID     string         `json:"node_id"`
	Attempt    int            `json:"attempt"`
	Status     NodeStatus     `json:"status"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	IdemKey    string         `json:"idem_key,omitempty"`
}

// JoinArrival records one incoming edge completion at a join node.
type JoinArrival struct {
	RunID      string    `json:"run_id"`
	JoinNodeID string    `json:"join_node_id"`
	FromNodeID string    `json:"from_node_id"`
	ArrivedAt  time.Time `json:"arrived_at"`
}

// ActionIdemKey derives the per-node idempotency key:
// sha256(run_id || ":" || node_id || ":" || digest(rendered_args)).
func ActionIdemKey(runID, nodeID string, renderedArgs map[string]any) string {
	sum := sha256.Sum256([]byte(runID + ":" + nodeID + ":" + CanonicalDigest(renderedArgs)))
	return hex.EncodeToString(sum[:])
}

// CanonicalDigest hashes a JSON-able value with stable key ordering so that
// equal arguments always produce equal digests.
func CanonicalDigest(v any) string {
	sum := sha256.Sum256(canonicalJSON(v))
	return hex.EncodeToString(sum[:])
}

// canonicalJSON renders v with sorted map keys. encoding/json already sorts
// map[string]any keys, but nested any values need normalizing first.
func canonicalJSON(v any) []byte {
	b, err := json.Marshal(normalize(v))
	if err != nil {
		return []byte{}
	}
	return b
}

func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(t))
		for _, k := range keys {
			out[k] = normalize(t[k])
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	default:
		return v
	}
}
