package executor_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weave-hq/weave/internal/cmn/config"
	"github.com/weave-hq/weave/internal/core"
	"github.com/weave-hq/weave/internal/executor"
	"github.com/weave-hq/weave/internal/persistence/memory"
)

type fakeInvoker struct {
	mu      sync.Mutex
	calls   []core.InvokeRequest
	handler func(req core.InvokeRequest) (map[string]any, error)
}

func (f *fakeInvoker) Invoke(_ context.Context, req core.InvokeRequest) (map[string]any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	n := len(f.calls)
	f.mu.Unlock()
	if f.handler != nil {
		return f.handler(req)
	}
	return map[string]any{"ok": true, "call": float64(n)}, nil
}

func (f *fakeInvoker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type engine struct {
	ex        *executor.Executor
	runs      *memory.RunStore
	cache     *memory.IdempotencyCache
	workflows *memory.WorkflowStore
	bindings  *memory.TriggerBindingStore
}

func newEngine(inv core.ToolInvoker) *engine {
	runs := memory.NewRunStore()
	cache := memory.NewIdempotencyCache()
	workflows := memory.NewWorkflowStore()
	bindings := memory.NewTriggerBindingStore()
	cfg := config.Executor{
		MaxRetryDelay:     time.Second,
		DefaultTimeout:    5 * time.Second,
		IdempotencyTTL:    24 * time.Hour,
		MaxConcurrentRuns: 4,
	}
	ex := executor.New(executor.Deps{
		Workflows: workflows,
		Runs:      runs,
		Bindings:  bindings,
		Cache:     cache,
		Artifacts: memory.NewArtifactStore(),
		Invoker:   inv,
	}, cfg, executor.WithInlineRuns())
	return &engine{ex: ex, runs: runs, cache: cache, workflows: workflows, bindings: bindings}
}

func (e *engine) execsByNode(t *testing.T, runID string) map[string][]core.NodeExecution {
	t.Helper()
	execs, err := e.runs.ListNodeExecutions(context.Background(), runID)
	require.NoError(t, err)
	out := map[string][]core.NodeExecution{}
	for _, ex := range execs {
		out[ex.NodeID] = append(out[ex.NodeID], ex)
	}
	return out
}

func (e *engine) run(t *testing.T, runID string) *core.Run {
	t.Helper()
	run, err := e.runs.GetRun(context.Background(), runID)
	require.NoError(t, err)
	return run
}

func trigger(id string) core.Node {
	return core.Node{ID: id, Type: core.NodeTypeTrigger, Data: core.NodeData{
		Kind: core.TriggerKindEvent, ToolkitSlug: "slack", TriggerSlug: "SLACK_NEW_MESSAGE",
	}}
}

func action(id string, input map[string]any) core.Node {
	if input == nil {
		input = map[string]any{"channel": "C1", "text": "hello " + id}
	}
	return core.Node{ID: id, Type: core.NodeTypeAction, Data: core.NodeData{
		Tool: "slack", Action: "send_message", ConnectionID: "conn-1", InputTemplate: input,
	}}
}

func edge(src, dst string, when core.EdgeWhen) core.Edge {
	return core.Edge{ID: "e_" + src + "__" + dst, Source: src, Target: dst, When: when}
}

func linearDAG() *core.DAG {
	return &core.DAG{
		WorkflowID: "wf-linear", Version: "v1",
		Nodes: []core.Node{trigger("t1"), action("a1", nil), action("a2", nil)},
		Edges: []core.Edge{edge("t1", "a1", ""), edge("a1", "a2", core.EdgeWhenSuccess)},
	}
}

func start(t *testing.T, e *engine, dag *core.DAG, payload map[string]any) string {
	t.Helper()
	runID, err := e.ex.Start(context.Background(), dag, dag.Triggers()[0].ID, payload, executor.Meta{
		UserID: "u1", Source: core.RunSourceEvent,
	})
	require.NoError(t, err)
	return runID
}

func TestLinearRunSucceeds(t *testing.T) {
	inv := &fakeInvoker{}
	e := newEngine(inv)

	runID := start(t, e, linearDAG(), map[string]any{"text": "hi"})

	run := e.run(t, runID)
	assert.Equal(t, core.RunStatusSuccess, run.Status)
	require.NotNil(t, run.FinishedAt)

	require.Equal(t, 2, inv.callCount())
	assert.NotEmpty(t, inv.calls[0].IdempotencyKey)
	assert.NotEqual(t, inv.calls[0].IdempotencyKey, inv.calls[1].IdempotencyKey,
		"each node derives its own idempotency key")

	byNode := e.execsByNode(t, runID)
	assert.Equal(t, core.NodeStatusSkipped, byNode["t1"][0].Status)
	assert.Equal(t, core.NodeStatusDone, byNode["a1"][0].Status)
	assert.Equal(t, core.NodeStatusDone, byNode["a2"][0].Status)
}

func TestRetriableFailureRetriesWithBackoff(t *testing.T) {
	inv := &fakeInvoker{}
	inv.handler = func(core.InvokeRequest) (map[string]any, error) {
		if inv.callCount() < 3 {
			return nil, core.NewRetriableError("rate limited")
		}
		return map[string]any{"ok": true}, nil
	}
	e := newEngine(inv)

	dag := linearDAG()
	dag.Nodes[1].Data.Retry = &core.RetrySpec{Retries: 2, Backoff: core.BackoffLinear, DelayMS: 10}
	dag.Nodes = dag.Nodes[:2] // t1 -> a1 only
	dag.Edges = dag.Edges[:1]

	began := time.Now()
	runID := start(t, e, dag, nil)
	elapsed := time.Since(began)

	assert.Equal(t, core.RunStatusSuccess, e.run(t, runID).Status)
	assert.Equal(t, 3, inv.callCount())
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond, "linear backoff waits 10ms then 20ms")

	attempts := e.execsByNode(t, runID)["a1"]
	require.Len(t, attempts, 3)
	assert.Equal(t, core.NodeStatusError, attempts[0].Status)
	assert.Equal(t, core.NodeStatusError, attempts[1].Status)
	assert.Equal(t, core.NodeStatusDone, attempts[2].Status)
	assert.Equal(t, attempts[0].IdemKey, attempts[2].IdemKey,
		"all attempts share one idempotency key")
}

func TestFatalFailureDoesNotRetry(t *testing.T) {
	inv := &fakeInvoker{handler: func(core.InvokeRequest) (map[string]any, error) {
		return nil, core.NewFatalError("bad arguments")
	}}
	e := newEngine(inv)

	dag := linearDAG()
	dag.Nodes[1].Data.Retry = &core.RetrySpec{Retries: 3, Backoff: core.BackoffLinear, DelayMS: 5}

	runID := start(t, e, dag, nil)

	assert.Equal(t, core.RunStatusFailed, e.run(t, runID).Status)
	assert.Equal(t, 1, inv.callCount())

	byNode := e.execsByNode(t, runID)
	assert.Equal(t, core.NodeStatusError, byNode["a1"][0].Status)
	assert.Equal(t, core.NodeStatusSkipped, byNode["a2"][0].Status)
}

func TestZeroRetriesInvokesOnce(t *testing.T) {
	inv := &fakeInvoker{handler: func(core.InvokeRequest) (map[string]any, error) {
		return nil, core.NewRetriableError("flaky")
	}}
	e := newEngine(inv)

	runID := start(t, e, linearDAG(), nil)

	assert.Equal(t, core.RunStatusFailed, e.run(t, runID).Status)
	assert.Equal(t, 1, inv.callCount(), "no retry spec means a single attempt")
}

func TestErrorEdgeHandlesFailure(t *testing.T) {
	inv := &fakeInvoker{handler: func(req core.InvokeRequest) (map[string]any, error) {
		if req.Arguments["text"] == "hello a1" {
			return nil, core.NewFatalError("boom")
		}
		return map[string]any{"ok": true}, nil
	}}
	e := newEngine(inv)

	dag := linearDAG()
	dag.Edges[1].When = core.EdgeWhenError // a2 is the compensation path

	runID := start(t, e, dag, nil)

	assert.Equal(t, core.RunStatusSuccess, e.run(t, runID).Status,
		"a handled node error does not fail the run")
	byNode := e.execsByNode(t, runID)
	assert.Equal(t, core.NodeStatusError, byNode["a1"][0].Status)
	assert.Equal(t, core.NodeStatusDone, byNode["a2"][0].Status)
}

// a RUNNING frontier node is re-dispatched under its original idempotency
// key after a takeover, and the cache absorbs the duplicate invocation.
func TestResumeReplaysWithoutReinvoking(t *testing.T) {
	inv := &fakeInvoker{}
	e := newEngine(inv)
	ctx := context.Background()

	dag := linearDAG()
	require.NoError(t, e.workflows.SaveDAG(ctx, "u1", dag))

	payload := map[string]any{"text": "hi"}
	started := time.Now().UTC()
	run := &core.Run{
		RunID: "run-1", WorkflowID: dag.WorkflowID, Version: dag.Version,
		UserID: "u1", Status: core.RunStatusRunning, Source: core.RunSourceEvent,
		StartedAt: started,
	}
	require.NoError(t, e.runs.CreateRun(ctx, run))
	require.NoError(t, e.runs.RecordNodeExecution(ctx, &core.NodeExecution{
		RunID: "run-1", NodeID: "t1", Attempt: 1, Status: core.NodeStatusSkipped,
		Output: payload, StartedAt: started,
	}))
	require.NoError(t, e.runs.RecordNodeExecution(ctx, &core.NodeExecution{
		RunID: "run-1", NodeID: "a1", Attempt: 1, Status: core.NodeStatusDone,
		Output: map[string]any{"ok": true}, StartedAt: started,
	}))
	require.NoError(t, e.runs.RecordNodeExecution(ctx, &core.NodeExecution{
		RunID: "run-1", NodeID: "a2", Attempt: 1, Status: core.NodeStatusRunning,
		StartedAt: started,
	}))

	// the first worker already invoked a2; its slim result is cached under
	// the deterministic key
	args := map[string]any{"channel": "C1", "text": "hello a2"}
	idemKey := core.ActionIdemKey("run-1", "a2", args)
	require.NoError(t, e.cache.Put(ctx, idemKey, map[string]any{"ok": true}, 24*time.Hour))

	require.NoError(t, e.ex.Resume(ctx, "run-1"))

	assert.Equal(t, core.RunStatusSuccess, e.run(t, "run-1").Status)
	assert.Zero(t, inv.callCount(), "cached result must satisfy the replayed node")

	attempts := e.execsByNode(t, "run-1")["a2"]
	require.Len(t, attempts, 2)
	assert.Equal(t, core.NodeStatusDone, attempts[1].Status)
	assert.Equal(t, idemKey, attempts[1].IdemKey)
}

func parallelJoinDAG(mode string) *core.DAG {
	join := core.Node{ID: "j1", Type: core.NodeTypeJoin, Data: core.NodeData{Mode: core.JoinMode(mode)}}
	return &core.DAG{
		WorkflowID: "wf-par", Version: "v1",
		Nodes: []core.Node{
			trigger("t1"),
			{ID: "p1", Type: core.NodeTypeParallel},
			action("b1", nil), action("b2", nil),
			join,
			action("a3", nil),
		},
		Edges: []core.Edge{
			edge("t1", "p1", ""),
			edge("p1", "b1", ""), edge("p1", "b2", ""),
			edge("b1", "j1", core.EdgeWhenSuccess), edge("b2", "j1", core.EdgeWhenSuccess),
			edge("j1", "a3", core.EdgeWhenSuccess),
		},
	}
}

func TestJoinAllDeadlocksWhenBranchFails(t *testing.T) {
	inv := &fakeInvoker{handler: func(req core.InvokeRequest) (map[string]any, error) {
		if req.Arguments["text"] == "hello b2" {
			return nil, core.NewFatalError("branch down")
		}
		return map[string]any{"ok": true}, nil
	}}
	e := newEngine(inv)

	runID := start(t, e, parallelJoinDAG("all"), nil)

	assert.Equal(t, core.RunStatusFailed, e.run(t, runID).Status)

	byNode := e.execsByNode(t, runID)
	assert.Equal(t, core.NodeStatusDone, byNode["b1"][0].Status)
	assert.Equal(t, core.NodeStatusError, byNode["b2"][0].Status)
	assert.Equal(t, core.NodeStatusError, byNode["j1"][0].Status, "join-all can never be satisfied")
	assert.Equal(t, core.NodeStatusSkipped, byNode["a3"][0].Status)
}

func TestQuorumJoinFiresOnThreshold(t *testing.T) {
	inv := &fakeInvoker{}
	e := newEngine(inv)

	dag := parallelJoinDAG("quorum:2")
	dag.Nodes = append(dag.Nodes, action("b3", nil))
	dag.Edges = append(dag.Edges, edge("p1", "b3", ""), edge("b3", "j1", core.EdgeWhenSuccess))

	runID := start(t, e, dag, nil)

	assert.Equal(t, core.RunStatusSuccess, e.run(t, runID).Status)
	byNode := e.execsByNode(t, runID)
	require.Len(t, byNode["j1"], 1, "join fires exactly once")
	assert.Equal(t, core.NodeStatusDone, byNode["j1"][0].Status)
	require.Len(t, byNode["a3"], 1)
	assert.Equal(t, core.NodeStatusDone, byNode["a3"][0].Status)
}

func TestGatewaySwitchRoutesMatchingCase(t *testing.T) {
	inv := &fakeInvoker{}
	e := newEngine(inv)

	dag := &core.DAG{
		WorkflowID: "wf-switch", Version: "v1",
		Nodes: []core.Node{
			trigger("t1"),
			{ID: "gw", Type: core.NodeTypeGatewaySwitch, Data: core.NodeData{
				Selector:  `inputs.kind`,
				Cases:     []core.Case{{Value: "urgent", To: "a1"}},
				DefaultTo: "a2",
			}},
			action("a1", nil), action("a2", nil),
		},
		Edges: []core.Edge{edge("t1", "gw", "")},
	}

	runID := start(t, e, dag, map[string]any{"kind": "urgent"})

	assert.Equal(t, core.RunStatusSuccess, e.run(t, runID).Status)
	byNode := e.execsByNode(t, runID)
	assert.Equal(t, core.NodeStatusDone, byNode["a1"][0].Status)
	assert.Equal(t, core.NodeStatusSkipped, byNode["a2"][0].Status)
	assert.Equal(t, "a1", byNode["gw"][0].Output["chosen"])
}

func loopWhileDAG(maxIter int) *core.DAG {
	return &core.DAG{
		WorkflowID: "wf-loop", Version: "v1",
		Nodes: []core.Node{
			trigger("t1"),
			{ID: "l1", Type: core.NodeTypeLoopWhile, Data: core.NodeData{
				Condition:     `is_null(vars.n) || vars.n < 2`,
				BodyStart:     "b1",
				MaxIterations: maxIter,
			}},
			{ID: "b1", Type: core.NodeTypeAction, Data: core.NodeData{
				Tool: "slack", Action: "send_message", ConnectionID: "conn-1",
				InputTemplate: map[string]any{"seen": "{{ vars.n }}"},
				OutputVars:    map[string]string{"n": ".call"},
			}},
			action("a2", nil),
		},
		Edges: []core.Edge{
			edge("t1", "l1", ""),
			edge("b1", "l1", core.EdgeWhenSuccess), // back-edge
			edge("l1", "a2", core.EdgeWhenSuccess),
		},
	}
}

func TestLoopWhileIteratesUntilConditionFalse(t *testing.T) {
	inv := &fakeInvoker{}
	e := newEngine(inv)

	runID := start(t, e, loopWhileDAG(5), nil)

	assert.Equal(t, core.RunStatusSuccess, e.run(t, runID).Status)
	assert.Equal(t, 3, inv.callCount(), "two loop iterations plus the trailing action")

	byNode := e.execsByNode(t, runID)
	require.Len(t, byNode["l1"], 1)
	assert.Equal(t, 2, byNode["l1"][0].Output["iterations"])
	assert.Equal(t, core.NodeStatusDone, byNode["a2"][0].Status)

	// each iteration re-dispatches the body under a fresh attempt
	require.Len(t, byNode["b1"], 2)
	assert.Equal(t, core.NodeStatusDone, byNode["b1"][0].Status)
	assert.Equal(t, core.NodeStatusDone, byNode["b1"][1].Status)
}

func TestLoopWhileZeroBoundSkipsBody(t *testing.T) {
	inv := &fakeInvoker{handler: func(req core.InvokeRequest) (map[string]any, error) {
		return map[string]any{"ok": true}, nil
	}}
	e := newEngine(inv)

	dag := loopWhileDAG(0)
	runID := start(t, e, dag, nil)

	assert.Equal(t, core.RunStatusSuccess, e.run(t, runID).Status)

	byNode := e.execsByNode(t, runID)
	assert.Equal(t, core.NodeStatusDone, byNode["l1"][0].Status)
	assert.Empty(t, byNode["b1"][0].Output, "body never entered")
	assert.Equal(t, core.NodeStatusSkipped, byNode["b1"][0].Status)
	assert.Equal(t, core.NodeStatusDone, byNode["a2"][0].Status)
}

func TestLoopWhileExceedingBoundErrors(t *testing.T) {
	inv := &fakeInvoker{handler: func(core.InvokeRequest) (map[string]any, error) {
		return map[string]any{"call": float64(0)}, nil // n never advances
	}}
	e := newEngine(inv)

	runID := start(t, e, loopWhileDAG(3), nil)

	assert.Equal(t, core.RunStatusFailed, e.run(t, runID).Status)
	byNode := e.execsByNode(t, runID)
	assert.Equal(t, core.NodeStatusError, byNode["l1"][0].Status)
	assert.Contains(t, byNode["l1"][0].Error, "max_iterations")
}

func foreachDAG() *core.DAG {
	return &core.DAG{
		WorkflowID: "wf-each", Version: "v1",
		Nodes: []core.Node{
			trigger("t1"),
			{ID: "f1", Type: core.NodeTypeLoopForeach, Data: core.NodeData{
				SourceArrayExpr: `inputs.items`,
				BodyStart:       "b1",
				MaxConcurrency:  2,
			}},
			{ID: "b1", Type: core.NodeTypeAction, Data: core.NodeData{
				Tool: "slack", Action: "send_message", ConnectionID: "conn-1",
				InputTemplate: map[string]any{"v": "{{ vars.item }}", "i": "{{ vars.item_index }}"},
			}},
			action("a2", nil),
		},
		Edges: []core.Edge{
			edge("t1", "f1", ""),
			edge("b1", "f1", core.EdgeWhenSuccess),
			edge("f1", "a2", core.EdgeWhenSuccess),
		},
	}
}

func TestForeachRunsShardPerItem(t *testing.T) {
	inv := &fakeInvoker{}
	e := newEngine(inv)

	runID := start(t, e, foreachDAG(), map[string]any{
		"items": []any{"x", "y", "z"},
	})

	assert.Equal(t, core.RunStatusSuccess, e.run(t, runID).Status)
	assert.Equal(t, 4, inv.callCount(), "three shards plus the trailing action")

	seen := map[any]bool{}
	for _, call := range inv.calls {
		if v, ok := call.Arguments["v"]; ok {
			seen[v] = true
		}
	}
	assert.Equal(t, map[any]bool{"x": true, "y": true, "z": true}, seen)

	byNode := e.execsByNode(t, runID)
	assert.Equal(t, 3, byNode["f1"][0].Output["count"])
	for _, shard := range []string{"b1[0]", "b1[1]", "b1[2]"} {
		require.Len(t, byNode[shard], 1, shard)
		assert.Equal(t, core.NodeStatusDone, byNode[shard][0].Status)
	}
}

func TestForeachEmptySourcePassesThrough(t *testing.T) {
	inv := &fakeInvoker{}
	e := newEngine(inv)

	runID := start(t, e, foreachDAG(), map[string]any{"items": []any{}})

	assert.Equal(t, core.RunStatusSuccess, e.run(t, runID).Status)
	byNode := e.execsByNode(t, runID)
	assert.Equal(t, 0, byNode["f1"][0].Output["count"])
	assert.Equal(t, core.NodeStatusDone, byNode["a2"][0].Status)
	assert.Equal(t, 1, inv.callCount(), "only the trailing action runs")
}

func TestForeachWideFanOutCompletesEveryShard(t *testing.T) {
	inv := &fakeInvoker{}
	e := newEngine(inv)

	const shards = 48
	items := make([]any, shards)
	for i := range items {
		items[i] = i
	}
	dag := foreachDAG()
	dag.Nodes[1].Data.MaxConcurrency = 8

	runID := start(t, e, dag, map[string]any{"items": items})

	assert.Equal(t, core.RunStatusSuccess, e.run(t, runID).Status)
	assert.Equal(t, shards+1, inv.callCount())

	byNode := e.execsByNode(t, runID)
	assert.Equal(t, shards, byNode["f1"][0].Output["count"])
	for i := 0; i < shards; i++ {
		id := fmt.Sprintf("b1[%d]", i)
		require.Len(t, byNode[id], 1, id)
		assert.Equal(t, core.NodeStatusDone, byNode[id][0].Status)
		assert.Equal(t, 1, byNode[id][0].Attempt, id)
	}
}

func TestConnectionReferenceStaysSymbolic(t *testing.T) {
	inv := &fakeInvoker{}
	e := newEngine(inv)

	dag := linearDAG()
	dag.Nodes = dag.Nodes[:2] // t1 -> a1 only
	dag.Edges = dag.Edges[:1]
	dag.Nodes[1].Data.InputTemplate = map[string]any{
		"channel": "C1",
		"api_key": "{{connection.api_key}}",
	}

	runID := start(t, e, dag, nil)

	assert.Equal(t, core.RunStatusSuccess, e.run(t, runID).Status)
	require.Equal(t, 1, inv.callCount())
	assert.Equal(t, "$connection.api_key", inv.calls[0].Arguments["api_key"],
		"credential references pass through for the relay to substitute")
	assert.Equal(t, "conn-1", inv.calls[0].ConnectionID)
}

func TestActivateEventDiscardsUnmatchedDelivery(t *testing.T) {
	e := newEngine(&fakeInvoker{})

	runID, err := e.ex.ActivateEvent(context.Background(), executor.EventDelivery{
		ToolkitSlug: "slack", TriggerSlug: "SLACK_NEW_MESSAGE", ConnectionID: "conn-unknown",
		Payload: map[string]any{"text": "hi"},
	})
	require.NoError(t, err)
	assert.Empty(t, runID)
}

func TestActivateEventResolvesBinding(t *testing.T) {
	inv := &fakeInvoker{}
	e := newEngine(inv)
	ctx := context.Background()

	dag := linearDAG()
	require.NoError(t, e.workflows.SaveDAG(ctx, "u1", dag))
	require.NoError(t, e.bindings.PutBinding(ctx, &core.TriggerBinding{
		TriggerInstanceID: core.TriggerInstanceID("u1", dag.WorkflowID, dag.Version, "t1"),
		WorkflowID:        dag.WorkflowID, Version: dag.Version, UserID: "u1", NodeID: "t1",
		ToolkitSlug: "slack", TriggerSlug: "SLACK_NEW_MESSAGE", ConnectionID: "conn-1",
	}))

	runID, err := e.ex.ActivateEvent(ctx, executor.EventDelivery{
		ToolkitSlug: "slack", TriggerSlug: "SLACK_NEW_MESSAGE", ConnectionID: "conn-1",
		Payload: map[string]any{"text": "hi"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	run := e.run(t, runID)
	assert.Equal(t, core.RunStatusSuccess, run.Status)
	assert.Equal(t, core.RunSourceEvent, run.Source)
	assert.Equal(t, "u1", run.UserID)
	assert.Equal(t, 2, inv.callCount())
}

func TestActivateScheduleSeedsFiredAt(t *testing.T) {
	inv := &fakeInvoker{}
	e := newEngine(inv)
	ctx := context.Background()

	dag := linearDAG()
	dag.Nodes[0].Data = core.NodeData{Kind: core.TriggerKindSchedule, CronExpr: "0 * * * *", Timezone: "UTC"}
	require.NoError(t, e.workflows.SaveDAG(ctx, "u1", dag))

	runAt := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	runID, err := e.ex.ActivateSchedule(ctx, &core.Schedule{
		ScheduleID: "s1", WorkflowID: dag.WorkflowID, Version: dag.Version, UserID: "u1",
	}, runAt, "idem-1")
	require.NoError(t, err)

	run := e.run(t, runID)
	assert.Equal(t, core.RunStatusSuccess, run.Status)
	assert.Equal(t, core.RunSourceSchedule, run.Source)
	assert.Equal(t, "idem-1", run.TriggerDigest)

	byNode := e.execsByNode(t, runID)
	assert.Equal(t, "2026-08-24T10:00:00Z", byNode["t1"][0].Output["fired_at"])
}
