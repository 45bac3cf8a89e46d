// Package executor drives workflow DAGs to a terminal status: it activates
// runs from events and schedules, dispatches nodes with retries and
// idempotency, interprets gateways, joins, and loops, and finalizes the run
// exactly once.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weave-hq/weave/internal/cmn/config"
	"github.com/weave-hq/weave/internal/cmn/logger"
	"github.com/weave-hq/weave/internal/cmn/logger/tag"
	"github.com/weave-hq/weave/internal/core"
)

// Meta describes what activated a run.
type Meta struct {
	UserID        string
	Source        core.RunSource
	TriggerDigest string
}

// EventDelivery is one opaque webhook delivery to resolve against trigger
// bindings.
type EventDelivery struct {
	ToolkitSlug  string
	TriggerSlug  string
	ConnectionID string
	Payload      map[string]any
}

// Deps are the external collaborators an Executor needs.
type Deps struct {
	Workflows core.WorkflowStore
	Runs      core.RunStore
	Bindings  core.TriggerBindingStore
	Cache     core.IdempotencyCache
	Artifacts core.ArtifactStore
	Invoker   core.ToolInvoker
}

// Executor runs DAGs. One worker logically owns a run at a time; multiple
// runs execute concurrently up to MaxConcurrentRuns.
type Executor struct {
	deps   Deps
	cfg    config.Executor
	clock  core.Clock
	lease  core.Lease
	inline bool
	sem    chan struct{}
	wg     sync.WaitGroup
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock replaces the wall clock, for tests.
func WithClock(clock core.Clock) Option {
	return func(e *Executor) { e.clock = clock }
}

// WithLease enables run-ownership leases across workers.
func WithLease(lease core.Lease) Option {
	return func(e *Executor) { e.lease = lease }
}

// WithInlineRuns makes Start drive the run to completion before returning.
// Used by tests and one-shot CLI invocations.
func WithInlineRuns() Option {
	return func(e *Executor) { e.inline = true }
}

// New creates an Executor.
func New(deps Deps, cfg config.Executor, opts ...Option) *Executor {
	workers := cfg.MaxConcurrentRuns
	if workers <= 0 {
		workers = 16
	}
	e := &Executor{
		deps:  deps,
		cfg:   cfg,
		clock: time.Now,
		sem:   make(chan struct{}, workers),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Wait blocks until all in-flight runs complete.
func (e *Executor) Wait() { e.wg.Wait() }

// ActivateEvent resolves a delivery to a trigger instance and starts a run.
// An unmatched delivery is discarded with an empty run id.
func (e *Executor) ActivateEvent(ctx context.Context, d EventDelivery) (string, error) {
	binding, err := e.deps.Bindings.Resolve(ctx, d.ToolkitSlug, d.TriggerSlug, d.ConnectionID)
	if err != nil {
		return "", err
	}
	if binding == nil || !matchesFilter(d.Payload, binding.Filter) {
		logger.Debug(ctx, "Delivery discarded, no matching trigger instance",
			tag.Tool(d.ToolkitSlug))
		return "", nil
	}
	dag, err := e.deps.Workflows.LoadDAG(ctx, binding.WorkflowID, binding.Version)
	if err != nil {
		return "", err
	}
	return e.Start(ctx, dag, binding.NodeID, d.Payload, Meta{
		UserID:        binding.UserID,
		Source:        core.RunSourceEvent,
		TriggerDigest: core.CanonicalDigest(d.Payload),
	})
}

// ActivateSchedule starts a run for one planned schedule instant with a
// synthetic payload. It satisfies the scheduler's dispatch contract.
func (e *Executor) ActivateSchedule(ctx context.Context, sched *core.Schedule, runAt time.Time, idemKey string) (string, error) {
	dag, err := e.deps.Workflows.LoadDAG(ctx, sched.WorkflowID, sched.Version)
	if err != nil {
		return "", err
	}
	var triggerID string
	for _, t := range dag.Triggers() {
		if t.Data.Kind == core.TriggerKindSchedule {
			triggerID = t.ID
			break
		}
	}
	if triggerID == "" {
		return "", fmt.Errorf("workflow %s has no schedule trigger", dag.Ref())
	}
	payload := map[string]any{"fired_at": runAt.UTC().Format(time.RFC3339)}
	return e.Start(ctx, dag, triggerID, payload, Meta{
		UserID:        sched.UserID,
		Source:        core.RunSourceSchedule,
		TriggerDigest: idemKey,
	})
}

// Start creates a run and drives it, inline or on a worker goroutine.
func (e *Executor) Start(ctx context.Context, dag *core.DAG, triggerNodeID string, payload map[string]any, meta Meta) (string, error) {
	g, err := NewGraph(dag)
	if err != nil {
		return "", err
	}
	trigger := g.Node(triggerNodeID)
	if trigger == nil || trigger.Type != core.NodeTypeTrigger {
		return "", fmt.Errorf("node %q is not a trigger of %s", triggerNodeID, dag.Ref())
	}

	now := e.clock().UTC()
	run := &core.Run{
		RunID:         uuid.NewString(),
		WorkflowID:    dag.WorkflowID,
		Version:       dag.Version,
		UserID:        meta.UserID,
		Status:        core.RunStatusRunning,
		Source:        meta.Source,
		StartedAt:     now,
		TriggerDigest: meta.TriggerDigest,
	}
	if err := e.deps.Runs.CreateRun(ctx, run); err != nil {
		return "", err
	}

	if e.inline {
		e.drive(ctx, g, dag, run, triggerNodeID, payload, nil)
		return run.RunID, nil
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.sem <- struct{}{}
		defer func() { <-e.sem }()
		e.drive(context.WithoutCancel(ctx), g, dag, run, triggerNodeID, payload, nil)
	}()
	return run.RunID, nil
}

// Resume takes over a run that lost its worker: finalized nodes stay, any
// RUNNING node is retried under the same idempotency key, and dispatch
// continues from the persisted frontier.
func (e *Executor) Resume(ctx context.Context, runID string) error {
	run, err := e.deps.Runs.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != core.RunStatusRunning {
		return nil
	}
	dag, err := e.deps.Workflows.LoadDAG(ctx, run.WorkflowID, run.Version)
	if err != nil {
		return err
	}
	g, err := NewGraph(dag)
	if err != nil {
		return err
	}
	execs, err := e.deps.Runs.ListNodeExecutions(ctx, runID)
	if err != nil {
		return err
	}
	e.drive(ctx, g, dag, run, "", nil, execs)
	return nil
}

// matchesFilter checks delivery payload fields against the binding filter.
// Transport control keys are not payload constraints.
func matchesFilter(payload, filter map[string]any) bool {
	for k, want := range filter {
		if k == "cursor" || k == "verify_signature" {
			continue
		}
		if !looseEqual(payload[k], want) {
			return false
		}
	}
	return true
}

// runState is the single-writer dispatch state of one run.
type runState struct {
	ex  *Executor
	g   *Graph
	dag *core.DAG
	run *core.Run
	rc  *runContext

	queue        []string
	queued       map[string]bool
	status       map[string]core.NodeStatus
	loopIters    map[string]int
	joinFired    map[string]bool
	errorHandled map[string]bool

	// attempts is the only dispatch state foreach shard goroutines touch;
	// everything else stays single-writer.
	attemptsMu sync.Mutex
	attempts   map[string]int
}

func (e *Executor) drive(ctx context.Context, g *Graph, dag *core.DAG, run *core.Run, triggerNodeID string, payload map[string]any, resume []core.NodeExecution) {
	ctx = logger.WithValues(ctx, tag.RunID(run.RunID), tag.Workflow(run.WorkflowID), tag.Version(run.Version))

	if e.lease != nil {
		if err := e.lease.Acquire(ctx, "run/"+run.RunID, 30*time.Second); err != nil {
			logger.Warn(ctx, "Run lease held elsewhere, abandoning", tag.Error(err))
			return
		}
		defer func() { _ = e.lease.Release(ctx, "run/"+run.RunID) }()
	}

	cancel := func() {}
	if dag.Globals != nil && dag.Globals.TimeoutMS > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(dag.Globals.TimeoutMS)*time.Millisecond)
	}
	defer cancel()

	rs := &runState{
		ex:           e,
		g:            g,
		dag:          dag,
		run:          run,
		queued:       map[string]bool{},
		status:       map[string]core.NodeStatus{},
		attempts:     map[string]int{},
		loopIters:    map[string]int{},
		joinFired:    map[string]bool{},
		errorHandled: map[string]bool{},
	}

	if resume == nil {
		rs.rc = newRunContext(payload, dag.Globals)
		rs.activate(ctx, triggerNodeID, payload)
	} else {
		rs.replay(ctx, resume)
	}

	for len(rs.queue) > 0 && ctx.Err() == nil {
		id := rs.queue[0]
		rs.queue = rs.queue[1:]
		rs.queued[id] = false
		rs.process(ctx, id)
	}

	rs.finalize(ctx)
}

// activate seeds a fresh run: the trigger is terminal immediately and its
// successors form the initial ready queue. The trigger row carries the
// payload so a takeover can rebuild context.inputs.
func (rs *runState) activate(ctx context.Context, triggerNodeID string, payload map[string]any) {
	rs.status[triggerNodeID] = core.NodeStatusSkipped
	rs.record(ctx, &core.NodeExecution{
		RunID:     rs.run.RunID,
		NodeID:    triggerNodeID,
		Attempt:   rs.nextAttempt(triggerNodeID),
		Status:    core.NodeStatusSkipped,
		Output:    payload,
		StartedAt: rs.ex.clock().UTC(),
	})
	rs.route(ctx, triggerNodeID, core.NodeStatusDone)
}

// replay rebuilds dispatch state from persisted node executions after a
// takeover.
func (rs *runState) replay(ctx context.Context, execs []core.NodeExecution) {
	// current attempt per execution id is the max
	current := map[string]core.NodeExecution{}
	for _, ex := range execs {
		if prev, ok := current[ex.NodeID]; !ok || ex.Attempt > prev.Attempt {
			current[ex.NodeID] = ex
		}
		if ex.Attempt > rs.attempts[ex.NodeID] {
			rs.attempts[ex.NodeID] = ex.Attempt
		}
	}

	var inputs map[string]any
	for id, ex := range current {
		n := rs.g.Node(id)
		if n != nil && n.Type == core.NodeTypeTrigger {
			inputs = ex.Output
		}
	}
	rs.rc = newRunContext(inputs, rs.dag.Globals)

	for id, ex := range current {
		rs.status[id] = ex.Status
		n := rs.g.Node(id)
		if n == nil {
			continue // foreach shard row
		}
		if ex.Status == core.NodeStatusDone && len(ex.Output) > 0 {
			rs.rc.setOutput(id, ex.Output)
			if n.Type == core.NodeTypeAction {
				if err := extractOutputVars(rs.rc, n.Data.OutputVars, ex.Output); err != nil {
					logger.Warn(ctx, "Replay var extraction failed", tag.Node(id), tag.Error(err))
				}
			}
		}
		if n.Type == core.NodeTypeJoin && ex.Status == core.NodeStatusDone {
			rs.joinFired[id] = true
		}
	}

	// finalized nodes re-route into whatever has not finished; RUNNING
	// nodes are retried under the same idem key, the cache absorbs any
	// duplicate
	for id, ex := range current {
		if rs.g.Node(id) == nil {
			continue
		}
		switch ex.Status {
		case core.NodeStatusDone, core.NodeStatusError:
			rs.route(ctx, id, ex.Status)
		case core.NodeStatusRunning:
			rs.status[id] = core.NodeStatusPending
			rs.enqueue(id)
		case core.NodeStatusSkipped:
			if n := rs.g.Node(id); n != nil && n.Type == core.NodeTypeTrigger {
				rs.route(ctx, id, core.NodeStatusDone)
			}
		}
	}
	logger.Info(ctx, "Run resumed", tag.Count(len(rs.queue)))
}

func (rs *runState) enqueue(id string) {
	if rs.queued[id] {
		return
	}
	rs.queued[id] = true
	rs.queue = append(rs.queue, id)
}

func (rs *runState) nextAttempt(execID string) int {
	rs.attemptsMu.Lock()
	defer rs.attemptsMu.Unlock()
	rs.attempts[execID]++
	return rs.attempts[execID]
}

func (rs *runState) record(ctx context.Context, exec *core.NodeExecution) {
	if err := rs.ex.deps.Runs.RecordNodeExecution(ctx, exec); err != nil && !errors.Is(err, core.ErrDuplicateKey) {
		logger.Error(ctx, "Failed to record node execution", tag.Node(exec.NodeID), tag.Error(err))
	}
}

func (rs *runState) update(ctx context.Context, exec *core.NodeExecution) {
	if err := rs.ex.deps.Runs.UpdateNodeExecution(ctx, exec); err != nil {
		logger.Error(ctx, "Failed to update node execution", tag.Node(exec.NodeID), tag.Error(err))
	}
}

// process interprets one ready node. Behavior is a function of the closed
// type variant.
func (rs *runState) process(ctx context.Context, id string) {
	n := rs.g.Node(id)
	if n == nil {
		return
	}
	if st, ok := rs.status[id]; ok && st.Final() {
		return
	}

	switch n.Type {
	case core.NodeTypeAction:
		status, _ := rs.runAction(ctx, n, n.ID, nil)
		rs.status[id] = status
		rs.route(ctx, id, status)

	case core.NodeTypeGatewayIf:
		rs.processGatewayIf(ctx, n)

	case core.NodeTypeGatewaySwitch:
		rs.processGatewaySwitch(ctx, n)

	case core.NodeTypeParallel:
		rs.status[id] = core.NodeStatusDone
		rs.record(ctx, &core.NodeExecution{
			RunID: rs.run.RunID, NodeID: id, Attempt: rs.nextAttempt(id),
			Status: core.NodeStatusDone, StartedAt: rs.ex.clock().UTC(),
		})
		rs.route(ctx, id, core.NodeStatusDone)

	case core.NodeTypeJoin:
		rs.processJoin(ctx, n)

	case core.NodeTypeLoopWhile:
		rs.processLoopWhile(ctx, n)

	case core.NodeTypeLoopForeach:
		rs.processLoopForeach(ctx, n)
	}
}

func (rs *runState) finishNode(ctx context.Context, id string, status core.NodeStatus, output map[string]any, brief string) {
	now := rs.ex.clock().UTC()
	rs.status[id] = status
	if brief != "" {
		rs.rc.setError(id, brief)
	}
	rs.record(ctx, &core.NodeExecution{
		RunID: rs.run.RunID, NodeID: id, Attempt: rs.nextAttempt(id),
		Status: status, Output: output, Error: brief,
		StartedAt: now, FinishedAt: &now,
	})
}

func (rs *runState) processGatewayIf(ctx context.Context, n *core.Node) {
	env := rs.rc.env(nil)
	chosen := ""
	for _, b := range n.Data.Branches {
		ok, err := evalBool(b.Expr, env)
		if err != nil {
			rs.finishNode(ctx, n.ID, core.NodeStatusError, nil, err.Error())
			rs.route(ctx, n.ID, core.NodeStatusError)
			return
		}
		if ok {
			chosen = b.To
			break
		}
	}
	if chosen == "" {
		chosen = n.Data.ElseTo
	}
	rs.finishNode(ctx, n.ID, core.NodeStatusDone, map[string]any{"chosen": chosen}, "")
	if chosen != "" {
		rs.follow(ctx, n.ID, chosen)
	}
}

func (rs *runState) processGatewaySwitch(ctx context.Context, n *core.Node) {
	env := rs.rc.env(nil)
	e, err := parseExpr(n.Data.Selector)
	var val any
	if err == nil {
		val, err = e.Eval(env)
	}
	if err != nil {
		rs.finishNode(ctx, n.ID, core.NodeStatusError, nil, err.Error())
		rs.route(ctx, n.ID, core.NodeStatusError)
		return
	}

	chosen := n.Data.DefaultTo
	for _, c := range n.Data.Cases {
		if looseEqual(val, c.Value) {
			chosen = c.To
			break
		}
	}
	rs.finishNode(ctx, n.ID, core.NodeStatusDone, map[string]any{"chosen": chosen}, "")
	if chosen != "" {
		rs.follow(ctx, n.ID, chosen)
	}
}

func (rs *runState) processJoin(ctx context.Context, n *core.Node) {
	if rs.joinFired[n.ID] {
		return
	}
	arrivals, err := rs.ex.deps.Runs.ListJoinArrivals(ctx, rs.run.RunID, n.ID)
	if err != nil {
		logger.Error(ctx, "Failed to list join arrivals", tag.Node(n.ID), tag.Error(err))
		return
	}
	distinct := map[string]bool{}
	for _, a := range arrivals {
		distinct[a.FromNodeID] = true
	}

	threshold := rs.joinThreshold(n)
	if len(distinct) >= threshold {
		rs.joinFired[n.ID] = true
		rs.finishNode(ctx, n.ID, core.NodeStatusDone, map[string]any{"arrived": len(distinct)}, "")
		rs.route(ctx, n.ID, core.NodeStatusDone)
		return
	}

	// count predecessors that could still arrive; if none, the join is
	// deadlocked
	possible := len(distinct)
	for _, pred := range rs.g.Predecessors(n.ID) {
		if distinct[pred] {
			continue
		}
		if st, ok := rs.status[pred]; !ok || !st.Final() {
			possible++
		}
	}
	if possible < threshold {
		rs.finishNode(ctx, n.ID, core.NodeStatusError, nil, "join deadlock: required arrivals can no longer happen")
		rs.route(ctx, n.ID, core.NodeStatusError)
	}
	// else wait for the next arrival to re-enqueue this join
}

func (rs *runState) joinThreshold(n *core.Node) int {
	mode, quorum, err := n.Data.JoinSpec()
	if err != nil {
		return rs.g.InDegree(n.ID)
	}
	switch mode {
	case core.JoinModeAny:
		return 1
	case core.JoinModeQuorum:
		return quorum
	default:
		return rs.g.InDegree(n.ID)
	}
}

func (rs *runState) processLoopWhile(ctx context.Context, n *core.Node) {
	env := rs.rc.env(nil)
	ok, err := evalBool(n.Data.Condition, env)
	if err != nil {
		rs.finishNode(ctx, n.ID, core.NodeStatusError, nil, err.Error())
		rs.route(ctx, n.ID, core.NodeStatusError)
		return
	}
	iters := rs.loopIters[n.ID]
	switch {
	case !ok || n.Data.MaxIterations == 0:
		// condition exhausted, or a zero bound never admits the body
		rs.finishNode(ctx, n.ID, core.NodeStatusDone, map[string]any{"iterations": iters}, "")
		rs.route(ctx, n.ID, core.NodeStatusDone)
	case iters >= n.Data.MaxIterations:
		rs.finishNode(ctx, n.ID, core.NodeStatusError, nil,
			fmt.Sprintf("loop exceeded max_iterations=%d", n.Data.MaxIterations))
		rs.route(ctx, n.ID, core.NodeStatusError)
	default:
		rs.loopIters[n.ID] = iters + 1
		rs.status[n.ID] = core.NodeStatusRunning
		rs.resetLoopBody(n)
		rs.follow(ctx, n.ID, n.Data.BodyStart)
	}
}

// resetLoopBody clears terminal state from the loop's body subgraph so the
// next iteration dispatches it again. Attempt numbers keep increasing, so
// every iteration stays visible in node_executions.
func (rs *runState) resetLoopBody(loop *core.Node) {
	seen := map[string]bool{loop.ID: true}
	stack := []string{loop.Data.BodyStart}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		delete(rs.status, id)
		for _, edge := range rs.g.OutEdges(id) {
			stack = append(stack, edge.Target)
		}
	}
}

func (rs *runState) processLoopForeach(ctx context.Context, n *core.Node) {
	env := rs.rc.env(nil)
	e, err := parseExpr(n.Data.SourceArrayExpr)
	var val any
	if err == nil {
		val, err = e.Eval(env)
	}
	if err != nil {
		rs.finishNode(ctx, n.ID, core.NodeStatusError, nil, err.Error())
		rs.route(ctx, n.ID, core.NodeStatusError)
		return
	}
	items, ok := val.([]any)
	if !ok && val != nil {
		rs.finishNode(ctx, n.ID, core.NodeStatusError, nil, "source_array_expr did not evaluate to a list")
		rs.route(ctx, n.ID, core.NodeStatusError)
		return
	}

	// empty source routes straight through without spawning shards
	if len(items) == 0 {
		rs.finishNode(ctx, n.ID, core.NodeStatusDone, map[string]any{"count": 0}, "")
		rs.route(ctx, n.ID, core.NodeStatusDone)
		return
	}

	maxc := n.Data.MaxConcurrency
	if maxc <= 0 || maxc > len(items) {
		maxc = len(items)
	}
	slots := make(chan struct{}, maxc)
	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := 0

	for i, item := range items {
		wg.Add(1)
		go func(idx int, item any) {
			defer wg.Done()
			slots <- struct{}{}
			defer func() { <-slots }()
			scoped := map[string]any{"item": item, "item_index": float64(idx)}
			if err := rs.runShard(ctx, n, idx, scoped); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}(i, item)
	}
	wg.Wait()

	if failed > 0 {
		rs.finishNode(ctx, n.ID, core.NodeStatusError, map[string]any{"count": len(items), "failed": failed},
			fmt.Sprintf("%d of %d shards failed", failed, len(items)))
		rs.route(ctx, n.ID, core.NodeStatusError)
		return
	}
	rs.finishNode(ctx, n.ID, core.NodeStatusDone, map[string]any{"count": len(items)}, "")
	rs.route(ctx, n.ID, core.NodeStatusDone)
}

// runShard executes the loop body for one item. Bodies are action chains;
// the shard stops when the chain reaches the loop's reconverging join or
// runs out of successors.
func (rs *runState) runShard(ctx context.Context, loop *core.Node, idx int, scoped map[string]any) error {
	cur := loop.Data.BodyStart
	for cur != "" {
		n := rs.g.Node(cur)
		if n == nil || n.Type != core.NodeTypeAction {
			return fmt.Errorf("foreach body node %q is not an action", cur)
		}
		execID := fmt.Sprintf("%s[%d]", n.ID, idx)
		status, _ := rs.runAction(ctx, n, execID, scoped)
		if status != core.NodeStatusDone {
			return fmt.Errorf("shard %d failed at %s", idx, n.ID)
		}

		next := ""
		for _, edge := range rs.g.OutEdges(cur) {
			if edge.Target == loop.ID {
				continue // back-edge
			}
			if t := rs.g.Node(edge.Target); t != nil && t.Type == core.NodeTypeJoin {
				continue // reconvergence happens after the loop node finishes
			}
			if edge.EffectiveWhen() == core.EdgeWhenError {
				continue
			}
			next = edge.Target
			break
		}
		cur = next
	}
	return nil
}

// route enqueues the successors of a finalized node. An edge is eligible
// iff its gate matches the status and its condition, if any, holds.
func (rs *runState) route(ctx context.Context, from string, status core.NodeStatus) {
	for _, edge := range rs.g.OutEdges(from) {
		switch edge.EffectiveWhen() {
		case core.EdgeWhenSuccess:
			if status != core.NodeStatusDone {
				continue
			}
		case core.EdgeWhenError:
			if status != core.NodeStatusError {
				continue
			}
		}
		if edge.Condition != "" {
			ok, err := evalBool(edge.Condition, rs.rc.env(nil))
			if err != nil {
				logger.Warn(ctx, "Edge condition failed, not routing",
					tag.Node(from), tag.Error(err))
				continue
			}
			if !ok {
				continue
			}
		}
		if status == core.NodeStatusError && edge.EffectiveWhen() == core.EdgeWhenError {
			rs.errorHandled[from] = true
		}
		rs.follow(ctx, from, edge.Target)
	}
}

// follow hands control from one node to another, recording join arrivals
// on the way in.
func (rs *runState) follow(ctx context.Context, from, target string) {
	if t := rs.g.Node(target); t != nil && t.Type == core.NodeTypeJoin {
		if err := rs.ex.deps.Runs.RecordJoinArrival(ctx, &core.JoinArrival{
			RunID:      rs.run.RunID,
			JoinNodeID: target,
			FromNodeID: from,
			ArrivedAt:  rs.ex.clock().UTC(),
		}); err != nil {
			logger.Error(ctx, "Failed to record join arrival", tag.Node(target), tag.Error(err))
		}
	}
	rs.enqueue(target)
}

// finalize runs exactly once when the ready queue drains: unsatisfiable
// joins become ERROR, untouched nodes become SKIPPED, and the run reaches
// its terminal status.
func (rs *runState) finalize(ctx context.Context) {
	canceled := ctx.Err() != nil
	if canceled {
		// recording must still happen; the run context is already canceled
		ctx = context.WithoutCancel(ctx)
	}

	for _, n := range rs.dag.Nodes {
		if st, ok := rs.status[n.ID]; ok && st.Final() {
			continue
		}
		if n.Type == core.NodeTypeJoin && !rs.joinFired[n.ID] {
			arrivals, err := rs.ex.deps.Runs.ListJoinArrivals(ctx, rs.run.RunID, n.ID)
			if err == nil && len(arrivals) > 0 {
				rs.finishNode(ctx, n.ID, core.NodeStatusError, nil,
					"join deadlock: run drained before required arrivals")
				continue
			}
		}
		rs.finishNode(ctx, n.ID, core.NodeStatusSkipped, nil, "")
	}

	failed := canceled
	for id, st := range rs.status {
		if st == core.NodeStatusError && !rs.errorHandled[id] {
			failed = true
		}
	}

	status := core.RunStatusSuccess
	if failed {
		status = core.RunStatusFailed
	}
	now := rs.ex.clock().UTC()
	if err := rs.ex.deps.Runs.SetRunStatus(ctx, rs.run.RunID, status, &now); err != nil {
		logger.Error(ctx, "Failed to finalize run", tag.Error(err))
	}
	logger.Info(ctx, "Run finished", tag.Status(string(status)))
}
