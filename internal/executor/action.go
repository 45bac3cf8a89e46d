package executor

import (
	"context"
	"encoding/json"
	"reflect"
	"time"

	"github.com/weave-hq/weave/internal/cmn/backoff"
	"github.com/weave-hq/weave/internal/cmn/logger"
	"github.com/weave-hq/weave/internal/cmn/logger/tag"
	"github.com/weave-hq/weave/internal/core"
	"github.com/weave-hq/weave/internal/expr"
)

const minIdempotencyTTL = 24 * time.Hour

// runAction executes one action node (or one foreach shard of it) to a final
// status. Every attempt is a separate persisted row; the idempotency cache
// short-circuits re-dispatch after a takeover.
func (rs *runState) runAction(ctx context.Context, n *core.Node, execID string, scoped map[string]any) (core.NodeStatus, map[string]any) {
	e := rs.ex
	env := rs.rc.env(scoped)

	args, err := renderTemplate(n.Data.InputTemplate, env)
	if err != nil {
		rs.recordActionFinal(ctx, execID, core.NodeStatusError, nil, "", err.Error())
		return core.NodeStatusError, nil
	}
	idemKey := core.ActionIdemKey(rs.run.RunID, execID, args)

	if cached, ok, cerr := e.deps.Cache.Get(ctx, idemKey); cerr == nil && ok {
		logger.Info(ctx, "Idempotency cache hit, skipping invocation",
			tag.Node(execID), tag.IdemKey(idemKey))
		rs.recordActionFinal(ctx, execID, core.NodeStatusDone, cached, idemKey, "")
		rs.applyResult(ctx, n, execID, cached)
		return core.NodeStatusDone, cached
	} else if cerr != nil {
		logger.Warn(ctx, "Idempotency cache unavailable", tag.Node(execID), tag.Error(cerr))
	}

	timeout := e.cfg.DefaultTimeout
	if n.Data.TimeoutMS > 0 {
		timeout = time.Duration(n.Data.TimeoutMS) * time.Millisecond
	}
	policy := retryPolicy(n.Data.Retry, e.cfg.MaxRetryDelay)

	for retryCount := 0; ; retryCount++ {
		attempt := rs.nextAttempt(execID)
		started := e.clock().UTC()
		exec := &core.NodeExecution{
			RunID:     rs.run.RunID,
			NodeID:    execID,
			Attempt:   attempt,
			Status:    core.NodeStatusRunning,
			StartedAt: started,
			IdemKey:   idemKey,
		}
		rs.record(ctx, exec)

		result, invokeErr := rs.invoke(ctx, n, args, idemKey, timeout)
		finished := e.clock().UTC()
		exec.FinishedAt = &finished

		if invokeErr == nil {
			slim := slimResult(result)
			if isLargeResult(result) && e.deps.Artifacts != nil {
				if ref, aerr := e.deps.Artifacts.Put(ctx, rs.run.RunID, execID, result); aerr == nil {
					rs.rc.setArtifact(execID, ref)
				} else {
					logger.Warn(ctx, "Failed to park large payload", tag.Node(execID), tag.Error(aerr))
				}
			}
			ttl := e.cfg.IdempotencyTTL
			if ttl < minIdempotencyTTL {
				ttl = minIdempotencyTTL
			}
			if cerr := e.deps.Cache.Put(ctx, idemKey, slim, ttl); cerr != nil {
				logger.Warn(ctx, "Failed to cache action result", tag.Node(execID), tag.Error(cerr))
			}
			exec.Status = core.NodeStatusDone
			exec.Output = slim
			rs.update(ctx, exec)
			rs.applyResult(ctx, n, execID, slim)
			return core.NodeStatusDone, slim
		}

		exec.Status = core.NodeStatusError
		exec.Error = invokeErr.Error()
		rs.update(ctx, exec)

		if ctx.Err() != nil || !core.IsRetriable(invokeErr) {
			rs.rc.setError(execID, invokeErr.Error())
			return core.NodeStatusError, nil
		}
		interval, perr := policy.ComputeNextInterval(retryCount, invokeErr)
		if perr != nil {
			rs.rc.setError(execID, invokeErr.Error())
			return core.NodeStatusError, nil
		}
		logger.Warn(ctx, "Action attempt failed, retrying",
			tag.Node(execID), tag.Attempt(attempt), tag.Interval(interval), tag.Error(invokeErr))
		if !sleep(ctx, interval) {
			rs.rc.setError(execID, ctx.Err().Error())
			return core.NodeStatusError, nil
		}
	}
}

func (rs *runState) invoke(ctx context.Context, n *core.Node, args map[string]any, idemKey string, timeout time.Duration) (map[string]any, error) {
	invokeCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		invokeCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()
	return rs.ex.deps.Invoker.Invoke(invokeCtx, core.InvokeRequest{
		Tool:           n.Data.Tool,
		Action:         n.Data.Action,
		ConnectionID:   n.Data.ConnectionID,
		Arguments:      args,
		Timeout:        timeout,
		IdempotencyKey: idemKey,
	})
}

// applyResult publishes a finished action's slim output into the run context
// and extracts its declared output vars.
func (rs *runState) applyResult(ctx context.Context, n *core.Node, execID string, slim map[string]any) {
	rs.rc.setOutput(execID, slim)
	if execID == n.ID {
		// shard outputs stay addressable by exec id only; node[id] refers
		// to the whole loop
		rs.rc.setOutput(n.ID, slim)
	}
	if err := extractOutputVars(rs.rc, n.Data.OutputVars, slim); err != nil {
		logger.Warn(ctx, "Output var extraction failed", tag.Node(execID), tag.Error(err))
	}
}

// recordActionFinal writes a single already-final attempt row.
func (rs *runState) recordActionFinal(ctx context.Context, execID string, status core.NodeStatus, output map[string]any, idemKey, brief string) {
	now := rs.ex.clock().UTC()
	if brief != "" {
		rs.rc.setError(execID, brief)
	}
	rs.record(ctx, &core.NodeExecution{
		RunID: rs.run.RunID, NodeID: execID, Attempt: rs.nextAttempt(execID),
		Status: status, Output: output, Error: brief, IdemKey: idemKey,
		StartedAt: now, FinishedAt: &now,
	})
}

// retryPolicy maps a node's retry spec onto a backoff policy. A nil spec or
// zero retries yields a policy that is exhausted immediately.
func retryPolicy(spec *core.RetrySpec, maxDelay time.Duration) backoff.RetryPolicy {
	if spec == nil || spec.Retries <= 0 {
		return backoff.NewConstantBackoffPolicy(0, 0)
	}
	delay := time.Duration(spec.DelayMS) * time.Millisecond
	if spec.Backoff == core.BackoffExponential {
		p := backoff.NewExponentialBackoffPolicy(delay, spec.Retries)
		p.MaxInterval = maxDelay
		return p
	}
	p := backoff.NewLinearBackoffPolicy(delay, spec.Retries)
	p.MaxInterval = maxDelay
	return p
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func parseExpr(src string) (*expr.Expr, error) { return expr.Parse(src) }

func evalBool(src string, env expr.MapEnv) (bool, error) {
	e, err := expr.Parse(src)
	if err != nil {
		return false, err
	}
	return e.EvalBool(env)
}

// looseEqual compares switch selector values the way JSON equality does:
// numbers compare by value regardless of Go integer/float representation.
func looseEqual(a, b any) bool {
	if na, ok := toFloat(a); ok {
		if nb, ok := toFloat(b); ok {
			return na == nb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}
