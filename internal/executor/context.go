package executor

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/weave-hq/weave/internal/core"
	"github.com/weave-hq/weave/internal/expr"
)

// runContext is the in-memory state of one run: the immutable trigger
// payload, compact vars extracted from action results, references to large
// payloads, and per-node error briefs. Two runs never share a runContext.
type runContext struct {
	mu        sync.Mutex
	inputs    map[string]any
	vars      map[string]any
	artifacts map[string]string
	errors    map[string]string
	globals   map[string]any
	outputs   map[string]map[string]any // slim node outputs for node[id].outputs
}

func newRunContext(inputs map[string]any, globals *core.Globals) *runContext {
	rc := &runContext{
		inputs:    inputs,
		vars:      map[string]any{},
		artifacts: map[string]string{},
		errors:    map[string]string{},
		outputs:   map[string]map[string]any{},
	}
	if globals != nil {
		rc.globals = globals.Values
	}
	if rc.inputs == nil {
		rc.inputs = map[string]any{}
	}
	return rc
}

// env snapshots the context as an expression environment. Scoped extras
// (loop item bindings) overlay vars without mutating shared state.
func (rc *runContext) env(scoped map[string]any) expr.MapEnv {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	vars := rc.vars
	if len(scoped) > 0 {
		vars = make(map[string]any, len(rc.vars)+len(scoped))
		for k, v := range rc.vars {
			vars[k] = v
		}
		for k, v := range scoped {
			vars[k] = v
		}
	}
	node := make(map[string]any, len(rc.outputs))
	for id, out := range rc.outputs {
		node[id] = map[string]any{"outputs": out}
	}
	return expr.MapEnv{
		"inputs":  rc.inputs,
		"vars":    vars,
		"globals": rc.globals,
		"node":    node,
	}
}

func (rc *runContext) setVar(key string, val any) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.vars[key] = val
}

func (rc *runContext) setOutput(nodeID string, out map[string]any) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.outputs[nodeID] = out
}

func (rc *runContext) setArtifact(nodeID, ref string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.artifacts[nodeID] = ref
}

func (rc *runContext) setError(nodeID, brief string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.errors[nodeID] = brief
}

// placeholderRe matches {{ expression }} occurrences inside template
// strings.
var placeholderRe = regexp.MustCompile(`\{\{\s*([^}]+?)\s*\}\}`)

// renderTemplate resolves an input template against the run context. A
// string that is exactly one placeholder keeps the evaluated value's type;
// strings with embedded placeholders are interpolated textually; maps and
// lists render recursively.
func renderTemplate(tpl map[string]any, env expr.MapEnv) (map[string]any, error) {
	out := make(map[string]any, len(tpl))
	for k, v := range tpl {
		rendered, err := renderValue(v, env)
		if err != nil {
			return nil, fmt.Errorf("rendering %q: %w", k, err)
		}
		out[k] = rendered
	}
	return out, nil
}

func renderValue(v any, env expr.MapEnv) (any, error) {
	switch t := v.(type) {
	case string:
		return renderString(t, env)
	case map[string]any:
		return renderTemplate(t, env)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			r, err := renderValue(e, env)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

func renderString(s string, env expr.MapEnv) (any, error) {
	matches := placeholderRe.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	// whole-string placeholder keeps the value type
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		return evalPlaceholder(s[matches[0][2]:matches[0][3]], env)
	}

	var sb strings.Builder
	last := 0
	for _, m := range matches {
		sb.WriteString(s[last:m[0]])
		val, err := evalPlaceholder(s[m[2]:m[3]], env)
		if err != nil {
			return nil, err
		}
		sb.WriteString(stringify(val))
		last = m[1]
	}
	sb.WriteString(s[last:])
	return sb.String(), nil
}

// connRefRe matches connection credential references such as
// connection.api_key. They stay symbolic in the rendered arguments; the tool
// relay substitutes them from the connection named by the request, so secret
// material never enters the run context or the idempotency cache.
var connRefRe = regexp.MustCompile(`^connection\.[A-Za-z_][A-Za-z0-9_]*$`)

func evalPlaceholder(src string, env expr.MapEnv) (any, error) {
	if connRefRe.MatchString(src) {
		return "$" + src, nil
	}
	e, err := expr.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("placeholder %q: %w", src, err)
	}
	return e.Eval(env)
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// extractOutputVars pulls compact scalars out of an action result into the
// run context using jq path expressions.
func extractOutputVars(rc *runContext, outputVars map[string]string, result map[string]any) error {
	for name, path := range outputVars {
		query, err := gojq.Parse(path)
		if err != nil {
			return fmt.Errorf("output_vars[%s]: invalid path %q: %w", name, path, err)
		}
		iter := query.Run(map[string]any(result))
		v, ok := iter.Next()
		if !ok {
			rc.setVar(name, nil)
			continue
		}
		if qerr, isErr := v.(error); isErr {
			return fmt.Errorf("output_vars[%s]: %w", name, qerr)
		}
		rc.setVar(name, v)
	}
	return nil
}

// slim limits how much of an action result travels in vars, cache, and
// outputs; the full payload goes to the artifact store when it exceeds the
// budget.
const (
	slimMaxString = 512
	slimMaxItems  = 16
)

// slimResult compacts a result map: long strings truncate, lists cap, and
// nested maps slim recursively.
func slimResult(result map[string]any) map[string]any {
	out := make(map[string]any, len(result))
	for k, v := range result {
		out[k] = slimValue(v)
	}
	return out
}

func slimValue(v any) any {
	switch t := v.(type) {
	case string:
		if len(t) > slimMaxString {
			return t[:slimMaxString]
		}
		return t
	case map[string]any:
		return slimResult(t)
	case []any:
		n := len(t)
		if n > slimMaxItems {
			n = slimMaxItems
		}
		out := make([]any, n)
		for i := 0; i < n; i++ {
			out[i] = slimValue(t[i])
		}
		return out
	default:
		return v
	}
}

// isLargeResult reports whether the full payload should be parked in the
// artifact store instead of the run context.
func isLargeResult(result map[string]any) bool {
	raw, err := json.Marshal(result)
	return err == nil && len(raw) > 8*1024
}
