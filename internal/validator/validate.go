package validator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/weave-hq/weave/internal/core"
	"github.com/weave-hq/weave/internal/expr"
)

// Options carries the external context a validation needs.
type Options struct {
	// Catalog is the tool catalog snapshot; nil skips catalog checks.
	Catalog core.ToolCatalog
	// ConnectionScopes maps connection_id to the scopes it grants; nil skips
	// the scope coverage check.
	ConnectionScopes map[string][]string
}

// allowedRoots are the namespaces expressions may reference.
var allowedRoots = map[string]bool{
	"inputs":  true,
	"vars":    true,
	"globals": true,
	"node":    true,
}

// ValidateBytes decodes and validates a raw document, accepted as JSON or
// YAML. Unknown fields are rejected at the dag stage and ignored elsewhere.
func ValidateBytes(stage Stage, raw []byte, opts Options) (*core.DAG, *Result) {
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] != '{' {
		converted, err := yaml.YAMLToJSON(raw)
		if err != nil {
			return nil, &Result{Stage: stage, Errors: []ValidationError{{
				Code:    CodeSchemaInvalid,
				Path:    "$",
				Stage:   stage,
				Message: fmt.Sprintf("document does not parse: %v", err),
			}}}
		}
		raw = converted
	}

	var doc core.DAG
	dec := json.NewDecoder(bytes.NewReader(raw))
	if stage == StageDAG {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(&doc); err != nil {
		return nil, &Result{Stage: stage, Errors: []ValidationError{{
			Code:    CodeSchemaInvalid,
			Path:    "$",
			Stage:   stage,
			Message: fmt.Sprintf("document does not parse: %v", err),
		}}}
	}
	return &doc, Validate(stage, &doc, opts)
}

// Validate runs the checks for the given stage. Template is lenient: only
// shape errors (unknown node type, cycles outside loops, duplicate ids) are
// fatal. Executable and dag run the full set.
func Validate(stage Stage, doc *core.DAG, opts Options) *Result {
	v := &checker{stage: stage, doc: doc, opts: opts}

	v.checkIdentity()
	v.checkNodes()
	v.checkEdges()
	v.checkCycles()

	if stage != StageTemplate {
		v.checkTriggers()
		v.checkReachability()
		v.checkExpressions()
		v.checkJoins()
		v.checkActions()
	}

	return &Result{OK: len(v.errs) == 0, Stage: stage, Errors: v.errs}
}

type checker struct {
	stage Stage
	doc   *core.DAG
	opts  Options
	errs  []ValidationError
}

func (v *checker) fail(code, path, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{
		Code:    code,
		Path:    path,
		Stage:   v.stage,
		Message: fmt.Sprintf(format, args...),
	})
}

func (v *checker) checkIdentity() {
	if v.stage == StageTemplate {
		return
	}
	if v.doc.WorkflowID == "" {
		v.fail(CodeSchemaInvalid, "$.workflow_id", "workflow_id is required")
	}
	if v.doc.Version == "" {
		v.fail(CodeSchemaInvalid, "$.version", "version is required")
	}
}

func (v *checker) checkNodes() {
	seen := map[string]bool{}
	for i, n := range v.doc.Nodes {
		path := fmt.Sprintf("$.nodes[%d]", i)
		if n.ID == "" {
			v.fail(CodeSchemaInvalid, path+".id", "node id is required")
			continue
		}
		if seen[n.ID] {
			v.fail(CodeSchemaInvalid, path+".id", "duplicate node id %q", n.ID)
		}
		seen[n.ID] = true
		if !n.Type.Valid() {
			v.fail(CodeSchemaInvalid, path+".type", "unknown node type %q", n.Type)
		}
	}
}

func (v *checker) checkEdges() {
	for i, e := range v.doc.Edges {
		path := fmt.Sprintf("$.edges[%d]", i)
		if v.doc.NodeByID(e.Source) == nil {
			v.fail(CodeSchemaInvalid, path+".source", "edge source %q does not exist", e.Source)
		}
		if v.doc.NodeByID(e.Target) == nil {
			v.fail(CodeSchemaInvalid, path+".target", "edge target %q does not exist", e.Target)
		}
		switch e.EffectiveWhen() {
		case core.EdgeWhenAlways, core.EdgeWhenSuccess, core.EdgeWhenError:
		default:
			v.fail(CodeSchemaInvalid, path+".when", "unknown edge gate %q", e.When)
		}
	}
}

// successors lists edge targets plus the routing targets that live in node
// data before compilation lowers them to edges: loop body entries and
// gateway branch/case/fallback targets.
func successors(doc *core.DAG, nodeID string) []string {
	var out []string
	for _, e := range doc.Edges {
		if e.Source == nodeID {
			out = append(out, e.Target)
		}
	}
	n := doc.NodeByID(nodeID)
	if n == nil {
		return out
	}
	add := func(id string) {
		if id != "" {
			out = append(out, id)
		}
	}
	switch n.Type {
	case core.NodeTypeLoopWhile, core.NodeTypeLoopForeach:
		add(n.Data.BodyStart)
	case core.NodeTypeGatewayIf:
		for _, b := range n.Data.Branches {
			add(b.To)
		}
		add(n.Data.ElseTo)
	case core.NodeTypeGatewaySwitch:
		for _, c := range n.Data.Cases {
			add(c.To)
		}
		add(n.Data.DefaultTo)
	}
	return out
}

// checkCycles runs a DFS over nodes. A back-edge is tolerated only when it
// closes through a loop node; any other cycle is E006.
func (v *checker) checkCycles() {
	const (
		white = iota
		gray
		black
	)
	color := map[string]int{}

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, next := range successors(v.doc, id) {
			switch color[next] {
			case gray:
				n := v.doc.NodeByID(next)
				if n == nil || (n.Type != core.NodeTypeLoopWhile && n.Type != core.NodeTypeLoopForeach) {
					v.fail(CodeCycleInGraph, "$.edges",
						"cycle through %q not declared by a loop node", next)
					return false
				}
			case white:
				if !visit(next) {
					return false
				}
			}
		}
		color[id] = black
		return true
	}

	for _, n := range v.doc.Nodes {
		if color[n.ID] == white {
			if !visit(n.ID) {
				return
			}
		}
	}
}

func (v *checker) checkTriggers() {
	triggers := v.doc.Triggers()
	if len(triggers) == 0 {
		v.fail(CodeSchemaInvalid, "$.nodes", "workflow has no trigger node")
		return
	}
	for _, n := range triggers {
		path := "$.nodes[" + n.ID + "].data"
		switch n.Data.Kind {
		case core.TriggerKindEvent:
			if v.opts.Catalog == nil || hasPlaceholder(n.Data.ToolkitSlug) || hasPlaceholder(n.Data.TriggerSlug) {
				continue
			}
			if v.opts.Catalog.GetTrigger(n.Data.ToolkitSlug, n.Data.TriggerSlug) == nil {
				v.fail(CodeUnknownTrigger, path,
					"trigger (%s, %s) not found in catalog", n.Data.ToolkitSlug, n.Data.TriggerSlug)
			}
		case core.TriggerKindSchedule:
			if _, err := core.ParseCron(n.Data.CronExpr, n.Data.Timezone); err != nil {
				v.fail(CodeCronInvalid, path, "%v", err)
			}
		default:
			v.fail(CodeSchemaInvalid, path+".kind", "unknown trigger kind %q", n.Data.Kind)
		}
	}
}

func (v *checker) checkReachability() {
	reached := map[string]bool{}
	var walk func(id string)
	walk = func(id string) {
		if reached[id] {
			return
		}
		reached[id] = true
		for _, next := range successors(v.doc, id) {
			walk(next)
		}
	}
	for _, t := range v.doc.Triggers() {
		walk(t.ID)
	}
	for _, n := range v.doc.Nodes {
		if n.Type != core.NodeTypeTrigger && !reached[n.ID] {
			v.fail(CodeUnreachableNode, "$.nodes["+n.ID+"]",
				"node %q is not reachable from any trigger", n.ID)
		}
	}
}

// nodeRefPattern extracts the <id> from node[<id>]... references.
func (v *checker) checkExpr(path, src string) {
	if src == "" || hasPlaceholder(src) {
		return
	}
	e, err := expr.Parse(src)
	if err != nil {
		v.fail(CodeUnresolvedRef, path, "expression does not parse: %v", err)
		return
	}
	for _, root := range e.Roots() {
		if !allowedRoots[root] {
			v.fail(CodeUnresolvedRef, path,
				"expression references %q; allowed roots are inputs, vars, globals, node", root)
		}
	}
	for _, id := range e.NodeRefs() {
		if v.doc.NodeByID(id) == nil {
			v.fail(CodeUnresolvedRef, path, "expression references unknown node %q", id)
		}
	}
}

func (v *checker) checkExpressions() {
	for _, n := range v.doc.Nodes {
		path := "$.nodes[" + n.ID + "].data"
		switch n.Type {
		case core.NodeTypeGatewayIf:
			for i, b := range n.Data.Branches {
				v.checkExpr(fmt.Sprintf("%s.branches[%d].expr", path, i), b.Expr)
				if b.To != "" && v.doc.NodeByID(b.To) == nil {
					v.fail(CodeSchemaInvalid, fmt.Sprintf("%s.branches[%d].to", path, i),
						"branch target %q does not exist", b.To)
				}
			}
			if n.Data.ElseTo != "" && v.doc.NodeByID(n.Data.ElseTo) == nil {
				v.fail(CodeSchemaInvalid, path+".else_to", "else target %q does not exist", n.Data.ElseTo)
			}
		case core.NodeTypeGatewaySwitch:
			v.checkExpr(path+".selector", n.Data.Selector)
			for i, c := range n.Data.Cases {
				if c.To != "" && v.doc.NodeByID(c.To) == nil {
					v.fail(CodeSchemaInvalid, fmt.Sprintf("%s.cases[%d].to", path, i),
						"case target %q does not exist", c.To)
				}
			}
			if n.Data.DefaultTo != "" && v.doc.NodeByID(n.Data.DefaultTo) == nil {
				v.fail(CodeSchemaInvalid, path+".default_to", "default target %q does not exist", n.Data.DefaultTo)
			}
		case core.NodeTypeLoopWhile:
			v.checkExpr(path+".condition", n.Data.Condition)
			v.checkLoopBody(path, n)
			if n.Data.MaxIterations < 0 {
				v.fail(CodeSchemaInvalid, path+".max_iterations", "max_iterations must be >= 0")
			}
		case core.NodeTypeLoopForeach:
			v.checkExpr(path+".source_array_expr", n.Data.SourceArrayExpr)
			v.checkLoopBody(path, n)
			if n.Data.MaxConcurrency < 0 {
				v.fail(CodeSchemaInvalid, path+".max_concurrency", "max_concurrency must be >= 0")
			}
		}
	}
	for i, e := range v.doc.Edges {
		v.checkExpr(fmt.Sprintf("$.edges[%d].condition", i), e.Condition)
	}
}

func (v *checker) checkLoopBody(path string, n core.Node) {
	if n.Data.BodyStart == "" {
		v.fail(CodeSchemaInvalid, path+".body_start", "loop requires body_start")
		return
	}
	if v.doc.NodeByID(n.Data.BodyStart) == nil {
		v.fail(CodeSchemaInvalid, path+".body_start", "body_start %q does not exist", n.Data.BodyStart)
	}
}

func (v *checker) checkJoins() {
	for _, n := range v.doc.Nodes {
		if n.Type != core.NodeTypeJoin {
			continue
		}
		path := "$.nodes[" + n.ID + "].data.mode"
		mode, quorum, err := n.Data.JoinSpec()
		if err != nil {
			v.fail(CodeSchemaInvalid, path, "%v", err)
			continue
		}
		if mode == core.JoinModeQuorum {
			in := v.doc.InDegree(n.ID)
			if quorum < 1 || quorum > in {
				v.fail(CodeSchemaInvalid, path,
					"quorum %d out of range for in-degree %d", quorum, in)
			}
		}
	}
}

func (v *checker) checkActions() {
	for _, n := range v.doc.Nodes {
		if n.Type != core.NodeTypeAction {
			continue
		}
		path := "$.nodes[" + n.ID + "].data"
		if n.Data.Tool == "" || n.Data.Action == "" {
			v.fail(CodeSchemaInvalid, path, "action requires tool and action")
			continue
		}
		if v.opts.Catalog == nil || hasPlaceholder(n.Data.Tool) || hasPlaceholder(n.Data.Action) {
			continue
		}
		spec := v.opts.Catalog.GetAction(n.Data.Tool, n.Data.Action)
		if spec == nil {
			v.fail(CodeUnknownTool, path, "action (%s, %s) not found in catalog", n.Data.Tool, n.Data.Action)
			continue
		}
		for _, p := range spec.RequiredParams {
			if _, ok := n.Data.InputTemplate[p]; !ok {
				v.fail(CodeParamSpecMismatch, path+".input_template",
					"required parameter %q is missing", p)
			}
		}
		v.checkScopes(path, n, spec)
	}
}

func (v *checker) checkScopes(path string, n core.Node, spec *core.ActionSpec) {
	if len(spec.RequiredScopes) == 0 || v.opts.ConnectionScopes == nil {
		return
	}
	granted := map[string]bool{}
	for _, s := range v.opts.ConnectionScopes[n.Data.ConnectionID] {
		granted[s] = true
	}
	var missing []string
	for _, s := range spec.RequiredScopes {
		if !granted[s] {
			missing = append(missing, s)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		v.fail(CodeScopeMissing, path+".connection_id",
			"connection %q lacks scopes: %s", n.Data.ConnectionID, strings.Join(missing, ", "))
	}
}

func hasPlaceholder(s string) bool {
	return strings.Contains(s, "{{")
}
