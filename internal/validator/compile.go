package validator

import (
	"github.com/weave-hq/weave/internal/core"
)

// Compile lowers a validated executable document into a runnable DAG. The
// lowering is deterministic and idempotent: compiling an already-compiled
// document changes nothing.
//
// Steps:
//  1. every trigger gets a deterministic trigger_instance_id
//  2. actions inherit retry and timeout_ms from globals when absent
//  3. gateway branches, cases, fallbacks, and loop exits get explicit edges
//  4. edge gates are normalized to explicit values
//  5. join mode shorthand quorum:N is normalized
func Compile(doc *core.DAG, userID string) (*core.DAG, error) {
	dag, err := cloneDAG(doc)
	if err != nil {
		return nil, err
	}

	for i := range dag.Nodes {
		n := &dag.Nodes[i]
		switch n.Type {
		case core.NodeTypeTrigger:
			n.Data.TriggerInstanceID = core.TriggerInstanceID(userID, dag.WorkflowID, dag.Version, n.ID)

		case core.NodeTypeAction:
			if dag.Globals != nil {
				if n.Data.Retry == nil && dag.Globals.Retry != nil {
					r := *dag.Globals.Retry
					n.Data.Retry = &r
				}
				if n.Data.TimeoutMS == 0 {
					n.Data.TimeoutMS = dag.Globals.TimeoutMS
				}
			}

		case core.NodeTypeJoin:
			mode, quorum, err := n.Data.JoinSpec()
			if err == nil {
				n.Data.Mode = mode
				n.Data.QuorumCount = quorum
			}
		}
	}

	synthesizeEdges(dag)

	for i := range dag.Edges {
		if dag.Edges[i].When == "" {
			dag.Edges[i].When = core.EdgeWhenAlways
		}
	}
	return dag, nil
}

// synthesizeEdges materializes the routing a gateway or loop declares in its
// data so graph checks see every path. Successors are emitted in input
// order; existing edges are never duplicated.
func synthesizeEdges(dag *core.DAG) {
	have := map[string]bool{}
	for _, e := range dag.Edges {
		have[e.Source+"\x00"+e.Target] = true
	}
	add := func(source, target string) {
		if target == "" || have[source+"\x00"+target] {
			return
		}
		have[source+"\x00"+target] = true
		dag.Edges = append(dag.Edges, core.Edge{
			ID:     "e_" + source + "__" + target,
			Source: source,
			Target: target,
			When:   core.EdgeWhenAlways,
		})
	}

	for _, n := range dag.Nodes {
		switch n.Type {
		case core.NodeTypeGatewayIf:
			for _, b := range n.Data.Branches {
				add(n.ID, b.To)
			}
			add(n.ID, n.Data.ElseTo)
		case core.NodeTypeGatewaySwitch:
			for _, c := range n.Data.Cases {
				add(n.ID, c.To)
			}
			add(n.ID, n.Data.DefaultTo)
		}
	}
}

// ValidateAndCompile runs the full authoring pipeline:
// validate(executable) -> lint + repair -> lower -> validate(dag) ->
// lint(dag). A blocking error at any step fails the pipeline; the report
// carries everything observed along the way.
func ValidateAndCompile(doc *core.DAG, userID string, opts Options) (*core.DAG, *Report) {
	res := Validate(StageExecutable, doc, opts)
	if !res.OK {
		return nil, &Report{Stage: StageExecutable, Errors: res.Errors}
	}

	lintCtx := &LintContext{Catalog: opts.Catalog}
	report := Lint(StageExecutable, doc, lintCtx)
	var repairs []Repair
	if report.HasErrors() {
		doc, repairs = AttemptRepair(StageExecutable, doc, report, opts)
		report = Lint(StageExecutable, doc, lintCtx)
		if report.HasErrors() {
			return nil, &Report{Stage: StageExecutable, Lint: report, Repairs: repairs}
		}
	}

	dag, err := Compile(doc, userID)
	if err != nil {
		return nil, &Report{Stage: StageExecutable, Lint: report, Repairs: repairs, Errors: []ValidationError{{
			Code:    CodeSchemaInvalid,
			Path:    "$",
			Stage:   StageExecutable,
			Message: err.Error(),
		}}}
	}

	dagRes := Validate(StageDAG, dag, opts)
	dagLint := Lint(StageDAG, dag, lintCtx)
	out := &Report{
		OK:      dagRes.OK && !dagLint.HasErrors(),
		Stage:   StageDAG,
		Errors:  dagRes.Errors,
		Lint:    dagLint,
		Repairs: repairs,
	}
	if !out.OK {
		return nil, out
	}
	return dag, out
}
