package validator

import (
	"encoding/json"
	"strings"

	"github.com/weave-hq/weave/internal/core"
)

// AttemptRepair applies the deterministic auto-repairs a lint report marked
// repairable, then re-validates. If repairing introduced a validation error
// that the original document did not have, the patch is discarded and the
// original document returned unchanged. Repairs are idempotent: repairing an
// already-repaired document applies nothing.
func AttemptRepair(stage Stage, doc *core.DAG, report *LintReport, opts Options) (*core.DAG, []Repair) {
	patched, err := cloneDAG(doc)
	if err != nil {
		return doc, nil
	}

	var repairs []Repair
	for _, f := range report.Errors {
		if !f.AutoRepairable {
			continue
		}
		if r, ok := applyRepair(patched, f); ok {
			repairs = append(repairs, r)
		}
	}
	if len(repairs) == 0 {
		return doc, nil
	}

	before := errorSet(Validate(stage, doc, opts))
	after := Validate(stage, patched, opts)
	for _, e := range after.Errors {
		if !before[errorKey(e)] {
			return doc, nil
		}
	}
	return patched, repairs
}

func applyRepair(doc *core.DAG, f Finding) (Repair, bool) {
	nodeID := nodeIDFromPath(f.Path)
	n := doc.NodeByID(nodeID)
	if n == nil {
		return Repair{}, false
	}

	switch f.Code {
	case CodePollNoCursor:
		if _, ok := n.Data.Filter["cursor"]; ok {
			return Repair{}, false
		}
		if n.Data.Filter == nil {
			n.Data.Filter = map[string]any{}
		}
		n.Data.Filter["cursor"] = "latest"
		return Repair{Code: f.Code, Path: f.Path, Message: "added filter.cursor=latest"}, true

	case CodeWebhookNoVerify:
		if verify, ok := n.Data.Filter["verify_signature"].(bool); ok && verify {
			return Repair{}, false
		}
		if n.Data.Filter == nil {
			n.Data.Filter = map[string]any{}
		}
		n.Data.Filter["verify_signature"] = true
		return Repair{Code: f.Code, Path: f.Path, Message: "enabled filter.verify_signature"}, true

	case CodePlaintextSecret:
		key := paramFromPath(f.Path)
		if key == "" {
			return Repair{}, false
		}
		val, ok := n.Data.InputTemplate[key].(string)
		if !ok || hasPlaceholder(val) {
			return Repair{}, false
		}
		n.Data.InputTemplate[key] = "{{connection." + key + "}}"
		return Repair{Code: f.Code, Path: f.Path,
			Message: "replaced literal credential with connection reference"}, true
	}
	return Repair{}, false
}

// nodeIDFromPath extracts <id> from paths shaped $.nodes[<id>]....
func nodeIDFromPath(path string) string {
	const prefix = "$.nodes["
	start := strings.Index(path, prefix)
	if start < 0 {
		return ""
	}
	rest := path[start+len(prefix):]
	end := strings.IndexByte(rest, ']')
	if end < 0 {
		return ""
	}
	return rest[:end]
}

// paramFromPath extracts the key after input_template. in a finding path.
func paramFromPath(path string) string {
	const marker = ".input_template."
	i := strings.Index(path, marker)
	if i < 0 {
		return ""
	}
	return path[i+len(marker):]
}

func errorSet(res *Result) map[string]bool {
	set := make(map[string]bool, len(res.Errors))
	for _, e := range res.Errors {
		set[errorKey(e)] = true
	}
	return set
}

func errorKey(e ValidationError) string {
	return e.Code + "|" + e.Path
}

func cloneDAG(doc *core.DAG) (*core.DAG, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out core.DAG
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
