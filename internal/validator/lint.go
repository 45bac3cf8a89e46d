package validator

import (
	"fmt"
	"strings"

	"github.com/weave-hq/weave/internal/core"
)

// LintContext carries cross-document knowledge a rule may need.
type LintContext struct {
	Catalog core.ToolCatalog
}

// rule is one lint check; it appends findings for every violation it finds.
type rule struct {
	code  string
	check func(ctx *LintContext, doc *core.DAG, report *LintReport)
}

// rules run in order; output order is therefore stable.
var rules = []rule{
	{CodeAggressiveFanout, checkAggressiveFanout},
	{CodeMissingChoiceGuard, checkMissingChoiceGuard},
	{CodeUnknownParam, checkUnknownParams},
	{CodeNoIdempotency, checkNoIdempotency},
	{CodeMissingRetryPolicy, checkMissingRetryPolicy},
	{CodePollNoCursor, checkPollNoCursor},
	{CodeWebhookNoVerify, checkWebhookNoVerify},
	{CodePlaintextSecret, checkPlaintextSecret},
}

// repairableCodes are the error rules AttemptRepair knows how to fix. They
// only apply once the document is resolved, so template-stage lint skips
// them.
var repairableCodes = map[string]bool{
	CodePollNoCursor:    true,
	CodeWebhookNoVerify: true,
	CodePlaintextSecret: true,
}

// Lint runs every rule against the document. Warnings and hints never
// block; errors with auto_repairable=true can be fixed by AttemptRepair.
func Lint(stage Stage, doc *core.DAG, ctx *LintContext) *LintReport {
	if ctx == nil {
		ctx = &LintContext{}
	}
	report := &LintReport{}
	for _, r := range rules {
		if stage == StageTemplate && repairableCodes[r.code] {
			continue
		}
		r.check(ctx, doc, report)
	}
	return report
}

// fanout thresholds chosen to flag graphs that routinely exhaust provider
// rate limits.
const (
	maxQuietFanout      = 5
	maxQuietConcurrency = 10
)

func checkAggressiveFanout(_ *LintContext, doc *core.DAG, report *LintReport) {
	for _, n := range doc.Nodes {
		switch n.Type {
		case core.NodeTypeParallel:
			out := 0
			for _, e := range doc.Edges {
				if e.Source == n.ID {
					out++
				}
			}
			if out > maxQuietFanout {
				report.Add(Finding{
					Code:     CodeAggressiveFanout,
					Severity: SeverityWarning,
					Path:     "$.nodes[" + n.ID + "]",
					Message:  fmt.Sprintf("parallel node fans out to %d branches", out),
					Hint:     "consider batching or a loop_foreach with bounded max_concurrency",
				})
			}
		case core.NodeTypeLoopForeach:
			if n.Data.MaxConcurrency > maxQuietConcurrency {
				report.Add(Finding{
					Code:     CodeAggressiveFanout,
					Severity: SeverityWarning,
					Path:     "$.nodes[" + n.ID + "].data.max_concurrency",
					Message:  fmt.Sprintf("max_concurrency %d may exhaust provider rate limits", n.Data.MaxConcurrency),
					Hint:     "keep max_concurrency at or below 10 unless the provider allows more",
				})
			}
		}
	}
}

func checkMissingChoiceGuard(_ *LintContext, doc *core.DAG, report *LintReport) {
	for _, n := range doc.Nodes {
		switch n.Type {
		case core.NodeTypeGatewayIf:
			if n.Data.ElseTo == "" {
				report.Add(Finding{
					Code:     CodeMissingChoiceGuard,
					Severity: SeverityWarning,
					Path:     "$.nodes[" + n.ID + "].data.else_to",
					Message:  "gateway_if has no else branch; unmatched inputs stop the flow",
					Hint:     "add else_to pointing at a fallback node",
				})
			}
		case core.NodeTypeGatewaySwitch:
			if n.Data.DefaultTo == "" {
				report.Add(Finding{
					Code:     CodeMissingChoiceGuard,
					Severity: SeverityWarning,
					Path:     "$.nodes[" + n.ID + "].data.default_to",
					Message:  "gateway_switch has no default case; unmatched inputs stop the flow",
					Hint:     "add default_to pointing at a fallback node",
				})
			}
		}
	}
}

func checkUnknownParams(ctx *LintContext, doc *core.DAG, report *LintReport) {
	if ctx.Catalog == nil {
		return
	}
	for _, n := range doc.Nodes {
		if n.Type != core.NodeTypeAction || hasPlaceholder(n.Data.Tool) {
			continue
		}
		spec := ctx.Catalog.GetAction(n.Data.Tool, n.Data.Action)
		if spec == nil {
			continue
		}
		known := map[string]bool{}
		for _, p := range spec.RequiredParams {
			known[p] = true
		}
		for _, p := range spec.OptionalParams {
			known[p] = true
		}
		for p := range n.Data.InputTemplate {
			if !known[p] {
				report.Add(Finding{
					Code:     CodeUnknownParam,
					Severity: SeverityWarning,
					Path:     "$.nodes[" + n.ID + "].data.input_template." + p,
					Message:  fmt.Sprintf("parameter %q is not declared by (%s, %s)", p, n.Data.Tool, n.Data.Action),
					Hint:     "remove the parameter or update the catalog spec",
				})
			}
		}
	}
}

// writePrefixes mark actions whose duplicate invocation is visible to users.
var writePrefixes = []string{"create_", "send_", "post_", "delete_", "update_", "write_"}

func checkNoIdempotency(_ *LintContext, doc *core.DAG, report *LintReport) {
	for _, n := range doc.Nodes {
		if n.Type != core.NodeTypeAction || n.Data.Retry == nil || n.Data.Retry.Retries == 0 {
			continue
		}
		for _, p := range writePrefixes {
			if strings.HasPrefix(n.Data.Action, p) {
				report.Add(Finding{
					Code:     CodeNoIdempotency,
					Severity: SeverityWarning,
					Path:     "$.nodes[" + n.ID + "].data.retry",
					Message:  fmt.Sprintf("write action %q retries without provider-side idempotency", n.Data.Action),
					Hint:     "confirm the provider honors idempotency keys before enabling retries",
				})
				break
			}
		}
	}
}

func checkMissingRetryPolicy(_ *LintContext, doc *core.DAG, report *LintReport) {
	globalRetry := doc.Globals != nil && doc.Globals.Retry != nil
	for _, n := range doc.Nodes {
		if n.Type != core.NodeTypeAction || n.Data.Retry != nil || globalRetry {
			continue
		}
		report.Add(Finding{
			Code:     CodeMissingRetryPolicy,
			Severity: SeverityWarning,
			Path:     "$.nodes[" + n.ID + "].data",
			Message:  "action has no retry policy; transient provider failures fail the run",
			Hint:     "set retry on the node or a default under globals",
		})
	}
}

// pollSlugMarker identifies triggers that poll rather than receive webhooks.
const pollSlugMarker = "_POLL"

func checkPollNoCursor(_ *LintContext, doc *core.DAG, report *LintReport) {
	for _, n := range doc.Nodes {
		if n.Type != core.NodeTypeTrigger || n.Data.Kind != core.TriggerKindEvent {
			continue
		}
		if !strings.Contains(n.Data.TriggerSlug, pollSlugMarker) {
			continue
		}
		if _, ok := n.Data.Filter["cursor"]; ok {
			continue
		}
		report.Add(Finding{
			Code:           CodePollNoCursor,
			Severity:       SeverityError,
			Path:           "$.nodes[" + n.ID + "].data.filter",
			Message:        "polling trigger has no cursor; each poll re-delivers the full page",
			Hint:           "add filter.cursor to resume from the last delivery",
			AutoRepairable: true,
		})
	}
}

func checkWebhookNoVerify(_ *LintContext, doc *core.DAG, report *LintReport) {
	for _, n := range doc.Nodes {
		if n.Type != core.NodeTypeTrigger || n.Data.Kind != core.TriggerKindEvent {
			continue
		}
		if strings.Contains(n.Data.TriggerSlug, pollSlugMarker) {
			continue
		}
		if verify, ok := n.Data.Filter["verify_signature"].(bool); ok && verify {
			continue
		}
		report.Add(Finding{
			Code:           CodeWebhookNoVerify,
			Severity:       SeverityError,
			Path:           "$.nodes[" + n.ID + "].data.filter",
			Message:        "webhook trigger does not verify delivery signatures",
			Hint:           "set filter.verify_signature to true",
			AutoRepairable: true,
		})
	}
}

// secretKeyMarkers flag input_template keys that typically carry credentials.
var secretKeyMarkers = []string{"password", "secret", "token", "api_key", "apikey", "authorization"}

func checkPlaintextSecret(_ *LintContext, doc *core.DAG, report *LintReport) {
	for _, n := range doc.Nodes {
		if n.Type != core.NodeTypeAction {
			continue
		}
		for key, val := range n.Data.InputTemplate {
			s, ok := val.(string)
			if !ok || s == "" || hasPlaceholder(s) {
				continue
			}
			lower := strings.ToLower(key)
			for _, marker := range secretKeyMarkers {
				if strings.Contains(lower, marker) {
					report.Add(Finding{
						Code:           CodePlaintextSecret,
						Severity:       SeverityError,
						Path:           "$.nodes[" + n.ID + "].data.input_template." + key,
						Message:        fmt.Sprintf("parameter %q holds a literal credential", key),
						Hint:           "reference the connection instead of embedding the secret",
						AutoRepairable: true,
					})
					break
				}
			}
		}
	}
}
