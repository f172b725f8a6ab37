// Package flowtools implements the three built-in tools through which a
// flow reports its own outcome back out: generate_message_summary (the
// Associate submission tool), generate_markdown_report (the Principal's
// synthesis artifact), and finish_flow (the generic terminal-success
// signal). All three are registered once into the shared, boot-time tool
// registry; their per-flow target is threaded through context.Context
// rather than a closure, so the registry itself stays a single read-only
// instance shared by every flow in a run.
package flowtools

import (
	"context"
	"sync"

	"github.com/kadirpekel/conclave/tool"
)

// Submission holds one flow's self-reported outcome artifacts. A flow
// owns exactly one Submission and threads it through context for the
// duration of its run; calling a submission tool more than once replaces
// the previous value, per generate_message_summary's documented contract.
type Submission struct {
	mu                sync.Mutex
	findings          string
	findingsSubmitted bool
	report            string
	reportSubmitted   bool
}

// Findings returns the most recently submitted Associate findings and
// whether generate_message_summary was ever called.
func (s *Submission) Findings() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findings, s.findingsSubmitted
}

// Report returns the most recently submitted Principal synthesis and
// whether generate_markdown_report was ever called.
func (s *Submission) Report() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report, s.reportSubmitted
}

type submissionKey struct{}

// WithSubmission binds s as the active submission target for tool calls
// made against ctx; flow.Runner.Run calls this once per run of the flow,
// before its turn loop starts.
func WithSubmission(ctx context.Context, s *Submission) context.Context {
	return context.WithValue(ctx, submissionKey{}, s)
}

func fromContext(ctx context.Context) (*Submission, bool) {
	s, ok := ctx.Value(submissionKey{}).(*Submission)
	return s, ok
}

// GenerateMessageSummaryParams is generate_message_summary's parameter
// shape.
type GenerateMessageSummaryParams struct {
	CurrentAssociateFindings string `json:"current_associate_findings" required:"true"`
}

// GenerateMarkdownReportParams is generate_markdown_report's parameter
// shape.
type GenerateMarkdownReportParams struct {
	PrincipalFinalSynthesis string `json:"principal_final_synthesis" required:"true"`
}

// FinishFlowParams is finish_flow's parameter shape: it takes none.
type FinishFlowParams struct{}

// RegisterAll wires all three submission tools into reg. Called once at
// boot against the shared registry.
func RegisterAll(reg *tool.Registry) error {
	if err := tool.Register(reg, "generate_message_summary",
		"Submit this Associate's findings for the work module it was dispatched to handle. Ends the flow with outcome success.",
		"submission", true,
		func(ctx context.Context, p GenerateMessageSummaryParams) tool.Result {
			sub, ok := fromContext(ctx)
			if !ok {
				return tool.Err("generate_message_summary: no active flow submission context")
			}
			sub.mu.Lock()
			sub.findings = p.CurrentAssociateFindings
			sub.findingsSubmitted = true
			sub.mu.Unlock()
			return tool.Ok(map[string]string{"status": "recorded"})
		}); err != nil {
		return err
	}

	if err := tool.Register(reg, "generate_markdown_report",
		"Record the Principal's final synthesis as a markdown report artifact. Does not end the turn.",
		"submission", false,
		func(ctx context.Context, p GenerateMarkdownReportParams) tool.Result {
			sub, ok := fromContext(ctx)
			if !ok {
				return tool.Err("generate_markdown_report: no active flow submission context")
			}
			sub.mu.Lock()
			sub.report = p.PrincipalFinalSynthesis
			sub.reportSubmitted = true
			sub.mu.Unlock()
			return tool.Ok(map[string]string{"status": "recorded"})
		}); err != nil {
		return err
	}

	return tool.Register(reg, "finish_flow",
		"Signal that this flow is done; the flow decider translates this into a terminal success outcome.",
		"submission", true,
		func(ctx context.Context, p FinishFlowParams) tool.Result {
			return tool.Ok(map[string]string{"status": "finished"})
		})
}
