package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/teranos/brandguard/audit"
	"github.com/teranos/brandguard/pipeline"
	"github.com/teranos/brandguard/rules"
)

// NewAuditor returns the classification stage. It evaluates the rule set in
// force at the time the stage runs and streams each finding as it is made.
func NewAuditor(active *rules.Active) pipeline.Stage {
	return pipeline.NewStage(StageAuditor, func(ctx context.Context, state *audit.State, emit pipeline.Emitter) (audit.Update, error) {
		set := active.Load()
		snap := state.Snapshot()

		var findings []audit.Finding
		if snap.Transcript != nil {
			findings = append(findings, set.Evaluate("transcript", *snap.Transcript)...)
		}
		for _, line := range snap.OCRText {
			findings = append(findings, set.Evaluate("on-screen text", line)...)
		}

		for _, f := range findings {
			if err := emit(map[string]any{"finding": f}); err != nil {
				return audit.Update{}, err
			}
		}
		return audit.Update{ComplianceResults: findings}, nil
	})
}

// NewReporter returns the terminal stage that sets the verdict and report
func NewReporter() pipeline.Stage {
	return pipeline.NewStage(StageReporter, func(ctx context.Context, state *audit.State, emit pipeline.Emitter) (audit.Update, error) {
		snap := state.Snapshot()
		status := audit.StatusPass
		if snap.HasCritical() {
			status = audit.StatusFail
		}
		report := renderReport(snap, status)
		return audit.Update{FinalStatus: &status, FinalReport: &report}, nil
	})
}

func renderReport(snap audit.Snapshot, status audit.Status) string {
	var b strings.Builder
	b.WriteString("# Compliance Audit Report\n\n")
	fmt.Fprintf(&b, "- Video: %s\n", snap.VideoURL)
	fmt.Fprintf(&b, "- Video ID: %s\n", snap.VideoID)
	fmt.Fprintf(&b, "- Status: %s\n\n", strings.ToUpper(string(status)))

	fmt.Fprintf(&b, "## Findings (%d)\n\n", len(snap.ComplianceResults))
	if len(snap.ComplianceResults) == 0 {
		b.WriteString("No compliance issues detected.\n")
	} else {
		b.WriteString("| Severity | Category | Description |\n|---|---|---|\n")
		for _, f := range snap.ComplianceResults {
			desc := strings.ReplaceAll(f.Description, "|", `\|`)
			if f.Timestamp != nil {
				desc = fmt.Sprintf("[%s] %s", *f.Timestamp, desc)
			}
			fmt.Fprintf(&b, "| %s | %s | %s |\n", f.Severity, f.Category, desc)
		}
	}

	if len(snap.Errors) > 0 {
		b.WriteString("\n## Errors\n\n")
		for _, e := range snap.Errors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}
	return b.String()
}
