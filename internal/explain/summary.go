package explain

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/watchpost/internal/domain"
)

// SummarizeIncident renders a deterministic plain-text incident summary.
func SummarizeIncident(inc *domain.Incident, fused domain.Evidence, p float64, suppressed int) string {
	var span float64
	if last := inc.Latest(); last != nil {
		span = inc.Duration() + last.DwellSeconds
	}

	door := "no doorbell/knock"
	switch {
	case inc.RangDoorbell():
		door = "rang doorbell"
	case inc.Knocked():
		door = "knocked"
	}

	cameras := "unknown camera"
	if len(inc.Cameras) > 0 {
		cameras = strings.Join(inc.Cameras, ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Activity on track %s (%s)\n", inc.Track, cameras)
	fmt.Fprintf(&b, "Total dwell %.0fs over %.0fs window, %s.\n", inc.TotalDwell(), span, door)
	if inc.Ledger.Resolved {
		fmt.Fprintf(&b, "Identity: %s confirmed x%d.\n", inc.Ledger.Identity, inc.Ledger.Confirmations)
	}
	fmt.Fprintf(&b, "Fused LLR: time=%+.2f, entry=%+.2f, behavior=%+.2f, identity=%+.2f, presence=%+.2f, token=%+.2f.\n",
		fused.Time, fused.Entry, fused.Behavior, fused.Identity, fused.Presence, fused.Token)
	fmt.Fprintf(&b, "Calibrated threat: %.1f%%\n", p*100)
	fmt.Fprintf(&b, "Suppressed duplicates: %d", suppressed)
	return b.String()
}

// FormatBlock renders an assessment as the multi-line block printed by the
// replay command.
func FormatBlock(a *domain.Assessment) string {
	var b strings.Builder
	b.WriteString("=== Watchpost Assessment ===\n")
	fmt.Fprintf(&b, "Incident #%d %s/%s via %s at t=%.1fs\n", a.IncidentID, a.HomeID, a.Track, a.Camera, a.Metadata.EventTs)
	fmt.Fprintf(&b, "Decision: %s (severity %s, p=%.1f%%, raw=%+.2f)",
		a.Decision.Action, a.Decision.Severity, a.Probability*100, a.RawLogit)
	if a.Suppression.Status != domain.SuppressionNone {
		fmt.Fprintf(&b, " [%s, %d suppressed]", a.Suppression.Status, a.Suppression.Count)
	}
	if a.Decision.Fallback {
		fmt.Fprintf(&b, " [fallback: %s]", a.Decision.Reason)
	}
	b.WriteString("\n")

	for _, f := range a.Context {
		fmt.Fprintf(&b, "Context: %s (%.2f)\n", f.Reason, f.Weight)
	}

	ex := a.Explanation
	if ex == nil {
		return b.String()
	}
	if ex.Summary != "" {
		b.WriteString("\n")
		b.WriteString(ex.Summary)
		b.WriteString("\n")
	}
	if len(ex.Questions) > 0 {
		b.WriteString("\nFollow-up questions:\n")
		for _, q := range ex.Questions {
			fmt.Fprintf(&b, "  - %s (dH=%.3f)\n", q.Prompt, q.ExpectedReduction)
		}
	}
	if len(ex.Counterfactuals) > 0 {
		b.WriteString("\nCounterfactuals:\n")
		for _, s := range ex.Counterfactuals {
			fmt.Fprintf(&b, "  - %s (dLLR=%+.2f)\n", s.Description, s.Delta)
		}
	}
	if len(ex.ActionPlan) > 0 {
		b.WriteString("\nTo downgrade this alert:\n")
		for _, s := range ex.ActionPlan {
			fmt.Fprintf(&b, "  - %s (dLLR=%+.2f)\n", s.Description, s.Delta)
		}
	}
	return b.String()
}
