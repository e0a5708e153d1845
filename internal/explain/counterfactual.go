// Package explain produces the human-facing side of an assessment:
// counterfactuals, follow-up questions and incident summaries.
package explain

import (
	"fmt"
	"math"
	"sort"

	"github.com/opensource-finance/watchpost/internal/domain"
)

// FlipMargin is how far past the threshold a counterfactual lands.
const FlipMargin = 1e-6

// MinimalChangesToThreshold returns, for every channel, the single-channel
// change that moves prior + sum(fused) across targetLogit. A suggestion is
// unreachable when the changed channel would leave [-negCap, posCap].
// Results are ordered reachable first, then by magnitude, then by channel.
func MinimalChangesToThreshold(fused domain.Evidence, priorLogit, targetLogit, posCap, negCap float64) []domain.Suggestion {
	raw := priorLogit + fused.Sum()
	delta := targetLogit - raw
	if raw >= targetLogit {
		delta -= FlipMargin
	} else {
		delta += FlipMargin
	}

	out := make([]domain.Suggestion, 0, len(domain.Channels))
	for _, ch := range domain.Channels {
		next := fused.Component(ch) + delta
		s := domain.Suggestion{
			Channel:   ch,
			Delta:     delta,
			Reachable: next >= -negCap && next <= posCap,
		}
		verb := "raise"
		if delta < 0 {
			verb = "lower"
		}
		s.Description = fmt.Sprintf("%s %s evidence by %.2f (to %+.2f)", verb, ch, math.Abs(delta), next)
		if !s.Reachable {
			s.Description += ", beyond the evidence cap"
		}
		out = append(out, s)
	}

	order := make(map[domain.Channel]int, len(domain.Channels))
	for i, ch := range domain.Channels {
		order[ch] = i
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Reachable != out[j].Reachable {
			return out[i].Reachable
		}
		if di, dj := math.Abs(out[i].Delta), math.Abs(out[j].Delta); di != dj {
			return di < dj
		}
		return order[out[i].Channel] < order[out[j].Channel]
	})
	return out
}

// Unreachable marks every suggestion as unreachable. It is used when the
// target threshold lies outside the probabilities calibration can produce,
// so no evidence change can flip the decision.
func Unreachable(suggestions []domain.Suggestion) []domain.Suggestion {
	for i := range suggestions {
		suggestions[i].Reachable = false
		suggestions[i].Description += ", cannot flip the decision under the current thresholds"
	}
	return suggestions
}

// visitorAction is a concrete benign behavior with a fixed log-likelihood.
type visitorAction struct {
	id          string
	delta       float64
	description string
	done        func(*domain.Incident) bool
}

var visitorActions = []visitorAction{
	{"present_delivery_token", -2.2, "Present a valid delivery or service token", (*domain.Incident).HasToken},
	{"recognized_guest", -1.8, "Be recognized as family or a known guest", func(inc *domain.Incident) bool { return inc.Ledger.Resolved }},
	{"ring_or_knock", -1.2, "Ring the doorbell or knock", func(inc *domain.Incident) bool { return inc.RangDoorbell() || inc.Knocked() }},
	{"public_path", -0.6, "Approach via the public path", nil},
	{"short_dwell", -0.3, "Keep dwell time below 20s", func(inc *domain.Incident) bool { return inc.TotalDwell() < 20 }},
}

// ActionPlan greedily picks the strongest visitor behaviors not already
// observed until the raw logit would drop to targetLogit. It is empty when
// the incident is already below the target.
func ActionPlan(inc *domain.Incident, fused domain.Evidence, priorLogit, targetLogit float64) []domain.Suggestion {
	logit := priorLogit + fused.Sum()
	var plan []domain.Suggestion
	for _, a := range visitorActions {
		if logit <= targetLogit {
			break
		}
		if a.done != nil && a.done(inc) {
			continue
		}
		logit += a.delta
		plan = append(plan, domain.Suggestion{
			Action:      a.id,
			Delta:       a.delta,
			Description: a.description,
		})
	}

	reached := logit <= targetLogit
	for i := range plan {
		plan[i].Reachable = reached
	}
	return plan
}
