package rules

import "github.com/opensource-finance/watchpost/internal/domain"

// DefaultContextRules returns the context rules seeded on first start.
func DefaultContextRules() []*domain.ContextRule {
	return []*domain.ContextRule{
		{
			ID:          domain.ContextRuleUnusualHour,
			Name:        "Unusual hour",
			Description: "Activity outside the household's expected visiting window",
			Version:     "1.0.0",
			Expression:  "!expected_window",
			Weight:      0.10,
			Reason:      "outside expected visiting window",
			Enabled:     true,
		},
		{
			ID:          domain.ContextRuleOccupantsAway,
			Name:        "Occupants away",
			Description: "Household is likely away",
			Version:     "1.0.0",
			Expression:  "away_prob >= 0.7",
			Weight:      0.10,
			Reason:      "occupants likely away",
			Enabled:     true,
		},
		{
			ID:          domain.ContextRulePartialIdentity,
			Name:        "Partial identity match",
			Description: "Face matched with middling confidence and no confirmed identity",
			Version:     "1.0.0",
			Expression:  `known_identity == "" && identity_confidence >= 0.3 && identity_confidence < 0.7`,
			Weight:      0.05,
			Reason:      "identity uncertain",
			Enabled:     true,
		},
		{
			ID:          domain.ContextRuleBusyPremises,
			Name:        "Multiple entities",
			Description: "Several distinct tracks active at the premises",
			Version:     "1.0.0",
			Expression:  "sightings >= 3",
			Weight:      0.05,
			Reason:      "multiple entities on premises",
			Enabled:     true,
		},
		{
			ID:          domain.ContextRuleLongDwell,
			Name:        "Silent loitering",
			Description: "Long dwell without ringing or knocking",
			Version:     "1.0.0",
			Expression:  "dwell_seconds >= 60.0 && !rang_doorbell && !knocked",
			Weight:      0.10,
			Reason:      "long dwell without doorbell or knock",
			Enabled:     true,
		},
	}
}
