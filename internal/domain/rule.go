package domain

import "time"

// ContextRule is a CEL expression over event context. When it fires it
// contributes Weight (scaled by the expression's score) to threshold
// tightening under the contextual strategy.
type ContextRule struct {
	ID          string `json:"id"`
	HomeID      string `json:"homeId,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression returning bool or a score in [0, 1]
	Expression string `json:"expression"`

	// Tightening contributed when the expression fires fully
	Weight float64 `json:"weight"`

	// Human readable reason attached to assessments
	Reason string `json:"reason"`

	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Predefined context rule IDs for the default rule set.
const (
	ContextRuleUnusualHour     = "ctx-unusual-hour"
	ContextRuleOccupantsAway   = "ctx-occupants-away"
	ContextRulePartialIdentity = "ctx-partial-identity"
	ContextRuleBusyPremises    = "ctx-busy-premises"
	ContextRuleLongDwell       = "ctx-long-dwell"
)
