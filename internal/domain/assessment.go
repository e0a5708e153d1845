package domain

import (
	"fmt"
	"strings"
	"time"
)

// Assessment is the complete reasoning result for one event.
type Assessment struct {
	ID          string             `json:"id"`
	EventID     string             `json:"eventId"`
	HomeID      string             `json:"homeId"`
	Track       string             `json:"track"`
	Camera      string             `json:"camera"`
	IncidentID  uint64             `json:"incidentId"`
	Probability float64            `json:"probability"`
	RawLogit    float64            `json:"rawLogit"`
	Evidence    Evidence           `json:"evidence"`
	Decision    Decision           `json:"decision"`
	Suppression SuppressionOutcome `json:"suppression"`
	Context     ContextFactors     `json:"context,omitempty"`
	Explanation *Explanation       `json:"explanation,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`

	// Processing metadata
	Metadata AssessmentMetadata `json:"metadata"`
}

// Notify reports whether a human should be notified for this assessment.
func (a *Assessment) Notify() bool {
	return a.Decision.AlertWorthy() && a.Suppression.Status == SuppressionSend
}

// AssessmentMetadata contains processing information.
type AssessmentMetadata struct {
	TraceID       string  `json:"traceId"`
	EventTs       float64 `json:"eventTs"`
	ContextMs     int64   `json:"contextMs"`
	ReasoningUs   int64   `json:"reasoningUs"`
	TotalMs       int64   `json:"totalMs"`
	RulesFired    int     `json:"rulesFired"`
	EventsInView  int     `json:"eventsInView"`
	EngineVersion string  `json:"engineVersion"`
}

// ExplainLevel gates how much explanation an assessment carries.
type ExplainLevel string

const (
	ExplainNone    ExplainLevel = "none"
	ExplainSummary ExplainLevel = "summary"
	ExplainFull    ExplainLevel = "full"
)

// ParseExplainLevel validates a level name. Empty means summary.
func ParseExplainLevel(name string) (ExplainLevel, error) {
	switch ExplainLevel(strings.ToLower(name)) {
	case "", ExplainSummary:
		return ExplainSummary, nil
	case ExplainNone:
		return ExplainNone, nil
	case ExplainFull:
		return ExplainFull, nil
	}
	return "", fmt.Errorf("unknown explain level %q", name)
}

// Explanation bundles the human-facing reasoning artifacts.
type Explanation struct {
	Summary         string       `json:"summary"`
	Questions       []Question   `json:"questions,omitempty"`
	Counterfactuals []Suggestion `json:"counterfactuals,omitempty"`
	ActionPlan      []Suggestion `json:"actionPlan,omitempty"`
}

// Suggestion is one evidence change that would move the decision.
type Suggestion struct {
	Channel     Channel `json:"channel,omitempty"`
	Action      string  `json:"action,omitempty"`
	Delta       float64 `json:"delta"`
	Reachable   bool    `json:"reachable"`
	Description string  `json:"description"`
}

// QuestionKind identifies a follow-up the system can ask or wait for.
type QuestionKind string

const (
	QuestionCheckDoorbell      QuestionKind = "check_doorbell_log"
	QuestionCheckDeliveryToken QuestionKind = "check_delivery_token"
	QuestionImproveFace        QuestionKind = "improve_face_capture"
	QuestionSecondAngle        QuestionKind = "request_second_angle"
)

// Question is a follow-up ranked by expected entropy reduction.
type Question struct {
	Kind              QuestionKind `json:"kind"`
	Target            string       `json:"target,omitempty"`
	ExpectedReduction float64      `json:"expectedReduction"`
	Prompt            string       `json:"prompt"`
}

// AssessmentResponse is the API response for an event assessment.
type AssessmentResponse struct {
	AssessmentID string             `json:"assessmentId"`
	EventID      string             `json:"eventId"`
	HomeID       string             `json:"homeId"`
	IncidentID   uint64             `json:"incidentId"`
	Probability  float64            `json:"probability"`
	Action       Action             `json:"action"`
	Severity     Severity           `json:"severity"`
	Notify       bool               `json:"notify"`
	Suppression  SuppressionOutcome `json:"suppression"`
	Reasons      []string           `json:"reasons,omitempty"`
	Explanation  *Explanation       `json:"explanation,omitempty"`
	Metadata     AssessmentMetadata `json:"metadata"`
}

// ToResponse converts an Assessment to an API response.
func (a *Assessment) ToResponse() *AssessmentResponse {
	var reasons []string
	for _, f := range a.Context {
		if f.Reason != "" {
			reasons = append(reasons, f.Reason)
		}
	}
	if a.Decision.Fallback && a.Decision.Reason != "" {
		reasons = append(reasons, a.Decision.Reason)
	}

	return &AssessmentResponse{
		AssessmentID: a.ID,
		EventID:      a.EventID,
		HomeID:       a.HomeID,
		IncidentID:   a.IncidentID,
		Probability:  a.Probability,
		Action:       a.Decision.Action,
		Severity:     a.Decision.Severity,
		Notify:       a.Notify(),
		Suppression:  a.Suppression,
		Reasons:      reasons,
		Explanation:  a.Explanation,
		Metadata:     a.Metadata,
	}
}
