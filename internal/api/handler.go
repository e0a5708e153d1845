package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/watchpost/internal/assess"
	"github.com/opensource-finance/watchpost/internal/decision"
	"github.com/opensource-finance/watchpost/internal/domain"
	"github.com/opensource-finance/watchpost/internal/incident"
	"github.com/opensource-finance/watchpost/internal/metrics"
	"github.com/opensource-finance/watchpost/internal/repository"
)

// Deps are the collaborators the HTTP handlers use. Only Assessor is
// required; the outer layers degrade to 503 on endpoints that need them.
type Deps struct {
	Assessor       *assess.Assessor
	Sink           *assess.Sink
	Repo           domain.Repository
	Cache          domain.Cache
	Bus            domain.EventBus
	Metrics        *metrics.Metrics
	DefaultExplain domain.ExplainLevel
	Version        string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	assessor       *assess.Assessor
	sink           *assess.Sink
	repo           domain.Repository
	cache          domain.Cache
	bus            domain.EventBus
	metrics        *metrics.Metrics
	defaultExplain domain.ExplainLevel
	version        string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	explain := deps.DefaultExplain
	if explain == "" {
		explain = domain.ExplainSummary
	}
	return &Handler{
		assessor:       deps.Assessor,
		sink:           deps.Sink,
		repo:           deps.Repo,
		cache:          deps.Cache,
		bus:            deps.Bus,
		metrics:        deps.Metrics,
		defaultExplain: explain,
		version:        deps.Version,
	}
}

// AcceptedResponse is returned for asynchronously queued events.
type AcceptedResponse struct {
	EventID string `json:"eventId"`
	Status  string `json:"status"`
	TraceID string `json:"traceId"`
}

// IngestEvent handles POST /events. With async=true the event is queued on
// the bus for the worker; otherwise it is assessed inline.
func (h *Handler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	homeID := GetHomeID(ctx)
	traceID := GetTraceID(ctx)

	var ev domain.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	ev.HomeID = homeID

	level := h.defaultExplain
	if q := r.URL.Query().Get("explain"); q != "" {
		parsed, err := domain.ParseExplainLevel(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		level = parsed
	}

	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	if async {
		h.enqueue(w, r, ev, level)
		return
	}

	a, err := h.assessor.Assess(ctx, ev, level)
	if err != nil {
		writeAssessError(w, err)
		return
	}
	if a.Metadata.TraceID == "" {
		a.Metadata.TraceID = traceID
	}
	ev.ID = a.EventID

	h.sink.Record(ctx, &ev, a)

	writeJSON(w, http.StatusOK, a.ToResponse())
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, ev domain.Event, level domain.ExplainLevel) {
	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus not available")
		return
	}
	if err := ev.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}

	traceID := GetTraceID(r.Context())
	payload, err := json.Marshal(domain.EventMessage{Event: ev, Explain: level, TraceID: traceID})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode event")
		return
	}
	if err := h.bus.Publish(r.Context(), ev.HomeID, domain.TopicEventIngested, payload); err != nil {
		slog.Error("failed to queue event",
			"home_id", ev.HomeID,
			"event_id", ev.ID,
			"error", err,
		)
		writeError(w, http.StatusServiceUnavailable, "failed to queue event")
		return
	}

	writeJSON(w, http.StatusAccepted, AcceptedResponse{
		EventID: ev.ID,
		Status:  "accepted",
		TraceID: traceID,
	})
}

func writeAssessError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, incident.ErrOutOfOrder):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, incident.ErrInvalidEvent):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("assessment failed", "error", err)
		writeError(w, http.StatusInternalServerError, "assessment failed")
	}
}

// GetIncident handles GET /incidents/{track}.
func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	homeID := GetHomeID(r.Context())
	track := chi.URLParam(r, "track")

	inc, ok := h.assessor.Incident(homeID, track)
	if !ok {
		writeError(w, http.StatusNotFound, "incident not found")
		return
	}

	writeJSON(w, http.StatusOK, inc)
}

// GetAssessment handles GET /assessments/{id}.
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	homeID := GetHomeID(ctx)
	id := chi.URLParam(r, "id")

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	a, err := h.repo.GetAssessment(ctx, homeID, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "assessment not found")
			return
		}
		slog.Error("failed to get assessment", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get assessment")
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// ListTrackEvents handles GET /tracks/{track}/events. The optional since
// query parameter is an event timestamp in seconds.
func (h *Handler) ListTrackEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	homeID := GetHomeID(ctx)
	track := chi.URLParam(r, "track")

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	var since float64
	if raw := r.URL.Query().Get("since"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			writeError(w, http.StatusBadRequest, "since must be a finite number")
			return
		}
		since = v
	}

	events, err := h.repo.ListEventsByTrack(ctx, homeID, track, since)
	if err != nil {
		slog.Error("failed to list events", "home_id", homeID, "track", track, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []*domain.Event{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"track":  track,
		"events": events,
		"count":  len(events),
	})
}

// GetLatestAssessment handles GET /assessments/latest/{track}.
func (h *Handler) GetLatestAssessment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	homeID := GetHomeID(ctx)
	track := chi.URLParam(r, "track")

	if h.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "cache not available")
		return
	}

	a, err := h.cache.GetLatestAssessment(ctx, homeID, track)
	if err != nil {
		slog.Warn("failed to read latest assessment", "track", track, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read latest assessment")
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "no recent assessment for track")
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// GetCooldown handles GET /cooldowns/{camera}/{track}.
func (h *Handler) GetCooldown(w http.ResponseWriter, r *http.Request) {
	homeID := GetHomeID(r.Context())
	camera := chi.URLParam(r, "camera")
	track := chi.URLParam(r, "track")

	state, ok := h.assessor.Cooldown(homeID, camera, track)
	if !ok {
		writeError(w, http.StatusNotFound, "no cooldown state")
		return
	}

	writeJSON(w, http.StatusOK, state)
}

// ListContextRules handles GET /context-rules. A home sees the global rules
// plus its own.
func (h *Handler) ListContextRules(w http.ResponseWriter, r *http.Request) {
	homeID := GetHomeID(r.Context())
	engine := h.assessor.Rules()
	if engine == nil {
		writeError(w, http.StatusServiceUnavailable, "context rules not enabled")
		return
	}

	visible := make([]*domain.ContextRule, 0)
	for _, rule := range engine.GetLoadedRules() {
		if rule.HomeID == "" || rule.HomeID == homeID {
			visible = append(visible, rule)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": visible,
		"count": len(visible),
	})
}

// CreateContextRuleRequest is the body of POST /context-rules.
type CreateContextRuleRequest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Expression  string  `json:"expression"`
	Weight      float64 `json:"weight"`
	Reason      string  `json:"reason"`
	Enabled     bool    `json:"enabled"`
}

// CreateContextRule handles POST /context-rules. The rule is scoped to the
// calling home, persisted when a repository is configured and loaded
// immediately.
func (h *Handler) CreateContextRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	homeID := GetHomeID(ctx)
	engine := h.assessor.Rules()
	if engine == nil {
		writeError(w, http.StatusServiceUnavailable, "context rules not enabled")
		return
	}

	var req CreateContextRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeError(w, http.StatusBadRequest, "id, name, and expression are required")
		return
	}

	rule := &domain.ContextRule{
		ID:          req.ID,
		HomeID:      homeID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Weight:      req.Weight,
		Reason:      req.Reason,
		Enabled:     req.Enabled,
	}

	if err := engine.ValidateRule(rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid context rule: "+err.Error())
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveContextRule(ctx, homeID, rule); err != nil {
			slog.Error("failed to save context rule", "id", rule.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to save context rule")
			return
		}
	}

	if rule.Enabled {
		if err := engine.LoadRule(rule); err != nil {
			writeError(w, http.StatusBadRequest, "invalid context rule: "+err.Error())
			return
		}
	}

	slog.Info("context rule created", "home_id", homeID, "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    rule,
		"message": "context rule created and loaded",
	})
}

// GetContextRule handles GET /context-rules/{id}. Only the home's own
// stored rules are returned.
func (h *Handler) GetContextRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	homeID := GetHomeID(ctx)
	ruleID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	rule, err := h.repo.GetContextRule(ctx, homeID, ruleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "context rule not found")
			return
		}
		slog.Error("failed to get context rule", "id", ruleID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get context rule")
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// ReloadContextRules handles POST /context-rules/reload. It replaces the
// calling home's loaded rules with the ones stored in the repository.
func (h *Handler) ReloadContextRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	homeID := GetHomeID(ctx)
	engine := h.assessor.Rules()
	if engine == nil {
		writeError(w, http.StatusServiceUnavailable, "context rules not enabled")
		return
	}
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	stored, err := h.repo.ListContextRules(ctx, homeID)
	if err != nil {
		slog.Error("failed to list context rules", "home_id", homeID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load context rules")
		return
	}

	if err := engine.ReloadHomeRules(homeID, stored); err != nil {
		slog.Error("failed to reload context rules", "home_id", homeID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reload context rules: "+err.Error())
		return
	}

	slog.Info("context rules reloaded", "home_id", homeID, "count", len(stored))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "context rules reloaded",
		"count":   len(stored),
	})
}

// DeleteContextRule handles DELETE /context-rules/{id}.
func (h *Handler) DeleteContextRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	homeID := GetHomeID(ctx)
	ruleID := chi.URLParam(r, "id")
	engine := h.assessor.Rules()
	if engine == nil {
		writeError(w, http.StatusServiceUnavailable, "context rules not enabled")
		return
	}

	if h.repo != nil {
		if err := h.repo.DeleteContextRule(ctx, homeID, ruleID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				writeError(w, http.StatusNotFound, "context rule not found")
				return
			}
			slog.Error("failed to delete context rule", "id", ruleID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to delete context rule")
			return
		}
	}
	engine.RemoveRule(homeID, ruleID)

	w.WriteHeader(http.StatusNoContent)
}

// ConfigResponse describes the reasoning parameters in effect.
type ConfigResponse struct {
	Reasoning      domain.ReasoningConfig `json:"reasoning"`
	Thresholds     []decision.Tier        `json:"thresholds"`
	DefaultExplain domain.ExplainLevel    `json:"defaultExplain"`
	ContextRules   int                    `json:"contextRules"`
	Version        string                 `json:"version"`
}

// GetConfig handles GET /config.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	resp := ConfigResponse{
		Reasoning:      h.assessor.Config(),
		Thresholds:     h.assessor.Thresholds(),
		DefaultExplain: h.defaultExplain,
		Version:        h.version,
	}
	if engine := h.assessor.Rules(); engine != nil {
		resp.ContextRules = engine.RulesCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	components := map[string]string{}

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			status = "degraded"
			components[name] = err.Error()
			return
		}
		components[name] = "ok"
	}
	if h.repo != nil {
		check("repository", func() error { return h.repo.Ping(r.Context()) })
	}
	if h.cache != nil {
		check("cache", func() error { return h.cache.Ping(r.Context()) })
	}
	if h.bus != nil {
		check("bus", func() error { return h.bus.Ping(r.Context()) })
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"version":    h.version,
		"components": components,
	})
}

// Ready handles GET /ready.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
