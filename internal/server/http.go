package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/finchops/finch/internal/idgen"
	"github.com/finchops/finch/internal/model"
	"github.com/finchops/finch/internal/store"
)

// NewHTTPHandler returns an http.Handler with all routes registered. Every
// tenant-scoped route requires an org query parameter; the engine trusts the
// gateway in front of it to have authenticated the caller.
func (s *Server) NewHTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/notifications", s.handleListNotifications)
	mux.HandleFunc("POST /v1/notifications/{id}/read", s.handleMarkNotificationRead)
	mux.HandleFunc("GET /v1/activity", s.handleListActivity)
	mux.HandleFunc("GET /v1/rules", s.handleListRules)
	mux.HandleFunc("POST /v1/rules", s.handleCreateRule)
	mux.HandleFunc("GET /v1/rules/{id}", s.handleGetRule)
	mux.HandleFunc("PUT /v1/rules/{id}", s.handleUpdateRule)
	mux.HandleFunc("DELETE /v1/rules/{id}", s.handleDeleteRule)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org")
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "org is required")
		return
	}
	f := store.NotificationFilter{
		OrgID:      orgID,
		UserID:     r.URL.Query().Get("user"),
		UnreadOnly: r.URL.Query().Get("unread") == "true",
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}

	notifications, err := s.store.ListNotifications(r.Context(), f)
	if err != nil {
		s.log.Error("list notifications failed", "org_id", orgID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": notifications})
}

func (s *Server) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org")
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "org is required")
		return
	}
	id := r.PathValue("id")

	err := s.store.MarkNotificationRead(r.Context(), orgID, id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	if err != nil {
		s.log.Error("mark notification read failed", "org_id", orgID, "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to mark notification read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

func (s *Server) handleListActivity(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org")
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "org is required")
		return
	}
	f := store.ActivityFilter{
		OrgID:      orgID,
		EntityType: model.EntityType(r.URL.Query().Get("entity_type")),
		EntityID:   r.URL.Query().Get("entity_id"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}

	entries, err := s.store.ListActivity(r.Context(), f)
	if err != nil {
		s.log.Error("list activity failed", "org_id", orgID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list activity")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": entries})
}

// ruleRequest is the create/update payload for a workflow rule.
type ruleRequest struct {
	Name              string           `json:"name"`
	TriggerEntityType model.EntityType `json:"trigger_entity_type"`
	TriggerEventType  model.EventType  `json:"trigger_event_type"`
	Active            *bool            `json:"active"`
	ExecutionOrder    int              `json:"execution_order"`
	Condition         model.Condition  `json:"condition"`
	Actions           []model.Action   `json:"actions"`
}

func (req *ruleRequest) validate() string {
	if req.Name == "" {
		return "name is required"
	}
	if req.TriggerEntityType == "" || req.TriggerEventType == "" {
		return "trigger_entity_type and trigger_event_type are required"
	}
	if !req.Condition.Empty() && !req.Condition.Op.IsValid() {
		return "invalid condition operator"
	}
	for _, a := range req.Actions {
		switch a.Type {
		case model.ActionWebhook, model.ActionNotifyUser, model.ActionLog:
		default:
			return "unknown action type " + string(a.Type)
		}
	}
	return ""
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org")
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "org is required")
		return
	}
	rules, err := s.store.ListRules(r.Context(), orgID)
	if err != nil {
		s.log.Error("list rules failed", "org_id", orgID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org")
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "org is required")
		return
	}
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	now := time.Now().UTC()
	rule := &model.WorkflowRule{
		ID:                idgen.MustGenerate(idgen.PrefixRule),
		OrgID:             orgID,
		Name:              req.Name,
		TriggerEntityType: req.TriggerEntityType,
		TriggerEventType:  req.TriggerEventType,
		Active:            req.Active == nil || *req.Active,
		ExecutionOrder:    req.ExecutionOrder,
		Condition:         req.Condition,
		Actions:           req.Actions,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.CreateRule(r.Context(), rule); err != nil {
		s.log.Error("create rule failed", "org_id", orgID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create rule")
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org")
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "org is required")
		return
	}
	rule, err := s.store.GetRule(r.Context(), orgID, r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		s.log.Error("get rule failed", "org_id", orgID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get rule")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org")
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "org is required")
		return
	}
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	rule := &model.WorkflowRule{
		ID:                r.PathValue("id"),
		OrgID:             orgID,
		Name:              req.Name,
		TriggerEntityType: req.TriggerEntityType,
		TriggerEventType:  req.TriggerEventType,
		Active:            req.Active == nil || *req.Active,
		ExecutionOrder:    req.ExecutionOrder,
		Condition:         req.Condition,
		Actions:           req.Actions,
		UpdatedAt:         time.Now().UTC(),
	}
	err := s.store.UpdateRule(r.Context(), rule)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		s.log.Error("update rule failed", "org_id", orgID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update rule")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org")
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "org is required")
		return
	}
	err := s.store.DeleteRule(r.Context(), orgID, r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		s.log.Error("delete rule failed", "org_id", orgID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete rule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
