package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/plumemail/plume/consts"
	"github.com/plumemail/plume/db"
)

type workflowView struct {
	ID               int64           `json:"id"`
	Name             string          `json:"name"`
	Status           string          `json:"status"`
	Version          int             `json:"version"`
	PublishedVersion *int            `json:"published_version,omitempty"`
	Config           json.RawMessage `json:"config,omitempty"`
	ConfigSchema     json.RawMessage `json:"config_schema,omitempty"`
	DefaultConfig    json.RawMessage `json:"default_config,omitempty"`
}

func viewWorkflow(w *db.Workflow) workflowView {
	return workflowView{
		ID:               w.ID,
		Name:             w.Name,
		Status:           w.Status,
		Version:          w.Version,
		PublishedVersion: w.PublishedVersion,
		Config:           w.Config,
		ConfigSchema:     w.ConfigSchema,
		DefaultConfig:    w.DefaultConfig,
	}
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := s.rdb.ListWorkflows(r.Context(), claimsFrom(r).UserID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	views := make([]workflowView, 0, len(workflows))
	for _, wf := range workflows {
		views = append(views, viewWorkflow(wf))
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": views})
}

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name          string          `json:"name"`
		Config        json.RawMessage `json:"config,omitempty"`
		ConfigSchema  json.RawMessage `json:"config_schema,omitempty"`
		DefaultConfig json.RawMessage `json:"default_config,omitempty"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "workflow name is required", nil)
		return
	}
	wf, err := s.rdb.CreateWorkflow(r.Context(), claimsFrom(r).UserID, req.Name,
		req.Config, req.ConfigSchema, req.DefaultConfig)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewWorkflow(wf))
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	workflowID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id", err)
		return
	}
	wf, err := s.rdb.GetWorkflow(r.Context(), claims.UserID, workflowID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	nodes, edges, err := s.rdb.GetWorkflowGraph(r.Context(), wf.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workflow": viewWorkflow(wf),
		"nodes":    nodes,
		"edges":    edges,
	})
}

func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	workflowID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id", err)
		return
	}
	if err := s.rdb.DeleteWorkflow(r.Context(), claimsFrom(r).UserID, workflowID); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleReplaceGraph swaps the draft graph wholesale and bumps the version.
func (s *Server) handleReplaceGraph(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	workflowID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id", err)
		return
	}
	var req struct {
		Nodes []*db.WorkflowNode `json:"nodes"`
		Edges []*db.WorkflowEdge `json:"edges"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.rdb.ReplaceWorkflowGraph(r.Context(), claims.UserID, workflowID,
		req.Nodes, req.Edges); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handlePublishWorkflow(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	workflowID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id", err)
		return
	}
	var req struct {
		ChangeSummary string `json:"change_summary"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	wf, err := s.rdb.PublishWorkflow(r.Context(), claims.UserID, workflowID, req.ChangeSummary)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewWorkflow(wf))
}

func (s *Server) handleWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	workflowID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id", err)
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Status != "published" && req.Status != "disabled" && req.Status != "draft" {
		writeError(w, http.StatusBadRequest, "status must be draft, published or disabled", nil)
		return
	}
	if err := s.rdb.SetWorkflowStatus(r.Context(), claimsFrom(r).UserID, workflowID, req.Status); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	workflowID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id", err)
		return
	}
	// ownership check; executions carry user data
	if _, err := s.rdb.GetWorkflow(r.Context(), claims.UserID, workflowID); err != nil {
		writeStoreError(w, err)
		return
	}
	limit := queryInt(r.URL.Query().Get("limit"), 50)
	executions, err := s.rdb.ListExecutions(r.Context(), "custom", workflowID, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": executions})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	executionID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid execution id", err)
		return
	}
	exec, err := s.rdb.GetExecution(r.Context(), executionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if claims.Role != "admin" && (exec.UserID == nil || *exec.UserID != claims.UserID) {
		writeError(w, http.StatusForbidden, "not permitted", nil)
		return
	}
	trace, err := s.rdb.ListNodeExecutions(r.Context(), exec.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"execution": exec,
		"nodes":     trace,
	})
}

type ruleRequest struct {
	Name          string          `json:"name"`
	TriggerType   string          `json:"trigger_type"`
	TriggerConfig json.RawMessage `json:"trigger_config,omitempty"`
	Conditions    json.RawMessage `json:"conditions,omitempty"`
	Actions       json.RawMessage `json:"actions"`
	Priority      int             `json:"priority"`
	IsActive      *bool           `json:"is_active,omitempty"`
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	triggerType := r.URL.Query().Get("trigger_type")
	if triggerType == "" {
		triggerType = "email.received"
	}
	rules, err := s.rdb.ListActiveRules(r.Context(), triggerType, &claims.UserID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	var req ruleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" || req.TriggerType == "" || len(req.Actions) == 0 {
		writeError(w, http.StatusBadRequest, "name, trigger_type and actions are required", nil)
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	id, err := s.rdb.CreateRule(r.Context(), &db.AutomationRule{
		OwnerID:       &claims.UserID,
		Name:          req.Name,
		TriggerType:   req.TriggerType,
		TriggerConfig: req.TriggerConfig,
		Conditions:    req.Conditions,
		Actions:       req.Actions,
		Priority:      req.Priority,
		IsActive:      active,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	ruleID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule id", err)
		return
	}
	var req ruleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.ownRule(r, ruleID); err != nil {
		writeStoreError(w, err)
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	if err := s.rdb.UpdateRule(r.Context(), &db.AutomationRule{
		ID:            ruleID,
		OwnerID:       &claims.UserID,
		Name:          req.Name,
		TriggerType:   req.TriggerType,
		TriggerConfig: req.TriggerConfig,
		Conditions:    req.Conditions,
		Actions:       req.Actions,
		Priority:      req.Priority,
		IsActive:      active,
	}); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule id", err)
		return
	}
	if err := s.ownRule(r, ruleID); err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.rdb.DeleteRule(r.Context(), ruleID); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleRuleLogs(w http.ResponseWriter, r *http.Request) {
	ruleID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule id", err)
		return
	}
	if err := s.ownRule(r, ruleID); err != nil {
		writeStoreError(w, err)
		return
	}
	limit := queryInt(r.URL.Query().Get("limit"), 100)
	logs, err := s.rdb.ListRuleLogs(r.Context(), ruleID, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

// ownRule rejects access to rules the caller does not own. Admins may touch
// system rules (no owner) as well.
func (s *Server) ownRule(r *http.Request, ruleID int64) error {
	claims := claimsFrom(r)
	rule, err := s.rdb.GetRule(r.Context(), ruleID)
	if err != nil {
		return err
	}
	if rule.OwnerID != nil && *rule.OwnerID == claims.UserID {
		return nil
	}
	if rule.OwnerID == nil && claims.Role == "admin" {
		return nil
	}
	return consts.ErrNotPermitted
}
