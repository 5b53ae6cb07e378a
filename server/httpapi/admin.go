package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/plumemail/plume/consts"
	"github.com/plumemail/plume/db"
)

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.rdb.ListTemplates(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": templates})
}

func (s *Server) handleUpsertTemplate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code      string   `json:"code"`
		Category  string   `json:"category"`
		Subject   string   `json:"subject"`
		BodyHTML  string   `json:"body_html"`
		BodyText  string   `json:"body_text"`
		Variables []string `json:"variables"`
		IsActive  *bool    `json:"is_active,omitempty"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Code == "" || req.Subject == "" {
		writeError(w, http.StatusBadRequest, "code and subject are required", nil)
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	tpl, err := s.rdb.UpsertTemplate(r.Context(), &db.EmailTemplate{
		Code:      req.Code,
		Category:  req.Category,
		Subject:   req.Subject,
		BodyHTML:  req.BodyHTML,
		BodyText:  req.BodyText,
		Variables: req.Variables,
		IsActive:  active,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.templates.Invalidate()
	writeJSON(w, http.StatusOK, tpl)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.rdb.DeleteTemplate(r.Context(), muxVar(r, "code")); err != nil {
		writeStoreError(w, err)
		return
	}
	s.templates.Invalidate()
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListVariables(w http.ResponseWriter, r *http.Request) {
	variables, err := s.rdb.ListGlobalVariables(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"variables": variables})
}

func (s *Server) handleUpsertVariable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		ValueKind   string `json:"value_kind"`
		Value       string `json:"value"`
		Description string `json:"description"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	switch req.ValueKind {
	case "static", "config", "dynamic":
	default:
		writeError(w, http.StatusBadRequest, "value_kind must be static, config or dynamic", nil)
		return
	}
	if err := s.rdb.UpsertGlobalVariable(r.Context(), &db.GlobalVariable{
		Name:        req.Name,
		ValueKind:   req.ValueKind,
		Value:       req.Value,
		Description: req.Description,
	}); err != nil {
		writeStoreError(w, err)
		return
	}
	s.templates.Invalidate()
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) handleDeleteVariable(w http.ResponseWriter, r *http.Request) {
	if err := s.rdb.DeleteGlobalVariable(r.Context(), muxVar(r, "name")); err != nil {
		writeStoreError(w, err)
		return
	}
	s.templates.Invalidate()
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListSystemWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := s.rdb.ListSystemWorkflows(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": workflows})
}

func (s *Server) handleUpsertSystemWorkflow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code          string          `json:"code"`
		Name          string          `json:"name"`
		TriggerEvent  *string         `json:"trigger_event,omitempty"`
		Nodes         json.RawMessage `json:"nodes"`
		Edges         json.RawMessage `json:"edges"`
		DefaultConfig json.RawMessage `json:"default_config,omitempty"`
		IsActive      *bool           `json:"is_active,omitempty"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Code == "" || len(req.Nodes) == 0 {
		writeError(w, http.StatusBadRequest, "code and nodes are required", nil)
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	if err := s.rdb.UpsertSystemWorkflow(r.Context(), &db.SystemWorkflow{
		Code:          req.Code,
		Name:          req.Name,
		TriggerEvent:  req.TriggerEvent,
		Nodes:         req.Nodes,
		Edges:         req.Edges,
		DefaultConfig: req.DefaultConfig,
		IsActive:      active,
	}); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) handleListEventCodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"events": []string{
		consts.EventUserRegistered,
		consts.EventEmailReceived,
		consts.EventEmailSent,
		consts.EventPasswordForgot,
		consts.EventVerificationSubmitted,
		consts.EventVerificationCode,
		consts.EventWorkflowTrigger,
	}})
}
