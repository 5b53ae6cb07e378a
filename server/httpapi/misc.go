package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/plumemail/plume/consts"
	"github.com/plumemail/plume/db"
	"github.com/plumemail/plume/helpers"
	"github.com/plumemail/plume/logger"
)

func (s *Server) handleListTempMailboxes(w http.ResponseWriter, r *http.Request) {
	boxes, err := s.rdb.ListTempMailboxes(r.Context(), claimsFrom(r).UserID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mailboxes": boxes})
}

func (s *Server) handleCreateTempMailbox(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email           string `json:"email"`
		Purpose         string `json:"purpose"`
		AutoVerifyCodes bool   `json:"auto_verify_codes"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	addr, err := helpers.NormalizeAddress(req.Email)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid email address", err)
		return
	}
	if s.cfg.App.MailDomain != "" && helpers.Domain(addr) != strings.ToLower(s.cfg.App.MailDomain) {
		writeError(w, http.StatusBadRequest, "address must be under the service mail domain", nil)
		return
	}
	box, err := s.rdb.CreateTempMailbox(r.Context(), claimsFrom(r).UserID, addr,
		req.Purpose, req.AutoVerifyCodes)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, box)
}

func (s *Server) handlePatchTempMailbox(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid mailbox id", err)
		return
	}
	var req struct {
		IsActive bool `json:"is_active"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.rdb.SetTempMailboxActive(r.Context(), claimsFrom(r).UserID, id, req.IsActive); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleDeleteTempMailbox(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid mailbox id", err)
		return
	}
	if err := s.rdb.DeleteTempMailbox(r.Context(), claimsFrom(r).UserID, id); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func senderListBlocked(r *http.Request) bool {
	return muxVar(r, "list") == "blocked"
}

func (s *Server) handleListSenders(w http.ResponseWriter, r *http.Request) {
	entries, err := s.rdb.ListSenderEntries(r.Context(), claimsFrom(r).UserID, senderListBlocked(r))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"senders": entries})
}

func (s *Server) handleAddSender(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required", nil)
		return
	}
	entry, err := s.rdb.AddSenderEntry(r.Context(), claimsFrom(r).UserID, req.Email, senderListBlocked(r))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleRemoveSender(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.rdb.RemoveSenderEntry(r.Context(), claimsFrom(r).UserID, req.Email, senderListBlocked(r)); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handleListExternalAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.rdb.ListExternalAccounts(r.Context(), claimsFrom(r).UserID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	// encrypted credentials never travel back out
	views := make([]map[string]any, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, map[string]any{
			"id":         a.ID,
			"email":      a.Email,
			"imap_host":  a.IMAPHost,
			"imap_port":  a.IMAPPort,
			"username":   a.Username,
			"is_active":  a.IsActive,
			"created_at": a.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": views})
}

func (s *Server) handleCreateExternalAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		IMAPHost string `json:"imap_host"`
		IMAPPort int    `json:"imap_port"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.IMAPHost == "" || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "imap_host, username and password are required", nil)
		return
	}
	if req.IMAPPort == 0 {
		req.IMAPPort = 993
	}
	enc, err := s.box.Encrypt(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error", err)
		return
	}
	id, err := s.rdb.CreateExternalAccount(r.Context(), &db.ExternalAccount{
		UserID:      claimsFrom(r).UserID,
		Email:       strings.ToLower(req.Email),
		IMAPHost:    req.IMAPHost,
		IMAPPort:    req.IMAPPort,
		Username:    req.Username,
		PasswordEnc: enc,
		IsActive:    true,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) handleDeleteExternalAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id", err)
		return
	}
	if err := s.rdb.DeleteExternalAccount(r.Context(), claimsFrom(r).UserID, id); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleVerificationSubmit consumes a pending verification code and wakes any
// workflow run waiting on it.
func (s *Server) handleVerificationSubmit(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	var req struct {
		Email   string `json:"email"`
		Code    string `json:"code"`
		Purpose string `json:"purpose"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Email == "" {
		req.Email = claims.Email
	}
	if err := s.rdb.ConsumeVerificationCode(r.Context(), strings.ToLower(req.Email),
		req.Code, req.Purpose); err != nil {
		writeStoreError(w, err)
		return
	}

	signal := map[string]any{
		"email":   strings.ToLower(req.Email),
		"code":    req.Code,
		"purpose": req.Purpose,
	}
	exec, err := s.rdb.FindWaitingExecution(r.Context(), claims.UserID, "")
	if err == nil {
		if err := s.wf.Resume(r.Context(), exec.ID, signal, false); err != nil {
			logger.Error("failed to resume waiting workflow", "execution_id", exec.ID, "error", err)
		}
	} else if !errors.Is(err, consts.ErrExecutionNotFound) {
		logger.Error("failed to look up waiting workflow", "user_id", claims.UserID, "error", err)
	}

	s.bus.Publish(r.Context(), consts.EventVerificationSubmitted, &claims.UserID, signal)
	writeJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// token auth happens before the upgrade; origins are enforced by CORS
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := s.tokens.Verify(muxVar(r, "token"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token", err)
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "user_id", claims.UserID, "error", err)
		return
	}
	s.hub.Register(claims.UserID, conn)
}
