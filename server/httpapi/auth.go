package httpapi

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/plumemail/plume/consts"
	"github.com/plumemail/plume/crypto"
	"github.com/plumemail/plume/db"
	"github.com/plumemail/plume/helpers"
	"github.com/plumemail/plume/logger"
	"github.com/plumemail/plume/pkg/metrics"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Code     string `json:"code,omitempty"`
}

type tokenResponse struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	User         userView `json:"user"`
}

type userView struct {
	ID               int64          `json:"id"`
	Email            string         `json:"email"`
	Role             string         `json:"role"`
	StorageUsed      int64          `json:"storage_used"`
	TwoFactorEnabled bool           `json:"two_factor_enabled"`
	Preferences      map[string]any `json:"preferences"`
	CreatedAt        time.Time      `json:"created_at"`
}

func viewUser(u *db.User) userView {
	return userView{
		ID:               u.ID,
		Email:            u.Email,
		Role:             u.Role,
		StorageUsed:      u.StorageUsed,
		TwoFactorEnabled: u.TwoFactorEnabled,
		Preferences:      u.Preferences,
		CreatedAt:        u.CreatedAt,
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req credentials
	if !decodeBody(w, r, &req) {
		return
	}
	addr, err := helpers.NormalizeAddress(req.Email)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid email address", err)
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters", nil)
		return
	}

	hash, err := db.GenerateBcryptHash(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error", err)
		return
	}
	user, err := s.rdb.CreateUser(r.Context(), addr, hash, "user")
	if err != nil {
		writeStoreError(w, err)
		observeRequest("register", start, false)
		return
	}

	if err := s.provisioner.CreateMailbox(r.Context(), addr, req.Password); err != nil {
		// the account exists either way; mailbox provisioning can be retried
		logger.Error("MTA provisioning failed", "email", addr, "error", err)
	}

	s.bus.Publish(r.Context(), consts.EventUserRegistered, &user.ID, map[string]any{
		"email": user.Email,
	})

	resp, err := s.issueSession(r, user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error", err)
		return
	}
	observeRequest("register", start, true)
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req credentials
	if !decodeBody(w, r, &req) {
		return
	}
	user, err := s.rdb.GetUserByEmail(r.Context(), strings.ToLower(req.Email))
	if err != nil || db.VerifyPassword(user.PasswordHash, req.Password) != nil {
		metrics.AuthAttempts.WithLabelValues("http", "failure").Inc()
		writeError(w, http.StatusUnauthorized, "invalid credentials", nil)
		return
	}

	if user.TwoFactorEnabled {
		if req.Code == "" {
			writeJSON(w, http.StatusOK, map[string]any{"totp_required": true})
			return
		}
		if user.TOTPSecret == nil || !crypto.ValidateTOTP(req.Code, *user.TOTPSecret) {
			metrics.AuthAttempts.WithLabelValues("http", "failure").Inc()
			writeError(w, http.StatusUnauthorized, "invalid one-time code", nil)
			return
		}
	}

	resp, err := s.issueSession(r, user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error", err)
		return
	}
	metrics.AuthAttempts.WithLabelValues("http", "success").Inc()
	observeRequest("login", start, true)
	writeJSON(w, http.StatusOK, resp)
}

// handleTOTPVerify completes a login that was answered with totp_required.
func (s *Server) handleTOTPVerify(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required", nil)
		return
	}
	s.handleLoginWith(w, r, req)
}

func (s *Server) handleLoginWith(w http.ResponseWriter, r *http.Request, req credentials) {
	user, err := s.rdb.GetUserByEmail(r.Context(), strings.ToLower(req.Email))
	if err != nil || db.VerifyPassword(user.PasswordHash, req.Password) != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials", nil)
		return
	}
	if user.TOTPSecret == nil || !crypto.ValidateTOTP(req.Code, *user.TOTPSecret) {
		writeError(w, http.StatusUnauthorized, "invalid one-time code", nil)
		return
	}
	resp, err := s.issueSession(r, user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) issueSession(r *http.Request, user *db.User) (*tokenResponse, error) {
	access, err := s.tokens.Issue(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, err
	}
	refresh, err := crypto.NewRefreshToken()
	if err != nil {
		return nil, err
	}
	ip, _, _ := net.SplitHostPort(r.RemoteAddr)
	if ip == "" {
		ip = r.RemoteAddr
	}
	if _, err := s.rdb.CreateSession(r.Context(), user.ID, crypto.HashToken(refresh),
		r.UserAgent(), ip); err != nil {
		return nil, err
	}
	return &tokenResponse{AccessToken: access, RefreshToken: refresh, User: viewUser(user)}, nil
}

// handleForgotPassword answers 200 whether or not the address exists, so the
// endpoint cannot be used to enumerate accounts. The reset code itself goes
// out through the password.forgot system workflow.
func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if user, err := s.rdb.GetUserByEmail(r.Context(), strings.ToLower(req.Email)); err == nil {
		s.bus.Publish(r.Context(), consts.EventPasswordForgot, &user.ID, map[string]any{
			"email": user.Email,
		})
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Code     string `json:"code"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters", nil)
		return
	}
	addr := strings.ToLower(req.Email)
	if err := s.rdb.ConsumeVerificationCode(r.Context(), addr, req.Code, "password_reset"); err != nil {
		writeStoreError(w, err)
		return
	}
	user, err := s.rdb.GetUserByEmail(r.Context(), addr)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	hash, err := db.GenerateBcryptHash(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error", err)
		return
	}
	if err := s.rdb.UpdateUserPassword(r.Context(), user.ID, hash); err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.provisioner.UpdatePassword(r.Context(), user.Email, req.Password); err != nil {
		logger.Error("MTA password update failed", "email", user.Email, "error", err)
	}
	// existing refresh tokens die with the old password
	if err := s.rdb.RevokeUserSessions(r.Context(), user.ID); err != nil {
		logger.Error("failed to revoke sessions after reset", "user_id", user.ID, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "password updated"})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	session, err := s.rdb.GetSessionByTokenHash(r.Context(), crypto.HashToken(req.RefreshToken))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid refresh token", nil)
		return
	}
	user, err := s.rdb.GetUserByID(r.Context(), session.UserID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.rdb.TouchSession(r.Context(), session.ID); err != nil {
		logger.Error("failed to touch session", "session_id", session.ID, "error", err)
	}
	access, err := s.tokens.Issue(user.ID, user.Email, user.Role)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"access_token": access})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	var req struct {
		RefreshToken string `json:"refresh_token"`
		All          bool   `json:"all"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	var err error
	if req.All {
		err = s.rdb.RevokeUserSessions(r.Context(), claims.UserID)
	} else {
		err = s.rdb.RevokeSession(r.Context(), claims.UserID, crypto.HashToken(req.RefreshToken))
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (s *Server) handleTOTPSetup(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	key, err := crypto.GenerateTOTPSecret(s.cfg.App.Name, claims.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error", err)
		return
	}
	secret := key.Secret()
	if err := s.rdb.SetTwoFactor(r.Context(), claims.UserID, false, &secret); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"secret": secret,
		"url":    key.URL(),
	})
}

func (s *Server) handleTOTPEnable(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	var req struct {
		Code string `json:"code"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	user, err := s.rdb.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if user.TOTPSecret == nil || !crypto.ValidateTOTP(req.Code, *user.TOTPSecret) {
		writeError(w, http.StatusBadRequest, "invalid one-time code", nil)
		return
	}
	if err := s.rdb.SetTwoFactor(r.Context(), claims.UserID, true, user.TOTPSecret); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"two_factor_enabled": true})
}

func (s *Server) handleTOTPDisable(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	var req struct {
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	user, err := s.rdb.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if db.VerifyPassword(user.PasswordHash, req.Password) != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials", nil)
		return
	}
	if err := s.rdb.SetTwoFactor(r.Context(), claims.UserID, false, nil); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"two_factor_enabled": false})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.rdb.GetUserByID(r.Context(), claimsFrom(r).UserID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewUser(user))
}

func (s *Server) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var prefs map[string]any
	if !decodeBody(w, r, &prefs) {
		return
	}
	if err := s.rdb.UpdateUserPreferences(r.Context(), claimsFrom(r).UserID, prefs); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}
