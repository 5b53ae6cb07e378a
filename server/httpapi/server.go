// Package httpapi exposes the REST and WebSocket surface of the service.
package httpapi

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/plumemail/plume/config"
	"github.com/plumemail/plume/consts"
	"github.com/plumemail/plume/crypto"
	"github.com/plumemail/plume/db"
	"github.com/plumemail/plume/events"
	"github.com/plumemail/plume/logger"
	"github.com/plumemail/plume/mta"
	"github.com/plumemail/plume/pkg/metrics"
	"github.com/plumemail/plume/sender"
	"github.com/plumemail/plume/server/wshub"
	"github.com/plumemail/plume/spam"
	"github.com/plumemail/plume/template"
	"github.com/plumemail/plume/workflow"
)

type ServerOptions struct {
	Addr           string
	AllowedOrigins []string
	TLS            bool
	TLSCertFile    string
	TLSKeyFile     string
}

type Server struct {
	appCtx      context.Context
	rdb         *db.Database
	cfg         *config.Config
	tokens      *crypto.TokenIssuer
	box         *crypto.SecretBox
	sender      *sender.Sender
	templates   *template.Engine
	wf          *workflow.Engine
	bus         *events.Bus
	hub         *wshub.Hub
	spam        *spam.Gateway
	provisioner mta.Provisioner

	opts       ServerOptions
	httpServer *http.Server
}

type Deps struct {
	DB          *db.Database
	Config      *config.Config
	Tokens      *crypto.TokenIssuer
	SecretBox   *crypto.SecretBox
	Sender      *sender.Sender
	Templates   *template.Engine
	Workflow    *workflow.Engine
	Bus         *events.Bus
	Hub         *wshub.Hub
	Spam        *spam.Gateway
	Provisioner mta.Provisioner
}

func New(appCtx context.Context, deps *Deps, opts ServerOptions) *Server {
	s := &Server{
		appCtx:      appCtx,
		rdb:         deps.DB,
		cfg:         deps.Config,
		tokens:      deps.Tokens,
		box:         deps.SecretBox,
		sender:      deps.Sender,
		templates:   deps.Templates,
		wf:          deps.Workflow,
		bus:         deps.Bus,
		hub:         deps.Hub,
		spam:        deps.Spam,
		provisioner: deps.Provisioner,
		opts:        opts,
	}

	router := mux.NewRouter()
	router.Use(s.corsMiddleware)

	// unauthenticated surface
	router.HandleFunc("/metrics", promhttp.Handler().ServeHTTP).Methods("GET")
	router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	router.HandleFunc("/track/open/{pixel}", s.handleTrackOpen).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/auth/register", s.handleRegister).Methods("POST")
	api.HandleFunc("/auth/login", s.handleLogin).Methods("POST")
	api.HandleFunc("/auth/refresh", s.handleRefresh).Methods("POST")
	api.HandleFunc("/auth/forgot", s.handleForgotPassword).Methods("POST")
	api.HandleFunc("/auth/reset-password", s.handleResetPassword).Methods("POST")
	api.HandleFunc("/auth/totp/verify", s.handleTOTPVerify).Methods("POST")
	api.HandleFunc("/ws/{token}", s.handleWebSocket).Methods("GET")

	// authenticated surface
	user := api.NewRoute().Subrouter()
	user.Use(s.authMiddleware)
	user.HandleFunc("/auth/logout", s.handleLogout).Methods("POST")
	user.HandleFunc("/auth/totp/setup", s.handleTOTPSetup).Methods("POST")
	user.HandleFunc("/auth/totp/enable", s.handleTOTPEnable).Methods("POST")
	user.HandleFunc("/auth/totp/disable", s.handleTOTPDisable).Methods("POST")
	user.HandleFunc("/me", s.handleMe).Methods("GET")
	user.HandleFunc("/me/preferences", s.handleUpdatePreferences).Methods("PATCH")

	user.HandleFunc("/folders", s.handleListFolders).Methods("GET")
	user.HandleFunc("/folders", s.handleCreateFolder).Methods("POST")
	user.HandleFunc("/folders/{id}", s.handleDeleteFolder).Methods("DELETE")
	user.HandleFunc("/folders/{id}/emails", s.handleListEmails).Methods("GET")

	user.HandleFunc("/emails/search", s.handleSearchEmails).Methods("GET")
	user.HandleFunc("/emails/send", s.handleSendEmail).Methods("POST")
	user.HandleFunc("/emails/{id}", s.handleGetEmail).Methods("GET")
	user.HandleFunc("/emails/{id}", s.handlePatchEmail).Methods("PATCH")
	user.HandleFunc("/emails/{id}", s.handlePurgeEmail).Methods("DELETE")
	user.HandleFunc("/emails/{id}/resend", s.handleResendEmail).Methods("POST")
	user.HandleFunc("/emails/{id}/tracking", s.handleTrackingStats).Methods("GET")
	user.HandleFunc("/emails/{id}/spam-report", s.handleSpamReport).Methods("POST")
	user.HandleFunc("/attachments/{id}", s.handleDownloadAttachment).Methods("GET")

	user.HandleFunc("/temp-mailboxes", s.handleListTempMailboxes).Methods("GET")
	user.HandleFunc("/temp-mailboxes", s.handleCreateTempMailbox).Methods("POST")
	user.HandleFunc("/temp-mailboxes/{id}", s.handlePatchTempMailbox).Methods("PATCH")
	user.HandleFunc("/temp-mailboxes/{id}", s.handleDeleteTempMailbox).Methods("DELETE")

	user.HandleFunc("/senders/{list:blocked|trusted}", s.handleListSenders).Methods("GET")
	user.HandleFunc("/senders/{list:blocked|trusted}", s.handleAddSender).Methods("POST")
	user.HandleFunc("/senders/{list:blocked|trusted}", s.handleRemoveSender).Methods("DELETE")

	user.HandleFunc("/external-accounts", s.handleListExternalAccounts).Methods("GET")
	user.HandleFunc("/external-accounts", s.handleCreateExternalAccount).Methods("POST")
	user.HandleFunc("/external-accounts/{id}", s.handleDeleteExternalAccount).Methods("DELETE")

	user.HandleFunc("/verification/submit", s.handleVerificationSubmit).Methods("POST")

	user.HandleFunc("/workflows", s.handleListWorkflows).Methods("GET")
	user.HandleFunc("/workflows", s.handleCreateWorkflow).Methods("POST")
	user.HandleFunc("/workflows/{id}", s.handleGetWorkflow).Methods("GET")
	user.HandleFunc("/workflows/{id}", s.handleDeleteWorkflow).Methods("DELETE")
	user.HandleFunc("/workflows/{id}/graph", s.handleReplaceGraph).Methods("PUT")
	user.HandleFunc("/workflows/{id}/publish", s.handlePublishWorkflow).Methods("POST")
	user.HandleFunc("/workflows/{id}/status", s.handleWorkflowStatus).Methods("PATCH")
	user.HandleFunc("/workflows/{id}/executions", s.handleListExecutions).Methods("GET")
	user.HandleFunc("/executions/{id}", s.handleGetExecution).Methods("GET")

	user.HandleFunc("/rules", s.handleListRules).Methods("GET")
	user.HandleFunc("/rules", s.handleCreateRule).Methods("POST")
	user.HandleFunc("/rules/{id}", s.handleUpdateRule).Methods("PUT")
	user.HandleFunc("/rules/{id}", s.handleDeleteRule).Methods("DELETE")
	user.HandleFunc("/rules/{id}/logs", s.handleRuleLogs).Methods("GET")

	// admin surface
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(s.authMiddleware, s.adminMiddleware)
	admin.HandleFunc("/templates", s.handleListTemplates).Methods("GET")
	admin.HandleFunc("/templates", s.handleUpsertTemplate).Methods("PUT")
	admin.HandleFunc("/templates/{code}", s.handleDeleteTemplate).Methods("DELETE")
	admin.HandleFunc("/variables", s.handleListVariables).Methods("GET")
	admin.HandleFunc("/variables", s.handleUpsertVariable).Methods("PUT")
	admin.HandleFunc("/variables/{name}", s.handleDeleteVariable).Methods("DELETE")
	admin.HandleFunc("/system-workflows", s.handleListSystemWorkflows).Methods("GET")
	admin.HandleFunc("/system-workflows", s.handleUpsertSystemWorkflow).Methods("PUT")
	admin.HandleFunc("/events", s.handleListEventCodes).Methods("GET")

	s.httpServer = &http.Server{
		Addr:         opts.Addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) Start(errChan chan error) {
	go func() {
		<-s.appCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	var err error
	if s.opts.TLS {
		logger.Info("starting HTTP API server with TLS", "addr", s.opts.Addr)
		s.httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		err = s.httpServer.ListenAndServeTLS(s.opts.TLSCertFile, s.opts.TLSKeyFile)
	} else {
		logger.Info("starting HTTP API server", "addr", s.opts.Addr)
		err = s.httpServer.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		errChan <- fmt.Errorf("HTTP API server failed: %w", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.rdb.Pool.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unreachable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

type contextKey string

const claimsKey contextKey = "claims"

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			writeError(w, http.StatusUnauthorized, "missing bearer token", nil)
			return
		}
		claims, err := s.tokens.Verify(header[len(prefix):])
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claimsFrom(r).Role != "admin" {
			writeError(w, http.StatusForbidden, "admin access required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func claimsFrom(r *http.Request) *crypto.TokenClaims {
	claims, _ := r.Context().Value(claimsKey).(*crypto.TokenClaims)
	return claims
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[name], 10, 64)
}

func muxVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

func splitHost(remoteAddr string) (string, error) {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr, err
	}
	return host, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	body := map[string]string{"error": message}
	if err != nil {
		body["detail"] = err.Error()
		if status >= 500 {
			logger.Error("request failed", "status", status, "error", err)
		}
	}
	writeJSON(w, status, body)
}

// writeStoreError maps store sentinels onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, consts.ErrUserNotFound),
		errors.Is(err, consts.ErrEmailNotFound),
		errors.Is(err, consts.ErrFolderNotFound),
		errors.Is(err, consts.ErrTemplateNotFound),
		errors.Is(err, consts.ErrWorkflowNotFound),
		errors.Is(err, consts.ErrExecutionNotFound),
		errors.Is(err, consts.ErrAttachmentNotFound),
		errors.Is(err, consts.ErrDBNotFound):
		writeError(w, http.StatusNotFound, "not found", err)
	case errors.Is(err, consts.ErrUserExists),
		errors.Is(err, consts.ErrMessageExists),
		errors.Is(err, consts.ErrDBUniqueViolation):
		writeError(w, http.StatusConflict, "already exists", err)
	case errors.Is(err, consts.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid state", err)
	case errors.Is(err, consts.ErrCodeInvalid):
		writeError(w, http.StatusBadRequest, "invalid or expired code", err)
	case errors.Is(err, consts.ErrNotPermitted):
		writeError(w, http.StatusForbidden, "not permitted", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal error", err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body", err)
		return false
	}
	return true
}

func observeRequest(command string, start time.Time, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	metrics.CommandsTotal.WithLabelValues("http", command, status).Inc()
	metrics.CommandDuration.WithLabelValues("http", command).Observe(time.Since(start).Seconds())
}
