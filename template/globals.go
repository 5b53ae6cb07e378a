package template

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/plumemail/plume/config"
	"github.com/plumemail/plume/consts"
	"github.com/plumemail/plume/db"
)

// globalsTTL bounds staleness of the cached global variable set between
// explicit invalidations.
const globalsTTL = 5 * time.Minute

// Engine renders database-backed templates with global variables layered
// under the caller's variables.
type Engine struct {
	rdb *db.Database
	cfg *config.AppConfig

	mu        sync.RWMutex
	globals   map[string]string
	refreshed time.Time
}

func NewEngine(rdb *db.Database, cfg *config.AppConfig) *Engine {
	return &Engine{rdb: rdb, cfg: cfg}
}

// Rendered is the output of a template render: subject and both bodies.
type Rendered struct {
	Subject  string
	BodyHTML string
	BodyText string
}

// RenderTemplate loads an active template by code and renders its subject
// and bodies. Caller variables override globals of the same name.
func (e *Engine) RenderTemplate(ctx context.Context, code string, vars map[string]string) (*Rendered, error) {
	tpl, err := e.rdb.GetTemplateByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("template %q: %w", code, consts.ErrTemplateNotFound)
	}

	merged, err := e.mergedVars(ctx, vars)
	if err != nil {
		return nil, err
	}
	return &Rendered{
		Subject:  Render(tpl.Subject, merged),
		BodyHTML: Render(tpl.BodyHTML, merged),
		BodyText: Render(tpl.BodyText, merged),
	}, nil
}

// RenderText renders free-form text with globals plus caller variables.
func (e *Engine) RenderText(ctx context.Context, text string, vars map[string]string) (string, error) {
	merged, err := e.mergedVars(ctx, vars)
	if err != nil {
		return "", err
	}
	return Render(text, merged), nil
}

func (e *Engine) mergedVars(ctx context.Context, vars map[string]string) (map[string]string, error) {
	globals, err := e.loadGlobals(ctx)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]string, len(globals)+len(vars))
	for k, v := range globals {
		merged[k] = v
	}
	for k, v := range vars {
		merged[k] = v
	}
	return merged, nil
}

// Invalidate drops the cached globals, forcing a reload on next render.
// Called after global variable writes.
func (e *Engine) Invalidate() {
	e.mu.Lock()
	e.globals = nil
	e.mu.Unlock()
}

func (e *Engine) loadGlobals(ctx context.Context) (map[string]string, error) {
	e.mu.RLock()
	if e.globals != nil && time.Since(e.refreshed) < globalsTTL {
		cached := e.globals
		e.mu.RUnlock()
		return cached, nil
	}
	e.mu.RUnlock()

	rows, err := e.rdb.ListGlobalVariables(ctx)
	if err != nil {
		return nil, err
	}
	globals := make(map[string]string, len(rows))
	for _, v := range rows {
		globals[v.Name] = e.resolveGlobal(v)
	}

	e.mu.Lock()
	e.globals = globals
	e.refreshed = time.Now()
	e.mu.Unlock()
	return globals, nil
}

// resolveGlobal materializes one variable. Static values are stored as-is;
// config values reference a field of the application config; dynamic values
// are computed at render time.
func (e *Engine) resolveGlobal(v *db.GlobalVariable) string {
	switch v.ValueKind {
	case "config":
		return e.configValue(v.Value)
	case "dynamic":
		return dynamicValue(v.Value)
	default:
		return v.Value
	}
}

func (e *Engine) configValue(key string) string {
	if e.cfg == nil {
		return ""
	}
	switch strings.ToLower(key) {
	case "app_name":
		return e.cfg.Name
	case "site_url":
		return e.cfg.SiteURL
	case "api_base":
		return e.cfg.APIBase
	case "support_email":
		return e.cfg.SupportEmail
	case "company_name":
		return e.cfg.CompanyName
	case "mail_domain":
		return e.cfg.MailDomain
	default:
		return ""
	}
}

func dynamicValue(key string) string {
	now := time.Now()
	switch strings.ToLower(key) {
	case "current_year":
		return fmt.Sprintf("%d", now.Year())
	case "current_date":
		return now.Format("2006-01-02")
	case "current_time":
		return now.Format("15:04")
	default:
		return ""
	}
}
