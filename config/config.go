package config

import (
	"fmt"
	"time"
)

// Config is the top-level TOML configuration.
type Config struct {
	LogOutput string        `toml:"log_output"`
	LogLevel  string        `toml:"log_level"`
	LogFormat string        `toml:"log_format"`
	Database  DatabaseConfig `toml:"database"`
	Servers   ServersConfig  `toml:"servers"`
	SMTP      SMTPConfig     `toml:"smtp"`
	IMAPSync  IMAPSyncConfig `toml:"imap_sync"`
	Uploads   UploadsConfig  `toml:"uploads"`
	Auth      AuthConfig     `toml:"auth"`
	App       AppConfig      `toml:"app"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Spam      SpamConfig     `toml:"spam"`
	MTA       MTAConfig      `toml:"mta"`
}

// DatabaseConfig configures the PostgreSQL connection pool.
type DatabaseConfig struct {
	Host       string `toml:"host"`
	Port       string `toml:"port"`
	User       string `toml:"user"`
	Password   string `toml:"password"`
	Name       string `toml:"name"`
	TLSMode    bool   `toml:"tls"`
	LogQueries bool   `toml:"log_queries"`
	MaxConns   int    `toml:"max_conns"`
	MinConns   int    `toml:"min_conns"`
}

type ServersConfig struct {
	Debug bool       `toml:"debug"`
	LMTP  LMTPConfig `toml:"lmtp"`
	HTTP  HTTPConfig `toml:"http"`
}

type LMTPConfig struct {
	Start          bool   `toml:"start"`
	Addr           string `toml:"addr"`
	MaxMessageSize int64  `toml:"max_message_size"`
}

type HTTPConfig struct {
	Start          bool     `toml:"start"`
	Addr           string   `toml:"addr"`
	AllowedOrigins []string `toml:"allowed_origins"`
	TLS            bool     `toml:"tls"`
	TLSCertFile    string   `toml:"tls_cert_file"`
	TLSKeyFile     string   `toml:"tls_key_file"`
}

// SMTPConfig configures outbound submission to the companion MTA.
type SMTPConfig struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	StartTLS       bool   `toml:"starttls"`
	UseCredentials bool   `toml:"use_credentials"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	EnvelopeSender string `toml:"envelope_sender"`
	Timeout        string `toml:"timeout"`
}

func (c *SMTPConfig) GetTimeout() (time.Duration, error) {
	return parseDuration(c.Timeout, 30*time.Second)
}

// IMAPSyncConfig configures the periodic pull from the companion IMAP store.
// The master user may impersonate any mailbox via "user*master" login.
type IMAPSyncConfig struct {
	Enabled        bool   `toml:"enabled"`
	Addr           string `toml:"addr"`
	TLS            bool   `toml:"tls"`
	MasterUser     string `toml:"master_user"`
	MasterPassword string `toml:"master_password"`
	Interval       string `toml:"interval"`
	MaxConnections int64  `toml:"max_connections"`
}

func (c *IMAPSyncConfig) GetInterval() (time.Duration, error) {
	return parseDuration(c.Interval, 300*time.Second)
}

type UploadsConfig struct {
	Path string `toml:"path"`
}

type AuthConfig struct {
	JWTSecret       string `toml:"jwt_secret"`
	TokenDuration   string `toml:"token_duration"`
	RefreshDuration string `toml:"refresh_duration"`
	TokenIssuer     string `toml:"token_issuer"`
	SecretKey       string `toml:"secret_key"` // master secret for credential encryption
}

func (c *AuthConfig) GetTokenDuration() (time.Duration, error) {
	return parseDuration(c.TokenDuration, 1*time.Hour)
}

func (c *AuthConfig) GetRefreshDuration() (time.Duration, error) {
	return parseDuration(c.RefreshDuration, 720*time.Hour)
}

// AppConfig holds tenant-wide values exposed to templates as config globals.
type AppConfig struct {
	Name         string `toml:"name"`
	SiteURL      string `toml:"site_url"`
	APIBase      string `toml:"api_base"`
	SupportEmail string `toml:"support_email"`
	CompanyName  string `toml:"company_name"`
	MailDomain   string `toml:"mail_domain"`
}

type SchedulerConfig struct {
	SessionMaxIdle string `toml:"session_max_idle"`
}

func (c *SchedulerConfig) GetSessionMaxIdle() (time.Duration, error) {
	return parseDuration(c.SessionMaxIdle, 30*24*time.Hour)
}

type SpamConfig struct {
	SpamdAddr string `toml:"spamd_addr"`
}

// MTAConfig configures the out-of-process mailbox provisioning bridge.
type MTAConfig struct {
	BridgeURL string `toml:"bridge_url"`
	APIKey    string `toml:"api_key"`
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

// NewDefault returns the application defaults; TOML and flags layer on top.
func NewDefault() Config {
	return Config{
		LogOutput: "stderr",
		LogLevel:  "info",
		LogFormat: "console",
		Database: DatabaseConfig{
			Host: "localhost",
			Port: "5432",
			User: "plume",
			Name: "plume",
		},
		Servers: ServersConfig{
			LMTP: LMTPConfig{Start: true, Addr: ":24"},
			HTTP: HTTPConfig{Start: true, Addr: ":8080"},
		},
		SMTP: SMTPConfig{
			Host: "localhost",
			Port: 587,
		},
		IMAPSync: IMAPSyncConfig{
			Addr:           "localhost:143",
			MaxConnections: 4,
		},
		Uploads: UploadsConfig{Path: "./uploads"},
		App: AppConfig{
			Name:       "Plume",
			MailDomain: "localhost",
		},
	}
}
