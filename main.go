package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"

	"github.com/plumemail/plume/config"
	"github.com/plumemail/plume/crypto"
	"github.com/plumemail/plume/db"
	"github.com/plumemail/plume/events"
	"github.com/plumemail/plume/imapsync"
	"github.com/plumemail/plume/logger"
	"github.com/plumemail/plume/mta"
	"github.com/plumemail/plume/rules"
	"github.com/plumemail/plume/scheduler"
	"github.com/plumemail/plume/sender"
	"github.com/plumemail/plume/server/httpapi"
	"github.com/plumemail/plume/server/lmtp"
	"github.com/plumemail/plume/server/wshub"
	"github.com/plumemail/plume/spam"
	"github.com/plumemail/plume/template"
	"github.com/plumemail/plume/workflow"
)

func main() {
	cfg := config.NewDefault()

	// Command-line flags override values from the config file when set.
	configPath := flag.String("config", "config.toml", "Path to TOML configuration file")
	fLogOutput := flag.String("logoutput", cfg.LogOutput, "Log output destination: 'stderr', 'stdout' or a file path (overrides config)")
	fLogLevel := flag.String("loglevel", cfg.LogLevel, "Log level: debug, info, warn, error (overrides config)")

	fDbHost := flag.String("dbhost", cfg.Database.Host, "Database host (overrides config)")
	fDbPort := flag.String("dbport", cfg.Database.Port, "Database port (overrides config)")
	fDbUser := flag.String("dbuser", cfg.Database.User, "Database user (overrides config)")
	fDbPassword := flag.String("dbpassword", cfg.Database.Password, "Database password (overrides config)")
	fDbName := flag.String("dbname", cfg.Database.Name, "Database name (overrides config)")
	fDbTLS := flag.Bool("dbtls", cfg.Database.TLSMode, "Enable TLS for database connection (overrides config)")
	fDbLogQueries := flag.Bool("dblogqueries", cfg.Database.LogQueries, "Log all database queries (overrides config)")

	fStartLMTP := flag.Bool("lmtp", cfg.Servers.LMTP.Start, "Start the LMTP server (overrides config)")
	fLMTPAddr := flag.String("lmtpaddr", cfg.Servers.LMTP.Addr, "LMTP server address (overrides config)")
	fStartHTTP := flag.Bool("http", cfg.Servers.HTTP.Start, "Start the HTTP API server (overrides config)")
	fHTTPAddr := flag.String("httpaddr", cfg.Servers.HTTP.Addr, "HTTP API server address (overrides config)")

	fUploadsPath := flag.String("uploadspath", cfg.Uploads.Path, "Directory for attachment storage (overrides config)")

	flag.Parse()

	if _, err := toml.DecodeFile(*configPath, &cfg); err != nil {
		if os.IsNotExist(err) {
			if isFlagSet("config") {
				log.Fatalf("Specified configuration file '%s' not found: %v", *configPath, err)
			}
			log.Printf("WARNING: Default configuration file '%s' not found. Using application defaults and command-line flags.", *configPath)
		} else {
			log.Fatalf("Error parsing configuration file '%s': %v", *configPath, err)
		}
	} else {
		log.Printf("Loaded configuration from %s", *configPath)
	}

	if isFlagSet("logoutput") {
		cfg.LogOutput = *fLogOutput
	}
	if isFlagSet("loglevel") {
		cfg.LogLevel = *fLogLevel
	}
	if isFlagSet("dbhost") {
		cfg.Database.Host = *fDbHost
	}
	if isFlagSet("dbport") {
		cfg.Database.Port = *fDbPort
	}
	if isFlagSet("dbuser") {
		cfg.Database.User = *fDbUser
	}
	if isFlagSet("dbpassword") {
		cfg.Database.Password = *fDbPassword
	}
	if isFlagSet("dbname") {
		cfg.Database.Name = *fDbName
	}
	if isFlagSet("dbtls") {
		cfg.Database.TLSMode = *fDbTLS
	}
	if isFlagSet("dblogqueries") {
		cfg.Database.LogQueries = *fDbLogQueries
	}
	if isFlagSet("lmtp") {
		cfg.Servers.LMTP.Start = *fStartLMTP
	}
	if isFlagSet("lmtpaddr") {
		cfg.Servers.LMTP.Addr = *fLMTPAddr
	}
	if isFlagSet("http") {
		cfg.Servers.HTTP.Start = *fStartHTTP
	}
	if isFlagSet("httpaddr") {
		cfg.Servers.HTTP.Addr = *fHTTPAddr
	}
	if isFlagSet("uploadspath") {
		cfg.Uploads.Path = *fUploadsPath
	}

	logFile, err := logger.Initialize(cfg.LogOutput, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	if !cfg.Servers.LMTP.Start && !cfg.Servers.HTTP.Start {
		log.Fatal("No servers enabled. Please enable at least one server (LMTP or HTTP).")
	}
	if cfg.Auth.JWTSecret == "" {
		log.Fatal("Missing auth.jwt_secret. Tokens cannot be issued without it.")
	}
	if cfg.Auth.SecretKey == "" {
		log.Fatal("Missing auth.secret_key. Stored credentials cannot be encrypted without it.")
	}
	if err := os.MkdirAll(cfg.Uploads.Path, 0o750); err != nil {
		log.Fatalf("Failed to create uploads directory '%s': %v", cfg.Uploads.Path, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signalChan
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	logger.Info("connecting to database",
		"host", cfg.Database.Host, "port", cfg.Database.Port,
		"user", cfg.Database.User, "name", cfg.Database.Name)
	database, err := db.NewDatabase(ctx, &cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to the database: %v", err)
	}
	defer database.Close()
	database.StartPoolMetrics(ctx)

	tokenDuration, err := cfg.Auth.GetTokenDuration()
	if err != nil {
		log.Fatalf("Invalid auth token_duration: %v", err)
	}
	tokens := crypto.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenIssuer, tokenDuration)
	box, err := crypto.NewSecretBox(cfg.Auth.SecretKey)
	if err != nil {
		log.Fatalf("Failed to initialize credential encryption: %v", err)
	}

	templates := template.NewEngine(database, &cfg.App)
	provisioner := mta.NewProvisioner(&cfg.MTA)

	mailSender, err := sender.New(database, &cfg)
	if err != nil {
		log.Fatalf("Failed to initialize mail sender: %v", err)
	}

	hub := wshub.New()

	registry := workflow.DefaultRegistry(&workflow.HandlerDeps{
		DB:          database,
		Sender:      mailSender,
		Templates:   templates,
		Provisioner: provisioner,
		App:         &cfg.App,
	})
	wfEngine := workflow.NewEngine(database, registry, hub)
	ruleEngine := rules.New(database, wfEngine)
	bus := events.NewBus(database, wfEngine, ruleEngine)
	mailSender.Events = bus

	spamGateway := spam.New(database, cfg.Spam.SpamdAddr)
	syncer := imapsync.New(database, &cfg.IMAPSync, box, cfg.Uploads.Path)

	errChan := make(chan error, 1)

	if cfg.Servers.LMTP.Start {
		lmtpServer := lmtp.New(ctx, database, bus, hub, spamGateway, lmtp.LMTPServerOptions{
			Addr:           cfg.Servers.LMTP.Addr,
			MaxMessageSize: cfg.Servers.LMTP.MaxMessageSize,
			UploadsPath:    cfg.Uploads.Path,
			Debug:          cfg.Servers.Debug,
		})
		go lmtpServer.Start(errChan)
	}

	if cfg.Servers.HTTP.Start {
		apiServer := httpapi.New(ctx, &httpapi.Deps{
			DB:          database,
			Config:      &cfg,
			Tokens:      tokens,
			SecretBox:   box,
			Sender:      mailSender,
			Templates:   templates,
			Workflow:    wfEngine,
			Bus:         bus,
			Hub:         hub,
			Spam:        spamGateway,
			Provisioner: provisioner,
		}, httpapi.ServerOptions{
			Addr:           cfg.Servers.HTTP.Addr,
			AllowedOrigins: cfg.Servers.HTTP.AllowedOrigins,
			TLS:            cfg.Servers.HTTP.TLS,
			TLSCertFile:    cfg.Servers.HTTP.TLSCertFile,
			TLSKeyFile:     cfg.Servers.HTTP.TLSKeyFile,
		})
		go apiServer.Start(errChan)
	}

	go scheduler.New(database, &cfg, syncer, mailSender, hub, wfEngine).Start(ctx)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errChan:
		log.Fatalf("Server error: %v", err)
	}
}

// isFlagSet reports whether a flag was explicitly set on the command line.
func isFlagSet(name string) bool {
	isSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			isSet = true
		}
	})
	return isSet
}
