package lmtp

import (
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-smtp"

	"github.com/plumemail/plume/db"
	"github.com/plumemail/plume/events"
	"github.com/plumemail/plume/logger"
	"github.com/plumemail/plume/server/wshub"
	"github.com/plumemail/plume/spam"
)

type LMTPServerOptions struct {
	Addr           string
	MaxMessageSize int64
	UploadsPath    string
	Debug          bool
}

// LMTPServer accepts final delivery from the MTA and files messages into
// user folders.
type LMTPServer struct {
	appCtx  context.Context
	rdb     *db.Database
	bus     *events.Bus
	hub     *wshub.Hub
	spam    *spam.Gateway
	uploads string
	server  *smtp.Server
}

func New(appCtx context.Context, rdb *db.Database, bus *events.Bus, hub *wshub.Hub, spamGw *spam.Gateway, opts LMTPServerOptions) *LMTPServer {
	s := &LMTPServer{
		appCtx:  appCtx,
		rdb:     rdb,
		bus:     bus,
		hub:     hub,
		spam:    spamGw,
		uploads: opts.UploadsPath,
	}

	server := smtp.NewServer(&backend{server: s})
	server.LMTP = true
	server.Addr = opts.Addr
	server.Domain = "localhost"
	server.WriteTimeout = 30 * time.Second
	server.ReadTimeout = 60 * time.Second
	server.MaxMessageBytes = opts.MaxMessageSize
	if server.MaxMessageBytes == 0 {
		server.MaxMessageBytes = 50 * 1024 * 1024
	}
	server.MaxRecipients = 50
	server.AllowInsecureAuth = true
	s.server = server
	return s
}

func (s *LMTPServer) Start(errChan chan error) {
	logger.Info("starting LMTP server", "addr", s.server.Addr)
	go func() {
		<-s.appCtx.Done()
		s.server.Close()
	}()
	if err := s.server.ListenAndServe(); err != nil && s.appCtx.Err() == nil {
		errChan <- fmt.Errorf("LMTP server failed: %w", err)
	}
}

func (s *LMTPServer) Close() error {
	return s.server.Close()
}
