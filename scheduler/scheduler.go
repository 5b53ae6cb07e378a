// Package scheduler drives the periodic background work: mailbox
// reconciliation, scheduled sends, snooze surfacing, workflow timers and
// retention sweeps.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/plumemail/plume/config"
	"github.com/plumemail/plume/db"
	"github.com/plumemail/plume/imapsync"
	"github.com/plumemail/plume/logger"
	"github.com/plumemail/plume/sender"
	"github.com/plumemail/plume/server/wshub"
	"github.com/plumemail/plume/workflow"
)

const (
	scheduledSendEvery  = 60 * time.Second
	snoozeEvery         = 60 * time.Second
	workflowTimersEvery = 30 * time.Second
	cleanupEvery        = 24 * time.Hour
	sweepEvery          = 24 * time.Hour
	trashRetention      = 30 * 24 * time.Hour
	archiveAfter        = 90 * 24 * time.Hour
	dueBatchSize        = 100
)

type Scheduler struct {
	rdb    *db.Database
	cfg    *config.Config
	syncer *imapsync.Syncer
	sender *sender.Sender
	hub    *wshub.Hub
	wf     *workflow.Engine
}

func New(rdb *db.Database, cfg *config.Config, syncer *imapsync.Syncer, mailSender *sender.Sender, hub *wshub.Hub, wf *workflow.Engine) *Scheduler {
	return &Scheduler{rdb: rdb, cfg: cfg, syncer: syncer, sender: mailSender, hub: hub, wf: wf}
}

// Start launches every periodic task and blocks until the context ends.
func (s *Scheduler) Start(ctx context.Context) {
	var wg sync.WaitGroup

	syncInterval, err := s.cfg.IMAPSync.GetInterval()
	if err != nil {
		logger.Error("invalid imap sync interval, using default", "error", err)
		syncInterval = 300 * time.Second
	}
	if s.cfg.IMAPSync.Enabled && s.syncer != nil {
		s.spawn(ctx, &wg, "imap-sync", syncInterval, func(ctx context.Context) {
			s.syncer.SyncAll(ctx)
		})
	}

	s.spawn(ctx, &wg, "scheduled-send", scheduledSendEvery, s.runScheduledSends)
	s.spawn(ctx, &wg, "snooze", snoozeEvery, s.surfaceSnoozed)
	s.spawn(ctx, &wg, "workflow-timers", workflowTimersEvery, s.resumeDueWorkflows)
	s.spawn(ctx, &wg, "session-cleanup", cleanupEvery, s.cleanupSessions)
	s.spawn(ctx, &wg, "retention-sweep", sweepEvery, s.runSweeps)

	wg.Wait()
}

// spawn runs a task once shortly after startup and then on its interval.
func (s *Scheduler) spawn(ctx context.Context, wg *sync.WaitGroup, name string, interval time.Duration, task func(context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("starting background task", "task", name, "interval", interval.String())
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.Info("stopping background task", "task", name)
				return
			case <-ticker.C:
				task(ctx)
			}
		}
	}()
}

func (s *Scheduler) runScheduledSends(ctx context.Context) {
	due, err := s.rdb.ListDueScheduled(ctx, dueBatchSize)
	if err != nil {
		logger.Error("scheduled send scan failed", "error", err)
		return
	}
	for _, email := range due {
		userID, err := s.rdb.GetEmailOwner(ctx, email.ID)
		if err != nil {
			logger.Error("scheduled send: cannot resolve owner", "email_id", email.ID, "error", err)
			continue
		}
		user, err := s.rdb.GetUserByID(ctx, userID)
		if err != nil {
			logger.Error("scheduled send: cannot load user", "user_id", userID, "error", err)
			continue
		}
		if err := s.sender.Dispatch(ctx, user, email.ID); err != nil {
			logger.Warn("scheduled send failed", "email_id", email.ID, "error", err)
			continue
		}
		s.hub.Notify(userID, "email.sent", map[string]any{"email_id": email.ID})
	}
}

func (s *Scheduler) surfaceSnoozed(ctx context.Context) {
	surfaced, err := s.rdb.SurfaceDueSnoozed(ctx)
	if err != nil {
		logger.Error("snooze surfacing failed", "error", err)
		return
	}
	for userID, emailIDs := range surfaced {
		s.hub.Notify(userID, "email.unsnoozed", map[string]any{"email_ids": emailIDs})
	}
}

func (s *Scheduler) resumeDueWorkflows(ctx context.Context) {
	ids, err := s.rdb.ListDueWaiting(ctx, dueBatchSize)
	if err != nil {
		logger.Error("workflow timer scan failed", "error", err)
		return
	}
	for _, id := range ids {
		if err := s.wf.Resume(ctx, id, nil, true); err != nil {
			logger.Warn("workflow resume failed", "execution_id", id, "error", err)
		}
	}
}

func (s *Scheduler) cleanupSessions(ctx context.Context) {
	maxIdle, err := s.cfg.Scheduler.GetSessionMaxIdle()
	if err != nil {
		maxIdle = trashRetention
	}
	if n, err := s.rdb.DeleteIdleSessions(ctx, maxIdle); err != nil {
		logger.Error("session cleanup failed", "error", err)
	} else if n > 0 {
		logger.Info("purged idle sessions", "count", n)
	}

	if n, err := s.rdb.PurgeExpiredCodes(ctx); err != nil {
		logger.Error("verification code cleanup failed", "error", err)
	} else if n > 0 {
		logger.Info("purged dead verification codes", "count", n)
	}
}

func (s *Scheduler) runSweeps(ctx context.Context) {
	if n, err := s.rdb.SweepTrash(ctx, trashRetention); err != nil {
		logger.Error("trash sweep failed", "error", err)
	} else if n > 0 {
		logger.Info("swept trash", "deleted", n)
	}

	if n, err := s.rdb.SweepArchive(ctx, archiveAfter); err != nil {
		logger.Error("archive sweep failed", "error", err)
	} else if n > 0 {
		logger.Info("auto-archived old mail", "moved", n)
	}
}
