// Package events fans domain events out to the automation layer: the
// system workflow bound to the event, published user workflows listening
// for it, and the flat rule engine.
package events

import (
	"context"
	"errors"

	"github.com/plumemail/plume/consts"
	"github.com/plumemail/plume/db"
	"github.com/plumemail/plume/logger"
	"github.com/plumemail/plume/pkg/metrics"
	"github.com/plumemail/plume/rules"
	"github.com/plumemail/plume/workflow"
)

type Bus struct {
	rdb   *db.Database
	wf    *workflow.Engine
	rules *rules.Engine
}

func NewBus(rdb *db.Database, wf *workflow.Engine, ruleEngine *rules.Engine) *Bus {
	return &Bus{rdb: rdb, wf: wf, rules: ruleEngine}
}

// Publish dispatches one event to every subscriber. Subscriber failures are
// logged and never propagate: one broken workflow must not block delivery
// or the other listeners.
func (b *Bus) Publish(ctx context.Context, event string, userID *int64, data map[string]any) {
	metrics.EventsPublished.WithLabelValues(event).Inc()
	if data == nil {
		data = map[string]any{}
	}
	if userID != nil {
		data["user_id"] = *userID
	}

	sysWf, err := b.rdb.GetSystemWorkflowByEvent(ctx, event)
	switch {
	case err == nil:
		if err := b.wf.RunSystem(ctx, sysWf, userID, event, data); err != nil {
			logger.Error("system workflow failed", "event", event, "workflow", sysWf.Code, "error", err)
		}
	case !errors.Is(err, consts.ErrWorkflowNotFound):
		logger.Error("failed to resolve system workflow", "event", event, "error", err)
	}

	custom, err := b.rdb.ListWorkflowsForEvent(ctx, event, userID)
	if err != nil {
		logger.Error("failed to list event workflows", "event", event, "error", err)
	}
	for _, wf := range custom {
		if err := b.wf.RunCustom(ctx, wf, event, data); err != nil {
			logger.Error("workflow failed", "event", event, "workflow_id", wf.ID, "error", err)
		}
	}

	b.rules.MatchAndRun(ctx, event, userID, data)
}
