package cron

import (
	"context"
	"log/slog"

	"github.com/wukaijin/moltbot-with-lark/internal/conversation"
)

// ConversationSweepJob removes conversations whose last activity is past
// the store's retention window. Lazy eviction on read already hides them;
// the sweep reclaims the memory and rows they still occupy.
type ConversationSweepJob struct {
	Store        conversation.Store
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "*/10 * * * *"
}

var _ Job = (*ConversationSweepJob)(nil)

// Name implements Job.
func (j *ConversationSweepJob) Name() string {
	return "conversation_sweep"
}

// Schedule implements Job.
func (j *ConversationSweepJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/10 * * * *"
}

// Run sweeps expired conversations.
func (j *ConversationSweepJob) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	removed, err := j.Store.SweepExpired()
	if err != nil {
		return err
	}
	if removed > 0 {
		j.Logger.Info("cron: swept expired conversations", "count", removed)
	}
	return nil
}
