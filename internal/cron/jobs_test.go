package cron

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/wukaijin/moltbot-with-lark/internal/conversation"
)

// sweepStore implements conversation.Store with a scripted sweep result.
type sweepStore struct {
	conversation.Store
	sweepCount int
	sweepErr   error
	calls      int
}

func (s *sweepStore) SweepExpired() (int, error) {
	s.calls++
	return s.sweepCount, s.sweepErr
}

func TestConversationSweepJob_Name(t *testing.T) {
	t.Parallel()
	j := &ConversationSweepJob{Logger: slog.Default()}
	if j.Name() != "conversation_sweep" {
		t.Errorf("name = %q, want conversation_sweep", j.Name())
	}
}

func TestConversationSweepJob_Schedule(t *testing.T) {
	t.Parallel()
	j := &ConversationSweepJob{Logger: slog.Default()}
	if j.Schedule() != "*/10 * * * *" {
		t.Errorf("schedule = %q, want default */10", j.Schedule())
	}
	j.ScheduleExpr = "0 * * * *"
	if j.Schedule() != "0 * * * *" {
		t.Errorf("schedule = %q, want override", j.Schedule())
	}
}

func TestConversationSweepJob_Run(t *testing.T) {
	t.Parallel()

	store := &sweepStore{sweepCount: 3}
	j := &ConversationSweepJob{Store: store, Logger: slog.Default()}

	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if store.calls != 1 {
		t.Errorf("sweep calls = %d, want 1", store.calls)
	}
}

func TestConversationSweepJob_RunError(t *testing.T) {
	t.Parallel()

	store := &sweepStore{sweepErr: errors.New("disk gone")}
	j := &ConversationSweepJob{Store: store, Logger: slog.Default()}

	if err := j.Run(context.Background()); err == nil {
		t.Fatal("expected sweep error to propagate")
	}
}

func TestConversationSweepJob_CancelledContext(t *testing.T) {
	t.Parallel()

	store := &sweepStore{}
	j := &ConversationSweepJob{Store: store, Logger: slog.Default()}

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	if err := j.Run(ctx); err == nil {
		t.Fatal("expected context error")
	}
	if store.calls != 0 {
		t.Error("sweep ran despite cancelled context")
	}
}
