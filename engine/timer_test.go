package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/streambot/command"
)

func timerCommand(id string, intervalMs int64, minLines int, fn command.ExecFunc) *command.Bound {
	return &command.Bound{
		Command: &command.Command{
			ID:     id,
			Action: command.ActionText,
			Triggers: []command.Trigger{{
				Type:          command.TriggerTimer,
				MinIntervalMs: intervalMs,
				MinLines:      minLines,
			}},
		},
		Fn: fn,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func TestTimerFiresAfterIntervalAndLines(t *testing.T) {
	var fires atomic.Int32
	mod := &fakeModule{name: "general", cmds: []*command.Bound{
		timerCommand("announce", 60_000, 2, func(ctx context.Context, inv *command.Invocation) (string, error) {
			if inv.Raw != nil || inv.Chat != nil {
				t.Error("timer invocation must carry no raw command or chat context")
			}
			fires.Add(1)
			return "", nil
		}),
	}}
	clock := clockwork.NewFakeClock()
	uc := testUserContext(newMemVars(), mod)
	d := &Dispatcher{Exec: &Executor{}, Clock: clock, TimerResolution: time.Second}
	d.RebuildTimers(uc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.RunTimers(ctx, uc)
	clock.BlockUntil(1)

	// Interval elapsed but no chat lines yet: must not fire.
	clock.Advance(61 * time.Second)
	clock.BlockUntil(1)
	if fires.Load() != 0 {
		t.Fatal("timer fired without reaching minLines")
	}

	d.bumpTimerLines(uc)
	d.bumpTimerLines(uc)
	clock.Advance(time.Second)
	waitFor(t, func() bool { return fires.Load() == 1 })

	// Lines satisfied but interval not yet elapsed again: must not fire.
	d.bumpTimerLines(uc)
	d.bumpTimerLines(uc)
	clock.Advance(time.Second)
	clock.BlockUntil(1)
	if fires.Load() != 1 {
		t.Fatalf("fires = %d, want still 1 before next interval", fires.Load())
	}

	clock.Advance(60 * time.Second)
	waitFor(t, func() bool { return fires.Load() == 2 })
}

func TestTimerLineCounterResetsOnFire(t *testing.T) {
	var fires atomic.Int32
	mod := &fakeModule{name: "general", cmds: []*command.Bound{
		timerCommand("announce", 1_000, 1, func(ctx context.Context, inv *command.Invocation) (string, error) {
			fires.Add(1)
			return "", nil
		}),
	}}
	clock := clockwork.NewFakeClock()
	uc := testUserContext(newMemVars(), mod)
	d := &Dispatcher{Exec: &Executor{}, Clock: clock, TimerResolution: time.Second}
	d.RebuildTimers(uc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.RunTimers(ctx, uc)
	clock.BlockUntil(1)

	d.bumpTimerLines(uc)
	clock.Advance(time.Second)
	waitFor(t, func() bool { return fires.Load() == 1 })

	// Counter was reset; without new chat lines the timer stays quiet.
	clock.Advance(5 * time.Second)
	clock.BlockUntil(1)
	if fires.Load() != 1 {
		t.Fatalf("fires = %d, want 1 with no new lines", fires.Load())
	}
}

func TestRebuildTimersPreservesStateForUnchangedTrigger(t *testing.T) {
	mod := &fakeModule{name: "general", cmds: []*command.Bound{
		timerCommand("announce", 60_000, 5, func(ctx context.Context, inv *command.Invocation) (string, error) {
			return "", nil
		}),
	}}
	clock := clockwork.NewFakeClock()
	uc := testUserContext(newMemVars(), mod)
	d := &Dispatcher{Exec: &Executor{}, Clock: clock}
	d.RebuildTimers(uc)
	d.bumpTimerLines(uc)
	d.bumpTimerLines(uc)

	d.RebuildTimers(uc)

	uc.timerMu.Lock()
	defer uc.timerMu.Unlock()
	if len(uc.timers) != 1 {
		t.Fatalf("timers = %d, want 1", len(uc.timers))
	}
	if uc.timers[0].lines != 2 {
		t.Fatalf("lines = %d, want preserved 2", uc.timers[0].lines)
	}
}
