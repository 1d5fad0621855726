package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/streambot/command"
	"github.com/onnwee/streambot/telemetry"
)

// timerEntry is the engine-side state of one timer trigger: accumulated chat
// lines since the last fire and the next-eligible timestamp.
type timerEntry struct {
	mod   Module
	bound *command.Bound
	trig  command.Trigger
	lines int
	next  time.Time
}

// RebuildTimers rescans the user's modules for timer triggers. State of a
// timer whose trigger is unchanged (same interval and minLines on the same
// command) survives the rebuild; new timers start a full interval out.
func (d *Dispatcher) RebuildTimers(uc *UserContext) {
	now := d.clock().Now()
	uc.timerMu.Lock()
	defer uc.timerMu.Unlock()

	old := uc.timers
	uc.timers = nil
	for _, mod := range uc.Modules() {
		for _, b := range mod.Commands() {
			for _, t := range b.Triggers {
				if t.Type != command.TriggerTimer {
					continue
				}
				entry := &timerEntry{mod: mod, bound: b, trig: t, next: now.Add(t.Interval())}
				for _, prev := range old {
					if prev.bound.ID == b.ID && command.TriggersEqual(prev.trig, t) {
						entry.lines = prev.lines
						entry.next = prev.next
						break
					}
				}
				uc.timers = append(uc.timers, entry)
			}
		}
	}
}

// bumpTimerLines counts one chat line against every timer.
func (d *Dispatcher) bumpTimerLines(uc *UserContext) {
	uc.timerMu.Lock()
	for _, t := range uc.timers {
		t.lines++
	}
	uc.timerMu.Unlock()
}

// RunTimers scans the user's timers once per resolution tick until ctx is
// done. A timer fires when it has seen at least minLines chat lines since its
// last fire and its interval has elapsed; fires are dispatched as independent
// tasks so one slow action does not delay the scan.
func (d *Dispatcher) RunTimers(ctx context.Context, uc *UserContext) {
	res := d.TimerResolution
	if res <= 0 {
		res = time.Second
	}
	ticker := d.clock().NewTicker(res)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
		now := d.clock().Now()
		uc.timerMu.Lock()
		var due []*timerEntry
		for _, t := range uc.timers {
			if t.lines >= t.trig.MinLines && !now.Before(t.next) {
				t.lines = 0
				t.next = now.Add(t.trig.Interval())
				due = append(due, t)
			}
		}
		uc.timerMu.Unlock()
		for _, t := range due {
			go d.fireTimer(ctx, t)
		}
	}
}

func (d *Dispatcher) fireTimer(ctx context.Context, t *timerEntry) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("timer command panicked",
				slog.String("module", t.mod.Name()), slog.Any("panic", r))
		}
	}()
	telemetry.IncTimerFire()
	out, err := t.bound.Fn(ctx, &command.Invocation{})
	if err != nil {
		slog.Error("timer command failed",
			slog.String("module", t.mod.Name()),
			slog.String("command", commandLabel(t.bound.Command)),
			slog.Any("err", err))
		return
	}
	if out != "" {
		slog.Info("timer fired",
			slog.String("module", t.mod.Name()),
			slog.String("command", commandLabel(t.bound.Command)),
			slog.String("result", out))
	}
}
