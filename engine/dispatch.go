package engine

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/streambot/command"
	"github.com/onnwee/streambot/telemetry"
)

// Dispatcher turns chat lines and platform events into executor calls.
type Dispatcher struct {
	Exec     *Executor
	ChatLog  ChatLogStore
	Sessions SessionStore
	// Clock defaults to the real clock; tests inject a fake.
	Clock clockwork.Clock
	// TimerResolution defaults to one second.
	TimerResolution time.Duration
}

func (d *Dispatcher) clock() clockwork.Clock {
	if d.Clock != nil {
		return d.Clock
	}
	return clockwork.NewRealClock()
}

// HandleChatMessage dispatches one non-self chat message: persist the line,
// match each module's command triggers longest-first, add any first-chat
// triggers whose condition holds, execute per module, then give every module
// its bookkeeping callback.
func (d *Dispatcher) HandleChatMessage(ctx context.Context, uc *UserContext, chat *command.ChatContext, text string) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "engine", "chat.message",
		attribute.String("channel", uc.Channel))
	defer span.End()
	telemetry.IncChatMessage()

	if d.ChatLog != nil {
		if err := d.ChatLog.Insert(ctx, uc.Channel, chat.UserID, chat.UserName, text, d.clock().Now()); err != nil {
			slog.Error("chat log insert failed", slog.String("channel", uc.Channel), slog.Any("err", err))
		}
	}

	fc := &firstChatChecks{d: d, uc: uc, chat: chat}

	var wg sync.WaitGroup
	for _, mod := range uc.Modules() {
		raw, trig, matched := command.FindMatchingTrigger(text, command.CommandTriggers(mod.Commands()))
		var required []command.Trigger
		if matched {
			required = append(required, trig)
		}
		required = append(required, d.relevantFirstChatTriggers(ctx, mod, fc)...)
		if len(required) == 0 {
			continue
		}
		wg.Add(1)
		go func(m Module, raw *command.RawCommand, required []command.Trigger) {
			defer wg.Done()
			d.Exec.ExecuteForModule(ctx, uc, m, raw, "", chat, required)
		}(mod, raw, required)
	}
	wg.Wait()

	for _, mod := range uc.Modules() {
		mod.OnChatMsg(ctx, chat, text)
	}
	d.bumpTimerLines(uc)
	telemetry.ObserveDispatch(time.Since(start).Seconds())
}

// relevantFirstChatTriggers returns one first_chat trigger per since scope the
// module uses whose condition holds for this message. The underlying checks
// are memoized per message, not per module.
func (d *Dispatcher) relevantFirstChatTriggers(ctx context.Context, mod Module, fc *firstChatChecks) []command.Trigger {
	var haveStream, haveAlltime bool
	for _, b := range mod.Commands() {
		for _, t := range b.Triggers {
			if t.Type != command.TriggerFirstChat {
				continue
			}
			switch t.Since {
			case command.SinceAlltime:
				haveAlltime = true
			default:
				haveStream = true
			}
		}
	}
	var out []command.Trigger
	if haveAlltime && fc.firstEver(ctx) {
		out = append(out, command.NewFirstChatTrigger(command.SinceAlltime))
	}
	if haveStream && fc.firstOfStream(ctx) {
		out = append(out, command.NewFirstChatTrigger(command.SinceStream))
	}
	return out
}

// firstChatChecks memoizes the two first-chat determinations for one message.
type firstChatChecks struct {
	d    *Dispatcher
	uc   *UserContext
	chat *command.ChatContext

	onceEver  sync.Once
	isEver    bool
	onceStrm  sync.Once
	isOfStrm  bool
}

func (f *firstChatChecks) firstEver(ctx context.Context) bool {
	f.onceEver.Do(func() {
		if f.d.ChatLog == nil {
			return
		}
		// The message was logged before the checks run, so 1 means first.
		n, err := f.d.ChatLog.CountAll(ctx, f.uc.Channel, f.chat.UserID)
		if err != nil {
			slog.Error("first-chat count failed", slog.Any("err", err))
			return
		}
		f.isEver = n == 1
	})
	return f.isEver
}

func (f *firstChatChecks) firstOfStream(ctx context.Context) bool {
	f.onceStrm.Do(func() {
		if f.d.ChatLog == nil {
			return
		}
		since := f.streamStart(ctx)
		n, err := f.d.ChatLog.CountSince(ctx, f.uc.Channel, f.chat.UserID, since)
		if err != nil {
			slog.Error("first-chat-of-stream count failed", slog.Any("err", err))
			return
		}
		f.isOfStrm = n == 1
	})
	return f.isOfStrm
}

func (f *firstChatChecks) streamStart(ctx context.Context) time.Time {
	if f.d.Sessions != nil {
		start, live, err := f.d.Sessions.CurrentStart(ctx, f.uc.User.ID)
		if err != nil {
			slog.Error("stream session lookup failed", slog.Any("err", err))
		} else if live {
			return start
		}
	}
	// No live stream detected: treat the last 5 minutes as "this stream".
	return f.d.clock().Now().Add(-5 * time.Minute)
}

// HandleRewardRedemption dispatches a channel-points redemption. The reward
// title is the trigger key; the user input becomes the args.
func (d *Dispatcher) HandleRewardRedemption(ctx context.Context, uc *UserContext, chat *command.ChatContext, rewardTitle, input string) {
	raw := &command.RawCommand{Name: rewardTitle, Args: strings.Fields(input)}
	d.Exec.ExecuteMatchingCommands(ctx, uc, raw, "", chat, []command.Trigger{
		command.NewRewardRedemptionTrigger(rewardTitle),
	})
}

// HandleFollow dispatches a follow event.
func (d *Dispatcher) HandleFollow(ctx context.Context, uc *UserContext, chat *command.ChatContext) {
	d.handleOneShot(ctx, uc, chat, command.TriggerFollow, nil)
}

// HandleSub dispatches a subscription event.
func (d *Dispatcher) HandleSub(ctx context.Context, uc *UserContext, chat *command.ChatContext) {
	d.handleOneShot(ctx, uc, chat, command.TriggerSub, nil)
}

// HandleBits dispatches a cheer; the amount rides in the synthetic args.
func (d *Dispatcher) HandleBits(ctx context.Context, uc *UserContext, chat *command.ChatContext, amount int) {
	d.handleOneShot(ctx, uc, chat, command.TriggerBits, []string{strconv.Itoa(amount)})
}

// HandleRaid dispatches a raid; the viewer count rides in the synthetic args.
func (d *Dispatcher) HandleRaid(ctx context.Context, uc *UserContext, chat *command.ChatContext, viewers int) {
	d.handleOneShot(ctx, uc, chat, command.TriggerRaid, []string{strconv.Itoa(viewers)})
}

func (d *Dispatcher) handleOneShot(ctx context.Context, uc *UserContext, chat *command.ChatContext, typ command.TriggerType, args []string) {
	raw := &command.RawCommand{Name: string(typ), Args: args}
	d.Exec.ExecuteMatchingCommands(ctx, uc, raw, "", chat, []command.Trigger{{Type: typ}})
}

// HandleStreamOnline opens a stream session. No trigger dispatch; the session
// only feeds the first-chat-of-stream determination.
func (d *Dispatcher) HandleStreamOnline(ctx context.Context, uc *UserContext, startedAt time.Time) {
	if d.Sessions == nil {
		return
	}
	if err := d.Sessions.Open(ctx, uc.User.ID, startedAt); err != nil {
		slog.Error("opening stream session failed", slog.Int64("user_id", uc.User.ID), slog.Any("err", err))
	}
}

// HandleStreamOffline closes the open stream session.
func (d *Dispatcher) HandleStreamOffline(ctx context.Context, uc *UserContext) {
	if d.Sessions == nil {
		return
	}
	if err := d.Sessions.Close(ctx, uc.User.ID, d.clock().Now()); err != nil {
		slog.Error("closing stream session failed", slog.Int64("user_id", uc.User.ID), slog.Any("err", err))
	}
}
