package engine

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/onnwee/streambot/command"
	"github.com/onnwee/streambot/macro"
	"github.com/onnwee/streambot/telemetry"
)

// Executor runs matched commands. Modules fan out concurrently, and every
// matched command within a module fans out concurrently as well; callers must
// not assume any relative order between two commands matched by one message.
type Executor struct {
	Bot   macro.BotInfo
	Users macro.UserFieldSource
	HTTP  *http.Client
}

func (e *Executor) env(uc *UserContext, raw *command.RawCommand, chat *command.ChatContext, cmd *command.Command) *macro.Env {
	return &macro.Env{
		Raw:   raw,
		Chat:  chat,
		Cmd:   cmd,
		Vars:  uc.Vars,
		Users: e.Users,
		HTTP:  e.HTTP,
		Bot:   e.Bot,
	}
}

// ExecuteMatchingCommands runs every command across all of the user's modules
// that carries a trigger equal to one of required. It blocks until all
// launched commands finish.
func (e *Executor) ExecuteMatchingCommands(ctx context.Context, uc *UserContext, raw *command.RawCommand, target string, chat *command.ChatContext, required []command.Trigger) {
	if len(required) == 0 {
		return
	}
	var wg sync.WaitGroup
	for _, mod := range uc.Modules() {
		wg.Add(1)
		go func(m Module) {
			defer wg.Done()
			e.ExecuteForModule(ctx, uc, m, raw, target, chat, required)
		}(mod)
	}
	wg.Wait()
}

// ExecuteForModule runs the module's commands matching required. Commands run
// concurrently; a panic or error in one never aborts its siblings.
func (e *Executor) ExecuteForModule(ctx context.Context, uc *UserContext, mod Module, raw *command.RawCommand, target string, chat *command.ChatContext, required []command.Trigger) {
	seen := make(map[*command.Command]bool)
	var matched []*command.Bound
	for _, b := range mod.Commands() {
		if b == nil || b.Command == nil || seen[b.Command] {
			continue
		}
		if b.HasAnyTrigger(required) {
			seen[b.Command] = true
			matched = append(matched, b)
		}
	}
	if len(matched) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, b := range matched {
		wg.Add(1)
		go func(b *command.Bound) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					slog.Error("command panicked",
						slog.String("module", mod.Name()),
						slog.String("command", commandLabel(b.Command)),
						slog.Any("panic", r))
				}
			}()
			e.runOne(ctx, uc, mod, b, raw, target, chat)
		}(b)
	}
	wg.Wait()
}

func (e *Executor) runOne(ctx context.Context, uc *UserContext, mod Module, b *command.Bound, raw *command.RawCommand, target string, chat *command.ChatContext) {
	if !command.MayExecute(chat, b.Command) {
		return
	}
	if e.applyVariableChanges(ctx, uc, b, raw, chat) {
		if err := mod.SaveCommands(ctx); err != nil {
			slog.Error("persisting commands after variable change failed",
				slog.String("module", mod.Name()), slog.Any("err", err))
		}
	}
	out, err := b.Fn(ctx, &command.Invocation{Raw: raw, Target: target, Chat: chat})
	telemetry.IncCommandExecuted(mod.Name(), string(b.Action))
	if err != nil {
		telemetry.IncCommandError(mod.Name(), string(b.Action))
		slog.Error("command failed",
			slog.String("module", mod.Name()),
			slog.String("command", commandLabel(b.Command)),
			slog.Any("err", err))
		return
	}
	if out != "" {
		slog.Info("command executed",
			slog.String("module", mod.Name()),
			slog.String("command", commandLabel(b.Command)),
			slog.String("result", out))
	}
}

// applyVariableChanges resolves and applies the command's variable changes in
// order. Local variables shadow the global store: a change to a name the
// command declares locally mutates the command document, everything else goes
// to the store. Reports whether any change was applied.
func (e *Executor) applyVariableChanges(ctx context.Context, uc *UserContext, b *command.Bound, raw *command.RawCommand, chat *command.ChatContext) bool {
	if len(b.VariableChanges) == 0 {
		return false
	}
	env := e.env(uc, raw, chat, b.Command)
	changed := false
	for _, vc := range b.VariableChanges {
		name := macro.Substitute(ctx, vc.Name, env)
		value := macro.Substitute(ctx, vc.Value, env)

		local := b.LocalVariable(name)
		current := ""
		if local != nil {
			current = local.Value
		} else if v, ok := uc.Vars.GetString(ctx, name); ok {
			current = v
		}

		var next string
		switch vc.Change {
		case command.ChangeSet:
			next = value
		case command.ChangeIncreaseBy:
			next = strconv.Itoa(command.PermissiveInt(current) + command.PermissiveInt(value))
		case command.ChangeDecreaseBy:
			next = strconv.Itoa(command.PermissiveInt(current) - command.PermissiveInt(value))
		default:
			slog.Warn("unknown variable change", slog.String("change", vc.Change))
			continue
		}

		if local != nil {
			local.Value = next
		} else if err := uc.Vars.Set(ctx, name, next); err != nil {
			slog.Error("variable set failed", slog.String("name", name), slog.Any("err", err))
			continue
		}
		changed = true
	}
	return changed
}

func commandLabel(c *command.Command) string {
	for _, t := range c.Triggers {
		if t.Type == command.TriggerCommand && t.Command != "" {
			return t.Command
		}
	}
	if c.ID != "" {
		return c.ID
	}
	return string(c.Action)
}
