package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/onnwee/streambot/command"
)

func TestExecuteMatchingCommandsRunsOnlyMatching(t *testing.T) {
	var hello, bye atomic.Int32
	mod := &fakeModule{name: "general", cmds: []*command.Bound{
		textCommand("!hello", func(ctx context.Context, inv *command.Invocation) (string, error) {
			hello.Add(1)
			return "", nil
		}),
		textCommand("!bye", func(ctx context.Context, inv *command.Invocation) (string, error) {
			bye.Add(1)
			return "", nil
		}),
	}}
	uc := testUserContext(newMemVars(), mod)
	e := &Executor{}

	raw := &command.RawCommand{Name: "!hello"}
	e.ExecuteMatchingCommands(context.Background(), uc, raw, "", viewerChat(),
		[]command.Trigger{command.NewCommandTrigger("!hello", false)})

	if hello.Load() != 1 || bye.Load() != 0 {
		t.Fatalf("hello=%d bye=%d", hello.Load(), bye.Load())
	}
}

func TestExecuteSkipsRestrictedCommands(t *testing.T) {
	var ran atomic.Int32
	b := textCommand("!modonly", func(ctx context.Context, inv *command.Invocation) (string, error) {
		ran.Add(1)
		return "", nil
	})
	b.RestrictTo = []command.Role{command.RoleMod}
	mod := &fakeModule{name: "general", cmds: []*command.Bound{b}}
	uc := testUserContext(newMemVars(), mod)
	e := &Executor{}
	required := []command.Trigger{command.NewCommandTrigger("!modonly", false)}

	e.ExecuteMatchingCommands(context.Background(), uc, &command.RawCommand{Name: "!modonly"}, "", viewerChat(), required)
	if ran.Load() != 0 {
		t.Fatal("restricted command ran for a plain viewer")
	}

	modChat := viewerChat()
	modChat.Mod = true
	e.ExecuteMatchingCommands(context.Background(), uc, &command.RawCommand{Name: "!modonly"}, "", modChat, required)
	if ran.Load() != 1 {
		t.Fatal("restricted command did not run for a moderator")
	}
}

func TestCommandErrorDoesNotAbortSiblings(t *testing.T) {
	var okRan atomic.Int32
	mod := &fakeModule{name: "general", cmds: []*command.Bound{
		textCommand("!x", func(ctx context.Context, inv *command.Invocation) (string, error) {
			return "", errors.New("boom")
		}),
		textCommand("!x", func(ctx context.Context, inv *command.Invocation) (string, error) {
			panic("kaboom")
		}),
		textCommand("!x", func(ctx context.Context, inv *command.Invocation) (string, error) {
			okRan.Add(1)
			return "ok", nil
		}),
	}}
	uc := testUserContext(newMemVars(), mod)
	e := &Executor{}

	e.ExecuteMatchingCommands(context.Background(), uc, &command.RawCommand{Name: "!x"}, "", viewerChat(),
		[]command.Trigger{command.NewCommandTrigger("!x", false)})
	if okRan.Load() != 1 {
		t.Fatal("healthy sibling did not run")
	}
}

func TestVariableChangeGlobalStore(t *testing.T) {
	vars := newMemVars()
	b := textCommand("!count", func(ctx context.Context, inv *command.Invocation) (string, error) {
		return "", nil
	})
	b.VariableChanges = []command.VariableChange{
		{Change: command.ChangeIncreaseBy, Name: "counter", Value: "2"},
	}
	mod := &fakeModule{name: "general", cmds: []*command.Bound{b}}
	uc := testUserContext(vars, mod)
	e := &Executor{}
	required := []command.Trigger{command.NewCommandTrigger("!count", false)}

	e.ExecuteMatchingCommands(context.Background(), uc, &command.RawCommand{Name: "!count"}, "", viewerChat(), required)
	e.ExecuteMatchingCommands(context.Background(), uc, &command.RawCommand{Name: "!count"}, "", viewerChat(), required)

	if v, _ := vars.GetString(context.Background(), "counter"); v != "4" {
		t.Fatalf("counter = %q, want 4", v)
	}
	if mod.saveCount() != 2 {
		t.Fatalf("saves = %d, want 2", mod.saveCount())
	}
}

func TestVariableChangeLocalShadowsGlobal(t *testing.T) {
	vars := newMemVars()
	_ = vars.Set(context.Background(), "x", "100")

	b := textCommand("!local", func(ctx context.Context, inv *command.Invocation) (string, error) {
		return "", nil
	})
	b.Variables = []command.LocalVariable{{Name: "x", Value: "5"}}
	b.VariableChanges = []command.VariableChange{
		{Change: command.ChangeIncreaseBy, Name: "x", Value: "1"},
	}
	mod := &fakeModule{name: "general", cmds: []*command.Bound{b}}
	uc := testUserContext(vars, mod)
	e := &Executor{}

	e.ExecuteMatchingCommands(context.Background(), uc, &command.RawCommand{Name: "!local"}, "", viewerChat(),
		[]command.Trigger{command.NewCommandTrigger("!local", false)})

	if got := b.LocalVariable("x").Value; got != "6" {
		t.Fatalf("local x = %q, want 6", got)
	}
	if v, _ := vars.GetString(context.Background(), "x"); v != "100" {
		t.Fatalf("global x = %q, want untouched 100", v)
	}
	if mod.saveCount() != 1 {
		t.Fatalf("saves = %d, want 1", mod.saveCount())
	}
}

// Two commands matched by one message mutate the same global variable. They
// run concurrently with no ordering guarantee, so the lost-update outcome is
// as legal as the serialized one; assert the set of legal results.
func TestConcurrentVariableChangeLegalOutcomes(t *testing.T) {
	for i := 0; i < 20; i++ {
		vars := newMemVars()
		mk := func() *command.Bound {
			b := textCommand("!inc", func(ctx context.Context, inv *command.Invocation) (string, error) {
				return "", nil
			})
			b.VariableChanges = []command.VariableChange{
				{Change: command.ChangeIncreaseBy, Name: "n", Value: "1"},
			}
			return b
		}
		mod := &fakeModule{name: "general", cmds: []*command.Bound{mk(), mk()}}
		uc := testUserContext(vars, mod)
		e := &Executor{}

		e.ExecuteMatchingCommands(context.Background(), uc, &command.RawCommand{Name: "!inc"}, "", viewerChat(),
			[]command.Trigger{command.NewCommandTrigger("!inc", false)})

		got, _ := vars.GetString(context.Background(), "n")
		if got != "1" && got != "2" {
			t.Fatalf("n = %q, want 1 or 2", got)
		}
	}
}

func TestModulesFanOutConcurrently(t *testing.T) {
	// Both modules' commands block until the other has started; a serialized
	// executor would deadlock here.
	var started sync.WaitGroup
	started.Add(2)
	blocker := func(ctx context.Context, inv *command.Invocation) (string, error) {
		started.Done()
		started.Wait()
		return "", nil
	}
	m1 := &fakeModule{name: "a", cmds: []*command.Bound{textCommand("!go", blocker)}}
	m2 := &fakeModule{name: "b", cmds: []*command.Bound{textCommand("!go", blocker)}}
	uc := testUserContext(newMemVars(), m1, m2)
	e := &Executor{}

	done := make(chan struct{})
	go func() {
		e.ExecuteMatchingCommands(context.Background(), uc, &command.RawCommand{Name: "!go"}, "", viewerChat(),
			[]command.Trigger{command.NewCommandTrigger("!go", false)})
		close(done)
	}()
	select {
	case <-done:
	case <-ctxDeadline(t):
		t.Fatal("executor serialized modules")
	}
}

func ctxDeadline(t *testing.T) <-chan struct{} {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx.Done()
}
