// Package command defines the declarative command model shared by all bot
// modules: triggers, restrictions, variable rules, and the matching logic that
// turns raw chat text into command invocations. Action implementations live in
// the modules; this package only carries their persisted configuration.
package command

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ActionKind tags the action a command performs. Modules register a factory
// per kind at load time; the kind is never re-dispatched on invocation.
type ActionKind string

const (
	ActionText             ActionKind = "text"
	ActionMedia            ActionKind = "media"
	ActionCountdown        ActionKind = "countdown"
	ActionDictLookup       ActionKind = "dict_lookup"
	ActionMadochanWord     ActionKind = "madochan_createword"
	ActionChatters         ActionKind = "chatters"
	ActionSetChannelTitle  ActionKind = "set_channel_title"
	ActionSetChannelGame   ActionKind = "set_channel_game_id"
	ActionAddStreamTags    ActionKind = "add_stream_tags"
	ActionRemoveStreamTags ActionKind = "remove_stream_tags"
	ActionSongRequest      ActionKind = "sr"
)

// Role restricts who may execute a command. Roles are OR'd: satisfying any
// listed role is enough.
type Role string

const (
	RoleMod         Role = "mod"
	RoleSub         Role = "sub"
	RoleBroadcaster Role = "broadcaster"
)

// LocalVariable is scoped to one command definition and shadows the global
// variable store for the same name during substitution and variable changes.
type LocalVariable struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// VariableChange mutates a named variable when its command fires. Name and
// Value are substitution templates, resolved before the change applies.
type VariableChange struct {
	Change string `json:"change"` // set | increase_by | decrease_by
	Name   string `json:"name"`
	Value  string `json:"value"`
}

const (
	ChangeSet        = "set"
	ChangeIncreaseBy = "increase_by"
	ChangeDecreaseBy = "decrease_by"
)

// Command is one persisted command definition. The executable side is not
// part of the document; modules bind Data into a Fn at load time (see Bound).
type Command struct {
	ID              string           `json:"id"`
	CreatedAt       time.Time        `json:"created_at"`
	Triggers        []Trigger        `json:"triggers"`
	Action          ActionKind       `json:"action"`
	RestrictTo      []Role           `json:"restrict_to,omitempty"`
	Variables       []LocalVariable  `json:"variables,omitempty"`
	VariableChanges []VariableChange `json:"variable_changes,omitempty"`
	Data            json.RawMessage  `json:"data,omitempty"`
}

// LocalVariable returns a pointer into c.Variables for name, or nil.
func (c *Command) LocalVariable(name string) *LocalVariable {
	for i := range c.Variables {
		if c.Variables[i].Name == name {
			return &c.Variables[i]
		}
	}
	return nil
}

// RawCommand is the ephemeral parse of a triggering chat line: the matched
// prefix and the whitespace-tokenized remainder.
type RawCommand struct {
	Name string
	Args []string
}

// ArgsJoined returns all args joined by a single space.
func (r *RawCommand) ArgsJoined() string {
	if r == nil {
		return ""
	}
	return strings.Join(r.Args, " ")
}

// ChatContext describes the chatter behind one message or platform event.
type ChatContext struct {
	UserID      string
	UserName    string
	DisplayName string
	RoomID      string
	Channel     string
	Mod         bool
	Subscriber  bool
}

// Invocation is passed to every action function. Raw and Chat are nil for
// timer-fired invocations.
type Invocation struct {
	Raw    *RawCommand
	Target string
	Chat   *ChatContext
}

// ExecFunc is one bound action. A non-empty return string is logged by the
// executor; errors never propagate past it.
type ExecFunc func(ctx context.Context, inv *Invocation) (string, error)

// Bound pairs a command definition with its executable, reconstructed on every
// module (re)load. The definition alone round-trips through storage.
type Bound struct {
	*Command
	Fn ExecFunc
}

// MayExecute reports whether the chatter passes the command's restrictions.
// An empty RestrictTo list admits everyone.
func MayExecute(chat *ChatContext, c *Command) bool {
	if len(c.RestrictTo) == 0 {
		return true
	}
	if chat == nil {
		return false
	}
	for _, role := range c.RestrictTo {
		switch role {
		case RoleMod:
			if chat.Mod {
				return true
			}
		case RoleSub:
			if chat.Subscriber {
				return true
			}
		case RoleBroadcaster:
			if chat.RoomID != "" && chat.RoomID == chat.UserID {
				return true
			}
		}
	}
	return false
}

// Fix normalizes a command list loaded from storage: missing ids and creation
// timestamps are assigned. It reports whether anything changed so callers can
// persist exactly when needed; running it over an already-normalized list is a
// no-op.
func Fix(cmds []*Command, now time.Time) bool {
	changed := false
	for _, c := range cmds {
		if c.ID == "" {
			c.ID = uuid.NewString()
			changed = true
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
			changed = true
		}
	}
	return changed
}

// PermissiveInt parses a base-10 integer the way variable changes require:
// an optional sign followed by leading digits; anything else, including the
// empty string, yields 0. "12abc" parses as 12.
func PermissiveInt(s string) int {
	s = strings.TrimSpace(s)
	i := 0
	neg := false
	if i < len(s) && (s[i] == '-' || s[i] == '+') {
		neg = s[i] == '-'
		i++
	}
	n := 0
	digits := 0
	for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		n = n*10 + int(s[i]-'0')
		digits++
	}
	if digits == 0 {
		return 0
	}
	if neg {
		return -n
	}
	return n
}
