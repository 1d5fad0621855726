package command

import (
	"sort"
	"strings"
)

// MatchText matches raw chat text against a command trigger's command string.
// It succeeds when the text equals the command exactly, or, for non-exact
// triggers, when the text starts with the command followed by a space. On
// success it returns the parsed RawCommand: the matched prefix (trimmed) plus
// the whitespace-tokenized remainder with empty tokens dropped.
func MatchText(text string, trig Trigger) (*RawCommand, bool) {
	if trig.Type != TriggerCommand || trig.Command == "" {
		return nil, false
	}
	if text == trig.Command {
		return &RawCommand{Name: strings.TrimSpace(trig.Command)}, true
	}
	if !trig.CommandExact && strings.HasPrefix(text, trig.Command+" ") {
		rest := text[len(trig.Command)+1:]
		return &RawCommand{
			Name: strings.TrimSpace(trig.Command),
			Args: strings.Fields(rest),
		}, true
	}
	return nil, false
}

// CommandTriggers collects every command-type trigger across the given
// definitions, sorted by command-string length descending, so that longer,
// more specific triggers win over their prefixes ("!draw bad" before "!draw").
// An exact and a non-exact trigger on the same command string are distinct
// candidates: the exact one handles the bare command, the non-exact one still
// catches prefixed text. Only full (command, exact) duplicates are dropped.
func CommandTriggers(cmds []*Bound) []Trigger {
	type key struct {
		command string
		exact   bool
	}
	seen := map[key]bool{}
	var out []Trigger
	for _, c := range cmds {
		for _, t := range c.Triggers {
			if t.Type != TriggerCommand || t.Command == "" {
				continue
			}
			k := key{t.Command, t.CommandExact}
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i].Command) != len(out[j].Command) {
			return len(out[i].Command) > len(out[j].Command)
		}
		return out[i].CommandExact && !out[j].CommandExact
	})
	return out
}

// FindMatchingTrigger returns the first (longest) command trigger matching the
// chat text along with its parsed RawCommand. At most one command trigger fires
// per module per message.
func FindMatchingTrigger(text string, triggers []Trigger) (*RawCommand, Trigger, bool) {
	for _, t := range triggers {
		if raw, ok := MatchText(text, t); ok {
			return raw, t, true
		}
	}
	return nil, Trigger{}, false
}
