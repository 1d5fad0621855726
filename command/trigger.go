package command

import "time"

// TriggerType discriminates the Trigger tagged union.
type TriggerType string

const (
	TriggerCommand          TriggerType = "command"
	TriggerRewardRedemption TriggerType = "reward_redemption"
	TriggerTimer            TriggerType = "timer"
	TriggerFollow           TriggerType = "follow"
	TriggerSub              TriggerType = "sub"
	TriggerBits             TriggerType = "bits"
	TriggerRaid             TriggerType = "raid"
	TriggerFirstChat        TriggerType = "first_chat"
)

// FirstChatSince scopes a first_chat trigger.
type FirstChatSince string

const (
	SinceStream  FirstChatSince = "stream"
	SinceAlltime FirstChatSince = "alltime"
)

// Trigger is a condition that can fire a command. Only the fields relevant
// for its Type are populated; the rest stay at their zero values so the
// persisted JSON remains compact.
type Trigger struct {
	Type TriggerType `json:"type"`

	// command / reward_redemption
	Command      string `json:"command,omitempty"`
	CommandExact bool   `json:"command_exact,omitempty"`

	// timer
	MinIntervalMs int64 `json:"min_interval_ms,omitempty"`
	MinLines      int   `json:"min_lines,omitempty"`

	// first_chat
	Since FirstChatSince `json:"since,omitempty"`
}

// Interval returns the timer trigger's minimum interval as a duration.
func (t Trigger) Interval() time.Duration {
	return time.Duration(t.MinIntervalMs) * time.Millisecond
}

// NewCommandTrigger builds a chat-text trigger.
func NewCommandTrigger(cmd string, exact bool) Trigger {
	return Trigger{Type: TriggerCommand, Command: cmd, CommandExact: exact}
}

// NewRewardRedemptionTrigger builds a channel-points reward trigger matching
// the reward title.
func NewRewardRedemptionTrigger(title string) Trigger {
	return Trigger{Type: TriggerRewardRedemption, Command: title}
}

// NewFirstChatTrigger builds a first-chat trigger for the given scope.
func NewFirstChatTrigger(since FirstChatSince) Trigger {
	return Trigger{Type: TriggerFirstChat, Since: since}
}

// TriggersEqual reports whether two triggers denote the same firing condition.
// It is used both to decide "does trigger A satisfy requirement B" and to
// deduplicate trigger sets. CommandExact deliberately does not participate for
// command triggers.
func TriggersEqual(a, b Trigger) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case TriggerCommand, TriggerRewardRedemption:
		return a.Command == b.Command
	case TriggerTimer:
		return a.MinIntervalMs == b.MinIntervalMs && a.MinLines == b.MinLines
	default:
		// follow, sub, bits, raid, first_chat carry no distinguishing data
		return true
	}
}

// HasAnyTrigger reports whether any of cmd's triggers equals any of the
// required triggers.
func (c *Command) HasAnyTrigger(required []Trigger) bool {
	for _, have := range c.Triggers {
		for _, want := range required {
			if TriggersEqual(have, want) {
				return true
			}
		}
	}
	return false
}
