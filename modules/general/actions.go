package general

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/onnwee/streambot/command"
	"github.com/onnwee/streambot/twitchapi"
	"github.com/onnwee/streambot/widget"
)

// decodeData unmarshals a command's Data, treating absent data as empty.
func decodeData(c *command.Command, into any) error {
	if len(c.Data) == 0 {
		return nil
	}
	return json.Unmarshal(c.Data, into)
}

// bindAction turns a command's declarative Data into its executable.
func (m *Module) bindAction(c *command.Command) (command.ExecFunc, error) {
	switch c.Action {
	case command.ActionText:
		return m.bindText(c)
	case command.ActionMedia:
		return m.bindMedia(c)
	case command.ActionCountdown:
		return m.bindCountdown(c)
	case command.ActionDictLookup:
		return m.bindDictLookup(c)
	case command.ActionMadochanWord:
		return m.bindMadochan(c)
	case command.ActionChatters:
		return m.bindChatters(c), nil
	case command.ActionSetChannelTitle:
		return m.bindSetTitle(c)
	case command.ActionSetChannelGame:
		return m.bindSetGame(c)
	case command.ActionAddStreamTags:
		return m.bindTagChange(c, true)
	case command.ActionRemoveStreamTags:
		return m.bindTagChange(c, false)
	default:
		return nil, fmt.Errorf("action %q not supported by this module", c.Action)
	}
}

type textData struct {
	Text []string `json:"text"`
}

func (m *Module) bindText(c *command.Command) (command.ExecFunc, error) {
	var data textData
	if err := decodeData(c, &data); err != nil {
		return nil, err
	}
	if len(data.Text) == 0 {
		return nil, fmt.Errorf("text command without text")
	}
	return func(ctx context.Context, inv *command.Invocation) (string, error) {
		tmpl := data.Text[rand.Intn(len(data.Text))]
		m.deps.say(m.target(inv), m.subst(ctx, tmpl, inv, c))
		return "", nil
	}, nil
}

type mediaData struct {
	Sound         string `json:"sound,omitempty"`
	Image         string `json:"image,omitempty"`
	MinDurationMs int    `json:"min_duration_ms,omitempty"`
}

func (m *Module) bindMedia(c *command.Command) (command.ExecFunc, error) {
	var data mediaData
	if err := decodeData(c, &data); err != nil {
		return nil, err
	}
	return func(ctx context.Context, inv *command.Invocation) (string, error) {
		if m.deps.Widgets == nil {
			return "", nil
		}
		m.deps.Widgets.NotifyOne(m.userID, ModuleName, widget.Event{
			Type: "playmedia",
			Data: map[string]any{
				"sound":           data.Sound,
				"image":           data.Image,
				"min_duration_ms": data.MinDurationMs,
				"volume":          m.doc.Settings.Volume,
			},
		})
		return "", nil
	}, nil
}

type countdownStep struct {
	Type  string          `json:"type"` // text | delay | media
	Value string          `json:"value,omitempty"`
	Media json.RawMessage `json:"media,omitempty"`
}

type countdownData struct {
	Type string `json:"type,omitempty"` // manual (default) | auto

	// manual
	Actions []countdownStep `json:"actions,omitempty"`

	// auto
	Steps    int    `json:"steps,omitempty"`
	Interval string `json:"interval,omitempty"`
	Intro    string `json:"intro,omitempty"`
	Outro    string `json:"outro,omitempty"`
}

func (m *Module) bindCountdown(c *command.Command) (command.ExecFunc, error) {
	var data countdownData
	if err := decodeData(c, &data); err != nil {
		return nil, err
	}
	steps := data.Actions
	if data.Type == "auto" {
		steps = nil
		if data.Intro != "" {
			steps = append(steps, countdownStep{Type: "text", Value: data.Intro})
			steps = append(steps, countdownStep{Type: "delay", Value: data.Interval})
		}
		for i := data.Steps; i >= 1; i-- {
			steps = append(steps, countdownStep{Type: "text", Value: fmt.Sprintf("%d", i)})
			steps = append(steps, countdownStep{Type: "delay", Value: data.Interval})
		}
		if data.Outro != "" {
			steps = append(steps, countdownStep{Type: "text", Value: data.Outro})
		}
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("countdown without steps")
	}
	return func(ctx context.Context, inv *command.Invocation) (string, error) {
		// Steps run strictly in order; each completes before the next starts.
		for _, step := range steps {
			switch step.Type {
			case "text":
				m.deps.say(m.target(inv), m.subst(ctx, step.Value, inv, c))
			case "delay":
				m.deps.clock().Sleep(parseDelay(m.subst(ctx, step.Value, inv, c)))
			case "media":
				if m.deps.Widgets != nil {
					var md mediaData
					_ = json.Unmarshal(step.Media, &md)
					m.deps.Widgets.NotifyOne(m.userID, ModuleName, widget.Event{
						Type: "playmedia",
						Data: map[string]any{"sound": md.Sound, "image": md.Image, "min_duration_ms": md.MinDurationMs},
					})
				}
			}
		}
		return "", nil
	}, nil
}

// parseDelay accepts "2s" style durations and bare millisecond counts.
func parseDelay(s string) time.Duration {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	if ms := command.PermissiveInt(s); ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return 0
}

type dictLookupData struct {
	Lang   string `json:"lang"` // ja | de
	Phrase string `json:"phrase,omitempty"`
}

func (m *Module) bindDictLookup(c *command.Command) (command.ExecFunc, error) {
	var data dictLookupData
	if err := decodeData(c, &data); err != nil {
		return nil, err
	}
	phrase := data.Phrase
	if phrase == "" {
		phrase = "$args"
	}
	return func(ctx context.Context, inv *command.Invocation) (string, error) {
		query := strings.TrimSpace(m.subst(ctx, phrase, inv, c))
		if query == "" {
			return "", nil
		}
		tgt := m.target(inv)
		switch data.Lang {
		case "ja":
			if m.deps.Jisho == nil {
				return "", nil
			}
			entries, err := m.deps.Jisho.Search(ctx, query)
			if err != nil {
				m.deps.say(tgt, "❌ Dictionary lookup failed.")
				return "", err
			}
			if len(entries) == 0 {
				m.deps.say(tgt, fmt.Sprintf("No results for %q.", query))
				return "", nil
			}
			if len(entries) > 3 {
				entries = entries[:3]
			}
			parts := make([]string, 0, len(entries))
			for _, e := range entries {
				parts = append(parts, e.Format())
			}
			m.deps.say(tgt, strings.Join(parts, " | "))
		case "de":
			if m.deps.DictCC == nil {
				return "", nil
			}
			translations, err := m.deps.DictCC.Translate(ctx, query)
			if err != nil {
				m.deps.say(tgt, "❌ Dictionary lookup failed.")
				return "", err
			}
			if len(translations) == 0 {
				m.deps.say(tgt, fmt.Sprintf("No results for %q.", query))
				return "", nil
			}
			m.deps.say(tgt, translations[0].Format())
		default:
			return "", fmt.Errorf("unknown dictionary lang %q", data.Lang)
		}
		return "", nil
	}, nil
}

type madochanData struct {
	Model     string `json:"model,omitempty"`
	Weirdness int    `json:"weirdness,omitempty"`
}

func (m *Module) bindMadochan(c *command.Command) (command.ExecFunc, error) {
	var data madochanData
	if err := decodeData(c, &data); err != nil {
		return nil, err
	}
	return func(ctx context.Context, inv *command.Invocation) (string, error) {
		definition := strings.TrimSpace(inv.Raw.ArgsJoined())
		if definition == "" {
			return "", nil
		}
		tgt := m.target(inv)
		word, err := m.deps.Madochan.CreateWord(ctx, data.Model, data.Weirdness, definition)
		if err != nil {
			m.deps.say(tgt, "❌ Could not create a word this time.")
			return "", err
		}
		m.deps.say(tgt, fmt.Sprintf("Generated word for %q: %s", definition, word))
		return "", nil
	}, nil
}

func (m *Module) bindChatters(c *command.Command) command.ExecFunc {
	return func(ctx context.Context, inv *command.Invocation) (string, error) {
		tgt := m.target(inv)
		names, err := m.deps.Helix.GetChatters(ctx, m.deps.Auth, m.broadcasterID, m.broadcasterID)
		if err != nil {
			m.deps.say(tgt, "❌ Unable to fetch chatters.")
			return "", err
		}
		if len(names) == 0 {
			m.deps.say(tgt, "Nobody is here.")
			return "", nil
		}
		m.deps.say(tgt, "Current chatters: "+strings.Join(names, ", "))
		return "", nil
	}
}

type setTitleData struct {
	Title string `json:"title,omitempty"`
}

func (m *Module) bindSetTitle(c *command.Command) (command.ExecFunc, error) {
	var data setTitleData
	if err := decodeData(c, &data); err != nil {
		return nil, err
	}
	tmpl := data.Title
	if tmpl == "" {
		tmpl = "$args"
	}
	return func(ctx context.Context, inv *command.Invocation) (string, error) {
		tgt := m.target(inv)
		title := strings.TrimSpace(m.subst(ctx, tmpl, inv, c))
		if title == "" {
			m.deps.say(tgt, "❌ No title given.")
			return "", nil
		}
		err := m.deps.Helix.ModifyChannelInformation(ctx, m.deps.Auth, m.broadcasterID, twitchapi.ChannelPatch{Title: &title})
		if err != nil {
			m.deps.say(tgt, "❌ Unable to update the title.")
			return "", err
		}
		m.deps.say(tgt, fmt.Sprintf("✨ Stream title updated to %q.", title))
		return "", nil
	}, nil
}

type setGameData struct {
	Game string `json:"game,omitempty"`
}

func (m *Module) bindSetGame(c *command.Command) (command.ExecFunc, error) {
	var data setGameData
	if err := decodeData(c, &data); err != nil {
		return nil, err
	}
	tmpl := data.Game
	if tmpl == "" {
		tmpl = "$args"
	}
	return func(ctx context.Context, inv *command.Invocation) (string, error) {
		tgt := m.target(inv)
		query := strings.TrimSpace(m.subst(ctx, tmpl, inv, c))
		if query == "" {
			m.deps.say(tgt, "❌ No category given.")
			return "", nil
		}
		cat, err := m.deps.Helix.SearchCategory(ctx, query)
		if err != nil {
			m.deps.say(tgt, "❌ Unable to search categories.")
			return "", err
		}
		if cat == nil {
			m.deps.say(tgt, fmt.Sprintf("❌ No category found for %q.", query))
			return "", nil
		}
		err = m.deps.Helix.ModifyChannelInformation(ctx, m.deps.Auth, m.broadcasterID, twitchapi.ChannelPatch{GameID: &cat.ID})
		if err != nil {
			m.deps.say(tgt, "❌ Unable to update the category.")
			return "", err
		}
		m.deps.say(tgt, fmt.Sprintf("✨ Stream category updated to %q.", cat.Name))
		return "", nil
	}, nil
}

type tagData struct {
	Tag string `json:"tag,omitempty"`
}

func (m *Module) bindTagChange(c *command.Command, add bool) (command.ExecFunc, error) {
	var data tagData
	if err := decodeData(c, &data); err != nil {
		return nil, err
	}
	tmpl := data.Tag
	if tmpl == "" {
		tmpl = "$args"
	}
	return func(ctx context.Context, inv *command.Invocation) (string, error) {
		tgt := m.target(inv)
		tag := strings.TrimSpace(m.subst(ctx, tmpl, inv, c))
		if tag == "" {
			m.deps.say(tgt, "❌ No tag given.")
			return "", nil
		}
		tags, err := m.deps.Helix.GetStreamTags(ctx, m.broadcasterID)
		if err != nil {
			m.deps.say(tgt, "❌ Unable to read the current tags.")
			return "", err
		}
		next := make([]string, 0, len(tags)+1)
		present := false
		for _, t := range tags {
			if strings.EqualFold(t, tag) {
				present = true
				if !add {
					continue
				}
			}
			next = append(next, t)
		}
		if add {
			if present {
				m.deps.say(tgt, fmt.Sprintf("Tag %q is already set.", tag))
				return "", nil
			}
			next = append(next, tag)
		} else if !present {
			m.deps.say(tgt, fmt.Sprintf("Tag %q is not set.", tag))
			return "", nil
		}
		if err := m.deps.Helix.ReplaceStreamTags(ctx, m.deps.Auth, m.broadcasterID, next); err != nil {
			m.deps.say(tgt, "❌ Unable to update the tags.")
			return "", err
		}
		if add {
			m.deps.say(tgt, fmt.Sprintf("✨ Tag %q added.", tag))
		} else {
			m.deps.say(tgt, fmt.Sprintf("✨ Tag %q removed.", tag))
		}
		return "", nil
	}, nil
}
