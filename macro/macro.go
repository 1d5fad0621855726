// Package macro implements the $-placeholder substitution engine used by all
// command actions. Templates are expanded by fixed-point iteration: every pass
// applies each macro family in a fixed order, and passes repeat until the text
// stops changing (bounded, so self-referential templates cannot loop forever).
// A failing resolver contributes an empty string; it never aborts the
// expansion or surfaces to the caller.
package macro

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/onnwee/streambot/command"
)

// maxPasses caps the fixed-point loop. Ten levels of nested macros is far
// beyond anything a sane template needs.
const maxPasses = 10

// VarSource resolves global variable values by name.
type VarSource interface {
	GetString(ctx context.Context, name string) (string, bool)
}

// UserFieldSource resolves $user(...) fields that require a Helix lookup.
type UserFieldSource interface {
	DisplayName(ctx context.Context, login string) (string, error)
	ProfileImageURL(ctx context.Context, login string) (string, error)
	RecentClipURL(ctx context.Context, login string) (string, error)
	LastStreamCategory(ctx context.Context, login string) (string, error)
}

// BotInfo backs the static $bot.* macros.
type BotInfo struct {
	Version  string
	Date     string
	Website  string
	Github   string
	Features string
}

// Env carries everything one substitution may need. Nil collaborators are
// fine; macros depending on them resolve to empty strings.
type Env struct {
	Raw   *command.RawCommand
	Chat  *command.ChatContext
	Cmd   *command.Command
	Vars  VarSource
	Users UserFieldSource
	HTTP  *http.Client
	Bot   BotInfo

	// RandInt is swappable for tests; nil means math/rand.
	RandInt func(min, max int) int
}

func (e *Env) httpClient() *http.Client {
	if e.HTTP != nil {
		return e.HTTP
	}
	return http.DefaultClient
}

func (e *Env) randInt(min, max int) int {
	if e.RandInt != nil {
		return e.RandInt(min, max)
	}
	if max < min {
		min, max = max, min
	}
	return min + rand.Intn(max-min+1)
}

var (
	reArgs         = regexp.MustCompile(`\$args(?:\((\d*)(:?)(\d*)\))?`)
	reRand         = regexp.MustCompile(`\$rand\(\s*(\d*)\s*(?:,\s*(\d*)\s*)?\)`)
	reVar          = regexp.MustCompile(`\$var\(([^)]*)\)`)
	reBot          = regexp.MustCompile(`\$bot\.(version|date|website|github|features)`)
	reUser         = regexp.MustCompile(`\$user(?:\(([^)]*)\))?\.(name|profile_image_url|recent_clip_url|last_stream_category)`)
	reCustomAPIKey = regexp.MustCompile(`\$customapi\(([^$)]*)\)\['([A-Za-z0-9_ -]+)'\]`)
	reCustomAPI    = regexp.MustCompile(`\$customapi\(([^$)]*)\)`)
	reURLEncode    = regexp.MustCompile(`\$urlencode\(([^$)]*)\)`)
	reCalc         = regexp.MustCompile(`\$calc\((\d+)\s*([+\-*/])\s*(\d+)\)`)
)

// Substitute expands all macros in text against env. It never fails: the
// worst outcome for any single macro occurrence is an empty replacement.
func Substitute(ctx context.Context, text string, env *Env) string {
	for i := 0; i < maxPasses; i++ {
		next := passOnce(ctx, text, env)
		if next == text {
			break
		}
		text = next
	}
	return text
}

func passOnce(ctx context.Context, text string, env *Env) string {
	text = reArgs.ReplaceAllStringFunc(text, func(m string) string {
		sub := reArgs.FindStringSubmatch(m)
		return resolveArgs(env.Raw, sub[1], sub[2], sub[3])
	})
	text = reRand.ReplaceAllStringFunc(text, func(m string) string {
		sub := reRand.FindStringSubmatch(m)
		min, max := 1, 100
		if sub[1] != "" {
			min, _ = strconv.Atoi(sub[1])
		}
		if sub[2] != "" {
			max, _ = strconv.Atoi(sub[2])
		}
		return strconv.Itoa(env.randInt(min, max))
	})
	text = reVar.ReplaceAllStringFunc(text, func(m string) string {
		name := reVar.FindStringSubmatch(m)[1]
		return resolveVar(ctx, env, name)
	})
	text = reBot.ReplaceAllStringFunc(text, func(m string) string {
		switch reBot.FindStringSubmatch(m)[1] {
		case "version":
			return env.Bot.Version
		case "date":
			return env.Bot.Date
		case "website":
			return env.Bot.Website
		case "github":
			return env.Bot.Github
		case "features":
			return env.Bot.Features
		}
		return ""
	})
	text = reUser.ReplaceAllStringFunc(text, func(m string) string {
		sub := reUser.FindStringSubmatch(m)
		return resolveUser(ctx, env, sub[1], sub[2])
	})
	text = reCustomAPIKey.ReplaceAllStringFunc(text, func(m string) string {
		sub := reCustomAPIKey.FindStringSubmatch(m)
		return resolveCustomAPI(ctx, env, sub[1], sub[2])
	})
	text = reCustomAPI.ReplaceAllStringFunc(text, func(m string) string {
		sub := reCustomAPI.FindStringSubmatch(m)
		return resolveCustomAPI(ctx, env, sub[1], "")
	})
	text = reURLEncode.ReplaceAllStringFunc(text, func(m string) string {
		return url.QueryEscape(reURLEncode.FindStringSubmatch(m)[1])
	})
	text = reCalc.ReplaceAllStringFunc(text, func(m string) string {
		sub := reCalc.FindStringSubmatch(m)
		return resolveCalc(sub[1], sub[2], sub[3])
	})
	return text
}

// resolveArgs implements $args, $args(N), $args(N:), $args(N:M) and $args(:M).
// Indices are zero-based; M is inclusive; anything out of range contributes
// nothing.
func resolveArgs(raw *command.RawCommand, fromS, colon, toS string) string {
	if raw == nil {
		return ""
	}
	if fromS == "" && colon == "" && toS == "" {
		return raw.ArgsJoined()
	}
	from := 0
	if fromS != "" {
		from, _ = strconv.Atoi(fromS)
	}
	if from >= len(raw.Args) {
		return ""
	}
	if colon == "" {
		return raw.Args[from]
	}
	to := len(raw.Args) - 1
	if toS != "" {
		to, _ = strconv.Atoi(toS)
		if to >= len(raw.Args) {
			to = len(raw.Args) - 1
		}
	}
	if to < from {
		return ""
	}
	return strings.Join(raw.Args[from:to+1], " ")
}

// resolveVar looks the name up in the owner command's local variables first,
// then falls back to the global store.
func resolveVar(ctx context.Context, env *Env, name string) string {
	if env.Cmd != nil {
		if lv := env.Cmd.LocalVariable(name); lv != nil {
			return lv.Value
		}
	}
	if env.Vars == nil {
		return ""
	}
	v, ok := env.Vars.GetString(ctx, name)
	if !ok {
		return ""
	}
	return v
}

func resolveUser(ctx context.Context, env *Env, login, field string) string {
	// $user.name without an explicit target needs no network call.
	if login == "" && field == "name" {
		if env.Chat == nil {
			return ""
		}
		if env.Chat.DisplayName != "" {
			return env.Chat.DisplayName
		}
		return env.Chat.UserName
	}
	if login == "" {
		if env.Chat == nil {
			return ""
		}
		login = env.Chat.UserName
	}
	if env.Users == nil {
		return ""
	}
	var v string
	var err error
	switch field {
	case "name":
		v, err = env.Users.DisplayName(ctx, login)
	case "profile_image_url":
		v, err = env.Users.ProfileImageURL(ctx, login)
	case "recent_clip_url":
		v, err = env.Users.RecentClipURL(ctx, login)
	case "last_stream_category":
		v, err = env.Users.LastStreamCategory(ctx, login)
	}
	if err != nil {
		slog.Debug("macro: user lookup failed", slog.String("login", login), slog.String("field", field), slog.Any("err", err))
		return ""
	}
	return v
}

// resolveCustomAPI performs an HTTP GET and returns either the raw body or,
// when key is non-empty, the named field of the JSON response.
func resolveCustomAPI(ctx context.Context, env *Env, rawURL, key string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return ""
	}
	resp, err := env.httpClient().Do(req)
	if err != nil {
		slog.Debug("macro: customapi request failed", slog.String("url", rawURL), slog.Any("err", err))
		return ""
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ""
	}
	if key == "" {
		return strings.TrimSpace(string(body))
	}
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		slog.Debug("macro: customapi bad json", slog.String("url", rawURL), slog.Any("err", err))
		return ""
	}
	return jsonString(m[key])
}

func resolveCalc(aS, op, bS string) string {
	a, _ := strconv.Atoi(aS)
	b, _ := strconv.Atoi(bS)
	switch op {
	case "+":
		return strconv.Itoa(a + b)
	case "-":
		return strconv.Itoa(a - b)
	case "*":
		return strconv.Itoa(a * b)
	case "/":
		// division stays floating point: $calc(6/4) is 1.5, not 1
		if b == 0 {
			return ""
		}
		return strconv.FormatFloat(float64(a)/float64(b), 'f', -1, 64)
	}
	return ""
}

func jsonString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprintf("%v", x)
		}
		return string(b)
	}
}
