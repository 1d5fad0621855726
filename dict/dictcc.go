package dict

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

const defaultDictCCBaseURL = "https://www.dict.cc"

// DictCCClient translates words via a dict.cc-style site. The site has no
// JSON API; translations are lifted from the c1Arr/c2Arr javascript arrays
// embedded in the result page.
type DictCCClient struct {
	HTTPClient *http.Client
	// BaseURL overrides www.dict.cc, for tests.
	BaseURL string
}

// Translation pairs a source-language word with its target-language matches.
type Translation struct {
	Word    string
	Matches []string
}

var (
	reC1Arr = regexp.MustCompile(`var c1Arr = new Array\(([^)]*)\)`)
	reC2Arr = regexp.MustCompile(`var c2Arr = new Array\(([^)]*)\)`)
)

func (c *DictCCClient) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *DictCCClient) baseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return defaultDictCCBaseURL
}

// Translate looks word up and groups the result rows by source word, in page
// order. An empty slice means the site knows no translation.
func (c *DictCCClient) Translate(ctx context.Context, word string) ([]Translation, error) {
	u := c.baseURL() + "/?s=" + url.QueryEscape(word)
	b, err := getBody(ctx, c.http(), u)
	if err != nil {
		return nil, err
	}
	from := parseJSStringArray(reC1Arr.FindSubmatch(b))
	to := parseJSStringArray(reC2Arr.FindSubmatch(b))
	if len(from) != len(to) {
		return nil, fmt.Errorf("mismatched result arrays (%d vs %d)", len(from), len(to))
	}

	var out []Translation
	index := map[string]int{}
	for i := range from {
		if from[i] == "" || to[i] == "" {
			continue
		}
		j, ok := index[from[i]]
		if !ok {
			index[from[i]] = len(out)
			out = append(out, Translation{Word: from[i]})
			j = len(out) - 1
		}
		out[j].Matches = append(out[j].Matches, to[i])
	}
	return out, nil
}

// parseJSStringArray splits the contents of a new Array("a","b") literal.
func parseJSStringArray(m [][]byte) []string {
	if len(m) < 2 {
		return nil
	}
	inner := strings.TrimSpace(string(m[1]))
	if inner == "" {
		return nil
	}
	parts := strings.Split(inner, `","`)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, `" `)
		p = strings.ReplaceAll(p, `\"`, `"`)
		p = strings.ReplaceAll(p, `\/`, `/`)
		out = append(out, p)
	}
	return out
}

// Format renders a translation as a single chat line.
func (t Translation) Format() string {
	return t.Word + ": " + strings.Join(t.Matches, ", ")
}
