package dict

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

const defaultJishoBaseURL = "https://jisho.org"

// JishoClient queries the jisho.org word search API.
type JishoClient struct {
	HTTPClient *http.Client
	// BaseURL overrides jisho.org, for tests.
	BaseURL string
}

// JishoEntry is one dictionary hit.
type JishoEntry struct {
	Word    string
	Reading string
	English []string
}

func (c *JishoClient) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *JishoClient) baseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return defaultJishoBaseURL
}

// Search looks up keyword and returns the entries in API order.
func (c *JishoClient) Search(ctx context.Context, keyword string) ([]JishoEntry, error) {
	u := c.baseURL() + "/api/v1/search/words?keyword=" + url.QueryEscape(keyword)
	b, err := getBody(ctx, c.http(), u)
	if err != nil {
		return nil, err
	}
	var body struct {
		Data []struct {
			Japanese []struct {
				Word    string `json:"word"`
				Reading string `json:"reading"`
			} `json:"japanese"`
			Senses []struct {
				EnglishDefinitions []string `json:"english_definitions"`
			} `json:"senses"`
		} `json:"data"`
	}
	if err := json.Unmarshal(b, &body); err != nil {
		return nil, err
	}
	var out []JishoEntry
	for _, d := range body.Data {
		var e JishoEntry
		if len(d.Japanese) > 0 {
			e.Word = d.Japanese[0].Word
			e.Reading = d.Japanese[0].Reading
			if e.Word == "" {
				e.Word = e.Reading
			}
		}
		for _, s := range d.Senses {
			e.English = append(e.English, s.EnglishDefinitions...)
		}
		if e.Word == "" && len(e.English) == 0 {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Format renders an entry as a single chat line.
func (e JishoEntry) Format() string {
	var b strings.Builder
	b.WriteString(e.Word)
	if e.Reading != "" && e.Reading != e.Word {
		b.WriteString(" (" + e.Reading + ")")
	}
	if len(e.English) > 0 {
		b.WriteString(": " + strings.Join(e.English, ", "))
	}
	return b.String()
}
