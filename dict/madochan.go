package dict

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const defaultMadochanBaseURL = "https://madochan.hyottoko.club"

// MadochanClient talks to the Madochan invented-word generator.
type MadochanClient struct {
	HTTPClient *http.Client
	// BaseURL overrides the public instance, for tests.
	BaseURL string
}

// DefaultModel and DefaultWeirdness are the generator defaults commands fall
// back to when their config leaves them unset.
const (
	DefaultModel     = "100epochs"
	DefaultWeirdness = 1
)

func (c *MadochanClient) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *MadochanClient) baseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return defaultMadochanBaseURL
}

// CreateWord generates a word for the given definition.
func (c *MadochanClient) CreateWord(ctx context.Context, model string, weirdness int, definition string) (string, error) {
	if model == "" {
		model = DefaultModel
	}
	if weirdness <= 0 {
		weirdness = DefaultWeirdness
	}
	payload, err := json.Marshal(map[string]any{
		"model":      model,
		"weirdness":  weirdness,
		"definition": definition,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+"/api/v1/_create_word", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http().Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("madochan create word failed: %s: %s", resp.Status, string(b))
	}
	var body struct {
		Word string `json:"word"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if body.Word == "" {
		return "", fmt.Errorf("madochan returned no word")
	}
	return body.Word, nil
}
