// Package dict holds the HTTP clients behind dictionary-style command
// actions: jisho.org for Japanese lookups, a dict.cc-style translation
// endpoint, and the Madochan word generator.
package dict

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

const maxResponseBytes = 1 << 20

func getBody(ctx context.Context, hc *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
}
