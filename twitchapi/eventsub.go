package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

type eventSubTransport struct {
	Method   string `json:"method"`
	Callback string `json:"callback"`
	Secret   string `json:"secret"`
}

type eventSubSubscription struct {
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Condition map[string]string `json:"condition"`
	Transport eventSubTransport `json:"transport"`
}

// eventSubTypes are the webhook subscriptions the bot consumes, with the
// condition each one needs. channel.follow v2 additionally requires a
// moderator; the broadcaster themselves qualifies.
func eventSubTypes(broadcasterID string) []eventSubSubscription {
	own := map[string]string{"broadcaster_user_id": broadcasterID}
	return []eventSubSubscription{
		{Type: "stream.online", Version: "1", Condition: own},
		{Type: "stream.offline", Version: "1", Condition: own},
		{Type: "channel.follow", Version: "2", Condition: map[string]string{
			"broadcaster_user_id": broadcasterID,
			"moderator_user_id":   broadcasterID,
		}},
		{Type: "channel.subscribe", Version: "1", Condition: own},
		{Type: "channel.cheer", Version: "1", Condition: own},
		{Type: "channel.raid", Version: "1", Condition: map[string]string{
			"to_broadcaster_user_id": broadcasterID,
		}},
		{Type: "channel.channel_points_custom_reward_redemption.add", Version: "1", Condition: own},
	}
}

// EnsureEventSubSubscriptions creates every webhook subscription the bot
// routes for one broadcaster. A subscription that already exists (409) is
// fine; failures on individual types are collected so the rest still get
// created.
func (hc *HelixClient) EnsureEventSubSubscriptions(ctx context.Context, broadcasterID, callbackURL, secret string) error {
	if broadcasterID == "" {
		return fmt.Errorf("broadcasterID empty")
	}
	transport := eventSubTransport{Method: "webhook", Callback: callbackURL, Secret: secret}
	var errs []error
	for _, sub := range eventSubTypes(broadcasterID) {
		sub.Transport = transport
		if err := hc.createEventSubSubscription(ctx, sub); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sub.Type, err))
			continue
		}
		slog.Debug("eventsub subscription ensured",
			slog.String("type", sub.Type), slog.String("broadcaster_id", broadcasterID))
	}
	return errors.Join(errs...)
}

func (hc *HelixClient) createEventSubSubscription(ctx context.Context, sub eventSubSubscription) error {
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return err
	}
	body, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		hc.baseURL()+"/helix/eventsub/subscriptions", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer closeBody(resp)
	switch resp.StatusCode {
	case http.StatusAccepted:
		return nil
	case http.StatusConflict:
		// Already subscribed with this transport.
		return nil
	}
	b, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("create eventsub subscription failed: %s: %s", resp.Status, string(b))
}
