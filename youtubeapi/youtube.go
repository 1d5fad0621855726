// Package youtubeapi wraps the YouTube Data API for song-request lookups:
// extracting video ids from chat input, resolving a video's title and
// duration, and searching by free text. Only an API key is needed; nothing
// here touches user OAuth.
package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	yt "google.golang.org/api/youtube/v3"
	"google.golang.org/api/option"
)

// Video is the lookup result a song-request entry is built from.
type Video struct {
	ID       string
	Title    string
	Channel  string
	Duration time.Duration
}

// Lookup is the slice of this package modules depend on, so tests can fake it.
type Lookup interface {
	VideoByID(ctx context.Context, id string) (*Video, error)
	Search(ctx context.Context, query string) (*Video, error)
}

// Service implements Lookup against the real API.
type Service struct {
	yt *yt.Service
}

// New builds a Service from an API key.
func New(ctx context.Context, apiKey string) (*Service, error) {
	if apiKey == "" {
		return nil, errors.New("youtube api key missing")
	}
	svc, err := yt.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}
	return &Service{yt: svc}, nil
}

// ErrNotFound is returned when no video matches.
var ErrNotFound = errors.New("video not found")

// VideoByID resolves one video's snippet and duration.
func (s *Service) VideoByID(ctx context.Context, id string) (*Video, error) {
	resp, err := s.yt.Videos.List([]string{"snippet", "contentDetails"}).Id(id).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		return nil, ErrNotFound
	}
	item := resp.Items[0]
	dur, err := ParseISODuration(item.ContentDetails.Duration)
	if err != nil {
		dur = 0
	}
	return &Video{
		ID:       item.Id,
		Title:    item.Snippet.Title,
		Channel:  item.Snippet.ChannelTitle,
		Duration: dur,
	}, nil
}

// Search returns the first video hit for a free-text query.
func (s *Service) Search(ctx context.Context, query string) (*Video, error) {
	resp, err := s.yt.Search.List([]string{"id"}).Q(query).Type("video").MaxResults(1).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 || resp.Items[0].Id == nil || resp.Items[0].Id.VideoId == "" {
		return nil, ErrNotFound
	}
	return s.VideoByID(ctx, resp.Items[0].Id.VideoId)
}

var reVideoID = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ExtractVideoID pulls a video id out of the forms chat users paste: a bare
// id, youtu.be/ID, youtube.com/watch?v=ID, shorts/ID, embed/ID. Returns ""
// when the input carries no recognizable id.
func ExtractVideoID(input string) string {
	input = strings.TrimSpace(input)
	if reVideoID.MatchString(input) {
		return input
	}
	u, err := url.Parse(input)
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	switch host {
	case "youtu.be":
		id := strings.Trim(u.Path, "/")
		if reVideoID.MatchString(id) {
			return id
		}
	case "youtube.com", "m.youtube.com", "music.youtube.com":
		if id := u.Query().Get("v"); reVideoID.MatchString(id) {
			return id
		}
		for _, prefix := range []string{"/shorts/", "/embed/", "/v/", "/live/"} {
			if strings.HasPrefix(u.Path, prefix) {
				id := strings.Trim(strings.TrimPrefix(u.Path, prefix), "/")
				if reVideoID.MatchString(id) {
					return id
				}
			}
		}
	}
	return ""
}

var reISODuration = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// ParseISODuration parses the PT#H#M#S form the Data API uses.
func ParseISODuration(s string) (time.Duration, error) {
	m := reISODuration.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("unparseable duration %q", s)
	}
	var d time.Duration
	if m[1] != "" {
		h, _ := strconv.Atoi(m[1])
		d += time.Duration(h) * time.Hour
	}
	if m[2] != "" {
		mi, _ := strconv.Atoi(m[2])
		d += time.Duration(mi) * time.Minute
	}
	if m[3] != "" {
		sec, _ := strconv.Atoi(m[3])
		d += time.Duration(sec) * time.Second
	}
	return d, nil
}
