package songrequest

import (
	"context"
	"fmt"
	"strings"

	"github.com/onnwee/streambot/command"
	"github.com/onnwee/streambot/youtubeapi"
)

const usageText = "Usage: !sr YOUTUBE-URL"

// execSr is the single entry point behind !sr. The first arg selects a
// subcommand; anything else is treated as a video URL or search query.
func (m *Module) execSr(ctx context.Context, inv *command.Invocation) (string, error) {
	chat := inv.Chat
	tgt := m.channel
	if chat != nil && chat.Channel != "" {
		tgt = chat.Channel
	}
	args := inv.Raw.ArgsJoined()
	if strings.TrimSpace(args) == "" {
		m.deps.say(tgt, usageText)
		return "", nil
	}

	isMod := chat != nil && (chat.Mod || chat.RoomID == chat.UserID)

	switch strings.ToLower(inv.Raw.Args[0]) {
	case "current":
		m.sayCurrent(tgt)
		return "", nil
	case "good":
		m.vote(ctx, tgt, true)
		return "", nil
	case "bad":
		m.vote(ctx, tgt, false)
		return "", nil
	case "next", "skip":
		if !isMod {
			return "", nil
		}
		m.next(ctx, tgt)
		return "", nil
	case "rm":
		if !isMod {
			return "", nil
		}
		m.removeCurrent(ctx, tgt)
		return "", nil
	case "pause":
		if !isMod {
			return "", nil
		}
		m.setPaused(ctx, tgt, true)
		return "", nil
	case "unpause", "resume":
		if !isMod {
			return "", nil
		}
		m.setPaused(ctx, tgt, false)
		return "", nil
	case "clear":
		if !isMod {
			return "", nil
		}
		m.clear(ctx, tgt)
		return "", nil
	}

	return "", m.add(ctx, tgt, chat, args)
}

func (m *Module) add(ctx context.Context, tgt string, chat *command.ChatContext, input string) error {
	if m.deps.Lookup == nil {
		m.deps.say(tgt, "❌ Song requests are not available right now.")
		return nil
	}

	addedBy := ""
	if chat != nil {
		addedBy = chat.UserName
	}
	m.mu.Lock()
	limit := limitFor(chat, m.doc.Settings.MaxSongsQueued)
	queued := m.queuedBy(addedBy)
	m.mu.Unlock()
	if limit > 0 && queued >= limit {
		m.deps.say(tgt, fmt.Sprintf("❌ You already have %d songs queued.", queued))
		return nil
	}

	var video *youtubeapi.Video
	var err error
	if id := youtubeapi.ExtractVideoID(input); id != "" {
		video, err = m.deps.Lookup.VideoByID(ctx, id)
	} else {
		video, err = m.deps.Lookup.Search(ctx, input)
	}
	if err != nil {
		m.deps.say(tgt, "❌ Could not find that video.")
		return err
	}

	item := newItem(video, addedBy)
	m.mu.Lock()
	m.doc.Playlist = append(m.doc.Playlist, item)
	pos := len(m.doc.Playlist)
	m.mu.Unlock()
	m.syncState(ctx)

	m.deps.say(tgt, fmt.Sprintf("🎵 Added %q (youtu.be/%s) at position %d", item.Title, item.YoutubeID, pos))
	return nil
}

func (m *Module) sayCurrent(tgt string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.doc.Playlist) == 0 {
		m.deps.say(tgt, "Playlist is empty.")
		return
	}
	cur := m.doc.Playlist[0]
	m.deps.say(tgt, fmt.Sprintf("Now playing: %q (youtu.be/%s), requested by %s", cur.Title, cur.YoutubeID, cur.AddedBy))
}

func (m *Module) vote(ctx context.Context, tgt string, up bool) {
	m.mu.Lock()
	if len(m.doc.Playlist) == 0 {
		m.mu.Unlock()
		return
	}
	cur := m.doc.Playlist[0]
	if up {
		cur.Goods++
	} else {
		cur.Bads++
	}
	m.mu.Unlock()
	m.syncState(ctx)
}

// next rotates the playing song to the end of the playlist.
func (m *Module) next(ctx context.Context, tgt string) {
	m.mu.Lock()
	if len(m.doc.Playlist) == 0 {
		m.mu.Unlock()
		m.deps.say(tgt, "Playlist is empty.")
		return
	}
	cur := m.doc.Playlist[0]
	cur.Plays++
	m.doc.Playlist = append(m.doc.Playlist[1:], cur)
	m.mu.Unlock()
	m.syncState(ctx)
	m.sayCurrent(tgt)
}

func (m *Module) removeCurrent(ctx context.Context, tgt string) {
	m.mu.Lock()
	if len(m.doc.Playlist) == 0 {
		m.mu.Unlock()
		return
	}
	removed := m.doc.Playlist[0]
	m.doc.Playlist = m.doc.Playlist[1:]
	m.mu.Unlock()
	m.syncState(ctx)
	m.deps.say(tgt, fmt.Sprintf("Removed %q from the playlist.", removed.Title))
}

func (m *Module) setPaused(ctx context.Context, tgt string, paused bool) {
	m.mu.Lock()
	m.doc.Paused = paused
	m.mu.Unlock()
	m.syncState(ctx)
	if paused {
		m.deps.say(tgt, "Playback paused.")
	} else {
		m.deps.say(tgt, "Playback resumed.")
	}
}

func (m *Module) clear(ctx context.Context, tgt string) {
	m.mu.Lock()
	m.doc.Playlist = nil
	m.mu.Unlock()
	m.syncState(ctx)
	m.deps.say(tgt, "Playlist cleared.")
}
