package announce

import (
	"context"
	"regexp"
	"time"
)

// Message is the slice of a chat message the de-dup logic needs.
type Message struct {
	ID        string
	AuthorID  string
	Content   string
	Timestamp time.Time
}

// History is the destination-channel capability contract: bounded
// newest-first iteration plus deletion for the repair sweep.
type History interface {
	RecentMessages(ctx context.Context, channelID string, limit int) ([]Message, error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}

// video-id bearing URL shapes that appear in announcement text/embeds
var videoLinkPattern = regexp.MustCompile(`(?:v=|youtu\.be/|/shorts/|/live/)([A-Za-z0-9_-]{11})`)

// ExtractVideoIDs pulls every YouTube video id out of message text, in
// order of appearance, de-duplicated.
func ExtractVideoIDs(text string) []string {
	matches := videoLinkPattern.FindAllStringSubmatch(text, -1)
	if matches == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		id := m[1]
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
