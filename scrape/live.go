package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/width"

	"github.com/Hubz123/YTwatch/target"
)

const (
	playerAnchor = "var ytInitialPlayerResponse"
	oembedURL    = "https://www.youtube.com/oembed?url=%s&format=json"

	// display-name lookups are cheap to cache and expensive to miss
	nameCacheSize = 512
)

// markers that appear near the live player in raw HTML when the
// structured blob is absent
var liveMarkers = []string{
	`"isLive":true`,
	`"isLiveNow":true`,
	`hqdefault_live`,
	`"style":"LIVE"`,
}

var videoIDPattern = regexp.MustCompile(`"videoId":"([A-Za-z0-9_-]{11})"|watch\?v=([A-Za-z0-9_-]{11})`)

// LiveCandidate is the ephemeral result of one detection pass,
// consumed immediately by the announce gates.
type LiveCandidate struct {
	Target      target.Target
	VideoID     string
	Title       string
	Link        string
	StartTime   time.Time
	ChannelName string
}

// Detector fetches a channel's live page and decides whether a
// broadcast is currently live.
type Detector struct {
	client    *Client
	resolver  *Resolver
	nameCache *lru.Cache[string, string]
}

// NewDetector builds a detector sharing the scrape client and
// resolver.
func NewDetector(client *Client, resolver *Resolver) (*Detector, error) {
	names, err := lru.New[string, string](nameCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create name cache: %w", err)
	}
	return &Detector{client: client, resolver: resolver, nameCache: names}, nil
}

// CheckLive reports the target's current live broadcast, or nil when
// there is none worth announcing. A candidate is dropped when no live
// signal is found, when the title fails the whitelist (checked raw and
// width-folded), or when no usable display name can be determined:
// the system never announces under an anonymous or placeholder name.
// Network and parse failures come back as classified errors; nothing
// escapes as a panic.
func (d *Detector) CheckLive(ctx context.Context, t target.Target, whitelist *regexp.Regexp) (*LiveCandidate, error) {
	t, err := d.resolver.Resolve(ctx, t)
	if err != nil {
		return nil, err
	}

	liveURL := livePageURL(t)
	if liveURL == "" {
		return nil, newError(KindAmbiguous, "check_live", fmt.Errorf("target %q has no channel identity", target.Key(t)))
	}

	body, err := d.client.Fetch(ctx, liveURL)
	if err != nil {
		return nil, err
	}
	html := string(body)

	info, ok := extractPlayerInfo(html)
	if !ok {
		// Live landing pages sometimes ship without full player data.
		// Scan raw HTML near live markers for a plausible video id and
		// take a second hop through that video's watch page.
		vid := scanRawForLiveVideoID(html)
		if vid == "" {
			return nil, nil
		}
		log.Debug().Str("video_id", vid).Str("channel", target.Key(t)).Msg("no player blob on live page, trying watch page")
		watchBody, err := d.client.Fetch(ctx, watchURL(vid))
		if err != nil {
			return nil, err
		}
		info, ok = extractPlayerInfo(string(watchBody))
		if !ok {
			return nil, nil
		}
	}

	if info.videoID == "" || !info.isLive(time.Now()) {
		return nil, nil
	}

	if whitelist != nil && info.title != "" {
		if !whitelist.MatchString(info.title) && !whitelist.MatchString(NormalizeTitle(info.title)) {
			log.Debug().Str("title", info.title).Msg("title fails whitelist, discarding")
			return nil, nil
		}
	}

	name := info.author
	if target.IsPlaceholderName(name) {
		name = d.displayName(ctx, t, info.videoID)
	}
	if target.IsPlaceholderName(name) {
		log.Warn().Str("channel", target.Key(t)).Str("video_id", info.videoID).
			Msg("no usable display name, refusing to announce")
		return nil, nil
	}

	return &LiveCandidate{
		Target:      t,
		VideoID:     info.videoID,
		Title:       info.title,
		Link:        watchURL(info.videoID),
		StartTime:   info.startTime,
		ChannelName: name,
	}, nil
}

// playerInfo is the distilled player-state blob.
type playerInfo struct {
	videoID     string
	title       string
	author      string
	liveNow     bool
	liveFlagged bool
	hasManifest bool
	startTime   time.Time
	endTime     time.Time
}

// isLive prefers the explicit is-live-now boolean, then the broadcast
// timestamp window, then manifest presence.
func (p playerInfo) isLive(now time.Time) bool {
	if p.liveNow {
		return true
	}
	if !p.startTime.IsZero() {
		if now.Before(p.startTime) {
			return false
		}
		return p.endTime.IsZero() || now.Before(p.endTime)
	}
	return p.liveFlagged || p.hasManifest
}

func extractPlayerInfo(html string) (playerInfo, bool) {
	data, ok := ExtractEmbeddedJSON(html, playerAnchor)
	if !ok {
		return playerInfo{}, false
	}

	var info playerInfo
	if vd := DigMap(data, "videoDetails"); vd != nil {
		info.videoID, _ = vd["videoId"].(string)
		info.title, _ = vd["title"].(string)
		info.author, _ = vd["author"].(string)
		flagged, _ := vd["isLive"].(bool)
		info.liveFlagged = flagged
	}
	if lbd := DigMap(data, "microformat", "playerMicroformatRenderer", "liveBroadcastDetails"); lbd != nil {
		if liveNow, ok := lbd["isLiveNow"].(bool); ok {
			info.liveNow = liveNow
		}
		info.startTime = parseTimestamp(lbd["startTimestamp"])
		info.endTime = parseTimestamp(lbd["endTimestamp"])
	}
	if sd := DigMap(data, "streamingData"); sd != nil {
		if manifest, _ := sd["hlsManifestUrl"].(string); manifest != "" {
			info.hasManifest = true
		}
	}
	return info, info.videoID != "" || info.title != ""
}

func parseTimestamp(v any) time.Time {
	s, _ := v.(string)
	if s == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

// scanRawForLiveVideoID looks for a plausible video id in a window
// around known live-signal markers.
func scanRawForLiveVideoID(html string) string {
	for _, marker := range liveMarkers {
		at := strings.Index(html, marker)
		if at < 0 {
			continue
		}
		lo := at - 2000
		if lo < 0 {
			lo = 0
		}
		hi := at + 2000
		if hi > len(html) {
			hi = len(html)
		}
		m := videoIDPattern.FindStringSubmatch(html[lo:hi])
		if m == nil {
			continue
		}
		if m[1] != "" {
			return m[1]
		}
		return m[2]
	}
	return ""
}

// ChannelDisplayName resolves the channel's human name for a known
// video, so upload announcements for targets configured by bare
// channel id can still carry a creator name. Same lookup and cache as
// the live path; "" when no usable name exists.
func (d *Detector) ChannelDisplayName(ctx context.Context, t target.Target, videoID string) string {
	return d.displayName(ctx, t, videoID)
}

// displayName resolves a channel's human name via the lightweight
// oEmbed endpoint, caching results per channel key. A learned name is
// also written to the durable resolution cache so it survives
// restarts.
func (d *Detector) displayName(ctx context.Context, t target.Target, videoID string) string {
	key := target.Key(t)
	if name, ok := d.nameCache.Get(key); ok {
		return name
	}

	for _, lookup := range []string{watchURL(videoID), livePageURL(t)} {
		if lookup == "" {
			continue
		}
		body, err := d.client.Fetch(ctx, fmt.Sprintf(oembedURL, url.QueryEscape(lookup)))
		if err != nil {
			continue
		}
		var meta struct {
			AuthorName string `json:"author_name"`
		}
		if err := json.Unmarshal(body, &meta); err != nil {
			continue
		}
		if !target.IsPlaceholderName(meta.AuthorName) {
			d.nameCache.Add(key, meta.AuthorName)
			d.persistName(t, meta.AuthorName)
			return meta.AuthorName
		}
	}
	return ""
}

func (d *Detector) persistName(t target.Target, name string) {
	if t.ChannelID == "" || d.resolver == nil || d.resolver.cache == nil {
		return
	}
	rc, ok := d.resolver.cache.GetResolved(t.ChannelID)
	if !ok {
		rc = ResolvedChannel{ChannelID: t.ChannelID}
	}
	rc.Title = name
	d.resolver.cache.PutResolved(t.ChannelID, rc)
}

func livePageURL(t target.Target) string {
	switch {
	case t.ChannelID != "":
		return "https://www.youtube.com/channel/" + t.ChannelID + "/live"
	case t.URL != "":
		return target.CanonicalChannelURL(t.URL) + "/live"
	case t.Handle != "":
		return "https://www.youtube.com/" + target.NormalizeHandle(t.Handle) + "/live"
	default:
		return ""
	}
}

func watchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// NormalizeTitle folds full-width punctuation (brackets, hashtags) to
// their narrow forms so whitelist regexes written with ASCII
// punctuation still match CJK-styled titles.
func NormalizeTitle(s string) string {
	return width.Fold.String(s)
}
