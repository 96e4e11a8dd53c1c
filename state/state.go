// Package state persists the watcher's durable documents: the
// announce state (what has already been posted) and the watchlist.
// Both are JSON blobs written atomically after every mutation so a
// crash costs at most one duplicate check, never a duplicate post.
package state

import (
	"encoding/json"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Hubz123/YTwatch/scrape"
	"github.com/Hubz123/YTwatch/target"
)

// AnnounceState is the process-durable announce record.
type AnnounceState struct {
	// Announced maps every known identity key of a target to the last
	// video id judged under it. Kept in sync across aliases so identity
	// migration cannot re-announce.
	Announced map[string]string `json:"announced"`
	// AnnouncedVids maps video id to announcement unix time. Primary
	// de-dup source of truth: once present, never posted again.
	AnnouncedVids map[string]int64 `json:"announced_vids"`
	// Resolved is the channel resolution cache.
	Resolved map[string]scrape.ResolvedChannel `json:"resolved"`
}

func newAnnounceState() *AnnounceState {
	return &AnnounceState{
		Announced:     make(map[string]string),
		AnnouncedVids: make(map[string]int64),
		Resolved:      make(map[string]scrape.ResolvedChannel),
	}
}

// Store owns the announce state document. Writes go through an atomic
// temp+rename; a failed write is logged and in-memory state stays
// authoritative until the next successful flush.
type Store struct {
	path      string
	fallbacks []string

	mu   sync.Mutex
	data *AnnounceState
}

// Open loads the announce state from path, falling back to older
// locations when the primary is missing. A missing or corrupt document
// starts empty; that is recoverable because delivery-time history
// inspection is the final duplicate gate.
func Open(path string, fallbacks ...string) *Store {
	s := &Store{path: path, fallbacks: fallbacks}

	for _, p := range append([]string{path}, fallbacks...) {
		raw, err := os.ReadFile(p)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				log.Warn().Err(err).Str("path", p).Msg("state read failed")
			}
			continue
		}
		var data AnnounceState
		if err := json.Unmarshal(raw, &data); err != nil {
			log.Warn().Err(err).Str("path", p).Msg("state document corrupt, ignoring")
			continue
		}
		s.data = &data
		ensureMaps(s.data)
		log.Info().Str("path", p).
			Int("announced_vids", len(data.AnnouncedVids)).
			Int("resolved", len(data.Resolved)).
			Msg("announce state loaded")
		return s
	}

	s.data = newAnnounceState()
	return s
}

func ensureMaps(d *AnnounceState) {
	if d.Announced == nil {
		d.Announced = make(map[string]string)
	}
	if d.AnnouncedVids == nil {
		d.AnnouncedVids = make(map[string]int64)
	}
	if d.Resolved == nil {
		d.Resolved = make(map[string]scrape.ResolvedChannel)
	}
}

// flushLocked writes the document synchronously. Callers hold s.mu.
func (s *Store) flushLocked() {
	if err := writeJSONAtomic(s.path, s.data); err != nil {
		log.Error().Err(err).Str("path", s.path).Msg("state flush failed, memory stays authoritative")
	}
}

// HasVideo reports whether the video id has already been judged.
func (s *Store) HasVideo(videoID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data.AnnouncedVids[videoID]
	return ok
}

// MarkAnnounced records a judged video under every alias key of its
// target and flushes. Idempotent.
func (s *Store) MarkAnnounced(aliasKeys []string, videoID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range aliasKeys {
		if k != "" {
			s.data.Announced[k] = videoID
		}
	}
	if _, seen := s.data.AnnouncedVids[videoID]; !seen {
		s.data.AnnouncedVids[videoID] = at.UTC().Unix()
	}
	s.flushLocked()
}

// LastAnnounced returns the last video id judged under an identity key.
func (s *Store) LastAnnounced(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vid, ok := s.data.Announced[key]
	return vid, ok
}

// AnnouncedCount reports the number of judged videos.
func (s *Store) AnnouncedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.AnnouncedVids)
}

// GetResolved implements scrape.ResolutionCache.
func (s *Store) GetResolved(key string) (scrape.ResolvedChannel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rc, ok := s.data.Resolved[key]
	return rc, ok
}

// PutResolved implements scrape.ResolutionCache. A cached entry with a
// placeholder title is overwritten when a better one arrives; a real
// title is never clobbered by a placeholder or an empty one.
func (s *Store) PutResolved(key string, rc scrape.ResolvedChannel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if have, ok := s.data.Resolved[key]; ok &&
		!target.IsPlaceholderName(have.Title) && target.IsPlaceholderName(rc.Title) {
		rc.Title = have.Title
	}
	s.data.Resolved[key] = rc
	s.flushLocked()
}

// ResolvedAliases returns the channel ids known for a set of keys,
// letting the target merge fold a query-only entry into its resolved
// channel identity.
func (s *Store) ResolvedAliases(keys []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, k := range keys {
		if rc, ok := s.data.Resolved[k]; ok && rc.ChannelID != "" {
			out = append(out, rc.ChannelID)
		}
	}
	return out
}
