package state

import (
	"encoding/json"
	"errors"
	"os"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Hubz123/YTwatch/target"
)

// Watchlist is the authored list of channels to watch plus its
// per-list options.
type Watchlist struct {
	Targets         []target.Target `json:"targets"`
	TitleWhitelist  string          `json:"title_whitelist_regex,omitempty"`
	MessageTemplate string          `json:"message_template,omitempty"`
	Enabled         *bool           `json:"enabled,omitempty"`
}

// IsEnabled treats an absent flag as enabled.
func (w *Watchlist) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

// WatchlistStore owns the watchlist document and exposes the merge API
// the watchlist-authoring surface calls.
type WatchlistStore struct {
	path string

	mu   sync.Mutex
	data *Watchlist
	repr string
}

// OpenWatchlist loads the watchlist from path; a missing file starts
// empty.
func OpenWatchlist(path string) *WatchlistStore {
	ws := &WatchlistStore{path: path, data: &Watchlist{}}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", path).Msg("watchlist read failed, starting empty")
		}
		return ws
	}
	var data Watchlist
	if err := json.Unmarshal(raw, &data); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("watchlist document corrupt, starting empty")
		return ws
	}
	ws.data = &data
	ws.repr = target.SemanticRepr(data.Targets)
	log.Info().Str("path", path).Int("targets", len(data.Targets)).Msg("watchlist loaded")
	return ws
}

// Snapshot returns a copy of the current watchlist.
func (ws *WatchlistStore) Snapshot() Watchlist {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	out := *ws.data
	out.Targets = make([]target.Target, len(ws.data.Targets))
	copy(out.Targets, ws.data.Targets)
	return out
}

// MergeTargets folds incoming targets into the watchlist using the
// identity-aware merge, persisting only when the semantic content
// actually changed.
func (ws *WatchlistStore) MergeTargets(incoming []target.Target, aliases target.AliasFunc) target.MergeResult {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	res := target.Merge(ws.data.Targets, incoming, aliases)
	repr := target.SemanticRepr(res.Merged)
	if repr == ws.repr {
		res.Merged = ws.data.Targets
		return res
	}
	ws.data.Targets = res.Merged
	ws.repr = repr
	if err := writeJSONAtomic(ws.path, ws.data); err != nil {
		log.Error().Err(err).Str("path", ws.path).Msg("watchlist flush failed")
	}
	return res
}

// IngestFreeText parses watchlist-authoring text and merges the
// resulting targets. Returns how many new channels the text added.
func (ws *WatchlistStore) IngestFreeText(text string, aliases target.AliasFunc) (int, []target.Target) {
	res := ws.MergeTargets(target.IngestFreeText(text), aliases)
	return res.Added, res.Items
}

// UpdateTargets replaces the target list wholesale (used when
// resolution enriched entries in place) and persists on change.
func (ws *WatchlistStore) UpdateTargets(targets []target.Target) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	repr := target.SemanticRepr(targets)
	if repr == ws.repr {
		return
	}
	ws.data.Targets = targets
	ws.repr = repr
	if err := writeJSONAtomic(ws.path, ws.data); err != nil {
		log.Error().Err(err).Str("path", ws.path).Msg("watchlist flush failed")
	}
}
