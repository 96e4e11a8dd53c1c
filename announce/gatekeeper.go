package announce

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Hubz123/YTwatch/state"
	"github.com/Hubz123/YTwatch/target"
)

// Decision is the outcome of running a candidate through the gates.
type Decision int

const (
	// Announce means the caller owns the in-flight claim and must
	// finish with Commit or Abort.
	Announce Decision = iota
	// SuppressDuplicate: already judged, nothing to record.
	SuppressDuplicate
	// SuppressInFlight: another detection of the same video is mid-post.
	SuppressInFlight
	// SuppressStale: too old to announce; state is still recorded so
	// the video is never re-evaluated.
	SuppressStale
	// SuppressBeforeBoot: published before this process started.
	SuppressBeforeBoot
)

func (d Decision) String() string {
	switch d {
	case Announce:
		return "announce"
	case SuppressDuplicate:
		return "duplicate"
	case SuppressInFlight:
		return "in_flight"
	case SuppressStale:
		return "stale"
	case SuppressBeforeBoot:
		return "before_boot"
	default:
		return "unknown"
	}
}

// Candidate is what the gates judge: a detected video attributed to a
// target.
type Candidate struct {
	Target    target.Target
	VideoID   string
	Published time.Time
}

// Options tune the gate behavior.
type Options struct {
	// ChannelID is the destination channel scanned for warm-cache
	// recovery and the repair sweep.
	ChannelID string
	// SelfID restricts history scanning to this bot's own messages.
	SelfID string
	// ScanLimit bounds the history window (default 200).
	ScanLimit int
	// MaxAge suppresses candidates older than this (0 disables).
	MaxAge time.Duration
	// OnlyNewAfterBoot suppresses items published before BootTime
	// minus BootGrace.
	OnlyNewAfterBoot bool
	BootTime         time.Time
	BootGrace        time.Duration
}

// Gatekeeper applies the ordered de-dup gates and owns the warm cache
// rebuilt from destination history.
type Gatekeeper struct {
	store *state.Store
	guard *Guard
	hist  History
	opts  Options

	warmMu sync.Mutex
	warm   map[string]struct{}
	warmed bool
}

// NewGatekeeper wires the gates over the persisted store, the injected
// in-flight guard, and the destination history.
func NewGatekeeper(store *state.Store, guard *Guard, hist History, opts Options) *Gatekeeper {
	if opts.ScanLimit <= 0 {
		opts.ScanLimit = 200
	}
	return &Gatekeeper{
		store: store,
		guard: guard,
		hist:  hist,
		opts:  opts,
		warm:  make(map[string]struct{}),
	}
}

// Evaluate runs a candidate through the gates in order: persisted
// video-id membership, in-flight guard, then destination-history warm
// cache. On Announce the in-flight claim is held; every other outcome
// leaves no claim. Stale and before-boot outcomes record state so the
// video is never judged again.
func (gk *Gatekeeper) Evaluate(ctx context.Context, c Candidate, now time.Time) Decision {
	if gk.store.HasVideo(c.VideoID) {
		return SuppressDuplicate
	}
	if !gk.guard.TryAcquire(c.VideoID) {
		return SuppressInFlight
	}

	// The claim is held from here; every early return that does not
	// hand ownership to the caller must release it.
	if gk.seenInHistory(ctx, c.VideoID) {
		// Posted by an earlier incarnation or another instance; adopt
		// the fact into persisted state.
		gk.record(c, now)
		gk.guard.Release(c.VideoID)
		return SuppressDuplicate
	}

	if gk.opts.MaxAge > 0 && !c.Published.IsZero() {
		if age := now.Sub(c.Published); age > gk.opts.MaxAge {
			log.Info().Str("video_id", c.VideoID).Dur("age", age).Msg("stale item suppressed")
			gk.record(c, now)
			gk.guard.Release(c.VideoID)
			return SuppressStale
		}
	}

	if gk.opts.OnlyNewAfterBoot && !c.Published.IsZero() {
		cutoff := gk.opts.BootTime.Add(-gk.opts.BootGrace)
		if c.Published.Before(cutoff) {
			gk.guard.Release(c.VideoID)
			return SuppressBeforeBoot
		}
	}

	return Announce
}

// Commit records a successful (or intentionally suppressed) post and
// releases the in-flight claim. The delivery consumer calls this after
// the send completes.
func (gk *Gatekeeper) Commit(c Candidate, now time.Time) {
	gk.record(c, now)
	gk.guard.Release(c.VideoID)
}

// Abort releases the claim without recording, so the candidate is
// re-evaluated on a later pass (send failed, queue dropped it).
func (gk *Gatekeeper) Abort(c Candidate) {
	gk.guard.Release(c.VideoID)
}

func (gk *Gatekeeper) record(c Candidate, now time.Time) {
	gk.store.MarkAnnounced(target.AliasKeys(c.Target), c.VideoID, now)
	gk.warmMu.Lock()
	gk.warm[c.VideoID] = struct{}{}
	gk.warmMu.Unlock()
}

// RecordDelivered adds a sent video id to the warm cache. Delivery
// calls this for every completed send.
func (gk *Gatekeeper) RecordDelivered(videoID string) {
	gk.warmMu.Lock()
	gk.warm[videoID] = struct{}{}
	gk.warmMu.Unlock()
}

// seenInHistory consults the warm cache, priming it lazily from the
// destination channel's recent history on first use. A failed scan
// degrades to the persisted state only.
func (gk *Gatekeeper) seenInHistory(ctx context.Context, videoID string) bool {
	gk.warmMu.Lock()
	defer gk.warmMu.Unlock()

	if !gk.warmed {
		gk.primeLocked(ctx)
	}
	_, seen := gk.warm[videoID]
	return seen
}

func (gk *Gatekeeper) primeLocked(ctx context.Context) {
	msgs, err := gk.hist.RecentMessages(ctx, gk.opts.ChannelID, gk.opts.ScanLimit)
	if err != nil {
		log.Warn().Err(err).Msg("history scan failed, warm cache not primed")
		return
	}
	count := 0
	for _, m := range msgs {
		if gk.opts.SelfID != "" && m.AuthorID != gk.opts.SelfID {
			continue
		}
		for _, vid := range ExtractVideoIDs(m.Content) {
			gk.warm[vid] = struct{}{}
			count++
		}
	}
	gk.warmed = true
	log.Info().Int("video_ids", count).Int("messages", len(msgs)).Msg("warm de-dup cache primed from history")
}

// Sweep runs once at startup: scan recent history, group this bot's
// messages by announced video id, and delete all but the oldest per
// id. Repairs duplicate posts made before a crash interrupted state
// persistence.
func (gk *Gatekeeper) Sweep(ctx context.Context) {
	msgs, err := gk.hist.RecentMessages(ctx, gk.opts.ChannelID, gk.opts.ScanLimit)
	if err != nil {
		log.Warn().Err(err).Msg("startup sweep skipped, history unavailable")
		return
	}

	type oldest struct {
		id string
		ts time.Time
	}
	keep := make(map[string]oldest)
	dups := make(map[string][]string)

	for _, m := range msgs {
		if gk.opts.SelfID != "" && m.AuthorID != gk.opts.SelfID {
			continue
		}
		vids := ExtractVideoIDs(m.Content)
		if len(vids) == 0 {
			continue
		}
		vid := vids[0]
		cur, ok := keep[vid]
		switch {
		case !ok:
			keep[vid] = oldest{id: m.ID, ts: m.Timestamp}
		case m.Timestamp.Before(cur.ts):
			dups[vid] = append(dups[vid], cur.id)
			keep[vid] = oldest{id: m.ID, ts: m.Timestamp}
		default:
			dups[vid] = append(dups[vid], m.ID)
		}
	}

	removed := 0
	for vid, ids := range dups {
		for _, msgID := range ids {
			if err := gk.hist.DeleteMessage(ctx, gk.opts.ChannelID, msgID); err != nil {
				log.Warn().Err(err).Str("video_id", vid).Str("message_id", msgID).Msg("duplicate delete failed")
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Msg("startup sweep removed duplicate announcements")
	}
}
