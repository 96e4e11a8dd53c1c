// Package scheduler drives the poll loop: one detection pass per
// interval across all watched targets, bounded fan-out, per-target
// timeouts and a pass-wide deadline, feeding results through the
// announce gates into the delivery queue.
package scheduler

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/Hubz123/YTwatch/announce"
	"github.com/Hubz123/YTwatch/delivery"
	"github.com/Hubz123/YTwatch/scrape"
	"github.com/Hubz123/YTwatch/state"
	"github.com/Hubz123/YTwatch/target"
)

// Detector is the live-detection capability the scheduler fans out.
type Detector interface {
	CheckLive(ctx context.Context, t target.Target, whitelist *regexp.Regexp) (*scrape.LiveCandidate, error)
	ChannelDisplayName(ctx context.Context, t target.Target, videoID string) string
}

// FeedFetcher pulls a channel's upload feed.
type FeedFetcher interface {
	FetchFeed(ctx context.Context, channelID string) ([]scrape.FeedItem, error)
}

// Options tune one scheduler instance.
type Options struct {
	Interval     time.Duration
	CheckTimeout time.Duration
	PassDeadline time.Duration
	Concurrency  int64

	AnnounceChannelID string
	Mention           string
	MentionUsers      bool
	MentionRoles      bool

	// DefaultWhitelist and DefaultTemplate apply when the watchlist
	// document carries none.
	DefaultWhitelist string
	DefaultTemplate  string

	// BootDelay is the settle time before the forced first pass.
	BootDelay time.Duration
}

// Scheduler owns the poll loop.
type Scheduler struct {
	opts      Options
	watchlist *state.WatchlistStore
	store     *state.Store
	detector  Detector
	feeds     FeedFetcher
	gate      *announce.Gatekeeper
	queue     *delivery.Queue
	sem       *semaphore.Weighted
}

// New wires a scheduler. Concurrency below 1 defaults to 4.
func New(opts Options, wl *state.WatchlistStore, st *state.Store, det Detector, feeds FeedFetcher, gate *announce.Gatekeeper, q *delivery.Queue) *Scheduler {
	if opts.Concurrency < 1 {
		opts.Concurrency = 4
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = 25 * time.Second
	}
	if opts.PassDeadline <= 0 {
		opts.PassDeadline = 45 * time.Second
	}
	return &Scheduler{
		opts:      opts,
		watchlist: wl,
		store:     st,
		detector:  det,
		feeds:     feeds,
		gate:      gate,
		queue:     q,
		sem:       semaphore.NewWeighted(opts.Concurrency),
	}
}

// Run polls until ctx is cancelled. One forced pass runs shortly after
// start so the first check does not wait a full interval. The loop
// never terminates on an error: each pass logs and the next tick
// proceeds.
func (s *Scheduler) Run(ctx context.Context) {
	boot := s.opts.BootDelay
	if boot <= 0 {
		boot = 2 * time.Second
	}
	select {
	case <-time.After(boot):
		s.runPass(ctx)
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runPass(ctx)
		}
	}
}

// item is one announceable thing a detection produced.
type item struct {
	VideoID     string
	Title       string
	Link        string
	Published   time.Time
	ChannelName string
}

// detection is the per-target result of one pass.
type detection struct {
	target target.Target
	items  []item
}

func (s *Scheduler) runPass(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("poll pass panicked, continuing")
		}
	}()

	passID := uuid.NewString()[:8]
	wl := s.watchlist.Snapshot()
	if !wl.IsEnabled() {
		log.Debug().Str("pass", passID).Msg("announcements disabled, skipping pass")
		return
	}
	targets := wl.Targets
	if len(targets) == 0 {
		log.Debug().Str("pass", passID).Msg("watchlist empty, skipping pass")
		return
	}

	whitelist := s.compileWhitelist(wl.TitleWhitelist)
	tmpl := wl.MessageTemplate
	if tmpl == "" {
		tmpl = s.opts.DefaultTemplate
	}

	log.Info().Str("pass", passID).Int("targets", len(targets)).Msg("poll pass starting")

	passCtx, cancel := context.WithTimeout(ctx, s.opts.PassDeadline)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make([]*detection, len(targets))
	)
	for i, t := range targets {
		if err := s.sem.Acquire(passCtx, 1); err != nil {
			break // pass deadline hit while waiting for a slot
		}
		wg.Add(1)
		go func(i int, t target.Target) {
			defer wg.Done()
			defer s.sem.Release(1)
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Str("target", target.Key(t)).Msg("detection panicked")
				}
			}()
			tctx, tcancel := context.WithTimeout(passCtx, s.opts.CheckTimeout)
			defer tcancel()
			det := s.detect(tctx, t, whitelist)
			mu.Lock()
			results[i] = det
			mu.Unlock()
		}(i, t)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-passCtx.Done():
		log.Warn().Str("pass", passID).Msg("pass deadline reached, cancelling pending detections")
	}

	mu.Lock()
	snapshot := make([]*detection, len(results))
	copy(snapshot, results)
	mu.Unlock()

	// Gate checks run in target iteration order; detection completion
	// order carries no meaning. They get a fresh bounded context: the
	// pass deadline may already have fired, but scheduler shutdown
	// must still cancel a history scan in progress.
	gateCtx, gateCancel := context.WithTimeout(ctx, s.opts.CheckTimeout)
	defer gateCancel()

	enriched := make([]target.Target, len(targets))
	copy(enriched, targets)
	announced := 0
	for i, det := range snapshot {
		if det == nil {
			continue
		}
		enriched[i] = det.target
		if s.processDetection(gateCtx, det, tmpl) {
			announced++
		}
	}
	s.watchlist.UpdateTargets(enriched)

	log.Info().Str("pass", passID).Int("announced", announced).Msg("poll pass complete")
}

func (s *Scheduler) compileWhitelist(fromList string) *regexp.Regexp {
	expr := fromList
	if expr == "" {
		expr = s.opts.DefaultWhitelist
	}
	if expr == "" || expr == ".*" {
		return nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		log.Warn().Err(err).Str("expr", expr).Msg("invalid title whitelist, matching everything")
		return nil
	}
	return re
}

// detect runs one target's detection: live-page check plus upload-feed
// check when the channel id is known. All failures log and degrade to
// fewer items; they never abort the pass.
func (s *Scheduler) detect(ctx context.Context, t target.Target, whitelist *regexp.Regexp) *detection {
	det := &detection{target: t}

	cand, err := s.detector.CheckLive(ctx, t, whitelist)
	if err != nil {
		log.Debug().Err(err).Str("target", target.Key(t)).Str("kind", scrape.KindOf(err).String()).Msg("live check failed")
	}
	if cand != nil {
		det.target = cand.Target
		det.items = append(det.items, item{
			VideoID:     cand.VideoID,
			Title:       cand.Title,
			Link:        cand.Link,
			Published:   cand.StartTime,
			ChannelName: cand.ChannelName,
		})
	}

	cid := det.target.ChannelID
	if cid == "" {
		cid = target.ChannelIDFromURL(det.target.URL)
		det.target.ChannelID = cid
	}
	if cid != "" && s.feeds != nil {
		feedItems, err := s.feeds.FetchFeed(ctx, cid)
		if err != nil {
			log.Debug().Err(err).Str("channel_id", cid).Msg("feed check failed")
		}
		name := s.displayNameFor(det.target)
		if name == "" && len(feedItems) > 0 {
			name = s.detector.ChannelDisplayName(ctx, det.target, feedItems[0].VideoID)
		}
		if name == "" && len(feedItems) > 0 {
			log.Warn().Str("channel_id", cid).Msg("no display name for feed items, skipping uploads")
			feedItems = nil
		}
		for _, fi := range feedItems {
			if whitelist != nil && !whitelist.MatchString(fi.Title) && !whitelist.MatchString(scrape.NormalizeTitle(fi.Title)) {
				continue
			}
			det.items = append(det.items, item{
				VideoID:     fi.VideoID,
				Title:       fi.Title,
				Link:        fi.Link,
				Published:   fi.Published,
				ChannelName: name,
			})
		}
	}
	return det
}

// displayNameFor finds a non-placeholder name for upload
// announcements: the target's own name, else the resolution cache.
func (s *Scheduler) displayNameFor(t target.Target) string {
	if !target.IsPlaceholderName(t.Name) {
		return t.Name
	}
	for _, k := range target.AliasKeys(t) {
		if rc, ok := s.store.GetResolved(k); ok && !target.IsPlaceholderName(rc.Title) {
			return rc.Title
		}
	}
	return ""
}

// processDetection pushes a detection's items through the announce
// gates in newest-first order and enqueues at most one delivery per
// target per pass. Reports whether a send was enqueued.
func (s *Scheduler) processDetection(ctx context.Context, det *detection, tmpl string) bool {
	now := time.Now()
	for _, it := range det.items {
		c := announce.Candidate{Target: det.target, VideoID: it.VideoID, Published: it.Published}
		decision := s.gate.Evaluate(ctx, c, now)
		log.Debug().Str("video_id", it.VideoID).Str("decision", decision.String()).Msg("gate decision")
		if decision != announce.Announce {
			continue
		}

		content := announce.RenderMessage(tmpl, s.opts.Mention, it.ChannelName, it.Title, it.Link)
		videoID := it.VideoID
		err := s.queue.Enqueue(delivery.Request{
			ChannelID:    s.opts.AnnounceChannelID,
			Content:      content,
			VideoID:      videoID,
			MentionUsers: s.opts.MentionUsers,
			MentionRoles: s.opts.MentionRoles,
			Sent: func(string) {
				s.gate.RecordDelivered(videoID)
			},
			Done: func(sent bool) {
				if sent {
					s.gate.Commit(c, time.Now())
				} else {
					s.gate.Abort(c)
				}
			},
		})
		if err != nil {
			log.Warn().Err(err).Str("video_id", videoID).Msg("enqueue refused")
			return false
		}
		return true
	}
	return false
}
