package announce

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hubz123/YTwatch/state"
	"github.com/Hubz123/YTwatch/target"
)

type fakeHistory struct {
	mu       sync.Mutex
	messages []Message
	deleted  []string
	scanErr  error
	scans    int
}

func (f *fakeHistory) RecentMessages(ctx context.Context, channelID string, limit int) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	return f.messages, nil
}

func (f *fakeHistory) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func newTestGatekeeper(t *testing.T, hist *fakeHistory, opts Options) (*Gatekeeper, *state.Store) {
	t.Helper()
	st := state.Open(filepath.Join(t.TempDir(), "state.json"))
	if opts.ChannelID == "" {
		opts.ChannelID = "chan1"
	}
	if opts.SelfID == "" {
		opts.SelfID = "bot1"
	}
	return NewGatekeeper(st, NewGuard(), hist, opts), st
}

func candidate(vid string, published time.Time) Candidate {
	return Candidate{
		Target:    target.Target{Name: "Creator A", ChannelID: "UCaaaaaaaaaaaaaaaaaaaaaa"},
		VideoID:   vid,
		Published: published,
	}
}

func TestEvaluateAnnounceThenCommit(t *testing.T) {
	gk, st := newTestGatekeeper(t, &fakeHistory{}, Options{})
	now := time.Now()
	c := candidate("vid00000001", now)

	d := gk.Evaluate(context.Background(), c, now)
	require.Equal(t, Announce, d)
	assert.True(t, gk.guard.Held(c.VideoID), "announce decision holds the claim")

	gk.Commit(c, now)
	assert.False(t, gk.guard.Held(c.VideoID))
	assert.True(t, st.HasVideo(c.VideoID))

	// the same video never announces again
	assert.Equal(t, SuppressDuplicate, gk.Evaluate(context.Background(), c, now))
}

func TestEvaluateAbortAllowsRetry(t *testing.T) {
	gk, st := newTestGatekeeper(t, &fakeHistory{}, Options{})
	now := time.Now()
	c := candidate("vid00000001", now)

	require.Equal(t, Announce, gk.Evaluate(context.Background(), c, now))
	gk.Abort(c)

	assert.False(t, st.HasVideo(c.VideoID))
	assert.Equal(t, Announce, gk.Evaluate(context.Background(), c, now))
}

func TestEvaluateInFlightSuppression(t *testing.T) {
	gk, _ := newTestGatekeeper(t, &fakeHistory{}, Options{})
	now := time.Now()
	c := candidate("vid00000001", now)

	require.Equal(t, Announce, gk.Evaluate(context.Background(), c, now))
	// a second detection of the same video while the first is mid-post
	assert.Equal(t, SuppressInFlight, gk.Evaluate(context.Background(), c, now))
}

func TestEvaluateConcurrentAtMostOneAnnounce(t *testing.T) {
	gk, _ := newTestGatekeeper(t, &fakeHistory{}, Options{})
	now := time.Now()

	const n = 16
	decisions := make(chan Decision, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decisions <- gk.Evaluate(context.Background(), candidate("vid00000001", now), now)
		}()
	}
	wg.Wait()
	close(decisions)

	announces := 0
	for d := range decisions {
		if d == Announce {
			announces++
		}
	}
	assert.Equal(t, 1, announces)
}

func TestEvaluateWarmCacheFromHistory(t *testing.T) {
	hist := &fakeHistory{messages: []Message{
		{ID: "m1", AuthorID: "bot1", Content: "Creator A is live\nhttps://www.youtube.com/watch?v=vid00000001"},
		{ID: "m2", AuthorID: "someone", Content: "https://www.youtube.com/watch?v=vid00000002"},
	}}
	gk, st := newTestGatekeeper(t, hist, Options{})
	now := time.Now()

	// already posted by a previous incarnation: suppressed and adopted
	d := gk.Evaluate(context.Background(), candidate("vid00000001", now), now)
	assert.Equal(t, SuppressDuplicate, d)
	assert.True(t, st.HasVideo("vid00000001"))
	assert.False(t, gk.guard.Held("vid00000001"))

	// another author's link does not count as ours
	d = gk.Evaluate(context.Background(), candidate("vid00000002", now), now)
	assert.Equal(t, Announce, d)
	gk.Abort(candidate("vid00000002", now))

	// history is scanned once, then served from the warm cache
	assert.Equal(t, 1, hist.scans)
}

func TestEvaluateHistoryFailureDegrades(t *testing.T) {
	hist := &fakeHistory{scanErr: errors.New("boom")}
	gk, _ := newTestGatekeeper(t, hist, Options{})
	now := time.Now()

	// scan failure falls back to persisted state only
	d := gk.Evaluate(context.Background(), candidate("vid00000001", now), now)
	assert.Equal(t, Announce, d)
}

func TestEvaluateStaleRecordsAndSuppresses(t *testing.T) {
	gk, st := newTestGatekeeper(t, &fakeHistory{}, Options{MaxAge: 10 * time.Minute})
	now := time.Now()
	c := candidate("vid00000001", now.Add(-time.Hour))

	d := gk.Evaluate(context.Background(), c, now)
	assert.Equal(t, SuppressStale, d)
	assert.False(t, gk.guard.Held(c.VideoID))
	// recorded so it is never judged again
	assert.True(t, st.HasVideo(c.VideoID))
}

func TestEvaluateBeforeBootSuppresses(t *testing.T) {
	boot := time.Now()
	gk, st := newTestGatekeeper(t, &fakeHistory{}, Options{
		OnlyNewAfterBoot: true,
		BootTime:         boot,
		BootGrace:        2 * time.Minute,
	})

	old := candidate("vid00000001", boot.Add(-time.Hour))
	d := gk.Evaluate(context.Background(), old, boot.Add(time.Minute))
	assert.Equal(t, SuppressBeforeBoot, d)
	assert.False(t, gk.guard.Held(old.VideoID))
	// not recorded: it may still qualify under a later policy change
	assert.False(t, st.HasVideo(old.VideoID))

	// inside the grace window still announces
	graced := candidate("vid00000002", boot.Add(-time.Minute))
	assert.Equal(t, Announce, gk.Evaluate(context.Background(), graced, boot.Add(time.Minute)))
}

func TestEvaluateZeroPublishedSkipsAgeGates(t *testing.T) {
	gk, _ := newTestGatekeeper(t, &fakeHistory{}, Options{
		MaxAge:           time.Minute,
		OnlyNewAfterBoot: true,
		BootTime:         time.Now(),
	})
	c := candidate("vid00000001", time.Time{})
	assert.Equal(t, Announce, gk.Evaluate(context.Background(), c, time.Now()))
}

func TestRecordWritesAllAliases(t *testing.T) {
	gk, st := newTestGatekeeper(t, &fakeHistory{}, Options{})
	now := time.Now()
	c := Candidate{
		Target: target.Target{
			Name:      "Creator A",
			Handle:    "@creatora",
			ChannelID: "UCaaaaaaaaaaaaaaaaaaaaaa",
		},
		VideoID:   "vid00000001",
		Published: now,
	}

	require.Equal(t, Announce, gk.Evaluate(context.Background(), c, now))
	gk.Commit(c, now)

	for _, key := range []string{"UCaaaaaaaaaaaaaaaaaaaaaa", "@creatora", "creator a"} {
		vid, ok := st.LastAnnounced(key)
		require.True(t, ok, "alias %q", key)
		assert.Equal(t, "vid00000001", vid)
	}
}

func TestSweepDeletesDuplicatesKeepsOldest(t *testing.T) {
	base := time.Now()
	link := func(vid string) string { return "live https://www.youtube.com/watch?v=" + vid }
	hist := &fakeHistory{messages: []Message{
		{ID: "m3", AuthorID: "bot1", Content: link("vid00000001"), Timestamp: base.Add(2 * time.Minute)},
		{ID: "m1", AuthorID: "bot1", Content: link("vid00000001"), Timestamp: base},
		{ID: "m2", AuthorID: "bot1", Content: link("vid00000001"), Timestamp: base.Add(time.Minute)},
		{ID: "m4", AuthorID: "bot1", Content: link("vid00000002"), Timestamp: base},
		{ID: "m5", AuthorID: "other", Content: link("vid00000002"), Timestamp: base.Add(time.Minute)},
	}}
	gk, _ := newTestGatekeeper(t, hist, Options{})

	gk.Sweep(context.Background())

	assert.ElementsMatch(t, []string{"m2", "m3"}, hist.deleted)
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "announce", Announce.String())
	assert.Equal(t, "duplicate", SuppressDuplicate.String())
	assert.Equal(t, "in_flight", SuppressInFlight.String())
	assert.Equal(t, "stale", SuppressStale.String())
	assert.Equal(t, "before_boot", SuppressBeforeBoot.String())
}
