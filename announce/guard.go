// Package announce decides whether a detected video may be posted:
// three ordered de-dup gates (persisted state, in-flight guard,
// destination-history warm cache), alias bookkeeping, and the startup
// sweep that repairs duplicates left by an interrupted run.
package announce

import "sync"

// Guard is the process-wide set of video ids currently being posted.
// It closes the window between two concurrent detections of the same
// video passing the persisted-state check before either records it.
// Component-owned and injected so tests run isolated instances.
type Guard struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewGuard builds an empty in-flight guard.
func NewGuard() *Guard {
	return &Guard{ids: make(map[string]struct{})}
}

// TryAcquire claims a video id, reporting false when it is already in
// flight.
func (g *Guard) TryAcquire(videoID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, held := g.ids[videoID]; held {
		return false
	}
	g.ids[videoID] = struct{}{}
	return true
}

// Release frees a claimed id. Safe to call for ids never acquired.
func (g *Guard) Release(videoID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.ids, videoID)
}

// Held reports whether the id is currently claimed.
func (g *Guard) Held(videoID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, held := g.ids[videoID]
	return held
}
