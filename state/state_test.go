package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hubz123/YTwatch/scrape"
)

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "announce_state.json")

	s := Open(path)
	assert.False(t, s.HasVideo("vid00000001"))

	at := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	s.MarkAnnounced([]string{"UCaaaaaaaaaaaaaaaaaaaaaa", "@creatora"}, "vid00000001", at)

	require.True(t, s.HasVideo("vid00000001"))
	last, ok := s.LastAnnounced("@creatora")
	require.True(t, ok)
	assert.Equal(t, "vid00000001", last)
	assert.Equal(t, 1, s.AnnouncedCount())

	// a fresh store reads the flushed document
	reopened := Open(path)
	assert.True(t, reopened.HasVideo("vid00000001"))
	last, ok = reopened.LastAnnounced("UCaaaaaaaaaaaaaaaaaaaaaa")
	require.True(t, ok)
	assert.Equal(t, "vid00000001", last)
}

func TestMarkAnnouncedIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := Open(path)

	first := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	s.MarkAnnounced([]string{"k"}, "vid00000001", first)
	s.MarkAnnounced([]string{"k"}, "vid00000001", first.Add(time.Hour))

	assert.Equal(t, 1, s.AnnouncedCount())
	// the original judgment time survives re-marking
	s.mu.Lock()
	assert.Equal(t, first.Unix(), s.data.AnnouncedVids["vid00000001"])
	s.mu.Unlock()
}

func TestOpenFallbackPaths(t *testing.T) {
	dir := t.TempDir()
	legacy := filepath.Join(dir, "old_state.json")
	primary := filepath.Join(dir, "new_state.json")

	seed := Open(legacy)
	seed.MarkAnnounced([]string{"k"}, "vid00000001", time.Now())

	s := Open(primary, legacy)
	assert.True(t, s.HasVideo("vid00000001"))

	// the next mutation lands at the primary path
	s.MarkAnnounced([]string{"k"}, "vid00000002", time.Now())
	_, err := os.Stat(primary)
	assert.NoError(t, err)
}

func TestOpenCorruptDocumentStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s := Open(path)
	assert.Equal(t, 0, s.AnnouncedCount())
}

func TestResolutionCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := Open(path)

	rc := scrape.ResolvedChannel{ChannelID: "UCaaaaaaaaaaaaaaaaaaaaaa", Title: "Creator A"}
	s.PutResolved("creator a", rc)

	got, ok := s.GetResolved("creator a")
	require.True(t, ok)
	assert.Equal(t, rc, got)

	// a titleless update keeps the existing title
	s.PutResolved("creator a", scrape.ResolvedChannel{ChannelID: "UCaaaaaaaaaaaaaaaaaaaaaa"})
	got, _ = s.GetResolved("creator a")
	assert.Equal(t, "Creator A", got.Title)

	// a placeholder title never clobbers a real one
	s.PutResolved("creator a", scrape.ResolvedChannel{ChannelID: "UCaaaaaaaaaaaaaaaaaaaaaa", Title: "@creatora"})
	got, _ = s.GetResolved("creator a")
	assert.Equal(t, "Creator A", got.Title)

	// a real title replaces a placeholder one
	s.PutResolved("creator b", scrape.ResolvedChannel{ChannelID: "UCbbbbbbbbbbbbbbbbbbbbbb", Title: "@creatorb"})
	s.PutResolved("creator b", scrape.ResolvedChannel{ChannelID: "UCbbbbbbbbbbbbbbbbbbbbbb", Title: "Creator B"})
	got, _ = s.GetResolved("creator b")
	assert.Equal(t, "Creator B", got.Title)

	aliases := s.ResolvedAliases([]string{"creator a", "unknown key"})
	assert.Equal(t, []string{"UCaaaaaaaaaaaaaaaaaaaaaa"}, aliases)

	// the cache persists
	reopened := Open(path)
	got, ok = reopened.GetResolved("creator a")
	require.True(t, ok)
	assert.Equal(t, "Creator A", got.Title)
}

func TestWriteJSONAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "doc.json")

	require.NoError(t, writeJSONAtomic(path, map[string]string{"k": "v"}))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "doc.json", entries[0].Name())
}
