package scrape

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hubz123/YTwatch/target"
)

type mapCache struct {
	entries map[string]ResolvedChannel
	puts    int
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string]ResolvedChannel)}
}

func (m *mapCache) GetResolved(key string) (ResolvedChannel, bool) {
	rc, ok := m.entries[key]
	return rc, ok
}

func (m *mapCache) PutResolved(key string, rc ResolvedChannel) {
	m.entries[key] = rc
	m.puts++
}

func TestResolveSkipsConcreteTargets(t *testing.T) {
	r := NewResolver(NewClient(time.Second), newMapCache())

	in := target.Target{ChannelID: "UCaaaaaaaaaaaaaaaaaaaaaa"}
	out, err := r.Resolve(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	in = target.Target{URL: "https://www.youtube.com/@creator"}
	out, err = r.Resolve(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestResolveFillsChannelIDFromURL(t *testing.T) {
	r := NewResolver(NewClient(time.Second), newMapCache())

	in := target.Target{URL: "https://www.youtube.com/channel/UCaaaaaaaaaaaaaaaaaaaaaa"}
	out, err := r.Resolve(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "UCaaaaaaaaaaaaaaaaaaaaaa", out.ChannelID)
}

func TestResolveUsesCacheBeforeNetwork(t *testing.T) {
	cache := newMapCache()
	cache.entries["creator a"] = ResolvedChannel{
		ChannelID: "UCaaaaaaaaaaaaaaaaaaaaaa",
		Title:     "Creator A",
		URL:       "https://www.youtube.com/@creatora",
	}
	// the client points nowhere; a network attempt would fail the test
	r := NewResolver(NewClient(time.Second), cache)

	out, err := r.Resolve(context.Background(), target.Target{Query: "Creator A"})
	require.NoError(t, err)
	assert.Equal(t, "UCaaaaaaaaaaaaaaaaaaaaaa", out.ChannelID)
	assert.Equal(t, "Creator A", out.Name)
	assert.Equal(t, "https://www.youtube.com/@creatora", out.URL)
}

func TestResolveRejectsKeylessTarget(t *testing.T) {
	r := NewResolver(NewClient(time.Second), newMapCache())
	_, err := r.Resolve(context.Background(), target.Target{})
	require.Error(t, err)
	assert.Equal(t, KindAmbiguous, KindOf(err))
}

func renderer(id, title, baseURL string) map[string]any {
	cr := map[string]any{
		"channelId": id,
		"title":     map[string]any{"simpleText": title},
	}
	if baseURL != "" {
		cr["navigationEndpoint"] = map[string]any{
			"browseEndpoint": map[string]any{"canonicalBaseUrl": baseURL},
		}
	}
	return map[string]any{"channelRenderer": cr}
}

func TestPickChannelScoring(t *testing.T) {
	data := map[string]any{
		"contents": []any{
			renderer("UCxxxxxxxxxxxxxxxxxxxxx1", "Unrelated Music", ""),
			renderer("UCxxxxxxxxxxxxxxxxxxxxx2", "Creator A Official", "/@creatora"),
			renderer("UCxxxxxxxxxxxxxxxxxxxxx3", "Creator Fanpage", ""),
		},
	}

	best, found := pickChannel(data, "creator a")
	require.True(t, found)
	// both query tokens plus the whole-query substring
	assert.Equal(t, "UCxxxxxxxxxxxxxxxxxxxxx2", best.ChannelID)
	assert.Equal(t, "Creator A Official", best.Title)
	assert.Equal(t, "https://www.youtube.com/@creatora", best.URL)
}

func TestPickChannelTieKeepsFirstSeen(t *testing.T) {
	data := map[string]any{
		"a": renderer("UCfirstfirstfirstfirstfi", "Creator A", ""),
		"b": renderer("UCsecondsecondsecondseco", "Creator A", ""),
	}
	best, found := pickChannel(data, "creator a")
	require.True(t, found)
	assert.Equal(t, "UCfirstfirstfirstfirstfi", best.ChannelID)
}

func TestPickChannelNoCandidates(t *testing.T) {
	_, found := pickChannel(map[string]any{"contents": []any{}}, "anything")
	assert.False(t, found)

	// renderers without a channelId are skipped
	data := map[string]any{
		"x": map[string]any{"channelRenderer": map[string]any{"title": "no id"}},
	}
	_, found = pickChannel(data, "anything")
	assert.False(t, found)
}

func TestChannelURLFromRendererFallsBackToID(t *testing.T) {
	cr := map[string]any{"channelId": "UCaaaaaaaaaaaaaaaaaaaaaa"}
	assert.Equal(t,
		"https://www.youtube.com/channel/UCaaaaaaaaaaaaaaaaaaaaaa",
		channelURLFromRenderer(cr, "UCaaaaaaaaaaaaaaaaaaaaaa"))
}

func TestApplyResolutionFillsEmptyOnly(t *testing.T) {
	rc := ResolvedChannel{ChannelID: "UCnewnewnewnewnewnewnewn", Title: "New Name", URL: "https://www.youtube.com/@new"}

	got := applyResolution(target.Target{Name: "Kept Name", ChannelID: "UColdoldoldoldoldoldoldo"}, rc)
	assert.Equal(t, "UColdoldoldoldoldoldoldo", got.ChannelID)
	assert.Equal(t, "Kept Name", got.Name)

	got = applyResolution(target.Target{Name: "@placeholder"}, rc)
	assert.Equal(t, "UCnewnewnewnewnewnewnewn", got.ChannelID)
	assert.Equal(t, "New Name", got.Name)
}
