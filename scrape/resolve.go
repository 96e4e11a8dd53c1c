package scrape

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Hubz123/YTwatch/target"
)

const (
	searchURL         = "https://www.youtube.com/results?search_query=%s"
	initialDataAnchor = "var ytInitialData"
)

// ResolvedChannel is one resolution-cache entry: the concrete identity
// a loose query/handle resolved to.
type ResolvedChannel struct {
	ChannelID string `json:"channel_id"`
	Title     string `json:"title"`
	URL       string `json:"url"`
}

// ResolutionCache is the persistent read-through cache the resolver
// consults before any network call. Implemented by the state store.
type ResolutionCache interface {
	GetResolved(key string) (ResolvedChannel, bool)
	PutResolved(key string, rc ResolvedChannel)
}

// Resolver turns a loosely specified target into a concrete channel
// identity by scraping the search results page.
type Resolver struct {
	client *Client
	cache  ResolutionCache
}

// NewResolver builds a resolver over the shared scrape client.
func NewResolver(client *Client, cache ResolutionCache) *Resolver {
	return &Resolver{client: client, cache: cache}
}

// Resolve enriches a target with a channel ID, canonical URL and
// display name. Targets that already carry a channel ID or URL return
// unchanged. Failure to resolve is not an error condition for the
// caller's control flow: the target comes back unmodified with a
// classified error, and is retried on a later pass.
func (r *Resolver) Resolve(ctx context.Context, t target.Target) (target.Target, error) {
	if t.ChannelID == "" && t.URL != "" {
		t.ChannelID = target.ChannelIDFromURL(t.URL)
	}
	if t.ChannelID != "" || t.URL != "" {
		return t, nil
	}

	for _, key := range target.AliasKeys(t) {
		if rc, ok := r.cache.GetResolved(key); ok && rc.ChannelID != "" {
			return applyResolution(t, rc), nil
		}
	}

	query := strings.TrimSpace(t.Query)
	if query == "" {
		query = strings.TrimSpace(t.Handle)
	}
	if query == "" {
		query = strings.TrimSpace(t.Name)
	}
	if query == "" {
		return t, newError(KindAmbiguous, "resolve", fmt.Errorf("target has no resolvable key"))
	}

	body, err := r.client.Fetch(ctx, fmt.Sprintf(searchURL, url.QueryEscape(query)))
	if err != nil {
		return t, err
	}

	data, ok := ExtractEmbeddedJSON(string(body), initialDataAnchor)
	if !ok {
		return t, newError(KindTransient, "resolve", fmt.Errorf("no %s blob in search page", initialDataAnchor))
	}

	best, found := pickChannel(data, query)
	if !found {
		log.Debug().Str("query", query).Msg("search returned no channel candidates")
		return t, newError(KindAmbiguous, "resolve", fmt.Errorf("no channel match for %q", query))
	}

	r.cache.PutResolved(strings.ToLower(query), best)
	if best.ChannelID != "" {
		r.cache.PutResolved(best.ChannelID, best)
	}
	log.Info().
		Str("query", query).
		Str("channel_id", best.ChannelID).
		Str("title", best.Title).
		Msg("resolved channel via search")

	return applyResolution(t, best), nil
}

func applyResolution(t target.Target, rc ResolvedChannel) target.Target {
	if t.ChannelID == "" {
		t.ChannelID = rc.ChannelID
	}
	if t.URL == "" && rc.URL != "" {
		t.URL = target.CanonicalChannelURL(rc.URL)
	}
	if target.IsPlaceholderName(t.Name) && !target.IsPlaceholderName(rc.Title) {
		t.Name = rc.Title
	}
	return t
}

// pickChannel collects every channelRenderer in the search blob and
// scores each against the query: +2 per query token present in the
// candidate title, +5 when the whole query is a substring. Ties keep
// the first-seen candidate.
func pickChannel(data map[string]any, query string) (ResolvedChannel, bool) {
	renderers := CollectMaps(data, "channelRenderer")
	if len(renderers) == 0 {
		return ResolvedChannel{}, false
	}

	lowQuery := strings.ToLower(query)
	tokens := strings.Fields(lowQuery)

	var best ResolvedChannel
	bestScore := -1
	for _, cr := range renderers {
		id, _ := cr["channelId"].(string)
		if id == "" {
			continue
		}
		title := ExtractText(cr["title"])
		lowTitle := strings.ToLower(title)

		score := 0
		for _, tok := range tokens {
			if strings.Contains(lowTitle, tok) {
				score += 2
			}
		}
		if strings.Contains(lowTitle, lowQuery) {
			score += 5
		}

		if score > bestScore {
			bestScore = score
			best = ResolvedChannel{
				ChannelID: id,
				Title:     title,
				URL:       channelURLFromRenderer(cr, id),
			}
		}
	}
	if best.ChannelID == "" {
		return ResolvedChannel{}, false
	}
	return best, true
}

func channelURLFromRenderer(cr map[string]any, id string) string {
	base := DigString(cr, "navigationEndpoint", "browseEndpoint", "canonicalBaseUrl")
	if base != "" {
		return target.CanonicalChannelURL("https://www.youtube.com" + base)
	}
	return "https://www.youtube.com/channel/" + id
}
