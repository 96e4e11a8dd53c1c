package scrape

import (
	"context"
	"encoding/xml"
	"fmt"
	"sort"
	"time"
)

const feedURL = "https://www.youtube.com/feeds/videos.xml?channel_id=%s"

// FeedItem is one upload-feed entry, newest first after parsing.
type FeedItem struct {
	VideoID   string
	Title     string
	Link      string
	Published time.Time
}

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	VideoID   string     `xml:"http://www.youtube.com/xml/schemas/2015 videoId"`
	Title     string     `xml:"title"`
	Published string     `xml:"published"`
	Links     []atomLink `xml:"link"`
}

type atomLink struct {
	Rel  string `xml:"rel,attr"`
	Href string `xml:"href,attr"`
}

// FetchFeed pulls a channel's upload RSS feed. Upload announcements
// ride the same gate chain as live detections.
func (c *Client) FetchFeed(ctx context.Context, channelID string) ([]FeedItem, error) {
	body, err := c.Fetch(ctx, fmt.Sprintf(feedURL, channelID))
	if err != nil {
		return nil, err
	}
	items, err := parseFeed(body)
	if err != nil {
		return nil, newError(KindTransient, "feed", err)
	}
	return items, nil
}

func parseFeed(body []byte) ([]FeedItem, error) {
	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	items := make([]FeedItem, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		if e.VideoID == "" {
			continue
		}
		title := e.Title
		if title == "" {
			title = "(untitled)"
		}
		published := parseTimestamp(e.Published)
		if published.IsZero() {
			published = time.Now().UTC()
		}
		link := ""
		for _, l := range e.Links {
			if l.Rel == "alternate" && l.Href != "" {
				link = l.Href
				break
			}
		}
		if link == "" {
			link = watchURL(e.VideoID)
		}
		items = append(items, FeedItem{
			VideoID:   e.VideoID,
			Title:     title,
			Link:      link,
			Published: published,
		})
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].Published.After(items[j].Published)
	})
	return items, nil
}
