package announce

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderMessageDefaultShape(t *testing.T) {
	// the default two-line announcement: mention and title, then link
	got := RenderMessage(
		"{mention} {video.title}\n{video.link}",
		"<@&123456789>",
		"Creator A",
		"Big Stream",
		"https://www.youtube.com/watch?v=vid00000001",
	)
	assert.Equal(t, "<@&123456789> Big Stream\nhttps://www.youtube.com/watch?v=vid00000001", got)
}

func TestRenderMessagePrependsMentionWhenUnplaced(t *testing.T) {
	got := RenderMessage("{creator.name} is live: {video.link}", "<@42>", "Creator A", "ignored", "link")
	assert.Equal(t, "<@42> Creator A is live: link", got)

	// no mention configured, nothing prepended
	got = RenderMessage("{video.title}", "", "Creator A", "Big Stream", "link")
	assert.Equal(t, "Big Stream", got)
}

func TestRenderTemplateUnknownPlaceholdersPassThrough(t *testing.T) {
	got := RenderTemplate("{video.title} {not.a.placeholder}", "n", "t", "l")
	assert.Equal(t, "t {not.a.placeholder}", got)
}

func TestExtractVideoIDs(t *testing.T) {
	text := `first https://www.youtube.com/watch?v=vid00000001
short https://youtu.be/vid00000002?t=30
shorts https://www.youtube.com/shorts/vid00000003
live https://www.youtube.com/live/vid00000004
repeat https://www.youtube.com/watch?v=vid00000001`

	got := ExtractVideoIDs(text)
	assert.Equal(t, []string{"vid00000001", "vid00000002", "vid00000003", "vid00000004"}, got)

	assert.Nil(t, ExtractVideoIDs("no links here"))
}
