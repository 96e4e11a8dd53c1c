package announce

import "strings"

// RenderTemplate fills the announcement message template. Supported
// placeholders: {creator.name}, {video.title}, {video.link}, and
// {mention} for the configured notify target. Unknown placeholders
// pass through untouched.
func RenderTemplate(tmpl, creatorName, videoTitle, videoLink string) string {
	r := strings.NewReplacer(
		"{creator.name}", creatorName,
		"{video.title}", videoTitle,
		"{video.link}", videoLink,
	)
	return r.Replace(tmpl)
}

// RenderMessage renders the full outbound message, resolving {mention}
// first so the template controls its placement. When the template has
// no {mention} placeholder but a mention is configured, it is
// prepended, matching the original two-line announcement shape.
func RenderMessage(tmpl, mention, creatorName, videoTitle, videoLink string) string {
	if strings.Contains(tmpl, "{mention}") {
		tmpl = strings.ReplaceAll(tmpl, "{mention}", mention)
		return RenderTemplate(tmpl, creatorName, videoTitle, videoLink)
	}
	msg := RenderTemplate(tmpl, creatorName, videoTitle, videoLink)
	if mention != "" {
		msg = mention + " " + msg
	}
	return msg
}
