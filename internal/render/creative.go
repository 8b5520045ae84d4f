package render

import (
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/patrickwarner/adrotator/internal/models"
)

// markupPolicy strips scripts, event handlers and frames from third-party
// markup while keeping ordinary formatting and links.
var markupPolicy = func() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.RequireNoReferrerOnLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	return p
}()

const mediaStyle = `style="max-width:100%;max-height:100%;width:auto;height:auto;display:block;"`

// SafeLink returns u if it is an absolute http or https URL, otherwise "".
func SafeLink(u string) string {
	parsed, err := url.Parse(strings.TrimSpace(u))
	if err != nil || parsed.Host == "" {
		return ""
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		return parsed.String()
	default:
		return ""
	}
}

// CreativeHTML composes the markup a view embeds for a creative. Image and
// video creatives become media tags; markup creatives are sanitized. When
// the creative has a usable link the result is wrapped in an anchor that
// opens in a new browsing context. A non-empty clickURL replaces the link
// as the anchor target so clicks pass through the click tracker first. An
// unrenderable creative yields "".
func CreativeHTML(c models.Creative, clickURL string) string {
	body := mediaHTML(c)
	if body == "" {
		return ""
	}
	link := SafeLink(c.LinkURL)
	if link == "" {
		return body
	}
	if clickURL != "" {
		link = clickURL
	}
	return fmt.Sprintf(`<a href="%s" target="_blank" rel="noopener noreferrer" data-creative-id="%s">%s</a>`,
		html.EscapeString(link), html.EscapeString(c.ID), body)
}

func mediaHTML(c models.Creative) string {
	switch c.MediaType {
	case models.MediaImage:
		src := SafeLink(c.MediaURL)
		if src == "" {
			return ""
		}
		alt := c.Title
		if alt == "" {
			alt = "Advertisement"
		}
		return fmt.Sprintf(`<img src="%s" alt="%s" %s>`, html.EscapeString(src), html.EscapeString(alt), mediaStyle)
	case models.MediaVideo:
		src := SafeLink(c.MediaURL)
		if src == "" {
			return ""
		}
		return fmt.Sprintf(`<video src="%s" autoplay muted loop playsinline %s></video>`, html.EscapeString(src), mediaStyle)
	default:
		return strings.TrimSpace(markupPolicy.Sanitize(c.MediaURL))
	}
}
