package models

// MediaType describes how a creative's MediaURL is rendered.
type MediaType string

const (
	MediaImage  MediaType = "image"
	MediaVideo  MediaType = "video"
	MediaMarkup MediaType = "markup"
)

// ParseMediaType maps a backend media_type value to a MediaType. Unknown values
// fall back to markup so the creative still renders as opaque content.
func ParseMediaType(s string) MediaType {
	switch MediaType(s) {
	case MediaImage, MediaVideo, MediaMarkup:
		return MediaType(s)
	default:
		return MediaMarkup
	}
}

// Creative is a displayable advertising unit as returned by the backend's
// ranking procedure or normalized from the fallback ad network.
// Creatives are owned by the backend; the client only ever holds read-only
// copies for the lifetime of one rotation cycle. Empty string fields are
// treated as null on the wire.
type Creative struct {
	ID          string `json:"creative_id"`
	CampaignID  string `json:"campaign_id"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	// MediaURL is an asset URL for image and video creatives and the raw
	// markup itself for markup creatives.
	MediaURL  string    `json:"media_url"`
	MediaType MediaType `json:"media_type"`
	// LinkURL is the click-through destination. Creatives without one are
	// still clickable for telemetry but do not navigate anywhere.
	LinkURL string `json:"link_url,omitempty"`
	// Priority is the backend's ordering hint. Higher is preferred; the client
	// never re-sorts on it.
	Priority int `json:"priority"`
}
