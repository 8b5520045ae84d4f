package models

import "time"

// EventKind distinguishes impression and click telemetry.
type EventKind string

const (
	EventImpression EventKind = "impression"
	EventClick      EventKind = "click"
)

// Event is a fire-and-forget telemetry record. It is never retried and never
// stored locally.
type Event struct {
	ID         string        `json:"id"`
	Kind       EventKind     `json:"kind"`
	CreativeID string        `json:"creative_id"`
	CampaignID string        `json:"campaign_id"`
	ViewerID   string        `json:"viewer_id,omitempty"` // empty for anonymous viewers
	Country    string        `json:"country,omitempty"`
	Device     Device        `json:"device"`
	Placement  PlacementName `json:"placement"`
	Timestamp  time.Time     `json:"timestamp"`
}
