package models

import (
	"errors"
	"fmt"
	"strings"
)

// PlacementName identifies a UI slot where advertisements may appear.
type PlacementName string

const (
	PlacementHeader   PlacementName = "header"
	PlacementFooter   PlacementName = "footer"
	PlacementSidebar  PlacementName = "sidebar"
	PlacementInline   PlacementName = "inline"
	PlacementPopup    PlacementName = "popup"
	PlacementFloating PlacementName = "floating"
)

// ErrUnknownPlacement is returned when a placement name is not one of the
// known slots.
var ErrUnknownPlacement = errors.New("unknown placement")

// AllPlacements lists every known placement in declaration order.
var AllPlacements = []PlacementName{
	PlacementHeader,
	PlacementFooter,
	PlacementSidebar,
	PlacementInline,
	PlacementPopup,
	PlacementFloating,
}

// ParsePlacement validates a placement name. Matching is case-insensitive.
func ParsePlacement(s string) (PlacementName, error) {
	name := PlacementName(strings.ToLower(strings.TrimSpace(s)))
	for _, p := range AllPlacements {
		if p == name {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPlacement, s)
}

// Placement holds the configured behaviour of one named slot.
type Placement struct {
	Name PlacementName `json:"name"`
	// Category optionally narrows creatives to a content category
	// (e.g. "past-papers", "marketplace").
	Category string `json:"category,omitempty"`
	// RotateMs is the rotation interval in milliseconds.
	RotateMs int `json:"rotate_ms"`
	// Limit is the maximum number of candidates requested per fetch.
	Limit int `json:"limit"`
}
