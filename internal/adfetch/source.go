package adfetch

import (
	"context"
	"errors"

	"github.com/patrickwarner/adrotator/internal/backend"
	"github.com/patrickwarner/adrotator/internal/models"
)

// DefaultLimit is the number of candidates requested when none is given.
const DefaultLimit = 5

// Request describes one candidate fetch for a placement.
type Request struct {
	Placement models.PlacementName
	UserRole  string
	Category  string
	Country   string
	Device    models.Device
	Limit     int
}

func (r Request) limit() int {
	if r.Limit <= 0 {
		return DefaultLimit
	}
	return r.Limit
}

// Source returns ranked creatives for a placement.
type Source interface {
	Fetch(ctx context.Context, req Request) ([]models.Creative, error)
}

// adRow mirrors one row returned by the ranking procedure.
type adRow struct {
	CreativeID  string  `json:"creative_id"`
	CampaignID  string  `json:"campaign_id"`
	Title       *string `json:"title"`
	Description *string `json:"description"`
	MediaURL    string  `json:"media_url"`
	MediaType   string  `json:"media_type"`
	LinkURL     *string `json:"link_url"`
	Priority    int     `json:"priority"`
}

type adParams struct {
	Placement string  `json:"p_placement"`
	UserRole  *string `json:"p_user_role"`
	Category  *string `json:"p_category"`
	Country   *string `json:"p_country"`
	Device    *string `json:"p_device"`
	Limit     int     `json:"p_limit"`
}

// ErrEmptyPlacement is returned for a request without a placement.
var ErrEmptyPlacement = errors.New("placement required")

// RPCSource asks the backend's ranking procedure for eligible creatives.
// Ordering (priority, then recency) is decided by the backend and preserved.
type RPCSource struct {
	Backend backend.Caller
	// Function is the procedure name; defaults to get_placement_ads.
	Function string
}

// NewRPCSource returns an RPCSource bound to the given backend.
func NewRPCSource(b backend.Caller) *RPCSource {
	return &RPCSource{Backend: b, Function: "get_placement_ads"}
}

// Fetch implements Source.
func (s *RPCSource) Fetch(ctx context.Context, req Request) ([]models.Creative, error) {
	if req.Placement == "" {
		return nil, ErrEmptyPlacement
	}
	fn := s.Function
	if fn == "" {
		fn = "get_placement_ads"
	}

	params := adParams{
		Placement: string(req.Placement),
		UserRole:  backend.Nullable(req.UserRole),
		Category:  backend.Nullable(req.Category),
		Country:   backend.Nullable(req.Country),
		Device:    backend.Nullable(string(req.Device)),
		Limit:     req.limit(),
	}
	var rows []adRow
	if err := s.Backend.RPC(ctx, fn, params, &rows); err != nil {
		return nil, err
	}

	out := make([]models.Creative, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.Creative{
			ID:          row.CreativeID,
			CampaignID:  row.CampaignID,
			Title:       deref(row.Title),
			Description: deref(row.Description),
			MediaURL:    row.MediaURL,
			MediaType:   models.ParseMediaType(row.MediaType),
			LinkURL:     deref(row.LinkURL),
			Priority:    row.Priority,
		})
	}
	return out, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
