// Package devbackend is an in-memory stand-in for the portal backend and
// the fallback ad network. It serves the same RPC gateway and fallback
// shapes the service consumes, for local runs and end-to-end tests.
package devbackend

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/models"
)

// LoggedEvent is one call to a logging procedure as the backend saw it.
type LoggedEvent struct {
	Function   string  `json:"function"`
	CreativeID string  `json:"p_creative_id"`
	CampaignID *string `json:"p_campaign_id"`
	ViewerID   *string `json:"p_viewer_id"`
	Country    *string `json:"p_country"`
	Device     string  `json:"p_device"`
}

type rankingParams struct {
	Placement string  `json:"p_placement"`
	Category  *string `json:"p_category"`
	Device    *string `json:"p_device"`
	Limit     int     `json:"p_limit"`
}

type rankingRow struct {
	CreativeID  string  `json:"creative_id"`
	CampaignID  string  `json:"campaign_id"`
	Title       *string `json:"title"`
	Description *string `json:"description"`
	MediaURL    string  `json:"media_url"`
	MediaType   string  `json:"media_type"`
	LinkURL     *string `json:"link_url"`
	Priority    int     `json:"priority"`
}

// Backend holds the catalog, subscriptions and received telemetry.
type Backend struct {
	mu          sync.Mutex
	ads         map[models.PlacementName][]models.Creative
	fallbackAds map[models.PlacementName][]models.Creative
	premium     map[string]bool
	events      []LoggedEvent
	rankingDown bool
	logger      *zap.Logger
}

// New returns an empty backend.
func New(logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		ads:         make(map[models.PlacementName][]models.Creative),
		fallbackAds: make(map[models.PlacementName][]models.Creative),
		premium:     make(map[string]bool),
		logger:      logger,
	}
}

// SetAds replaces the ranked creatives for a placement.
func (b *Backend) SetAds(p models.PlacementName, ads []models.Creative) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ads[p] = append([]models.Creative(nil), ads...)
}

// SetFallbackAds replaces what the fallback network returns for a placement.
func (b *Backend) SetFallbackAds(p models.PlacementName, ads []models.Creative) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fallbackAds[p] = append([]models.Creative(nil), ads...)
}

// SetPremium marks a viewer as holding an active premium subscription.
func (b *Backend) SetPremium(viewerID string, premium bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.premium[viewerID] = premium
}

// SetRankingDown makes get_placement_ads fail with 503.
func (b *Backend) SetRankingDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rankingDown = down
}

// Events returns logged telemetry, optionally filtered by procedure name.
func (b *Backend) Events(function string) []LoggedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []LoggedEvent
	for _, ev := range b.events {
		if function == "" || ev.Function == function {
			out = append(out, ev)
		}
	}
	return out
}

// Handler serves the RPC gateway under /rest/v1 and the fallback network
// under /ads.
func (b *Backend) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/rest/v1/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.HandleFunc("/rest/v1/rpc/{fn}", b.rpc).Methods(http.MethodPost)
	r.HandleFunc("/ads", b.fallback).Methods(http.MethodGet)
	return r
}

func (b *Backend) rpc(w http.ResponseWriter, r *http.Request) {
	fn := mux.Vars(r)["fn"]
	switch fn {
	case "get_placement_ads":
		b.ranking(w, r)
	case "has_active_premium":
		var p struct {
			UserID string `json:"p_user_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		b.mu.Lock()
		premium := b.premium[p.UserID]
		b.mu.Unlock()
		writeJSON(w, premium)
	case "log_ad_impression", "log_ad_click":
		ev := LoggedEvent{Function: fn}
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ev.Function = fn
		b.mu.Lock()
		b.events = append(b.events, ev)
		b.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, fmt.Sprintf(`{"message":"function %s not found"}`, fn), http.StatusNotFound)
	}
}

func (b *Backend) ranking(w http.ResponseWriter, r *http.Request) {
	var p rankingParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	down := b.rankingDown
	ads := b.ads[models.PlacementName(p.Placement)]
	b.mu.Unlock()
	if down {
		http.Error(w, `{"message":"ranking unavailable"}`, http.StatusServiceUnavailable)
		return
	}

	rows := make([]rankingRow, 0, len(ads))
	for _, c := range ads {
		if p.Limit > 0 && len(rows) >= p.Limit {
			break
		}
		rows = append(rows, rankingRow{
			CreativeID:  c.ID,
			CampaignID:  c.CampaignID,
			Title:       nullable(c.Title),
			Description: nullable(c.Description),
			MediaURL:    c.MediaURL,
			MediaType:   string(c.MediaType),
			LinkURL:     nullable(c.LinkURL),
			Priority:    c.Priority,
		})
	}
	b.logger.Debug("ranking", zap.String("placement", p.Placement), zap.Int("rows", len(rows)))
	writeJSON(w, rows)
}

// fallback answers in the loosely structured shape typical of third-party
// networks: a wrapped list with differently named fields.
func (b *Backend) fallback(w http.ResponseWriter, r *http.Request) {
	placement := models.PlacementName(r.URL.Query().Get("placement"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	b.mu.Lock()
	ads := b.fallbackAds[placement]
	b.mu.Unlock()

	items := make([]map[string]any, 0, len(ads))
	for _, c := range ads {
		if limit > 0 && len(items) >= limit {
			break
		}
		item := map[string]any{
			"ad_id":     c.ID,
			"headline":  c.Title,
			"click_url": c.LinkURL,
		}
		if c.MediaType == models.MediaMarkup {
			item["html"] = c.MediaURL
		} else {
			item["img"] = c.MediaURL
		}
		items = append(items, item)
	}
	writeJSON(w, map[string]any{"results": items})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var (
	adjectives = []string{"Smart", "Quick", "Complete", "Focused", "Guided", "Interactive"}
	subjects   = []string{"Algebra", "Biology", "Chemistry", "History", "Physics", "Essay Writing"}
	formats    = []string{"Course", "Flashcards", "Practice Exams", "Tutoring", "Study Plan"}
)

// Generate builds perPlacement random creatives for every placement. About
// one in five is a markup creative and one in ten has no link.
func Generate(r *rand.Rand, perPlacement int) map[models.PlacementName][]models.Creative {
	out := make(map[models.PlacementName][]models.Creative, len(models.AllPlacements))
	n := 0
	for _, p := range models.AllPlacements {
		list := make([]models.Creative, 0, perPlacement)
		for i := 0; i < perPlacement; i++ {
			n++
			title := fmt.Sprintf("%s %s %s",
				adjectives[r.Intn(len(adjectives))],
				subjects[r.Intn(len(subjects))],
				formats[r.Intn(len(formats))])
			c := models.Creative{
				ID:          fmt.Sprintf("cr-%04d", n),
				CampaignID:  fmt.Sprintf("camp-%02d", r.Intn(20)+1),
				Title:       title,
				Description: "Sponsored study resource",
				MediaType:   models.MediaImage,
				MediaURL:    fmt.Sprintf("https://picsum.photos/seed/%d/728/90", n),
				LinkURL:     fmt.Sprintf("https://example.com/offers/%d", n),
				Priority:    r.Intn(10),
			}
			if r.Intn(5) == 0 {
				c.MediaType = models.MediaMarkup
				c.MediaURL = fmt.Sprintf(`<div class="promo"><strong>%s</strong></div>`, title)
			}
			if r.Intn(10) == 0 {
				c.LinkURL = ""
			}
			list = append(list, c)
		}
		out[p] = list
	}
	return out
}
