package adfetch

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/patrickwarner/adrotator/internal/models"
)

var (
	listKeys        = []string{"ads", "data", "items", "results"}
	idKeys          = []string{"creative_id", "id", "ad_id"}
	campaignKeys    = []string{"campaign_id", "campaign"}
	titleKeys       = []string{"title", "headline"}
	descriptionKeys = []string{"description", "body", "text"}
	imageKeys       = []string{"image_url", "image", "img", "media_url"}
	markupKeys      = []string{"html", "markup", "code"}
	linkKeys        = []string{"link_url", "click_url", "link", "url"}
)

// Normalize converts an untyped fallback provider payload into creatives.
// It accepts a bare array or an object wrapping one under a common key.
// Missing fields stay empty. Media type is image when an image URL is present
// and markup otherwise. Items with neither an image URL nor markup are
// dropped, since they would render nothing. Anything that is not
// recognisably a list of objects yields no creatives.
func Normalize(placement models.PlacementName, raw any) []models.Creative {
	items := extractList(raw)
	out := make([]models.Creative, 0, len(items))
	for i, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			continue
		}
		c := models.Creative{
			ID:          firstString(obj, idKeys),
			CampaignID:  firstString(obj, campaignKeys),
			Title:       firstString(obj, titleKeys),
			Description: firstString(obj, descriptionKeys),
			LinkURL:     firstString(obj, linkKeys),
			Priority:    firstInt(obj, "priority"),
		}
		if img := firstString(obj, imageKeys); img != "" {
			c.MediaType = models.MediaImage
			c.MediaURL = img
		} else if markup := firstString(obj, markupKeys); markup != "" {
			c.MediaType = models.MediaMarkup
			c.MediaURL = markup
		} else {
			continue
		}
		if c.ID == "" {
			c.ID = fmt.Sprintf("fallback-%s-%d", placement, i)
		}
		out = append(out, c)
	}
	return out
}

func extractList(raw any) []any {
	switch v := raw.(type) {
	case []any:
		return v
	case map[string]any:
		for _, k := range listKeys {
			if list, ok := v[k].([]any); ok {
				return list
			}
		}
	}
	return nil
}

// firstString returns the first key holding a non-empty string or number.
func firstString(obj map[string]any, keys []string) string {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func firstInt(obj map[string]any, key string) int {
	switch v := obj[key].(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return 0
}
