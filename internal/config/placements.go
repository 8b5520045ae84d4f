package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/patrickwarner/adrotator/internal/models"
)

type placementEntry struct {
	Category string `yaml:"category"`
	RotateMs int    `yaml:"rotate_ms"`
	Limit    int    `yaml:"limit"`
}

type placementsFile struct {
	Placements map[string]placementEntry `yaml:"placements"`
}

// DefaultPlacements returns every known placement configured with the
// service-wide rotation interval and candidate limit.
func DefaultPlacements(cfg Config) map[models.PlacementName]models.Placement {
	out := make(map[models.PlacementName]models.Placement, len(models.AllPlacements))
	for _, name := range models.AllPlacements {
		out[name] = models.Placement{
			Name:     name,
			RotateMs: int(cfg.RotateInterval.Milliseconds()),
			Limit:    cfg.AdLimit,
		}
	}
	return out
}

// LoadPlacements overlays the YAML placement catalog at path onto
// DefaultPlacements. An empty path yields the defaults unchanged.
//
//	placements:
//	  sidebar:
//	    rotate_ms: 7000
//	    limit: 3
//	  inline:
//	    category: past-papers
func LoadPlacements(path string, cfg Config) (map[models.PlacementName]models.Placement, error) {
	out := DefaultPlacements(cfg)
	if path == "" {
		return out, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read placements file: %w", err)
	}
	var file placementsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse placements file: %w", err)
	}

	for raw, entry := range file.Placements {
		name, err := models.ParsePlacement(raw)
		if err != nil {
			return nil, fmt.Errorf("placements file %s: %w", path, err)
		}
		if entry.RotateMs < 0 || entry.Limit < 0 {
			return nil, fmt.Errorf("placement %s: rotate_ms and limit must not be negative", name)
		}
		p := out[name]
		p.Category = entry.Category
		if entry.RotateMs > 0 {
			p.RotateMs = entry.RotateMs
		}
		if entry.Limit > 0 {
			p.Limit = entry.Limit
		}
		out[name] = p
	}
	return out, nil
}
