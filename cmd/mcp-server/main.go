package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/adfetch"
	"github.com/patrickwarner/adrotator/internal/analytics"
	"github.com/patrickwarner/adrotator/internal/backend"
	"github.com/patrickwarner/adrotator/internal/config"
	"github.com/patrickwarner/adrotator/internal/entitlement"
	"github.com/patrickwarner/adrotator/internal/models"
	"github.com/patrickwarner/adrotator/internal/observability"
)

type FetchPlacementAdsInput struct {
	Placement string `json:"placement"`
	Category  string `json:"category,omitempty"`
	Device    string `json:"device,omitempty"`
	Country   string `json:"country,omitempty"`
	UserRole  string `json:"user_role,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

type FetchPlacementAdsOutput struct {
	Placement string            `json:"placement"`
	Creatives []models.Creative `json:"creatives"`
}

type CheckEntitlementInput struct {
	ViewerID string `json:"viewer_id"`
}

type CheckEntitlementOutput struct {
	ViewerID    string `json:"viewer_id"`
	Entitlement string `json:"entitlement"`
	ShowsAds    bool   `json:"shows_ads"`
}

type CreativeEventsInput struct {
	CreativeID string `json:"creative_id"`
	Limit      int    `json:"limit,omitempty"`
}

type CreativeEventsOutput struct {
	Events []analytics.EventRecord `json:"events"`
}

// eventStore is the read side of the ClickHouse telemetry mirror.
type eventStore interface {
	GetEventsByCreative(ctx context.Context, creativeID string, limit int) ([]analytics.EventRecord, error)
}

// DiagnosticsServer exposes the placement pipeline to MCP clients.
type DiagnosticsServer struct {
	fetcher *adfetch.Client
	gate    *entitlement.Gate
	events  eventStore
	defLim  int
	logger  *zap.Logger
}

// FetchPlacementAds runs the fetch client exactly as a slot mount would,
// without the entitlement gate.
func (s *DiagnosticsServer) FetchPlacementAds(ctx context.Context, req *mcp.CallToolRequest, input FetchPlacementAdsInput) (*mcp.CallToolResult, FetchPlacementAdsOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	name, err := models.ParsePlacement(input.Placement)
	if err != nil {
		return nil, FetchPlacementAdsOutput{}, err
	}
	device := models.DeviceDesktop
	if strings.EqualFold(input.Device, string(models.DeviceMobile)) {
		device = models.DeviceMobile
	}
	limit := input.Limit
	if limit <= 0 {
		limit = s.defLim
	}

	creatives := s.fetcher.Fetch(ctx, adfetch.Request{
		Placement: name,
		UserRole:  input.UserRole,
		Category:  input.Category,
		Country:   strings.ToUpper(input.Country),
		Device:    device,
		Limit:     limit,
	})
	s.logger.Info("diagnostic fetch",
		zap.String("placement", string(name)),
		zap.Int("creatives", len(creatives)))
	return nil, FetchPlacementAdsOutput{Placement: string(name), Creatives: creatives}, nil
}

// CheckEntitlement resolves a viewer through the same gate the slots use.
func (s *DiagnosticsServer) CheckEntitlement(ctx context.Context, req *mcp.CallToolRequest, input CheckEntitlementInput) (*mcp.CallToolResult, CheckEntitlementOutput, error) {
	status := s.gate.Resolve(ctx, strings.TrimSpace(input.ViewerID))
	return nil, CheckEntitlementOutput{
		ViewerID:    input.ViewerID,
		Entitlement: status.String(),
		ShowsAds:    entitlement.Allows(status),
	}, nil
}

// CreativeEvents lists mirrored telemetry for a creative.
func (s *DiagnosticsServer) CreativeEvents(ctx context.Context, req *mcp.CallToolRequest, input CreativeEventsInput) (*mcp.CallToolResult, CreativeEventsOutput, error) {
	if input.CreativeID == "" {
		return nil, CreativeEventsOutput{}, fmt.Errorf("creative_id required")
	}
	if s.events == nil {
		return nil, CreativeEventsOutput{}, analytics.ErrUnavailable
	}
	limit := input.Limit
	if limit <= 0 {
		limit = 100
	}
	events, err := s.events.GetEventsByCreative(ctx, input.CreativeID, limit)
	if err != nil {
		return nil, CreativeEventsOutput{}, fmt.Errorf("query events: %w", err)
	}
	if events == nil {
		events = []analytics.EventRecord{}
	}
	return nil, CreativeEventsOutput{Events: events}, nil
}

func newMCPServer(d *DiagnosticsServer) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "adrotator",
		Version: "1.0.0",
	}, nil)

	placements := make([]string, len(models.AllPlacements))
	for i, p := range models.AllPlacements {
		placements[i] = string(p)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "fetch_placement_ads",
		Description: "Fetch the candidate creatives the backend (or fallback network) returns for a placement",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"placement": map[string]interface{}{
					"type":        "string",
					"enum":        placements,
					"description": "Placement slot name",
				},
				"category": map[string]interface{}{
					"type":        "string",
					"description": "Content category of the page (optional)",
				},
				"device": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"desktop", "mobile"},
					"description": "Device class (optional, defaults to desktop)",
				},
				"country": map[string]interface{}{
					"type":        "string",
					"description": "ISO country code (optional)",
				},
				"user_role": map[string]interface{}{
					"type":        "string",
					"description": "Viewer role (optional)",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"minimum":     1,
					"description": "Maximum creatives (optional)",
				},
			},
			"required": []string{"placement"},
		},
	}, d.FetchPlacementAds)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "check_entitlement",
		Description: "Resolve whether a viewer is free, premium or unknown and whether ads are shown",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"viewer_id": map[string]interface{}{
					"type":        "string",
					"description": "Viewer ID; empty means anonymous",
				},
			},
		},
	}, d.CheckEntitlement)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "creative_events",
		Description: "List impression and click events mirrored to ClickHouse for a creative",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"creative_id": map[string]interface{}{
					"type":        "string",
					"description": "Creative ID",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"minimum":     1,
					"description": "Maximum rows (optional, defaults to 100)",
				},
			},
			"required": []string{"creative_id"},
		},
	}, d.CreativeEvents)

	return server
}

func main() {
	// Logs go to stderr so they do not interleave with the stdio protocol.
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.LevelKey = "level"
	zcfg.EncoderConfig.NameKey = "logger"
	zcfg.EncoderConfig.CallerKey = "caller"
	zcfg.EncoderConfig.MessageKey = "msg"
	zcfg.EncoderConfig.StacktraceKey = "stacktrace"

	logger, err := zcfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger = logger.Named("adrotator-mcp").With(zap.String("service", "adrotator-mcp"))

	cfg := config.Load()
	if cfg.BackendURL == "" {
		logger.Fatal("BACKEND_URL environment variable is required")
	}

	metrics := observability.NewNoOpRegistry()
	client := backend.NewClient(cfg.BackendURL, cfg.BackendAPIKey, cfg.BackendTimeout, logger)

	var fallback adfetch.Source
	if cfg.FallbackAdURL != "" {
		fallback = adfetch.NewFallbackSource(cfg.FallbackAdURL, cfg.FallbackTimeout)
	}

	d := &DiagnosticsServer{
		fetcher: adfetch.NewClient(adfetch.NewRPCSource(client), fallback, logger, metrics),
		gate:    entitlement.NewGate(&entitlement.RPCChecker{Backend: client}, logger, metrics),
		defLim:  cfg.AdLimit,
		logger:  logger,
	}

	if cfg.ClickHouseDSN != "" {
		ch, err := analytics.InitClickHouse(cfg.ClickHouseDSN, 2, 1, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
		if err != nil {
			logger.Warn("ClickHouse unavailable, creative_events disabled", zap.Error(err))
		} else {
			defer ch.Close()
			d.events = ch
		}
	}

	server := newMCPServer(d)

	stdioTransport := &mcp.StdioTransport{}
	var logBuffer bytes.Buffer
	loggingTransport := &mcp.LoggingTransport{
		Transport: stdioTransport,
		Writer:    &logBuffer,
	}

	logger.Info("MCP server running via stdio")
	if err := server.Run(context.Background(), loggingTransport); err != nil {
		logger.Fatal("Server error", zap.Error(err), zap.String("mcp_logs", logBuffer.String()))
	}
}
