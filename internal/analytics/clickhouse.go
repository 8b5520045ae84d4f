package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/patrickwarner/adrotator/internal/models"
)

// ErrUnavailable is returned when the analytics DB is not configured.
var ErrUnavailable = errors.New("analytics unavailable")

// Analytics mirrors ad telemetry into ClickHouse for diagnostics. The
// backend's logging procedures remain the system of record.
type Analytics struct {
	DB *sql.DB
}

// EventRecord mirrors a row in the ad_events table.
type EventRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	CreativeID string    `json:"creative_id"`
	CampaignID *string   `json:"campaign_id"`
	ViewerID   *string   `json:"viewer_id"`
	Country    *string   `json:"country"`
	Device     string    `json:"device"`
	Placement  string    `json:"placement"`
}

const createEvents = `CREATE TABLE IF NOT EXISTS ad_events (
    timestamp   DateTime64(3),
    event_id    String,
    event_type  LowCardinality(String),
    creative_id String,
    campaign_id Nullable(String),
    viewer_id   Nullable(String),
    country     Nullable(String),
    device      LowCardinality(String),
    placement   LowCardinality(String)
) ENGINE=MergeTree() ORDER BY (creative_id, timestamp)`

// InitClickHouse connects to ClickHouse and ensures the ad_events table exists.
func InitClickHouse(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*Analytics, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), createEvents); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse create table: %w", err)
	}

	zap.L().Info("Connected to ClickHouse")
	return &Analytics{DB: db}, nil
}

// Send inserts one telemetry event. It satisfies telemetry.Sink.
func (a *Analytics) Send(ctx context.Context, ev models.Event) error {
	if a == nil || a.DB == nil {
		return ErrUnavailable
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	stmt := `INSERT INTO ad_events (timestamp, event_id, event_type, creative_id, campaign_id, viewer_id, country, device, placement) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := a.DB.ExecContext(ctx, stmt,
		ts, ev.ID, string(ev.Kind), ev.CreativeID,
		nullString(ev.CampaignID), nullString(ev.ViewerID), nullString(ev.Country),
		string(ev.Device), string(ev.Placement))
	if err != nil {
		return fmt.Errorf("insert %s event: %w", ev.Kind, err)
	}
	return nil
}

// Close terminates the ClickHouse connection.
func (a *Analytics) Close() {
	if a != nil && a.DB != nil {
		if err := a.DB.Close(); err != nil {
			zap.L().Error("clickhouse close", zap.Error(err))
		}
	}
}

// GetEventsByCreative returns the mirrored events for a creative, newest
// last. A limit <= 0 returns every row.
func (a *Analytics) GetEventsByCreative(ctx context.Context, creativeID string, limit int) ([]EventRecord, error) {
	if a == nil || a.DB == nil {
		return nil, ErrUnavailable
	}
	query := `SELECT timestamp, event_id, event_type, creative_id, campaign_id, viewer_id, country, device, placement FROM ad_events WHERE creative_id=? ORDER BY timestamp`
	args := []any{creativeID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := a.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("rows close", zap.Error(err))
		}
	}()

	var events []EventRecord
	for rows.Next() {
		var ev EventRecord
		if err := rows.Scan(&ev.Timestamp, &ev.EventID, &ev.EventType, &ev.CreativeID, &ev.CampaignID, &ev.ViewerID, &ev.Country, &ev.Device, &ev.Placement); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return events, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
