// Package postgres stores diagnostics events (warnings, errors, system and
// config events) so a session's problems can be reviewed after a restart.
// Playback events are never written here.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/AaronLay10/soundstage/internal/config"
)

// EventRow represents a journaled event.
type EventRow struct {
	EventID   int64                  `json:"event_id"`
	Timestamp time.Time              `json:"ts"`
	Level     string                 `json:"level"`
	Event     string                 `json:"event"`
	Message   *string                `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	MapRoot   string                 `json:"map_root"`
	SessionID *string                `json:"session_id,omitempty"`
}

// Journal writes diagnostics events for one data map.
type Journal struct {
	db      *sql.DB
	mapRoot string
}

// DSN builds a lib/pq connection string. The password is omitted when empty.
func DSN(cfg config.PostgresConfig) string {
	parts := []string{
		"host=" + cfg.Host,
		fmt.Sprintf("port=%d", cfg.Port),
		"user=" + cfg.User,
	}
	if cfg.Password != "" {
		parts = append(parts, "password="+quote(cfg.Password))
	}
	parts = append(parts, "dbname="+cfg.Database, "sslmode="+cfg.SSLMode)
	return strings.Join(parts, " ")
}

// quote escapes a value for a key=value connection string.
func quote(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

// Open connects, pings and creates the diagnostics table if needed.
func Open(ctx context.Context, cfg config.PostgresConfig, mapRoot string) (*Journal, error) {
	db, err := sql.Open("postgres", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	j := &Journal{db: db, mapRoot: mapRoot}
	if err := j.createTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create diagnostics table: %w", err)
	}
	return j, nil
}

func (j *Journal) createTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS diagnostics (
			event_id   BIGSERIAL PRIMARY KEY,
			ts         TIMESTAMPTZ NOT NULL,
			level      TEXT NOT NULL,
			event      TEXT NOT NULL,
			msg        TEXT,
			fields     JSONB,
			map_root   TEXT NOT NULL,
			session_id TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_diagnostics_ts ON diagnostics(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_diagnostics_map_root ON diagnostics(map_root);
	`
	_, err := j.db.ExecContext(ctx, query)
	return err
}

// Append inserts one event. It satisfies events.Journal.
func (j *Journal) Append(ts time.Time, level, event, msg string, fields map[string]interface{}, sessionID string) error {
	var fieldsJSON []byte
	if fields != nil {
		var err error
		fieldsJSON, err = json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("failed to marshal fields: %w", err)
		}
	}

	query := `
		INSERT INTO diagnostics (ts, level, event, msg, fields, map_root, session_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := j.db.Exec(query, ts, level, event, nullable(msg), fieldsJSON, j.mapRoot, nullable(sessionID))
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ClampLimit bounds a requested row count to [1, 10000], defaulting to 200.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return 200
	}
	if limit > 10000 {
		return 10000
	}
	return limit
}

// Query returns the last limit events for this map, newest first.
func (j *Journal) Query(ctx context.Context, limit int) ([]EventRow, error) {
	query := `
		SELECT event_id, ts, level, event, msg, fields, map_root, session_id
		FROM diagnostics
		WHERE map_root = $1
		ORDER BY ts DESC
		LIMIT $2
	`
	rows, err := j.db.QueryContext(ctx, query, j.mapRoot, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var e EventRow
		var fieldsJSON []byte
		var msg, sessionID sql.NullString

		if err := rows.Scan(&e.EventID, &e.Timestamp, &e.Level, &e.Event, &msg, &fieldsJSON, &e.MapRoot, &sessionID); err != nil {
			return nil, err
		}
		if msg.Valid {
			e.Message = &msg.String
		}
		if sessionID.Valid {
			e.SessionID = &sessionID.String
		}
		if len(fieldsJSON) > 0 {
			if err := json.Unmarshal(fieldsJSON, &e.Fields); err != nil {
				return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}
