package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vietddude/relink/internal/core/domain"
)

// SessionRepo implements storage.SessionArchiver on PostgreSQL.
type SessionRepo struct {
	db *DB
}

// NewSessionRepo creates a Postgres-backed session archive.
func NewSessionRepo(db *DB) *SessionRepo {
	return &SessionRepo{db: db}
}

type sessionRow struct {
	ID         string    `db:"id"`
	DeviceID   string    `db:"device_id"`
	StrategyID string    `db:"strategy_id"`
	State      string    `db:"state"`
	Attempts   int       `db:"attempts"`
	Success    bool      `db:"success"`
	StartedAt  time.Time `db:"started_at"`
	EndedAt    time.Time `db:"ended_at"`
	Metrics    []byte    `db:"metrics"`
}

// Archive persists one completed session.
func (r *SessionRepo) Archive(ctx context.Context, rec *domain.SessionRecord) error {
	metricsJSON, err := json.Marshal(rec.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal session metrics: %w", err)
	}

	query := `
		INSERT INTO recovery_sessions (id, device_id, strategy_id, state, attempts, success, started_at, ended_at, metrics)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = r.db.ExecContext(ctx, query,
		rec.ID, rec.DeviceID, rec.StrategyID, string(rec.State),
		rec.Attempts, rec.Success, rec.StartedAt, rec.EndedAt, metricsJSON)
	if err != nil {
		return fmt.Errorf("failed to insert session record: %w", err)
	}
	return nil
}

// Recent returns up to limit most recent records for a device.
func (r *SessionRepo) Recent(ctx context.Context, deviceID string, limit int) ([]*domain.SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, device_id, strategy_id, state, attempts, success, started_at, ended_at, metrics
		FROM recovery_sessions
		WHERE device_id = $1
		ORDER BY ended_at DESC
		LIMIT $2
	`
	var rows []sessionRow
	if err := r.db.SelectContext(ctx, &rows, query, deviceID, limit); err != nil {
		return nil, fmt.Errorf("failed to query session records: %w", err)
	}

	out := make([]*domain.SessionRecord, 0, len(rows))
	for _, row := range rows {
		rec := &domain.SessionRecord{
			ID:         row.ID,
			DeviceID:   row.DeviceID,
			StrategyID: row.StrategyID,
			State:      domain.SessionState(row.State),
			Attempts:   row.Attempts,
			Success:    row.Success,
			StartedAt:  row.StartedAt,
			EndedAt:    row.EndedAt,
		}
		if len(row.Metrics) > 0 {
			if err := json.Unmarshal(row.Metrics, &rec.Metrics); err != nil {
				return nil, fmt.Errorf("failed to unmarshal session metrics: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close closes the underlying database.
func (r *SessionRepo) Close() error {
	return r.db.Close()
}
