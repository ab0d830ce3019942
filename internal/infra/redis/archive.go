package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/vietddude/relink/internal/core/domain"
)

// archiveCap bounds the per-device archive list length.
const archiveCap = 200

// SessionArchive implements storage.SessionArchiver on a capped Redis
// list per device, newest first.
type SessionArchive struct {
	rdb *redis.Client
}

// NewSessionArchive creates a Redis-backed session archive.
func NewSessionArchive(client *Client) *SessionArchive {
	return &SessionArchive{rdb: client.rdb}
}

func (a *SessionArchive) key(deviceID string) string {
	return fmt.Sprintf("recovery_sessions:%s", deviceID)
}

// Archive prepends the record and trims the list to the cap.
func (a *SessionArchive) Archive(ctx context.Context, rec *domain.SessionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}

	key := a.key(rec.DeviceID)
	pipe := a.rdb.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, archiveCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to archive session: %w", err)
	}
	return nil
}

// Recent returns up to limit most recent records for a device.
func (a *SessionArchive) Recent(ctx context.Context, deviceID string, limit int) ([]*domain.SessionRecord, error) {
	if limit <= 0 {
		limit = archiveCap
	}
	raw, err := a.rdb.LRange(ctx, a.key(deviceID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session archive: %w", err)
	}

	out := make([]*domain.SessionRecord, 0, len(raw))
	for _, item := range raw {
		var rec domain.SessionRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session record: %w", err)
		}
		out = append(out, &rec)
	}
	return out, nil
}

// Close closes the underlying client connection.
func (a *SessionArchive) Close() error {
	return a.rdb.Close()
}
