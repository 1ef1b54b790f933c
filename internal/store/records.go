package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/bartleby/internal/normalize"
)

// SavedRecord is one CRM record a user pinned for later lookup or export.
type SavedRecord struct {
	ID          uuid.UUID         `json:"id"`
	RecordID    string            `json:"record_id"`
	EntityType  string            `json:"entity_type"`
	DisplayName string            `json:"display_name"`
	Fields      map[string]string `json:"fields"`
	SessionID   string            `json:"session_id"`
	SavedAt     time.Time         `json:"saved_at"`
}

// SaveRecord pins a canonical record. Saving the same CRM record again
// refreshes the stored fields instead of duplicating the row.
func (s *Store) SaveRecord(ctx context.Context, sessionID string, rec normalize.CanonicalRecord) (uuid.UUID, error) {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal fields: %w", err)
	}

	var id uuid.UUID
	row := s.pool.QueryRow(ctx, `
		INSERT INTO saved_records (id, record_id, entity_type, display_name, fields, session_id, saved_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (record_id)
		DO UPDATE SET
			entity_type = $3,
			display_name = $4,
			fields = $5,
			session_id = $6,
			saved_at = now()
		RETURNING id`,
		uuid.New(), rec.ID, string(rec.EntityType), rec.DisplayName, fields, sessionID,
	)
	if err := row.Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("insert saved record: %w", err)
	}
	return id, nil
}

// GetSavedRecord fetches a pinned record by its row id.
func (s *Store) GetSavedRecord(ctx context.Context, id uuid.UUID) (*SavedRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, record_id, entity_type, display_name, fields, session_id, saved_at
		FROM saved_records WHERE id = $1`, id)

	var sr SavedRecord
	var fields []byte
	err := row.Scan(&sr.ID, &sr.RecordID, &sr.EntityType, &sr.DisplayName, &fields, &sr.SessionID, &sr.SavedAt)
	if err != nil {
		return nil, err
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &sr.Fields); err != nil {
			return nil, fmt.Errorf("decode fields: %w", err)
		}
	}
	return &sr, nil
}

// ListSavedRecords returns pinned records, most recently saved first.
func (s *Store) ListSavedRecords(ctx context.Context, limit int) ([]SavedRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, record_id, entity_type, display_name, fields, session_id, saved_at
		FROM saved_records
		ORDER BY saved_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query saved records: %w", err)
	}
	defer rows.Close()

	var out []SavedRecord
	for rows.Next() {
		var sr SavedRecord
		var fields []byte
		if err := rows.Scan(&sr.ID, &sr.RecordID, &sr.EntityType, &sr.DisplayName, &fields, &sr.SessionID, &sr.SavedAt); err != nil {
			return nil, fmt.Errorf("scan saved record: %w", err)
		}
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &sr.Fields); err != nil {
				return nil, fmt.Errorf("decode fields: %w", err)
			}
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}
