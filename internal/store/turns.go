package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TurnRow is one processed turn from the audit log.
type TurnRow struct {
	ID          uuid.UUID `json:"id"`
	SessionID   string    `json:"session_id"`
	Command     string    `json:"command"`
	Kind        string    `json:"kind"`
	Instruction string    `json:"instruction,omitempty"`
	TemplateKey string    `json:"template_key,omitempty"`
	Entity      string    `json:"entity,omitempty"`
	RecordCount int       `json:"record_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// RecordTurn appends one processed turn to the audit log.
func (s *Store) RecordTurn(ctx context.Context, sessionID, raw, kind, instructionText, templateKey, entity string, recordCount int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO turns (id, session_id, command, kind, instruction, template_key, entity, record_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())`,
		uuid.New(), sessionID, raw, kind, instructionText, templateKey, entity, recordCount,
	)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// ListTurns returns a session's most recent turns, newest first.
func (s *Store) ListTurns(ctx context.Context, sessionID string, limit int) ([]TurnRow, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, command, kind, instruction, template_key, entity, record_count, created_at
		FROM turns
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var out []TurnRow
	for rows.Next() {
		var t TurnRow
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Command, &t.Kind, &t.Instruction, &t.TemplateKey, &t.Entity, &t.RecordCount, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
