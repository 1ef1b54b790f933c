package store

import (
	"context"
	"fmt"

	"github.com/MikeSquared-Agency/bartleby/internal/policy"
)

// UpsertTemplateStat persists one template's reliability stat. It satisfies
// the reliability tracker's StatStore.
func (s *Store) UpsertTemplateStat(ctx context.Context, stat policy.TemplateStat) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO template_stats (template_key, score, successes, failures, last_outcome, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (template_key)
		DO UPDATE SET
			score = $2,
			successes = $3,
			failures = $4,
			last_outcome = $5,
			updated_at = now()`,
		stat.TemplateKey, stat.Score, stat.Successes, stat.Failures, stat.LastOutcome,
	)
	if err != nil {
		return fmt.Errorf("upsert template stat: %w", err)
	}
	return nil
}

// ListTemplateStats returns every persisted template stat. It seeds the
// reliability tracker at startup.
func (s *Store) ListTemplateStats(ctx context.Context) ([]policy.TemplateStat, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT template_key, score, successes, failures, last_outcome
		FROM template_stats`)
	if err != nil {
		return nil, fmt.Errorf("query template stats: %w", err)
	}
	defer rows.Close()

	var out []policy.TemplateStat
	for rows.Next() {
		var st policy.TemplateStat
		if err := rows.Scan(&st.TemplateKey, &st.Score, &st.Successes, &st.Failures, &st.LastOutcome); err != nil {
			return nil, fmt.Errorf("scan template stat: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
