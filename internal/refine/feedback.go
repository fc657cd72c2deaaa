// Package refine implements the pattern refinement loop: tester feedback
// accumulates per extractor, an AI provider regenerates a candidate pattern
// from it, and the candidate is gated behind the extractor's full regression
// set before it can be published. Nothing here runs on the conversational
// hot path.
package refine

import (
	"database/sql"
	"fmt"

	"omniacore/internal/logging"
	"omniacore/internal/types"
)

// FeedbackStore persists tester verdicts. Records are keyed by the
// normalized phrase text, so re-running the same phrase updates the existing
// row instead of duplicating it; feedback is never silently discarded.
type FeedbackStore struct {
	db *sql.DB
}

// NewFeedbackStore wraps the shared registry database. The test_feedback
// table is created by the registry store's schema initialization.
func NewFeedbackStore(db *sql.DB) *FeedbackStore {
	return &FeedbackStore{db: db}
}

// Record upserts one verdict for an extractor phrase.
func (s *FeedbackStore) Record(extractorID string, fb types.TestFeedback) error {
	key := types.NormalizePhrase(fb.Value)
	if key == "" {
		return fmt.Errorf("empty feedback phrase for extractor %s", extractorID)
	}
	_, err := s.db.Exec(`INSERT INTO test_feedback (extractor_id, phrase_key, value, expected, note, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(extractor_id, phrase_key) DO UPDATE SET
			value = excluded.value,
			expected = excluded.expected,
			note = excluded.note,
			updated_at = CURRENT_TIMESTAMP`,
		extractorID, key, fb.Value, string(fb.Expected), fb.Note)
	if err != nil {
		return fmt.Errorf("failed to record feedback: %w", err)
	}
	logging.RefineDebug("feedback recorded for %s: %q -> %s", extractorID, fb.Value, fb.Expected)
	return nil
}

// List returns all accumulated feedback for an extractor, oldest first.
func (s *FeedbackStore) List(extractorID string) ([]types.TestFeedback, error) {
	rows, err := s.db.Query(`SELECT value, expected, note FROM test_feedback
		WHERE extractor_id = ? ORDER BY updated_at ASC`, extractorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	defer rows.Close()

	var out []types.TestFeedback
	for rows.Next() {
		var fb types.TestFeedback
		var expected string
		if err := rows.Scan(&fb.Value, &expected, &fb.Note); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		fb.Expected = types.ExpectedOutcome(expected)
		out = append(out, fb)
	}
	return out, rows.Err()
}
