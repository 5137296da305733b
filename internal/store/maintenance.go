package store

import (
	"context"
	"fmt"
	"time"
)

// Prune deletes history recorded before cutoff and returns how many rows
// went away.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for _, table := range historyTables {
		res, err := s.exec(ctx, `DELETE FROM `+table+` WHERE recorded_at < ?`, formatTime(cutoff))
		if err != nil {
			return total, fmt.Errorf("prune %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("prune %s: rows affected: %w", table, err)
		}
		total += n
	}
	return total, nil
}
