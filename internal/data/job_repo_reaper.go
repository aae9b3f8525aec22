package data

import (
	"context"
	"fmt"
)

// Advisory lock namespace for the reaper tick so overlapping ticks across
// replicas never double-process stale jobs.
const (
	advisoryLockReaperMajor int64 = 2001
	advisoryLockReaperMinor int64 = 1
)

// WithReaperLock runs fn while holding the session-level reaper advisory lock.
// Returns false without running fn when another process holds the lock.
func (r *JobRepo) WithReaperLock(ctx context.Context, fn func(context.Context) error) (bool, error) {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			_ = cerr
		}
	}()

	var locked bool
	if err := conn.QueryRowContext(ctx,
		`SELECT pg_try_advisory_lock($1::integer, $2::integer)`,
		advisoryLockReaperMajor, advisoryLockReaperMinor,
	).Scan(&locked); err != nil {
		return false, fmt.Errorf("acquire reaper advisory lock: %w", err)
	}
	if !locked {
		return false, nil
	}
	defer func() {
		// Unlock on the same session; the connection close would drop it
		// anyway, explicit unlock keeps pooled sessions clean.
		if _, uerr := conn.ExecContext(context.Background(),
			`SELECT pg_advisory_unlock($1::integer, $2::integer)`,
			advisoryLockReaperMajor, advisoryLockReaperMinor,
		); uerr != nil {
			_ = uerr
		}
	}()

	if err := fn(ctx); err != nil {
		return true, err
	}
	return true, nil
}
