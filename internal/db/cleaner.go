package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SweepFunc removes expired records as of now and reports how many went away.
type SweepFunc func(ctx context.Context, now time.Time) (int64, error)

// PostgresSweeper purges SRP challenges older than challengeTTL and
// delegations that stayed unclaimed for longer than delegationTTL.
func PostgresSweeper(db *sql.DB, challengeTTL, delegationTTL time.Duration) SweepFunc {
	return func(ctx context.Context, now time.Time) (int64, error) {
		res, err := db.ExecContext(ctx,
			`DELETE FROM srp_challenges WHERE created_at < $1`, now.Add(-challengeTTL))
		if err != nil {
			return 0, fmt.Errorf("purge challenges: %w", err)
		}
		challenges, _ := res.RowsAffected()

		res, err = db.ExecContext(ctx,
			`DELETE FROM delegations WHERE status = 'opened' AND created_at < $1`, now.Add(-delegationTTL))
		if err != nil {
			return challenges, fmt.Errorf("purge delegations: %w", err)
		}
		delegations, _ := res.RowsAffected()
		return challenges + delegations, nil
	}
}

// StartExpiryCleaner runs sweep every interval until ctx is cancelled.
func StartExpiryCleaner(
	ctx context.Context,
	interval time.Duration,
	sweep SweepFunc,
	log *zap.Logger,
) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				removed, err := sweep(ctx, now)
				if err != nil {
					log.Error("failed to purge expired records", zap.Error(err))
					continue
				}
				if removed > 0 {
					log.Info("purged expired records", zap.Int64("removed", removed))
				}
			}
		}
	}()
}
