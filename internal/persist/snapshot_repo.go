package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/l1jgo/simcore/internal/session"
	"github.com/l1jgo/simcore/internal/snapshot"
	"github.com/l1jgo/simcore/internal/tick"
)

// SnapshotRepo is the tick.Checkpointer implementation spec.md §4.11 calls
// for: it stores each captured WorldSnapshot as a JSONB row and keeps a
// singleton pointer at the latest tick, and records which accounts were
// actively playing at checkpoint time.
type SnapshotRepo struct {
	db      *DB
	timeout time.Duration
}

func NewSnapshotRepo(db *DB) *SnapshotRepo {
	return &SnapshotRepo{db: db, timeout: 10 * time.Second}
}

var _ tick.Checkpointer = (*SnapshotRepo)(nil)

// SaveSnapshot implements tick.Checkpointer. It has no context parameter
// (the tick loop never blocks a context across a checkpoint), so it derives
// its own bounded one.
func (r *SnapshotRepo) SaveSnapshot(snap snapshot.WorldSnapshot) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("snapshot_repo: encode snapshot: %w", err)
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("snapshot_repo: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO snapshots (tick, version, payload) VALUES ($1, $2, $3)
		 ON CONFLICT (tick) DO UPDATE SET payload = EXCLUDED.payload, version = EXCLUDED.version`,
		snap.Tick, snap.Version, payload,
	)
	if err != nil {
		return fmt.Errorf("snapshot_repo: insert snapshot: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO snapshot_latest (id, tick) VALUES (TRUE, $1)
		 ON CONFLICT (id) DO UPDATE SET tick = EXCLUDED.tick`,
		snap.Tick,
	)
	if err != nil {
		return fmt.Errorf("snapshot_repo: update latest pointer: %w", err)
	}

	return tx.Commit(ctx)
}

// LoadLatest returns the most recently saved snapshot, for restart, or
// (WorldSnapshot{}, false, nil) if none has ever been saved.
func (r *SnapshotRepo) LoadLatest(ctx context.Context) (snapshot.WorldSnapshot, bool, error) {
	var payload []byte
	err := r.db.Pool.QueryRow(ctx,
		`SELECT s.payload FROM snapshots s
		 JOIN snapshot_latest l ON l.tick = s.tick`,
	).Scan(&payload)
	if err != nil {
		if err == pgx.ErrNoRows {
			return snapshot.WorldSnapshot{}, false, nil
		}
		return snapshot.WorldSnapshot{}, false, fmt.Errorf("snapshot_repo: load latest: %w", err)
	}

	var snap snapshot.WorldSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return snapshot.WorldSnapshot{}, false, fmt.Errorf("snapshot_repo: decode snapshot: %w", err)
	}
	return snap, true, nil
}

// PersistSessions implements tick.Checkpointer. It marks the accounts
// behind every currently-playing session online with a fresh last_active
// timestamp, so a restart can tell which accounts expect a reconnect-window
// entry (spec.md §4.9) rather than a fresh login.
func (r *SnapshotRepo) PersistSessions(sessions []*session.Session) error {
	if len(sessions) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	ids := make([]int64, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.AccountID())
	}

	_, err := r.db.Pool.Exec(ctx,
		`UPDATE accounts SET online = TRUE, last_active = NOW() WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("snapshot_repo: persist sessions: %w", err)
	}
	return nil
}
