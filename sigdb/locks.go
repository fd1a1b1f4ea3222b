package sigdb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// LocksStore implements the cross-replica execution mutex on the lock table.
// The partial unique index on (loader_code) WHERE NOT released guarantees at
// most one live lock per loader; released rows stay behind for audit.
type LocksStore struct {
	pool *pgxpool.Pool
}

const insertLockSQL = `
	INSERT INTO loader.loader_execution_lock
		(loader_code, lock_id, replica_name, acquired_at, released)
	VALUES ($1, $2::uuid, $3, $4, false)
	ON CONFLICT (loader_code) WHERE NOT released DO NOTHING
	RETURNING id`

// TryAcquire attempts to take the loader's execution lock. A live lock older
// than staleBefore is presumed abandoned by a dead replica and is taken
// over. Returns nil without error when another replica holds a fresh lock.
func (s *LocksStore) TryAcquire(ctx context.Context, loaderCode, replica string, staleBefore, now time.Time) (*ExecutionLock, error) {
	defer observe("locks_try_acquire", time.Now())

	lock := &ExecutionLock{
		LoaderCode:  loaderCode,
		LockID:      uuid.NewString(),
		ReplicaName: replica,
		AcquiredAt:  now,
	}

	inserted, err := s.insert(ctx, lock)
	if err != nil {
		return nil, err
	}
	if inserted {
		return lock, nil
	}

	// The live lock may be stale. Release it conditionally and retry the
	// insert exactly once; losing the retry means another replica won the
	// takeover race.
	tag, err := s.pool.Exec(ctx, `
		UPDATE loader.loader_execution_lock
		SET released = true, released_at = $3
		WHERE loader_code = $1 AND NOT released AND acquired_at < $2`,
		loaderCode, staleBefore, now)
	if err != nil {
		return nil, errors.Wrapf(err, "releasing stale lock of loader %s", loaderCode)
	}
	if tag.RowsAffected() == 0 {
		return nil, nil
	}

	inserted, err = s.insert(ctx, lock)
	if err != nil || !inserted {
		return nil, err
	}
	return lock, nil
}

func (s *LocksStore) insert(ctx context.Context, lock *ExecutionLock) (bool, error) {
	rows, err := s.pool.Query(ctx, insertLockSQL,
		lock.LoaderCode, lock.LockID, lock.ReplicaName, lock.AcquiredAt)
	if err != nil {
		return false, errors.Wrapf(err, "acquiring lock for loader %s", lock.LoaderCode)
	}
	defer rows.Close()

	if !rows.Next() {
		return false, rows.Err()
	}
	if err := rows.Scan(&lock.ID); err != nil {
		return false, err
	}
	return true, rows.Err()
}

// Release marks the lock released. Idempotent: releasing an already released
// or unknown lock id is a no-op. Returns whether this call released it.
func (s *LocksStore) Release(ctx context.Context, lockID string, now time.Time) (bool, error) {
	defer observe("locks_release", time.Now())

	tag, err := s.pool.Exec(ctx, `
		UPDATE loader.loader_execution_lock
		SET released = true, released_at = $2
		WHERE lock_id = $1::uuid AND NOT released`,
		lockID, now)
	if err != nil {
		return false, errors.Wrapf(err, "releasing lock %s", lockID)
	}
	return tag.RowsAffected() == 1, nil
}

// CleanupStale releases every live lock acquired before the threshold.
func (s *LocksStore) CleanupStale(ctx context.Context, staleBefore, now time.Time) (int64, error) {
	defer observe("locks_cleanup_stale", time.Now())

	tag, err := s.pool.Exec(ctx, `
		UPDATE loader.loader_execution_lock
		SET released = true, released_at = $2
		WHERE NOT released AND acquired_at < $1`,
		staleBefore, now)
	if err != nil {
		return 0, errors.Wrap(err, "cleaning up stale locks")
	}
	return tag.RowsAffected(), nil
}

// PurgeReleased deletes released lock rows older than the retention cutoff.
func (s *LocksStore) PurgeReleased(ctx context.Context, releasedBefore time.Time) (int64, error) {
	defer observe("locks_purge_released", time.Now())

	tag, err := s.pool.Exec(ctx, `
		DELETE FROM loader.loader_execution_lock
		WHERE released AND released_at < $1`,
		releasedBefore)
	if err != nil {
		return 0, errors.Wrap(err, "purging released locks")
	}
	return tag.RowsAffected(), nil
}

// ListLive returns the currently held locks.
func (s *LocksStore) ListLive(ctx context.Context) ([]*ExecutionLock, error) {
	defer observe("locks_list_live", time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT id, loader_code, lock_id::text, replica_name, acquired_at, released, released_at
		FROM loader.loader_execution_lock
		WHERE NOT released
		ORDER BY acquired_at`)
	if err != nil {
		return nil, errors.Wrap(err, "listing live locks")
	}
	defer rows.Close()

	var locks []*ExecutionLock
	for rows.Next() {
		var l ExecutionLock
		if err := rows.Scan(&l.ID, &l.LoaderCode, &l.LockID, &l.ReplicaName, &l.AcquiredAt, &l.Released, &l.ReleasedAt); err != nil {
			return nil, err
		}
		locks = append(locks, &l)
	}
	return locks, rows.Err()
}
