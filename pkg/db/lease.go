package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ClaimLease takes name for holder until now+duration. It reports false when
// an unexpired lease on name exists, whoever holds it. The check and the
// write are one statement, so two processes on the same database file cannot
// both win.
func (d *DB) ClaimLease(ctx context.Context, name, holder string, now time.Time, duration time.Duration) (bool, error) {
	res, err := d.conn.ExecContext(ctx, `
		INSERT INTO leases (name, holder, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		WHERE leases.expires_at <= ?`,
		name, holder, now.Add(duration).UnixNano(), now.UnixNano())
	if err != nil {
		return false, fmt.Errorf("failed to claim lease %s: %w", name, err)
	}
	return affected(res)
}

// ExtendLease moves the expiry of a lease holder still owns. It reports false
// when the lease expired or changed hands.
func (d *DB) ExtendLease(ctx context.Context, name, holder string, now time.Time, duration time.Duration) (bool, error) {
	res, err := d.conn.ExecContext(ctx,
		"UPDATE leases SET expires_at = ? WHERE name = ? AND holder = ? AND expires_at > ?",
		now.Add(duration).UnixNano(), name, holder, now.UnixNano())
	if err != nil {
		return false, fmt.Errorf("failed to extend lease %s: %w", name, err)
	}
	return affected(res)
}

// ReleaseLease drops the lease on name if holder owns it
func (d *DB) ReleaseLease(ctx context.Context, name, holder string) error {
	if _, err := d.conn.ExecContext(ctx, "DELETE FROM leases WHERE name = ? AND holder = ?", name, holder); err != nil {
		return fmt.Errorf("failed to release lease %s: %w", name, err)
	}
	return nil
}

// LeaseHolder returns the holder of an unexpired lease on name, or "" when
// nobody holds it at now
func (d *DB) LeaseHolder(ctx context.Context, name string, now time.Time) (string, error) {
	var holder string
	err := d.conn.QueryRowContext(ctx,
		"SELECT holder FROM leases WHERE name = ? AND expires_at > ?", name, now.UnixNano()).Scan(&holder)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read lease %s: %w", name, err)
	}
	return holder, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
