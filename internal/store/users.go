package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/receiptsearch/internal/models"
)

// ErrQuotaExceeded is returned when a reservation would push quota_used past
// quota_limit. The reservation has no side effects in that case.
var ErrQuotaExceeded = errors.New("quota exceeded")

// UserStore holds user records and their upload quota counters. Quota moves
// through single-row conditional writes only.
type UserStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.User, error)
	// ReserveQuota atomically increments quota_used when it is below
	// quota_limit, returning ErrQuotaExceeded otherwise.
	ReserveQuota(ctx context.Context, id uuid.UUID) error
	// ReleaseQuota decrements quota_used, never below zero.
	ReleaseQuota(ctx context.Context, id uuid.UUID) error
	// ResetQuota zeroes quota_used after a retention wipe.
	ResetQuota(ctx context.Context, id uuid.UUID) error
	TouchLastActive(ctx context.Context, id uuid.UUID) error
	// ListInactiveFree returns free-class users with no activity since the
	// cutoff. Users who never acted are judged by creation time.
	ListInactiveFree(ctx context.Context, cutoff time.Time, limit int) ([]models.User, error)
}

type userStore struct {
	db *pgxpool.Pool
}

func NewUserStore(db *pgxpool.Pool) UserStore {
	return &userStore{db: db}
}

const userColumns = `user_id, email, retention_class, quota_limit, quota_used, last_active_at, created_at`

func (s *userStore) Get(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := s.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE user_id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.Retention, &u.QuotaLimit, &u.QuotaUsed, &u.LastActiveAt, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *userStore) ReserveQuota(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE users SET quota_used = quota_used + 1
		 WHERE user_id = $1 AND quota_used < quota_limit`,
		id,
	)
	if err != nil {
		return fmt.Errorf("reserve quota: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing user from an exhausted quota.
		if _, gerr := s.Get(ctx, id); gerr != nil {
			return gerr
		}
		return ErrQuotaExceeded
	}
	return nil
}

func (s *userStore) ReleaseQuota(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx,
		`UPDATE users SET quota_used = quota_used - 1
		 WHERE user_id = $1 AND quota_used > 0`,
		id,
	)
	if err != nil {
		return fmt.Errorf("release quota: %w", err)
	}
	return nil
}

func (s *userStore) ResetQuota(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `UPDATE users SET quota_used = 0 WHERE user_id = $1`, id)
	if err != nil {
		return fmt.Errorf("reset quota: %w", err)
	}
	return nil
}

func (s *userStore) TouchLastActive(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `UPDATE users SET last_active_at = now() WHERE user_id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch last active: %w", err)
	}
	return nil
}

func (s *userStore) ListInactiveFree(ctx context.Context, cutoff time.Time, limit int) ([]models.User, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE retention_class = $1 AND COALESCE(last_active_at, created_at) < $2
		 ORDER BY last_active_at ASC NULLS FIRST LIMIT $3`,
		models.RetentionFree, cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list inactive free users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Retention, &u.QuotaLimit, &u.QuotaUsed, &u.LastActiveAt, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
