package models

import (
	"time"

	"github.com/google/uuid"
)

// RetentionClass governs how long a user's receipts are kept once the user
// goes inactive.
type RetentionClass string

const (
	RetentionFree RetentionClass = "free"
	RetentionPaid RetentionClass = "paid"
)

type User struct {
	ID           uuid.UUID      `json:"user_id" db:"user_id"`
	Email        string         `json:"email" db:"email"`
	Retention    RetentionClass `json:"retention_class" db:"retention_class"`
	QuotaLimit   int            `json:"quota_limit" db:"quota_limit"`
	QuotaUsed    int            `json:"quota_used" db:"quota_used"`
	LastActiveAt *time.Time     `json:"last_active_date,omitempty" db:"last_active_at"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
}

// QuotaRemaining is the number of uploads the user may still reserve.
func (u *User) QuotaRemaining() int {
	if r := u.QuotaLimit - u.QuotaUsed; r > 0 {
		return r
	}
	return 0
}
