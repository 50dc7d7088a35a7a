package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is owned by exactly one user and unique per (tenant_id, account_id).
// Balance is mutated only by the ledger engine inside a database transaction;
// the non-negativity invariant is enforced by the conditional update there,
// not by the type.
type Account struct {
	TenantID   string          `json:"tenant_id" db:"tenant_id"`
	AccountID  string          `json:"account_id" db:"account_id"`
	UserID     string          `json:"user_id" db:"user_id"`
	Balance    decimal.Decimal `json:"balance" db:"balance"`
	IsDisabled bool            `json:"is_disabled" db:"is_disabled"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}

type User struct {
	UserID   string `json:"user_id" db:"user_id"`
	UserName string `json:"user_name" db:"user_name"`
	Email    string `json:"email" db:"email"`
	TenantID string `json:"tenant_id" db:"tenant_id"`
}
