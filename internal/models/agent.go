package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AgentUser is a credit-bearing account keyed by mobile number. The credit
// column is a cached projection of the ledger; version guards balance writes.
type AgentUser struct {
	ID        string          `json:"id" db:"id"`
	Mobile    string          `json:"mobile" db:"mobile"`
	Name      string          `json:"name" db:"name"`
	Email     string          `json:"email" db:"email"`
	Credit    decimal.Decimal `json:"credit" db:"credit"`
	Version   int             `json:"-" db:"version"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// AgentUserCreate is the payload for registering a new agent account
type AgentUserCreate struct {
	Mobile string          `json:"mobile" validate:"required,e164"`
	Name   string          `json:"name" validate:"required,min=1,max=200"`
	Email  string          `json:"email" validate:"required,email"`
	Credit decimal.Decimal `json:"credit"`
}

// AgentUserUpdate carries partial updates; nil fields are left untouched.
// Mobile is immutable once set.
type AgentUserUpdate struct {
	Name  *string `json:"name" validate:"omitempty,min=1,max=200"`
	Email *string `json:"email" validate:"omitempty,email"`
}

// AgentUsersList is the paginated list envelope the dashboard expects
type AgentUsersList struct {
	Users []AgentUser `json:"users"`
	Total int         `json:"total"`
}
