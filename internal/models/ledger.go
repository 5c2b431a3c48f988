package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ledger event types
const (
	EventAgentCredit            = "agent_credit"
	EventConsumableApplication  = "consumable_application"
	EventPurchasableApplication = "purchasable_application"
	EventRefund                 = "refund"
	EventAgentCreated           = "agent_created"
	EventAgentUpdated           = "agent_updated"
	EventAgentDeleted           = "agent_deleted"
)

// LedgerEntry is an immutable record of one balance change. The invariant
// NewBalance == PreviousBalance + Amount holds for every row, and each
// entry's PreviousBalance equals the prior entry's NewBalance per account.
type LedgerEntry struct {
	ID              string          `json:"id" db:"id"`
	AccountID       string          `json:"account_id" db:"account_id"`
	Amount          decimal.Decimal `json:"amount" db:"amount"`
	PreviousBalance decimal.Decimal `json:"previous_balance" db:"previous_balance"`
	NewBalance      decimal.Decimal `json:"new_balance" db:"new_balance"`
	EventType       string          `json:"event_type" db:"event_type"`
	Description     string          `json:"description,omitempty" db:"description"`
	CreatedBy       string          `json:"created_by,omitempty" db:"created_by"`
	IdempotencyKey  string          `json:"-" db:"idempotency_key"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// CreditEventCreate is the body of POST /accounts/{mobile}/credit
type CreditEventCreate struct {
	Amount      decimal.Decimal `json:"amount"`
	EventType   string          `json:"event_type" validate:"omitempty,oneof=agent_credit consumable_application purchasable_application refund"`
	Description string          `json:"description" validate:"max=500"`
}

// CreditEventsList is the paginated history envelope
type CreditEventsList struct {
	Events []LedgerEntry `json:"events"`
	Total  int           `json:"total"`
}
