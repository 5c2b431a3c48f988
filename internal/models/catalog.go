package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Consumable is a catalog item that debits a fixed cost when applied
type Consumable struct {
	ID        string          `json:"id" db:"id"`
	Name      string          `json:"name" db:"name"`
	Cost      decimal.Decimal `json:"cost" db:"cost"`
	MetaData  Metadata        `json:"meta_data" db:"meta_data"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Purchasable is a catalog item that credits a fixed amount when applied.
// Price is charged out of band and never touches the ledger.
type Purchasable struct {
	ID           string          `json:"id" db:"id"`
	Name         string          `json:"name" db:"name"`
	Price        decimal.Decimal `json:"price" db:"price"`
	CreditAmount decimal.Decimal `json:"credit_amount" db:"credit_amount"`
	MetaData     Metadata        `json:"meta_data" db:"meta_data"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// ConsumableCreate represents a new consumable definition
type ConsumableCreate struct {
	Name     string          `json:"name" validate:"required,min=1,max=200"`
	Cost     decimal.Decimal `json:"cost"`
	MetaData Metadata        `json:"meta_data"`
}

// ConsumableUpdate carries partial updates for a consumable
type ConsumableUpdate struct {
	Name     *string          `json:"name" validate:"omitempty,min=1,max=200"`
	Cost     *decimal.Decimal `json:"cost"`
	MetaData Metadata         `json:"meta_data"`
}

// PurchasableCreate represents a new purchasable definition
type PurchasableCreate struct {
	Name         string          `json:"name" validate:"required,min=1,max=200"`
	Price        decimal.Decimal `json:"price"`
	CreditAmount decimal.Decimal `json:"credit_amount"`
	MetaData     Metadata        `json:"meta_data"`
}

// PurchasableUpdate carries partial updates for a purchasable
type PurchasableUpdate struct {
	Name         *string          `json:"name" validate:"omitempty,min=1,max=200"`
	Price        *decimal.Decimal `json:"price"`
	CreditAmount *decimal.Decimal `json:"credit_amount"`
	MetaData     Metadata         `json:"meta_data"`
}

// ApplyRequest is the body of POST /consumables/{id}/apply and
// POST /purchasables/{id}/apply
type ApplyRequest struct {
	UserID      string `json:"user_id" validate:"required,uuid4"`
	Count       int    `json:"count" validate:"omitempty,min=1,max=1000"`
	Description string `json:"description" validate:"max=500"`
}

// ConsumablesList is the paginated list envelope
type ConsumablesList struct {
	Consumables []Consumable `json:"consumables"`
	Total       int          `json:"total"`
}

// PurchasablesList is the paginated list envelope
type PurchasablesList struct {
	Purchasables []Purchasable `json:"purchasables"`
	Total        int           `json:"total"`
}

// Metadata type for JSONB fields
type Metadata map[string]any

// Value implements driver.Valuer for Metadata
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for Metadata
func (m *Metadata) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(b, m)
}
