package models

import "time"

// AdminUser is a dashboard operator. Operators authenticate with a bearer
// token; their id flows into created_by on ledger entries and events.
type AdminUser struct {
	ID        string     `json:"id" example:"4f2d9c7e-0b1a-4c3d-9e8f-6a5b4c3d2e1f"` // Operator ID
	Username  string     `json:"username" example:"admin"`                          // Login name
	Email     string     `json:"email" example:"admin@example.com"`                 // Operator email
	IsActive  bool       `json:"is_active"`
	LastLogin *time.Time `json:"last_login,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
