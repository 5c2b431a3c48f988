package models

import "time"

// CMSUser is a directory entry for content-management staff. Unlike agent
// accounts these carry no credit balance, and the mobile number itself is
// the primary key.
type CMSUser struct {
	Mobile    string    `json:"mobile" db:"mobile"`
	Email     string    `json:"email" db:"email"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CMSUserCreate is the payload for adding a directory entry
type CMSUserCreate struct {
	Mobile string `json:"mobile" validate:"required,e164"`
	Email  string `json:"email" validate:"required,email"`
	Name   string `json:"name" validate:"required,min=1,max=200"`
}

// CMSUserUpdate carries partial updates; nil fields are left untouched
type CMSUserUpdate struct {
	Email *string `json:"email" validate:"omitempty,email"`
	Name  *string `json:"name" validate:"omitempty,min=1,max=200"`
}

// CMSUsersList is the paginated list envelope
type CMSUsersList struct {
	Users []CMSUser `json:"users"`
	Total int       `json:"total"`
}
