package models

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// NullString wraps sql.NullString to provide proper JSON marshaling
type NullString struct {
	sql.NullString
}

// MarshalJSON implements json.Marshaler
func (ns NullString) MarshalJSON() ([]byte, error) {
	if ns.Valid {
		return json.Marshal(ns.String)
	}
	return json.Marshal(nil)
}

// UnmarshalJSON implements json.Unmarshaler
func (ns *NullString) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	ns.Valid = s != nil
	if s != nil {
		ns.String = *s
	}
	return nil
}

// Permission names a capability granted through a role
type Permission string

const (
	PermissionViewSales      Permission = "VIEW_SALES"
	PermissionBookTicket     Permission = "BOOK_TICKET"
	PermissionCancelTicket   Permission = "CANCEL_TICKET"
	PermissionManageTrips    Permission = "MANAGE_TRIPS"
	PermissionManageSettings Permission = "MANAGE_SETTINGS"
)

// AllPermissions lists every permission known to the system
var AllPermissions = []Permission{
	PermissionViewSales,
	PermissionBookTicket,
	PermissionCancelTicket,
	PermissionManageTrips,
	PermissionManageSettings,
}

// Role groups permissions under a name
type Role struct {
	Name        string         `json:"name" db:"name"`
	Permissions pq.StringArray `json:"permissions" db:"permissions"`
}

// User is a staff account of the ticket office
type User struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	Username     string     `json:"username" db:"username"`
	PasswordHash string     `json:"-" db:"password_hash"`
	FullName     NullString `json:"fullName,omitempty" db:"full_name"`
	Role         string     `json:"role" db:"role"`
	Status       string     `json:"status" db:"status"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty" db:"last_login_at"`
	CreatedAt    time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time  `json:"updatedAt" db:"updated_at"`
}

// IsActive reports whether the account may log in
func (u *User) IsActive() bool {
	return u.Status == "active"
}

// LoginRequest represents the staff login payload
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse carries the issued token and the resolved permissions
type LoginResponse struct {
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	ExpiresAt    time.Time    `json:"expiresAt"`
	User         *User        `json:"user"`
	Permissions  []Permission `json:"permissions"`
}

// RefreshTokenRequest exchanges a refresh token for a new access token
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}
