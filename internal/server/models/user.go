package models

import "time"

// Role is the caller's role as asserted by the bearer token.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

type User struct {
	ID        string
	Name      string
	Email     string
	Role      Role
	CreatedAt time.Time
}

// Ref returns the compact form embedded in records and versions.
func (u *User) Ref() *UserRef {
	if u == nil {
		return nil
	}
	return &UserRef{ID: u.ID, Name: u.Name}
}

// UserRef identifies a related user in API payloads.
type UserRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}
