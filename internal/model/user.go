package model

import (
	"strings"
	"time"
)

type UserRole string

const (
	UserRolePatient    UserRole = "patient"
	UserRoleCaregiver  UserRole = "caregiver"
	UserRoleAdmin      UserRole = "admin"
	UserRoleSuperAdmin UserRole = "super_admin"
)

type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusInactive  UserStatus = "inactive"
	UserStatusSuspended UserStatus = "suspended"
	UserStatusDeleted   UserStatus = "deleted"
)

// User принадлежит внешнему сервису пользователей; чат только читает его.
type User struct {
	ID           string     `json:"id"`
	FirstName    string     `json:"firstName"`
	LastName     string     `json:"lastName"`
	Role         UserRole   `json:"role"`
	Status       UserStatus `json:"status"`
	PasswordHash string     `json:"-"`
	CreatedAt    time.Time  `json:"createdAt"`
}

func (u *User) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

type UserPublic struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	Role        UserRole `json:"role"`
}

func (u *User) ToPublic() UserPublic {
	return UserPublic{ID: u.ID, DisplayName: u.DisplayName(), Role: u.Role}
}

// Presence: онлайн-статус пользователя из хранилища присутствия.
type Presence struct {
	UserID   string     `json:"userId"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}
