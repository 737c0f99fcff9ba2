// Package models defines the domain types shared by the repository,
// service and transport layers.
//
// JSON tags shape API responses and WebSocket payloads; persistence columns
// are mapped by hand in the repository package.
package models

import "time"

// User is a registered account as seen by the realtime core.
// Credentials are managed elsewhere and are never loaded here.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"-"`
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	AvatarURL *string   `json:"avatar_url"`
	Bio       *string   `json:"bio"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserSummary is the compact user view embedded in message events.
type UserSummary struct {
	ID        int64   `json:"id"`
	Username  string  `json:"username"`
	FullName  string  `json:"full_name"`
	AvatarURL *string `json:"avatar_url"`
}

// Summary returns the compact view of u.
func (u *User) Summary() *UserSummary {
	if u == nil {
		return nil
	}
	return &UserSummary{
		ID:        u.ID,
		Username:  u.Username,
		FullName:  u.FullName,
		AvatarURL: u.AvatarURL,
	}
}
