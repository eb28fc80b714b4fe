// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const (
	MaxUserIDLen      = 36
	MaxUsernameLen    = 36
	MaxDisplayNameLen = 40
)

var (
	ErrUserIDEmpty        = errors.New("user id empty")
	ErrUserIDTooLong      = errors.New("user id too long")
	ErrUsernameTooLong    = errors.New("username too long")
	ErrUsernameEmpty      = errors.New("username empty")
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrNotFound           = errors.New("not found")
)

type UserID string

// User is the persisted account. Credentials live outside the gateway.
type User struct {
	ID          UserID `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// NewUser trims and length-checks the fields of an account created from
// external claims.
func NewUser(id UserID, username, displayName string) (*User, error) {
	id = UserID(strings.TrimSpace(string(id)))
	username = strings.TrimSpace(username)
	displayName = strings.TrimSpace(displayName)
	switch {
	case id == "":
		return nil, ErrUserIDEmpty
	case len(id) > MaxUserIDLen:
		return nil, ErrUserIDTooLong
	case username == "":
		return nil, ErrUsernameEmpty
	case len(username) > MaxUsernameLen:
		return nil, ErrUsernameTooLong
	case len(displayName) > MaxDisplayNameLen:
		return nil, ErrDisplayNameTooLong
	}
	return &User{ID: id, Username: username, DisplayName: displayName}, nil
}

// Name falls back to the username when no display name was set.
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// Summary is the public view sent to other users.
func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.Name(),
		AvatarURL:   u.AvatarURL,
	}
}

type UserSummary struct {
	ID          UserID `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Identity is what the identity resolver hands to the gateway for a token.
type Identity struct {
	ID          UserID
	Username    string
	DisplayName string
	AvatarURL   string
}

func IdentityOf(u *User) *Identity {
	return &Identity{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.Name(),
		AvatarURL:   u.AvatarURL,
	}
}

func (i *Identity) Summary() UserSummary {
	return UserSummary{
		ID:          i.ID,
		Username:    i.Username,
		DisplayName: i.DisplayName,
		AvatarURL:   i.AvatarURL,
	}
}
