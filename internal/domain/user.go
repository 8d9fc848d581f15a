// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const (
	MaxUserIDLen    = 64
	MaxUsernameLen  = 64
	MaxAvatarRefLen = 512
)

var (
	ErrUserIDEmpty     = errors.New("user id empty")
	ErrUserIDTooLong   = errors.New("user id too long")
	ErrUsernameTooLong = errors.New("username too long")
	ErrAvatarTooLong   = errors.New("avatar reference too long")
)

type UserID string

func ParseUserID(raw string) (UserID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrUserIDEmpty
	}
	if len(raw) > MaxUserIDLen {
		return "", ErrUserIDTooLong
	}
	return UserID(raw), nil
}

// Profile is the display info a user announces with its presence.
type Profile struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

func (p Profile) Validate() error {
	if len(p.Name) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	if len(p.Avatar) > MaxAvatarRefLen {
		return ErrAvatarTooLong
	}
	return nil
}

// User is a roster row: identity plus the last announced profile.
type User struct {
	ID      UserID  `json:"userId"`
	Profile Profile `json:"profile"`
}
