package models

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
)

// User is an account together with the refresh tokens it owns. The token
// slice is the authoritative history; entries are appended or mutated in
// place, never removed.
type User struct {
	ID            int64          `json:"id"`
	Username      string         `json:"username"`
	PasswordHash  string         `json:"-"`
	FirstName     string         `json:"firstName"`
	LastName      string         `json:"lastName"`
	CreatedAt     time.Time      `json:"-"`
	RefreshTokens []RefreshToken `json:"-"`
}

// FindRefreshToken returns a pointer into u.RefreshTokens so callers can
// mutate the entry in place, or nil when the user does not own token.
func (u *User) FindRefreshToken(token string) *RefreshToken {
	for i := range u.RefreshTokens {
		if u.RefreshTokens[i].Token == token {
			return &u.RefreshTokens[i]
		}
	}
	return nil
}

// AddRefreshToken appends rt to the user's collection.
func (u *User) AddRefreshToken(rt RefreshToken) error {
	if u.FindRefreshToken(rt.Token) != nil {
		return fmt.Errorf("refresh token: %w", common.ErrorAlreadyExists)
	}
	u.RefreshTokens = append(u.RefreshTokens, rt)
	return nil
}

// ActiveRefreshTokens returns copies of the tokens active at now.
func (u *User) ActiveRefreshTokens(now time.Time) []RefreshToken {
	var out []RefreshToken
	for _, rt := range u.RefreshTokens {
		if rt.IsActive(now) {
			out = append(out, rt)
		}
	}
	return out
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	c := *u
	if u.RefreshTokens != nil {
		c.RefreshTokens = make([]RefreshToken, len(u.RefreshTokens))
		for i, rt := range u.RefreshTokens {
			c.RefreshTokens[i] = rt.Clone()
		}
	}
	return &c
}
