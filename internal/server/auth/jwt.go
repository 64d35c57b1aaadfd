// Package auth holds the stateless credential primitives used by the user
// service: access token signing, refresh token generation and password
// hashing.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the standard registered claims plus the user id under "id".
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"id"`
}

// Signer issues and verifies HS256 access tokens. It is safe for concurrent use.
type Signer struct {
	secret   []byte
	validity time.Duration
	now      func() time.Time
}

func NewSigner(secret []byte, validity time.Duration) *Signer {
	return &Signer{secret: secret, validity: validity, now: time.Now}
}

// SetClock replaces the time source used for issuing and expiry checks.
func (s *Signer) SetClock(now func() time.Time) {
	s.now = now
}

// Validity is the lifetime of tokens produced by Sign.
func (s *Signer) Validity() time.Duration {
	return s.validity
}

func (s *Signer) Sign(userID int64) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.validity)),
		},
		UserID: strconv.FormatInt(userID, 10),
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// Verify returns the user id carried by token. Expired tokens yield
// common.ErrTokenExpired, every other failure common.ErrInvalidToken.
func (s *Signer) Verify(token string) (int64, error) {
	claims := &Claims{}

	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, common.ErrTokenExpired
		}
		return 0, common.ErrInvalidToken
	}
	if !parsed.Valid {
		return 0, common.ErrInvalidToken
	}

	id, err := strconv.ParseInt(claims.UserID, 10, 64)
	if err != nil || id <= 0 {
		return 0, common.ErrInvalidToken
	}
	return id, nil
}
