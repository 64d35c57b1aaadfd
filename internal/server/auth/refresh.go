package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

// RefreshTokenBytes is the amount of entropy drawn for each refresh token.
const RefreshTokenBytes = 64

// RefreshTokenGenerator mints random refresh tokens. Uniqueness relies on the
// entropy of the source; the store's unique index is the only backstop.
type RefreshTokenGenerator struct {
	validity time.Duration
	random   io.Reader
	now      func() time.Time
}

func NewRefreshTokenGenerator(validity time.Duration) *RefreshTokenGenerator {
	return &RefreshTokenGenerator{validity: validity, random: rand.Reader, now: time.Now}
}

// SetClock replaces the time source used to stamp Created and Expires.
func (g *RefreshTokenGenerator) SetClock(now func() time.Time) {
	g.now = now
}

// Validity is the lifetime of generated tokens.
func (g *RefreshTokenGenerator) Validity() time.Duration {
	return g.validity
}

func (g *RefreshTokenGenerator) Generate(ip string) (*models.RefreshToken, error) {
	buf := make([]byte, RefreshTokenBytes)
	if _, err := io.ReadFull(g.random, buf); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}

	now := g.now().UTC()
	return &models.RefreshToken{
		Token:       base64.RawURLEncoding.EncodeToString(buf),
		Created:     now,
		CreatedByIP: ip,
		Expires:     now.Add(g.validity),
	}, nil
}
