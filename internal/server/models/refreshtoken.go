package models

import "time"

// RefreshToken is one link of a rotation chain. ReplacedByToken points at the
// successor issued when this token was redeemed. The token values are bearer
// secrets and never serialized.
type RefreshToken struct {
	ID              int64      `json:"-"`
	Token           string     `json:"-"`
	Created         time.Time  `json:"created"`
	CreatedByIP     string     `json:"createdByIp"`
	Expires         time.Time  `json:"expires"`
	Revoked         *time.Time `json:"revoked,omitempty"`
	RevokedByIP     string     `json:"revokedByIp,omitempty"`
	ReplacedByToken string     `json:"-"`
}

func (t RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.Expires)
}

func (t RefreshToken) IsRevoked() bool {
	return t.Revoked != nil
}

func (t RefreshToken) IsActive(now time.Time) bool {
	return !t.IsRevoked() && !t.IsExpired(now)
}

// Revoke marks the token revoked at now by ip. replacedBy is empty for a
// plain revocation and holds the successor's value for a rotation.
func (t *RefreshToken) Revoke(now time.Time, ip, replacedBy string) {
	ts := now
	t.Revoked = &ts
	t.RevokedByIP = ip
	t.ReplacedByToken = replacedBy
}

func (t RefreshToken) Clone() RefreshToken {
	if t.Revoked != nil {
		ts := *t.Revoked
		t.Revoked = &ts
	}
	return t
}
