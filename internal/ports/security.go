package ports

import "time"

type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// SessionClaims is the adapter-neutral partner session payload.
type SessionClaims struct {
	PartnerID string
	Email     string
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
	KeyID     string
}

type TokenSigner interface {
	Sign(claims SessionClaims) (string, error)
	ParseAndValidate(raw string) (SessionClaims, error)
}
