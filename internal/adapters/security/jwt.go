package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/viralforge/referral-platform/internal/ports"
)

const sessionIssuer = "referral-platform"

// JWTSigner signs and verifies RS256 partner session tokens.
type JWTSigner struct {
	kid        string
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	now        func() time.Time
}

type SignerOption func(*JWTSigner)

// WithClock sets the time source used to check token expiry. It should match the
// clock that stamps IssuedAt and ExpiresAt.
func WithClock(now func() time.Time) SignerOption {
	return func(s *JWTSigner) {
		if now != nil {
			s.now = now
		}
	}
}

func newSigner(kid string, priv *rsa.PrivateKey, pub *rsa.PublicKey, opts []SignerOption) *JWTSigner {
	s := &JWTSigner{kid: kid, privateKey: priv, publicKey: pub, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewJWTSigner builds a signer from configured PEM keys.
func NewJWTSigner(kid, privateKeyPEM, publicKeyPEM string, opts ...SignerOption) (*JWTSigner, error) {
	if kid == "" {
		return nil, errors.New("jwt key id (kid) is required")
	}
	if privateKeyPEM == "" || publicKeyPEM == "" {
		return nil, errors.New("jwt private/public keys are required")
	}

	priv, err := parseRSAPrivate(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	pub, err := parseRSAPublic(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return newSigner(kid, priv, pub, opts), nil
}

// NewEphemeralJWTSigner creates an in-memory keypair for local runs. Sessions do not
// survive a restart.
func NewEphemeralJWTSigner(kid string, opts ...SignerOption) (*JWTSigner, error) {
	if kid == "" {
		kid = "ephemeral-key-1"
	}
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	return newSigner(kid, privateKey, &privateKey.PublicKey, opts), nil
}

type sessionJWTClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

func (s *JWTSigner) Sign(claims ports.SessionClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, sessionJWTClaims{
		Email: claims.Email,
		Role:  claims.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   claims.PartnerID,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	})
	token.Header["kid"] = s.kid
	return token.SignedString(s.privateKey)
}

func (s *JWTSigner) ParseAndValidate(raw string) (ports.SessionClaims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &sessionJWTClaims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
		}
		return s.publicKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30*time.Second),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return ports.SessionClaims{}, err
	}
	claims, ok := parsed.Claims.(*sessionJWTClaims)
	if !ok || !parsed.Valid {
		return ports.SessionClaims{}, errors.New("invalid token claims")
	}
	if claims.Subject == "" {
		return ports.SessionClaims{}, errors.New("token has no subject")
	}

	kid, _ := parsed.Header["kid"].(string)
	out := ports.SessionClaims{
		PartnerID: claims.Subject,
		Email:     claims.Email,
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
		KeyID:     kid,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	return out, nil
}

// PublicJWKs exposes the verification key so sibling services can check sessions.
func (s *JWTSigner) PublicJWKs() []map[string]any {
	e := big.NewInt(int64(s.publicKey.E)).Bytes()
	n := s.publicKey.N.Bytes()
	return []map[string]any{
		{
			"kid": s.kid,
			"kty": "RSA",
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(n),
			"e":   base64.RawURLEncoding.EncodeToString(e),
		},
	}
}

func parseRSAPrivate(raw string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, errors.New("invalid private PEM")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	keyAny, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := keyAny.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return key, nil
}

func parseRSAPublic(raw string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, errors.New("invalid public PEM")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	keyAny, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := keyAny.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return key, nil
}
