package domain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const (
	RolePartner = "PARTNER"
	RoleAdmin   = "ADMIN"
)

type AppStatus string

const (
	AppStatusActive    AppStatus = "ACTIVE"
	AppStatusSuspended AppStatus = "SUSPENDED"
)

const (
	apiKeyPrefix       = "rk_live_"
	apiKeyDisplayChars = 12
)

type Partner struct {
	PartnerID    string
	Email        string
	DisplayName  string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

func (p Partner) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// App is the tenant credential holder. The raw API key is never stored.
type App struct {
	AppID        string
	PartnerID    string
	Name         string
	APIKeyHash   string
	APIKeyPrefix string
	UsageCount   int64
	MonthlyLimit int64
	Status       AppStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (a App) IsActive() bool {
	return a.Status == AppStatusActive
}

func NormalizeAppStatus(raw string) (AppStatus, error) {
	switch AppStatus(strings.ToUpper(strings.TrimSpace(raw))) {
	case AppStatusActive:
		return AppStatusActive, nil
	case AppStatusSuspended:
		return AppStatusSuspended, nil
	default:
		return "", fmt.Errorf("%w: unsupported app status %q", ErrInvalidInput, raw)
	}
}

func NormalizeRole(raw string) (string, error) {
	role := strings.ToUpper(strings.TrimSpace(raw))
	switch role {
	case "":
		return RolePartner, nil
	case RolePartner, RoleAdmin:
		return role, nil
	default:
		return "", fmt.Errorf("%w: unsupported role %q", ErrInvalidInput, raw)
	}
}

// GenerateAPIKey returns a new raw key together with its storage hash and display prefix.
func GenerateAPIKey() (raw, hash, prefix string, err error) {
	buf := make([]byte, 24)
	if _, err = rand.Read(buf); err != nil {
		return "", "", "", fmt.Errorf("generate api key: %w", err)
	}
	raw = apiKeyPrefix + hex.EncodeToString(buf)
	return raw, HashAPIKey(raw), raw[:apiKeyDisplayChars], nil
}

func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}

func LooksLikeAPIKey(raw string) bool {
	return strings.HasPrefix(strings.TrimSpace(raw), apiKeyPrefix)
}
