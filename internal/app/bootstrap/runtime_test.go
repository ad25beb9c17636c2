package bootstrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/viralforge/referral-platform/internal/application"
	"github.com/viralforge/referral-platform/internal/domain"
)

func memoryConfig(t *testing.T) Config {
	t.Helper()
	t.Setenv("STORAGE_DRIVER", "memory")
	cfg, err := LoadConfig("does-not-exist.yaml")
	require.NoError(t, err)
	cfg.BcryptCost = bcrypt.MinCost
	return cfg
}

func TestRuntimeWithMemoryStorage(t *testing.T) {
	r, err := NewRuntimeFromConfig(context.Background(), memoryConfig(t))
	require.NoError(t, err)
	t.Cleanup(r.Close)

	require.NoError(t, r.Ready(context.Background()))

	router := r.Router()
	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/partner/v1/.well-known/jwks.json"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	partner, err := r.Service().CreatePartner(context.Background(), application.CreatePartnerInput{
		Email:    "ops@example.com",
		Password: "s3cret-pass",
		Role:     string(domain.RoleAdmin),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, partner.Role)
}

func TestRuntimeUsesRedisWhenConfigured(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig(t)
	cfg.RedisURL = mr.Addr()

	r, err := NewRuntimeFromConfig(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	require.NoError(t, r.Ready(context.Background()))

	mr.Close()
	assert.Error(t, r.Ready(context.Background()))
}

func TestRuntimeFailsOnUnreachableRedis(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.RedisURL = "127.0.0.1:1"

	_, err := NewRuntimeFromConfig(context.Background(), cfg)
	assert.ErrorContains(t, err, "connect redis")
}
