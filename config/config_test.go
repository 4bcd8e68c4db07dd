package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("JWT_SECRET", "  s3cret ")

	cfg := LoadConfig()

	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "vignan.ac.in", cfg.Auth.InstitutionEmailDomain)
	assert.Equal(t, StorageBackendNone, cfg.Storage.Backend)
	assert.Equal(t, MQBackendNone, cfg.MQ.Backend)
	assert.Equal(t, "achievement-events", cfg.MQ.EventsChannel)
	assert.Equal(t, 5, cfg.MQ.MaxAttempts)
	assert.False(t, cfg.Database.UseSSL)
	assert.Zero(t, cfg.Database.MaxOpenConns)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("PUBLIC_BASE_URL", "https://certs.example.edu/")
	t.Setenv("DB_USE_SSL", "true")
	t.Setenv("JWT_TTL", "90m")
	t.Setenv("INSTITUTION_EMAIL_DOMAIN", "Example.EDU")
	t.Setenv("STORAGE_BACKEND", "MinIO")
	t.Setenv("MQ_BACKEND", "rabbitmq")
	t.Setenv("RABBITMQ_PREFETCH_COUNT", "3")
	t.Setenv("MQ_MAX_ATTEMPTS", "8")
	t.Setenv("DB_MAX_OPEN_CONNS", "40")

	cfg := LoadConfig()

	assert.Equal(t, 9090, cfg.ServerPort)
	assert.Equal(t, "https://certs.example.edu", cfg.PublicBaseURL)
	assert.True(t, cfg.Database.UseSSL)
	assert.Equal(t, 90*time.Minute, cfg.Auth.TokenTTL)
	assert.Equal(t, "example.edu", cfg.Auth.InstitutionEmailDomain)
	assert.Equal(t, StorageBackendMinio, cfg.Storage.Backend)
	assert.Equal(t, MQBackendRabbitMQ, cfg.MQ.Backend)
	assert.Equal(t, 3, cfg.MQ.RabbitMQ.PrefetchCount)
	assert.Equal(t, 8, cfg.MQ.MaxAttempts)
	assert.Equal(t, 40, cfg.Database.MaxOpenConns)
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("JWT_TTL", "forever")
	t.Setenv("DB_USE_SSL", "maybe")

	cfg := LoadConfig()

	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.False(t, cfg.Database.UseSSL)
}
