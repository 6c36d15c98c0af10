package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultPostgresConfig(t *testing.T) {
	cfg := DefaultPostgresConfig()

	assert.Equal(t, int32(25), cfg.MaxConns)
	assert.Equal(t, int32(5), cfg.MinConns)
	assert.Equal(t, time.Hour, cfg.MaxConnLifetime)
}

func TestDefaultPostgresConfigEnvOverride(t *testing.T) {
	t.Setenv("DB_MAX_CONNS", "50")

	assert.Equal(t, int32(50), DefaultPostgresConfig().MaxConns)
}

func TestDefaultPostgresConfigBadEnvIgnored(t *testing.T) {
	t.Setenv("DB_MAX_CONNS", "lots")

	assert.Equal(t, int32(25), DefaultPostgresConfig().MaxConns)
}
