package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setMinimalEnv(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("MP_ACCESS_TOKEN", "TEST-token")
}

func TestNew_Defaults(t *testing.T) {
	setMinimalEnv(t)

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "http://localhost:8080", cfg.Server.PublicURL)
	assert.True(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Kafka.Enabled())
	assert.False(t, cfg.Admin.Enabled())
	assert.Equal(t, 30*time.Minute, cfg.Raffle.PendingTTL)
	assert.Equal(t, 10000, cfg.Raffle.Definition.PoolSize)
	assert.Equal(t, "1500", cfg.Raffle.Definition.UnitPrice.String())
}

func TestNew_Overrides(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("PUBLIC_BACKEND_URL", "https://api.example.com/")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("REDIS_ENABLED", "false")
	t.Setenv("RAFFLE_PENDING_TTL", "10m")
	t.Setenv("ADMIN_USER", "root")
	t.Setenv("ADMIN_PASSWORD", "pw")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "https://api.example.com", cfg.Server.PublicURL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 10*time.Minute, cfg.Raffle.PendingTTL)
	assert.True(t, cfg.Admin.Enabled())
}

func TestNew_Errors(t *testing.T) {
	t.Run("missing token", func(t *testing.T) {
		t.Setenv("STORAGE_DRIVER", "memory")
		t.Setenv("MP_ACCESS_TOKEN", "")
		_, err := New()
		assert.ErrorContains(t, err, "MP_ACCESS_TOKEN")
	})

	t.Run("bad port", func(t *testing.T) {
		setMinimalEnv(t)
		t.Setenv("SERVER_PORT", "http")
		_, err := New()
		assert.ErrorContains(t, err, "SERVER_PORT")
	})

	t.Run("bad driver", func(t *testing.T) {
		setMinimalEnv(t)
		t.Setenv("STORAGE_DRIVER", "mongo")
		_, err := New()
		assert.ErrorContains(t, err, "STORAGE_DRIVER")
	})

	t.Run("postgres requires credentials", func(t *testing.T) {
		setMinimalEnv(t)
		t.Setenv("STORAGE_DRIVER", "postgres")
		t.Setenv("POSTGRES_USER", "")
		_, err := New()
		assert.ErrorContains(t, err, "POSTGRES_USER")
	})
}

func TestPostgresDSN(t *testing.T) {
	c := PostgresConfig{User: "app", Password: "p@ss", Name: "raffle", Host: "db", Port: 5432, SSLMode: "disable"}
	assert.Equal(t, "postgres://app:p%40ss@db:5432/raffle?sslmode=disable", c.DSN())
}

func TestLoadRaffle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raffle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
title: Bici
unit_price: "2500.50"
pool_size: 100
number_width: 2
`), 0o600))

	r, err := LoadRaffle(path)
	require.NoError(t, err)
	assert.Equal(t, "Bici", r.Title)
	assert.Equal(t, "2500.5", r.UnitPrice.String())
	assert.Equal(t, "ARS", r.Currency)
	assert.Equal(t, "07", r.FormatNumber(7))
}

func TestLoadRaffle_Invalid(t *testing.T) {
	dir := t.TempDir()

	tooBig := filepath.Join(dir, "big.yaml")
	require.NoError(t, os.WriteFile(tooBig, []byte("pool_size: 1000\nnumber_width: 2\n"), 0o600))
	_, err := LoadRaffle(tooBig)
	assert.Error(t, err)

	badPrice := filepath.Join(dir, "price.yaml")
	require.NoError(t, os.WriteFile(badPrice, []byte(`unit_price: "abc"`), 0o600))
	_, err = LoadRaffle(badPrice)
	assert.Error(t, err)

	_, err = LoadRaffle(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
