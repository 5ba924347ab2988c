package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const strongSecret = "a-very-long-and-secure-jwt-secret-key-for-production"

// setEnvs is a helper that sets multiple env vars for the duration of the test.
func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	setEnvs(t, map[string]string{"ENVIRONMENT": "development"})

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8001, cfg.HTTPPort)
	assert.Equal(t, StoragePostgres, cfg.StorageDriver)
	assert.Equal(t, time.Hour, cfg.AccessTokenTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.RefreshTokenTTL)
	assert.Equal(t, 32, cfg.RefreshTokenBytes)
	assert.Equal(t, 12, cfg.BcryptCost)
	assert.Equal(t, time.Hour, cfg.TokenSweepInterval)
	assert.Equal(t, "meeting-auth", cfg.JWTIssuer)
	assert.Equal(t, 200*time.Millisecond, cfg.SlowQueryThreshold())
	assert.False(t, cfg.RedisEnabled)
	assert.False(t, cfg.KafkaEnabled)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
}

func TestLoad_Development_AcceptsDefaultSecret(t *testing.T) {
	setEnvs(t, map[string]string{
		"ENVIRONMENT": "development",
		"JWT_SECRET":  "change-this-to-a-secure-secret",
	})

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "change-this-to-a-secure-secret", cfg.JWTSecret)
}

func TestLoad_Production_RejectsDefaultSecret(t *testing.T) {
	for _, env := range []string{"production", "staging"} {
		t.Run(env, func(t *testing.T) {
			setEnvs(t, map[string]string{
				"ENVIRONMENT": env,
				"JWT_SECRET":  "change-this-to-a-secure-secret",
			})

			cfg, err := Load()

			assert.Nil(t, cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "JWT_SECRET must be explicitly set")
		})
	}
}

func TestLoad_Production_RejectsShortSecret(t *testing.T) {
	setEnvs(t, map[string]string{
		"ENVIRONMENT": "production",
		"JWT_SECRET":  "too-short",
	})

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 32 characters")
}

func TestLoad_Production_AcceptsStrongSecret(t *testing.T) {
	setEnvs(t, map[string]string{
		"ENVIRONMENT": "production",
		"JWT_SECRET":  strongSecret,
	})

	cfg, err := Load()

	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}

func TestLoad_Overrides(t *testing.T) {
	setEnvs(t, map[string]string{
		"ENVIRONMENT":          "development",
		"AUTH_HTTP_PORT":       "9090",
		"STORAGE_DRIVER":       "memory",
		"ACCESS_TOKEN_TTL":     "15m",
		"REFRESH_TOKEN_TTL":    "72h",
		"REFRESH_TOKEN_BYTES":  "48",
		"BCRYPT_COST":          "10",
		"KAFKA_BROKERS":        "k1:9092,k2:9092",
		"CORS_ALLOWED_ORIGINS": "https://a.example,https://b.example",
		"TOKEN_SWEEP_INTERVAL": "0s",
	})

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, StorageMemory, cfg.StorageDriver)
	assert.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 72*time.Hour, cfg.RefreshTokenTTL)
	assert.Equal(t, 48, cfg.RefreshTokenBytes)
	assert.Equal(t, 10, cfg.BcryptCost)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, time.Duration(0), cfg.TokenSweepInterval)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"port":           {"AUTH_HTTP_PORT": "70000"},
		"storage driver": {"STORAGE_DRIVER": "mongo"},
		"access ttl":     {"ACCESS_TOKEN_TTL": "0s"},
		"refresh ttl":    {"REFRESH_TOKEN_TTL": "-1h"},
		"refresh bytes":  {"REFRESH_TOKEN_BYTES": "16"},
		"bcrypt low":     {"BCRYPT_COST": "3"},
		"bcrypt high":    {"BCRYPT_COST": "32"},
		"rate limit":     {"RATE_LIMIT_REQUESTS": "-1"},
		"rate window":    {"RATE_LIMIT_WINDOW": "0s"},
		"trusted proxy":  {"TRUSTED_PROXIES": "10.0.0.0/40"},
		"sample rate":    {"OTEL_SAMPLE_RATE": "1.5"},
	}
	for name, envs := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("ENVIRONMENT", "development")
			setEnvs(t, envs)

			cfg, err := Load()
			assert.Nil(t, cfg)
			assert.Error(t, err)
		})
	}
}

func TestLoad_RateLimitDisabledAndTrustedProxies(t *testing.T) {
	setEnvs(t, map[string]string{
		"ENVIRONMENT":         "development",
		"RATE_LIMIT_REQUESTS": "0",
		"RATE_LIMIT_WINDOW":   "0s",
		"TRUSTED_PROXIES":     "10.0.0.0/8,192.0.2.10",
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.RateLimitRequests)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.10"}, cfg.TrustedProxies)
}

func TestConfig_Postgres(t *testing.T) {
	cfg := &Config{
		PostgresHost: "db",
		PostgresPort: 5433,
		PostgresUser: "u",
		PostgresPass: "p",
		PostgresDB:   "auth",
		PostgresSSL:  "require",
		DBMaxConns:   7,
		DBMinConns:   1,
	}
	pg := cfg.Postgres()
	assert.Equal(t, "postgres://u:p@db:5433/auth?sslmode=require", pg.DSN())
	assert.Equal(t, int32(7), pg.MaxConns)
	assert.Equal(t, "db:6379", (&Config{RedisHost: "db", RedisPort: 6379}).Redis().Addr())
}
