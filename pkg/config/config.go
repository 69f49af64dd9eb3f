package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBUrl         string
	RedisURL      string
	RedisPassword string
	JWTSecret     string
	Port          string
	Host          string
	Env           string

	AllowedOrigins []string

	// minimum recharge amount in minor units (paise)
	MinRechargeAmount int64

	// convenience fee charged on top of the recharge amount, in basis points
	ServiceChargeBps int64

	// webhook replay protection window
	WebhookTimeTolerance time.Duration

	// recharge job retry policy
	JobMaxAttempts int
	JobBackoffBase time.Duration
	JobBackoffCap  time.Duration

	ProviderHealthInterval time.Duration
}

func LoadConfig() Config {
	godotenv.Load()

	minAmountStr := getEnv("MIN_RECHARGE_AMOUNT")
	minAmount, err := strconv.ParseInt(minAmountStr, 10, 64)
	if err != nil {
		panic("MIN_RECHARGE_AMOUNT must be a valid integer (minor units)")
	}

	return Config{
		DBUrl:                  getEnv("DATABASE_URL"),
		RedisURL:               getEnv("REDIS_URL"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		JWTSecret:              getEnv("JWT_SECRET"),
		Port:                   getEnv("PORT"),
		Host:                   getEnv("HOST"),
		Env:                    getEnv("ENV"),
		AllowedOrigins:         strings.Split(getEnv("ALLOWED_ORIGINS"), ","),
		MinRechargeAmount:      minAmount,
		ServiceChargeBps:       int64(getEnvInt("SERVICE_CHARGE_BPS", 0)),
		WebhookTimeTolerance:   getEnvDuration("WEBHOOK_TIME_TOLERANCE_SEC", 300) * time.Second,
		JobMaxAttempts:         getEnvInt("JOB_MAX_ATTEMPTS", 5),
		JobBackoffBase:         getEnvDuration("JOB_BACKOFF_BASE_MS", 2000) * time.Millisecond,
		JobBackoffCap:          getEnvDuration("JOB_BACKOFF_CAP_MS", 60000) * time.Millisecond,
		ProviderHealthInterval: getEnvDuration("PROVIDER_HEALTH_INTERVAL_SEC", 60) * time.Second,
	}
}

// IsProduction reports whether the process runs with production semantics.
// Webhook signature verification must never degrade when this is true.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// ProviderSecret returns the webhook secret for a provider key, empty if
// unconfigured. The key maps to PROVIDER_SECRET_<KEY> with the key uppercased
// and non-alphanumerics folded to underscores, so "sandbox" reads
// PROVIDER_SECRET_SANDBOX.
func ProviderSecret(providerKey string) string {
	name := "PROVIDER_SECRET_" + envSuffix(providerKey)
	return os.Getenv(name)
}

func envSuffix(key string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(key) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func getEnv(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	panic(fmt.Sprintf("%s is required", key))
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		panic(fmt.Sprintf("%s must be a valid integer", key))
	}
	return fallback
}

func getEnvDuration(key string, fallback int64) time.Duration {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return time.Duration(n)
		}
		panic(fmt.Sprintf("%s must be a valid integer", key))
	}
	return time.Duration(fallback)
}
