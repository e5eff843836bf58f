package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable the server reads.
const EnvPrefix = "PAYKEEPER_"

// envFiles are overlaid onto the process environment when present.
var envFiles = []string{".env", ".env.local"}

func loadEnvFiles() {
	for _, file := range envFiles {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		_ = godotenv.Overload(file)
	}
}

// parseEnv overlays PAYKEEPER_* variables onto config. Unset or empty
// variables leave the current value untouched; unparsable numbers and
// durations panic like malformed flags do.
func parseEnv(config *Config) {
	loadEnvFiles()

	strs := map[string]*string{
		"ENV":                 &config.Environment,
		"LOG_LEVEL":           &config.LogLevel,
		"HTTP_ADDR":           &config.HTTPAddr,
		"GRPC_ADDR":           &config.GRPCAddr,
		"DATABASE_DSN":        &config.DatabaseDSN,
		"SECRET_KEY":          &config.SecretKey,
		"STATE_SECRET":        &config.StateSecret,
		"PUBLIC_BASE_URL":     &config.PublicBaseURL,
		"APP_URL":             &config.AppURL,
		"OAUTH_CLIENT_ID":     &config.OAuthClientID,
		"OAUTH_CLIENT_SECRET": &config.OAuthClientSecret,
		"OAUTH_REDIRECT_URL":  &config.OAuthRedirectURL,
		"SMTP_HOST":           &config.SMTPHost,
		"SMTP_USER":           &config.SMTPUser,
		"SMTP_PASSWORD":       &config.SMTPPassword,
		"SMTP_FROM":           &config.SMTPFrom,
		"REDIS_ADDR":          &config.RedisAddr,
		"BROKER_URL":          &config.BrokerURL,
		"BROKER_API_KEY":      &config.BrokerAPIKey,
		"JOBS_URL":            &config.JobsURL,
		"JOBS_API_KEY":        &config.JobsAPIKey,
		"S3_ROOT_USER":        &config.S3RootUser,
		"S3_ROOT_PASSWORD":    &config.S3RootPassword,
		"S3_BUCKET":           &config.S3Bucket,
		"S3_REGION":           &config.S3Region,
		"S3_BASE_ENDPOINT":    &config.S3BaseEndpoint,
	}
	for name, dst := range strs {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"SESSION_TOKEN_VALIDITY":     &config.SessionTokenValidity,
		"FEDERATED_SESSION_VALIDITY": &config.FederatedSessionValidity,
		"OTP_VALIDITY":               &config.OTPValidity,
		"OTP_PURGE_INTERVAL":         &config.OTPPurgeInterval,
		"PAYMENT_LINK_TTL":           &config.PaymentLinkTTL,
		"PAYMENT_REQUEST_TTL":        &config.PaymentRequestTTL,
		"CACHE_TTL":                  &config.CacheTTL,
		"CACHE_SWEEP_INTERVAL":       &config.CacheSweepInterval,
	}
	for name, dst := range durations {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				panic(err)
			}
			*dst = d
		}
	}

	if v := os.Getenv(EnvPrefix + "SMTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			panic(err)
		}
		config.SMTPPort = port
	}
}
