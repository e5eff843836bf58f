package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/paykeeper/internal/flagx"
	"github.com/dmitrijs2005/paykeeper/internal/timex"
)

// JsonConfig is the on-disk shape of the optional JSON config file.
// Duration fields accept "10m"-style strings or integer nanoseconds.
// Zero values leave the corresponding Config field untouched.
type JsonConfig struct {
	Environment string `json:"environment"`
	LogLevel    string `json:"log_level"`

	HTTPAddr    string `json:"http_addr"`
	GRPCAddr    string `json:"grpc_addr"`
	DatabaseDSN string `json:"database_dsn"`

	SecretKey                string         `json:"secret_key"`
	StateSecret              string         `json:"state_secret"`
	SessionTokenValidity     timex.Duration `json:"session_token_validity"`
	FederatedSessionValidity timex.Duration `json:"federated_session_validity"`
	OTPValidity              timex.Duration `json:"otp_validity"`
	OTPPurgeInterval         timex.Duration `json:"otp_purge_interval"`

	PaymentLinkTTL    timex.Duration `json:"payment_link_ttl"`
	PaymentRequestTTL timex.Duration `json:"payment_request_ttl"`
	PublicBaseURL     string         `json:"public_base_url"`
	AppURL            string         `json:"app_url"`

	OAuthClientID     string `json:"oauth_client_id"`
	OAuthClientSecret string `json:"oauth_client_secret"`
	OAuthRedirectURL  string `json:"oauth_redirect_url"`

	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPUser     string `json:"smtp_user"`
	SMTPPassword string `json:"smtp_password"`
	SMTPFrom     string `json:"smtp_from"`

	RedisAddr          string         `json:"redis_addr"`
	CacheTTL           timex.Duration `json:"cache_ttl"`
	CacheSweepInterval timex.Duration `json:"cache_sweep_interval"`

	BrokerURL    string `json:"broker_url"`
	BrokerAPIKey string `json:"broker_api_key"`
	JobsURL      string `json:"jobs_url"`
	JobsAPIKey   string `json:"jobs_api_key"`

	S3RootUser     string `json:"s3_root_user"`
	S3RootPassword string `json:"s3_root_password"`
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}

// parseJson loads the file named by -c/-config (or $PAYKEEPER_CONFIG) into
// config. If the file cannot be read or contains invalid JSON, it panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.ConfigFile()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.Environment, c.Environment)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.GRPCAddr, c.GRPCAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.StateSecret, c.StateSecret)
	setDuration(&config.SessionTokenValidity, c.SessionTokenValidity)
	setDuration(&config.FederatedSessionValidity, c.FederatedSessionValidity)
	setDuration(&config.OTPValidity, c.OTPValidity)
	setDuration(&config.OTPPurgeInterval, c.OTPPurgeInterval)
	setDuration(&config.PaymentLinkTTL, c.PaymentLinkTTL)
	setDuration(&config.PaymentRequestTTL, c.PaymentRequestTTL)
	setString(&config.PublicBaseURL, c.PublicBaseURL)
	setString(&config.AppURL, c.AppURL)
	setString(&config.OAuthClientID, c.OAuthClientID)
	setString(&config.OAuthClientSecret, c.OAuthClientSecret)
	setString(&config.OAuthRedirectURL, c.OAuthRedirectURL)
	setString(&config.SMTPHost, c.SMTPHost)
	if c.SMTPPort != 0 {
		config.SMTPPort = c.SMTPPort
	}
	setString(&config.SMTPUser, c.SMTPUser)
	setString(&config.SMTPPassword, c.SMTPPassword)
	setString(&config.SMTPFrom, c.SMTPFrom)
	setString(&config.RedisAddr, c.RedisAddr)
	setDuration(&config.CacheTTL, c.CacheTTL)
	setDuration(&config.CacheSweepInterval, c.CacheSweepInterval)
	setString(&config.BrokerURL, c.BrokerURL)
	setString(&config.BrokerAPIKey, c.BrokerAPIKey)
	setString(&config.JobsURL, c.JobsURL)
	setString(&config.JobsAPIKey, c.JobsAPIKey)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
}
