// Package config holds viper-backed runtime configuration for syncd's two
// reference binaries: the HTTP sync server (cmd/syncd-server) and the
// offline-first sync agent (cmd/syncd-agent).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "SYNCD"

const (
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "syncd.db"
	defaultLogLevel     = "info"
	defaultLogFormat    = "json"
	defaultTokenTTL     = 24 * time.Hour
	defaultTokenIssuer  = "syncd"
	defaultAudience     = "syncd-transport"

	defaultSyncIntervalSeconds  = 30
	defaultBatchSize            = 100
	defaultRetryAttempts        = 3
	defaultRetryDelayMS         = 1000
	defaultDebounceDelayMS      = 1000
	defaultPostOnlineSyncDelay  = 1000
	defaultAgentRequestTimeoutS = 30
)

// NewViper returns a viper instance with defaults and env bindings applied.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures env-var bindings and defaults shared by both binaries.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)

	configViper.SetDefault("auth.token_ttl_minutes", int(defaultTokenTTL.Minutes()))
	configViper.SetDefault("auth.issuer", defaultTokenIssuer)
	configViper.SetDefault("auth.audience", defaultAudience)
	configViper.SetDefault("auth.require_bearer", false)

	configViper.SetDefault("agent.server_url", "")
	configViper.SetDefault("agent.request_timeout_seconds", defaultAgentRequestTimeoutS)
	configViper.SetDefault("sync.interval_seconds", defaultSyncIntervalSeconds)
	configViper.SetDefault("sync.batch_size", defaultBatchSize)
	configViper.SetDefault("sync.retry_attempts", defaultRetryAttempts)
	configViper.SetDefault("sync.retry_delay_ms", defaultRetryDelayMS)
	configViper.SetDefault("sync.debounce_delay_ms", defaultDebounceDelayMS)
	configViper.SetDefault("sync.post_online_delay_ms", defaultPostOnlineSyncDelay)
}

// ServerConfig is the runtime configuration for cmd/syncd-server.
type ServerConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	LogFormat     string
	SigningSecret string
	TokenIssuer   string
	TokenAudience string
	TokenTTL      time.Duration
	RequireBearer bool
}

// LoadServerConfig reads and validates a ServerConfig from configViper.
func LoadServerConfig(configViper *viper.Viper) (ServerConfig, error) {
	cfg := ServerConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
		LogFormat:     configViper.GetString("log.format"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		TokenIssuer:   configViper.GetString("auth.issuer"),
		TokenAudience: configViper.GetString("auth.audience"),
		TokenTTL:      time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		RequireBearer: configViper.GetBool("auth.require_bearer"),
	}
	if err := cfg.validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func (c ServerConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.RequireBearer && strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required when auth.require_bearer is set")
	}
	return nil
}

// AgentConfig is the runtime configuration for cmd/syncd-agent.
type AgentConfig struct {
	ServerURL           string
	APIKey              string
	DatabasePath        string
	LogLevel            string
	LogFormat           string
	RequestTimeout      time.Duration
	SyncIntervalSeconds int
	BatchSize           int
	RetryAttempts       int
	RetryDelayMS        int
	DebounceDelayMS     int
	PostOnlineDelayMS   int
}

// LoadAgentConfig reads and validates an AgentConfig from configViper.
func LoadAgentConfig(configViper *viper.Viper) (AgentConfig, error) {
	cfg := AgentConfig{
		ServerURL:           configViper.GetString("agent.server_url"),
		APIKey:              configViper.GetString("agent.api_key"),
		DatabasePath:        configViper.GetString("database.path"),
		LogLevel:            configViper.GetString("log.level"),
		LogFormat:           configViper.GetString("log.format"),
		RequestTimeout:      time.Duration(configViper.GetInt("agent.request_timeout_seconds")) * time.Second,
		SyncIntervalSeconds: configViper.GetInt("sync.interval_seconds"),
		BatchSize:           configViper.GetInt("sync.batch_size"),
		RetryAttempts:       configViper.GetInt("sync.retry_attempts"),
		RetryDelayMS:        configViper.GetInt("sync.retry_delay_ms"),
		DebounceDelayMS:     configViper.GetInt("sync.debounce_delay_ms"),
		PostOnlineDelayMS:   configViper.GetInt("sync.post_online_delay_ms"),
	}
	if err := cfg.validate(); err != nil {
		return AgentConfig{}, err
	}
	return cfg, nil
}

func (c AgentConfig) validate() error {
	if strings.TrimSpace(c.ServerURL) == "" {
		return fmt.Errorf("agent.server_url is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}
