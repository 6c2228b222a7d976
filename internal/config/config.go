// Package config loads gateway configuration from defaults, an optional
// YAML file, and MCP_GATEWAY_* environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full gateway configuration.
type Config struct {
	Server  ServerConfig  `json:"server" yaml:"server"`
	OAuth   OAuthConfig   `json:"oauth" yaml:"oauth"`
	Storage StorageConfig `json:"storage" yaml:"storage"`
	Qdrant  QdrantConfig  `json:"qdrant" yaml:"qdrant"`
	Redis   RedisConfig   `json:"redis" yaml:"redis"`
	CORS    CORSConfig    `json:"cors" yaml:"cors"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  int    `json:"read_timeout_seconds" yaml:"read_timeout_seconds"`
	WriteTimeout int    `json:"write_timeout_seconds" yaml:"write_timeout_seconds"`
	// PublicURL is the externally visible base URL, used in OAuth metadata
	// and redirect URIs. Empty means derive from the request.
	PublicURL string `json:"public_url" yaml:"public_url"`
}

// OAuthConfig holds upstream provider and flow settings.
type OAuthConfig struct {
	ClientID     string `json:"client_id" yaml:"client_id"`
	ClientSecret string `json:"-" yaml:"client_secret"`
	AuthURL      string `json:"auth_url" yaml:"auth_url"`
	TokenURL     string `json:"token_url" yaml:"token_url"`
	UserInfoURL  string `json:"userinfo_url" yaml:"userinfo_url"`
	RedirectURL  string `json:"redirect_url" yaml:"redirect_url"`
	Scopes       string `json:"scopes" yaml:"scopes"`
	// DevGrants enables the client_credentials and refresh_token grants
	// that mint service tokens. Development only.
	DevGrants bool `json:"dev_grants" yaml:"dev_grants"`
	// RequestTimeout bounds calls to the provider, in seconds.
	RequestTimeout int `json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
}

// StorageConfig selects and tunes the memory store.
type StorageConfig struct {
	// Provider is "memory" or "qdrant".
	Provider string `json:"provider" yaml:"provider"`
	// EmbeddingDims is the embedding vector width.
	EmbeddingDims int `json:"embedding_dims" yaml:"embedding_dims"`
	// DefaultSearchLimit caps search results when the caller gives none.
	DefaultSearchLimit int `json:"default_search_limit" yaml:"default_search_limit"`
}

// QdrantConfig holds vector store connection settings.
type QdrantConfig struct {
	Host       string `json:"host" yaml:"host"`
	Port       int    `json:"port" yaml:"port"`
	APIKey     string `json:"-" yaml:"api_key"`
	UseTLS     bool   `json:"use_tls" yaml:"use_tls"`
	Collection string `json:"collection" yaml:"collection"`
}

// RedisConfig holds rate limiter backend settings. An empty Addr disables
// rate limiting.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"-" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	// RateLimit is requests per window per client on public auth endpoints.
	RateLimit  int `json:"rate_limit" yaml:"rate_limit"`
	RateWindow int `json:"rate_window_seconds" yaml:"rate_window_seconds"`
}

// CORSConfig holds the browser origin allow-list for protected endpoints.
type CORSConfig struct {
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "localhost",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		OAuth: OAuthConfig{
			AuthURL:        "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL:       "https://oauth2.googleapis.com/token",
			UserInfoURL:    "https://www.googleapis.com/oauth2/v2/userinfo",
			Scopes:         "openid email profile",
			RequestTimeout: 10,
		},
		Storage: StorageConfig{
			Provider:           "memory",
			EmbeddingDims:      256,
			DefaultSearchLimit: 10,
		},
		Qdrant: QdrantConfig{
			Host:       "localhost",
			Port:       6334,
			Collection: "memories",
		},
		Redis: RedisConfig{
			RateLimit:  60,
			RateWindow: 60,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{
				"http://localhost:3000",
				"http://localhost:8080",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig builds the configuration from defaults, the optional YAML file
// named by MCP_GATEWAY_CONFIG, and environment variables. A .env file in the
// working directory is honored when present.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env file: %w", err)
	}

	config := DefaultConfig()

	if path := os.Getenv("MCP_GATEWAY_CONFIG"); path != "" {
		if err := config.loadFile(path); err != nil {
			return nil, err
		}
	}

	config.loadFromEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadFromEnv() {
	c.loadServerEnv()
	c.loadOAuthEnv()
	c.loadStorageEnv()
	c.loadRedisEnv()
	c.loadCORSEnv()
	c.loadLoggingEnv()
}

func (c *Config) loadServerEnv() {
	setString(&c.Server.Host, "MCP_GATEWAY_HOST")
	setInt(&c.Server.Port, "MCP_GATEWAY_PORT")
	setInt(&c.Server.ReadTimeout, "MCP_GATEWAY_READ_TIMEOUT_SECONDS")
	setInt(&c.Server.WriteTimeout, "MCP_GATEWAY_WRITE_TIMEOUT_SECONDS")
	setString(&c.Server.PublicURL, "MCP_GATEWAY_PUBLIC_URL")
}

func (c *Config) loadOAuthEnv() {
	setString(&c.OAuth.ClientID, "MCP_GATEWAY_OAUTH_CLIENT_ID")
	setString(&c.OAuth.ClientSecret, "MCP_GATEWAY_OAUTH_CLIENT_SECRET")
	setString(&c.OAuth.AuthURL, "MCP_GATEWAY_OAUTH_AUTH_URL")
	setString(&c.OAuth.TokenURL, "MCP_GATEWAY_OAUTH_TOKEN_URL")
	setString(&c.OAuth.UserInfoURL, "MCP_GATEWAY_OAUTH_USERINFO_URL")
	setString(&c.OAuth.RedirectURL, "MCP_GATEWAY_OAUTH_REDIRECT_URL")
	setString(&c.OAuth.Scopes, "MCP_GATEWAY_OAUTH_SCOPES")
	setBool(&c.OAuth.DevGrants, "MCP_GATEWAY_OAUTH_DEV_GRANTS")
	setInt(&c.OAuth.RequestTimeout, "MCP_GATEWAY_OAUTH_REQUEST_TIMEOUT_SECONDS")
}

func (c *Config) loadStorageEnv() {
	setString(&c.Storage.Provider, "MCP_GATEWAY_STORAGE_PROVIDER")
	setInt(&c.Storage.EmbeddingDims, "MCP_GATEWAY_EMBEDDING_DIMS")
	setInt(&c.Storage.DefaultSearchLimit, "MCP_GATEWAY_SEARCH_LIMIT")

	setString(&c.Qdrant.Host, "MCP_GATEWAY_QDRANT_HOST")
	setInt(&c.Qdrant.Port, "MCP_GATEWAY_QDRANT_PORT")
	setString(&c.Qdrant.APIKey, "MCP_GATEWAY_QDRANT_API_KEY")
	setBool(&c.Qdrant.UseTLS, "MCP_GATEWAY_QDRANT_USE_TLS")
	setString(&c.Qdrant.Collection, "MCP_GATEWAY_QDRANT_COLLECTION")
}

func (c *Config) loadRedisEnv() {
	setString(&c.Redis.Addr, "MCP_GATEWAY_REDIS_ADDR")
	setString(&c.Redis.Password, "MCP_GATEWAY_REDIS_PASSWORD")
	setInt(&c.Redis.DB, "MCP_GATEWAY_REDIS_DB")
	setInt(&c.Redis.RateLimit, "MCP_GATEWAY_RATE_LIMIT")
	setInt(&c.Redis.RateWindow, "MCP_GATEWAY_RATE_WINDOW_SECONDS")
}

func (c *Config) loadCORSEnv() {
	if origins := os.Getenv("MCP_GATEWAY_ALLOWED_ORIGINS"); origins != "" {
		parts := strings.Split(origins, ",")
		allowed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				allowed = append(allowed, p)
			}
		}
		c.CORS.AllowedOrigins = allowed
	}
}

func (c *Config) loadLoggingEnv() {
	setString(&c.Logging.Level, "MCP_GATEWAY_LOG_LEVEL")
	setString(&c.Logging.Format, "MCP_GATEWAY_LOG_FORMAT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// ScopeList returns the configured OAuth scopes as a slice.
func (c *OAuthConfig) ScopeList() []string {
	return strings.Fields(c.Scopes)
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}

	if c.OAuth.AuthURL == "" || c.OAuth.TokenURL == "" {
		return fmt.Errorf("oauth auth_url and token_url are required")
	}
	if c.OAuth.UserInfoURL == "" {
		return fmt.Errorf("oauth userinfo_url is required")
	}

	switch c.Storage.Provider {
	case "memory":
	case "qdrant":
		if c.Qdrant.Host == "" {
			return fmt.Errorf("qdrant host cannot be empty")
		}
		if c.Qdrant.Port <= 0 {
			return fmt.Errorf("qdrant port must be greater than 0")
		}
		if c.Qdrant.Collection == "" {
			return fmt.Errorf("qdrant collection cannot be empty")
		}
	default:
		return fmt.Errorf("unknown storage provider: %s", c.Storage.Provider)
	}

	if c.Storage.EmbeddingDims <= 0 {
		return fmt.Errorf("embedding dims must be positive")
	}
	if c.Storage.DefaultSearchLimit <= 0 {
		return fmt.Errorf("default search limit must be positive")
	}

	if c.Redis.Addr != "" {
		if c.Redis.RateLimit <= 0 {
			return fmt.Errorf("rate limit must be positive")
		}
		if c.Redis.RateWindow <= 0 {
			return fmt.Errorf("rate window must be positive")
		}
	}
	return nil
}
