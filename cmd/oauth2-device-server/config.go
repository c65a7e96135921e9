package main

import "time"

// Config holds server configuration loaded from environment variables
type Config struct {
	Port        int    `envconfig:"PORT" default:"8080"`
	BaseURL     string `envconfig:"BASE_URL" default:"http://localhost:8080"`
	Development bool   `envconfig:"DEVELOPMENT" default:"false"`

	// Storage
	StoreDriver string `envconfig:"STORE_DRIVER" default:"memory"` // memory, redis, or sqlite
	RedisURL    string `envconfig:"REDIS_URL"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"device-codes.db"`

	// Device flow policy
	CodeExpiry        time.Duration `envconfig:"CODE_EXPIRY" default:"30m"`
	PollInterval      time.Duration `envconfig:"POLL_INTERVAL" default:"5s"`
	SlowDownIncrement time.Duration `envconfig:"SLOW_DOWN_INCREMENT" default:"5s"`
	UserCodeLength    int           `envconfig:"USER_CODE_LENGTH" default:"8"`
	UserCodeCharset   string        `envconfig:"USER_CODE_CHARSET"`

	// Cleanup
	CleanupInterval  time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`
	CleanupRetention time.Duration `envconfig:"CLEANUP_RETENTION" default:"24h"`

	// Client directory: JSON file of registered clients. When empty a
	// development client is seeded and logged at startup.
	ClientsFile string `envconfig:"CLIENTS_FILE"`

	// Local token issuance
	TokenIssuerName string        `envconfig:"TOKEN_ISSUER_NAME" default:"oauth2-device-server"`
	SigningSecret   string        `envconfig:"SIGNING_SECRET"`
	AccessTokenTTL  time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"1h"`

	// Verification page
	CSRFSecret      string        `envconfig:"CSRF_SECRET"`
	CSRFTokenExpiry time.Duration `envconfig:"CSRF_TOKEN_EXPIRY" default:"15m"`
	SubjectHeader   string        `envconfig:"SUBJECT_HEADER" default:"X-Authenticated-User"`

	// Optional upstream authorization server. When the authorization
	// endpoint is set, verification delegates authentication upstream
	// and the device receives the upstream token set.
	UpstreamClientID     string `envconfig:"UPSTREAM_CLIENT_ID"`
	UpstreamClientSecret string `envconfig:"UPSTREAM_CLIENT_SECRET"`
	UpstreamAuthURL      string `envconfig:"UPSTREAM_AUTH_URL"`
	UpstreamTokenURL     string `envconfig:"UPSTREAM_TOKEN_URL"`
	UpstreamScope        string `envconfig:"UPSTREAM_SCOPE"`

	// HTTP server timeouts
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"5s"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"120s"`
	ShutdownTimeout   time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// upstreamEnabled reports whether upstream-delegated verification is on
func (c Config) upstreamEnabled() bool {
	return c.UpstreamAuthURL != ""
}
