package internal

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Security      SecurityConfig      `mapstructure:"security"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Processors    ProcessorsConfig    `mapstructure:"processors"`
	Collection    CollectionConfig    `mapstructure:"collection"`
	Reconciler    ReconcilerConfig    `mapstructure:"reconciler"`
	Sandbox       SandboxConfig       `mapstructure:"sandbox"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"required,min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"required,min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"required,min=1m"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" validate:"required,min=1m"`
	Source          string        `mapstructure:"source"`
}

// SecurityConfig holds the key used to verify service tokens presented by internal callers
// (subscription and advance-repayment collectors).
type SecurityConfig struct {
	ServiceTokenPublicKey string `mapstructure:"service_token_public_key"`
	ServiceTokenIssuer    string `mapstructure:"service_token_issuer"`
	RequireServiceToken   bool   `mapstructure:"require_service_token"`
}

type ProcessorsConfig struct {
	DebitCard   ProcessorConfig `mapstructure:"debit_card"`
	BankAccount ProcessorConfig `mapstructure:"bank_account"`
}

type ProcessorConfig struct {
	Name                string                     `mapstructure:"name"`
	BaseURL             string                     `mapstructure:"base_url" validate:"required,url"`
	ClientID            string                     `mapstructure:"client_id"`
	APIKey              string                     `mapstructure:"api_key"`
	SettlementAccount   string                     `mapstructure:"settlement_account"`
	Timeout             time.Duration              `mapstructure:"timeout"`
	MaxNetworkRetries   int                        `mapstructure:"max_network_retries"`
	RetryBackoff        time.Duration              `mapstructure:"retry_backoff"`
	AmbiguousSignatures []AmbiguousSignatureConfig `mapstructure:"ambiguous_signatures"`
}

type AmbiguousSignatureConfig struct {
	Gateway    string `mapstructure:"gateway"`
	HTTPStatus int    `mapstructure:"http_status"`
}

type CollectionConfig struct {
	GuardTTL           time.Duration `mapstructure:"guard_ttl"`
	UnknownErrorWindow time.Duration `mapstructure:"unknown_error_window"`
}

type ReconcilerConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	PendingThreshold time.Duration `mapstructure:"pending_threshold"`
	CreatedThreshold time.Duration `mapstructure:"created_threshold"`
	BatchSize        int           `mapstructure:"batch_size"`
	MaxWorkers       int           `mapstructure:"max_workers"`
	JobQueueSize     int           `mapstructure:"job_queue_size"`
}

type SandboxConfig struct {
	Port     int    `mapstructure:"port"`
	BoltPath string `mapstructure:"bolt_path"`
	Gateway  string `mapstructure:"gateway"`
	APIKey   string `mapstructure:"api_key"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// LoadConfigFromEnv builds the configuration for container deployments where no config file is mounted.
func LoadConfigFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("HTTP_PORT", 8080),
			BaseURL:           getEnv("HTTP_BASE_URL", ""),
			AllowedOrigins:    getEnv("HTTP_ALLOWED_ORIGINS", ""),
			ReadHeaderTimeout: getEnvAsDuration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:      getEnvAsDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:       getEnvAsDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DB_SOURCE", ""),
		},
		Security: SecurityConfig{
			ServiceTokenPublicKey: getEnv("SERVICE_TOKEN_PUBLIC_KEY", ""),
			ServiceTokenIssuer:    getEnv("SERVICE_TOKEN_ISSUER", ""),
			RequireServiceToken:   getEnv("REQUIRE_SERVICE_TOKEN", "true") == "true",
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
		Processors: ProcessorsConfig{
			DebitCard:   processorFromEnv("DEBIT_PROCESSOR", "debit-card"),
			BankAccount: processorFromEnv("ACH_PROCESSOR", "bank-account"),
		},
		Collection: CollectionConfig{
			GuardTTL:           getEnvAsDuration("COLLECTION_GUARD_TTL", 5*time.Minute),
			UnknownErrorWindow: getEnvAsDuration("COLLECTION_UNKNOWN_ERROR_WINDOW", 24*time.Hour),
		},
		Reconciler: ReconcilerConfig{
			Interval:         getEnvAsDuration("RECONCILER_INTERVAL", time.Minute),
			PendingThreshold: getEnvAsDuration("RECONCILER_PENDING_THRESHOLD", 15*time.Minute),
			CreatedThreshold: getEnvAsDuration("RECONCILER_CREATED_THRESHOLD", 30*time.Minute),
			BatchSize:        getEnvAsInt("RECONCILER_BATCH_SIZE", 100),
			MaxWorkers:       getEnvAsInt("RECONCILER_MAX_WORKERS", 4),
			JobQueueSize:     getEnvAsInt("RECONCILER_JOB_QUEUE_SIZE", 100),
		},
		Sandbox: SandboxConfig{
			Port:     getEnvAsInt("SANDBOX_PORT", 9090),
			BoltPath: getEnv("SANDBOX_BOLT_PATH", "sandbox.db"),
			Gateway:  getEnv("SANDBOX_GATEWAY", "sandbox"),
			APIKey:   getEnv("SANDBOX_API_KEY", ""),
		},
	}
}

func processorFromEnv(prefix, name string) ProcessorConfig {
	cfg := ProcessorConfig{
		Name:              getEnv(prefix+"_NAME", name),
		BaseURL:           getEnv(prefix+"_BASE_URL", ""),
		ClientID:          getEnv(prefix+"_CLIENT_ID", ""),
		APIKey:            getEnv(prefix+"_API_KEY", ""),
		SettlementAccount: getEnv(prefix+"_SETTLEMENT_ACCOUNT", ""),
		Timeout:           getEnvAsDuration(prefix+"_TIMEOUT", 30*time.Second),
		MaxNetworkRetries: getEnvAsInt(prefix+"_MAX_NETWORK_RETRIES", 2),
		RetryBackoff:      getEnvAsDuration(prefix+"_RETRY_BACKOFF", 250*time.Millisecond),
	}
	if status := getEnvAsInt(prefix+"_AMBIGUOUS_HTTP_STATUS", 500); status > 0 {
		cfg.AmbiguousSignatures = []AmbiguousSignatureConfig{
			{Gateway: getEnv(prefix+"_AMBIGUOUS_GATEWAY", ""), HTTPStatus: status},
		}
	}
	return cfg
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if err := c.Processors.DebitCard.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("debit card processor config: %v", err))
	}

	if err := c.Processors.BankAccount.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("bank account processor config: %v", err))
	}

	if err := c.Reconciler.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("reconciler config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *SecurityConfig) Validate() error {
	if !c.RequireServiceToken {
		return nil
	}
	if _, err := c.GetPublicKey(); err != nil {
		return fmt.Errorf("invalid service token public key: %w", err)
	}
	return nil
}

func (c *SecurityConfig) GetPublicKey() (*rsa.PublicKey, error) {
	keyData, err := base64.StdEncoding.DecodeString(c.ServiceTokenPublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode public key: %w", err)
	}
	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, errors.New("failed to parse PEM block")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}
	return rsaPub, nil
}

func (c *ProcessorConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if c.MaxNetworkRetries < 0 {
		return errors.New("max_network_retries cannot be negative")
	}
	for _, sig := range c.AmbiguousSignatures {
		if sig.HTTPStatus < 100 || sig.HTTPStatus > 599 {
			return fmt.Errorf("ambiguous signature has invalid http_status %d", sig.HTTPStatus)
		}
	}
	return nil
}

func (c *ReconcilerConfig) Validate() error {
	if c.Interval < 0 || c.PendingThreshold < 0 || c.CreatedThreshold < 0 {
		return errors.New("durations cannot be negative")
	}
	if c.BatchSize < 0 || c.MaxWorkers < 0 {
		return errors.New("batch_size and max_workers cannot be negative")
	}
	return nil
}
