package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config represents the bridge configuration
type Config struct {
	Hub       HubConfig       `yaml:"hub"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Server    ServerConfig    `yaml:"server"`
	NATS      NATSConfig      `yaml:"nats"`
	MinIO     MinIOConfig     `yaml:"minio"`
	Tarantool TarantoolConfig `yaml:"tarantool"`
	Redis     RedisConfig     `yaml:"redis"`
	Vault     VaultConfig     `yaml:"vault"`
	Logger    LoggerConfig    `yaml:"logger"`
}

// HubConfig represents the Home Center connection
type HubConfig struct {
	Host          string        `yaml:"host" envconfig:"HC2_HOST"`
	Username      string        `yaml:"username" envconfig:"HC2_USERNAME"`
	Password      string        `yaml:"password" envconfig:"HC2_PASSWORD"`
	Timeout       time.Duration `yaml:"timeout" envconfig:"HC2_TIMEOUT"`
	PollDelay     time.Duration `yaml:"poll_delay" envconfig:"HC2_POLL_DELAY"`
	ResyncOnReset bool          `yaml:"resync_on_reset" envconfig:"HC2_RESYNC_ON_RESET"`

	// Vault path for credentials (optional)
	VaultPath string `yaml:"vault_path" envconfig:"HC2_VAULT_PATH"`
}

// DiscoveryConfig controls hub lookup when no host is configured
type DiscoveryConfig struct {
	Enabled       bool          `yaml:"enabled" envconfig:"DISCOVERY_ENABLED"`
	Timeout       time.Duration `yaml:"timeout" envconfig:"DISCOVERY_TIMEOUT"`
	ListenAddr    string        `yaml:"listen_addr" envconfig:"DISCOVERY_LISTEN_ADDR"`
	BroadcastAddr string        `yaml:"broadcast_addr" envconfig:"DISCOVERY_BROADCAST_ADDR"`
}

// BridgeConfig controls how a failed subscription is restarted
type BridgeConfig struct {
	RetryInitialInterval time.Duration `yaml:"retry_initial_interval" envconfig:"BRIDGE_RETRY_INITIAL_INTERVAL"`
	RetryMaxInterval     time.Duration `yaml:"retry_max_interval" envconfig:"BRIDGE_RETRY_MAX_INTERVAL"`
	// RetryMaxElapsed of zero retries forever
	RetryMaxElapsed time.Duration `yaml:"retry_max_elapsed" envconfig:"BRIDGE_RETRY_MAX_ELAPSED"`
	SinkTimeout     time.Duration `yaml:"sink_timeout" envconfig:"BRIDGE_SINK_TIMEOUT"`
}

// ServerConfig represents the status HTTP and gRPC health listeners
type ServerConfig struct {
	HTTPPort int `yaml:"http_port" envconfig:"SERVER_HTTP_PORT"`
	GRPCPort int `yaml:"grpc_port" envconfig:"SERVER_GRPC_PORT"`
}

// NATSConfig represents the NATS sink
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled" envconfig:"NATS_ENABLED"`
	URL           string `yaml:"url" envconfig:"NATS_URL"`
	User          string `yaml:"user" envconfig:"NATS_USER"`
	Password      string `yaml:"password" envconfig:"NATS_PASSWORD"`
	SubjectPrefix string `yaml:"subject_prefix" envconfig:"NATS_SUBJECT_PREFIX"`

	// Vault path for credentials (optional)
	VaultPath string `yaml:"vault_path" envconfig:"NATS_VAULT_PATH"`
}

// MinIOConfig represents the MinIO report archive
type MinIOConfig struct {
	Enabled         bool   `yaml:"enabled" envconfig:"MINIO_ENABLED"`
	Endpoint        string `yaml:"endpoint" envconfig:"MINIO_ENDPOINT"`
	AccessKeyID     string `yaml:"access_key_id" envconfig:"MINIO_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" envconfig:"MINIO_SECRET_ACCESS_KEY"`
	UseSSL          bool   `yaml:"use_ssl" envconfig:"MINIO_USE_SSL"`
	BucketName      string `yaml:"bucket_name" envconfig:"MINIO_BUCKET_NAME"`

	// Vault path for credentials (optional)
	VaultPath string `yaml:"vault_path" envconfig:"MINIO_VAULT_PATH"`
}

// TarantoolConfig represents the Tarantool change store
type TarantoolConfig struct {
	Enabled  bool          `yaml:"enabled" envconfig:"TARANTOOL_ENABLED"`
	Address  string        `yaml:"address" envconfig:"TARANTOOL_ADDRESS"`
	User     string        `yaml:"user" envconfig:"TARANTOOL_USER"`
	Password string        `yaml:"password" envconfig:"TARANTOOL_PASSWORD"`
	Timeout  time.Duration `yaml:"timeout" envconfig:"TARANTOOL_TIMEOUT"`
	Space    string        `yaml:"space" envconfig:"TARANTOOL_SPACE"`

	// Vault path for credentials (optional)
	VaultPath string `yaml:"vault_path" envconfig:"TARANTOOL_VAULT_PATH"`
}

// RedisConfig represents the Redis pub/sub sink
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" envconfig:"REDIS_ENABLED"`
	Addr     string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Username string `yaml:"username" envconfig:"REDIS_USERNAME"`
	Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" envconfig:"REDIS_DB"`
	TLS      bool   `yaml:"tls" envconfig:"REDIS_TLS"`
	Channel  string `yaml:"channel" envconfig:"REDIS_CHANNEL"`

	// Vault path for credentials (optional)
	VaultPath string `yaml:"vault_path" envconfig:"REDIS_VAULT_PATH"`
}

// VaultConfig represents HashiCorp Vault configuration
type VaultConfig struct {
	Enabled   bool   `yaml:"enabled" envconfig:"VAULT_ENABLED"`
	Address   string `yaml:"address" envconfig:"VAULT_ADDR"`
	Token     string `yaml:"token" envconfig:"VAULT_TOKEN"`
	TokenPath string `yaml:"token_path" envconfig:"VAULT_TOKEN_PATH"`
	Namespace string `yaml:"namespace" envconfig:"VAULT_NAMESPACE"`
	Mount     string `yaml:"mount" envconfig:"VAULT_MOUNT"`
}

// LoggerConfig represents logger configuration
type LoggerConfig struct {
	Level      string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format     string `yaml:"format" envconfig:"LOG_FORMAT"` // json or console
	OutputPath string `yaml:"output_path" envconfig:"LOG_OUTPUT_PATH"`
}

// Default returns the configuration used when neither file nor environment
// set a value.
func Default() *Config {
	return &Config{
		Hub: HubConfig{
			Username:      "admin",
			Password:      "admin",
			Timeout:       30 * time.Second,
			PollDelay:     250 * time.Millisecond,
			ResyncOnReset: true,
		},
		Discovery: DiscoveryConfig{
			Enabled:       false,
			Timeout:       5 * time.Second,
			ListenAddr:    ":44444",
			BroadcastAddr: "255.255.255.255:44444",
		},
		Bridge: BridgeConfig{
			RetryInitialInterval: time.Second,
			RetryMaxInterval:     time.Minute,
			SinkTimeout:          5 * time.Second,
		},
		Server: ServerConfig{
			HTTPPort: 8080,
			GRPCPort: 50051,
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			SubjectPrefix: "hc2.changes",
		},
		MinIO: MinIOConfig{
			Endpoint:        "localhost:9000",
			AccessKeyID:     "minioadmin",
			SecretAccessKey: "minioadmin",
			BucketName:      "hc2-reports",
		},
		Tarantool: TarantoolConfig{
			Address:  "localhost:3301",
			User:     "hc2stream",
			Password: "changeme",
			Timeout:  5 * time.Second,
			Space:    "hc2_changes",
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Channel: "hc2-changes",
		},
		Vault: VaultConfig{
			Address: "http://localhost:8200",
			Mount:   "secret",
		},
		Logger: LoggerConfig{
			Level:      "info",
			Format:     "json",
			OutputPath: "stdout",
		},
	}
}

// Load builds the configuration from defaults, then the YAML file when
// configPath is set, then environment variables, and validates the result.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := loadFromFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile loads configuration from YAML file
func loadFromFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true) // Strict parsing

	if err := decoder.Decode(cfg); err != nil {
		return err
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Hub.Host == "" && !c.Discovery.Enabled {
		return fmt.Errorf("hub host is required when discovery is disabled")
	}
	if c.Hub.Timeout <= 0 {
		return fmt.Errorf("invalid hub timeout: %s", c.Hub.Timeout)
	}
	if c.Hub.PollDelay <= 0 {
		return fmt.Errorf("invalid hub poll delay: %s", c.Hub.PollDelay)
	}

	if c.Discovery.Enabled && c.Discovery.Timeout <= 0 {
		return fmt.Errorf("invalid discovery timeout: %s", c.Discovery.Timeout)
	}

	if c.Bridge.RetryInitialInterval <= 0 {
		return fmt.Errorf("invalid retry initial interval: %s", c.Bridge.RetryInitialInterval)
	}
	if c.Bridge.RetryMaxInterval < c.Bridge.RetryInitialInterval {
		return fmt.Errorf("retry max interval %s is below initial interval %s",
			c.Bridge.RetryMaxInterval, c.Bridge.RetryInitialInterval)
	}

	if err := validatePort("http", c.Server.HTTPPort); err != nil {
		return err
	}
	if err := validatePort("grpc", c.Server.GRPCPort); err != nil {
		return err
	}
	if c.Server.HTTPPort == c.Server.GRPCPort {
		return fmt.Errorf("http and grpc ports must differ: %d", c.Server.HTTPPort)
	}

	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			return fmt.Errorf("nats url is required")
		}
		if c.NATS.SubjectPrefix == "" || strings.ContainsAny(c.NATS.SubjectPrefix, " *>") {
			return fmt.Errorf("invalid nats subject prefix: %q", c.NATS.SubjectPrefix)
		}
	}

	if c.MinIO.Enabled {
		if c.MinIO.Endpoint == "" {
			return fmt.Errorf("minio endpoint is required")
		}
		if c.MinIO.BucketName == "" {
			return fmt.Errorf("minio bucket name is required")
		}
	}

	if c.Tarantool.Enabled {
		if c.Tarantool.Address == "" {
			return fmt.Errorf("tarantool address is required")
		}
		if c.Tarantool.Space == "" {
			return fmt.Errorf("tarantool space is required")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required")
		}
		if c.Redis.Channel == "" {
			return fmt.Errorf("redis channel is required")
		}
	}

	if c.Vault.Enabled && c.Vault.Address == "" {
		return fmt.Errorf("vault address is required when vault is enabled")
	}

	return nil
}

func validatePort(name string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid %s port: %d", name, port)
	}
	return nil
}

// GetVaultToken returns the Vault token from config or file
func (c *VaultConfig) GetVaultToken() (string, error) {
	if c.Token != "" {
		return c.Token, nil
	}

	if c.TokenPath != "" {
		token, err := os.ReadFile(c.TokenPath)
		if err != nil {
			return "", fmt.Errorf("failed to read vault token from file: %w", err)
		}
		return strings.TrimSpace(string(token)), nil
	}

	return "", fmt.Errorf("vault token not configured")
}
