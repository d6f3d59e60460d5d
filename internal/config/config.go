// Package config loads the service configuration and the inbound account registry.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/gotrs-io/gotrs-caseflow/internal/models"
)

var (
	cfg *Config
	mu  sync.RWMutex
)

// Config represents the application configuration
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Email     EmailConfig     `mapstructure:"email"`
	AutoReply AutoReplyConfig `mapstructure:"autoreply"`
	Inbound   InboundConfig   `mapstructure:"inbound"`
	Security  SecurityConfig  `mapstructure:"security"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	Debug    bool   `mapstructure:"debug"`
	Timezone string `mapstructure:"timezone"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes"`
}

// DatabaseConfig selects the entity store. An empty driver keeps everything in memory.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres, mysql, sqlite3
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addrs        []string      `mapstructure:"addrs"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	ClusterMode  bool          `mapstructure:"cluster_mode"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

type LoggingConfig struct {
	Prefix     string `mapstructure:"prefix"`
	Timestamps bool   `mapstructure:"timestamps"`
	Output     string `mapstructure:"output"` // stderr, stdout or a file path
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// EmailConfig holds the system-wide outbound defaults.
type EmailConfig struct {
	From      string     `mapstructure:"from"`
	FromName  string     `mapstructure:"from_name"`
	Domain    string     `mapstructure:"domain"`
	Transport string     `mapstructure:"transport"` // smtp or ses
	SMTP      SMTPConfig `mapstructure:"smtp"`
	SES       SESConfig  `mapstructure:"ses"`
}

type SMTPConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	Auth          bool   `mapstructure:"auth"`
	AuthMechanism string `mapstructure:"auth_mechanism"`
	Security      string `mapstructure:"security"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
}

// Settings converts the block to the transport settings used by the mailer.
func (c SMTPConfig) Settings() models.SMTPSettings {
	return models.SMTPSettings{
		Host:          c.Host,
		Port:          c.Port,
		Auth:          c.Auth,
		AuthMechanism: c.AuthMechanism,
		Security:      c.Security,
		Username:      c.Username,
		Password:      c.Password,
	}
}

type SESConfig struct {
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

type AutoReplyConfig struct {
	// Limit is the most replies one address gets per SuppressPeriod. Zero turns replies off.
	Limit          int           `mapstructure:"limit"`
	SuppressPeriod time.Duration `mapstructure:"suppress_period"`
}

type InboundConfig struct {
	PollSchedule       string `mapstructure:"poll_schedule"`
	Workers            int    `mapstructure:"workers"`
	MaxAccounts        int    `mapstructure:"max_accounts"`
	AccountsFile       string `mapstructure:"accounts_file"`
	CustomFieldsSchema string `mapstructure:"custom_fields_schema"`
	SystemUserID       string `mapstructure:"system_user_id"`
	DeleteAfterFetch   bool   `mapstructure:"delete_after_fetch"`
	MaxMessagesPerPoll int    `mapstructure:"max_messages_per_poll"`
	BodyLimit          int64  `mapstructure:"body_limit"`
	AttachmentLimit    int64  `mapstructure:"attachment_limit"`
}

type SecurityConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "caseflow")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.debug", false)
	v.SetDefault("app.timezone", "UTC")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_message_bytes", int64(30<<20))

	v.SetDefault("database.driver", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addrs", []string{"localhost:6379"})
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cluster_mode", false)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.key_prefix", "caseflow:")

	v.SetDefault("logging.prefix", "")
	v.SetDefault("logging.timestamps", true)
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("email.from", "")
	v.SetDefault("email.from_name", "")
	v.SetDefault("email.domain", "localhost")
	v.SetDefault("email.transport", "smtp")
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.auth", false)
	v.SetDefault("email.smtp.auth_mechanism", "")
	v.SetDefault("email.smtp.security", "TLS")
	v.SetDefault("email.smtp.username", "")
	v.SetDefault("email.smtp.password", "")
	v.SetDefault("email.ses.region", "")
	v.SetDefault("email.ses.access_key_id", "")
	v.SetDefault("email.ses.secret_access_key", "")

	v.SetDefault("autoreply.limit", 5)
	v.SetDefault("autoreply.suppress_period", 2*time.Hour)

	v.SetDefault("inbound.poll_schedule", "*/2 * * * *")
	v.SetDefault("inbound.workers", 2)
	v.SetDefault("inbound.max_accounts", 5)
	v.SetDefault("inbound.accounts_file", "accounts.yaml")
	v.SetDefault("inbound.custom_fields_schema", "")
	v.SetDefault("inbound.system_user_id", "system")
	v.SetDefault("inbound.delete_after_fetch", false)
	v.SetDefault("inbound.max_messages_per_poll", 50)
	v.SetDefault("inbound.body_limit", int64(256<<10))
	v.SetDefault("inbound.attachment_limit", int64(25<<20))

	v.SetDefault("security.encryption_key", "")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix("CASEFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads config.yaml from configPath (optional), applies CASEFLOW_*
// environment overrides and watches the file for changes.
func Load(configPath string) error {
	v := newViper()
	v.SetConfigName("config")
	v.AddConfigPath(configPath)

	found := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
		found = false
	}

	loaded := &Config{}
	if err := v.Unmarshal(loaded); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := loaded.Validate(); err != nil {
		return err
	}
	set(loaded)

	if found {
		v.OnConfigChange(func(e fsnotify.Event) {
			log.Printf("config: file changed: %s", e.Name)
			newCfg := &Config{}
			if err := v.Unmarshal(newCfg); err != nil {
				log.Printf("config: failed to reload: %v", err)
				return
			}
			if err := newCfg.Validate(); err != nil {
				log.Printf("config: rejected reload: %v", err)
				return
			}
			set(newCfg)
			log.Printf("config: reloaded")
		})
		v.WatchConfig()
	}
	return nil
}

// LoadFromFile loads configuration from a specific file without watching it.
func LoadFromFile(configFile string) error {
	v := newViper()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	loaded := &Config{}
	if err := v.Unmarshal(loaded); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := loaded.Validate(); err != nil {
		return err
	}
	set(loaded)
	return nil
}

// Defaults returns a configuration built only from defaults and the environment.
func Defaults() (*Config, error) {
	out := &Config{}
	if err := newViper().Unmarshal(out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return out, nil
}

// Get returns the current configuration (thread-safe)
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

func set(c *Config) {
	mu.Lock()
	cfg = c
	mu.Unlock()
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var problems []string
	switch c.Database.Driver {
	case "", "postgres", "mysql", "sqlite3":
	default:
		problems = append(problems, fmt.Sprintf("database.driver %q is not supported", c.Database.Driver))
	}
	if c.Database.Driver != "" && c.Database.DSN == "" {
		problems = append(problems, "database.dsn is required when a driver is set")
	}
	switch strings.ToLower(c.Email.Transport) {
	case "smtp", "ses":
	default:
		problems = append(problems, fmt.Sprintf("email.transport %q must be smtp or ses", c.Email.Transport))
	}
	if c.AutoReply.Limit < 0 {
		problems = append(problems, "autoreply.limit must not be negative (0 disables auto-replies)")
	}
	if c.AutoReply.SuppressPeriod <= 0 {
		problems = append(problems, "autoreply.suppress_period must be positive")
	}
	if c.Inbound.SystemUserID == "" {
		problems = append(problems, "inbound.system_user_id is required")
	}
	if c.Inbound.MaxMessagesPerPoll < 0 {
		problems = append(problems, "inbound.max_messages_per_poll must not be negative")
	}
	if c.Redis.Enabled && len(c.Redis.Addrs) == 0 {
		problems = append(problems, "redis.addrs is required when redis is enabled")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// GetServerAddr returns the server listen address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsProduction returns true if running in production mode
func (c *AppConfig) IsProduction() bool {
	return c.Env == "production"
}
