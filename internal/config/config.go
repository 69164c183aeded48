package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Mail       MailConfig       `mapstructure:"mail"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Processing ProcessingConfig `mapstructure:"processing"`
	Lock       LockConfig       `mapstructure:"lock"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// MailConfig selects and configures the message source
type MailConfig struct {
	Provider     string `mapstructure:"provider"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`
	UserEmail    string `mapstructure:"user_email"`
	IMAPHost     string `mapstructure:"imap_host"`
	IMAPPort     int    `mapstructure:"imap_port"`
	IMAPUser     string `mapstructure:"imap_user"`
	IMAPPassword string `mapstructure:"imap_password"`
	IMAPMailbox  string `mapstructure:"imap_mailbox"`
}

// SchedulerConfig holds scheduler configuration. Cron, when set, takes
// precedence over Interval.
type SchedulerConfig struct {
	JobName   string        `mapstructure:"job_name"`
	Interval  time.Duration `mapstructure:"interval"`
	Cron      string        `mapstructure:"cron"`
	AutoStart bool          `mapstructure:"auto_start"`
}

// PipelineConfig holds ingestion settings
type PipelineConfig struct {
	Lookback  time.Duration `mapstructure:"lookback"`
	PageSize  int64         `mapstructure:"page_size"`
	Topics    []string      `mapstructure:"topics"`
	AuditUser string        `mapstructure:"audit_user"`
}

// ClassifierConfig holds LLM classifier settings
type ClassifierConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ProcessingConfig holds document processing service settings
type ProcessingConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LockConfig configures the optional cross-process ingestion lock
type LockConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	Key           string        `mapstructure:"key"`
	// TTL is how long a crashed holder keeps others out; a live holder renews it
	TTL           time.Duration `mapstructure:"ttl"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig loads configuration from .env, environment variables and config file
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.AutomaticEnv()
	bindEnvVars(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("mail.provider", "gmail")
	v.SetDefault("mail.user_email", "me")
	v.SetDefault("mail.imap_host", "imap.gmail.com")
	v.SetDefault("mail.imap_port", 993)
	v.SetDefault("mail.imap_mailbox", "INBOX")

	v.SetDefault("scheduler.job_name", "global_email_cron")
	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.auto_start", true)

	v.SetDefault("pipeline.lookback", "10m")
	v.SetDefault("pipeline.page_size", 50)
	v.SetDefault("pipeline.topics", []string{"Invoice", "Receipt", "Contract", "Support", "Other"})
	v.SetDefault("pipeline.audit_user", "system")

	v.SetDefault("classifier.model", "gpt-4o-mini")
	v.SetDefault("classifier.timeout", "30s")

	v.SetDefault("processing.timeout", "30s")

	v.SetDefault("lock.key", "mailflow:ingestion")
	v.SetDefault("lock.ttl", "10m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars(v *viper.Viper) {
	// Server
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	v.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	// Database
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.sslmode", "DB_SSLMODE")

	// Mail
	v.BindEnv("mail.provider", "MAIL_PROVIDER")
	v.BindEnv("mail.client_id", "GMAIL_CLIENT_ID")
	v.BindEnv("mail.client_secret", "GMAIL_CLIENT_SECRET")
	v.BindEnv("mail.refresh_token", "GMAIL_REFRESH_TOKEN")
	v.BindEnv("mail.user_email", "GMAIL_USER_EMAIL")
	v.BindEnv("mail.imap_host", "IMAP_HOST")
	v.BindEnv("mail.imap_port", "IMAP_PORT")
	v.BindEnv("mail.imap_user", "IMAP_USER")
	v.BindEnv("mail.imap_password", "IMAP_PASSWORD")
	v.BindEnv("mail.imap_mailbox", "IMAP_MAILBOX")

	// Scheduler
	v.BindEnv("scheduler.job_name", "SCHEDULER_JOB_NAME")
	v.BindEnv("scheduler.interval", "SCHEDULER_INTERVAL")
	v.BindEnv("scheduler.cron", "SCHEDULER_CRON")
	v.BindEnv("scheduler.auto_start", "SCHEDULER_AUTO_START")

	// Pipeline
	v.BindEnv("pipeline.lookback", "PIPELINE_LOOKBACK")
	v.BindEnv("pipeline.page_size", "PIPELINE_PAGE_SIZE")
	v.BindEnv("pipeline.topics", "PIPELINE_TOPICS")
	v.BindEnv("pipeline.audit_user", "PIPELINE_AUDIT_USER")

	// Classifier
	v.BindEnv("classifier.api_key", "OPENAI_API_KEY")
	v.BindEnv("classifier.base_url", "OPENAI_BASE_URL")
	v.BindEnv("classifier.model", "CLASSIFIER_MODEL")
	v.BindEnv("classifier.timeout", "CLASSIFIER_TIMEOUT")

	// Processing
	v.BindEnv("processing.base_url", "PROCESSING_BASE_URL")
	v.BindEnv("processing.timeout", "PROCESSING_TIMEOUT")

	// Lock
	v.BindEnv("lock.redis_addr", "REDIS_ADDR")
	v.BindEnv("lock.redis_password", "REDIS_PASSWORD")
	v.BindEnv("lock.redis_db", "REDIS_DB")
	v.BindEnv("lock.key", "LOCK_KEY")
	v.BindEnv("lock.ttl", "LOCK_TTL")

	// Log
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.format", "LOG_FORMAT")
}

// GetDSN returns the database connection string for the configured driver
func (c *DatabaseConfig) GetDSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Database.Driver {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host, user, and dbname are required")
	}

	switch c.Mail.Provider {
	case "gmail":
		if c.Mail.ClientID == "" || c.Mail.ClientSecret == "" || c.Mail.RefreshToken == "" {
			return fmt.Errorf("Gmail OAuth2 credentials are required when using the gmail provider")
		}
	case "imap":
		if c.Mail.IMAPUser == "" || c.Mail.IMAPPassword == "" {
			return fmt.Errorf("IMAP credentials are required when using the imap provider")
		}
	default:
		return fmt.Errorf("unsupported mail provider %q", c.Mail.Provider)
	}

	if c.Scheduler.JobName == "" {
		return fmt.Errorf("scheduler job name is required")
	}
	if c.Scheduler.Cron == "" && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler interval must be greater than 0")
	}

	if c.Pipeline.Lookback <= 0 {
		return fmt.Errorf("pipeline lookback must be greater than 0")
	}
	if c.Pipeline.PageSize <= 0 {
		return fmt.Errorf("pipeline page size must be greater than 0")
	}
	if len(c.Pipeline.Topics) == 0 {
		return fmt.Errorf("at least one pipeline topic is required")
	}

	if c.Processing.Timeout <= 0 {
		return fmt.Errorf("processing timeout must be greater than 0")
	}

	return nil
}
