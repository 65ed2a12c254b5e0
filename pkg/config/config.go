package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Defaults for a standard installation
const (
	DefaultBackupDir  = "/opt/SBE/backup"
	DefaultReportsDir = "/var/SBE/reports/"
	DefaultWorkerName = "sbe-worker"
	EnvPrefix         = "SBE"
)

// Config is the daemon configuration
type Config struct {
	// BackupDir holds one directory per target plus config/backup.yaml
	BackupDir string `mapstructure:"backup_dir" validate:"required"`
	// JobsFile is the job definition file (default: <backup_dir>/config/backup.yaml)
	JobsFile string `mapstructure:"jobs_file"`
	// ReportsDir holds the queue files and the history database
	ReportsDir string `mapstructure:"reports_dir" validate:"required"`
	// WorkerPath is the backup worker executable
	WorkerPath string `mapstructure:"worker_path"`
	// MaxRunning caps concurrently running jobs
	MaxRunning int `mapstructure:"max_running" validate:"gte=1"`
	// PollInterval is the admission polling interval
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	// HistoryDB is the bbolt run history (default: <reports_dir>/sbe.db)
	HistoryDB string `mapstructure:"history_db"`
	// HTTPAddr enables /health, /ready and /metrics when set
	HTTPAddr string `mapstructure:"http_addr"`

	Log       LogConfig       `mapstructure:"log"`
	Mail      MailConfig      `mapstructure:"mail"`
	KeyServer KeyServerConfig `mapstructure:"keyserver"`
	Checker   CheckerConfig   `mapstructure:"checker"`
}

// LogConfig configures the global logger
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// MailConfig configures failure notifications
type MailConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Recipient string        `mapstructure:"recipient"`
	Sendmail  string        `mapstructure:"sendmail"`
	Interval  time.Duration `mapstructure:"interval"`
	Burst     int           `mapstructure:"burst" validate:"gte=1"`
}

// KeyServerConfig configures the remote key service and key policy
type KeyServerConfig struct {
	Host      string        `mapstructure:"host" validate:"omitempty,url"`
	APIKey    string        `mapstructure:"api_key"`
	VerifyTLS bool          `mapstructure:"verify_tls"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gt=0"`
	// AllowLocalFallback lets remote-first resolution read the local passphrase file
	AllowLocalFallback bool `mapstructure:"allow_local_fallback"`
	// AllowLocalBackup lets provisioning keep a local copy of a stored key
	AllowLocalBackup bool `mapstructure:"allow_local_backup"`
	// SealPassword encrypts local copies when set
	SealPassword string `mapstructure:"seal_password"`
}

// CheckerConfig configures the daily auxiliary check
type CheckerConfig struct {
	// Command is a shell-quoted command line; empty runs only the built-in report
	Command string `mapstructure:"command"`
	// At is the local time of day (HH:MM)
	At string `mapstructure:"at" validate:"datetime=15:04"`
	// StaleAfter flags jobs without a successful run for this long
	StaleAfter time.Duration `mapstructure:"stale_after" validate:"gte=0"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// legacyEnv maps configuration keys to environment names used by the shell tooling
var legacyEnv = map[string]string{
	"reports_dir":          "REPORTS_DIR",
	"max_running":          "MAX_SIMULTANEOUS_BACKUPS",
	"mail.recipient":       "MAIL_RECIPIENT",
	"keyserver.host":       "KEYSERVER_HOST",
	"keyserver.api_key":    "KEYSERVER_API_KEY",
	"keyserver.verify_tls": "KEYSERVER_VERIFY",
}

// SetDefaults registers every key with its default value
func SetDefaults(v *viper.Viper) {
	v.SetDefault("backup_dir", DefaultBackupDir)
	v.SetDefault("jobs_file", "")
	v.SetDefault("reports_dir", DefaultReportsDir)
	v.SetDefault("worker_path", "")
	v.SetDefault("max_running", 2)
	v.SetDefault("poll_interval", 2*time.Second)
	v.SetDefault("history_db", "")
	v.SetDefault("http_addr", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("mail.enabled", true)
	v.SetDefault("mail.recipient", "admin")
	v.SetDefault("mail.sendmail", "/usr/sbin/sendmail")
	v.SetDefault("mail.interval", time.Minute)
	v.SetDefault("mail.burst", 5)

	v.SetDefault("keyserver.host", "")
	v.SetDefault("keyserver.api_key", "")
	v.SetDefault("keyserver.verify_tls", true)
	v.SetDefault("keyserver.timeout", 10*time.Second)
	v.SetDefault("keyserver.allow_local_fallback", true)
	v.SetDefault("keyserver.allow_local_backup", false)
	v.SetDefault("keyserver.seal_password", "")

	v.SetDefault("checker.command", "")
	v.SetDefault("checker.at", "18:00")
	v.SetDefault("checker.stale_after", 48*time.Hour)
	v.SetDefault("checker.timeout", 10*time.Minute)
}

// NewViper creates a viper instance with defaults and environment binding.
// SBE_<KEY> variables override file values; legacy names are honored after them.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, prefixed, legacy)
	}
	return v
}

// Load reads the configuration file at path (optional) and the environment
func Load(path string) (*Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		}
	}
	return FromViper(v)
}

// FromViper unmarshals, completes and validates a configuration
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.complete()

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) complete() {
	if c.JobsFile == "" {
		c.JobsFile = filepath.Join(c.BackupDir, "config", "backup.yaml")
	}
	if c.HistoryDB == "" {
		c.HistoryDB = filepath.Join(c.ReportsDir, "sbe.db")
	}
	if c.WorkerPath == "" {
		c.WorkerPath = DefaultWorkerName
		if exe, err := os.Executable(); err == nil {
			sibling := filepath.Join(filepath.Dir(exe), DefaultWorkerName)
			if _, err := os.Stat(sibling); err == nil {
				c.WorkerPath = sibling
			}
		}
	}
}

// TargetDir returns the directory of a target
func (c *Config) TargetDir(target string) string {
	return filepath.Join(c.BackupDir, target)
}

var validate = validator.New(validator.WithRequiredStructEnabled())
