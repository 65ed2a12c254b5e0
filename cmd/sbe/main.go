package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rothirschtec/Simple-Backup-Environment/pkg/config"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/log"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/metrics"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sbe",
	Short: "SBE - Simple Backup Environment",
	Long: `SBE pulls periodic rsync backups of remote hosts into per-host
volumes, optionally LUKS encrypted, with passphrases served by a key
service.

The scheduler (sbe run) checks backup.yaml once per minute, queues due
jobs and starts one sbe-worker per job, never more than max_running at
a time.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"SBE version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Config file (default /etc/SBE/sbe.yaml or ./sbe.yaml)")
	flags.String("backup-dir", config.DefaultBackupDir, "Directory holding one directory per target")
	flags.String("reports-dir", config.DefaultReportsDir, "Directory holding the queue files")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "Output logs in JSON format")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(umountCmd)
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(volumeCmd)
}

// flagKeys maps persistent flags to configuration keys
var flagKeys = map[string]string{
	"backup-dir":  "backup_dir",
	"reports-dir": "reports_dir",
	"log-level":   "log.level",
	"log-json":    "log.json",
}

// loadConfig reads the config file, environment and flags, in increasing
// priority, and initializes logging
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := config.NewViper()

	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("sbe")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/SBE")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	for flag, key := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, err
	}

	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
	metrics.SetVersion(Version)
	return cfg, nil
}
