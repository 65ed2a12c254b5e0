package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rothirschtec/Simple-Backup-Environment/pkg/backup"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/config"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/errdefs"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/keys"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/log"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/types"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/volume"
)

// Version is set via ldflags during build
var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if msg := errdefs.Stderr(err); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sbe-worker --target NAME --daily|--weekly|--monthly|--yearly|--latest",
	Short: "Run one backup of a target",
	Long: `Run one backup of a target into <backup_dir>/<target>/.mounted/<class>.

The volume is mounted if needed and unmounted again when this process
mounted it. With --retention N only the N newest snapshots of the class
are kept. The exit status is 0 only when the backup succeeded.`,
	Version:       Version,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runWorker,
}

func init() {
	flags := rootCmd.Flags()
	flags.String("config", "", "Config file (default /etc/SBE/sbe.yaml or ./sbe.yaml)")
	flags.String("backup-dir", config.DefaultBackupDir, "Directory holding one directory per target")
	flags.String("target", "", "Target directory name under the backup directory")
	flags.Int("retention", 0, "Number of snapshots of the class to keep (0 keeps all)")
	flags.Bool("preflight", false, "Check that the ssh port of the source answers before syncing")
	flags.String("rsync", "rsync", "rsync executable")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "Output logs in JSON format")
	for _, class := range types.JobClasses {
		flags.Bool(string(class), false, fmt.Sprintf("Create a %s backup", class))
	}

	_ = rootCmd.MarkFlagRequired("target")
	classFlags := make([]string, 0, len(types.JobClasses))
	for _, class := range types.JobClasses {
		classFlags = append(classFlags, string(class))
	}
	rootCmd.MarkFlagsMutuallyExclusive(classFlags...)
	rootCmd.MarkFlagsOneRequired(classFlags...)
}

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
	for flag, key := range map[string]string{
		"backup-dir": "backup_dir",
		"log-level":  "log.level",
		"log-json":   "log.json",
	} {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return nil, err
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
	return cfg, nil
}

func selectedClass(cmd *cobra.Command) (types.JobClass, error) {
	for _, class := range types.JobClasses {
		if set, _ := cmd.Flags().GetBool(string(class)); set {
			return class, nil
		}
	}
	return "", errdefs.Configurationf("no backup type given")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	class, err := selectedClass(cmd)
	if err != nil {
		return err
	}
	target, _ := cmd.Flags().GetString("target")
	retention, _ := cmd.Flags().GetInt("retention")
	preflight, _ := cmd.Flags().GetBool("preflight")
	rsync, _ := cmd.Flags().GetString("rsync")
	if retention < 0 {
		return errdefs.Configurationf("retention must not be negative")
	}

	resolver, err := keys.NewResolverFromConfig(cfg)
	if err != nil {
		return err
	}
	volumes := volume.NewManager(cfg.BackupDir, volume.Options{Keys: resolver})
	worker := backup.NewWorker(cfg.BackupDir, volumes, backup.Options{
		RsyncPath: rsync,
		Preflight: preflight,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := worker.Run(ctx, backup.Job{Target: target, Class: class, Retention: retention})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Backup created: %s\n", report.Snapshot)
	for _, removed := range report.Removed {
		fmt.Fprintf(cmd.OutOrStdout(), "Removed old backup: %s\n", removed)
	}
	return nil
}
