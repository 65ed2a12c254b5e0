package main

import (
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/config"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/keys"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/notify"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/queue"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/volume"
)

func newVolumeManager(cfg *config.Config) (*volume.Manager, error) {
	resolver, err := keys.NewResolverFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return volume.NewManager(cfg.BackupDir, volume.Options{Keys: resolver}), nil
}

func newNotifier(cfg *config.Config, logs bool) notify.Notifier {
	var notifiers notify.Multi
	if cfg.Mail.Enabled && cfg.Mail.Recipient != "" {
		notifiers = append(notifiers, notify.NewSendmail(cfg.Mail.Sendmail, cfg.Mail.Recipient, cfg.Mail.Interval, cfg.Mail.Burst))
	}
	if logs || len(notifiers) == 0 {
		notifiers = append(notifiers, notify.NewLogger())
	}
	return notifiers
}

func openQueue(cfg *config.Config, readOnly bool) (*queue.Store, error) {
	return queue.Open(cfg.ReportsDir, queue.Options{
		MaxRunning:   cfg.MaxRunning,
		PollInterval: cfg.PollInterval,
		Liveness:     queue.ProcessTable{},
		ReadOnly:     readOnly,
	})
}
