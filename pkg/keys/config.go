package keys

import (
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/config"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/security"
)

// NewClientFromConfig returns the key service client of cfg, or nil when no
// key service host is configured
func NewClientFromConfig(cfg config.KeyServerConfig) *Client {
	if cfg.Host == "" {
		return nil
	}
	return NewClient(ClientConfig{
		Host:      cfg.Host,
		APIKey:    cfg.APIKey,
		VerifyTLS: cfg.VerifyTLS,
		Timeout:   cfg.Timeout,
	})
}

// NewFileStoreFromConfig returns the local passphrase store, sealing files
// when a seal password is configured
func NewFileStoreFromConfig(cfg config.KeyServerConfig) (FileStore, error) {
	if cfg.SealPassword == "" {
		return FileStore{}, nil
	}
	sealer, err := security.NewSealerFromPassword(cfg.SealPassword)
	if err != nil {
		return FileStore{}, err
	}
	return FileStore{Sealer: sealer}, nil
}

// NewResolverFromConfig builds the key resolver the scheduler, the worker
// and the volume commands share
func NewResolverFromConfig(cfg *config.Config) (*Resolver, error) {
	local, err := NewFileStoreFromConfig(cfg.KeyServer)
	if err != nil {
		return nil, err
	}

	var remote RemoteKeys
	if client := NewClientFromConfig(cfg.KeyServer); client != nil {
		remote = client
	}
	return NewResolver(remote, local, cfg.TargetDir, Policy{
		AllowLocalFallback: cfg.KeyServer.AllowLocalFallback,
		AllowLocalBackup:   cfg.KeyServer.AllowLocalBackup,
	}), nil
}
