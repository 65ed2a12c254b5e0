package keys

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rothirschtec/Simple-Backup-Environment/pkg/config"
)

func TestNewResolverFromConfig(t *testing.T) {
	cfg := &config.Config{
		BackupDir: "/srv/sbe/backup",
		KeyServer: config.KeyServerConfig{
			Host:               "https://keys.example.com",
			APIKey:             "secret",
			Timeout:            5 * time.Second,
			AllowLocalFallback: true,
			SealPassword:       "seal",
		},
	}

	r, err := NewResolverFromConfig(cfg)
	require.NoError(t, err)
	assert.IsType(t, &Client{}, r.remote)
	assert.True(t, r.policy.AllowLocalFallback)
	assert.False(t, r.policy.AllowLocalBackup)
	assert.Equal(t, filepath.Join("/srv/sbe/backup", "db01"), r.targetDir("db01"))

	local, ok := r.local.(FileStore)
	require.True(t, ok)
	assert.NotNil(t, local.Sealer)
}

func TestNewResolverFromConfig_LocalOnly(t *testing.T) {
	r, err := NewResolverFromConfig(&config.Config{BackupDir: t.TempDir()})
	require.NoError(t, err)
	assert.Nil(t, r.remote, "no key service must leave remote unset")
	assert.Nil(t, NewClientFromConfig(config.KeyServerConfig{}))

	local, ok := r.local.(FileStore)
	require.True(t, ok)
	assert.Nil(t, local.Sealer)
}
