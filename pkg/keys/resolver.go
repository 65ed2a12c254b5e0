package keys

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/rothirschtec/Simple-Backup-Environment/pkg/errdefs"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/log"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/metrics"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/types"
)

// RemoteKeys is the part of the key service a Resolver needs
type RemoteKeys interface {
	Health(ctx context.Context) error
	Get(ctx context.Context, hostname string) ([]byte, error)
	Store(ctx context.Context, hostname string, key []byte) error
}

// Policy controls where passphrases may come from and be written to
type Policy struct {
	// AllowLocalFallback lets remote-first resolution read the local file
	AllowLocalFallback bool
	// AllowLocalBackup lets Provision keep a local copy of a stored key
	AllowLocalBackup bool
}

// Resolver resolves the passphrase of an encrypted target
type Resolver struct {
	remote    RemoteKeys
	local     LocalKeys
	targetDir func(target string) string
	policy    Policy
	logger    zerolog.Logger
}

// NewResolver creates a resolver. remote may be nil when no key service is
// configured; targetDir maps a target to its directory.
func NewResolver(remote RemoteKeys, local LocalKeys, targetDir func(string) string, policy Policy) *Resolver {
	if local == nil {
		local = FileStore{}
	}
	return &Resolver{
		remote:    remote,
		local:     local,
		targetDir: targetDir,
		policy:    policy,
		logger:    log.WithComponent("keys"),
	}
}

// Mode returns the retrieval mode persisted for a target
func (r *Resolver) Mode(target string) types.KeyMode {
	dir := r.targetDir(target)
	if exists(filepath.Join(dir, MarkerStrict)) {
		return types.KeyModeStrict
	}
	if exists(filepath.Join(dir, MarkerRemote)) {
		return types.KeyModeFallback
	}
	return types.KeyModeLocal
}

// Resolve returns the passphrase of target.
//
// STRICT consults only the key service; any failure, including a failed
// health check, is final and the local file is never read. FALLBACK tries
// the key service first and reads the local file if the policy allows it.
// LOCAL (no marker) reads the local file.
func (r *Resolver) Resolve(ctx context.Context, target string) (*KeyMaterial, error) {
	mode := r.Mode(target)
	logger := r.logger.With().Str("target", target).Str("mode", string(mode)).Logger()

	switch mode {
	case types.KeyModeStrict:
		key, err := r.fetchRemote(ctx, target)
		if err != nil {
			metrics.KeyResolutions.WithLabelValues(string(mode), "failed").Inc()
			return nil, errdefs.ResourceUnavailable(fmt.Errorf("strict key resolution for %s failed: %w", target, err))
		}
		metrics.KeyResolutions.WithLabelValues(string(mode), "remote").Inc()
		return newKeyMaterial(target, types.KeySourceRemote, mode, key)

	case types.KeyModeFallback:
		key, err := r.fetchRemote(ctx, target)
		if err == nil {
			metrics.KeyResolutions.WithLabelValues(string(mode), "remote").Inc()
			return newKeyMaterial(target, types.KeySourceRemote, mode, key)
		}
		if !r.policy.AllowLocalFallback {
			metrics.KeyResolutions.WithLabelValues(string(mode), "failed").Inc()
			return nil, errdefs.ResourceUnavailable(fmt.Errorf("key service failed for %s and local fallback is disabled: %w", target, err))
		}
		logger.Warn().Err(err).Msg("Key service unavailable, falling back to local passphrase")
		return r.readLocal(target, mode)

	default:
		return r.readLocal(target, mode)
	}
}

func (r *Resolver) fetchRemote(ctx context.Context, target string) ([]byte, error) {
	if r.remote == nil {
		return nil, errors.New("no key service configured")
	}
	if err := r.remote.Health(ctx); err != nil {
		return nil, err
	}
	return r.remote.Get(ctx, target)
}

func (r *Resolver) readLocal(target string, mode types.KeyMode) (*KeyMaterial, error) {
	key, err := r.local.Read(r.targetDir(target))
	if err != nil {
		metrics.KeyResolutions.WithLabelValues(string(mode), "failed").Inc()
		return nil, errdefs.ResourceUnavailable(err)
	}
	metrics.KeyResolutions.WithLabelValues(string(mode), "local").Inc()
	return newKeyMaterial(target, types.KeySourceLocalFile, mode, key)
}

// Provision stores a new passphrase for target in the key service and
// persists the retrieval mode marker. A local copy is written only when
// the policy allows it.
func (r *Resolver) Provision(ctx context.Context, target string, key *KeyMaterial, strict bool) error {
	if r.remote == nil {
		return errors.New("no key service configured")
	}
	if err := r.remote.Health(ctx); err != nil {
		return errdefs.ResourceUnavailable(err)
	}
	if err := r.remote.Store(ctx, target, key.Bytes()); err != nil {
		return fmt.Errorf("failed to store key for %s: %w", target, err)
	}

	dir := r.targetDir(target)
	if err := os.WriteFile(filepath.Join(dir, MarkerRemote), nil, 0644); err != nil {
		return fmt.Errorf("failed to write key mode marker: %w", err)
	}
	if strict {
		if err := os.WriteFile(filepath.Join(dir, MarkerStrict), nil, 0644); err != nil {
			return fmt.Errorf("failed to write strict marker: %w", err)
		}
	}

	if r.policy.AllowLocalBackup && !strict {
		if err := r.local.Write(dir, key.Bytes()); err != nil {
			return fmt.Errorf("failed to write local key copy: %w", err)
		}
		r.logger.Info().Str("target", target).Msg("Local key copy written")
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
