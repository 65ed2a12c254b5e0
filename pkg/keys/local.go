package keys

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rothirschtec/Simple-Backup-Environment/pkg/security"
)

// Files in a target directory
const (
	PassphraseFile = "passphrase"
	// MarkerRemote selects remote-first resolution
	MarkerRemote = ".use_keyserver"
	// MarkerStrict selects strict remote-only resolution
	MarkerStrict = ".strict_keys"
)

// LocalKeys reads and writes the local passphrase copy of a target
type LocalKeys interface {
	Read(targetDir string) ([]byte, error)
	Write(targetDir string, passphrase []byte) error
}

// FileStore keeps the passphrase in <targetDir>/passphrase, sealed when a
// Sealer is configured
type FileStore struct {
	Sealer *security.Sealer
}

// Read returns the passphrase, opening sealed files
func (f FileStore) Read(targetDir string) ([]byte, error) {
	path := filepath.Join(targetDir, PassphraseFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("passphrase file not found at %s: %w", path, err)
	}
	if !security.IsSealed(data) {
		return data, nil
	}
	if f.Sealer == nil {
		return nil, fmt.Errorf("passphrase file %s is sealed but no seal password is configured", path)
	}
	return f.Sealer.Open(data)
}

// Write stores the passphrase with mode 0600
func (f FileStore) Write(targetDir string, passphrase []byte) error {
	data := passphrase
	if f.Sealer != nil {
		sealed, err := f.Sealer.Seal(passphrase)
		if err != nil {
			return err
		}
		data = sealed
	}
	path := filepath.Join(targetDir, PassphraseFile)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write passphrase file: %w", err)
	}
	return nil
}
