package keys

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/awnumar/memguard"

	"github.com/rothirschtec/Simple-Backup-Environment/pkg/types"
)

// KeyMaterial is a resolved passphrase held in locked memory.
// Callers Destroy it as soon as the volume is open.
type KeyMaterial struct {
	Target string
	Source types.KeySource
	Mode   types.KeyMode

	buf *memguard.LockedBuffer
}

// newKeyMaterial moves passphrase into a locked buffer and wipes the input slice
func newKeyMaterial(target string, source types.KeySource, mode types.KeyMode, passphrase []byte) (*KeyMaterial, error) {
	passphrase = bytes.TrimRight(passphrase, "\r\n")
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("empty passphrase for %s", target)
	}
	return &KeyMaterial{
		Target: target,
		Source: source,
		Mode:   mode,
		buf:    memguard.NewBufferFromBytes(passphrase),
	}, nil
}

// NewKeyMaterial wraps a passphrase supplied by the caller, for example one
// generated while formatting a volume
func NewKeyMaterial(target string, source types.KeySource, passphrase []byte) (*KeyMaterial, error) {
	return newKeyMaterial(target, source, types.KeyModeLocal, passphrase)
}

// GeneratedLength is the number of random bytes behind a generated passphrase
const GeneratedLength = 32

// Generate creates a random printable passphrase for a new volume
func Generate(target string, source types.KeySource) (*KeyMaterial, error) {
	raw := make([]byte, GeneratedLength)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate passphrase: %w", err)
	}
	defer memguard.WipeBytes(raw)

	encoded := make([]byte, base64.RawURLEncoding.EncodedLen(len(raw)))
	base64.RawURLEncoding.Encode(encoded, raw)
	return NewKeyMaterial(target, source, encoded)
}

// Reader returns the passphrase as a reader, for a command's stdin
func (k *KeyMaterial) Reader() io.Reader {
	return bytes.NewReader(k.Bytes())
}

// Bytes exposes the locked passphrase; the slice is invalid after Destroy
func (k *KeyMaterial) Bytes() []byte {
	if k == nil || k.buf == nil {
		return nil
	}
	return k.buf.Bytes()
}

// Destroy wipes the passphrase
func (k *KeyMaterial) Destroy() {
	if k != nil && k.buf != nil {
		k.buf.Destroy()
	}
}

// String never includes the passphrase
func (k *KeyMaterial) String() string {
	return fmt.Sprintf("KeyMaterial{target=%s source=%s mode=%s passphrase=<redacted>}", k.Target, k.Source, k.Mode)
}
