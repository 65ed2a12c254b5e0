package errdefs

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestKinds(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"configuration", Configurationf("unknown interval %q", "5x"), IsConfiguration},
		{"resource", ResourceUnavailablef("storage root missing"), IsResourceUnavailable},
		{"external tool", ExternalTool("mount", errors.New("exit status 32"), "wrong fs type"), IsExternalTool},
		{"collision", Collision("sbe_abcd1234_mapper", errors.New("busy")), IsCollision},
		{"catastrophic", Catastrophic(errors.New("panic")), IsCatastrophic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			wrapped := fmt.Errorf("job db01/daily: %w", tt.err)
			assert.True(t, tt.check(wrapped), "kind must survive fmt wrapping")
		})
	}
}

func TestKindsAreDistinct(t *testing.T) {
	err := Configurationf("bad date")
	assert.False(t, IsExternalTool(err))
	assert.False(t, IsCollision(err))
	assert.False(t, IsResourceUnavailable(nil))
}

func TestExternalToolStderr(t *testing.T) {
	err := ExternalTool("cryptsetup luksOpen", errors.New("exit status 2"), "No key available with this passphrase.\n")

	assert.Equal(t, "No key available with this passphrase.", Stderr(err))
	assert.Contains(t, err.Error(), "cryptsetup luksOpen failed")
	assert.Equal(t, "cryptsetup luksOpen failed: exit status 2: No key available with this passphrase.", Message(err))
}

func TestExternalToolWithoutStderr(t *testing.T) {
	err := ExternalTool("umount", errors.New("exit status 1"), "  ")
	assert.Empty(t, Stderr(err))
	assert.Equal(t, err.Error(), Message(err))
}
