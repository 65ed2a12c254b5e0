// Package errdefs defines the error kinds SBE components return.
//
// Kinds are sentinel errors built on github.com/cockroachdb/errors. Errors
// are tagged with errors.Mark so callers classify them with the Is helpers
// while the original message and cause chain stay intact:
//
//	if errdefs.IsConfiguration(err) {
//	    logger.Warn().Err(err).Msg("Skipping job")
//	    continue
//	}
//
// Captured stderr of a failed command travels as an error detail, retrieved
// with Stderr.
package errdefs

import (
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	// ErrConfiguration marks an unusable job definition or trigger rule
	ErrConfiguration = errors.New("configuration error")

	// ErrResourceUnavailable marks a missing storage root, unmountable volume or unresolvable key
	ErrResourceUnavailable = errors.New("resource unavailable")

	// ErrExternalTool marks a non-zero exit of an invoked command
	ErrExternalTool = errors.New("external tool failure")

	// ErrCollision marks a device-mapper name that stayed taken after recovery
	ErrCollision = errors.New("device name collision")

	// ErrCatastrophic marks an unexpected failure of the scheduler loop
	ErrCatastrophic = errors.New("catastrophic scheduler error")
)

const stderrDetailPrefix = "stderr: "

// Configuration marks err as a configuration error
func Configuration(err error) error {
	return errors.Mark(err, ErrConfiguration)
}

// Configurationf creates a configuration error
func Configurationf(format string, args ...interface{}) error {
	return Configuration(errors.Newf(format, args...))
}

// ResourceUnavailable marks err as a resource availability error
func ResourceUnavailable(err error) error {
	return errors.Mark(err, ErrResourceUnavailable)
}

// ResourceUnavailablef creates a resource availability error
func ResourceUnavailablef(format string, args ...interface{}) error {
	return ResourceUnavailable(errors.Newf(format, args...))
}

// ExternalTool creates an external tool failure for the named command,
// attaching the captured stderr as a detail
func ExternalTool(tool string, cause error, stderr string) error {
	err := errors.Wrapf(cause, "%s failed", tool)
	if s := strings.TrimSpace(stderr); s != "" {
		err = errors.WithDetail(err, stderrDetailPrefix+s)
	}
	return errors.Mark(err, ErrExternalTool)
}

// Collision creates a collision error for a device name
func Collision(name string, cause error) error {
	return errors.Mark(errors.Wrapf(cause, "device name %s still in use", name), ErrCollision)
}

// Catastrophic marks err as fatal for the scheduler
func Catastrophic(err error) error {
	return errors.Mark(err, ErrCatastrophic)
}

func IsConfiguration(err error) bool       { return err != nil && errors.Is(err, ErrConfiguration) }
func IsResourceUnavailable(err error) bool { return err != nil && errors.Is(err, ErrResourceUnavailable) }
func IsExternalTool(err error) bool        { return err != nil && errors.Is(err, ErrExternalTool) }
func IsCollision(err error) bool           { return err != nil && errors.Is(err, ErrCollision) }
func IsCatastrophic(err error) bool        { return err != nil && errors.Is(err, ErrCatastrophic) }

// Stderr returns the captured stderr attached by ExternalTool, if any
func Stderr(err error) string {
	for _, d := range errors.GetAllDetails(err) {
		if strings.HasPrefix(d, stderrDetailPrefix) {
			return strings.TrimPrefix(d, stderrDetailPrefix)
		}
	}
	return ""
}

// Message renders err with its captured stderr for notifications and status output
func Message(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if s := Stderr(err); s != "" {
		msg += ": " + s
	}
	return msg
}
