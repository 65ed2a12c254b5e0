package volume

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rothirschtec/Simple-Backup-Environment/pkg/errdefs"
)

// fakeHost simulates mount, device-mapper and cryptsetup state
type fakeHost struct {
	mu sync.Mutex

	passphrase string
	mapperDir  string

	mounts  map[string]string // mount point -> device
	mappers map[string]string // mapper name -> backing image

	stuck      map[string]bool // mappers that refuse to close or be removed
	failOpen   bool
	failMount  string // stderr returned by mount
	calls      []string
	openStdins []string
}

func newFakeHost(mapperDir string) *fakeHost {
	return &fakeHost{
		passphrase: "pw",
		mapperDir:  mapperDir,
		mounts:     map[string]string{},
		mappers:    map[string]string{},
		stuck:      map[string]bool{},
	}
}

func fail(line, stderr string) error {
	return errdefs.ExternalTool(line, errors.New("exit status 1"), stderr)
}

func (h *fakeHost) Run(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	line := commandLine(name, args...)
	h.calls = append(h.calls, line)

	switch name {
	case "findmnt":
		for mp, dev := range h.mounts {
			if args[0] == mp || args[0] == dev {
				return []byte(mp + " " + dev + "\n"), nil
			}
		}
		return nil, fail(line, "")

	case "mount":
		if h.failMount != "" {
			return nil, fail(line, h.failMount)
		}
		h.mounts[args[1]] = args[0]
		return nil, nil

	case "umount":
		for mp, dev := range h.mounts {
			if args[0] == mp || args[0] == dev {
				delete(h.mounts, mp)
				return nil, nil
			}
		}
		return nil, fail(line, "umount: "+args[0]+": not mounted.")

	case "dmsetup":
		switch args[0] {
		case "ls":
			if len(h.mappers) == 0 {
				return []byte("No devices found\n"), nil
			}
			names := make([]string, 0, len(h.mappers))
			for n := range h.mappers {
				names = append(names, n)
			}
			sort.Strings(names)
			var b strings.Builder
			for i, n := range names {
				fmt.Fprintf(&b, "%s\t(253:%d)\n", n, i)
			}
			return []byte(b.String()), nil
		case "remove":
			target := args[len(args)-1]
			if h.stuck[target] {
				return nil, fail(line, "device-mapper: remove ioctl failed: Device or resource busy")
			}
			h.closeMapper(target)
			return nil, nil
		}

	case "cryptsetup":
		switch args[0] {
		case "status":
			img, ok := h.mappers[args[1]]
			if !ok {
				return nil, fail(line, "")
			}
			return []byte(fmt.Sprintf("/dev/mapper/%s is active.\n  type:    LUKS2\n  device:  /dev/loop7\n  loop:    %s\n", args[1], img)), nil
		case "luksOpen":
			image, mapper := args[3], args[4]
			data, _ := io.ReadAll(stdin)
			h.openStdins = append(h.openStdins, string(data))
			if _, exists := h.mappers[mapper]; exists {
				return nil, fail(line, "Device "+mapper+" already exists.")
			}
			if h.failOpen || string(data) != h.passphrase {
				return nil, fail(line, "No key available with this passphrase.")
			}
			h.mappers[mapper] = image
			_ = os.WriteFile(filepath.Join(h.mapperDir, mapper), nil, 0644)
			return nil, nil
		case "luksClose":
			if h.stuck[args[1]] {
				return nil, fail(line, "Device "+args[1]+" is still in use.")
			}
			if _, ok := h.mappers[args[1]]; !ok {
				return nil, fail(line, "Device "+args[1]+" is not active.")
			}
			h.closeMapper(args[1])
			return nil, nil
		case "-q":
			return nil, nil
		}

	case "fallocate":
		return nil, os.WriteFile(args[len(args)-1], nil, 0600)

	case "mkfs.ext4":
		return nil, nil
	}

	return nil, fail(line, "unexpected command")
}

func (h *fakeHost) closeMapper(name string) {
	delete(h.mappers, name)
	_ = os.Remove(filepath.Join(h.mapperDir, name))
}

func (h *fakeHost) count(prefix string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}
