package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ApplyRetention keeps the keep newest snapshot directories of dir, by
// name, and removes the rest. It returns the removed names.
func ApplyRetention(dir string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	var snapshots []string
	for _, e := range entries {
		if e.IsDir() {
			snapshots = append(snapshots, e.Name())
		}
	}
	if len(snapshots) <= keep {
		return nil, nil
	}
	sort.Sort(sort.Reverse(sort.StringSlice(snapshots)))

	var removed []string
	for _, name := range snapshots[keep:] {
		if err := os.RemoveAll(filepath.Join(dir, name)); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", name, err)
		}
		removed = append(removed, name)
	}
	return removed, nil
}
