package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/rothirschtec/Simple-Backup-Environment/pkg/types"
)

// HostConfigFile is the per-target settings file
const HostConfigFile = "server.config"

// DefaultSSHPort is used when PORT is missing
const DefaultSSHPort = 22

// ParseHostConfig parses shell-style KEY="value" lines
func ParseHostConfig(data string) (types.HostConfig, error) {
	cfg := types.HostConfig{Port: DefaultSSHPort, Extra: make(map[string]string)}

	scanner := bufio.NewScanner(strings.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, raw, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return cfg, fmt.Errorf("line %d: expected KEY=value", lineNo)
		}

		words, err := shellquote.Split(raw)
		if err != nil {
			return cfg, fmt.Errorf("line %d: %w", lineNo, err)
		}
		cfg.Extra[key] = strings.Join(words, " ")
	}
	if err := scanner.Err(); err != nil {
		return cfg, err
	}

	cfg.Server = cfg.Extra["SERVER"]
	cfg.User = cfg.Extra["USER"]
	cfg.Share = cfg.Extra["SHARE"]
	if p := cfg.Extra["PORT"]; p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return cfg, fmt.Errorf("invalid PORT %q", p)
		}
		cfg.Port = port
	}
	cfg.Encrypted = parseBool(cfg.Extra["ENCRYPTED"])
	return cfg, nil
}

// LoadHostConfig reads server.config from a target directory
func LoadHostConfig(targetDir string) (types.HostConfig, error) {
	data, err := os.ReadFile(filepath.Join(targetDir, HostConfigFile))
	if err != nil {
		return types.HostConfig{}, fmt.Errorf("failed to read host config: %w", err)
	}
	cfg, err := ParseHostConfig(string(data))
	if err != nil {
		return cfg, fmt.Errorf("invalid %s: %w", filepath.Join(targetDir, HostConfigFile), err)
	}
	return cfg, nil
}

// SaveHostConfig writes cfg.Extra (with the mapped fields applied) as
// shell-style assignments, sorted by key
func SaveHostConfig(targetDir string, cfg types.HostConfig) error {
	values := make(map[string]string, len(cfg.Extra)+5)
	for k, v := range cfg.Extra {
		values[k] = v
	}
	values["SERVER"] = cfg.Server
	values["USER"] = cfg.User
	values["SHARE"] = cfg.Share
	port := cfg.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	values["PORT"] = strconv.Itoa(port)
	values["ENCRYPTED"] = "false"
	if cfg.Encrypted {
		values["ENCRYPTED"] = "true"
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("# Server configuration for SBE\n\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, shellquote.Join(values[k]))
	}

	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}
	return os.WriteFile(filepath.Join(targetDir, HostConfigFile), []byte(b.String()), 0644)
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "y", "yes", "true", "on":
		return true
	}
	return false
}
