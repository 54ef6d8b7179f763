//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultsDomain = "com.prefd.app"

func defaultDataDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, "Library", "Application Support", "prefd")
	}
	return "prefd-data"
}

// darwinBackend keeps settings in UserDefaults through the defaults CLI.
type darwinBackend struct {
	domain string
	// run executes the defaults tool; replaced in tests.
	run func(args ...string) ([]byte, error)
}

func newPlatformBackend() ConfigBackend {
	return &darwinBackend{domain: defaultsDomain, run: runDefaults}
}

func runDefaults(args ...string) ([]byte, error) {
	return exec.Command("defaults", args...).CombinedOutput()
}

// read returns ok=false when the key is not set: defaults exits 1 for
// missing keys.
func (b *darwinBackend) read(key string) (string, bool, error) {
	out, err := b.run("read", b.domain, key)
	s := strings.TrimSpace(string(out))
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading default for key %q: %w, output: %s", key, err, s)
	}
	return s, true, nil
}

func (b *darwinBackend) write(key string, args ...string) error {
	out, err := b.run(append([]string{"write", b.domain, key}, args...)...)
	if err != nil {
		return fmt.Errorf("writing default for key %q: %w, output: %s", key, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (b *darwinBackend) GetString(key string) (string, bool, error) {
	return b.read(key)
}

func (b *darwinBackend) GetInt(key string) (int, bool, error) {
	s, ok, err := b.read(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return i, true, nil
}

func (b *darwinBackend) SetString(key, val string) error {
	return b.write(key, "-string", val)
}

func (b *darwinBackend) SetInt(key string, val int) error {
	return b.write(key, "-int", strconv.Itoa(val))
}

func (b *darwinBackend) Delete(key string) error {
	if _, err := b.run("delete", b.domain, key); err != nil {
		return fmt.Errorf("deleting default for key %q: %w", key, err)
	}
	return nil
}
