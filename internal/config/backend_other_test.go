//go:build !darwin

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileBackendRoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	b := newPlatformBackend()
	if err := b.SetInt("server.port", 4300); err != nil {
		t.Fatal(err)
	}
	if err := b.SetString("log.level", "debug"); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(configFilePath()); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	reloaded := newPlatformBackend()
	port, ok, err := reloaded.GetInt("server.port")
	if err != nil || !ok || port != 4300 {
		t.Fatalf("GetInt = %d, %v, %v", port, ok, err)
	}
	level, ok, _ := reloaded.GetString("log.level")
	if !ok || level != "debug" {
		t.Fatalf("GetString = %q, %v", level, ok)
	}

	if err := reloaded.Delete("log.level"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := newPlatformBackend().GetString("log.level"); ok {
		t.Error("log.level still present after Delete")
	}
}

func TestSecretsFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)

	if _, err := keychainGet("prefd", "api_token"); err == nil {
		t.Fatal("expected error before the secret is stored")
	}
	if err := keychainSet("prefd", "api_token", "secret-value"); err != nil {
		t.Fatal(err)
	}
	got, err := keychainGet("prefd", "api_token")
	if err != nil || string(got) != "secret-value" {
		t.Fatalf("keychainGet = %q, %v", got, err)
	}

	info, err := os.Stat(filepath.Join(dir, "prefd", "secrets.json"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("secrets file mode = %v, want 0600", info.Mode().Perm())
	}
}
