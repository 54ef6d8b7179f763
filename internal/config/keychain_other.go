//go:build !darwin

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kalambet/prefd/internal/persistent/fsstore"
)

var errSecretNotFound = errors.New("secret not found")

func secretsFilePath() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "prefd", "secrets.json")
}

// readSecrets returns the secrets file as service -> account -> value.
// A missing file is an empty set.
func readSecrets(disk *fsstore.Disk, path string) (map[string]map[string]string, error) {
	secrets := make(map[string]map[string]string)
	exists, err := disk.Exists(path)
	if err != nil || !exists {
		return secrets, err
	}
	data, err := disk.Read(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

func keychainGet(service, account string) ([]byte, error) {
	secrets, err := readSecrets(fsstore.New(), secretsFilePath())
	if err != nil {
		return nil, err
	}
	val, ok := secrets[service][account]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", errSecretNotFound, service, account)
	}
	return []byte(val), nil
}

func keychainSet(service, account, value string) error {
	p := secretsFilePath()
	disk := fsstore.New()

	secrets, err := readSecrets(disk, p)
	if err != nil {
		return err
	}
	if secrets[service] == nil {
		secrets[service] = make(map[string]string)
	}
	secrets[service][account] = value

	if err := disk.MkdirAll(filepath.Dir(p)); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return disk.Write(p, out)
}
