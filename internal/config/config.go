package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

const (
	secretService  = "prefd"
	apiTokenSecret = "api_token"
	apiTokenEnv    = "PREFD_API_TOKEN"
)

// dotenvPath is loaded into the environment before env overrides apply.
var dotenvPath = ".env"

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Log       LogConfig
	Transport TransportConfig
	History   HistoryConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type TransportConfig struct {
	// NATSURL enables the NATS broadcast fan-out when set.
	NATSURL string
}

type HistoryConfig struct {
	Enabled bool
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		History: HistoryConfig{
			Enabled: true,
		},
	}
}

// BaseURL is the loopback address the primary listens on.
func (c Config) BaseURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", c.Server.Port)
}

// StoresDir is the directory holding one JSON file per store.
func (c Config) StoresDir() string {
	return filepath.Join(c.Storage.DataDir, "stores")
}

// PIDFile is where a running primary records its process id.
func (c Config) PIDFile() string {
	return filepath.Join(c.Storage.DataDir, "prefd.pid")
}

// SlogLevel maps Log.Level to a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads configuration from the platform-native backend and environment
// variables.
//
// On macOS the backend is UserDefaults (domain: com.prefd.app).
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/prefd/config.json.
//
// A .env file in the working directory is loaded first; environment
// variables (PREFD_*) override backend values on all platforms.
func Load() (Config, error) {
	if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading %s: %w", dotenvPath, err)
	}
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return Config{}, fmt.Errorf("invalid server.port %d", cfg.Server.Port)
	}
	if cfg.Storage.DataDir == "" {
		return Config{}, fmt.Errorf("missing required config: storage.data_dir")
	}
	return cfg, nil
}

// keychain abstracts secret storage for testing.
type keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// GetAPIToken returns the bearer token shared by the primary and its
// secondaries. It is read from PREFD_API_TOKEN or the platform secret store;
// a missing token is generated and saved.
func GetAPIToken() (string, error) {
	return apiToken(systemKeychain{})
}

func apiToken(kc keychain) (string, error) {
	if tok := os.Getenv(apiTokenEnv); tok != "" {
		return tok, nil
	}
	if tok, err := kc.Get(secretService, apiTokenSecret); err == nil && tok != "" {
		return tok, nil
	}
	tok := uuid.New().String()
	if err := kc.Set(secretService, apiTokenSecret, tok); err != nil {
		return "", fmt.Errorf("saving API token: %w", err)
	}
	return tok, nil
}

// systemKeychain reads and writes the platform secret store.
type systemKeychain struct{}

func (systemKeychain) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (systemKeychain) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}
