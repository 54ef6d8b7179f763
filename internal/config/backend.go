package config

// ConfigBackend is where `prefd config set` persists daemon settings.
// macOS keeps them in UserDefaults (via the `defaults` CLI); other platforms
// use a JSON file under $XDG_CONFIG_HOME. Secrets never go through it.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
