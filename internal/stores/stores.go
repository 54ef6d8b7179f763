// Package stores declares the preference stores prefd serves.
package stores

import (
	"context"
	"os"
	"strings"

	"github.com/kalambet/prefd/internal/persistent"
)

const (
	SettingsName = "settings"
	SessionName  = "session"
)

// Handles holds the handles of the registered stores.
type Handles struct {
	Settings persistent.Handle
	Session  persistent.Handle
}

// Settings holds user-facing application preferences.
func Settings() persistent.Descriptor {
	return persistent.Descriptor{
		Name: SettingsName,
		Keys: []persistent.Key{
			{Name: "theme", Kind: persistent.KindString, Default: "system"},
			{Name: "language", Kind: persistent.KindString, Default: "en"},
			{Name: "autoUpdate", Kind: persistent.KindBool, Default: true},
			{Name: "recentFiles", Kind: persistent.KindList, Default: []string{}},
		},
		Defaults: func(ctx context.Context) (persistent.Props, error) {
			return persistent.Props{"language": systemLanguage()}, nil
		},
	}
}

// Session holds window state restored on the next launch.
func Session() persistent.Descriptor {
	return persistent.Descriptor{
		Name: SessionName,
		Keys: []persistent.Key{
			{Name: "lastOpened", Kind: persistent.KindString, Default: ""},
			{Name: "windowBounds", Kind: persistent.KindObject, Default: WindowBounds{Width: 1024, Height: 768}},
			{Name: "zoom", Kind: persistent.KindFloat, Default: 1.0},
		},
	}
}

// WindowBounds is the value of session.windowBounds.
type WindowBounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Register registers every store with r.
func Register(r *persistent.Registry) (Handles, error) {
	settings, err := r.Register(Settings())
	if err != nil {
		return Handles{}, err
	}
	session, err := r.Register(Session())
	if err != nil {
		return Handles{}, err
	}
	return Handles{Settings: settings, Session: session}, nil
}

// systemLanguage derives a language code from the locale environment,
// e.g. "de_DE.UTF-8" becomes "de".
func systemLanguage() string {
	for _, env := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		v := os.Getenv(env)
		if v == "" || v == "C" || v == "POSIX" {
			continue
		}
		lang, _, _ := strings.Cut(v, ".")
		lang, _, _ = strings.Cut(lang, "_")
		if lang != "" {
			return strings.ToLower(lang)
		}
	}
	return "en"
}
