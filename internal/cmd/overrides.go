package cmd

import (
	"fmt"
	"strings"

	"github.com/moneymoves/desklogin/internal/config"
)

// Overrides are command-line settings that take precedence over the configuration file
// and the environment. Zero values leave the configuration untouched.
type Overrides struct {
	CallbackPort int
	Fallback     string
	StoreType    string
	NoBrowser    bool
}

// ApplyOverrides merges o into cfg and re-validates it. A redirect URI derived from the
// old callback port follows the new port; an explicitly configured one is kept.
func ApplyOverrides(cfg *config.Config, o Overrides) error {
	if o.CallbackPort > 0 && o.CallbackPort != cfg.CallbackPort {
		derived := fmt.Sprintf("http://localhost:%d%s", cfg.CallbackPort, cfg.CallbackPath)
		if cfg.Google.RedirectURI == derived {
			cfg.Google.RedirectURI = ""
		}
		cfg.CallbackPort = o.CallbackPort
	}
	if v := strings.TrimSpace(o.Fallback); v != "" {
		cfg.FallbackPolicy = v
	}
	if v := strings.TrimSpace(o.StoreType); v != "" {
		cfg.Store.Type = v
	}
	if o.NoBrowser {
		cfg.NoBrowser = true
	}
	cfg.ApplyDefaults()
	return cfg.Validate()
}
