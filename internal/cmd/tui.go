package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/moneymoves/desklogin/internal/auth"
	"github.com/moneymoves/desklogin/internal/config"
	"github.com/moneymoves/desklogin/internal/logging"
	"github.com/moneymoves/desklogin/internal/tui"
	log "github.com/sirupsen/logrus"
)

// RunTUI shows the terminal login screen. Log output is diverted into the screen's log
// pane while it is running.
func RunTUI(cfg *config.Config, options *LoginOptions) int {
	if options == nil {
		options = &LoginOptions{}
	}
	hook := tui.NewLogHook(500, log.GetLevel())
	log.AddHook(hook)
	restore := logging.RedirectOutput(io.Discard)

	// URLs printed by the browser fallback would tear the screen; the login screen
	// shows them itself.
	options.Out = io.Discard
	svc := BuildServices(context.Background(), cfg, options)
	defer svc.Close(context.Background())

	err := tui.Run(svc.Coordinator, tui.Options{
		AutoStart: true,
		OnSignedIn: func(cred *auth.Credential) {
			if options.OutputPath == "" {
				return
			}
			if errSave := cred.SaveTokenToFile(options.OutputPath); errSave != nil {
				log.WithError(errSave).Error("failed to save credential")
			}
		},
		OnSignedOut: func() {
			if options.OutputPath == "" {
				return
			}
			if errRemove := os.Remove(options.OutputPath); errRemove != nil && !os.IsNotExist(errRemove) {
				log.WithError(errRemove).Warn("failed to remove saved credential")
			}
		},
	}, hook, os.Stdout)
	restore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}
