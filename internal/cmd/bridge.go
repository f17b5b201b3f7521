package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/moneymoves/desklogin/internal/auth"
	"github.com/moneymoves/desklogin/internal/config"
	"github.com/moneymoves/desklogin/internal/ipc"
	log "github.com/sirupsen/logrus"
)

// RunBridge serves the IPC bridge for an embedded UI until interrupted. The callback
// listener is started up front so redirects are forwarded even before a session begins.
func RunBridge(cfg *config.Config, options *LoginOptions) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := BuildServices(ctx, cfg, options)
	defer svc.Close(context.Background())

	if err := svc.Listener.Start(); err != nil {
		log.WithError(err).Warn(auth.GetUserFriendlyMessage(err))
	}

	deps := ipc.Deps{
		Sessions:  svc.Coordinator,
		Callbacks: svc.Listener,
		Profiles:  svc.Provider,
	}
	if svc.Firebase != nil {
		deps.Verifier = svc.Firebase
		deps.Minter = svc.Firebase
	}
	bridge := ipc.NewBridge(deps, ipc.Options{
		Path:           cfg.Bridge.Path,
		AllowedOrigins: cfg.Bridge.AllowedOrigins,
		MockFallback:   cfg.FallbackPolicy == config.FallbackMock,
	})
	if err := bridge.Start(cfg.Bridge.Port); err != nil {
		fmt.Fprintf(os.Stderr, "IPC bridge failed to start: %s\n", auth.GetUserFriendlyMessage(err))
		return 1
	}

	<-ctx.Done()
	log.Info("shutting down IPC bridge")
	if err := bridge.Stop(context.Background()); err != nil {
		log.WithError(err).Warn("IPC bridge shutdown failed")
	}
	return 0
}
