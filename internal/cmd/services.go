package cmd

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/moneymoves/desklogin/internal/auth/firebase"
	"github.com/moneymoves/desklogin/internal/auth/google"
	"github.com/moneymoves/desklogin/internal/browser"
	"github.com/moneymoves/desklogin/internal/callback"
	"github.com/moneymoves/desklogin/internal/config"
	"github.com/moneymoves/desklogin/internal/session"
	"github.com/moneymoves/desklogin/internal/store"
	"github.com/moneymoves/desklogin/internal/util"
	log "github.com/sirupsen/logrus"
)

// LoginOptions contains options for the login entry points.
type LoginOptions struct {
	// NoBrowser prints login URLs instead of launching the browser.
	NoBrowser bool
	// OutputPath receives the credential JSON after a successful sign-in.
	OutputPath string
	// Out receives URLs and instructions printed for the user. Nil uses os.Stdout.
	Out io.Writer
}

// Services is the service context shared by every entry point.
type Services struct {
	Config      *config.Config
	Coordinator *session.Coordinator
	Listener    *callback.Server
	Store       store.Adapter
	Provider    *google.Client
	// Firebase is nil when the Admin SDK is not configured or failed to initialize.
	Firebase *firebase.App
}

// BuildServices constructs the service context once. Token store and Firebase failures
// are not fatal: the affected strategy is disabled and the coordinator decides at
// session start whether any path is left.
func BuildServices(ctx context.Context, cfg *config.Config, options *LoginOptions) *Services {
	if options == nil {
		options = &LoginOptions{}
	}
	out := options.Out
	if out == nil {
		out = os.Stdout
	}

	svc := &Services{Config: cfg}
	if firebaseConfigured(cfg) {
		app, err := firebase.NewApp(ctx, cfg)
		if err != nil {
			log.WithError(err).Warn("Firebase unavailable, redirect sign-ins will be delivered unverified")
		} else {
			svc.Firebase = app
		}
	}

	svc.Store, _ = store.Open(ctx, cfg, storeOptions(ctx, cfg, svc.Firebase))
	svc.Listener = callback.NewServer(cfg.CallbackPort, cfg.CallbackPath)
	svc.Provider = google.NewClient(cfg.Google, util.NewHTTPClient(&cfg.SDKConfig))

	deps := session.Deps{
		Provider: svc.Provider,
		Store:    svc.Store,
		Listener: svc.Listener,
		Opener: &browser.Console{
			Out:          out,
			NoBrowser:    options.NoBrowser || cfg.NoBrowser,
			CallbackPort: cfg.CallbackPort,
		},
		Policy: cfg.FallbackPolicy,
	}
	if svc.Firebase != nil {
		deps.Minter = svc.Firebase
	}
	svc.Coordinator = session.NewCoordinator(deps, session.OptionsFromConfig(cfg))
	return svc
}

func firebaseConfigured(cfg *config.Config) bool {
	f := cfg.Firebase
	return strings.TrimSpace(f.ProjectID) != "" ||
		strings.TrimSpace(f.DatabaseURL) != "" ||
		strings.TrimSpace(f.CredentialsFile) != ""
}

// storeOptions authorizes the realtime database store with the Admin SDK credentials.
func storeOptions(ctx context.Context, cfg *config.Config, app *firebase.App) store.OpenOptions {
	var opts store.OpenOptions
	if app == nil || cfg.Store.Type != config.StoreFirebase {
		return opts
	}
	client, err := app.DatabaseHTTPClient(ctx)
	if err != nil {
		log.WithError(err).Warn("realtime database credentials unavailable, streaming unauthenticated")
	} else {
		opts.FirebaseHTTPClient = client
	}
	if database, errDB := app.Database(ctx); errDB == nil {
		opts.FirebaseDB = store.FromFirebaseDB(database)
	} else {
		log.WithError(errDB).Debug("realtime database admin client unavailable, using REST")
	}
	return opts
}

// Close releases the listener and the token store.
func (s *Services) Close(ctx context.Context) {
	if s == nil {
		return
	}
	if s.Listener != nil {
		if err := s.Listener.Stop(ctx); err != nil {
			log.WithError(err).Debug("callback listener stop failed")
		}
	}
	store.Close(s.Store)
}
