// Package main provides the entry point for the desktop login coordinator.
// It signs the user in with Google, either through the local OAuth redirect or through
// a companion login page that hands the credential over via the shared token store.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/moneymoves/desklogin/internal/buildinfo"
	"github.com/moneymoves/desklogin/internal/cmd"
	"github.com/moneymoves/desklogin/internal/config"
	"github.com/moneymoves/desklogin/internal/logging"
	"github.com/moneymoves/desklogin/internal/misc"
	"github.com/moneymoves/desklogin/internal/util"
	log "github.com/sirupsen/logrus"
)

var (
	Version           = "dev"
	Commit            = "none"
	BuildDate         = "unknown"
	DefaultConfigPath = ""
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		login             bool
		tuiMode           bool
		bridge            bool
		noBrowser         bool
		showVersion       bool
		oauthCallbackPort int
		fallback          string
		storeType         string
		configPath        string
		outputPath        string
	)

	flag.BoolVar(&login, "login", false, "Run one headless sign-in and print the credential as JSON")
	flag.BoolVar(&tuiMode, "tui", false, "Show the terminal login screen (default)")
	flag.BoolVar(&bridge, "bridge", false, "Serve the IPC bridge for an embedded UI until interrupted")
	flag.BoolVar(&noBrowser, "no-browser", false, "Don't open browser automatically for OAuth")
	flag.BoolVar(&showVersion, "version", false, "Print version information and exit")
	flag.IntVar(&oauthCallbackPort, "oauth-callback-port", 0, "Override OAuth callback port (default 14500)")
	flag.StringVar(&fallback, "fallback", "", "Fallback policy: strict or mock")
	flag.StringVar(&storeType, "store", "", "Token store: none, memory, file, firebase, postgres or object")
	flag.StringVar(&configPath, "config", DefaultConfigPath, "Configure File Path")
	flag.StringVar(&outputPath, "out", "", "Save the credential JSON to this file after sign-in")
	flag.Parse()

	if modes := countTrue(login, tuiMode, bridge); modes > 1 {
		fmt.Fprintln(os.Stderr, "-login, -tui and -bridge are mutually exclusive")
		return 2
	}
	if showVersion {
		fmt.Printf("desklogin Version: %s, Commit: %s, BuiltAt: %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		return 0
	}

	wd, err := os.Getwd()
	if err != nil {
		log.Errorf("failed to get working directory: %v", err)
		return 1
	}

	// Load environment variables from .env if present.
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	configFilePath := strings.TrimSpace(configPath)
	if configFilePath == "" {
		configFilePath = filepath.Join(wd, "config.yaml")
		if _, errStat := os.Stat(configFilePath); errors.Is(errStat, fs.ErrNotExist) {
			examplePath := filepath.Join(wd, "config.example.yaml")
			if _, errExample := os.Stat(examplePath); errExample == nil {
				if errCopy := misc.CopyConfigTemplate(examplePath, configFilePath); errCopy != nil {
					log.WithError(errCopy).Warn("failed to initialize config from template")
				} else {
					log.Infof("config initialized from template: %s", configFilePath)
				}
			}
		}
	}

	// An explicit -config must exist; the implicit one is optional.
	cfg, err := config.LoadConfigOptional(configFilePath, configPath == "")
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		return 1
	}
	if err = cmd.ApplyOverrides(cfg, cmd.Overrides{
		CallbackPort: oauthCallbackPort,
		Fallback:     fallback,
		StoreType:    storeType,
		NoBrowser:    noBrowser,
	}); err != nil {
		log.Errorf("invalid configuration: %v", err)
		return 1
	}

	if err = logging.ConfigureLogOutput(cfg); err != nil {
		log.Errorf("failed to configure log output: %v", err)
		return 1
	}
	defer logging.Shutdown()
	util.SetLogLevel(cfg)
	log.Debugf("desklogin Version: %s, Commit: %s, BuiltAt: %s", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)

	options := &cmd.LoginOptions{
		NoBrowser:  cfg.NoBrowser,
		OutputPath: outputPath,
	}

	switch {
	case login:
		return cmd.DoLogin(cfg, options)
	case bridge:
		return cmd.RunBridge(cfg, options)
	default:
		return cmd.RunTUI(cfg, options)
	}
}

func countTrue(flags ...bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}
