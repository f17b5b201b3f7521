package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/moneymoves/desklogin/internal/auth"
	"github.com/moneymoves/desklogin/internal/config"
	log "github.com/sirupsen/logrus"
)

// DoLogin runs one headless sign-in and prints the resulting credential as JSON.
// It returns the process exit code.
//
// Parameters:
//   - cfg: The application configuration
//   - options: Login options including browser behavior and the output path
func DoLogin(cfg *config.Config, options *LoginOptions) int {
	if options == nil {
		options = &LoginOptions{}
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := BuildServices(ctx, cfg, options)
	defer svc.Close(context.Background())

	cred, err := svc.Coordinator.StartSession(ctx)
	if err != nil {
		log.WithError(err).Debug("sign-in failed")
		fmt.Fprintf(os.Stderr, "Sign-in failed: %s\n", auth.GetUserFriendlyMessage(err))
		return 1
	}
	if err = writeCredential(cred, options.OutputPath); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	return 0
}

func writeCredential(cred *auth.Credential, outputPath string) error {
	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	fmt.Println(string(data))
	if outputPath == "" {
		return nil
	}
	if err = cred.SaveTokenToFile(outputPath); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	fmt.Printf("Credential saved to %s\n", outputPath)
	return nil
}
