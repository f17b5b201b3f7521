package firebase

import (
	"context"
	"fmt"
	"os"

	"github.com/moneymoves/desklogin/internal/util"
	"golang.org/x/oauth2/google"
)

func credentialsFromFile(ctx context.Context, file string) (*google.Credentials, error) {
	resolved, err := util.ResolvePath(file)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	return google.CredentialsFromJSON(ctx, data, databaseScopes...)
}
