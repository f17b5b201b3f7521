package misc

import (
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// LogSavingCredentials emits a consistent log message when persisting a credential.
func LogSavingCredentials(path string) {
	if path == "" {
		return
	}
	log.Infof("Saving credential to %s", filepath.Clean(path))
}
