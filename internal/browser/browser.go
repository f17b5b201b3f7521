// Package browser opens URLs in the user's default web browser.
// It wraps open-golang with platform-specific fallbacks behind an Opener interface
// so that login flows can be driven without launching anything in tests.
package browser

import (
	"fmt"
	"os/exec"
	"runtime"

	log "github.com/sirupsen/logrus"
	"github.com/skratchdot/open-golang/open"
)

// Opener launches a URL in an external browser.
type Opener interface {
	Open(url string) error
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(url string) error

// Open calls f(url).
func (f OpenerFunc) Open(url string) error { return f(url) }

// System opens URLs with the operating system's default browser.
type System struct{}

// Open implements Opener.
func (System) Open(url string) error { return OpenURL(url) }

var linuxBrowsers = []string{"xdg-open", "x-www-browser", "www-browser", "firefox", "chromium", "google-chrome"}

// OpenURL opens the specified URL in the default web browser.
// It first attempts to use a platform-agnostic library and falls back to
// platform-specific commands if that fails.
func OpenURL(url string) error {
	err := open.Run(url)
	if err == nil {
		log.Debug("Successfully opened URL using open-golang library")
		return nil
	}
	log.Debugf("open-golang failed: %v, trying platform-specific commands", err)
	return openURLPlatformSpecific(url)
}

func openURLPlatformSpecific(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "linux":
		for _, name := range linuxBrowsers {
			if _, err := exec.LookPath(name); err == nil {
				cmd = exec.Command(name, url)
				break
			}
		}
		if cmd == nil {
			return fmt.Errorf("no suitable browser found on Linux system")
		}
	default:
		return fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	log.Debugf("Running command: %s %v", cmd.Path, cmd.Args[1:])
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start browser command: %w", err)
	}
	go func() {
		// Reap the launcher; the browser itself outlives it.
		_ = cmd.Wait()
	}()
	return nil
}

// IsAvailable reports whether a browser launcher exists on this system.
func IsAvailable() bool {
	switch runtime.GOOS {
	case "darwin":
		_, err := exec.LookPath("open")
		return err == nil
	case "windows":
		_, err := exec.LookPath("rundll32")
		return err == nil
	case "linux":
		for _, name := range linuxBrowsers {
			if _, err := exec.LookPath(name); err == nil {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// GetPlatformInfo returns details about the current platform's browser opening capabilities.
func GetPlatformInfo() map[string]any {
	info := map[string]any{
		"os":        runtime.GOOS,
		"arch":      runtime.GOARCH,
		"available": IsAvailable(),
	}

	switch runtime.GOOS {
	case "darwin":
		info["default_command"] = "open"
	case "windows":
		info["default_command"] = "rundll32"
	case "linux":
		var available []string
		for _, name := range linuxBrowsers {
			if _, err := exec.LookPath(name); err == nil {
				available = append(available, name)
			}
		}
		info["available_browsers"] = available
		if len(available) > 0 {
			info["default_command"] = available[0]
		}
	}
	return info
}
