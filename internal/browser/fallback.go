package browser

import (
	"context"
	"fmt"
	"io"

	"github.com/moneymoves/desklogin/internal/util"
	log "github.com/sirupsen/logrus"
)

// Console opens URLs with the system browser when one is available and allowed, and
// otherwise prints the URL together with SSH tunnel instructions for the callback port.
// A failed launch is reported to the caller after the URL has been printed.
type Console struct {
	// Out receives the printed URL and instructions.
	Out io.Writer
	// NoBrowser disables launching entirely.
	NoBrowser bool
	// CallbackPort is used in the SSH tunnel instructions. Zero omits them.
	CallbackPort int
	// Launch overrides the system launcher. Nil uses OpenURL.
	Launch func(url string) error
	// Available overrides browser detection. Nil uses IsAvailable.
	Available func() bool
}

// Open implements Opener.
func (c *Console) Open(url string) error {
	if !c.NoBrowser && c.available() {
		launch := c.Launch
		if launch == nil {
			launch = OpenURL
		}
		err := launch(url)
		if err == nil {
			log.Debug("Browser opened successfully")
			return nil
		}
		log.Debugf("Browser platform info: %+v", GetPlatformInfo())
		c.printManual(url)
		return err
	}
	if !c.NoBrowser {
		log.Warn("No browser available on this system")
	}
	c.printManual(url)
	return nil
}

func (c *Console) available() bool {
	if c.Available != nil {
		return c.Available()
	}
	return IsAvailable()
}

func (c *Console) printManual(url string) {
	if c.Out == nil {
		return
	}
	if c.CallbackPort > 0 {
		util.PrintSSHTunnelInstructions(context.Background(), c.Out, c.CallbackPort)
	}
	_, _ = fmt.Fprintf(c.Out, "Please open this URL in your browser:\n\n%s\n\n", url)
}
