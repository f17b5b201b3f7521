package util

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

var ipServices = []string{
	"https://api.ipify.org",
	"https://ifconfig.me/ip",
	"https://icanhazip.com",
}

// getPublicIP asks each external service in turn and returns the first answer.
func getPublicIP(ctx context.Context) (string, error) {
	for _, service := range ipServices {
		ip, err := fetchIP(ctx, service)
		if err != nil {
			log.Debugf("public IP lookup via %s failed: %v", service, err)
			continue
		}
		return ip, nil
	}
	return "", fmt.Errorf("all IP services failed")
}

func fetchIP(ctx context.Context, service string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, service, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Warnf("Failed to close response body from %s: %v", service, errClose)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bad status code %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

// getOutboundIP returns the local address used for outbound traffic.
func getOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer func() {
		if errClose := conn.Close(); errClose != nil {
			log.Warnf("Failed to close UDP connection: %v", errClose)
		}
	}()
	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("could not assert UDP address type")
	}
	return localAddr.IP.String(), nil
}

// GetIPAddress prefers the public address and falls back to the outbound one.
func GetIPAddress(ctx context.Context) string {
	if publicIP, err := getPublicIP(ctx); err == nil {
		return publicIP
	}
	if outboundIP, err := getOutboundIP(); err == nil {
		return outboundIP
	}
	return "127.0.0.1"
}

// PrintSSHTunnelInstructions writes the port-forward command a user on another machine needs
// so that the browser redirect can reach the callback listener on this one.
func PrintSSHTunnelInstructions(ctx context.Context, w io.Writer, port int) {
	ipAddress := GetIPAddress(ctx)
	border := strings.Repeat("=", 80)
	_, _ = fmt.Fprintln(w, "To sign in from a remote machine, an SSH tunnel may be required.")
	_, _ = fmt.Fprintln(w, border)
	_, _ = fmt.Fprintln(w, "  Run one of the following commands on the machine with the browser:")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "  ssh -L %d:127.0.0.1:%d root@%s -p 22\n", port, port, ipAddress)
	_, _ = fmt.Fprintf(w, "  ssh -i <path_to_your_key> -L %d:127.0.0.1:%d root@%s -p 22\n", port, port, ipAddress)
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "  NOTE: adjust '-p 22' if the SSH port differs.")
	_, _ = fmt.Fprintln(w, border)
}
