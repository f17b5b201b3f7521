package util

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/moneymoves/desklogin/internal/config"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// SetProxy configures the provided HTTP client with proxy settings from the configuration.
// It supports SOCKS5, HTTP, and HTTPS proxies. An empty or unparsable proxy URL leaves the
// client untouched.
func SetProxy(cfg *config.SDKConfig, httpClient *http.Client) *http.Client {
	if cfg == nil || strings.TrimSpace(cfg.ProxyURL) == "" {
		return httpClient
	}
	var transport *http.Transport
	proxyURL, errParse := url.Parse(cfg.ProxyURL)
	if errParse != nil {
		log.Warnf("ignoring invalid proxy-url: %v", errParse)
		return httpClient
	}
	switch proxyURL.Scheme {
	case "socks5":
		var proxyAuth *proxy.Auth
		if proxyURL.User != nil {
			username := proxyURL.User.Username()
			password, _ := proxyURL.User.Password()
			proxyAuth = &proxy.Auth{User: username, Password: password}
		}
		dialer, errSOCKS5 := proxy.SOCKS5("tcp", proxyURL.Host, proxyAuth, proxy.Direct)
		if errSOCKS5 != nil {
			log.Errorf("create SOCKS5 dialer failed: %v", errSOCKS5)
			return httpClient
		}
		transport = &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				if cd, ok := dialer.(proxy.ContextDialer); ok {
					return cd.DialContext(ctx, network, addr)
				}
				return dialer.Dial(network, addr)
			},
		}
	case "http", "https":
		transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	default:
		log.Warnf("unsupported proxy scheme %q", proxyURL.Scheme)
	}
	if transport != nil {
		httpClient.Transport = transport
	}
	return httpClient
}

// NewHTTPClient returns a proxy-aware client bounded by the configured request timeout.
func NewHTTPClient(cfg *config.SDKConfig) *http.Client {
	client := &http.Client{}
	if cfg != nil {
		client.Timeout = cfg.RequestTimeout()
	}
	return SetProxy(cfg, client)
}

// NewStreamingHTTPClient returns a proxy-aware client without an overall timeout, for
// long-lived streaming responses that are bounded by their request context instead.
func NewStreamingHTTPClient(cfg *config.SDKConfig) *http.Client {
	return SetProxy(cfg, &http.Client{})
}
