// Package misc provides small helpers for the login flow: session identifiers,
// callback URL parsing and config template bootstrapping.
package misc

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// GenerateSessionID returns a fresh random session identifier. It doubles as the
// OAuth state parameter of the redirect path.
func GenerateSessionID() string {
	return uuid.NewString()
}

// OAuthCallback captures the parsed OAuth callback parameters.
type OAuthCallback struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// ParseOAuthCallback extracts OAuth parameters from a callback URL pasted by the user.
// It returns nil when the input is empty.
func ParseOAuthCallback(input string) (*OAuthCallback, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, nil
	}

	candidate := trimmed
	if !strings.Contains(candidate, "://") {
		switch {
		case strings.HasPrefix(candidate, "?"):
			candidate = "http://localhost" + candidate
		case strings.HasPrefix(candidate, "/"):
			candidate = "http://localhost" + candidate
		case strings.ContainsAny(candidate, "/?#") || strings.Contains(candidate, ":"):
			candidate = "http://" + candidate
		case strings.Contains(candidate, "="):
			candidate = "http://localhost/?" + candidate
		default:
			return nil, fmt.Errorf("invalid callback URL")
		}
	}

	parsedURL, err := url.Parse(candidate)
	if err != nil {
		return nil, err
	}

	query := parsedURL.Query()
	cb := &OAuthCallback{
		Code:             strings.TrimSpace(query.Get("code")),
		State:            strings.TrimSpace(query.Get("state")),
		Error:            strings.TrimSpace(query.Get("error")),
		ErrorDescription: strings.TrimSpace(query.Get("error_description")),
	}

	if parsedURL.Fragment != "" {
		if fragQuery, errFrag := url.ParseQuery(parsedURL.Fragment); errFrag == nil {
			if cb.Code == "" {
				cb.Code = strings.TrimSpace(fragQuery.Get("code"))
			}
			if cb.State == "" {
				cb.State = strings.TrimSpace(fragQuery.Get("state"))
			}
			if cb.Error == "" {
				cb.Error = strings.TrimSpace(fragQuery.Get("error"))
			}
		}
	}

	if cb.Error == "" && cb.ErrorDescription != "" {
		cb.Error = cb.ErrorDescription
		cb.ErrorDescription = ""
	}

	if cb.Code == "" && cb.Error == "" {
		return nil, fmt.Errorf("callback URL missing code")
	}
	return cb, nil
}
