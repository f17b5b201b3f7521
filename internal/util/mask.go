package util

import (
	"net/url"
	"strings"
)

// HideToken obscures a secret for logging purposes, showing only the first and last few characters.
func HideToken(token string) string {
	if len(token) > 8 {
		return token[:4] + "..." + token[len(token)-4:]
	} else if len(token) > 4 {
		return token[:2] + "..." + token[len(token)-2:]
	} else if len(token) > 2 {
		return token[:1] + "..." + token[len(token)-1:]
	}
	return token
}

// MaskSensitiveQuery masks sensitive query parameters within the raw query string.
// Authorization codes, tokens, secrets and keys are masked; everything else is kept verbatim.
func MaskSensitiveQuery(raw string) string {
	if raw == "" {
		return ""
	}
	parts := strings.Split(raw, "&")
	changed := false
	for i, part := range parts {
		if part == "" {
			continue
		}
		keyPart := part
		valuePart := ""
		if idx := strings.Index(part, "="); idx >= 0 {
			keyPart = part[:idx]
			valuePart = part[idx+1:]
		}
		decodedKey, err := url.QueryUnescape(keyPart)
		if err != nil {
			decodedKey = keyPart
		}
		if !shouldMaskQueryParam(decodedKey) {
			continue
		}
		decodedValue, err := url.QueryUnescape(valuePart)
		if err != nil {
			decodedValue = valuePart
		}
		masked := HideToken(strings.TrimSpace(decodedValue))
		parts[i] = keyPart + "=" + url.QueryEscape(masked)
		changed = true
	}
	if !changed {
		return raw
	}
	return strings.Join(parts, "&")
}

func shouldMaskQueryParam(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return false
	}
	key = strings.TrimSuffix(key, "[]")
	switch key {
	case "code", "key", "auth":
		return true
	}
	if strings.Contains(key, "api-key") || strings.Contains(key, "apikey") || strings.Contains(key, "api_key") {
		return true
	}
	return strings.Contains(key, "token") || strings.Contains(key, "secret")
}
