package auth

import (
	"errors"
	"fmt"
	"net/http"
)

// OAuthError represents an error body returned by the identity provider.
type OAuthError struct {
	// Code is the OAuth error code.
	Code string `json:"error"`
	// Description is a human-readable description of the error.
	Description string `json:"error_description,omitempty"`
	// URI is a URI identifying a human-readable web page with information about the error.
	URI string `json:"error_uri,omitempty"`
	// StatusCode is the HTTP status code associated with the error.
	StatusCode int `json:"-"`
}

// Error returns a string representation of the OAuth error.
func (e *OAuthError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("OAuth error %s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("OAuth error: %s", e.Code)
}

// NewOAuthError creates a new OAuth error with the specified code, description, and status code.
func NewOAuthError(code, description string, statusCode int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		StatusCode:  statusCode,
	}
}

// AuthenticationError represents a login failure of a specific type.
type AuthenticationError struct {
	// Type is the type of authentication error.
	Type string `json:"type"`
	// Message is a human-readable message describing the error.
	Message string `json:"message"`
	// Code is the HTTP status code associated with the error.
	Code int `json:"code"`
	// Cause is the underlying error that caused this authentication error.
	Cause error `json:"-"`
}

// Error returns a string representation of the authentication error.
func (e *AuthenticationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *AuthenticationError) Unwrap() error { return e.Cause }

// Is matches another AuthenticationError by type. A reused code also matches ErrProvider.
func (e *AuthenticationError) Is(target error) bool {
	var t *AuthenticationError
	if !errors.As(target, &t) || t == nil {
		return false
	}
	if e.Type == t.Type {
		return true
	}
	return e.Type == ErrCodeReused.Type && t.Type == ErrProvider.Type
}

// Error types.
var (
	// ErrConfiguration reports missing or placeholder provider credentials.
	ErrConfiguration = &AuthenticationError{
		Type:    "configuration_error",
		Message: "Identity provider client is not configured",
		Code:    http.StatusPreconditionFailed,
	}

	// ErrProvider reports a non-2xx answer from the authorization, token or profile endpoint.
	ErrProvider = &AuthenticationError{
		Type:    "provider_error",
		Message: "Identity provider rejected the request",
		Code:    http.StatusBadGateway,
	}

	// ErrCodeReused reports a second exchange of the same authorization code.
	ErrCodeReused = &AuthenticationError{
		Type:    "code_reused",
		Message: "Authorization code was already exchanged",
		Code:    http.StatusBadRequest,
	}

	// ErrStoreUnavailable reports a token store that cannot be reached or initialized.
	ErrStoreUnavailable = &AuthenticationError{
		Type:    "store_unavailable",
		Message: "Token store is unavailable",
		Code:    http.StatusServiceUnavailable,
	}

	// ErrSessionTimeout reports a session deadline that elapsed with nothing resolved.
	ErrSessionTimeout = &AuthenticationError{
		Type:    "session_timeout",
		Message: "Timeout waiting for sign-in",
		Code:    http.StatusRequestTimeout,
	}

	// ErrTransientPoll reports one failed store poll.
	ErrTransientPoll = &AuthenticationError{
		Type:    "transient_poll",
		Message: "Token store poll failed",
		Code:    http.StatusServiceUnavailable,
	}

	// ErrServerStartFailed represents an error when starting the OAuth callback server fails.
	ErrServerStartFailed = &AuthenticationError{
		Type:    "server_start_failed",
		Message: "Failed to start OAuth callback server",
		Code:    http.StatusInternalServerError,
	}

	// ErrPortInUse represents an error when the OAuth callback port is already in use.
	ErrPortInUse = &AuthenticationError{
		Type:    "port_in_use",
		Message: "OAuth callback port is already in use",
		Code:    13, // Special exit code for port-in-use
	}

	// ErrBrowserOpenFailed represents an error when opening the browser for authentication fails.
	ErrBrowserOpenFailed = &AuthenticationError{
		Type:    "browser_open_failed",
		Message: "Failed to open browser for authentication",
		Code:    http.StatusInternalServerError,
	}

	// ErrSessionCancelled reports a session torn down by its caller.
	ErrSessionCancelled = &AuthenticationError{
		Type:    "session_cancelled",
		Message: "Sign-in was cancelled",
		Code:    http.StatusGone,
	}

	// ErrCallbackFailed reports an error parameter delivered to the callback endpoint.
	ErrCallbackFailed = &AuthenticationError{
		Type:    "callback_failed",
		Message: "Identity provider redirected with an error",
		Code:    http.StatusUnauthorized,
	}
)

// NewAuthenticationError creates a new authentication error with a cause based on a base error.
func NewAuthenticationError(baseErr *AuthenticationError, cause error) *AuthenticationError {
	return &AuthenticationError{
		Type:    baseErr.Type,
		Message: baseErr.Message,
		Code:    baseErr.Code,
		Cause:   cause,
	}
}

// IsAuthenticationError checks if an error is an authentication error.
func IsAuthenticationError(err error) bool {
	var authenticationError *AuthenticationError
	ok := errors.As(err, &authenticationError)
	return ok
}

// IsOAuthError checks if an error is an OAuth error.
func IsOAuthError(err error) bool {
	var oAuthError *OAuthError
	ok := errors.As(err, &oAuthError)
	return ok
}

// GetUserFriendlyMessage returns a user-friendly error message based on the error type.
func GetUserFriendlyMessage(err error) string {
	if err == nil {
		return ""
	}
	var authErr *AuthenticationError
	if errors.As(err, &authErr) {
		switch authErr.Type {
		case ErrConfiguration.Type:
			return "Sign-in is not configured. Set GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET and try again."
		case ErrProvider.Type:
			var oauthErr *OAuthError
			if errors.As(err, &oauthErr) {
				return oauthMessage(oauthErr)
			}
			return "Google rejected the sign-in request. Please try again."
		case ErrCodeReused.Type:
			return "This sign-in link was already used. Please start again."
		case ErrStoreUnavailable.Type:
			return "The sign-in service is unreachable. Please check your connection and try again."
		case ErrSessionTimeout.Type:
			return "Sign-in timed out. Please try again."
		case ErrPortInUse.Type:
			return "The sign-in callback port is already in use. Close the other application using it and try again."
		case ErrServerStartFailed.Type:
			return "Could not start the local sign-in listener."
		case ErrBrowserOpenFailed.Type:
			return "Could not open your browser automatically. Please copy and paste the URL manually."
		case ErrSessionCancelled.Type:
			return "Sign-in was cancelled."
		case ErrCallbackFailed.Type:
			return "Sign-in was cancelled or denied in the browser."
		default:
			return "Authentication failed. Please try again."
		}
	}
	var oauthErr *OAuthError
	if errors.As(err, &oauthErr) {
		return oauthMessage(oauthErr)
	}
	return "An unexpected error occurred. Please try again."
}

func oauthMessage(oauthErr *OAuthError) string {
	switch oauthErr.Code {
	case "access_denied":
		return "Authentication was cancelled or denied."
	case "invalid_request":
		return "Invalid authentication request. Please try again."
	case "invalid_grant":
		return "The sign-in code expired or was already used. Please start again."
	case "server_error":
		return "Authentication server error. Please try again later."
	default:
		if oauthErr.Description != "" {
			return fmt.Sprintf("Authentication failed: %s", oauthErr.Description)
		}
		return fmt.Sprintf("Authentication failed: %s", oauthErr.Code)
	}
}
