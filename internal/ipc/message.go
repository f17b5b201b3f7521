package ipc

// Message is the JSON envelope exchanged with bridge clients.
type Message struct {
	ID      string         `json:"id,omitempty"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Requests sent by clients. Each is answered with a MessageTypeResponse or
// MessageTypeError carrying the request id.
const (
	RequestGenerateSessionID     = "generate-session-id"
	RequestOpenAuthWindow        = "open-auth-window"
	RequestSignInWithToken       = "sign-in-with-token"
	RequestSignInWithGoogleToken = "sign-in-with-google-token"
	RequestStartSession          = "start-session"
	RequestCancelSession         = "cancel-session"
)

// Events pushed to every connected client.
const (
	EventAuthTokenReceived = "auth-token-received"
	EventOAuthReply        = "oauth-reply"
	EventAuthError         = "auth-error"
)

const (
	// MessageTypeResponse answers a request.
	MessageTypeResponse = "response"
	// MessageTypeError answers a request that failed.
	MessageTypeError = "error"
	// MessageTypePing represents ping messages from clients.
	MessageTypePing = "ping"
	// MessageTypePong represents pong responses back to clients.
	MessageTypePong = "pong"
)

func errorMessage(id string, err error) Message {
	return Message{ID: id, Type: MessageTypeError, Payload: map[string]any{"error": err.Error()}}
}
