package model

// WebSocket control message types
const (
	WSMessageTypePing  = "ping"
	WSMessageTypePong  = "pong"
	WSMessageTypeError = "error"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSErrorMessage is sent when a stream cannot be opened
type WSErrorMessage struct {
	Type      string  `json:"type"`
	ProjectID string  `json:"projectId"`
	Error     WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
