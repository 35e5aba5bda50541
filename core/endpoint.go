package core

// EndpointProvider provides a list of endpoints to register dynamically
type EndpointProvider interface {
	Endpoints() []*Endpoint
}

// Endpoint is a framework-agnostic route. Adapters bind a handler to it by
// OperationID.
type Endpoint struct {
	Path     string
	Method   string
	Metadata EndpointMetadata
}

type EndpointMetadata struct {
	OperationID string
	Description string
	// Command endpoints answer 202 and report their outcome as an event.
	Command bool
}

// ErrorResponse represents an error response structure
type ErrorResponse struct {
	Error string    `json:"error"`
	Kind  ErrorKind `json:"kind,omitempty"`
	Field string    `json:"field,omitempty"`
}
