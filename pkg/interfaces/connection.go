package interfaces

// Connection represents one observer connection on the event transport
type Connection interface {
	// WriteJSON sends a JSON message to the observer (thread-safe)
	WriteJSON(v interface{}) error

	// Close closes the connection and cleans up resources
	Close() error

	// GetID returns the server-assigned connection ID
	GetID() string
}
