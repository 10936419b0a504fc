// Package protocol holds what the server and its clients must agree on.
package protocol

const (
	// Version changes when the JSON a wheel is served as changes shape.  A
	// client that listens with a different version gets the current wheel
	// at once, and should reload.
	Version = 1
)
