package ws

import "errors"

var (
	// ErrHandshakeTimeout indicates the websocket handshake exceeded the configured timeout.
	ErrHandshakeTimeout = errors.New("websocket handshake timed out")
	// ErrNotConnected is returned by Emit while no connection is up.
	ErrNotConnected = errors.New("websocket not connected")
	// ErrClientClosed is returned after Close.
	ErrClientClosed = errors.New("websocket client closed")
)
