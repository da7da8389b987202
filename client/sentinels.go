package client

import "errors"

var (
	// ErrTokenExpired reports the connect token aged out before the
	// handshake completed.
	ErrTokenExpired = errors.New("connect token expired")
	// ErrInvalidToken reports an unusable connect token.
	ErrInvalidToken = errors.New("invalid connect token")
	// ErrTimedOut reports an established connection that stopped hearing
	// from the server.
	ErrTimedOut = errors.New("connection timed out")
	// ErrRequestTimedOut reports no challenge ever arrived.
	ErrRequestTimedOut = errors.New("connection request timed out")
	// ErrResponseTimedOut reports the server never confirmed the response.
	ErrResponseTimedOut = errors.New("connection response timed out")
	// ErrDenied reports the server refused the connection.
	ErrDenied = errors.New("connection denied")

	// ErrNotConnected reports a send before the handshake completed.
	ErrNotConnected = errors.New("client is not connected")
	// ErrUnknownServerAddr reports a connect address missing from the
	// token's allow-list.
	ErrUnknownServerAddr = errors.New("server address not in connect token")
)
