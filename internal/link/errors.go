package link

import "errors"

var (
	// ErrNotConnected is returned when an operation needs an open link.
	ErrNotConnected = errors.New("device not connected")

	// ErrConnectFailed wraps open and handshake failures. The link is
	// always left fully closed, never half-initialized.
	ErrConnectFailed = errors.New("connection failed")

	// ErrAckTimeout means no acknowledgment arrived within the window.
	// The hardware's actual execution status is unknown, not necessarily
	// failed: the command may have been executed and only the reply lost.
	ErrAckTimeout = errors.New("acknowledgment timeout")
)
