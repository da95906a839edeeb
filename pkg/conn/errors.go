package conn

import "errors"

var (
	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = errors.New("conn: closed")

	// ErrAlreadyOpen is returned when Open is called twice.
	ErrAlreadyOpen = errors.New("conn: already open")

	// ErrNoURL is returned when no endpoint is configured.
	ErrNoURL = errors.New("conn: endpoint URL required")
)
