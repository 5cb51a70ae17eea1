package rpc

import "errors"

var (
	// ErrInvalidMode is returned for an unknown server mode.
	ErrInvalidMode = errors.New("invalid server mode")

	// ErrAlreadyOpen is returned by Open on a server that is already listening.
	ErrAlreadyOpen = errors.New("server is already open")

	// ErrNilDispatcher is returned by NewServer without a dispatcher.
	ErrNilDispatcher = errors.New("dispatcher is nil")

	errTooManyReplies = errors.New("received too many reply lines")
	errNoReply        = errors.New("did not receive a reply line")
)
