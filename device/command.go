package device

import "time"

type commandOptions struct {
	validator   Validator
	returnLines int
	waitTime    time.Duration
	bypassQueue bool
}

func newCommandOptions(opts []CommandOption) *commandOptions {
	co := &commandOptions{returnLines: 1}
	for _, opt := range opts {
		opt(co)
	}

	return co
}

// CommandOption adjusts a single SendCommand call.
type CommandOption func(*commandOptions)

// WithValidator checks the reply lines. A failing check counts as a failed
// attempt: the transport is flushed and the command retried.
func WithValidator(v Validator) CommandOption {
	return func(co *commandOptions) { co.validator = v }
}

// WithReturnLines sets the number of reply lines to read. Zero writes the
// command without reading or validating a reply.
//
// Default is 1.
func WithReturnLines(n int) CommandOption {
	return func(co *commandOptions) { co.returnLines = n }
}

// WithWaitTime pauses between write and read to let the instrument settle.
func WithWaitTime(d time.Duration) CommandOption {
	return func(co *commandOptions) { co.waitTime = d }
}

// WithoutQueue runs the command in the calling goroutine even when the device has a queue.
func WithoutQueue() CommandOption {
	return func(co *commandOptions) { co.bypassQueue = true }
}
