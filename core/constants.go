package core

import (
	"errors"
	"time"
)

// Serving constants
const (
	// headerBufSize is the arena allocation reserved for the response header.
	headerBufSize = 256

	// acceptPoll is the accept deadline used with FlagNonBlock.
	acceptPoll = 250 * time.Millisecond

	// Accept retry backoff after transient errors.
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Error definitions
var (
	ErrSocket  = errors.New("create socket")
	ErrBind    = errors.New("bind socket")
	ErrListen  = errors.New("listen on socket")
	ErrRoot    = errors.New("document root is not a directory")
	ErrWorkers = errors.New("start worker pool")
	ErrServing = errors.New("engine is already serving")
	ErrClosed  = errors.New("engine is shut down")
)

// Outcome labels for the latency monitor.
const (
	outcomeOK       = "200"
	outcomeNotFound = "404"
	outcomeDropped  = "dropped"
)
