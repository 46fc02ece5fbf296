package comms

import (
	"errors"
)

var (
	// ErrNotStarted is returned by Submit before Start.
	ErrNotStarted = errors.New("comms: instance not started")
	// ErrAlreadyStarted is returned by Start and Configure once started.
	ErrAlreadyStarted = errors.New("comms: instance already started")
	// ErrShuttingDown is returned by Submit once Shutdown has been requested.
	ErrShuttingDown = errors.New("comms: instance shutting down")
	// ErrShutdown is returned by Catch and Release once shutdown completed.
	ErrShutdown = errors.New("comms: instance shut down")
	// ErrAlreadyShutdown is returned by a repeated Shutdown.
	ErrAlreadyShutdown = errors.New("comms: shutdown already requested")
	ErrStartTimeout    = errors.New("comms: timed out waiting for start")
	ErrShutdownTimeout = errors.New("comms: timed out waiting for shutdown")

	ErrUnknownDestination = errors.New("comms: unknown destination")
	ErrInvalidLane        = errors.New("comms: invalid lane")
	ErrInvalidEndpoint    = errors.New("comms: invalid endpoint")
	ErrBundleFull         = errors.New("comms: bundle full")
	ErrAccessorClosed     = errors.New("comms: accessor closed")
	ErrInFlight           = errors.New("comms: packets still in flight")
	ErrRouteTableFull     = errors.New("comms: route table full")

	// ErrTransportFailure wraps the last error of an exhausted transmit.
	ErrTransportFailure = errors.New("comms: transport failure")

	ErrUnknownKey   = errors.New("comms: unknown configuration key")
	ErrInvalidValue = errors.New("comms: invalid configuration value")
)
