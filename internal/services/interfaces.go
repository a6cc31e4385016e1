// Package services provides lifecycle management for the long-running parts of
// the server.
package services

import "context"

// ManagedService defines the interface for services managed by the orchestrator.
type ManagedService interface {
	// Name returns the service name for logging and identification.
	Name() string

	// Start initializes and starts the service. It must not block.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the service.
	Stop(ctx context.Context) error

	// Dependencies returns the names of services this service depends on.
	Dependencies() []string
}
