package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	ferrors "git.home.luguber.info/inful/nbrunner/internal/foundation/errors"
	"git.home.luguber.info/inful/nbrunner/internal/logfields"
)

// ServiceStatus represents the current state of a service.
type ServiceStatus string

const (
	StatusNotStarted ServiceStatus = "not_started"
	StatusStarting   ServiceStatus = "starting"
	StatusRunning    ServiceStatus = "running"
	StatusStopping   ServiceStatus = "stopping"
	StatusStopped    ServiceStatus = "stopped"
	StatusFailed     ServiceStatus = "failed"
)

// ServiceInfo contains metadata about a managed service.
type ServiceInfo struct {
	Name         string        `json:"name"`
	Status       ServiceStatus `json:"status"`
	Dependencies []string      `json:"dependencies"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
}

// Orchestrator starts services in dependency order and stops them in reverse.
type Orchestrator struct {
	mu         sync.Mutex
	services   map[string]ManagedService
	status     map[string]ServiceStatus
	startedAt  map[string]time.Time
	lastErrors map[string]error

	startTimeout time.Duration
	stopTimeout  time.Duration
}

// NewOrchestrator creates an orchestrator with 30s start and 10s stop timeouts.
func NewOrchestrator() *Orchestrator {
	return &Orchestrator{
		services:     make(map[string]ManagedService),
		status:       make(map[string]ServiceStatus),
		startedAt:    make(map[string]time.Time),
		lastErrors:   make(map[string]error),
		startTimeout: 30 * time.Second,
		stopTimeout:  10 * time.Second,
	}
}

// WithTimeouts configures start and stop timeouts.
func (o *Orchestrator) WithTimeouts(start, stop time.Duration) *Orchestrator {
	o.startTimeout = start
	o.stopTimeout = stop
	return o
}

// Register adds a service. Names must be unique and non-empty.
func (o *Orchestrator) Register(svc ManagedService) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	name := svc.Name()
	if name == "" {
		return ferrors.ValidationError("service name cannot be empty").Build()
	}
	if _, exists := o.services[name]; exists {
		return ferrors.ValidationError("service already registered").WithContext("service", name).Build()
	}
	o.services[name] = svc
	o.status[name] = StatusNotStarted
	slog.Debug("Service registered", slog.String("service", name), slog.Any("dependencies", svc.Dependencies()))
	return nil
}

// StartAll starts all services in dependency order. When one fails, the services
// already started are stopped again.
func (o *Orchestrator) StartAll(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	order, err := o.startOrder()
	if err != nil {
		return ferrors.InternalError("failed to calculate service start order").WithCause(err).Build()
	}
	slog.Info("Starting services", slog.Any("order", order))

	for i, name := range order {
		if err := o.startService(ctx, name); err != nil {
			o.stopInOrder(ctx, reversed(order[:i]))
			return err
		}
	}
	return nil
}

// StopAll stops running services in reverse dependency order.
func (o *Orchestrator) StopAll(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	order, err := o.startOrder()
	if err != nil {
		return ferrors.InternalError("failed to calculate service stop order").WithCause(err).Build()
	}
	if errs := o.stopInOrder(ctx, reversed(order)); len(errs) > 0 {
		return ferrors.InternalError("some services failed to stop gracefully").WithCause(errors.Join(errs...)).Build()
	}
	slog.Info("All services stopped")
	return nil
}

// Info returns the state of every service ordered by name.
func (o *Orchestrator) Info() []ServiceInfo {
	o.mu.Lock()
	defer o.mu.Unlock()

	infos := make([]ServiceInfo, 0, len(o.services))
	for _, name := range o.names() {
		info := ServiceInfo{
			Name:         name,
			Status:       o.status[name],
			Dependencies: o.services[name].Dependencies(),
		}
		if t, ok := o.startedAt[name]; ok {
			info.StartedAt = &t
		}
		if err := o.lastErrors[name]; err != nil {
			info.LastError = err.Error()
		}
		infos = append(infos, info)
	}
	return infos
}

func (o *Orchestrator) names() []string {
	names := make([]string, 0, len(o.services))
	for name := range o.services {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// startOrder topologically sorts the services; ties are broken by name.
func (o *Orchestrator) startOrder() ([]string, error) {
	visited := make(map[string]bool)
	visiting := make(map[string]bool)
	var order []string

	var visit func(string) error
	visit = func(name string) error {
		if visiting[name] {
			return fmt.Errorf("circular dependency detected involving service: %s", name)
		}
		if visited[name] {
			return nil
		}
		svc, exists := o.services[name]
		if !exists {
			return fmt.Errorf("service not found: %s", name)
		}
		visiting[name] = true
		for _, dep := range svc.Dependencies() {
			if err := visit(dep); err != nil {
				return err
			}
		}
		visiting[name] = false
		visited[name] = true
		order = append(order, name)
		return nil
	}

	for _, name := range o.names() {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func (o *Orchestrator) startService(ctx context.Context, name string) error {
	o.status[name] = StatusStarting
	timeoutCtx, cancel := context.WithTimeout(ctx, o.startTimeout)
	defer cancel()

	start := time.Now()
	if err := o.services[name].Start(timeoutCtx); err != nil {
		o.status[name] = StatusFailed
		o.lastErrors[name] = err
		return ferrors.InternalError("failed to start service").
			WithCause(err).
			WithContext("service", name).
			Build()
	}
	o.status[name] = StatusRunning
	o.startedAt[name] = start
	o.lastErrors[name] = nil
	slog.Info("Service started", slog.String("service", name), logfields.DurationMS(float64(time.Since(start).Milliseconds())))
	return nil
}

func (o *Orchestrator) stopInOrder(ctx context.Context, names []string) []error {
	var errs []error
	for _, name := range names {
		if o.status[name] != StatusRunning {
			continue
		}
		o.status[name] = StatusStopping
		timeoutCtx, cancel := context.WithTimeout(ctx, o.stopTimeout)
		err := o.services[name].Stop(timeoutCtx)
		cancel()
		if err != nil {
			o.status[name] = StatusFailed
			o.lastErrors[name] = err
			slog.Error("Error stopping service", slog.String("service", name), logfields.Error(err))
			errs = append(errs, err)
			continue
		}
		o.status[name] = StatusStopped
		slog.Info("Service stopped", slog.String("service", name))
	}
	return errs
}

func reversed(in []string) []string {
	out := slices.Clone(in)
	slices.Reverse(out)
	return out
}
