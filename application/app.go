// Package application assembles the mesh roles: it loads configuration,
// builds the components of a role through a samber/do injector, serves the
// HTTP API and runs the start and stop sequence.
package application

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/KOMKZ/yogan-mesh/logger"
	"github.com/gin-gonic/gin"
	"github.com/samber/do/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// AppState is the lifecycle position of an App.
type AppState int

const (
	StateInit AppState = iota
	StateSetup
	StateRunning
	StateStopping
	StateStopped
)

func (s AppState) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateSetup:
		return "Setup"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Component is one step of the start sequence. Either hook may be nil.
// Components start in the order they were added and stop in reverse.
type Component struct {
	Name  string
	Start func(ctx context.Context) error
	Stop  func(ctx context.Context) error
}

// App runs one role of the mesh.
type App struct {
	role       Role
	instanceID string
	version    string
	options    Options

	injector *do.RootScope
	config   *MeshConfig
	logs     *logger.Manager
	logger   *logger.CtxZapLogger
	server   *HTTPServer

	mu         sync.RWMutex
	state      AppState
	components []Component
	started    []Component
}

// New loads the configuration and wires every component of the role. The
// clients it dials are released by Stop, also when New itself fails.
func New(ctx context.Context, role Role, opts Options) (*App, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	a := &App{
		role:     role,
		version:  opts.Version,
		options:  opts,
		injector: do.New(),
		state:    StateInit,
	}
	a.setState(StateSetup)

	if err := a.register(ctx); err != nil {
		return nil, err
	}
	if err := a.wire(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
		defer cancel()
		if stopErr := a.stopAll(stopCtx, a.components); stopErr != nil {
			a.logger.WarnCtx(ctx, "release after failed setup", zap.Error(stopErr))
		}
		return nil, err
	}

	a.logger.InfoCtx(ctx, "mesh role ready",
		zap.String("role", string(role)),
		zap.String("instance_id", a.instanceID),
		zap.String("version", a.version),
		zap.Int("components", len(a.components)),
	)
	return a, nil
}

func (a *App) Role() Role {
	return a.role
}

func (a *App) Config() *MeshConfig {
	return a.config
}

func (a *App) Injector() do.Injector {
	return a.injector
}

func (a *App) Engine() *gin.Engine {
	return a.server.Engine()
}

func (a *App) Server() *HTTPServer {
	return a.server
}

func (a *App) State() AppState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

func (a *App) setState(s AppState) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Components lists the start sequence by name.
func (a *App) Components() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, len(a.components))
	for i, c := range a.components {
		names[i] = c.Name
	}
	return names
}

func (a *App) add(c Component) {
	a.mu.Lock()
	a.components = append(a.components, c)
	a.mu.Unlock()
}

// Start runs the start hooks in order. On the first failure the components
// already started are stopped again.
func (a *App) Start(ctx context.Context) error {
	a.mu.RLock()
	components := append([]Component(nil), a.components...)
	a.mu.RUnlock()

	for _, c := range components {
		if c.Start != nil {
			if err := c.Start(ctx); err != nil {
				a.logger.ErrorCtx(ctx, "component failed to start", zap.String("component", c.Name), zap.Error(err))
				stopCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
				stopErr := a.stopAll(stopCtx, a.startedSnapshot())
				cancel()
				a.setState(StateStopped)
				return errors.Join(fmt.Errorf("start %s: %w", c.Name, err), stopErr)
			}
		}
		a.mu.Lock()
		a.started = append(a.started, c)
		a.mu.Unlock()
		a.logger.DebugCtx(ctx, "component started", zap.String("component", c.Name))
	}

	a.setState(StateRunning)
	return nil
}

// Stop runs the stop hooks of started components in reverse. Every hook
// runs even when an earlier one fails.
func (a *App) Stop(ctx context.Context) error {
	a.setState(StateStopping)
	err := a.stopAll(ctx, a.startedSnapshot())
	a.setState(StateStopped)
	return err
}

func (a *App) startedSnapshot() []Component {
	a.mu.Lock()
	defer a.mu.Unlock()
	started := a.started
	a.started = nil
	return started
}

func (a *App) stopAll(ctx context.Context, components []Component) error {
	var errs []error
	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		if c.Stop == nil {
			continue
		}
		if err := c.Stop(ctx); err != nil {
			a.logger.ErrorCtx(ctx, "component failed to stop", zap.String("component", c.Name), zap.Error(err))
			errs = append(errs, fmt.Errorf("stop %s: %w", c.Name, err))
			continue
		}
		a.logger.DebugCtx(ctx, "component stopped", zap.String("component", c.Name))
	}
	return errors.Join(errs...)
}

// Run starts the role and blocks until ctx ends, a signal arrives or the
// HTTP server fails, then stops everything within the shutdown timeout.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.waitSignal(gctx, cancel)
		return nil
	})
	g.Go(func() error {
		select {
		case err := <-a.server.Errors():
			return fmt.Errorf("http server: %w", err)
		case <-gctx.Done():
			return nil
		}
	})
	runErr := g.Wait()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer stopCancel()
	a.logger.InfoCtx(stopCtx, "shutting down", zap.String("role", string(a.role)))
	return errors.Join(runErr, a.Stop(stopCtx))
}

// waitSignal cancels on the first SIGINT or SIGTERM. A second one exits
// the process without waiting for the graceful stop.
func (a *App) waitSignal(ctx context.Context, cancel context.CancelFunc) {
	quit := make(chan os.Signal, 2)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		a.logger.InfoCtx(ctx, "shutdown signal received", zap.String("signal", sig.String()))
		cancel()
		go func() {
			sig := <-quit
			a.logger.WarnCtx(context.Background(), "second signal received, forcing exit", zap.String("signal", sig.String()))
			os.Exit(1)
		}()
	case <-ctx.Done():
		signal.Stop(quit)
	}
}

func (a *App) shutdownTimeout() time.Duration {
	if a.config == nil || a.config.Server.ShutdownTimeout <= 0 {
		return 15 * time.Second
	}
	return a.config.Server.ShutdownTimeout
}
