package application

import (
	"context"
	"fmt"

	"github.com/KOMKZ/yogan-mesh/breaker"
	"github.com/KOMKZ/yogan-mesh/config"
	"github.com/KOMKZ/yogan-mesh/gateway"
	"github.com/KOMKZ/yogan-mesh/health"
	"github.com/KOMKZ/yogan-mesh/limiter"
	"github.com/KOMKZ/yogan-mesh/logger"
	"github.com/KOMKZ/yogan-mesh/registry"
	"github.com/KOMKZ/yogan-mesh/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/samber/do/v2"
)

// wire builds the role. Telemetry comes first so it stops last, the HTTP
// server and the announcers come last so traffic stops before anything it
// depends on.
func (a *App) wire(ctx context.Context) error {
	i := a.injector
	if _, err := do.Invoke[*telemetry.Manager](i); err != nil {
		return err
	}
	server, err := do.Invoke[*HTTPServer](i)
	if err != nil {
		return err
	}
	a.server = server
	engine := server.Engine()

	if a.role.Runs(RoleDiscovery) {
		if err := a.wireDiscovery(engine); err != nil {
			return fmt.Errorf("wire discovery: %w", err)
		}
	}
	if a.role.Runs(RoleBreaker) {
		if err := a.wireBreaker(engine); err != nil {
			return fmt.Errorf("wire breaker: %w", err)
		}
	}
	if a.role.Runs(RoleRateLimit) {
		if err := a.wireRateLimit(engine); err != nil {
			return fmt.Errorf("wire rate limit: %w", err)
		}
	}
	if a.role.Runs(RoleGateway) {
		if err := a.wireGateway(engine); err != nil {
			return fmt.Errorf("wire gateway: %w", err)
		}
	}
	if a.config.Dynamic.File != "" {
		if _, err := do.Invoke[*config.Dynamic](i); err != nil {
			return fmt.Errorf("dynamic config: %w", err)
		}
	}

	if a.config.Health.Enabled {
		agg, err := do.Invoke[*health.Aggregator](i)
		if err != nil {
			return err
		}
		health.RegisterRoutes(engine, agg)
	}
	a.add(Component{Name: "http-server", Start: server.Start, Stop: server.Shutdown})

	return a.wireAnnouncers()
}

func (a *App) wireDiscovery(r gin.IRouter) error {
	reg, err := do.Invoke[*registry.Registry](a.injector)
	if err != nil {
		return err
	}
	bus, err := do.Invoke[*Bus](a.injector)
	if err != nil {
		return err
	}
	if err := registry.BindEvents(bus, RoleDiscovery.ServiceName(), reg, logger.GetLogger("registry")); err != nil {
		return err
	}
	registry.NewHandler(reg).RegisterRoutes(r)
	return nil
}

// wireBreaker serves the breaker API. In the all role the gateway records
// outcomes on the same registry directly, so the outcome events it still
// publishes are not consumed a second time.
func (a *App) wireBreaker(r gin.IRouter) error {
	breakers, err := do.Invoke[*breaker.Registry](a.injector)
	if err != nil {
		return err
	}
	if a.role != RoleAll {
		bus, err := do.Invoke[*Bus](a.injector)
		if err != nil {
			return err
		}
		if err := breaker.BindEvents(bus, RoleBreaker.ServiceName(), breakers, logger.GetLogger("breaker")); err != nil {
			return err
		}
	}
	breaker.NewHandler(breakers).RegisterRoutes(r)
	return nil
}

func (a *App) wireRateLimit(r gin.IRouter) error {
	coord, err := do.Invoke[*limiter.Coordinator](a.injector)
	if err != nil {
		return err
	}
	limiter.NewHandler(coord).RegisterRoutes(r)
	return nil
}

// wireGateway puts the proxy in front of every route. Discovery and breaker
// decisions are remote when their URLs are set and the services run in
// another process; otherwise the gateway reads the in-process registries,
// fed from the bus when discovery runs elsewhere.
func (a *App) wireGateway(engine *gin.Engine) error {
	i := a.injector
	cfg := a.config.Gateway
	log := logger.GetLogger("gateway")

	breakers, err := do.Invoke[*breaker.Registry](i)
	if err != nil {
		return err
	}
	rate, err := do.Invoke[gateway.RateChecker](i)
	if err != nil {
		return err
	}
	bus, err := do.Invoke[*Bus](i)
	if err != nil {
		return err
	}

	opts := []gateway.Option{
		gateway.WithPublisher(bus),
		gateway.WithEmitterPool(a.config.Bus.PoolSize),
	}

	var local *registry.Registry
	if cfg.DiscoveryURL != "" && a.role != RoleAll {
		opts = append(opts, gateway.WithDiscovery(registry.NewClient(cfg.DiscoveryURL, cfg.LookupTimeout)))
	} else {
		local, err = do.Invoke[*registry.Registry](i)
		if err != nil {
			return err
		}
		if a.role == RoleGateway {
			if err := registry.BindEvents(bus, a.instanceID, local, logger.GetLogger("registry")); err != nil {
				return err
			}
		}
		opts = append(opts, gateway.WithDiscovery(local))
	}
	if cfg.BreakerURL != "" && a.role != RoleAll {
		opts = append(opts, gateway.WithChecker(breaker.NewRemoteChecker(cfg.BreakerURL, cfg.LookupTimeout, log)))
	}

	gw, err := gateway.New(cfg, breakers, rate, log, opts...)
	if err != nil {
		return err
	}
	if local != nil {
		local.AddListener(gw.Resolver())
	}
	tel, err := do.Invoke[*telemetry.Manager](i)
	if err != nil {
		return err
	}
	if err := gw.Instrument(tel.Meter("mesh/gateway")); err != nil {
		return err
	}

	engine.Use(gw.Middleware())
	gateway.NewHandler(gw).RegisterRoutes(engine)
	a.add(Component{Name: "gateway", Stop: func(context.Context) error { return gw.Close() }})
	return nil
}

// wireAnnouncers registers the process with discovery. The all role always
// announces the services it hosts so the gateway can route /api/* back to
// them; other roles announce when enabled.
func (a *App) wireAnnouncers() error {
	var services []string
	switch {
	case a.role == RoleAll:
		services = []string{
			RoleDiscovery.ServiceName(),
			RoleBreaker.ServiceName(),
			RoleRateLimit.ServiceName(),
		}
	case a.config.Announce.Enabled:
		name := a.config.Announce.ServiceName
		if name == "" {
			name = a.role.ServiceName()
		}
		services = []string{name}
	default:
		return nil
	}

	bus, err := do.Invoke[*Bus](a.injector)
	if err != nil {
		return err
	}
	for _, name := range services {
		cfg := a.config.Announce.AnnouncerConfig
		cfg.ServiceName = name
		if cfg.Port == 0 {
			cfg.Port = a.config.Server.Port
		}
		opts := []registry.AnnouncerOption{}
		if a.role != RoleAll {
			opts = append(opts, registry.WithInstanceID(a.instanceID))
		}
		ann, err := registry.NewAnnouncer(cfg, bus, logger.GetLogger("registry"), opts...)
		if err != nil {
			return fmt.Errorf("announce %s: %w", name, err)
		}
		a.add(Component{Name: "announce-" + name, Start: ann.Start, Stop: ann.Stop})
	}
	return nil
}
