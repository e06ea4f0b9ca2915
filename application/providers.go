package application

import (
	"context"
	"fmt"
	"time"

	"github.com/KOMKZ/yogan-mesh/breaker"
	"github.com/KOMKZ/yogan-mesh/config"
	"github.com/KOMKZ/yogan-mesh/event"
	"github.com/KOMKZ/yogan-mesh/gateway"
	"github.com/KOMKZ/yogan-mesh/health"
	"github.com/KOMKZ/yogan-mesh/kafka"
	"github.com/KOMKZ/yogan-mesh/limiter"
	"github.com/KOMKZ/yogan-mesh/logger"
	meshredis "github.com/KOMKZ/yogan-mesh/redis"
	"github.com/KOMKZ/yogan-mesh/registry"
	"github.com/KOMKZ/yogan-mesh/telemetry"
	"github.com/go-co-op/gocron/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do/v2"
	"github.com/spf13/pflag"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// Options controls how New finds its configuration.
type Options struct {
	ConfigFile   string
	EnvPrefix    string
	Flags        *pflag.FlagSet
	FlagBindings map[string]string
	Version      string

	// Config bypasses the loader entirely.
	Config *MeshConfig
}

// Bus pairs the publisher and subscriber of the configured transport.
type Bus struct {
	event.Publisher
	event.Subscriber
}

// register declares every provider. Each one runs at most once, the first
// time wire asks for it, and adds its own start and stop hooks then.
func (a *App) register(ctx context.Context) error {
	i := a.injector

	if a.options.Config == nil {
		do.Provide(i, config.ProvideLoader(config.ProvideLoaderOptions{
			ConfigFile:   a.options.ConfigFile,
			EnvPrefix:    a.options.EnvPrefix,
			KeysOf:       MeshConfig{},
			Flags:        a.options.Flags,
			FlagBindings: a.options.FlagBindings,
		}))
	}
	do.Provide(i, a.provideMeshConfig)

	cfg, err := do.Invoke[*MeshConfig](i)
	if err != nil {
		return err
	}
	a.config = cfg
	a.logs = logger.InitManager(cfg.Logger)
	a.logger = logger.GetLogger("mesh")
	a.instanceID = registry.NewInstanceID(a.role.ServiceName(), time.Now())

	do.Provide(i, func(do.Injector) (*telemetry.Manager, error) { return a.provideTelemetry(ctx) })
	do.Provide(i, a.provideHealth)
	do.Provide(i, a.provideServer)
	do.Provide(i, func(do.Injector) (*Bus, error) { return a.provideBus(ctx) })
	do.Provide(i, func(do.Injector) (redis.UniversalClient, error) { return a.provideRedis(ctx) })
	do.Provide(i, a.provideEtcd)
	do.Provide(i, a.provideRegistry)
	do.Provide(i, a.provideBreakers)
	do.Provide(i, a.provideCoordinator)
	do.Provide(i, a.provideRateChecker)
	do.Provide(i, a.provideDynamic)
	return nil
}

// provideMeshConfig resolves the role's port, forces the in-memory bus for
// the all role and validates the result.
func (a *App) provideMeshConfig(i do.Injector) (*MeshConfig, error) {
	var cfg MeshConfig
	if a.options.Config != nil {
		cfg = *a.options.Config
	} else {
		loader, err := do.Invoke[*config.Loader](i)
		if err != nil {
			return nil, err
		}
		cfg = DefaultMeshConfig()
		if err := loader.Unmarshal(&cfg); err != nil {
			return nil, fmt.Errorf("unmarshal mesh config: %w", err)
		}
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = a.role.DefaultPort()
	}
	if a.role == RoleAll {
		cfg.Bus.Type = BusMemory
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = a.role.ServiceName()
	}
	if cfg.Logger.AppName == "" {
		cfg.Logger.AppName = a.role.ServiceName()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mesh config: %w", err)
	}
	return &cfg, nil
}

func (a *App) provideTelemetry(ctx context.Context) (*telemetry.Manager, error) {
	m := telemetry.NewManager(a.config.Telemetry, logger.GetLogger("mesh"))
	if err := m.Start(ctx); err != nil {
		return nil, fmt.Errorf("start telemetry: %w", err)
	}
	a.add(Component{Name: "telemetry", Stop: m.Shutdown})
	return m, nil
}

func (a *App) provideHealth(do.Injector) (*health.Aggregator, error) {
	agg := health.NewAggregator(a.config.Health.Timeout)
	agg.SetMetadata("role", string(a.role))
	agg.SetMetadata("instance_id", a.instanceID)
	if a.version != "" {
		agg.SetMetadata("version", a.version)
	}
	return agg, nil
}

func (a *App) provideServer(i do.Injector) (*HTTPServer, error) {
	tel, err := do.Invoke[*telemetry.Manager](i)
	if err != nil {
		return nil, err
	}
	return NewHTTPServer(a.config.Server, a.config.Middleware,
		WithTelemetry(tel),
		WithServerLogger(logger.GetLogger("mesh")),
	)
}

func (a *App) provideBus(ctx context.Context) (*Bus, error) {
	agg, err := do.Invoke[*health.Aggregator](a.injector)
	if err != nil {
		return nil, err
	}

	if a.config.Bus.Type == BusMemory {
		mb := event.NewMemoryBus(
			event.WithPoolSize(a.config.Bus.PoolSize),
			event.WithLogger(logger.GetLogger("event")),
		)
		a.add(Component{Name: "memory-bus", Stop: func(context.Context) error { return mb.Close() }})
		return &Bus{Publisher: mb, Subscriber: mb}, nil
	}

	m, err := kafka.NewManager(a.config.Kafka, logger.GetLogger("kafka"))
	if err != nil {
		return nil, err
	}
	if err := m.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect kafka: %w", err)
	}
	agg.Register(kafka.NewHealthChecker(m))
	// Consumers start with the app, after every role has subscribed.
	a.add(Component{
		Name:  "kafka",
		Start: m.Start,
		Stop:  func(context.Context) error { return m.Close() },
	})
	return &Bus{Publisher: m, Subscriber: m}, nil
}

func (a *App) provideRedis(ctx context.Context) (redis.UniversalClient, error) {
	if !a.config.Redis.Enabled {
		return nil, fmt.Errorf("redis is not enabled")
	}
	client, err := meshredis.NewClient(ctx, a.config.Redis.Config, logger.GetLogger("redis"))
	if err != nil {
		return nil, err
	}
	a.add(Component{Name: "redis", Stop: func(context.Context) error { return client.Close() }})

	if a.config.Redis.EnableMetrics {
		tel, err := do.Invoke[*telemetry.Manager](a.injector)
		if err != nil {
			return nil, err
		}
		hook, err := meshredis.NewMetricsHook(tel.Meter("mesh/redis"))
		if err != nil {
			return nil, err
		}
		client.AddHook(hook)
	}

	agg, err := do.Invoke[*health.Aggregator](a.injector)
	if err != nil {
		return nil, err
	}
	agg.Register(meshredis.NewHealthChecker(client))
	return client, nil
}

func (a *App) provideEtcd(i do.Injector) (*clientv3.Client, error) {
	if !a.config.Etcd.Enabled {
		return nil, fmt.Errorf("etcd is not enabled")
	}
	client, err := registry.NewEtcdClient(a.config.Etcd, logger.GetLogger("registry"))
	if err != nil {
		return nil, err
	}
	a.add(Component{Name: "etcd", Stop: func(context.Context) error { return client.Close() }})

	agg, err := do.Invoke[*health.Aggregator](i)
	if err != nil {
		return nil, err
	}
	agg.Register(registry.NewEtcdHealthChecker(client, a.config.Etcd.Endpoints))
	return client, nil
}

// provideRegistry builds the instance registry. With etcd enabled every
// membership change is mirrored there.
func (a *App) provideRegistry(i do.Injector) (*registry.Registry, error) {
	log := logger.GetLogger("registry")
	reg, err := registry.New(a.config.Registry, log)
	if err != nil {
		return nil, err
	}
	tel, err := do.Invoke[*telemetry.Manager](i)
	if err != nil {
		return nil, err
	}
	if err := reg.Instrument(tel.Meter("mesh/registry")); err != nil {
		return nil, err
	}

	if a.config.Etcd.Enabled {
		client, err := do.Invoke[*clientv3.Client](i)
		if err != nil {
			return nil, err
		}
		mirror := registry.NewEtcdMirror(client, a.config.Etcd.Prefix, a.config.Registry.LivenessTTL, log)
		reg.AddListener(mirror)
		a.add(Component{Name: "etcd-mirror", Start: mirror.Start, Stop: mirror.Stop})
	}

	a.add(Component{
		Name:  "registry",
		Start: reg.Start,
		Stop:  func(context.Context) error { return reg.Stop() },
	})
	return reg, nil
}

func (a *App) provideBreakers(i do.Injector) (*breaker.Registry, error) {
	log := logger.GetLogger("breaker")
	reg, err := breaker.NewRegistry(a.config.Breaker, log,
		breaker.WithStateListener(breaker.StateListenerFunc(func(name string, from, to breaker.State) {
			log.Info("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		})),
	)
	if err != nil {
		return nil, err
	}
	tel, err := do.Invoke[*telemetry.Manager](i)
	if err != nil {
		return nil, err
	}
	if err := reg.Instrument(tel.Meter("mesh/breaker")); err != nil {
		return nil, err
	}
	return reg, nil
}

// provideCoordinator answers rate-limit requests from the bus. Its windows
// live in redis when limiter.store is redis.
func (a *App) provideCoordinator(i do.Injector) (*limiter.Coordinator, error) {
	var client redis.UniversalClient
	if a.config.Limiter.Store == limiter.StoreRedis {
		c, err := do.Invoke[redis.UniversalClient](i)
		if err != nil {
			return nil, fmt.Errorf("redis window store: %w", err)
		}
		client = c
	}
	store, err := limiter.NewStore(a.config.Limiter, client)
	if err != nil {
		return nil, err
	}

	bus, err := do.Invoke[*Bus](i)
	if err != nil {
		return nil, err
	}
	coord, err := limiter.NewCoordinator(a.config.Limiter, store, bus, logger.GetLogger("limiter"))
	if err != nil {
		return nil, err
	}
	tel, err := do.Invoke[*telemetry.Manager](i)
	if err != nil {
		return nil, err
	}
	if err := coord.Instrument(tel.Meter("mesh/limiter")); err != nil {
		return nil, err
	}
	if err := coord.Bind(bus, RoleRateLimit.ServiceName()); err != nil {
		return nil, fmt.Errorf("bind rate limit requests: %w", err)
	}
	a.add(Component{
		Name:  "rate-limit-coordinator",
		Start: coord.Start,
		Stop:  func(context.Context) error { return coord.Stop() },
	})
	return coord, nil
}

// provideRateChecker picks the gateway's limiter: an in-process fixed
// window, or a round trip to the coordinator over the bus.
func (a *App) provideRateChecker(i do.Injector) (gateway.RateChecker, error) {
	cfg := a.config
	tel, err := do.Invoke[*telemetry.Manager](i)
	if err != nil {
		return nil, err
	}
	meter := tel.Meter("mesh/limiter")

	if cfg.Gateway.RateLimitMode == gateway.RateLimitDistributed {
		bus, err := do.Invoke[*Bus](i)
		if err != nil {
			return nil, err
		}
		d, err := limiter.NewDistributedLimiter(cfg.Limiter, bus, logger.GetLogger("limiter"))
		if err != nil {
			return nil, err
		}
		if err := d.Instrument(meter); err != nil {
			return nil, err
		}
		// Replica-private group, every gateway needs its own answers.
		if err := d.Bind(bus, a.instanceID); err != nil {
			return nil, fmt.Errorf("bind rate limit results: %w", err)
		}
		a.add(Component{
			Name:  "rate-limit-client",
			Start: d.Start,
			Stop:  func(context.Context) error { return d.Stop() },
		})
		return gateway.NewDistributedRateChecker(d), nil
	}

	window, err := limiter.NewFixedWindow(cfg.Limiter.Limit, cfg.Limiter.Window)
	if err != nil {
		return nil, err
	}
	if err := window.Instrument(meter); err != nil {
		return nil, err
	}
	a.addWindowSweep(window)
	return gateway.NewLocalRateChecker(window), nil
}

// addWindowSweep evicts idle local windows on the limiter's sweep interval.
func (a *App) addWindowSweep(window *limiter.FixedWindow) {
	var s gocron.Scheduler
	log := logger.GetLogger("limiter")
	a.add(Component{
		Name: "rate-limit-sweep",
		Start: func(ctx context.Context) error {
			var err error
			s, err = gocron.NewScheduler()
			if err != nil {
				return fmt.Errorf("create sweep scheduler: %w", err)
			}
			_, err = s.NewJob(
				gocron.DurationJob(a.config.Limiter.SweepInterval),
				gocron.NewTask(func() {
					if n := window.Sweep(a.config.Limiter.IdleTTL); n > 0 {
						log.Debug("evicted idle rate limit windows", zap.Int("count", n))
					}
				}),
				gocron.WithSingletonMode(gocron.LimitModeReschedule),
			)
			if err != nil {
				return fmt.Errorf("schedule window sweep: %w", err)
			}
			s.Start()
			return nil
		},
		Stop: func(context.Context) error {
			if s == nil {
				return nil
			}
			return s.Shutdown()
		},
	})
}

func (a *App) provideDynamic(do.Injector) (*config.Dynamic, error) {
	d, err := config.NewDynamic(a.config.Dynamic.File, logger.GetLogger("config"))
	if err != nil {
		return nil, err
	}
	d.AddListener(config.ChangeListenerFunc(a.onDynamicChange))
	if a.config.Dynamic.Watch {
		a.add(Component{Name: "dynamic-config", Start: func(context.Context) error {
			d.Watch()
			return nil
		}})
	}
	return d, nil
}

// onDynamicChange applies runtime properties the mesh understands and logs
// the rest.
func (a *App) onDynamicChange(key, old, value string) {
	a.logger.Info("dynamic configuration changed",
		zap.String("key", key),
		zap.String("old", old),
		zap.String("new", value),
	)
	if key == "logger.level" && value != "" {
		cfg := a.logs.Config()
		cfg.Level = value
		if err := a.logs.ReloadConfig(cfg); err != nil {
			a.logger.Warn("reject logger level", zap.String("level", value), zap.Error(err))
		}
	}
}
