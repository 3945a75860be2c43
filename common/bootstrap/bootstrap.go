// Package bootstrap wires the shared components a paigeant process needs:
// configuration, logging, the workflow repository and the message
// transport.
package bootstrap

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/paigeant/paigeant/common/config"
	"github.com/paigeant/paigeant/common/logger"
	"github.com/paigeant/paigeant/common/persistence"
	"github.com/paigeant/paigeant/common/transport"
)

// Components holds everything Setup initialized, plus a LIFO cleanup stack.
type Components struct {
	Config     *config.Config
	Logger     *logger.Logger
	Repository persistence.Repository
	Transport  transport.Transport

	cleanupFuncs []func() error
}

// Setup initializes components in dependency order: config, logger,
// repository (selected by database URL), transport (selected by backend
// name). On failure, everything initialized so far is torn down.
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	c := &Components{}

	var err error
	if options.customConfig != nil {
		c.Config = options.customConfig
	} else {
		c.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	if options.customLogger != nil {
		c.Logger = options.customLogger
	} else {
		c.Logger = logger.New(c.Config.Service.LogLevel, c.Config.Service.LogFormat)
	}

	c.Logger.Info("initializing service", "service", serviceName)

	if !options.skipRepository {
		c.Repository, err = persistence.Open(ctx, c.Config.Database.URL, c.Logger)
		if err != nil {
			return nil, fmt.Errorf("open repository: %w", err)
		}
		c.addCleanup(c.Repository.Close)
	}

	if !options.skipTransport {
		c.Transport, err = buildTransport(ctx, c.Config, c.Logger)
		if err != nil {
			c.Shutdown()
			return nil, err
		}
		c.addCleanup(c.Transport.Close)
	}

	return c, nil
}

func buildTransport(ctx context.Context, cfg *config.Config, log *logger.Logger) (transport.Transport, error) {
	switch cfg.Transport.Backend {
	case config.TransportRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr(),
			DB:       cfg.Transport.Redis.DB,
			Password: cfg.Transport.Redis.Password,
		})
		t := transport.NewRedisTransport(client, log)
		if err := t.Connect(ctx); err != nil {
			return nil, fmt.Errorf("connect redis transport: %w", err)
		}
		return t, nil
	case config.TransportInMemory:
		return transport.NewInMemoryTransport(log), nil
	default:
		return nil, fmt.Errorf("unknown transport backend: %q", cfg.Transport.Backend)
	}
}

func (c *Components) addCleanup(f func() error) {
	c.cleanupFuncs = append(c.cleanupFuncs, f)
}

// Shutdown runs cleanups in reverse initialization order.
func (c *Components) Shutdown() {
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil && c.Logger != nil {
			c.Logger.Error("cleanup failed", "error", err)
		}
	}
	c.cleanupFuncs = nil
}
