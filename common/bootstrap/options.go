package bootstrap

import (
	"github.com/paigeant/paigeant/common/config"
	"github.com/paigeant/paigeant/common/logger"
)

type options struct {
	customConfig   *config.Config
	customLogger   *logger.Logger
	skipRepository bool
	skipTransport  bool
}

// Option customizes Setup.
type Option func(*options)

func defaultOptions() *options {
	return &options{}
}

// WithConfig uses a pre-built configuration instead of loading one.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.customConfig = cfg }
}

// WithLogger uses a pre-built logger.
func WithLogger(log *logger.Logger) Option {
	return func(o *options) { o.customLogger = log }
}

// SkipRepository leaves Components.Repository nil.
func SkipRepository() Option {
	return func(o *options) { o.skipRepository = true }
}

// SkipTransport leaves Components.Transport nil.
func SkipTransport() Option {
	return func(o *options) { o.skipTransport = true }
}
