// Package meshforge provides a top-level convenience entry point for building
// the image-to-3D generation pipeline with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/meshforge"
//
//	svc, err := meshforge.New(cfg)
//	svc, err := meshforge.New(cfg, meshforge.WithLogger(logger))
//
//	result, err := svc.Generate(ctx, generation.Request{
//	    UserID:   userID,
//	    MemoryID: memoryID,
//	})
//
// This wires the record store, object storage, vendor client and image fetcher
// from one [config.Config]; both this and cmd/meshforge produce identical
// pipelines. Use this package when embedding the pipeline into an existing
// process instead of running the full server (HTTP surface, middleware chain,
// metrics endpoint, config hot reload), which lives in cmd/meshforge.
package meshforge

import (
	"github.com/BaSui01/meshforge/config"
	"github.com/BaSui01/meshforge/generation"
	"github.com/BaSui01/meshforge/internal/fetch"
	"github.com/BaSui01/meshforge/internal/metrics"
	"github.com/BaSui01/meshforge/records"
	"github.com/BaSui01/meshforge/storage"
	"github.com/BaSui01/meshforge/threed"
	"go.uber.org/zap"
)

// Option configures the pipeline created by [New].
type Option func(*options)

type options struct {
	logger    *zap.Logger
	collector *metrics.Collector
}

// WithLogger sets a custom zap logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithCollector shares an existing metrics collector with the pipeline.
// Without it New registers a fresh collector under the "meshforge" namespace
// on the default Prometheus registry, so New is once-per-process unless a
// collector is supplied.
func WithCollector(collector *metrics.Collector) Option {
	return func(o *options) { o.collector = collector }
}

// New assembles a ready-to-use [generation.Service] from cfg.
// The configuration is validated first; construction itself performs no I/O.
func New(cfg *config.Config, opts ...Option) (*generation.Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.collector == nil {
		o.collector = metrics.NewCollector("meshforge", o.logger)
	}

	store := records.New(records.Config{
		BaseURL:    cfg.Store.RestURL(),
		ServiceKey: cfg.Store.ServiceKey,
		Table:      cfg.Store.Table,
		Timeout:    cfg.Store.RequestTimeout,
	}, o.logger)

	objects := storage.New(storage.Config{
		BaseURL:      cfg.Store.StorageURL(),
		ServiceKey:   cfg.Store.ServiceKey,
		Bucket:       cfg.Store.Bucket,
		Timeout:      cfg.Store.RequestTimeout,
		SignedURLTTL: cfg.Store.SignedURLTTL,
	}, o.logger)

	vendor := threed.New(threed.Config{
		SecretID:     cfg.Vendor.SecretID,
		SecretKey:    cfg.Vendor.SecretKey,
		Region:       cfg.Vendor.Region,
		Endpoint:     cfg.Vendor.Endpoint,
		ResultFormat: cfg.Vendor.ResultFormat,
		Timeout:      cfg.Vendor.RequestTimeout,
		PollInterval: cfg.Vendor.PollInterval,
		PollTimeout:  cfg.Vendor.PollTimeout,
	}, o.logger)

	fetcher := fetch.New(fetch.Config{
		Timeout:            cfg.Generation.DownloadTimeout,
		MaxBytes:           cfg.Generation.MaxDownloadBytes,
		InsecureSkipVerify: cfg.Generation.InsecureDownload,
	}, o.logger)

	return generation.New(generation.Config{
		Environment: cfg.Generation.Environment,
		FixturePath: cfg.Generation.FixturePath,
	}, store, objects, vendor, fetcher, o.collector, o.logger), nil
}
