// Package app wires the VidVerse components from configuration. Every dependency
// is constructed here and passed down explicitly.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vidverse/vidverse-go/internal/aggregate"
	"github.com/vidverse/vidverse-go/internal/auth"
	"github.com/vidverse/vidverse-go/internal/config"
	"github.com/vidverse/vidverse-go/internal/contentstore"
	"github.com/vidverse/vidverse-go/internal/event"
	"github.com/vidverse/vidverse-go/internal/ledger"
	"github.com/vidverse/vidverse-go/internal/market"
	"github.com/vidverse/vidverse-go/internal/metrics"
	"github.com/vidverse/vidverse-go/internal/pipeline"
	"github.com/vidverse/vidverse-go/internal/schema"
	"github.com/vidverse/vidverse-go/internal/server"
	"github.com/vidverse/vidverse-go/internal/storage"
	"github.com/vidverse/vidverse-go/internal/upload"
)

// App holds the wired service.
type App struct {
	Handler    http.Handler
	Pipeline   *pipeline.Service
	Aggregator *aggregate.Aggregator
	Auth       *auth.Authenticator
	Journal    storage.Store
	Ledger     ledger.Ledger
	Store      contentstore.Client
	Events     event.Publisher
	Metrics    *metrics.Metrics
	Registry   *prometheus.Registry

	closers []func()
}

// Option overrides a component Build would otherwise construct from cfg.
type Option func(*overrides)

type overrides struct {
	events event.Publisher
	store  contentstore.Client
}

// WithPublisher uses p instead of the configured NATS publisher.
func WithPublisher(p event.Publisher) Option {
	return func(o *overrides) { o.events = p }
}

// WithContentStore uses c instead of the configured content store.
func WithContentStore(c contentstore.Client) Option {
	return func(o *overrides) { o.store = c }
}

// Build constructs every component selected by cfg.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o overrides
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{Registry: prometheus.NewRegistry()}
	a.Metrics = metrics.NewMetrics(a.Registry)

	var err error
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.Auth, err = auth.New(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience); err != nil {
		return nil, err
	}

	var journal storage.Store
	if cfg.DatabaseDSN != "" {
		if journal, err = storage.NewPostgres(ctx, cfg.DatabaseDSN); err != nil {
			return nil, fmt.Errorf("failed to initialize postgres storage: %w", err)
		}
	} else {
		journal = storage.NewMemory()
	}
	a.Journal = storage.Instrument(journal, a.Metrics)
	a.closers = append(a.closers, a.Journal.Close)

	a.Events = o.events
	if a.Events == nil {
		a.Events = event.NewPublisher(cfg.NATSURL, a.Metrics, logger)
	}
	a.closers = append(a.closers, func() { _ = a.Events.Close() })

	store := o.store
	if store == nil {
		if store, err = newContentStore(ctx, cfg, logger); err != nil {
			return nil, err
		}
	}
	a.Store = contentstore.Instrument(store, a.Metrics)

	if a.Ledger, err = newLedger(ctx, cfg, logger); err != nil {
		return nil, err
	}
	if closer, ok := a.Ledger.(interface{ Close() }); ok {
		a.closers = append(a.closers, closer.Close)
	}

	var validator *schema.Validator
	if validator, err = schema.NewValidator(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema validator: %w", err)
	}

	policy := upload.Policy{
		MaxVideoBytes:         cfg.MaxVideoSize,
		MaxThumbnailBytes:     cfg.MaxThumbnailSize,
		VideoMimePrefixes:     cfg.VideoMimeTypes,
		ThumbnailMimePrefixes: cfg.ThumbnailMimeTypes,
	}
	coordinator := upload.New(a.Store, policy,
		upload.WithSchema(validator),
		upload.WithMetrics(a.Metrics),
		upload.WithLogger(logger),
	)

	var lookup market.Lookup = market.Unavailable
	if cfg.MarketAPIURL != "" || cfg.MarketAPIKey != "" {
		lookup = market.New(cfg.MarketAPIURL, cfg.MarketAPIKey, cfg.LedgerChainID, cfg.MarketCacheTTL, a.Metrics, logger)
	}
	a.Aggregator = aggregate.New(a.Ledger, lookup, logger)

	a.Pipeline = pipeline.New(pipeline.Deps{
		Coordinator: coordinator,
		Ledger:      a.Ledger,
		Journal:     a.Journal,
		Events:      a.Events,
		Schema:      validator,
		Metrics:     a.Metrics,
		Logger:      logger,
	})

	a.Handler = server.NewMux(server.Deps{
		Pipeline:           a.Pipeline,
		Aggregator:         a.Aggregator,
		Journal:            a.Journal,
		Auth:               a.Auth,
		Metrics:            a.Metrics,
		Gatherer:           a.Registry,
		Logger:             logger,
		MaxUploadBytes:     cfg.MaxVideoSize + cfg.MaxThumbnailSize + 1<<20,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})
	return a, nil
}

// Close releases every component in reverse construction order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func newContentStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (contentstore.Client, error) {
	switch cfg.ContentStore {
	case config.BackendS3:
		s, err := contentstore.NewS3Store(ctx, cfg.S3Endpoint, cfg.S3Region, cfg.S3Bucket,
			cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Prefix, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize s3 content store: %w", err)
		}
		return s, nil
	case config.BackendPinata:
		return contentstore.NewPinata(cfg.PinataAPIURL, cfg.PinataJWT, logger), nil
	default:
		return contentstore.NewMemory(), nil
	}
}

func newLedger(ctx context.Context, cfg config.Config, logger *slog.Logger) (ledger.Ledger, error) {
	if cfg.Ledger == config.BackendEthereum {
		l, err := ledger.DialEthereum(ctx, cfg.LedgerRPCURL, cfg.LedgerContract, cfg.LedgerChainID, cfg.LedgerKeys, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ethereum ledger: %w", err)
		}
		return l, nil
	}

	var opts []ledger.MemoryOption
	if len(cfg.LedgerKeys) > 0 {
		keys, err := ledger.NewKeyring(cfg.LedgerKeys)
		if err != nil {
			return nil, err
		}
		opts = append(opts, ledger.WithSigners(keys.Accounts()...))
	}
	if cfg.CoinFactory != "" {
		if !common.IsHexAddress(cfg.CoinFactory) {
			return nil, fmt.Errorf("invalid VV_COIN_FACTORY %q", cfg.CoinFactory)
		}
		opts = append(opts, ledger.WithCoinFactory(common.HexToAddress(cfg.CoinFactory)))
	}
	return ledger.NewMemory(opts...), nil
}
