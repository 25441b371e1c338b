package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/planner/internal/audit"
	"github.com/fyrsmithlabs/planner/internal/compliance"
	"github.com/fyrsmithlabs/planner/internal/config"
	"github.com/fyrsmithlabs/planner/internal/executor"
	"github.com/fyrsmithlabs/planner/internal/gate"
	"github.com/fyrsmithlabs/planner/internal/llm"
	"github.com/fyrsmithlabs/planner/internal/logging"
	"github.com/fyrsmithlabs/planner/internal/metrics"
	"github.com/fyrsmithlabs/planner/internal/orchestrator"
	"github.com/fyrsmithlabs/planner/internal/registry"
	"github.com/fyrsmithlabs/planner/internal/research"
	"github.com/fyrsmithlabs/planner/internal/revision"
	"github.com/fyrsmithlabs/planner/internal/sanitize"
	"github.com/fyrsmithlabs/planner/internal/scrub"
	"github.com/fyrsmithlabs/planner/internal/services"
	"github.com/fyrsmithlabs/planner/internal/store"
	"github.com/fyrsmithlabs/planner/internal/telemetry"
)

// app holds everything a command needs, built from configuration.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	metrics   *metrics.Metrics
	rules     *registry.Registry
	registry  services.Registry
	planner   *services.Planner

	closers []func(context.Context) error
}

// appOptions are the command-line adjustments applied over configuration.
type appOptions struct {
	configPath string
	mock       bool
	logLevel   string
	memory     bool
	stderrLogs bool
	progress   orchestrator.ProgressCallback
}

// overrides returns the config overrides for o.
func (o appOptions) overrides() []config.Override {
	var out []config.Override
	if o.mock {
		out = append(out, func(c *config.Config) { c.LLM.Mock = true })
	}
	if o.logLevel != "" {
		out = append(out, func(c *config.Config) { c.Log.Level = o.logLevel })
	}
	if o.memory {
		out = append(out, func(c *config.Config) { c.Store.Backend = config.StoreMemory })
	}
	return out
}

// newApp loads configuration and wires the planner.
//
// Initialization order:
//  1. Loads and validates configuration
//  2. Initializes telemetry, then the logger on top of it
//  3. Loads the rule registry and builds the model client
//  4. Opens research, audit and store backends
//  5. Builds the pipeline, validator, reviser and planner service
func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath, opts.overrides()...)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg}

	a.telemetry, err = telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.closers = append(a.closers, a.telemetry.Shutdown)

	logCfg, err := logging.FromSettings(cfg.Log)
	if err != nil {
		return nil, a.fail(ctx, err)
	}
	logCfg.Output.Stderr = opts.stderrLogs
	logCfg.Output.OTEL = a.telemetry.IsEnabled()
	a.logger, err = logging.NewLogger(logCfg, a.telemetry.LoggerProvider())
	if err != nil {
		return nil, a.fail(ctx, fmt.Errorf("failed to initialize logger: %w", err))
	}
	a.closers = append(a.closers, func(context.Context) error {
		_ = a.logger.Sync() // Best-effort sync on shutdown
		return nil
	})

	a.metrics = metrics.New()

	a.rules, err = registry.Open(cfg.Registry.Path)
	if err != nil {
		return nil, a.fail(ctx, fmt.Errorf("failed to load rule registry: %w", err))
	}

	client, err := a.newClient()
	if err != nil {
		return nil, a.fail(ctx, err)
	}

	provider, err := a.newResearch(ctx)
	if err != nil {
		return nil, a.fail(ctx, err)
	}

	sink, err := a.newAuditSink()
	if err != nil {
		return nil, a.fail(ctx, err)
	}

	st, err := a.newStore(ctx)
	if err != nil {
		return nil, a.fail(ctx, err)
	}

	scrubCfg := scrub.DefaultConfig()
	scrubCfg.Enabled = !cfg.Scrub.Disabled
	scrubCfg.AllowList = cfg.Scrub.AllowList
	scrubber, err := scrub.New(scrubCfg)
	if err != nil {
		return nil, a.fail(ctx, fmt.Errorf("failed to initialize scrubber: %w", err))
	}

	validator, err := compliance.New(a.rules, "")
	if err != nil {
		return nil, a.fail(ctx, err)
	}

	pipelineOpts := []orchestrator.Option{
		orchestrator.WithAuditSink(sink),
		orchestrator.WithMetrics(a.metrics),
		orchestrator.WithLogger(a.logger),
	}
	if provider != nil {
		pipelineOpts = append(pipelineOpts, orchestrator.WithResearch(provider))
	}
	if opts.progress != nil {
		pipelineOpts = append(pipelineOpts, orchestrator.WithProgress(opts.progress))
	}
	pipeline := orchestrator.New(a.rules, client, orchestrator.Config{
		Policy:           gate.Policy{Default: gate.Thresholds{WarnOnClinical: cfg.Pipeline.WarnOnClinical}},
		TopRankThreshold: cfg.Pipeline.TopRankThreshold,
		Executor: executor.Config{
			MaxParallelLanes: cfg.Pipeline.MaxParallelLanes,
			CallTimeout:      cfg.Pipeline.CallTimeout.Duration(),
		},
	}, pipelineOpts...)

	a.registry = services.NewRegistry(services.Options{
		Rules:     a.rules,
		Pipeline:  pipeline,
		Validator: validator,
		Reviser:   revision.New(client, validator),
		Store:     st,
		Scrubber:  scrubber,
	})
	a.planner, err = services.NewPlanner(a.registry,
		services.WithMetrics(a.metrics),
		services.WithLogger(a.logger),
	)
	if err != nil {
		return nil, a.fail(ctx, err)
	}

	a.logger.Debug(ctx, "planner initialized",
		zap.String("store", cfg.Store.Backend),
		zap.String("research", cfg.Research.Provider),
		zap.Bool("mock_llm", cfg.LLM.Mock),
		zap.Bool("scrub", scrubber.IsEnabled()),
		zap.String("registry_version", a.rules.Version()))
	return a, nil
}

// newClient builds the model client: the offline mock, or the OpenAI
// client behind rate limiting, retries and metrics.
func (a *app) newClient() (llm.Client, error) {
	if a.cfg.LLM.Mock {
		return llm.NewMock(), nil
	}
	c := a.cfg.LLM
	base, err := llm.NewOpenAIClient(llm.Config{
		BaseURL:     c.BaseURL,
		Model:       c.Model,
		APIKey:      c.APIKey.Value(),
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create model client: %w", err)
	}
	retrying := llm.NewRetrying(base, llm.RetryConfig{
		RatePerMinute: c.RatePerMinute,
		Burst:         c.Burst,
		MaxRetries:    c.MaxRetries,
		BaseBackoff:   c.BaseBackoff.Duration(),
	})
	return llm.NewInstrumented(retrying, a.metrics), nil
}

// newResearch returns the configured research provider behind the cache,
// or nil when research is disabled.
func (a *app) newResearch(ctx context.Context) (research.Provider, error) {
	c := a.cfg.Research
	sources := make([]research.Source, 0, 2)
	switch c.Provider {
	case config.ResearchNone:
		return nil, nil
	case config.ResearchVector:
		db, err := research.OpenDB(c.VectorPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector store: %w", err)
		}
		embed, err := research.NewEmbeddingFunc(research.EmbeddingConfig{
			BaseURL: c.EmbeddingURL,
			Model:   c.EmbeddingModel,
			APIKey:  c.EmbeddingKey.Value(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create embedder: %w", err)
		}
		vector, err := research.NewVectorProvider(db, sanitize.CollectionName(c.Collection, ""), embed, c.TopK)
		if err != nil {
			return nil, fmt.Errorf("failed to open research collection: %w", err)
		}
		sources = append(sources, research.Source{Name: "vector", Provider: vector})
	}
	sources = append(sources, research.Source{Name: "static", Provider: research.NewStaticProvider(a.rules)})

	var provider research.Provider = sources[0].Provider
	if len(sources) > 1 {
		provider = research.NewMultiProvider(research.NoopComparator{}, sources...)
	}
	cached := research.NewCachingProvider(provider, c.CacheTTL.Duration(), c.CacheEntries)
	cached.SetMetrics(a.metrics)
	a.logger.Debug(ctx, "research provider ready", zap.Int("sources", len(sources)))
	return cached, nil
}

// newAuditSink logs every gate record and, when configured, publishes it
// to NATS.
func (a *app) newAuditSink() (audit.Sink, error) {
	sinks := audit.Multi{audit.NewLogSink(a.logger.Underlying().Named("audit"))}
	if a.cfg.Audit.NATSURL == "" {
		return sinks, nil
	}
	natsSink, nc, err := audit.Connect(a.cfg.Audit.NATSURL,
		audit.WithSubjects(a.cfg.Audit.StageSubject, a.cfg.Audit.RunSubject))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return drain(nc) })
	return append(sinks, natsSink), nil
}

func drain(nc *nats.Conn) error {
	if err := nc.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return err
	}
	return nil
}

// newStore opens the configured plan store behind tracing and logging.
func (a *app) newStore(ctx context.Context) (store.Store, error) {
	c := a.cfg.Store
	var (
		st  store.Store
		err error
	)
	switch c.Backend {
	case config.StoreMemory:
		st = store.NewMemory()
	case config.StoreSQLite:
		st, err = store.OpenSQLite(c.Path)
	case config.StoreS3:
		st, err = store.OpenS3(ctx, store.S3Config{
			Bucket:         c.Bucket,
			Prefix:         c.Prefix,
			Region:         c.Region,
			Endpoint:       c.Endpoint,
			ForcePathStyle: c.ForcePathStyle,
		})
	default:
		err = fmt.Errorf("unknown store backend %q", c.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", c.Backend, err)
	}
	instrumented := store.NewInstrumented(st, c.Backend, a.logger.Underlying())
	a.closers = append(a.closers, func(context.Context) error { return instrumented.Close() })
	return instrumented, nil
}

// fail closes what has been opened so far and returns err.
func (a *app) fail(ctx context.Context, err error) error {
	_ = a.Close(ctx)
	return err
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
