package main

import (
	"context"
	"errors"
	"fmt"

	"finadvisor/backend/internal/agents"
	"finadvisor/backend/internal/analysis"
	"finadvisor/backend/internal/config"
	"finadvisor/backend/internal/extraction"
	"finadvisor/backend/internal/knowledge"
	"finadvisor/backend/internal/llm"
	"finadvisor/backend/internal/logging"
	"finadvisor/backend/internal/observability"
	"finadvisor/backend/internal/pipeline"
	"finadvisor/backend/internal/queue"
	"finadvisor/backend/internal/report"
	"finadvisor/backend/internal/repository"
	"finadvisor/backend/internal/router"
	"finadvisor/backend/internal/scheduler"
	"finadvisor/backend/internal/services"
	"finadvisor/backend/internal/workflow"
	"finadvisor/backend/pkg/models"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
)

// app holds every long-lived component shared by serve and worker.
type app struct {
	cfg      *config.Config
	log      *logging.Logger
	obs      *observability.Provider
	store    repository.Store
	bus      queue.Bus
	rdb      *redis.Client
	hub      *workflow.EventHub
	advisor  *pipeline.Advisor
	advisory *services.AdvisoryService
	closers  []func()
}

func newApp(ctx context.Context, cfg *config.Config, log *logging.Logger) (a *app, err error) {
	a = &app{cfg: cfg, log: log, hub: workflow.NewEventHub()}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	a.obs, err = observability.Setup(ctx, observability.Config{
		ServiceName:  cfg.Observability.ServiceName,
		OTLPEndpoint: cfg.Observability.OTLPEndpoint,
		OTLPInsecure: cfg.Observability.OTLPInsecure,
	})
	if err != nil {
		return nil, err
	}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	if err := a.openBus(ctx); err != nil {
		return nil, err
	}

	client, err := newLLM(cfg)
	if err != nil {
		return nil, err
	}
	source, err := a.newKnowledge()
	if err != nil {
		return nil, err
	}

	metrics, err := workflow.NewMetrics(a.obs.Meter("finadvisor/backend/internal/workflow"))
	if err != nil {
		return nil, fmt.Errorf("failed to register workflow metrics: %w", err)
	}
	engine := workflow.NewEngine(a.store, log.With("component", "workflow"),
		workflow.WithRetryPolicy(cfg.Workflow.Retry),
		workflow.WithRunTimeout(cfg.Workflow.RunTimeout),
		workflow.WithConcurrency(cfg.Workflow.Concurrency),
		workflow.WithEventHub(a.hub),
		workflow.WithMetrics(metrics),
		workflow.WithTracer(a.obs.Tracer("finadvisor/backend/internal/workflow")),
	)

	an := analysis.NewEngine(analysis.WithDefaults(cfg.Analysis))
	a.advisor = pipeline.NewAdvisor(pipeline.Deps{
		Store:     a.store,
		Engine:    engine,
		Extractor: extraction.NewExtractor(client),
		Router:    router.New(client),
		Agents: agents.Standard(agents.Deps{
			LLM:       client,
			Knowledge: source,
			Store:     a.store,
			Engine:    an,
			TopK:      cfg.Knowledge.TopK,
		}),
		Analysis: an,
		Composer: report.NewComposer(client, log.With("component", "report")),
		Logger:   log.With("component", "pipeline"),
	}, cfg.Pipeline)
	a.advisory = services.NewAdvisoryService(a.store, an, cfg.Pipeline.TransactionWindow)
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Store {
	case "postgres":
		pool, err := repository.Connect(ctx, a.cfg.DB.DSN(), a.cfg.DB.MaxConns)
		if err != nil {
			return err
		}
		applied, err := repository.Migrate(ctx, pool)
		if err != nil {
			pool.Close()
			return err
		}
		for _, name := range applied {
			a.log.Info("applied migration", "name", name)
		}
		a.store = repository.NewPostgres(pool)
	default:
		a.log.Warn("using in-memory store; data is lost on restart")
		a.store = repository.NewMemory()
	}
	a.closers = append(a.closers, a.store.Close)
	return nil
}

func (a *app) openBus(ctx context.Context) error {
	switch a.cfg.Queue.Bus {
	case "redis":
		opts, err := redis.ParseURL(a.cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("failed to parse redis url: %w", err)
		}
		a.rdb = redis.NewClient(opts)
		a.closers = append(a.closers, func() { a.rdb.Close() })
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to reach redis: %w", err)
		}
		bus, err := queue.NewRedisStreams(ctx, a.rdb, a.cfg.Queue.Redis)
		if err != nil {
			return err
		}
		a.bus = bus
	default:
		a.bus = queue.NewMemory()
	}
	a.closers = append(a.closers, func() { a.bus.Close() })
	return nil
}

func newLLM(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "ollama":
		o := cfg.LLM.Ollama
		return llm.NewOllama(o.URL, o.Model, o.ContextLength, o.Timeout), nil
	case "anthropic":
		c := cfg.LLM.Anthropic
		return llm.NewAnthropic(llm.AnthropicConfig{
			APIKey:    c.APIKey,
			BaseURL:   c.BaseURL,
			Model:     c.Model,
			MaxTokens: c.MaxTokens,
			Timeout:   c.Timeout,
		}), nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
}

func (a *app) newKnowledge() (knowledge.Source, error) {
	k := a.cfg.Knowledge
	var src knowledge.Source
	switch k.Source {
	case "http":
		src = knowledge.NewHTTPSource(k.URL, k.APIKey, k.Timeout)
	default:
		corpus, err := knowledge.LoadCorpus(afero.NewOsFs(), k.CorpusPath)
		if err != nil {
			return nil, err
		}
		a.log.Info("knowledge corpus loaded", "path", k.CorpusPath, "domains", corpus.Size())
		src = corpus
	}
	if k.CacheSize <= 0 {
		return src, nil
	}
	cached, err := knowledge.NewCached(src, k.CacheSize, k.CacheTTL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, cached.Close)
	return cached, nil
}

// handleEvent adapts the advisor to the queue worker.
func (a *app) handleEvent(ctx context.Context, evt models.ChatEvent) error {
	_, err := a.advisor.Handle(ctx, evt)
	if errors.Is(err, workflow.ErrRunTimeout) {
		a.log.Warn("run timed out; it will resume on redelivery", "key", evt.IdempotencyKey())
	}
	return err
}

func (a *app) worker() *queue.Worker {
	return queue.NewWorker(a.bus, a.handleEvent, a.cfg.Queue.Worker, a.log.With("component", "worker"))
}

func (a *app) scheduler() (*scheduler.Scheduler, error) {
	s := a.cfg.Scheduler
	return scheduler.New(a.store, a.bus, scheduler.Config{
		Spec:       s.Spec,
		StaleAfter: s.StaleAfter,
		BatchSize:  s.BatchSize,
	}, a.log.With("component", "scheduler"))
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	if a.obs != nil {
		if err := a.obs.Shutdown(ctx); err != nil {
			a.log.Warn("failed to shut down telemetry", "error", err)
		}
	}
}

type redisPinger struct{ rdb *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }
