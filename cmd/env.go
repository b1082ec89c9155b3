package main

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dispatch-cli/internal/admission"
	"github.com/sells-group/dispatch-cli/internal/monitoring"
	"github.com/sells-group/dispatch-cli/internal/pack"
	"github.com/sells-group/dispatch-cli/internal/pipeline"
	"github.com/sells-group/dispatch-cli/internal/provider"
	"github.com/sells-group/dispatch-cli/internal/queue"
	"github.com/sells-group/dispatch-cli/internal/scoring"
	"github.com/sells-group/dispatch-cli/internal/store"
	"github.com/sells-group/dispatch-cli/pkg/asr"
	"github.com/sells-group/dispatch-cli/pkg/dispatch"
	"github.com/sells-group/dispatch-cli/pkg/inference"
)

// appEnv holds the initialized store, broker, providers, and pipeline needed
// by the serve/work/submit commands.
type appEnv struct {
	Store     store.Store
	Broker    queue.Broker
	Pack      *pack.Pack
	Registry  *provider.Registry
	Admission *admission.Controller
	Executor  *pipeline.Executor
	Prober    *monitoring.Prober
	Collector *monitoring.Collector

	queueStore *store.SQLiteStore // separate handle when jobs live in Postgres
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
	if e.queueStore != nil {
		_ = e.queueStore.Close()
	}
}

// initEnv sets up the store, the broker, the provider registry, and the
// executor. Callers should defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	env := &appEnv{}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env.Store = st

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	// The shipped broker is SQLite-backed regardless of where jobs live:
	// it shares the job store's handle when that is SQLite, otherwise it
	// opens its own queue database alongside.
	queueDB, err := initQueueDB(env, st)
	if err != nil {
		env.Close()
		return nil, err
	}
	broker := queue.NewSQLBroker(queueDB, queue.Config{
		VisibilityTimeout: cfg.Queue.VisibilityTimeout(),
	})
	if err := broker.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate queue")
	}
	env.Broker = broker

	p, err := pack.Load(cfg.Pack.Path)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Pack = p
	zap.L().Info("lexicon pack loaded", zap.String("pack", p.Name), zap.String("language", p.Language))

	registry, err := initRegistry(p)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Registry = registry

	calc := scoring.NewCalculator(cfg.Scoring)
	gate := scoring.NewGate(cfg.Decision, calc)

	env.Admission = admission.New(st, broker, cfg.Queue, cfg.Storage)
	env.Executor = pipeline.New(cfg.Pipeline, st, broker, registry, calc, gate)
	env.Prober = monitoring.NewProber(st, broker)
	env.Collector = monitoring.NewCollector(st, broker, cfg.Queue.MaxSize)

	return env, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func initQueueDB(env *appEnv, st store.Store) (*sql.DB, error) {
	if ss, ok := st.(*store.SQLiteStore); ok {
		return ss.DB(), nil
	}
	qs, err := store.NewSQLite("dispatch-queue.db")
	if err != nil {
		return nil, eris.Wrap(err, "open queue database")
	}
	env.queueStore = qs
	return qs.DB(), nil
}

func initRegistry(p *pack.Pack) (*provider.Registry, error) {
	registry := provider.NewRegistry()

	registry.RegisterTranscriber("http", provider.NewHTTPTranscriber(
		asr.NewClient(cfg.ASR.BaseURL, cfg.ASR.Key),
	))
	registry.RegisterTranscriber("mock", provider.NewMockTranscriber(0.95))

	registry.RegisterRetriever("pack", provider.NewPackRetriever(p))

	registry.RegisterExtractor("anthropic", provider.NewAnthropicExtractor(
		inference.NewClient(cfg.Inference.Key, cfg.Inference.Model, cfg.Inference.MaxTokens),
	))
	registry.RegisterExtractor("pack", provider.NewPackExtractor(p))

	registry.RegisterDispatcher("log", provider.LogDispatcher{})
	dispatcherName := "log"
	if cfg.Dispatch.WebhookURL != "" {
		registry.RegisterDispatcher("webhook", provider.NewWebhookDispatcher(
			dispatch.NewWebhookPusher(cfg.Dispatch.WebhookURL, cfg.Dispatch.Timeout(), dispatch.WithMaxAttempts(cfg.Dispatch.MaxRetries)),
		))
		dispatcherName = "webhook"
	}

	if err := registry.Use(cfg.ASR.Provider, "pack", cfg.Inference.Provider, dispatcherName); err != nil {
		return nil, err
	}
	return registry, nil
}
