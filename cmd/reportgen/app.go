package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/reportgen/broadcast"
	"github.com/c360studio/reportgen/config"
	"github.com/c360studio/reportgen/hitl"
	"github.com/c360studio/reportgen/knowledge"
	"github.com/c360studio/reportgen/llm"
	"github.com/c360studio/reportgen/metrics"
	"github.com/c360studio/reportgen/model"
	reportapi "github.com/c360studio/reportgen/processor/report-api"
	"github.com/c360studio/reportgen/storage"
	"github.com/c360studio/reportgen/storage/postgres"
	"github.com/c360studio/reportgen/tools"
	"github.com/c360studio/reportgen/tools/report"
	"github.com/c360studio/reportgen/tools/research"
	toolvision "github.com/c360studio/reportgen/tools/vision"
	"github.com/c360studio/reportgen/vision"
	"github.com/c360studio/reportgen/workflow"
	"github.com/c360studio/reportgen/workflow/graph"
	"github.com/c360studio/reportgen/workflow/nodes"
)

// webSearchKeyEnv holds the API key of the web search endpoint.
const webSearchKeyEnv = "WEB_SEARCH_API_KEY"

// App is the main application that wires together all components.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
	level  *slog.LevelVar

	// client overrides the model client built from cfg.Model.
	client llm.Completer
	// visionClient serves the photo analyzer, which retries per image itself.
	visionClient llm.Completer

	// NATS
	embeddedServer *server.Server
	natsConn       *nats.Conn
	js             jetstream.JetStream

	// Storage
	pool  *pgxpool.Pool
	store storage.Store

	knowledge *knowledge.FileStore
	web       *research.WebSearcher
	metrics   *metrics.Collectors
	publisher broadcast.Publisher
	groups    tools.GroupSet

	// controller is rebuilt when the config file changes.
	controller atomic.Pointer[hitl.Controller]
	rebuildMu  sync.Mutex
}

// AppOption configures an App.
type AppOption func(*App)

// WithLevelVar lets config reloads change the log level.
func WithLevelVar(level *slog.LevelVar) AppOption {
	return func(a *App) {
		a.level = level
	}
}

// WithClient replaces the model client built from the registry config.
// It serves the photo analyzer too.
func WithClient(client llm.Completer) AppOption {
	return func(a *App) {
		a.client = client
		a.visionClient = client
	}
}

// WithPublisher replaces the NATS publisher.
func WithPublisher(p broadcast.Publisher) AppOption {
	return func(a *App) {
		a.publisher = p
	}
}

// NewApp creates a new application instance.
func NewApp(cfg *config.Config, logger *slog.Logger, opts ...AppOption) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
	}
	for _, opt := range opts {
		opt(app)
	}
	return app, nil
}

// needsNATS reports whether the storage backend or the broadcast channel
// requires a NATS connection.
func (a *App) needsNATS() bool {
	return a.cfg.Storage.Backend == config.BackendKV || a.cfg.NATS.URL != "" || a.cfg.NATS.Embedded
}

// Start initializes and starts all components.
func (a *App) Start(ctx context.Context) error {
	if a.needsNATS() {
		if err := a.startNATS(); err != nil {
			return fmt.Errorf("start NATS: %w", err)
		}
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	a.store = store

	ks, err := knowledge.NewFileStore(a.cfg.Knowledge.Root, a.cfg.Knowledge.Patterns, knowledge.WithLogger(a.logger))
	if err != nil {
		return fmt.Errorf("initialize knowledge: %w", err)
	}
	a.knowledge = ks

	if a.publisher == nil {
		if a.natsConn != nil {
			a.publisher = broadcast.NewNATSPublisher(a.natsConn, a.logger)
		} else {
			a.publisher = broadcast.Discard
		}
	}

	if a.client == nil {
		registry := model.FromConfig(&a.cfg.Model)
		if err := registry.Validate(); err != nil {
			return fmt.Errorf("model registry: %w", err)
		}
		a.client = llm.NewClient(registry, llm.WithLogger(a.logger))
		a.visionClient = newVisionClient(registry, a.logger)
	}

	a.web = research.NewWebSearcher(a.cfg.Web.SearchURL, os.Getenv(webSearchKeyEnv), a.cfg.Web.NumResults,
		research.WithKnowledge(ks),
		research.WithWebLogger(a.logger))

	if err := a.rebuild(a.cfg); err != nil {
		return err
	}

	a.logger.Info("Components initialized",
		"storage", a.cfg.Storage.Backend,
		"knowledge_docs", ks.Len(),
		"max_steps", a.cfg.Workflow.MaxSteps)
	return nil
}

func (a *App) visionProcessor(cfg *config.Config) *vision.Processor {
	return vision.NewProcessor(vision.NewLLMAnalyzer(a.visionClient),
		vision.WithConcurrency(cfg.Vision.Concurrency),
		vision.WithMaxAttempts(cfg.Vision.MaxAttempts),
		vision.WithBackoffStep(cfg.Vision.BackoffStep),
		vision.WithCallTimeout(cfg.Vision.CallTimeout),
		vision.WithObserver(a.metrics),
		vision.WithLogger(a.logger))
}

// newVisionClient makes one attempt per call and keeps its failures out of
// the shared circuit breaker. The vision processor owns the retry schedule,
// and a single bad image must not close the endpoint for the agents.
func newVisionClient(registry *model.Registry, logger *slog.Logger) *llm.Client {
	return llm.NewClient(registry,
		llm.WithRetryConfig(llm.SingleAttempt()),
		llm.WithoutCircuitBreaker(),
		llm.WithLogger(logger.With("component", "vision")))
}

func (a *App) startNATS() error {
	if a.cfg.NATS.URL != "" && !a.cfg.NATS.Embedded {
		a.logger.Info("Connecting to NATS", "url", a.cfg.NATS.URL)
		conn, err := nats.Connect(a.cfg.NATS.URL, nats.Name(appName), nats.MaxReconnects(-1))
		if err != nil {
			return wrapNATSError(err, a.cfg.NATS.URL)
		}
		a.natsConn = conn
	} else {
		a.logger.Info("Starting embedded NATS server")
		opts := &server.Options{
			Port:      -1, // Random available port
			JetStream: true,
			StoreDir:  a.cfg.NATS.StoreDir,
			NoLog:     true,
			NoSigs:    true,
		}

		ns, err := server.NewServer(opts)
		if err != nil {
			return fmt.Errorf("create embedded NATS server: %w", err)
		}

		go ns.Start()

		if !ns.ReadyForConnections(5 * time.Second) {
			ns.Shutdown()
			return fmt.Errorf("embedded NATS server failed to start")
		}

		a.embeddedServer = ns

		conn, err := nats.Connect(ns.ClientURL())
		if err != nil {
			ns.Shutdown()
			return fmt.Errorf("connect to embedded NATS: %w", err)
		}
		a.natsConn = conn
	}

	js, err := jetstream.New(a.natsConn)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}
	a.js = js

	return nil
}

func (a *App) openStore(ctx context.Context) (storage.Store, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendKV:
		return storage.NewKVStore(ctx, a.js)
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, a.cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		store := postgres.New(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		a.pool = pool
		return store, nil
	case config.BackendMemory:
		a.logger.Warn("Using in-memory storage; paused runs will not survive a restart")
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", a.cfg.Storage.Backend)
	}
}

// rebuild builds the tool groups, agents, graph and controller from cfg and
// swaps the controller in. Runs in flight keep the controller they started on.
func (a *App) rebuild(cfg *config.Config) error {
	a.rebuildMu.Lock()
	defer a.rebuildMu.Unlock()

	processor := a.visionProcessor(cfg)

	a.groups = tools.GroupSet{
		tools.GroupReport:   report.New(a.store, report.WithLogger(a.logger)).Builder(),
		tools.GroupResearch: research.New(a.knowledge, a.web).Builder(),
		tools.GroupVision:   toolvision.New(processor).Builder(),
	}

	agentOpts := []nodes.Option{
		nodes.WithLogger(a.logger),
		nodes.WithCallTimeout(cfg.Workflow.ModelTimeout),
	}
	if cfg.Workflow.DebugDump {
		agentOpts = append(agentOpts, nodes.WithContextDumper(nodes.NewContextDumper(cfg.Workflow.DumpDir)))
	}

	nodeList := []workflow.Node{
		nodes.NewSupervisor(a.client, agentOpts...),
		nodes.NewResearcher(a.client, a.groups, agentOpts...),
		nodes.NewWriter(a.client, a.groups,
			[]nodes.WriterOption{nodes.RequirePlanApproval(cfg.Workflow.RequirePlanApproval)},
			agentOpts...),
		nodes.NewToolExecutor(a.groups,
			nodes.WithCallObserver(a.metrics),
			nodes.WithExecutorLogger(a.logger)),
	}

	runner, err := graph.New(nodeList,
		graph.WithMaxSteps(cfg.Workflow.MaxSteps),
		graph.WithInterrupt(graph.PlanPending),
		graph.WithStepObserver(a.metrics),
		graph.WithLogger(a.logger))
	if err != nil {
		return fmt.Errorf("build graph: %w", err)
	}

	a.controller.Store(hitl.New(a.store, runner, a.publisher,
		hitl.WithLogger(a.logger),
		hitl.WithRunObserver(a.metrics),
		hitl.WithFlushInterval(cfg.Workflow.ReasoningFlushInterval)))
	return nil
}

// applyConfig re-applies the settings that may change at runtime: the log
// level and the workflow and vision limits.
func (a *App) applyConfig(cfg *config.Config) {
	if a.level != nil {
		a.level.Set(parseLevel(cfg.Log.Level))
	}
	next := *a.cfg
	next.Log = cfg.Log
	next.Workflow = cfg.Workflow
	next.Vision = cfg.Vision
	if err := a.rebuild(&next); err != nil {
		a.logger.Warn("Failed to apply reloaded config", "error", err)
		return
	}
	a.cfg = &next
	a.logger.Info("Workflow limits updated",
		"max_steps", next.Workflow.MaxSteps,
		"require_plan_approval", next.Workflow.RequirePlanApproval)
}

// StartRun implements reportapi.Runs.
func (a *App) StartRun(ctx context.Context, req hitl.StartRequest) (hitl.RunHandle, error) {
	return a.controller.Load().StartRun(ctx, req)
}

// ResumeRun implements reportapi.Runs.
func (a *App) ResumeRun(ctx context.Context, req hitl.ResumeRequest) (hitl.Ack, error) {
	return a.controller.Load().ResumeRun(ctx, req)
}

// Status implements reportapi.Runs.
func (a *App) Status(ctx context.Context, reportID string) (storage.ApprovalRecord, error) {
	return a.controller.Load().Status(ctx, reportID)
}

// ImportProject stores a project for later runs.
func (a *App) ImportProject(ctx context.Context, p *storage.Project) error {
	if p.ID == "" {
		return errors.New("project id is required")
	}
	return a.store.PutProject(ctx, p)
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	api := reportapi.NewComponent(a,
		reportapi.WithLogger(a.logger),
		reportapi.WithMetricsHandler(a.metrics.Handler()))
	api.RegisterHTTPHandlers("/api", mux)
	return mux
}

// Serve runs the HTTP API and the file watchers until ctx is done.
func (a *App) Serve(ctx context.Context, configPath string) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if configPath != "" {
		go func() {
			if err := config.Watch(ctx, configPath, a.logger, a.applyConfig); err != nil {
				a.logger.Warn("Config watcher stopped", "error", err)
			}
		}()
	}
	if a.cfg.Knowledge.Watch {
		go func() {
			if err := a.knowledge.Watch(ctx, knowledge.DefaultDebounce); err != nil {
				a.logger.Warn("Knowledge watcher stopped", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Report API listening", "addr", a.cfg.HTTP.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}
	return nil
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() {
	a.logger.Info("Shutting down")

	if a.web != nil {
		a.web.Wait()
	}

	if a.pool != nil {
		a.pool.Close()
	}

	if a.natsConn != nil {
		_ = a.natsConn.Drain()
		a.natsConn.Close()
	}

	if a.embeddedServer != nil {
		a.embeddedServer.Shutdown()
		a.embeddedServer.WaitForShutdown()
	}
}
