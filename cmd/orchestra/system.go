package main

import (
	"fmt"
	"log"
	"path/filepath"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/orchestra-core/orchestra/internal/config"
	"github.com/orchestra-core/orchestra/internal/engine"
	"github.com/orchestra-core/orchestra/internal/metrics"
	"github.com/orchestra-core/orchestra/internal/orchestrator"
	"github.com/orchestra-core/orchestra/internal/queue"
	"github.com/orchestra-core/orchestra/internal/router"
	"github.com/orchestra-core/orchestra/internal/scheduler"
	"github.com/orchestra-core/orchestra/internal/state"
	"github.com/orchestra-core/orchestra/internal/worker"
	"github.com/orchestra-core/orchestra/pkg/models"
)

// localAgentID identifies the in-process agent that fronts the configured
// connectors when orchestra runs as a single binary.
const localAgentID = "local"

// system wires the full engine: state database, durable queue, scheduler,
// result router, executor pool, worker pool, and connector registry.
type system struct {
	cfg *config.Config

	db       *state.DB
	queue    *queue.SQLiteQueue
	metrics  *metrics.Metrics
	sched    *scheduler.Scheduler
	sessions *router.SessionTable
	nats     *router.NATSTransport // nil when using the in-process transport
	router   *router.Router
	pool     *orchestrator.Pool
	service  *orchestrator.Service
	registry *engine.Registry
	workers  *worker.Pool
	debug    *orchestrator.DebugLogger
}

// buildSystem constructs and starts all components from the configuration.
func buildSystem(cfg *config.Config) (*system, error) {
	db, err := state.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}

	s := &system{cfg: cfg, db: db}

	s.metrics = metrics.New()
	s.sched = scheduler.New()
	s.queue = queue.NewSQLiteQueue(db, cfg.Workers.VisibilityTimeout)
	s.sessions = router.NewSessionTable(cfg.Router.SessionGrace)

	var transport router.Transport
	if cfg.NATS.URL != "" {
		nats, err := router.NewNATSTransport(cfg.NATS.URL)
		if err != nil {
			db.Close()
			return nil, err
		}
		s.nats = nats
		transport = nats
	} else {
		transport = router.NewMemoryTransport()
	}
	s.router = router.New(s.sessions, transport, s.metrics)

	s.pool = orchestrator.NewPool(orchestrator.PoolConfig{
		Scheduler: s.sched,
		Queue:     s.queue,
		Store:     db,
		Router:    s.router,
		Metrics:   s.metrics,
	})

	policy := models.FailurePolicy(cfg.Defaults.FailurePolicy)
	if policy != "" && !policy.Valid() {
		db.Close()
		return nil, fmt.Errorf("invalid defaults.failure_policy %q", cfg.Defaults.FailurePolicy)
	}
	s.service = orchestrator.NewService(db, s.sched, s.router, s.pool, orchestrator.Defaults{
		Concurrency:   cfg.Defaults.Concurrency,
		FailurePolicy: policy,
		MaxRetries:    cfg.Defaults.MaxRetries,
		TaskTimeout:   cfg.Defaults.TaskTimeout,
	})

	s.registry = engine.NewRegistry()
	s.registry.Register("shell", engine.NewShellConnector(""))
	s.registry.Register("echo", engine.EchoConnector{})
	if cfg.Anthropic.APIKey != "" {
		llm, err := engine.NewLLMConnector(engine.LLMConfig{
			APIKey: cfg.Anthropic.APIKey,
			Model:  anthropic.Model(cfg.Anthropic.Model),
		})
		if err != nil {
			log.Printf("[system] llm connector disabled: %v", err)
		} else {
			s.registry.Register("llm", llm)
		}
	}

	eng := engine.New(engine.Config{
		Registry:       s.registry,
		DefaultTimeout: cfg.Defaults.TaskTimeout,
		Metrics:        s.metrics,
	})
	s.workers = worker.New(worker.Config{
		Queue:   s.queue,
		Engine:  eng,
		Source:  s.pool,
		Metrics: s.metrics,
		Size:    cfg.Workers.Size,
	})
	s.workers.Start()

	if cfg.Debug.Enabled {
		logPath := filepath.Join(cfg.Debug.LogDir, "orchestra-debug.log")
		debug, err := orchestrator.NewDebugLogger(logPath)
		if err != nil {
			log.Printf("[system] debug log disabled: %v", err)
		} else {
			s.debug = debug
		}
	}

	return s, nil
}

// registerLocalAgent registers the in-process agent carrying every
// configured connector capability.
func (s *system) registerLocalAgent() error {
	return s.sched.Register(&models.Agent{
		ID:            localAgentID,
		Capabilities:  s.registry.Capabilities(),
		MaxConcurrent: s.cfg.Workers.Size,
	})
}

// close shuts the system down: executors first so they settle their batches,
// then the workers, then the transports and storage.
func (s *system) close() {
	s.pool.Stop()
	s.workers.Stop()
	if s.nats != nil {
		s.nats.Close()
	}
	s.debug.Close()
	s.db.Close()
}
