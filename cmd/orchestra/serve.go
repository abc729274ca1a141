package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/orchestra-core/orchestra/internal/config"
	"github.com/orchestra-core/orchestra/internal/orchestrator"
	"github.com/orchestra-core/orchestra/internal/router"
	"github.com/orchestra-core/orchestra/pkg/models"
)

// sweepInterval is how often the serve loop expires stale agents and
// lapsed sessions.
const sweepInterval = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestration daemon",
	Long: `Starts the orchestra daemon: workers consuming the durable queue, the
result router, the agent health sweep, and (when configured) the metrics
endpoint and the batch spool directory watcher.

Batch definition files (*.yaml) dropped into the spool directory are
submitted automatically and renamed with a .submitted suffix.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return runServe(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cfg *config.Config) error {
	sys, err := buildSystem(cfg)
	if err != nil {
		return err
	}
	defer sys.close()

	if err := sys.registerLocalAgent(); err != nil {
		return err
	}
	log.Printf("[serve] local agent registered with capabilities %v", sys.registry.Capabilities())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go drainEvents(ctx, sys)
	go sweepLoop(ctx, sys)

	if sys.nats != nil {
		sub, err := sys.nats.SubscribeSessionBound(func(bound router.SessionBound) {
			sys.sessions.RegisterSession(bound.SessionID)
			log.Printf("[serve] session %s announced", bound.SessionID)
		})
		if err != nil {
			return err
		}
		defer sub.Drain()
	}

	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", sys.metrics.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
		go func() {
			log.Printf("[serve] metrics endpoint on %s", cfg.Metrics.Listen)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("[serve] metrics server: %v", err)
			}
		}()
		defer srv.Close()
	}

	if cfg.Spool.Dir != "" {
		watcher, err := watchSpool(ctx, sys, cfg.Spool.Dir)
		if err != nil {
			return err
		}
		defer watcher.Close()
	}

	log.Printf("[serve] orchestra ready (db=%s, workers=%d)", cfg.Database.Path, cfg.Workers.Size)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Printf("[serve] shutting down")
	return nil
}

// drainEvents logs executor events and mirrors them to the debug log.
func drainEvents(ctx context.Context, sys *system) {
	for {
		select {
		case event, ok := <-sys.pool.Events():
			if !ok {
				return
			}
			sys.debug.LogEvent(event)
			switch event.Type {
			case orchestrator.EventTaskFailed:
				log.Printf("[event] %s batch=%s task=%s: %v", event.Type, event.BatchID, event.TaskID, event.Error)
			case orchestrator.EventBatchDone:
				log.Printf("[event] %s batch=%s status=%s", event.Type, event.BatchID, event.BatchStatus)
			default:
				log.Printf("[event] %s batch=%s task=%s agent=%s", event.Type, event.BatchID, event.TaskID, event.AgentID)
			}
		case <-ctx.Done():
			return
		}
	}
}

// sweepLoop periodically expires agents without recent heartbeats and
// sessions whose grace period lapsed.
func sweepLoop(ctx context.Context, sys *system) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, id := range sys.sched.SweepExpired(sys.cfg.Agents.HeartbeatTTL) {
				log.Printf("[serve] agent %s marked offline: no heartbeat within %s", id, sys.cfg.Agents.HeartbeatTTL)
			}
			if removed := sys.sessions.Sweep(); removed > 0 {
				log.Printf("[serve] swept %d expired sessions", removed)
			}
		case <-ctx.Done():
			return
		}
	}
}

// watchSpool submits batch definition files dropped into the spool directory.
func watchSpool(ctx context.Context, sys *system, dir string) (*fsnotify.Watcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create spool directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create spool watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch spool directory: %w", err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
					continue
				}
				submitSpoolFile(sys, event.Name)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[spool] watcher: %v", err)
			case <-ctx.Done():
				return
			}
		}
	}()

	// Pick up files that were already waiting when the watcher started.
	entries, err := os.ReadDir(dir)
	if err == nil {
		for _, entry := range entries {
			if !entry.IsDir() {
				submitSpoolFile(sys, filepath.Join(dir, entry.Name()))
			}
		}
	}

	log.Printf("[spool] watching %s", dir)
	return watcher, nil
}

func submitSpoolFile(sys *system, path string) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return
	}

	def, err := readBatchDefinition(path)
	if err != nil {
		log.Printf("[spool] %s: %v", path, err)
		return
	}

	batch, err := sys.service.Submit(def, "")
	if err != nil {
		log.Printf("[spool] %s: %v", path, err)
		return
	}
	log.Printf("[spool] %s submitted as batch %s", filepath.Base(path), batch.ID)

	// Rename so the same file is not submitted again on the next event.
	if err := os.Rename(path, path+".submitted"); err != nil {
		log.Printf("[spool] rename %s: %v", path, err)
	}
}

// readBatchDefinition parses a batch definition YAML file.
func readBatchDefinition(path string) (*models.BatchDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch definition: %w", err)
	}
	def := &models.BatchDefinition{}
	if err := yaml.Unmarshal(data, def); err != nil {
		return nil, fmt.Errorf("parse batch definition: %w", err)
	}
	return def, nil
}
