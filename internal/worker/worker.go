// Package worker runs the consumer side of the durable queue: a fixed pool
// of goroutines that dequeue task attempts, execute them through the engine,
// and report results back to the batch executors.
package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/orchestra-core/orchestra/internal/engine"
	"github.com/orchestra-core/orchestra/internal/metrics"
	"github.com/orchestra-core/orchestra/internal/queue"
	"github.com/orchestra-core/orchestra/pkg/models"
)

const (
	// DefaultSize is the number of worker goroutines when none is configured.
	DefaultSize = 4
	// DefaultPollInterval is the idle wait between dequeue attempts.
	DefaultPollInterval = 100 * time.Millisecond
)

// Source resolves dequeued attempts and receives execution feedback.
// The orchestrator pool implements this.
type Source interface {
	// ResolveAttempt maps an attempt to its task and agent. ok=false means
	// the attempt is stale and must be acknowledged without execution; this
	// is how at-least-once re-deliveries are de-duplicated.
	ResolveAttempt(attempt *queue.Attempt) (*models.Task, *models.Agent, bool)
	// AttemptStarted reports that execution began, handing over the cancel
	// func for the attempt's context.
	AttemptStarted(attempt *queue.Attempt, cancel context.CancelFunc)
	// AttemptFinished reports the result envelope of a finished execution.
	AttemptFinished(env *models.ResultEnvelope)
}

// Config contains configuration for a worker Pool.
type Config struct {
	Queue   queue.Queue
	Engine  *engine.Engine
	Source  Source
	Metrics *metrics.Metrics

	// Size is the number of concurrent workers; 0 means DefaultSize.
	Size int
	// PollInterval is the idle wait when the queue is empty.
	PollInterval time.Duration
}

// Pool is a fixed-size worker pool over the durable queue. Workers never
// retry or reclassify results; they execute exactly what they dequeue and
// hand the envelope back.
type Pool struct {
	queue   queue.Queue
	engine  *engine.Engine
	source  Source
	metrics *metrics.Metrics

	size int
	poll time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a worker Pool from the given config.
func New(cfg Config) *Pool {
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		queue:   cfg.Queue,
		engine:  cfg.Engine,
		source:  cfg.Source,
		metrics: cfg.Metrics,
		size:    cfg.Size,
		poll:    cfg.PollInterval,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
}

// Stop cancels all workers and waits for in-flight executions to return.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
}

func (p *Pool) run(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		attempt, handle, err := p.queue.Dequeue(p.ctx)
		if errors.Is(err, queue.ErrEmpty) {
			p.idle()
			continue
		}
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			log.Printf("[worker %d] dequeue: %v", id, err)
			p.idle()
			continue
		}

		p.process(id, attempt, handle)
	}
}

func (p *Pool) idle() {
	select {
	case <-time.After(p.poll):
	case <-p.ctx.Done():
	}
}

func (p *Pool) process(id int, attempt *queue.Attempt, handle queue.Handle) {
	task, agent, ok := p.source.ResolveAttempt(attempt)
	if !ok {
		// Stale re-delivery: the attempt already settled or was superseded.
		log.Printf("[worker %d] dropping stale attempt: task %s attempt %d", id, attempt.TaskID, attempt.Attempt)
		p.ack(handle)
		return
	}

	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	p.source.AttemptStarted(attempt, cancel)

	if p.metrics != nil {
		p.metrics.TasksInFlight.Inc()
	}
	env := p.engine.Execute(runCtx, task, agent)
	if p.metrics != nil {
		p.metrics.TasksInFlight.Dec()
	}

	p.source.AttemptFinished(env)
	p.ack(handle)
}

func (p *Pool) ack(handle queue.Handle) {
	// Acknowledge with a fresh context so a shutdown mid-ack does not force
	// a pointless re-delivery.
	if err := p.queue.Ack(context.Background(), handle); err != nil {
		log.Printf("[worker] ack %d: %v", handle, err)
		return
	}
	if p.metrics != nil {
		if depth, err := p.queue.Depth(context.Background()); err == nil {
			p.metrics.QueueDepth.Set(float64(depth))
		}
	}
}
