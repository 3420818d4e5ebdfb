package reconciler

import (
	"context"
	"log/slog"
	"sync"

	model "github.com/frahmantamala/charge-orchestrator/internal/core/datamodel/charge"
)

type Job struct {
	Attempt model.ChargeAttempt
}

type Worker struct {
	ID         int
	WorkerPool chan chan Job
	JobChannel chan Job
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan Job, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan Job),
		Logger:     logger,
	}
}

func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup, processFunc func(context.Context, Job)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			select {
			case w.WorkerPool <- w.JobChannel:
			case <-ctx.Done():
				w.Logger.Debug("worker shutting down", "worker_id", w.ID)
				return
			}

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("worker processing job", "worker_id", w.ID, "reference_id", job.Attempt.ReferenceID)
				processFunc(ctx, job)
			case <-ctx.Done():
				w.Logger.Debug("worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

// Pool runs status re-queries on a fixed number of workers. Wait blocks until every submitted job has
// been processed.
type Pool struct {
	jobQueue   chan Job
	workerPool chan chan Job
	maxWorkers int
	process    func(context.Context, Job)
	logger     *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	pending sync.WaitGroup
	once    sync.Once
}

type PoolConfig struct {
	MaxWorkers   int
	JobQueueSize int
}

func NewPool(config PoolConfig, process func(context.Context, Job), logger *slog.Logger) *Pool {
	maxWorkers := config.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	jobQueueSize := config.JobQueueSize
	if jobQueueSize <= 0 {
		jobQueueSize = 100
	}

	return &Pool{
		jobQueue:   make(chan Job, jobQueueSize),
		workerPool: make(chan chan Job, maxWorkers),
		maxWorkers: maxWorkers,
		process:    process,
		logger:     logger,
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.once.Do(func() {
		p.ctx, p.cancel = context.WithCancel(ctx)

		for i := 0; i < p.maxWorkers; i++ {
			worker := NewWorker(i, p.workerPool, p.logger)
			worker.Start(p.ctx, &p.wg, p.run)
		}

		p.wg.Add(1)
		go p.dispatch()

		p.logger.Info("reconciler worker pool started",
			"max_workers", p.maxWorkers,
			"queue_size", cap(p.jobQueue))
	})
}

func (p *Pool) run(ctx context.Context, job Job) {
	defer p.pending.Done()
	p.process(ctx, job)
}

func (p *Pool) dispatch() {
	defer p.wg.Done()

	for {
		select {
		case job := <-p.jobQueue:
			select {
			case jobChannel := <-p.workerPool:
				select {
				case jobChannel <- job:
				case <-p.ctx.Done():
					p.pending.Done()
					p.drain()
					return
				}
			case <-p.ctx.Done():
				p.pending.Done()
				p.drain()
				return
			}
		case <-p.ctx.Done():
			p.drain()
			return
		}
	}
}

// drain marks queued jobs as done after shutdown so Wait does not block forever.
func (p *Pool) drain() {
	p.logger.Info("reconciler dispatcher shutting down")
	for {
		select {
		case <-p.jobQueue:
			p.pending.Done()
		default:
			return
		}
	}
}

// Submit queues a job. It returns false when the pool is shutting down.
func (p *Pool) Submit(job Job) bool {
	p.pending.Add(1)
	select {
	case p.jobQueue <- job:
		return true
	case <-p.ctx.Done():
		p.pending.Done()
		return false
	}
}

// Wait returns once every submitted job finished or the pool was shut down.
func (p *Pool) Wait() {
	done := make(chan struct{})
	go func() {
		p.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-p.ctx.Done():
	}
}

func (p *Pool) Shutdown() {
	p.logger.Info("shutting down reconciler worker pool")
	p.cancel()
	p.wg.Wait()
	p.logger.Info("reconciler worker pool shutdown complete")
}
