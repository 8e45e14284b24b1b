package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// Job is one unit of work, typically one jurisdiction's run
type Job interface {
	Execute(ctx context.Context) Result
}

// Result is what a job produced
type Result interface {
	GetError() error
}

// PanicResult stands in for the result of a job that panicked
type PanicResult struct {
	Value any
	Stack []byte
}

// GetError describes the panic
func (r *PanicResult) GetError() error {
	return fmt.Errorf("job panicked: %v", r.Value)
}

// Pool runs jobs on a fixed number of goroutines. Each job runs start to
// finish on one goroutine, so work inside a job stays sequential. A job
// that panics yields a *PanicResult instead of taking the pool down.
type Pool struct {
	workers    int
	onResult   func(Result)
	jobQueue   chan Job
	results    chan Result
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
	closeOnce  sync.Once

	collector *ResultCollector
	collected chan struct{}
}

// PoolOption customises a Pool
type PoolOption func(*Pool)

// WithResultHook calls fn with each result as it arrives. Calls are
// serialized on the collector goroutine.
func WithResultHook(fn func(Result)) PoolOption {
	return func(p *Pool) { p.onResult = fn }
}

// NewPool creates a pool whose jobs stop when ctx is cancelled
func NewPool(ctx context.Context, workers int, opts ...PoolOption) *Pool {
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(ctx)

	p := &Pool{
		workers:    workers,
		jobQueue:   make(chan Job, workers*2),
		results:    make(chan Result, workers*2),
		ctx:        ctx,
		cancelFunc: cancel,
		collector:  NewResultCollector(),
		collected:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the workers and the result collector
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	// drain results while jobs are still being submitted
	go func() {
		defer close(p.collected)
		for result := range p.results {
			p.collector.Add(result)
			if p.onResult != nil {
				p.onResult(result)
			}
		}
	}()
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			result := execute(p.ctx, job)
			select {
			case p.results <- result:
			case <-p.ctx.Done():
				return
			}
		}
	}
}

func execute(ctx context.Context, job Job) (result Result) {
	defer func() {
		if v := recover(); v != nil {
			result = &PanicResult{Value: v, Stack: debug.Stack()}
		}
	}()
	return job.Execute(ctx)
}

// Submit queues a job. It returns immediately once the pool is shut down.
func (p *Pool) Submit(job Job) {
	select {
	case <-p.ctx.Done():
		return
	case p.jobQueue <- job:
	}
}

// Wait stops accepting jobs, waits for the queued ones and returns every
// result in completion order
func (p *Pool) Wait() []Result {
	close(p.jobQueue)
	p.wg.Wait()
	p.closeResults()
	<-p.collected
	return p.collector.Results()
}

// Shutdown cancels running jobs and stops the workers
func (p *Pool) Shutdown() {
	p.cancelFunc()
	p.wg.Wait()
	p.closeResults()
}

func (p *Pool) closeResults() {
	p.closeOnce.Do(func() {
		close(p.results)
	})
}

// ResultCollector gathers results from concurrent producers
type ResultCollector struct {
	results []Result
	mu      sync.Mutex
}

// NewResultCollector creates an empty collector
func NewResultCollector() *ResultCollector {
	return &ResultCollector{
		results: make([]Result, 0),
	}
}

// Add appends a result (thread-safe)
func (c *ResultCollector) Add(result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, result)
}

// Results returns a copy of the collected results
func (c *ResultCollector) Results() []Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Result(nil), c.results...)
}
