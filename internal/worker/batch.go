package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ppiankov/legiscrape/internal/model"
)

// Runner performs one module's complete run
type Runner interface {
	Run(ctx context.Context, module string) (*model.RunReport, error)
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context, module string) (*model.RunReport, error)

func (f RunnerFunc) Run(ctx context.Context, module string) (*model.RunReport, error) {
	return f(ctx, module)
}

// RunJob runs one module
type RunJob struct {
	Module string
	Runner Runner
}

// Execute runs the module and wraps the outcome. A panic becomes the
// module's error.
func (j *RunJob) Execute(ctx context.Context) (result Result) {
	defer func() {
		if v := recover(); v != nil {
			result = &RunResult{Module: j.Module, Error: fmt.Errorf("%s panicked: %v", j.Module, v)}
		}
	}()
	report, err := j.Runner.Run(ctx, j.Module)
	return &RunResult{
		Module: j.Module,
		Report: report,
		Error:  err,
	}
}

// RunResult is one module's outcome. A failed run may still carry a report.
type RunResult struct {
	Module string
	Report *model.RunReport
	Error  error
}

// GetError returns the run error
func (r *RunResult) GetError() error {
	return r.Error
}

// BatchProcessor runs several jurisdictions in parallel. Each module is
// scheduled at most once per batch.
type BatchProcessor struct {
	runner      Runner
	concurrency int
	progress    func(*RunResult)
}

// NewBatchProcessor creates a batch processor
func NewBatchProcessor(runner Runner, concurrency int) *BatchProcessor {
	return &BatchProcessor{
		runner:      runner,
		concurrency: concurrency,
	}
}

// OnProgress calls fn with each module's result as soon as it finishes
func (b *BatchProcessor) OnProgress(fn func(*RunResult)) *BatchProcessor {
	b.progress = fn
	return b
}

// ProcessModules runs every module and returns results in input order
func (b *BatchProcessor) ProcessModules(ctx context.Context, modules []string) []*RunResult {
	modules = unique(modules)
	if len(modules) == 0 {
		return []*RunResult{}
	}

	var opts []PoolOption
	if b.progress != nil {
		opts = append(opts, WithResultHook(func(r Result) {
			if rr, ok := r.(*RunResult); ok {
				b.progress(rr)
			}
		}))
	}
	pool := NewPool(ctx, b.concurrency, opts...)
	pool.Start()

	for _, module := range modules {
		pool.Submit(&RunJob{
			Module: module,
			Runner: b.runner,
		})
	}

	byModule := make(map[string]*RunResult, len(modules))
	for _, result := range pool.Wait() {
		if r, ok := result.(*RunResult); ok {
			byModule[r.Module] = r
		}
	}

	results := make([]*RunResult, 0, len(modules))
	for _, module := range modules {
		r, ok := byModule[module]
		if !ok {
			// the pool stopped before this module ran
			r = &RunResult{Module: module, Error: fmt.Errorf("%s not run: %w", module, context.Cause(ctx))}
		}
		results = append(results, r)
	}
	return results
}

// ProcessFile reads module names from a file and runs them
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string) ([]*RunResult, error) {
	modules, err := ReadModulesFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read modules: %w", err)
	}

	return b.ProcessModules(ctx, modules), nil
}

// ReadModulesFromFile reads one module name per line, skipping blanks,
// comments and duplicates
func ReadModulesFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var modules []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		modules = append(modules, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return unique(modules), nil
}

func unique(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
