package resolver

import (
	"context"
	"sync"
)

// linkJob is one download link waiting for direct-link resolution
type linkJob struct {
	index int
	link  string
}

// linkResult carries a resolution back to its listing slot
type linkResult struct {
	index  int
	result DirectResult
}

// resolveFunc unwraps a single link
type resolveFunc func(ctx context.Context, link string) DirectResult

// WorkerPool resolves direct links with a bounded number of workers
type WorkerPool struct {
	workers int
	jobs    chan linkJob
	results chan linkResult
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	resolve resolveFunc
}

func newWorkerPool(ctx context.Context, workers int, resolve resolveFunc) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	poolCtx, cancel := context.WithCancel(ctx)

	return &WorkerPool{
		workers: workers,
		jobs:    make(chan linkJob, workers*2),
		results: make(chan linkResult, workers*2),
		ctx:     poolCtx,
		cancel:  cancel,
		resolve: resolve,
	}
}

// start begins the worker pool execution
func (wp *WorkerPool) start() {
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}

	// Close results once every worker has exited
	go func() {
		wp.wg.Wait()
		close(wp.results)
	}()
}

// shutdown stops the workers and waits for them
func (wp *WorkerPool) shutdown() {
	wp.cancel()
	wp.wg.Wait()
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()

	for {
		select {
		case job, ok := <-wp.jobs:
			if !ok {
				return
			}
			result := wp.resolve(wp.ctx, job.link)
			select {
			case wp.results <- linkResult{index: job.index, result: result}:
			case <-wp.ctx.Done():
				return
			}
		case <-wp.ctx.Done():
			return
		}
	}
}

// ResolveAll resolves links concurrently and returns results indexed like
// links, so listing order is preserved. Empty links are skipped. Slots never
// reached (for example after cancellation) keep their original link.
// onResolved, when set, runs on the calling goroutine once per finished link.
func ResolveAll(ctx context.Context, workers int, links []string, resolve resolveFunc, onResolved func(DirectResult)) []DirectResult {
	results := make([]DirectResult, len(links))
	pending := 0
	for i, link := range links {
		results[i] = DirectResult{URL: link}
		if link != "" {
			pending++
		}
	}
	if pending == 0 {
		return results
	}
	if workers > pending {
		workers = pending
	}

	pool := newWorkerPool(ctx, workers, resolve)
	defer pool.shutdown()
	pool.start()

	go func() {
		defer close(pool.jobs)
		for i, link := range links {
			if link == "" {
				continue
			}
			select {
			case pool.jobs <- linkJob{index: i, link: link}:
			case <-pool.ctx.Done():
				return
			}
		}
	}()

	for res := range pool.results {
		results[res.index] = res.result
		if onResolved != nil {
			onResolved(res.result)
		}
	}

	return results
}
