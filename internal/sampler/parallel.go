package sampler

import "runtime"

// The sampling pool mirrors the layout of a blocked-matmul worker pool:
// a fixed set of goroutines, each owning the scratch buffer it reuses
// across tasks, fed through a channel and joined on a done channel. No task
// suspends; everything inside a task is synchronous CPU work.

type poolTask struct {
	run  func(sc *scratch)
	done chan struct{}
}

type workerPool struct {
	size  int
	tasks chan poolTask
}

func newWorkerPool() *workerPool {
	size := runtime.GOMAXPROCS(0)
	if size < 1 {
		size = 1
	}
	p := &workerPool{
		size:  size,
		tasks: make(chan poolTask, size*2),
	}
	for w := 0; w < size; w++ {
		go func() {
			sc := &scratch{}
			for task := range p.tasks {
				task.run(sc)
				task.done <- struct{}{}
			}
		}()
	}
	return p
}

var samplePool = newWorkerPool()

// forEach runs fn(i, sc) for every i in [0, n), partitioned into contiguous
// chunks across the pool. fn must only touch data owned by index i plus the
// worker-local scratch; under that contract results are independent of the
// chunking. forEach returns once every index has been processed.
func (p *workerPool) forEach(n int, fn func(i int, sc *scratch)) {
	if n <= 0 {
		return
	}
	workers := p.size
	if workers > n {
		workers = n
	}

	// Work always runs on pool goroutines, even the single-task case, so
	// the scratch a call sees is a worker-owned one reused across calls.
	chunk := (n + workers - 1) / workers
	done := make(chan struct{}, workers)
	submitted := 0
	for w := 0; w < workers; w++ {
		start := w * chunk
		if start >= n {
			break
		}
		end := start + chunk
		if end > n {
			end = n
		}
		p.tasks <- poolTask{
			run: func(sc *scratch) {
				for i := start; i < end; i++ {
					fn(i, sc)
				}
			},
			done: done,
		}
		submitted++
	}
	for i := 0; i < submitted; i++ {
		<-done
	}
}
