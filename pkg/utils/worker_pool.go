package utils

import (
	"runtime"
	"sync"
)

// Bounded pool for fanning out calls. A task is handed to an idle worker
// or run by the caller when every worker is busy or the pool is stopped.
type WorkerPool struct {
	workerCount int
	tasks       chan func()
	done        chan struct{}
	stop        sync.Once
}

// Creates a pool of workerCount workers, GOMAXPROCS when not positive.
func NewWorkerPool(workerCount int) *WorkerPool {
	if workerCount <= 0 {
		workerCount = runtime.GOMAXPROCS(0)
	}
	return &WorkerPool{
		workerCount: workerCount,
		tasks:       make(chan func()),
		done:        make(chan struct{}),
	}
}

func (wp *WorkerPool) Start() {
	for i := 0; i < wp.workerCount; i++ {
		go func() {
			for {
				select {
				case task := <-wp.tasks:
					task()
				case <-wp.done:
					return
				}
			}
		}()
	}
}

func (wp *WorkerPool) SubmitOrRun(task func()) {
	select {
	case <-wp.done:
		task()
		return
	default:
	}

	select {
	case wp.tasks <- task:
	default:
		task()
	}
}

// Runs all tasks on the pool and waits for them to return.
func (wp *WorkerPool) RunAll(tasks []func()) {
	var wg sync.WaitGroup
	wg.Add(len(tasks))
	for _, task := range tasks {
		task := task
		wp.SubmitOrRun(func() {
			defer wg.Done()
			task()
		})
	}
	wg.Wait()
}

func (wp *WorkerPool) Stop() {
	wp.stop.Do(func() { close(wp.done) })
}
