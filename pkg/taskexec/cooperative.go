package taskexec

import (
	"sync"
	"time"

	"github.com/srand/jolt/engine/pkg/log"
)

// Pool of cooperative workers consuming the shared tracker queue.
//
// A worker whose step overruns the call quantum becomes exclusive to that
// task and a replacement is spawned for the queue. The exclusive worker
// exits when its task ends, returning the pool to its base size.
type cooperativePool struct {
	service *Service
	queue   *trackerQueue
	quantum time.Duration
	max     int

	mu        sync.Mutex
	shared    int
	exclusive int
	stopped   bool
	wg        sync.WaitGroup
}

func newCooperativePool(service *Service, queue *trackerQueue, quantum time.Duration, max int) *cooperativePool {
	return &cooperativePool{
		service: service,
		queue:   queue,
		quantum: quantum,
		max:     max,
	}
}

func (p *cooperativePool) start(count int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < count; i++ {
		p.spawnNoLock()
	}
}

func (p *cooperativePool) spawnNoLock() {
	if p.stopped {
		return
	}
	p.shared++
	p.wg.Add(1)

	w := &cooperativeWorker{pool: p}
	go w.run()
}

// Turns a shared worker into an exclusive one and spawns its replacement.
// Refused when the pool is at its maximum size.
func (p *cooperativePool) promote() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped || p.shared+p.exclusive >= p.max {
		return false
	}

	p.shared--
	p.exclusive++
	p.spawnNoLock()
	return true
}

func (p *cooperativePool) exit(exclusive bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if exclusive {
		p.exclusive--
	} else {
		p.shared--
	}
	p.wg.Done()
}

func (p *cooperativePool) stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
}

func (p *cooperativePool) size() (shared, exclusive int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shared, p.exclusive
}

type cooperativeWorker struct {
	pool *cooperativePool

	mu        sync.Mutex
	exclusive *taskTracker
	stepping  *taskTracker
	step      uint64
}

func (w *cooperativeWorker) run() {
	log.Trace("new - cooperative worker")

	exclusive := false
	defer func() {
		w.pool.exit(exclusive)
		log.Trace("del - cooperative worker")
	}()

	for {
		tracker := w.exclusiveTracker()
		if tracker == nil {
			var ok bool
			if tracker, ok = w.pool.queue.take(); !ok {
				return
			}
		}

		done, err := w.runStep(tracker)

		exclusive = w.exclusiveTracker() != nil

		if done || err != nil {
			tracker.finish(err)
			if exclusive {
				return
			}
			continue
		}

		if !exclusive && !w.pool.queue.put(tracker) {
			tracker.finish(nil)
			return
		}
	}
}

// Runs one step of the tracker's task. Reports done without calling the
// task if its group already failed or was cancelled.
func (w *cooperativeWorker) runStep(tracker *taskTracker) (bool, error) {
	if tracker.group.failedOrCanceled() {
		return true, nil
	}

	var timer *time.Timer
	if w.exclusiveTracker() == nil {
		w.mu.Lock()
		w.step++
		step := w.step
		w.stepping = tracker
		w.mu.Unlock()

		timer = time.AfterFunc(w.pool.quantum, func() {
			w.timeout(tracker, step)
		})
	}

	progress, err := tracker.call()

	if timer != nil {
		timer.Stop()
		w.mu.Lock()
		w.stepping = nil
		w.mu.Unlock()
	}

	return progress.Done, err
}

func (w *cooperativeWorker) timeout(tracker *taskTracker, step uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stepping != tracker || w.step != step || w.exclusive != nil {
		return
	}

	w.pool.service.metrics.CallTimeouts.Inc()

	if !w.pool.promote() {
		log.Debugf("exe - task - call overran quantum, pool at maximum - location: %s, id: %d",
			tracker.group.location, tracker.task.TaskID())
		return
	}

	log.Debugf("exe - task - call overran quantum, worker now exclusive - location: %s, id: %d",
		tracker.group.location, tracker.task.TaskID())
	w.exclusive = tracker
}

func (w *cooperativeWorker) exclusiveTracker() *taskTracker {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.exclusive
}
