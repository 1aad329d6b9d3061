package taskexec

import (
	"sync"

	"github.com/srand/jolt/engine/pkg/log"
)

// Runs a blocking task on its own goroutine.
// The group context is the interrupt; the task must observe it.
func (s *Service) startBlocking(tracker *taskTracker, started *sync.WaitGroup) {
	s.blocking.Add(1)

	go func() {
		defer s.blocking.Add(-1)

		started.Done()

		log.Tracef("new - blocking task - location: %s, id: %d", tracker.group.location, tracker.task.TaskID())

		if err := tracker.init(); err != nil {
			tracker.finish(err)
			return
		}

		for {
			if tracker.group.failedOrCanceled() {
				tracker.finish(nil)
				return
			}

			progress, err := tracker.call()
			if err != nil || progress.Done {
				tracker.finish(err)
				return
			}
		}
	}()
}
