package pipeline

import "sync"

// Scheduler runs submitted tasks on a fixed pool of background workers.
// It is constructed once at startup and handed to the orchestrator; there is
// no process-wide pool.
type Scheduler struct {
	tasks chan func()
	wg    sync.WaitGroup
}

// NewScheduler starts a pool with the given worker count and queue depth.
// Non-positive arguments fall back to 4 workers and a queue of 64.
func NewScheduler(workers, queueDepth int) *Scheduler {
	if workers <= 0 {
		workers = 4
	}
	if queueDepth <= 0 {
		queueDepth = 64
	}

	s := &Scheduler{tasks: make(chan func(), queueDepth)}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for task := range s.tasks {
				task()
			}
		}()
	}
	return s
}

// Schedule enqueues a task for execution. It blocks only when the queue is
// full. Scheduled tasks are not cancellable.
func (s *Scheduler) Schedule(task func()) {
	s.tasks <- task
}

// Close stops accepting tasks and waits for in-flight tasks to finish.
func (s *Scheduler) Close() {
	close(s.tasks)
	s.wg.Wait()
}
