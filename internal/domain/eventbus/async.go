package eventbus

import (
	"sync"
)

// orderedQueue runs submitted tasks one at a time in submission order on a
// single worker goroutine. Push never blocks.
type orderedQueue struct {
	mu      sync.Mutex
	tasks   []func()
	notify  chan struct{}
	stop    chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

func newOrderedQueue() *orderedQueue {
	q := &orderedQueue{
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	q.wg.Add(1)
	go q.worker()
	return q
}

func (q *orderedQueue) Push(task func()) bool {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Stop drops pending tasks and waits for the running one to finish.
func (q *orderedQueue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.tasks = nil
	q.mu.Unlock()
	close(q.stop)
	q.wg.Wait()
}

func (q *orderedQueue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.stop:
			return
		case <-q.notify:
		}
		for {
			q.mu.Lock()
			if q.stopped || len(q.tasks) == 0 {
				q.mu.Unlock()
				break
			}
			task := q.tasks[0]
			q.tasks = q.tasks[1:]
			q.mu.Unlock()
			runTask(task)
		}
	}
}

func runTask(task func()) {
	defer func() {
		// handler panics stay inside the task
		_ = recover()
	}()
	task()
}
