package widget

import "sync"

// jobQueue is an unbounded FIFO feeding the window loop. Posting never
// blocks, so session observers and timer callbacks can post from any
// goroutine, including the loop itself.
type jobQueue struct {
	mu     sync.Mutex
	jobs   []func()
	closed bool
	signal chan struct{}
}

func newJobQueue() *jobQueue {
	return &jobQueue{signal: make(chan struct{}, 1)}
}

func (q *jobQueue) post(job func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// drain removes and returns every queued job.
func (q *jobQueue) drain() []func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := q.jobs
	q.jobs = nil
	return jobs
}

func (q *jobQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.jobs = nil
	q.mu.Unlock()
}
