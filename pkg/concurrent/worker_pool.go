package concurrent

import (
	"context"
	"hash/fnv"
	"sync"
)

type JobFunc[T any] func(job T)

// WorkerPool runs jobs on a fixed set of workers. Jobs that share a key always land on the same
// worker, so they run one at a time in submission order.
type WorkerPool[T any] struct {
	numWorkers int
	jobQueues  []chan T
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

func NewWorkerPool[T any](numWorkers, jobQueueSize int) *WorkerPool[T] {
	if numWorkers < 1 {
		numWorkers = 1
	}
	queues := make([]chan T, numWorkers)
	for i := range queues {
		queues[i] = make(chan T, jobQueueSize)
	}
	return &WorkerPool[T]{
		numWorkers: numWorkers,
		jobQueues:  queues,
	}
}

func (wp *WorkerPool[T]) worker(id int, jobFunc JobFunc[T]) {
	defer wp.wg.Done()
	for job := range wp.jobQueues[id] {
		jobFunc(job)
	}
}

func (wp *WorkerPool[T]) Start(jobFunc JobFunc[T]) {
	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i, jobFunc)
	}
}

func (wp *WorkerPool[T]) workerFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(wp.numWorkers))
}

// AddJob blocks while the key's worker queue is full.
func (wp *WorkerPool[T]) AddJob(ctx context.Context, key string, job T) error {
	select {
	case wp.jobQueues[wp.workerFor(key)] <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs. Queued jobs still run; Wait returns once they have.
func (wp *WorkerPool[T]) Close() {
	wp.closeOnce.Do(func() {
		for _, q := range wp.jobQueues {
			close(q)
		}
	})
}

func (wp *WorkerPool[T]) Wait() {
	wp.wg.Wait()
}
