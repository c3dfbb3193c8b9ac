// Package pipeline implements the task orchestration core: named in-memory
// queues with late acknowledgement, per-queue worker pools, and the engine
// that drives papers through the stage chain.
package pipeline

import (
	"container/heap"
	"context"
	"sync"

	"github.com/helixir/paper-processing-service/internal/domain"
)

// Queue names served by the engine.
const (
	QueueContent    = "content"
	QueueExtraction = "extraction"
	QueueGraph      = "graph"
)

// QueueNames returns all queue names in a stable order.
func QueueNames() []string {
	return []string{QueueContent, QueueExtraction, QueueGraph}
}

// stageQueues routes each stage to the queue that serves it.
var stageQueues = map[domain.Stage]string{
	domain.StageProcess:               QueueContent,
	domain.StageExtractEntities:       QueueExtraction,
	domain.StageExtractRelationships:  QueueExtraction,
	domain.StageBuildGraph:            QueueGraph,
	domain.StageAnalyze:               QueueGraph,
	domain.StagePrepareImplementation: QueueGraph,
}

// QueueForStage returns the name of the queue serving a stage.
func QueueForStage(stage domain.Stage) (string, bool) {
	name, ok := stageQueues[stage]
	return name, ok
}

// Delivery is one dequeued task awaiting acknowledgement. The task counts
// against the queue's in-flight set until Ack or Nack is called; workers ack
// only after the outcome of the attempt is fully recorded.
type Delivery struct {
	Task *domain.Task

	queue   *Queue
	ackOnce sync.Once
}

// Ack settles the delivery. The task is done with this queue, whether it
// succeeded, was quarantined, or was handed back for a delayed retry.
func (d *Delivery) Ack() {
	d.ackOnce.Do(func() {
		d.queue.settle()
	})
}

// Nack settles the delivery without completing it. Identical bookkeeping to
// Ack; the distinction exists for readers of the worker loop.
func (d *Delivery) Nack() {
	d.ackOnce.Do(func() {
		d.queue.settle()
	})
}

// Queue is a bounded in-memory task queue ordered by priority (higher first)
// and enqueue order within a priority. Dequeued tasks stay in flight until
// the delivery is settled.
type Queue struct {
	name     string
	capacity int

	mu       sync.Mutex
	notEmpty *sync.Cond
	items    taskHeap
	seq      uint64
	inFlight int
	closed   bool
}

// NewQueue creates a queue. capacity <= 0 means unbounded.
func NewQueue(name string, capacity int) *Queue {
	q := &Queue{name: name, capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Name returns the queue's name.
func (q *Queue) Name() string { return q.name }

// Enqueue adds a task. Returns ErrQueueUnavailable when the queue is full or
// closed; the caller decides whether that is fatal.
func (q *Queue) Enqueue(task *domain.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return domain.NewValidationError("queue", "queue is closed")
	}
	if q.capacity > 0 && q.items.Len() >= q.capacity {
		return domain.ErrQueueUnavailable
	}

	q.seq++
	heap.Push(&q.items, &queuedTask{task: task, seq: q.seq})
	q.notEmpty.Signal()
	return nil
}

// Dequeue blocks until a task is available, the context is cancelled, or the
// queue is closed. The returned delivery must be settled with Ack or Nack.
func (q *Queue) Dequeue(ctx context.Context) (*Delivery, error) {
	// Wake the waiter when the context ends. The goroutine exits once the
	// dequeue returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			q.notEmpty.Broadcast()
		case <-done:
		}
	}()

	q.mu.Lock()
	defer q.mu.Unlock()

	for q.items.Len() == 0 && !q.closed && ctx.Err() == nil {
		q.notEmpty.Wait()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.items.Len() == 0 && q.closed {
		return nil, domain.ErrQueueUnavailable
	}

	item := heap.Pop(&q.items).(*queuedTask)
	q.inFlight++
	return &Delivery{Task: item.task, queue: q}, nil
}

// Depth returns the number of buffered plus in-flight tasks.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len() + q.inFlight
}

// Pending returns the number of buffered tasks not yet dequeued.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// InFlight returns the number of dequeued but unsettled tasks.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

// Close stops the queue. Buffered tasks can still be dequeued; once drained,
// Dequeue returns ErrQueueUnavailable.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}

func (q *Queue) settle() {
	q.mu.Lock()
	q.inFlight--
	q.mu.Unlock()
}

// queuedTask pairs a task with its enqueue sequence number for stable FIFO
// ordering within a priority level.
type queuedTask struct {
	task *domain.Task
	seq  uint64
}

type taskHeap []*queuedTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x interface{}) {
	*h = append(*h, x.(*queuedTask))
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
