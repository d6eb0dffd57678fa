package submit

import (
	"sync"
	"time"

	"github.com/beam-cloud/contestfs/pkg/filestore"
	"github.com/google/uuid"
)

// Submission is a staged file waiting to be sent to the server.
type Submission struct {
	ID        uuid.UUID
	ContestID int
	ProblemID int
	LangID    int
	NodeID    uint64
	FileName  string
	Time      time.Time

	// Dir is the staging directory the file is linked in.
	Dir *filestore.Directory
}

// Queue is an unbounded FIFO of submissions with a blocking Dequeue.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []Submission
	closed bool
}

func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends s and wakes the consumer. It reports false once the queue
// is closed.
func (q *Queue) Enqueue(s Submission) bool {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, s)
	q.cond.Signal()
	return true
}

// Dequeue blocks until a submission is available or the queue is closed.
// Items still queued at Close are drained before it reports false.
func (q *Queue) Dequeue() (Submission, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return Submission{}, false
	}

	s := q.items[0]
	q.items[0] = Submission{}
	q.items = q.items[1:]
	return s, true
}

func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
