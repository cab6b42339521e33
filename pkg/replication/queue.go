package replication

import "context"

// Executor executes a single SQL statement. The production implementation
// wraps the batch's enclosing database transaction; tests substitute a
// recorder.
type Executor interface {
	Exec(ctx context.Context, sql string) error
}

// TxnBuffer holds the ordered mutations of one upstream transaction and
// links to the next buffer in commit order.
type TxnBuffer struct {
	stmts []string
	next  *TxnBuffer
}

// Queue is a commit-ordered FIFO of transaction buffers. Mutations within a
// buffer preserve arrival order; buffers drain strictly head-first. The tail
// buffer is the one currently being appended to.
//
// The queue is owned by the single applier goroutine and is not synchronized.
type Queue struct {
	head *TxnBuffer
	tail *TxnBuffer

	txns  int
	stmts int
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Begin opens a fresh transaction buffer at the tail.
func (q *Queue) Begin() {
	buf := &TxnBuffer{}
	if q.head == nil {
		q.head = buf
		q.tail = buf
	} else {
		q.tail.next = buf
		q.tail = buf
	}
	q.txns++
}

// Append adds a mutation to the tail buffer. An append without a preceding
// Begin opens an implicit buffer, which guards against protocol anomalies
// where an INSERT arrives outside any transaction.
func (q *Queue) Append(sql string) {
	if q.tail == nil {
		q.Begin()
	}
	q.tail.stmts = append(q.tail.stmts, sql)
	q.stmts++
}

// TxnCount returns the number of buffered transactions.
func (q *Queue) TxnCount() int {
	return q.txns
}

// StmtCount returns the total number of buffered mutations.
func (q *Queue) StmtCount() int {
	return q.stmts
}

// DrainAll applies every buffered mutation head-first through the executor
// and empties the queue. The first execution error stops the drain and is
// returned; the caller is expected to roll back the enclosing transaction
// and Reset the queue.
func (q *Queue) DrainAll(ctx context.Context, ex Executor) error {
	for buf := q.head; buf != nil; buf = buf.next {
		for _, sql := range buf.stmts {
			if err := ex.Exec(ctx, sql); err != nil {
				return err
			}
		}
	}
	q.Reset()
	return nil
}

// Reset discards all buffered transactions.
func (q *Queue) Reset() {
	q.head = nil
	q.tail = nil
	q.txns = 0
	q.stmts = 0
}
