package input

// QueueCapacity is the number of events the Manager buffers between drains.
const QueueCapacity = 8

// queue is a fixed-capacity FIFO. A push into a full queue is refused and the
// queued events are left untouched.
type queue struct {
	buf  [QueueCapacity]Event
	head int
	n    int
}

func (q *queue) push(e Event) bool {
	if q.n == len(q.buf) {
		return false
	}
	q.buf[(q.head+q.n)%len(q.buf)] = e
	q.n++
	return true
}

func (q *queue) pop() (Event, bool) {
	if q.n == 0 {
		return Event{}, false
	}
	e := q.buf[q.head]
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return e, true
}

func (q *queue) len() int { return q.n }
