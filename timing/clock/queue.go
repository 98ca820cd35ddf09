package clock

type callback struct {
	deadline uint64
	seq      uint64
	handle   Handle
	action   func()
}

// callbackQueue is a min-heap ordered by deadline, then by scheduling order.
type callbackQueue []*callback

func (q callbackQueue) Len() int { return len(q) }

func (q callbackQueue) Less(i, j int) bool {
	if q[i].deadline != q[j].deadline {
		return q[i].deadline < q[j].deadline
	}
	return q[i].seq < q[j].seq
}

func (q callbackQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *callbackQueue) Push(x any) {
	*q = append(*q, x.(*callback))
}

func (q *callbackQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}
