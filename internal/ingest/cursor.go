package ingest

import "sync"

// cursorTracker computes the resumable checkpoint while partition workers
// fold events concurrently. Events are begun in non-decreasing cursor order
// (the order the stream delivers them) but may finish out of order across
// partitions; the committed cursor only advances past positions whose
// events have all been folded, so a crash never skips an unfolded event.
type cursorTracker struct {
	mu       sync.Mutex
	inflight map[int64]int
	minHeap  []int64
	maxBegun int64
}

func newCursorTracker(from int64) *cursorTracker {
	return &cursorTracker{inflight: map[int64]int{}, maxBegun: from}
}

func (t *cursorTracker) Begin(cursor int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight[cursor]++
	if t.inflight[cursor] == 1 {
		t.push(cursor)
	}
	if cursor > t.maxBegun {
		t.maxBegun = cursor
	}
}

func (t *cursorTracker) Done(cursor int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.inflight[cursor]; ok {
		if n <= 1 {
			delete(t.inflight, cursor)
		} else {
			t.inflight[cursor] = n - 1
		}
	}
}

// Committed returns the highest position it is safe to resume from: every
// event at or below it has been folded.
func (t *cursorTracker) Committed() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	for len(t.minHeap) > 0 {
		min := t.minHeap[0]
		if _, ok := t.inflight[min]; ok {
			return min - 1
		}
		t.pop()
	}
	return t.maxBegun
}

func (t *cursorTracker) push(v int64) {
	t.minHeap = append(t.minHeap, v)
	i := len(t.minHeap) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if t.minHeap[parent] <= t.minHeap[i] {
			break
		}
		t.minHeap[parent], t.minHeap[i] = t.minHeap[i], t.minHeap[parent]
		i = parent
	}
}

func (t *cursorTracker) pop() {
	n := len(t.minHeap)
	t.minHeap[0] = t.minHeap[n-1]
	t.minHeap = t.minHeap[:n-1]
	n--
	i := 0
	for {
		l, r := 2*i+1, 2*i+2
		small := i
		if l < n && t.minHeap[l] < t.minHeap[small] {
			small = l
		}
		if r < n && t.minHeap[r] < t.minHeap[small] {
			small = r
		}
		if small == i {
			return
		}
		t.minHeap[i], t.minHeap[small] = t.minHeap[small], t.minHeap[i]
		i = small
	}
}
