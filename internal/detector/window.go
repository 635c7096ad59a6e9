package detector

// Window is a fixed-capacity circular buffer of frame timestamps in
// microseconds. It holds at most its capacity; inserting into a full window
// evicts the oldest entry regardless of its age.
type Window struct {
	times []int64
	head  int
	count int
}

// NewWindow returns an empty window holding up to capacity timestamps.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{times: make([]int64, capacity)}
}

// Cap returns the window capacity.
func (w *Window) Cap() int { return len(w.times) }

// Len returns the number of timestamps held.
func (w *Window) Len() int { return w.count }

// Prune drops every timestamp strictly older than cutoff.
func (w *Window) Prune(cutoff int64) {
	for w.count > 0 && w.times[w.head] < cutoff {
		w.head = (w.head + 1) % len(w.times)
		w.count--
	}
}

// Insert appends ts, evicting the oldest entry first when the window is full.
// It reports whether an eviction happened.
func (w *Window) Insert(ts int64) (evicted bool) {
	if w.count == len(w.times) {
		w.head = (w.head + 1) % len(w.times)
		w.count--
		evicted = true
	}
	w.times[(w.head+w.count)%len(w.times)] = ts
	w.count++
	return evicted
}

// Oldest returns the oldest held timestamp.
func (w *Window) Oldest() (int64, bool) {
	if w.count == 0 {
		return 0, false
	}
	return w.times[w.head], true
}

// Reset empties the window without releasing its storage.
func (w *Window) Reset() {
	w.head = 0
	w.count = 0
}

// Accumulator keeps the last K signal-strength samples in a ring that is
// overwritten by index modulo K.
type Accumulator struct {
	samples []int8
	next    int
	filled  int
}

// NewAccumulator returns an empty accumulator of size k.
func NewAccumulator(k int) *Accumulator {
	if k < 1 {
		k = 1
	}
	return &Accumulator{samples: make([]int8, k)}
}

// Add records one sample, overwriting the oldest once the ring is full.
func (a *Accumulator) Add(rssi int8) {
	a.samples[a.next] = rssi
	a.next = (a.next + 1) % len(a.samples)
	if a.filled < len(a.samples) {
		a.filled++
	}
}

// Len returns the number of filled slots.
func (a *Accumulator) Len() int { return a.filled }

// MeanVariance returns the mean and population variance of the filled slots.
// Both are zero when the accumulator is empty.
func (a *Accumulator) MeanVariance() (mean, variance float64) {
	if a.filled == 0 {
		return 0, 0
	}
	var sum float64
	for i := 0; i < a.filled; i++ {
		sum += float64(a.samples[i])
	}
	mean = sum / float64(a.filled)
	for i := 0; i < a.filled; i++ {
		d := float64(a.samples[i]) - mean
		variance += d * d
	}
	variance /= float64(a.filled)
	return mean, variance
}

// Reset clears every slot.
func (a *Accumulator) Reset() {
	clear(a.samples)
	a.next = 0
	a.filled = 0
}
