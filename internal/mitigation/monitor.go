package mitigation

import (
	"math"
	"sync"
)

// DefaultWindowCapacity is the number of samples kept when none is configured.
const DefaultWindowCapacity = 10

// Monitor is a sliding-window error-rate estimator. It is safe for
// concurrent use; Record is atomic with respect to other Record calls.
type Monitor struct {
	mu       sync.Mutex
	capacity int
	window   []float64
}

// NewMonitor creates a monitor holding at most capacity samples.
func NewMonitor(capacity int) *Monitor {
	if capacity <= 0 {
		capacity = DefaultWindowCapacity
	}
	return &Monitor{
		capacity: capacity,
		window:   make([]float64, 0, capacity),
	}
}

// Record adds a sample, evicting the oldest when the window is full.
// Rates are clamped to [0,1]; NaN samples are ignored.
func (m *Monitor) Record(rate float64) {
	if math.IsNaN(rate) {
		return
	}
	rate = min(max(rate, 0), 1)

	m.mu.Lock()
	if len(m.window) == m.capacity {
		copy(m.window, m.window[1:])
		m.window = m.window[:m.capacity-1]
	}
	m.window = append(m.window, rate)
	cur := mean(m.window)
	m.mu.Unlock()

	errorRate.Set(cur)
	samplesTotal.Inc()
}

// Current returns the mean of the window, or 0 when it is empty.
func (m *Monitor) Current() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return mean(m.window)
}

// Samples returns a copy of the window, oldest first.
func (m *Monitor) Samples() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float64, len(m.window))
	copy(out, m.window)
	return out
}

// Capacity returns the window capacity.
func (m *Monitor) Capacity() int {
	return m.capacity
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
