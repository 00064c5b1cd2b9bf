package buffer

import (
	"math"
	"sync"
)

type Average float64
type Minimum float64
type Maximum float64
type Sum float64
type Count int

// Invalid marks a sample slot that holds no usable reading.
const Invalid = -1.0

// SampleBuffer is a fixed capacity, ordered set of readings. Readings <= 0
// are treated as invalid and skipped by the aggregate functions.
type SampleBuffer struct {
	size int
	data []float64
	n    int
	lock sync.Mutex
}

func NewBuffer(size int) *SampleBuffer {
	b := SampleBuffer{}
	b.size = size
	b.data = make([]float64, size)
	return &b
}

// AddItem appends a reading. It reports false once the buffer is full.
func (b *SampleBuffer) AddItem(val float64) bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.n == b.size {
		return false
	}
	b.data[b.n] = val
	b.n += 1
	return true
}

func (b *SampleBuffer) Reset() {
	b.lock.Lock()
	defer b.lock.Unlock()
	for i := range b.data {
		b.data[i] = 0
	}
	b.n = 0
}

func (b *SampleBuffer) Len() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.n
}

func (b *SampleBuffer) GetSize() int {
	return b.size
}

func (b *SampleBuffer) IsFull() bool {
	return b.Len() == b.size
}

// GetFirst returns the first reading verbatim, including the invalid marker.
func (b *SampleBuffer) GetFirst() float64 {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.data[0]
}

func (b *SampleBuffer) GetRawData() []float64 {
	b.lock.Lock()
	defer b.lock.Unlock()
	out := make([]float64, b.n)
	copy(out, b.data[:b.n])
	return out
}

// GetAverageMinMaxSum aggregates the valid readings only.
func (b *SampleBuffer) GetAverageMinMaxSum() (Average, Minimum, Maximum, Sum, Count) {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.getAverageMinMaxSum()
}

// TrimmedAverage is the mean of the valid readings. With three or more valid
// readings the single lowest and single highest are dropped first.
func (b *SampleBuffer) TrimmedAverage() (Average, Count) {
	b.lock.Lock()
	defer b.lock.Unlock()
	_, min, max, sum, count := b.getAverageMinMaxSum()
	if count >= 3 {
		sum = sum - Sum(min) - Sum(max)
		count -= 2
	}
	if count == 0 {
		return 0, 0
	}
	return Average(float64(sum) / float64(count)), count
}

func (b *SampleBuffer) getAverageMinMaxSum() (Average, Minimum, Maximum, Sum, Count) {
	min := math.MaxFloat64
	max := 0.0
	sum := 0.0
	count := 0

	for _, x := range b.data[:b.n] {
		if x <= 0 {
			continue
		}
		if x > max {
			max = x
		}
		if x < min {
			min = x
		}
		sum += x
		count++
	}
	if count == 0 {
		return 0, 0, 0, 0, 0
	}

	return Average(sum / float64(count)), Minimum(min), Maximum(max), Sum(sum), Count(count)
}
