package types

import (
	"sync"
	"sync/atomic"
)

// Task is one user-visible download. Segment vectors are built once during
// planning; after that only atomic counters inside each Segment mutate, so
// no per-segment lock is needed while downloading.
type Task struct {
	ID       string
	URL      string
	FileName string
	SavePath string

	TotalSize      atomic.Uint64
	Downloaded     atomic.Uint64
	BytesPerSecond atomic.Uint64
	EtaSeconds     atomic.Int64

	status atomic.Int32

	ThreadCount int
	ExpectedMd5 string
	Verified    atomic.Bool
	RetryCount  atomic.Int32

	mu         sync.RWMutex
	lastError  string
	segments   []*Segment
	rangeable  bool
	Cancel     func()
}

func NewTask(id, url, savePath string, threadCount int) *Task {
	t := &Task{
		ID:          id,
		URL:         url,
		SavePath:    savePath,
		ThreadCount: ClampThreadCount(threadCount),
	}
	t.status.Store(int32(StatusPending))
	return t
}

func (t *Task) Status() Status {
	return Status(t.status.Load())
}

func (t *Task) SetStatus(s Status) {
	t.status.Store(int32(s))
}

// CompareAndSwapStatus transitions the task from `from` to `to`, returning
// false if the task was not in `from`.
func (t *Task) CompareAndSwapStatus(from, to Status) bool {
	return t.status.CompareAndSwap(int32(from), int32(to))
}

func (t *Task) LastError() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastError
}

func (t *Task) SetLastError(msg string) {
	t.mu.Lock()
	t.lastError = msg
	t.mu.Unlock()
}

func (t *Task) SetFileName(name string) {
	t.mu.Lock()
	t.FileName = name
	t.mu.Unlock()
}

func (t *Task) GetFileName() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.FileName
}

func (t *Task) SetRangeable(v bool) {
	t.mu.Lock()
	t.rangeable = v
	t.mu.Unlock()
}

func (t *Task) Rangeable() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rangeable
}

func (t *Task) SetSegments(segs []*Segment) {
	t.mu.Lock()
	t.segments = segs
	t.mu.Unlock()
}

func (t *Task) Segments() []*Segment {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.segments
}

// Progress returns floor(100*downloaded/total), or 0 when total is unknown.
func (t *Task) Progress() int {
	total := t.TotalSize.Load()
	if total == 0 {
		return 0
	}
	downloaded := t.Downloaded.Load()
	if downloaded >= total {
		return 100
	}
	return int(downloaded * 100 / total)
}

// SumSegments recomputes Downloaded from the segment set, matching the
// invariant Σ segments.downloaded == task.downloaded at every aggregation tick.
func (t *Task) SumSegments() uint64 {
	segs := t.Segments()
	var sum uint64
	for _, s := range segs {
		sum += s.Downloaded.Load()
	}
	t.Downloaded.Store(sum)
	return sum
}
