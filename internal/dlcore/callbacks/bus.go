// Package callbacks implements the engine's serialized callback bus (C10):
// four user-settable sinks invoked under a single mutex so a caller sees a
// totally ordered stream per spec §4.10.
package callbacks

import (
	"sync"

	"github.com/surge-downloader/dlcore/internal/dlcore/types"
)

type ProgressFunc func(id string, percent int, downloaded, total, bytesPerSecond uint64)
type CompleteFunc func(id string, finalPath string)
type ErrorFunc func(id string, message string, willRetry bool)
type StatusFunc func(id string, newStatus types.Status)

// Bus serializes calls to all four sinks behind one mutex. Users must keep
// their callbacks short; nothing here bounds how long a callback may run.
type Bus struct {
	mu sync.Mutex

	onProgress ProgressFunc
	onComplete CompleteFunc
	onError    ErrorFunc
	onStatus   StatusFunc
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) SetProgress(fn ProgressFunc) {
	b.mu.Lock()
	b.onProgress = fn
	b.mu.Unlock()
}

func (b *Bus) SetComplete(fn CompleteFunc) {
	b.mu.Lock()
	b.onComplete = fn
	b.mu.Unlock()
}

func (b *Bus) SetError(fn ErrorFunc) {
	b.mu.Lock()
	b.onError = fn
	b.mu.Unlock()
}

func (b *Bus) SetStatus(fn StatusFunc) {
	b.mu.Lock()
	b.onStatus = fn
	b.mu.Unlock()
}

func (b *Bus) Progress(id string, percent int, downloaded, total, bps uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.onProgress != nil {
		b.onProgress(id, percent, downloaded, total, bps)
	}
}

// Complete must be invoked exactly once per task reaching Completed.
func (b *Bus) Complete(id, finalPath string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.onComplete != nil {
		b.onComplete(id, finalPath)
	}
}

// Error may be invoked multiple times with willRetry=true, and at most once
// more with willRetry=false when the task reaches the terminal Error state.
func (b *Bus) Error(id, message string, willRetry bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.onError != nil {
		b.onError(id, message, willRetry)
	}
}

func (b *Bus) Status(id string, newStatus types.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.onStatus != nil {
		b.onStatus(id, newStatus)
	}
}
