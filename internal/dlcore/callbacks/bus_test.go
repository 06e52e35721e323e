package callbacks

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/surge-downloader/dlcore/internal/dlcore/types"
)

func TestBus_InvokesConfiguredSinks(t *testing.T) {
	b := NewBus()

	var gotProgress bool
	var gotComplete bool
	var gotError bool
	var gotStatus bool

	b.SetProgress(func(id string, percent int, downloaded, total, bps uint64) { gotProgress = true })
	b.SetComplete(func(id, path string) { gotComplete = true })
	b.SetError(func(id, msg string, willRetry bool) { gotError = true })
	b.SetStatus(func(id string, s types.Status) { gotStatus = true })

	b.Progress("t1", 50, 50, 100, 10)
	b.Complete("t1", "/tmp/file")
	b.Error("t1", "boom", true)
	b.Status("t1", types.StatusDownloading)

	assert.True(t, gotProgress)
	assert.True(t, gotComplete)
	assert.True(t, gotError)
	assert.True(t, gotStatus)
}

func TestBus_NilSinksAreNoOps(t *testing.T) {
	b := NewBus()
	assert.NotPanics(t, func() {
		b.Progress("t1", 0, 0, 0, 0)
		b.Complete("t1", "")
		b.Error("t1", "", false)
		b.Status("t1", types.StatusPending)
	})
}

func TestBus_SerializesConcurrentCalls(t *testing.T) {
	b := NewBus()
	var mu sync.Mutex
	order := make([]int, 0, 100)

	b.SetProgress(func(id string, percent int, downloaded, total, bps uint64) {
		mu.Lock()
		order = append(order, percent)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			b.Progress("t1", n, 0, 0, 0)
		}(i)
	}
	wg.Wait()

	assert.Len(t, order, 100)
}
