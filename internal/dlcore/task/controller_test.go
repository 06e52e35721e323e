package task

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surge-downloader/dlcore/internal/dlcore/callbacks"
	"github.com/surge-downloader/dlcore/internal/dlcore/checkpoint"
	"github.com/surge-downloader/dlcore/internal/dlcore/logger"
	"github.com/surge-downloader/dlcore/internal/dlcore/types"
)

func rangeServer(body []byte) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		rng := r.Header.Get("Range")
		if rng == "" {
			w.WriteHeader(http.StatusOK)
			w.Write(body)
			return
		}
		var start, end int
		fmt.Sscanf(rng, "bytes=%d-%d", &start, &end)
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(body)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body[start : end+1])
	}))
}

func newController(cfg types.Config) *Controller {
	return New(func() types.Config { return cfg }, callbacks.NewBus(), logger.Nop())
}

func TestController_CompletesMultiSegmentDownload(t *testing.T) {
	body := make([]byte, 2048)
	for i := range body {
		body[i] = byte(i)
	}
	server := rangeServer(body)
	defer server.Close()

	dir := t.TempDir()
	cfg := types.DefaultConfig()
	cfg.DefaultSavePath = dir
	c := newController(cfg)

	tk := types.NewTask("t1", server.URL+"/data.bin", dir, 4)
	outcome := c.Execute(context.Background(), tk, func() bool { return false })

	assert.Equal(t, OutcomeTerminal, outcome)
	assert.Equal(t, types.StatusCompleted, tk.Status())

	data, err := os.ReadFile(filepath.Join(dir, "data.bin"))
	require.NoError(t, err)
	assert.Equal(t, body, data)
}

func TestController_ChecksumMismatchFailsAfterRetries(t *testing.T) {
	body := []byte("hello world")
	server := rangeServer(body)
	defer server.Close()

	dir := t.TempDir()
	cfg := types.DefaultConfig()
	cfg.DefaultSavePath = dir
	cfg.VerifyChecksum = true
	cfg.MaxRetries = 0
	c := newController(cfg)

	tk := types.NewTask("t2", server.URL+"/hello.bin", dir, 1)
	tk.ExpectedMd5 = "00000000000000000000000000000000"
	outcome := c.Execute(context.Background(), tk, func() bool { return false })

	assert.Equal(t, OutcomeTerminal, outcome)
	assert.Equal(t, types.StatusError, tk.Status())
	assert.NotEmpty(t, tk.LastError())
}

func TestController_ConnectFailureRequeuesThenTerminates(t *testing.T) {
	cfg := types.DefaultConfig()
	cfg.DefaultSavePath = t.TempDir()
	cfg.MaxRetries = 1
	cfg.RetryDelayMs = 1
	c := newController(cfg)

	tk := types.NewTask("t3", "http://127.0.0.1:1/nope.bin", cfg.DefaultSavePath, 1)

	outcome := c.Execute(context.Background(), tk, func() bool { return false })
	assert.Equal(t, OutcomeRequeue, outcome)
	assert.Equal(t, types.StatusPending, tk.Status())
	assert.Equal(t, int32(1), tk.RetryCount.Load())

	outcome = c.Execute(context.Background(), tk, func() bool { return false })
	assert.Equal(t, OutcomeTerminal, outcome)
	assert.Equal(t, types.StatusError, tk.Status())
}

// TestController_ResumesFromExistingCheckpoint hand-seeds a .dlmeta
// checkpoint plus partial/complete part files, exactly as a prior,
// interrupted run would have left them, then runs Execute once more and
// checks the merged output is byte-identical and downloaded never regresses.
func TestController_ResumesFromExistingCheckpoint(t *testing.T) {
	body := make([]byte, 4000)
	for i := range body {
		body[i] = byte(i % 250)
	}
	server := rangeServer(body)
	defer server.Close()

	dir := t.TempDir()
	cfg := types.DefaultConfig()
	cfg.DefaultSavePath = dir
	url := server.URL + "/resume.bin"
	destPath := filepath.Join(dir, "resume.bin")

	partPathFor := func(i int) string { return fmt.Sprintf("%s%s%d", destPath, types.PartFileSuffix, i) }
	segs := types.PlanSegments(uint64(len(body)), 4, partPathFor)
	require.Len(t, segs, 4)

	// Segment 0 and 1 already complete, segment 2 partly written (400 of
	// its 1000 bytes), segment 3
	// untouched, matching what a worker crash mid-run would leave behind.
	writePart := func(seg *types.Segment, n int) {
		require.NoError(t, os.WriteFile(seg.PartFilePath, body[seg.Start:seg.Start+uint64(n)], 0644))
	}
	writePart(segs[0], int(segs[0].Length()))
	writePart(segs[1], int(segs[1].Length()))
	writePart(segs[2], 400)
	writePart(segs[3], 0)

	rec := &checkpoint.Record{
		URL:         url,
		FileName:    "resume.bin",
		SavePath:    dir,
		TotalSize:   uint64(len(body)),
		ThreadCount: 4,
		Segments: []checkpoint.SegmentRecord{
			{Start: segs[0].Start, End: segs[0].End, Downloaded: segs[0].Length()},
			{Start: segs[1].Start, End: segs[1].End, Downloaded: segs[1].Length()},
			{Start: segs[2].Start, End: segs[2].End, Downloaded: 400},
			{Start: segs[3].Start, End: segs[3].End, Downloaded: 0},
		},
	}
	require.NoError(t, checkpoint.Save(checkpoint.Path(destPath), rec))

	var downloadedSamples []uint64
	bus := callbacks.NewBus()
	bus.SetProgress(func(id string, percent int, downloaded, total, bps uint64) {
		downloadedSamples = append(downloadedSamples, downloaded)
	})
	c := New(func() types.Config { return cfg }, bus, logger.Nop())

	tk := types.NewTask("t-resume", url, dir, 4)
	tk.SetFileName("resume.bin")
	outcome := c.Execute(context.Background(), tk, func() bool { return false })

	assert.Equal(t, OutcomeTerminal, outcome)
	assert.Equal(t, types.StatusCompleted, tk.Status())

	data, err := os.ReadFile(destPath)
	require.NoError(t, err)
	assert.Equal(t, body, data, "merged file must be byte-identical to the full content")

	_, err = os.Stat(checkpoint.Path(destPath))
	assert.True(t, os.IsNotExist(err), "checkpoint removed once the task completes")

	for i := 1; i < len(downloadedSamples); i++ {
		assert.GreaterOrEqual(t, downloadedSamples[i], downloadedSamples[i-1], "downloaded must never regress")
	}
	if len(downloadedSamples) > 0 {
		assert.GreaterOrEqual(t, downloadedSamples[0], uint64(2000), "resume must pick up from the already-downloaded 2000 bytes, not restart at 0")
	}
}

func TestController_CancelDuringExecuteReturnsTerminalCancelled(t *testing.T) {
	body := make([]byte, 100)
	server := rangeServer(body)
	defer server.Close()

	dir := t.TempDir()
	cfg := types.DefaultConfig()
	cfg.DefaultSavePath = dir
	c := newController(cfg)

	tk := types.NewTask("t4", server.URL+"/small.bin", dir, 1)
	outcome := c.Execute(context.Background(), tk, func() bool { return true })

	assert.Equal(t, OutcomeTerminal, outcome)
	assert.Equal(t, types.StatusCancelled, tk.Status())
}
