// Package task implements the task controller (C6): the per-task state
// machine that probes, plans, spawns segment workers, aggregates progress,
// merges, verifies, and decides retry-or-fail outcomes.
package task

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/surge-downloader/dlcore/internal/dlcore/callbacks"
	"github.com/surge-downloader/dlcore/internal/dlcore/checkpoint"
	"github.com/surge-downloader/dlcore/internal/dlcore/checksum"
	"github.com/surge-downloader/dlcore/internal/dlcore/httpclient"
	"github.com/surge-downloader/dlcore/internal/dlcore/logger"
	"github.com/surge-downloader/dlcore/internal/dlcore/ratelimit"
	"github.com/surge-downloader/dlcore/internal/dlcore/segment"
	"github.com/surge-downloader/dlcore/internal/dlcore/transport"
	"github.com/surge-downloader/dlcore/internal/dlcore/types"
	"github.com/surge-downloader/dlcore/internal/dlcore/urlparser"
)

const (
	aggregationInterval = 100 * time.Millisecond
	checkpointInterval  = 1 * time.Second
	progressInterval    = 200 * time.Millisecond // <=5Hz, per spec §4.6 step 5
)

// Controller runs one task to a terminal or re-queueable outcome.
type Controller struct {
	Config    func() types.Config
	Callbacks *callbacks.Bus
	Logger    *logger.Logger
}

func New(cfg func() types.Config, bus *callbacks.Bus, log *logger.Logger) *Controller {
	return &Controller{Config: cfg, Callbacks: bus, Logger: log}
}

// Outcome tells the scheduler what to do with the task after Execute
// returns.
type Outcome int

const (
	OutcomeTerminal Outcome = iota
	OutcomeRequeue
	OutcomePaused
)

// sniffExtensionBytes is the magic-byte prefix filetype.Match needs to
// recognize a format; RFC 2045-style container sniffing never needs more.
const sniffExtensionBytes = 262

// Execute drives the task through one Downloading attempt. ctx is
// cancelled cooperatively for pause or cancel; isCancelled is a function the
// controller polls to distinguish pause (OutcomePaused, keep checkpoint,
// no requeue) from cancel (terminal).
func (c *Controller) Execute(ctx context.Context, t *types.Task, isCancelled func() bool) Outcome {
	cfg := c.Config()

	t.SetStatus(types.StatusDownloading)
	c.Callbacks.Status(t.ID, types.StatusDownloading)

	u, err := urlparser.Parse(t.URL)
	if err != nil {
		return c.fail(t, err, isCancelled)
	}

	factory := &transport.Factory{
		ConnectTimeout: cfg.ConnectTimeout(),
		ReadTimeout:    cfg.ReadTimeout(),
		WriteTimeout:   cfg.ConnectTimeout(),
		Proxy:          cfg.Proxy,
		StrictTLS:      cfg.VerifySsl,
	}
	client := httpclient.New(factory)

	head, err := client.Head(u)
	if err != nil {
		return c.fail(t, err, isCancelled)
	}

	total, _ := head.ContentLength()
	rangeable := head.AcceptsRanges() && total > 0
	t.TotalSize.Store(total)
	t.SetRangeable(rangeable)

	if name := httpclient.ContentDispositionFileName(head.Header); name != "" {
		t.SetFileName(name)
	} else if t.GetFileName() == "" {
		t.SetFileName(httpclient.SanitizeASCII(urlparser.FileNameFromPath(u)))
	}
	if rangeable && filepath.Ext(t.GetFileName()) == "" {
		if ext := c.sniffExtension(client, u, total); ext != "" {
			t.SetFileName(t.GetFileName() + "." + ext)
		}
	}

	destDir := t.SavePath
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return c.fail(t, types.NewError(types.ErrFileIo, "create destination directory", err), isCancelled)
	}
	destPath := filepath.Join(destDir, t.GetFileName())

	limiter := ratelimit.New()
	limiter.SetLimitKB(cfg.SpeedLimitKB)
	worker := segment.New(client, limiter)

	if !rangeable {
		if isCancelled() {
			return c.cancel(t)
		}
		n, err := worker.DownloadSingleStream(ctx, u, destPath, c.speedTracker(t))
		t.Downloaded.Store(n)
		if err != nil {
			return c.fail(t, err, isCancelled)
		}
		if isCancelled() {
			return c.cancel(t)
		}
		if ctx.Err() != nil {
			// Non-rangeable responses can't be paused mid-stream without
			// losing bytes already written with no way to resume them, but a
			// pause request still must not be mistaken for completion.
			return OutcomePaused
		}
		return c.finish(t, destPath, cfg, isCancelled)
	}

	cpPath := checkpoint.Path(destPath)
	segs := c.planOrRestore(t, cpPath, destPath, total)
	t.SetSegments(segs)

	if err := c.runSegments(ctx, u, t, worker, segs, cpPath); err != nil {
		return c.fail(t, err, isCancelled)
	}
	if isCancelled() {
		checkpoint.SaveTask(t)
		return c.cancel(t)
	}
	if ctx.Err() != nil {
		// Cooperative pause: segments stopped early with no error. The
		// checkpoint is already current (runSegments saves it once per
		// checkpointInterval and once more on return) and is saved again
		// here; this is not a retryable failure.
		checkpoint.SaveTask(t)
		return OutcomePaused
	}

	allDone := true
	for _, s := range segs {
		if !s.Completed.Load() {
			allDone = false
			break
		}
	}
	if !allDone {
		return c.fail(t, types.NewError(types.ErrTruncatedResponse, "not all segments completed", nil), isCancelled)
	}

	if err := c.mergeSegments(destPath, segs); err != nil {
		return c.fail(t, err, isCancelled)
	}

	for _, s := range segs {
		os.Remove(s.PartFilePath)
	}
	checkpoint.Delete(cpPath)

	return c.finish(t, destPath, cfg, isCancelled)
}

// sniffExtension fetches a small leading range and guesses a file extension
// from its magic bytes, for names that arrived without one (spec §4.6's
// filename determination has no extension-less fallback of its own).
// Best-effort: any error just means no extension is added.
func (c *Controller) sniffExtension(client *httpclient.Client, u *urlparser.Parsed, total uint64) string {
	end := uint64(sniffExtensionBytes - 1)
	if total > 0 && end >= total {
		end = total - 1
	}
	start := uint64(0)
	resp, err := client.Get(u, &start, &end)
	if err != nil {
		return ""
	}
	defer resp.Close()

	buf := make([]byte, end+1)
	n, _ := io.ReadFull(resp, buf)
	if n == 0 {
		return ""
	}
	return httpclient.SniffExtension(buf[:n])
}

func (c *Controller) planOrRestore(t *types.Task, cpPath, destPath string, total uint64) []*types.Segment {
	rec, _ := checkpoint.Load(cpPath)
	partPathFor := func(i int) string { return fmt.Sprintf("%s%s%d", destPath, types.PartFileSuffix, i) }

	if rec != nil && rec.TotalSize == total && rec.URL == t.URL {
		segs := make([]*types.Segment, len(rec.Segments))
		for i, sr := range rec.Segments {
			s := types.NewSegment(i, sr.Start, sr.End, partPathFor(i))
			s.Downloaded.Store(sr.Downloaded)
			s.CheckCompleted()
			segs[i] = s
		}
		return segs
	}
	return types.PlanSegments(total, t.ThreadCount, partPathFor)
}

func (c *Controller) runSegments(ctx context.Context, u *urlparser.Parsed, t *types.Task, worker *segment.Worker, segs []*types.Segment, cpPath string) error {
	supCtx, cancelSup := context.WithCancel(ctx)
	defer cancelSup()

	var wg sync.WaitGroup
	errs := make([]error, len(segs))
	tracker := c.speedTracker(t)

	for i, s := range segs {
		if s.Completed.Load() {
			continue
		}
		wg.Add(1)
		go func(idx int, seg *types.Segment) {
			defer wg.Done()
			errs[idx] = worker.Run(ctx, u, seg, tracker)
		}(i, s)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	lastCheckpoint := time.Now()
	lastProgress := time.Now()
	ticker := time.NewTicker(aggregationInterval)
	defer ticker.Stop()

	startedAt := time.Now()
loop:
	for {
		select {
		case <-done:
			break loop
		case <-ticker.C:
			downloaded := t.SumSegments()
			total := t.TotalSize.Load()
			bps := t.BytesPerSecond.Load()
			if total > 0 && bps > 0 {
				remaining := total - downloaded
				t.EtaSeconds.Store(int64(remaining / bps))
			}
			if time.Since(lastProgress) >= progressInterval {
				c.Callbacks.Progress(t.ID, t.Progress(), downloaded, total, bps)
				lastProgress = time.Now()
			}
			if time.Since(lastCheckpoint) >= checkpointInterval {
				checkpoint.SaveTask(t)
				lastCheckpoint = time.Now()
			}
		case <-supCtx.Done():
			break loop
		}
	}
	_ = startedAt

	t.SumSegments()
	checkpoint.SaveTask(t)

	var first error
	for _, e := range errs {
		if e != nil && first == nil {
			first = e
		}
	}
	return first
}

// speedTracker returns a callback invoked with each chunk's byte count,
// maintaining the task's rolling BytesPerSecond the way the original
// engine's updateSpeed does on a periodic timer: here it accumulates and
// the aggregation tick (above) reads the latest value.
func (c *Controller) speedTracker(t *types.Task) func(n int) {
	var mu sync.Mutex
	windowStart := time.Now()
	var windowBytes uint64

	return func(n int) {
		mu.Lock()
		defer mu.Unlock()
		windowBytes += uint64(n)
		elapsed := time.Since(windowStart)
		if elapsed >= 500*time.Millisecond {
			bps := uint64(float64(windowBytes) / elapsed.Seconds())
			t.BytesPerSecond.Store(bps)
			windowBytes = 0
			windowStart = time.Now()
		}
	}
}

func (c *Controller) mergeSegments(destPath string, segs []*types.Segment) error {
	ordered := append([]*types.Segment(nil), segs...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Start < ordered[j].Start })

	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return types.NewError(types.ErrFileIo, "open destination for merge", err)
	}
	defer out.Close()

	for _, s := range ordered {
		in, err := os.Open(s.PartFilePath)
		if err != nil {
			return types.NewError(types.ErrFileIo, "open part file for merge", err)
		}
		_, err = copyAll(out, in)
		in.Close()
		if err != nil {
			return types.NewError(types.ErrFileIo, "merge part file", err)
		}
	}
	return nil
}

func copyAll(dst *os.File, src *os.File) (int64, error) {
	buf := make([]byte, types.DefaultBufferSize)
	var total int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if err != nil {
			if err == io.EOF {
				return total, nil
			}
			return total, err
		}
	}
}

func (c *Controller) finish(t *types.Task, destPath string, cfg types.Config, isCancelled func() bool) Outcome {
	if isCancelled() {
		return c.cancel(t)
	}
	if cfg.VerifyChecksum && t.ExpectedMd5 != "" {
		if !checksum.Verify(destPath, t.ExpectedMd5) {
			return c.fail(t, types.NewError(types.ErrChecksumMismatch, destPath, nil), isCancelled)
		}
		t.Verified.Store(true)
	}
	t.SetStatus(types.StatusCompleted)
	c.Callbacks.Complete(t.ID, destPath)
	c.Callbacks.Status(t.ID, types.StatusCompleted)
	if c.Logger != nil {
		c.Logger.Info("task %s completed: %s", t.ID, destPath)
	}
	return OutcomeTerminal
}

func (c *Controller) cancel(t *types.Task) Outcome {
	t.SetStatus(types.StatusCancelled)
	c.Callbacks.Status(t.ID, types.StatusCancelled)
	return OutcomeTerminal
}

// fail applies the retry-or-terminal decision of spec §4.6 step 9 / §7:
// Cancelled short-circuits directly to Cancelled without consulting retry
// policy; everything else retries while retryCount < maxRetries.
func (c *Controller) fail(t *types.Task, err error, isCancelled func() bool) Outcome {
	if isCancelled() || types.KindOf(err) == types.ErrCancelled {
		return c.cancel(t)
	}

	t.SetLastError(err.Error())
	cfg := c.Config()
	retryCount := t.RetryCount.Load()

	if retryCount < int32(cfg.MaxRetries) {
		t.RetryCount.Add(1)
		c.Callbacks.Error(t.ID, err.Error(), true)
		if c.Logger != nil {
			c.Logger.Warning("task %s failed (retry %d/%d): %v", t.ID, retryCount+1, cfg.MaxRetries, err)
		}
		time.Sleep(time.Duration(cfg.RetryDelayMs) * time.Millisecond)
		t.SetStatus(types.StatusPending)
		c.Callbacks.Status(t.ID, types.StatusPending)
		return OutcomeRequeue
	}

	c.Callbacks.Error(t.ID, err.Error(), false)
	t.SetStatus(types.StatusError)
	c.Callbacks.Status(t.ID, types.StatusError)
	if c.Logger != nil {
		c.Logger.Error("task %s failed permanently: %v", t.ID, err)
	}
	return OutcomeTerminal
}
