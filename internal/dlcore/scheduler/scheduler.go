// Package scheduler implements the scheduler (C9) and the engine's public
// API: a bounded worker pool draining a FIFO queue of ready task IDs, plus
// add/pause/resume/cancel/retry/remove/query operations over an
// insertion-ordered task table.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/surge-downloader/dlcore/internal/dlcore/callbacks"
	"github.com/surge-downloader/dlcore/internal/dlcore/logger"
	"github.com/surge-downloader/dlcore/internal/dlcore/task"
	"github.com/surge-downloader/dlcore/internal/dlcore/types"
)

// Engine is the top-level entry point embedding everything else.
type Engine struct {
	mu       sync.RWMutex
	cfg      types.Config
	tasks    map[string]*types.Task
	order    []string
	cancels  map[string]context.CancelFunc
	paused   map[string]bool

	queue chan string

	controller *task.Controller
	callbacks  *callbacks.Bus
	logger     *logger.Logger

	wg      sync.WaitGroup
	stopCh  chan struct{}
	started bool
}

func New(cfg types.Config) (*Engine, error) {
	cfg.Validate()
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	bus := callbacks.NewBus()

	e := &Engine{
		cfg:     cfg,
		tasks:   make(map[string]*types.Task),
		cancels: make(map[string]context.CancelFunc),
		paused:  make(map[string]bool),
		queue:   make(chan string, 1024),
		callbacks: bus,
		logger:    log,
		stopCh:    make(chan struct{}),
	}
	e.controller = task.New(e.getConfig, bus, log)
	return e, nil
}

func (e *Engine) getConfig() types.Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// SetConfig replaces the engine configuration, clamping as Validate
// requires, and logs a summary line as the original engine does on every
// configuration change.
func (e *Engine) SetConfig(cfg types.Config) {
	cfg.Validate()
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	e.logger.Info("Configuration updated: maxConcurrent=%d, threads=%d, speedLimitKB=%d",
		cfg.MaxConcurrentDownloads, cfg.DefaultThreadCount, cfg.SpeedLimitKB)
}

func (e *Engine) GetConfig() types.Config {
	return e.getConfig()
}

func (e *Engine) SetProgressCallback(fn callbacks.ProgressFunc) { e.callbacks.SetProgress(fn) }
func (e *Engine) SetCompleteCallback(fn callbacks.CompleteFunc) { e.callbacks.SetComplete(fn) }
func (e *Engine) SetErrorCallback(fn callbacks.ErrorFunc)       { e.callbacks.SetError(fn) }
func (e *Engine) SetStatusCallback(fn callbacks.StatusFunc)     { e.callbacks.SetStatus(fn) }

// Start launches the bounded worker pool. It must be called before any
// task makes progress, and bracketed by a matching Stop, per spec §4.9's
// lifecycle shape.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	n := e.cfg.MaxConcurrentDownloads
	e.mu.Unlock()

	for i := 0; i < n; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	e.logger.Info("scheduler started with %d workers", n)
}

// Stop signals all workers to exit and waits for them. In-flight tasks are
// not cancelled: a worker exits once its current task returns.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	e.mu.Unlock()

	close(e.stopCh)
	e.wg.Wait()
	e.logger.Info("scheduler stopped")
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case id, ok := <-e.queue:
			if !ok {
				return
			}
			e.runOne(id)
		}
	}
}

func (e *Engine) runOne(id string) {
	t := e.getTask(id)
	if t == nil {
		return
	}
	if t.Status() != types.StatusPending {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancels[id] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.cancels, id)
		e.mu.Unlock()
	}()

	isCancelled := func() bool {
		return t.Status() == types.StatusCancelled
	}

	outcome := e.controller.Execute(ctx, t, isCancelled)
	switch outcome {
	case task.OutcomeRequeue:
		e.enqueue(id)
	case task.OutcomePaused:
		// Task is left in StatusPaused; ResumeTask re-queues it.
	}
}

func (e *Engine) enqueue(id string) {
	select {
	case e.queue <- id:
	default:
		go func() { e.queue <- id }()
	}
}

func (e *Engine) getTask(id string) *types.Task {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tasks[id]
}

// AddTask registers a new task and queues it for download.
func (e *Engine) AddTask(url, savePath string, threads int) (string, error) {
	return e.AddTaskWithMd5(url, savePath, threads, "")
}

func (e *Engine) AddTaskWithMd5(url, savePath string, threads int, expectedMd5 string) (string, error) {
	if savePath == "" {
		savePath = e.getConfig().DefaultSavePath
	}
	if threads <= 0 {
		threads = e.getConfig().DefaultThreadCount
	}
	id := types.NewTaskID()
	t := types.NewTask(id, url, savePath, threads)
	t.ExpectedMd5 = expectedMd5

	e.mu.Lock()
	e.tasks[id] = t
	e.order = append(e.order, id)
	e.mu.Unlock()

	e.enqueue(id)
	return id, nil
}

// PauseTask requests a cooperative stop from Downloading. Workers observe
// the cancelled task context and exit their loops; the checkpoint remains
// on disk for a future resume.
func (e *Engine) PauseTask(id string) error {
	t := e.getTask(id)
	if t == nil {
		return fmt.Errorf("unknown task %s", id)
	}
	if !t.CompareAndSwapStatus(types.StatusDownloading, types.StatusPaused) {
		return fmt.Errorf("task %s is not downloading", id)
	}
	e.mu.Lock()
	e.paused[id] = true
	cancel := e.cancels[id]
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.callbacks.Status(id, types.StatusPaused)
	return nil
}

// ResumeTask re-queues a paused task.
func (e *Engine) ResumeTask(id string) error {
	t := e.getTask(id)
	if t == nil {
		return fmt.Errorf("unknown task %s", id)
	}
	if !t.CompareAndSwapStatus(types.StatusPaused, types.StatusPending) {
		return fmt.Errorf("task %s is not paused", id)
	}
	e.mu.Lock()
	delete(e.paused, id)
	e.mu.Unlock()
	e.callbacks.Status(id, types.StatusPending)
	e.enqueue(id)
	return nil
}

// CancelTask moves a non-terminal task to Cancelled from any state.
func (e *Engine) CancelTask(id string) error {
	t := e.getTask(id)
	if t == nil {
		return fmt.Errorf("unknown task %s", id)
	}
	if t.Status().Terminal() {
		return fmt.Errorf("task %s is already terminal", id)
	}
	t.SetStatus(types.StatusCancelled)
	e.mu.Lock()
	cancel := e.cancels[id]
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.callbacks.Status(id, types.StatusCancelled)
	return nil
}

// RetryTask re-queues a task from Error, provided retries remain.
func (e *Engine) RetryTask(id string) error {
	t := e.getTask(id)
	if t == nil {
		return fmt.Errorf("unknown task %s", id)
	}
	if t.Status() != types.StatusError {
		return fmt.Errorf("task %s is not in error state", id)
	}
	if t.RetryCount.Load() >= int32(e.getConfig().MaxRetries) {
		return fmt.Errorf("task %s has exhausted its retries", id)
	}
	t.SetLastError("")
	t.SetStatus(types.StatusPending)
	e.callbacks.Status(id, types.StatusPending)
	e.enqueue(id)
	return nil
}

// RemoveTask purges bookkeeping only; it never deletes files on disk.
func (e *Engine) RemoveTask(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.tasks[id]; !ok {
		return fmt.Errorf("unknown task %s", id)
	}
	delete(e.tasks, id)
	delete(e.cancels, id)
	delete(e.paused, id)
	for i, oid := range e.order {
		if oid == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	return nil
}

func (e *Engine) GetTaskInfo(id string) (types.TaskInfo, error) {
	t := e.getTask(id)
	if t == nil {
		return types.TaskInfo{}, fmt.Errorf("unknown task %s", id)
	}
	return t.Snapshot(), nil
}

// GetAllTasks returns a snapshot of every task in insertion order.
func (e *Engine) GetAllTasks() []types.TaskInfo {
	e.mu.RLock()
	order := append([]string(nil), e.order...)
	tasks := make(map[string]*types.Task, len(e.tasks))
	for k, v := range e.tasks {
		tasks[k] = v
	}
	e.mu.RUnlock()

	out := make([]types.TaskInfo, 0, len(order))
	for _, id := range order {
		if t, ok := tasks[id]; ok {
			out = append(out, t.Snapshot())
		}
	}
	return out
}

// WaitForTask blocks until the task's status is terminal or timeout
// elapses. timeout<=0 means wait indefinitely.
func (e *Engine) WaitForTask(id string, timeout time.Duration) (types.Status, error) {
	t := e.getTask(id)
	if t == nil {
		return 0, fmt.Errorf("unknown task %s", id)
	}
	deadline := time.Now().Add(timeout)
	for {
		if t.Status().Terminal() {
			return t.Status(), nil
		}
		if timeout > 0 && time.Now().After(deadline) {
			return t.Status(), fmt.Errorf("timed out waiting for task %s", id)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// WaitForAll blocks until every currently-known task is terminal or
// timeout elapses.
func (e *Engine) WaitForAll(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		allDone := true
		for _, info := range e.GetAllTasks() {
			if !info.Status.Terminal() {
				allDone = false
				break
			}
		}
		if allDone {
			return nil
		}
		if timeout > 0 && time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for all tasks")
		}
		time.Sleep(50 * time.Millisecond)
	}
}
