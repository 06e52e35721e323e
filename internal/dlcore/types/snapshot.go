package types

import "github.com/google/uuid"

// TaskInfo is the external, read-only snapshot returned by getTaskInfo /
// getAllTasks (spec §6).
type TaskInfo struct {
	ID             string  `json:"id"`
	URL            string  `json:"url"`
	FileName       string  `json:"fileName"`
	SavePath       string  `json:"savePath"`
	TotalSize      uint64  `json:"totalSize"`
	DownloadedSize uint64  `json:"downloadedSize"`
	BytesPerSecond uint64  `json:"bytesPerSecond"`
	EtaSeconds     int64   `json:"etaSeconds"`
	Status         Status  `json:"status"`
	ProgressPercent int    `json:"progressPercent"`
	ThreadCount    int     `json:"threadCount"`
	ErrorMessage   string  `json:"errorMessage"`
	ExpectedMd5    string  `json:"expectedMd5"`
	Verified       bool    `json:"verified"`
	RetryCount     int32   `json:"retryCount"`
}

// Snapshot builds the external view of a Task. Fields are read one at a
// time (atomics, or the task's read lock for the name and last error), so
// the view is not taken under a single lock.
func (t *Task) Snapshot() TaskInfo {
	return TaskInfo{
		ID:              t.ID,
		URL:             t.URL,
		FileName:        t.GetFileName(),
		SavePath:        t.SavePath,
		TotalSize:       t.TotalSize.Load(),
		DownloadedSize:  t.Downloaded.Load(),
		BytesPerSecond:  t.BytesPerSecond.Load(),
		EtaSeconds:      t.EtaSeconds.Load(),
		Status:          t.Status(),
		ProgressPercent: t.Progress(),
		ThreadCount:     t.ThreadCount,
		ErrorMessage:    t.LastError(),
		ExpectedMd5:     t.ExpectedMd5,
		Verified:        t.Verified.Load(),
		RetryCount:      t.RetryCount.Load(),
	}
}

// NewTaskID mints a unique, opaque task identifier.
func NewTaskID() string {
	return uuid.New().String()
}
