// Package segment implements the segment worker (C5): downloads one
// contiguous byte range of a task into its own part file, resuming from
// whatever has already been written.
package segment

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/surge-downloader/dlcore/internal/dlcore/httpclient"
	"github.com/surge-downloader/dlcore/internal/dlcore/ratelimit"
	"github.com/surge-downloader/dlcore/internal/dlcore/types"
	"github.com/surge-downloader/dlcore/internal/dlcore/urlparser"
)

const bufferSize = types.DefaultBufferSize

// Worker downloads a single segment.
type Worker struct {
	Client  *httpclient.Client
	Limiter *ratelimit.Limiter
}

func New(client *httpclient.Client, limiter *ratelimit.Limiter) *Worker {
	return &Worker{Client: client, Limiter: limiter}
}

// Run executes the segment algorithm of spec §4.5. ctx cancellation is the
// cooperative pause/cancel signal; Run returns promptly once it observes
// ctx.Done() between I/O calls.
func (w *Worker) Run(ctx context.Context, u *urlparser.Parsed, seg *types.Segment, onBytes func(n int)) error {
	seg.Active.Store(true)
	defer seg.Active.Store(false)

	downloaded := seg.Downloaded.Load()
	length := seg.Length()
	if downloaded >= length {
		seg.Completed.Store(true)
		return nil
	}

	start := seg.Start + downloaded
	end := seg.End

	resp, err := w.Client.Get(u, &start, &end)
	if err != nil {
		seg.SetError(err.Error())
		return err
	}
	defer resp.Close()

	flags := os.O_CREATE | os.O_WRONLY
	if downloaded == 0 {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_APPEND
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		// expected path: resume offset honored
	case http.StatusOK:
		// server ignored Range. Restart from byte 0 if nothing downloaded yet;
		// otherwise this segment attempt fails and C6 retries it from scratch.
		if downloaded != 0 {
			segErr := types.NewError(types.ErrHttpStatus, "200 on ranged GET with partial progress", nil)
			seg.SetError(segErr.Error())
			seg.Downloaded.Store(0)
			seg.Completed.Store(false)
			return segErr
		}
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	default:
		segErr := types.NewError(types.ErrHttpStatus, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
		seg.SetError(segErr.Error())
		return segErr
	}

	f, ferr := os.OpenFile(seg.PartFilePath, flags, 0644)
	if ferr != nil {
		segErr := types.NewError(types.ErrFileIo, "open part file", ferr)
		seg.SetError(segErr.Error())
		return segErr
	}
	defer f.Close()

	buf := make([]byte, bufferSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		remaining := seg.Remaining()
		if remaining == 0 {
			break
		}
		want := uint64(len(buf))
		if remaining < want {
			want = remaining
		}

		n, rerr := resp.Read(buf[:want])
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				segErr := types.NewError(types.ErrFileIo, "write part file", werr)
				seg.SetError(segErr.Error())
				return segErr
			}
			seg.Downloaded.Add(uint64(n))
			if onBytes != nil {
				onBytes(n)
			}
			if w.Limiter != nil {
				if lerr := w.Limiter.WaitN(ctx, n); lerr != nil {
					return nil
				}
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			segErr := types.NewError(types.ErrTruncatedResponse, "read segment body", rerr)
			seg.SetError(segErr.Error())
			return segErr
		}
	}

	seg.CheckCompleted()
	if !seg.Completed.Load() {
		segErr := types.NewError(types.ErrTruncatedResponse, "stream closed early", nil)
		seg.SetError(segErr.Error())
		return segErr
	}
	return nil
}

// DownloadSingleStream writes an unranged GET directly to destPath, for
// tasks whose total size is unknown or whose server does not advertise
// Accept-Ranges (spec §4.6 step 4).
func (w *Worker) DownloadSingleStream(ctx context.Context, u *urlparser.Parsed, destPath string, onBytes func(n int)) (uint64, error) {
	resp, err := w.Client.Get(u, nil, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return 0, types.NewError(types.ErrHttpStatus, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	f, ferr := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if ferr != nil {
		return 0, types.NewError(types.ErrFileIo, "open destination", ferr)
	}
	defer f.Close()

	buf := make([]byte, bufferSize)
	var total uint64
	for {
		select {
		case <-ctx.Done():
			return total, nil
		default:
		}

		n, rerr := resp.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return total, types.NewError(types.ErrFileIo, "write destination", werr)
			}
			total += uint64(n)
			if onBytes != nil {
				onBytes(n)
			}
			if w.Limiter != nil {
				if lerr := w.Limiter.WaitN(ctx, n); lerr != nil {
					return total, nil
				}
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return total, types.NewError(types.ErrTruncatedResponse, "read body", rerr)
		}
	}
	return total, nil
}
