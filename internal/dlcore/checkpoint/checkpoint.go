// Package checkpoint implements the checkpoint store (C7): a line-based
// UTF-8 sidecar file, "<destination>.dlmeta", one key=value per line with
// a leading "[DLMETA]" marker. Corrupt or out-of-range files are treated as
// absent rather than as an error.
package checkpoint

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/surge-downloader/dlcore/internal/dlcore/types"
)

// Record is the on-disk projection of a task.
type Record struct {
	URL         string
	FileName    string
	SavePath    string
	TotalSize   uint64
	ThreadCount int
	ExpectedMd5 string
	Segments    []SegmentRecord
}

type SegmentRecord struct {
	Start      uint64
	End        uint64
	Downloaded uint64
}

// Path returns the sidecar path for a destination file.
func Path(destination string) string {
	return destination + types.CheckpointExtension
}

// Save writes rec to path. Atomicity between writes is not required by the
// format; a torn write is simply treated as corrupt on the next load.
func Save(path string, rec *Record) error {
	f, err := os.Create(path)
	if err != nil {
		return types.NewError(types.ErrFileIo, "create checkpoint", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "[DLMETA]")
	fmt.Fprintf(w, "url=%s\n", rec.URL)
	fmt.Fprintf(w, "filename=%s\n", rec.FileName)
	fmt.Fprintf(w, "savepath=%s\n", rec.SavePath)
	fmt.Fprintf(w, "totalsize=%d\n", rec.TotalSize)
	fmt.Fprintf(w, "threadcount=%d\n", rec.ThreadCount)
	fmt.Fprintf(w, "segments=%d\n", len(rec.Segments))
	fmt.Fprintf(w, "expectedmd5=%s\n", rec.ExpectedMd5)
	for i, seg := range rec.Segments {
		fmt.Fprintf(w, "seg%d_start=%d\n", i, seg.Start)
		fmt.Fprintf(w, "seg%d_end=%d\n", i, seg.End)
		fmt.Fprintf(w, "seg%d_downloaded=%d\n", i, seg.Downloaded)
	}
	if err := w.Flush(); err != nil {
		return types.NewError(types.ErrFileIo, "write checkpoint", err)
	}
	return nil
}

// SaveTask builds a Record from a live task and writes it.
func SaveTask(t *types.Task) error {
	segs := t.Segments()
	rec := &Record{
		URL:         t.URL,
		FileName:    t.GetFileName(),
		SavePath:    t.SavePath,
		TotalSize:   t.TotalSize.Load(),
		ThreadCount: t.ThreadCount,
		ExpectedMd5: t.ExpectedMd5,
		Segments:    make([]SegmentRecord, len(segs)),
	}
	for i, s := range segs {
		rec.Segments[i] = SegmentRecord{Start: s.Start, End: s.End, Downloaded: s.Downloaded.Load()}
	}
	return Save(Path(destinationOf(t)), rec)
}

func destinationOf(t *types.Task) string {
	return t.SavePath + "/" + t.GetFileName()
}

// Load reads and parses the sidecar at path. Any parse error, missing
// required key, or segment count outside [1,16] is treated as "no
// checkpoint" (nil, nil) rather than surfaced to the caller.
func Load(path string) (*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, nil
	}
	defer f.Close()

	data := make(map[string]string)
	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			first = false
			if strings.TrimSpace(line) == "[DLMETA]" {
				continue
			}
		}
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			continue
		}
		data[line[:idx]] = line[idx+1:]
	}

	segCountStr, ok := data["segments"]
	if !ok {
		return nil, nil
	}
	segCount, err := strconv.Atoi(segCountStr)
	if err != nil || segCount < 1 || segCount > types.MaxThreadCount {
		return nil, nil
	}

	rec := &Record{
		URL:         data["url"],
		FileName:    data["filename"],
		SavePath:    data["savepath"],
		ExpectedMd5: data["expectedmd5"],
	}
	if v, err := strconv.ParseUint(data["totalsize"], 10, 64); err == nil {
		rec.TotalSize = v
	} else {
		return nil, nil
	}
	if v, err := strconv.Atoi(data["threadcount"]); err == nil {
		rec.ThreadCount = v
	} else {
		return nil, nil
	}

	segs := make([]SegmentRecord, segCount)
	for i := 0; i < segCount; i++ {
		prefix := fmt.Sprintf("seg%d_", i)
		start, ok1 := parseU64(data[prefix+"start"])
		end, ok2 := parseU64(data[prefix+"end"])
		downloaded, ok3 := parseU64(data[prefix+"downloaded"])
		if !ok1 || !ok2 {
			return nil, nil
		}
		if !ok3 {
			downloaded = 0
		}
		if start > end {
			return nil, nil
		}
		segs[i] = SegmentRecord{Start: start, End: end, Downloaded: downloaded}
	}
	rec.Segments = segs
	return rec, nil
}

func parseU64(s string) (uint64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Delete removes the sidecar file, ignoring a not-exist error.
func Delete(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return types.NewError(types.ErrFileIo, "delete checkpoint", err)
	}
	return nil
}
