package types

import "sync/atomic"

// Segment is one contiguous inclusive byte range [Start, End] of the target
// file. Part-file length must equal Downloaded at any stable observation
// point.
type Segment struct {
	Index int
	Start uint64
	End   uint64

	Downloaded atomic.Uint64
	Completed  atomic.Bool
	Active     atomic.Bool

	PartFilePath string
	ErrorMessage atomic.Pointer[string]
}

func NewSegment(index int, start, end uint64, partFilePath string) *Segment {
	s := &Segment{
		Index:        index,
		Start:        start,
		End:          end,
		PartFilePath: partFilePath,
	}
	return s
}

// Length returns end - start + 1.
func (s *Segment) Length() uint64 {
	return s.End - s.Start + 1
}

// Remaining returns how many bytes are still owed for this segment.
func (s *Segment) Remaining() uint64 {
	l := s.Length()
	d := s.Downloaded.Load()
	if d >= l {
		return 0
	}
	return l - d
}

func (s *Segment) SetError(msg string) {
	s.ErrorMessage.Store(&msg)
}

func (s *Segment) GetError() string {
	p := s.ErrorMessage.Load()
	if p == nil {
		return ""
	}
	return *p
}

// CheckCompleted sets Completed when Downloaded has reached Length, matching
// invariant 4: a segment is completed iff downloaded == end-start+1.
func (s *Segment) CheckCompleted() bool {
	if s.Downloaded.Load() == s.Length() {
		s.Completed.Store(true)
		return true
	}
	return false
}

// PlanSegments splits [0, totalSize-1] into n equal-length segments, the
// last absorbing the remainder, per spec §4.6.
func PlanSegments(totalSize uint64, n int, partPathFor func(index int) string) []*Segment {
	n = ClampThreadCount(n)
	if totalSize == 0 || n <= 0 {
		return nil
	}
	segSize := totalSize / uint64(n)
	if segSize == 0 {
		segSize = totalSize
		n = 1
	}
	segs := make([]*Segment, 0, n)
	var start uint64
	for i := 0; i < n; i++ {
		end := start + segSize - 1
		if i == n-1 {
			end = totalSize - 1
		}
		segs = append(segs, NewSegment(i, start, end, partPathFor(i)))
		start = end + 1
	}
	return segs
}
