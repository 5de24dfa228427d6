// Package segment splits a download into byte-range parts and drives
// the worker pool that fetches them, grounded directly on the teacher's
// executeTask/downloadWorker/downloadPart (internal/core/engine.go).
package segment

import (
	"sync/atomic"
)

// DefaultPartSize matches the teacher's DownloadChunkSize.
const DefaultPartSize = 1 * 1024 * 1024

// DefaultMinSegmentSize is the floor Plan uses when a task doesn't set
// DownloadOptions.MinSegmentSize.
const DefaultMinSegmentSize = DefaultPartSize

// MaxTaskConcurrency bounds how far congestion control may scale a
// single task's worker count, matching the teacher's hard ceiling.
const MaxTaskConcurrency = 32

// Segment is one contiguous byte range of the target file, tracked with
// lock-free counters the way the teacher tracks per-part progress via
// plain ints guarded implicitly by channel ownership — here made safe
// for concurrent reads from the progress monitor.
type Segment struct {
	ID          int
	StartOffset int64
	EndOffset   int64

	downloaded atomic.Int64
	completed  atomic.Bool
	attempts   atomic.Int32
}

// Size returns the segment's byte length, or -1 if the segment spans an
// unknown-length resource (EndOffset < 0).
func (s *Segment) Size() int64 {
	if s.EndOffset < 0 {
		return -1
	}
	return s.EndOffset - s.StartOffset + 1
}

// Downloaded returns bytes written for this segment so far.
func (s *Segment) Downloaded() int64 { return s.downloaded.Load() }

// Completed reports whether this segment has been fully fetched.
func (s *Segment) Completed() bool { return s.completed.Load() }

// Attempts returns how many times this segment has been retried.
func (s *Segment) Attempts() int32 { return s.attempts.Load() }

// Plan divides a resource of totalSize bytes into evenly-sized segments,
// or a single segment spanning the whole file when the server doesn't
// support byte ranges or size is unknown, matching the teacher's
// numParts/AcceptRanges fallback in executeTask.
//
// The segment count N is clamp(numConnections, 1, floor(totalSize /
// minSegmentSize)): a task never gets more connections than its size
// can support at minSegmentSize bytes per segment, and never fewer than
// 1. minSegmentSize <= 0 defaults to DefaultMinSegmentSize. If
// maxSegmentSize > 0 and the resulting segment size would exceed it, N
// is raised (without exceeding the minSegmentSize floor) so no segment
// is larger than maxSegmentSize.
func Plan(totalSize int64, acceptRanges bool, numConnections int, minSegmentSize, maxSegmentSize int64) []*Segment {
	if !acceptRanges || totalSize <= 0 {
		end := totalSize - 1
		if totalSize <= 0 {
			end = -1
		}
		return []*Segment{{ID: 0, StartOffset: 0, EndOffset: end}}
	}

	if minSegmentSize <= 0 {
		minSegmentSize = DefaultMinSegmentSize
	}
	if numConnections <= 0 {
		numConnections = 1
	}

	maxByMinSize := int(totalSize / minSegmentSize)
	if maxByMinSize < 1 {
		maxByMinSize = 1
	}

	n := numConnections
	if n > maxByMinSize {
		n = maxByMinSize
	}
	if n < 1 {
		n = 1
	}
	if maxSegmentSize > 0 {
		if needed := int(ceilDiv(totalSize, maxSegmentSize)); needed > n && needed <= maxByMinSize {
			n = needed
		}
	}

	segments := make([]*Segment, 0, n)
	base := totalSize / int64(n)
	remainder := totalSize % int64(n)
	start := int64(0)
	for i := 0; i < n; i++ {
		size := base
		if int64(i) < remainder {
			size++
		}
		end := start + size - 1
		segments = append(segments, &Segment{ID: i, StartOffset: start, EndOffset: end})
		start = end + 1
	}
	return segments
}

func ceilDiv(a, b int64) int64 {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}

// TotalDownloaded sums Downloaded across every segment.
func TotalDownloaded(segments []*Segment) int64 {
	var total int64
	for _, s := range segments {
		total += s.Downloaded()
	}
	return total
}

// AllCompleted reports whether every segment has finished.
func AllCompleted(segments []*Segment) bool {
	for _, s := range segments {
		if !s.Completed() {
			return false
		}
	}
	return true
}
