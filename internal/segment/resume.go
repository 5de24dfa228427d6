package segment

import (
	"encoding/json"
	"fmt"

	"github.com/falcon-dl/falcon/internal/storage"
)

// LoadResumeState parses a task's persisted MetaJSON, returning nil if
// there is none to resume from, grounded on the teacher's
// StateManager.Load (internal/core/state.go).
func LoadResumeState(metaJSON string) (*storage.ResumeState, error) {
	if metaJSON == "" {
		return nil, nil
	}
	var state storage.ResumeState
	if err := json.Unmarshal([]byte(metaJSON), &state); err != nil {
		return nil, fmt.Errorf("segment: parse resume state: %w", err)
	}
	return &state, nil
}

// SerializeResumeState marshals the current segment progress for
// persistence, grounded on StateManager.Serialize.
func SerializeResumeState(etag, lastModified string, totalSize int64, segments []*Segment) (string, error) {
	state := storage.ResumeState{
		Version:      1,
		ETag:         etag,
		LastModified: lastModified,
		TotalSize:    totalSize,
		Parts:        make(map[int]storage.PartState, len(segments)),
	}
	for _, s := range segments {
		state.Parts[s.ID] = storage.PartState{
			Start:    s.StartOffset,
			End:      s.EndOffset,
			Complete: s.Completed(),
		}
	}
	data, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("segment: serialize resume state: %w", err)
	}
	return string(data), nil
}

// ValidateResumeState reports whether state may still be trusted against
// freshly probed ETag/Last-Modified headers, grounded on
// StateManager.Validate: a strong validator (ETag) mismatch invalidates
// the state outright; a changed Last-Modified does too, since the
// remote resource has since changed.
func ValidateResumeState(state *storage.ResumeState, etag, lastModified string) bool {
	if state == nil {
		return true
	}
	if state.ETag != "" && etag != "" && etag != state.ETag {
		return false
	}
	if state.LastModified != "" && lastModified != "" && lastModified != state.LastModified {
		return false
	}
	return true
}

// ApplyResumeState marks each segment in segments complete if state
// records it as finished, so Download skips re-fetching it.
func ApplyResumeState(state *storage.ResumeState, segments []*Segment) {
	if state == nil {
		return
	}
	for _, s := range segments {
		if part, ok := state.Parts[s.ID]; ok && part.Complete {
			s.completed.Store(true)
			s.downloaded.Store(s.Size())
		}
	}
}
