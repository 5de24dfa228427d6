package segment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/falcon-dl/falcon/internal/allocator"
	"github.com/falcon-dl/falcon/internal/bandwidth"
	"github.com/falcon-dl/falcon/internal/config"
	"github.com/falcon-dl/falcon/internal/congestion"
	"github.com/falcon-dl/falcon/internal/group"
	"github.com/falcon-dl/falcon/internal/storage"
	"github.com/falcon-dl/falcon/internal/task"
	"github.com/falcon-dl/falcon/internal/verify"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestPlan_SplitsEvenlyByConnectionsAndMinSegmentSize(t *testing.T) {
	// spec scenario S2: a 1,048,576-byte file with max_connections=4,
	// min_segment_size=65536 must produce exactly 4 segments of 262144
	// bytes each.
	segments := Plan(1048576, true, 4, 65536, 0)
	require.Len(t, segments, 4)
	for _, s := range segments {
		require.Equal(t, int64(262144), s.Size())
	}
	require.Equal(t, int64(0), segments[0].StartOffset)
	require.Equal(t, int64(1048575), segments[3].EndOffset)
}

func TestPlan_ClampsConnectionsToMinSegmentSizeFloor(t *testing.T) {
	// floor(100000/65536) = 1, so 8 requested connections still yield 1.
	segments := Plan(100000, true, 8, 65536, 0)
	require.Len(t, segments, 1)
}

func TestPlan_DefaultsMinSegmentSizeWhenUnset(t *testing.T) {
	segments := Plan(DefaultPartSize*2+100, true, 8, 0, 0)
	require.Len(t, segments, 2)
}

func TestPlan_SingleSegmentWhenRangesUnsupported(t *testing.T) {
	segments := Plan(5000, false, 4, 0, 0)
	require.Len(t, segments, 1)
	require.Equal(t, int64(0), segments[0].StartOffset)
	require.Equal(t, int64(4999), segments[0].EndOffset)
}

func TestApplyResumeState_MarksCompletedSegments(t *testing.T) {
	segments := Plan(DefaultPartSize*2, true, 8, 0, 0)
	segments[0].completed.Store(true)
	json, err := SerializeResumeState("etag1", "", DefaultPartSize*2, segments[:1])
	require.NoError(t, err)

	state, err := LoadResumeState(json)
	require.NoError(t, err)
	require.True(t, ValidateResumeState(state, "etag1", ""))

	fresh := Plan(DefaultPartSize*2, true, 8, 0, 0)
	ApplyResumeState(state, fresh)
	require.True(t, fresh[0].Completed())
	require.False(t, fresh[1].Completed())
}

func TestValidateResumeState_RejectsChangedETag(t *testing.T) {
	state, err := LoadResumeState(`{"v":1,"etag":"old","total_size":10,"parts":{}}`)
	require.NoError(t, err)
	require.False(t, ValidateResumeState(state, "new", ""))
}

func rangeServer(t *testing.T, content []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			w.Header().Set("Content-Length", strconv.Itoa(len(content)))
			w.WriteHeader(http.StatusOK)
			w.Write(content)
			return
		}

		parts := strings.Split(strings.TrimPrefix(rangeHeader, "bytes="), "-")
		start, _ := strconv.Atoi(parts[0])
		end := len(content) - 1
		if len(parts) > 1 && parts[1] != "" {
			end, _ = strconv.Atoi(parts[1])
		}
		if start > end || start >= len(content) {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(content)))
		w.Header().Set("Content-Length", strconv.Itoa(end-start+1))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(content[start : end+1])
	}))
}

func newTestDownloader() *Downloader {
	return New(Config{
		Congestion:            congestion.New(1, 8),
		Bandwidth:             bandwidth.New(),
		Allocator:             allocator.New(),
		Verifier:              verify.NewFileVerifier(),
		DefaultMaxConnections: 4,
		ProgressInterval:      10 * time.Millisecond,
		CongestionInterval:    20 * time.Millisecond,
	})
}

func TestDownloader_DownloadWholeFile(t *testing.T) {
	content := make([]byte, DefaultPartSize+5000)
	for i := range content {
		content[i] = byte(i % 251)
	}
	srv := rangeServer(t, content)
	defer srv.Close()

	dir := t.TempDir()
	savePath := filepath.Join(dir, "out.bin")

	g, err := group.NewRequestGroup("task-1", []string{srv.URL + "/file.bin"}, config.DownloadOptions{SavePath: savePath})
	require.NoError(t, err)
	g.Task = task.New(task.ID(g.ID), g.URIs, savePath)

	d := newTestDownloader()
	err = d.Download(context.Background(), g, nil)
	require.NoError(t, err)

	got, err := os.ReadFile(savePath)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestDownloader_VerifiesHashOnCompletion(t *testing.T) {
	content := []byte("the quick brown fox jumps over the lazy dog")
	sum := sha256.Sum256(content)
	expected := hex.EncodeToString(sum[:])

	srv := rangeServer(t, content)
	defer srv.Close()

	dir := t.TempDir()
	savePath := filepath.Join(dir, "out.txt")

	opts := config.DownloadOptions{SavePath: savePath, ExpectedHash: expected, HashAlgorithm: "sha256"}
	g, err := group.NewRequestGroup("task-2", []string{srv.URL + "/file.txt"}, opts)
	require.NoError(t, err)
	g.Task = task.New(task.ID(g.ID), g.URIs, savePath)

	d := newTestDownloader()
	require.NoError(t, d.Download(context.Background(), g, nil))
}

func memStorage(t *testing.T) *storage.Storage {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&storage.DownloadTask{}, &storage.DownloadLocation{}, &storage.DailyStat{}, &storage.AppSetting{}))
	return &storage.Storage{DB: db}
}

func slowRangeServer(t *testing.T, content []byte, delay time.Duration) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		rangeHeader := r.Header.Get("Range")
		if rangeHeader != "bytes=0-0" {
			time.Sleep(delay)
		}
		if rangeHeader == "" {
			w.Header().Set("Content-Length", strconv.Itoa(len(content)))
			w.WriteHeader(http.StatusOK)
			w.Write(content)
			return
		}
		parts := strings.Split(strings.TrimPrefix(rangeHeader, "bytes="), "-")
		start, _ := strconv.Atoi(parts[0])
		end := len(content) - 1
		if len(parts) > 1 && parts[1] != "" {
			end, _ = strconv.Atoi(parts[1])
		}
		if start > end || start >= len(content) {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(content)))
		w.Header().Set("Content-Length", strconv.Itoa(end-start+1))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(content[start : end+1])
	}))
}

func TestDownloader_PauseInducesResumeStatePersistence(t *testing.T) {
	content := make([]byte, DefaultPartSize*4)
	srv := slowRangeServer(t, content, 200*time.Millisecond)
	defer srv.Close()

	dir := t.TempDir()
	savePath := filepath.Join(dir, "paused.bin")

	g, err := group.NewRequestGroup("task-pause", []string{srv.URL + "/paused.bin"}, config.DownloadOptions{SavePath: savePath})
	require.NoError(t, err)
	g.Task = task.New(task.ID(g.ID), g.URIs, savePath)

	st := memStorage(t)
	require.NoError(t, st.SaveTask(storage.DownloadTask{ID: g.ID, SavePath: savePath, Status: "pending"}))

	d := New(Config{
		Congestion:            congestion.New(1, 8),
		Bandwidth:             bandwidth.New(),
		Allocator:             allocator.New(),
		Verifier:              verify.NewFileVerifier(),
		Storage:               st,
		DefaultMaxConnections: 2,
		ProgressInterval:      5 * time.Millisecond,
		CongestionInterval:    1 * time.Hour,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = d.Download(ctx, g, nil)
	require.Error(t, err)
	require.Equal(t, task.StatusPaused, g.Task.Status())

	row, err := st.GetTask(g.ID)
	require.NoError(t, err)
	require.NotEmpty(t, row.MetaJSON)
}

func TestDownloader_FailsOnHashMismatch(t *testing.T) {
	content := []byte("some content")
	srv := rangeServer(t, content)
	defer srv.Close()

	dir := t.TempDir()
	savePath := filepath.Join(dir, "out.txt")

	opts := config.DownloadOptions{SavePath: savePath, ExpectedHash: strings.Repeat("a", 64), HashAlgorithm: "sha256"}
	g, err := group.NewRequestGroup("task-3", []string{srv.URL + "/file.txt"}, opts)
	require.NoError(t, err)
	g.Task = task.New(task.ID(g.ID), g.URIs, savePath)

	d := newTestDownloader()
	err = d.Download(context.Background(), g, nil)
	require.Error(t, err)

	_, statErr := os.Stat(savePath + ".corrupted")
	require.NoError(t, statErr)
}
