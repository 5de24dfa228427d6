package group

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/falcon-dl/falcon/internal/config"
	"github.com/stretchr/testify/require"
)

func TestManager_FillFromReservationRespectsSlots(t *testing.T) {
	m := NewManager()
	for i := 0; i < 5; i++ {
		g, err := NewRequestGroup(string(rune('a'+i)), []string{"https://example.com/f"}, config.DownloadOptions{SavePath: "/tmp"})
		require.NoError(t, err)
		m.Add(g)
	}

	activated := m.FillFromReservation(3)
	require.Len(t, activated, 3)
	require.Equal(t, 3, m.ActiveCount())
	require.Len(t, m.Waiting(), 2)
}

func TestManager_HostLimitBlocksExcessActivation(t *testing.T) {
	m := NewManager()
	m.SetHostLimit("example.com", 1)

	for i := 0; i < 3; i++ {
		g, err := NewRequestGroup(string(rune('a'+i)), []string{"https://example.com/f"}, config.DownloadOptions{SavePath: "/tmp"})
		require.NoError(t, err)
		m.Add(g)
	}

	activated := m.FillFromReservation(10)
	require.Len(t, activated, 1)
	require.Len(t, m.Waiting(), 2)
}

func TestManager_RemoveGroupFreesHostSlot(t *testing.T) {
	m := NewManager()
	m.SetHostLimit("example.com", 1)

	g1, _ := NewRequestGroup("g1", []string{"https://example.com/a"}, config.DownloadOptions{SavePath: "/tmp"})
	g2, _ := NewRequestGroup("g2", []string{"https://example.com/b"}, config.DownloadOptions{SavePath: "/tmp"})
	m.Add(g1)
	m.Add(g2)

	m.FillFromReservation(10)
	require.Equal(t, 1, m.ActiveCount())

	require.True(t, m.RemoveGroup("g1"))
	activated := m.FillFromReservation(10)
	require.Len(t, activated, 1)
	require.Equal(t, "g2", activated[0].ID)
}

func TestResolveOutputPath_AppendsSuffixOnCollision(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "video.mp4"), []byte("x"), 0644))

	path := ResolveOutputPath(dir, "video.mp4", false)
	require.Equal(t, filepath.Join(dir, "video (1).mp4"), path)
}

func TestResolveOutputPath_NoCollisionReturnsOriginal(t *testing.T) {
	dir := t.TempDir()
	path := ResolveOutputPath(dir, "video.mp4", false)
	require.Equal(t, filepath.Join(dir, "video.mp4"), path)
}

func TestResolveOutputPath_OverwriteBypassesSuffix(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "video.mp4"), []byte("x"), 0644))

	path := ResolveOutputPath(dir, "video.mp4", true)
	require.Equal(t, filepath.Join(dir, "video.mp4"), path)
}
