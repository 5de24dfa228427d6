// Package diff supports incremental re-downloads: comparing a local
// file's chunk hashes against a remote hash list and patching only the
// chunks that changed.
package diff

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
)

// ChunkHash describes one fixed-size chunk of a file by offset, size and
// content hash.
type ChunkHash struct {
	Offset int64
	Size   int64
	Hash   string
}

// HashList is an ordered set of chunk hashes covering a whole file.
type HashList []ChunkHash

// GenerateHashList splits path into chunkSize-byte chunks (the last one
// may be shorter) and hashes each with SHA-256.
func GenerateHashList(path string, chunkSize int64) (HashList, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("diff: chunk size must be positive")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("diff: open: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("diff: stat: %w", err)
	}

	var list HashList
	buf := make([]byte, chunkSize)
	var offset int64
	for offset < info.Size() {
		n, err := f.ReadAt(buf, offset)
		if n == 0 && err != nil && err != io.EOF {
			return nil, fmt.Errorf("diff: read chunk at %d: %w", offset, err)
		}
		sum := sha256.Sum256(buf[:n])
		list = append(list, ChunkHash{
			Offset: offset,
			Size:   int64(n),
			Hash:   hex.EncodeToString(sum[:]),
		})
		offset += int64(n)
	}
	return list, nil
}

// WriteHashList serializes a HashList as line-delimited
// "offset,size,hash\n" records, the wire format decided for C10.
func WriteHashList(w io.Writer, list HashList) error {
	bw := bufio.NewWriter(w)
	for _, c := range list {
		if _, err := fmt.Fprintf(bw, "%d,%d,%s\n", c.Offset, c.Size, c.Hash); err != nil {
			return fmt.Errorf("diff: write hash list: %w", err)
		}
	}
	return bw.Flush()
}

// ParseHashList reads a HashList in the offset,size,hash wire format.
func ParseHashList(r io.Reader) (HashList, error) {
	scanner := bufio.NewScanner(r)
	var list HashList
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ",", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("diff: malformed hash list line %q", line)
		}
		offset, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("diff: malformed offset in %q: %w", line, err)
		}
		size, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("diff: malformed size in %q: %w", line, err)
		}
		list = append(list, ChunkHash{Offset: offset, Size: size, Hash: parts[2]})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("diff: scan hash list: %w", err)
	}
	return list, nil
}

// DownloadRemoteHashList fetches and parses a remote hash-list document,
// reusing the plain GET-with-headers request shape the rest of this
// module uses for metadata fetches.
func DownloadRemoteHashList(client *http.Client, url string) (HashList, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("diff: build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("diff: fetch hash list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("diff: remote hash list returned status %d", resp.StatusCode)
	}
	return ParseHashList(resp.Body)
}

// Patch describes the work needed to bring a local file up to date with
// a remote one: which chunks differ and must be re-fetched.
type Patch struct {
	Stale    []ChunkHash
	Matching []ChunkHash
}

// Compare diffs a local hash list against the remote one by offset,
// classifying each remote chunk as matching (same hash at that offset)
// or stale (needs re-download). A remote chunk with no local counterpart
// at that offset is also stale.
func Compare(local, remote HashList) Patch {
	byOffset := make(map[int64]ChunkHash, len(local))
	for _, c := range local {
		byOffset[c.Offset] = c
	}

	var p Patch
	for _, rc := range remote {
		lc, ok := byOffset[rc.Offset]
		if ok && lc.Size == rc.Size && lc.Hash == rc.Hash {
			p.Matching = append(p.Matching, rc)
		} else {
			p.Stale = append(p.Stale, rc)
		}
	}
	return p
}

// RemoteSize returns the total length a file should have according to
// remote, the offset past the end of its last chunk.
func RemoteSize(remote HashList) int64 {
	var size int64
	for _, c := range remote {
		if end := c.Offset + c.Size; end > size {
			size = end
		}
	}
	return size
}

// ApplyPatch re-downloads each stale chunk via fetch and writes it into
// path at its recorded offset, leaving matching chunks untouched, then
// truncates or extends path to remoteSize so a file that shrank or grew
// on the remote ends up the right length even where no chunk changed.
func ApplyPatch(path string, patch Patch, remoteSize int64, fetch func(c ChunkHash) ([]byte, error)) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0666)
	if err != nil {
		return fmt.Errorf("diff: open target: %w", err)
	}
	defer f.Close()

	for _, c := range patch.Stale {
		data, err := fetch(c)
		if err != nil {
			return fmt.Errorf("diff: fetch chunk at %d: %w", c.Offset, err)
		}
		if int64(len(data)) != c.Size {
			return fmt.Errorf("diff: fetched chunk at %d has size %d, expected %d", c.Offset, len(data), c.Size)
		}
		if _, err := f.WriteAt(data, c.Offset); err != nil {
			return fmt.Errorf("diff: write chunk at %d: %w", c.Offset, err)
		}
	}

	if remoteSize >= 0 {
		if err := f.Truncate(remoteSize); err != nil {
			return fmt.Errorf("diff: resize target to %d: %w", remoteSize, err)
		}
	}
	return nil
}
