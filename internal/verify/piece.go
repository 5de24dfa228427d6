package verify

import (
	"crypto/sha1"
	"fmt"
	"os"
)

// PieceVerifier checks a file against a list of fixed-size piece hashes,
// the way BitTorrent-style transfers validate data as it arrives rather
// than hashing the whole file once at the end.
type PieceVerifier struct {
	pieceLength int64
	hashes      [][sha1.Size]byte
}

// NewPieceVerifier builds a verifier for a file split into pieceLength-byte
// pieces (the final piece may be shorter), each with an expected SHA-1
// digest in order.
func NewPieceVerifier(pieceLength int64, hashes [][sha1.Size]byte) (*PieceVerifier, error) {
	if pieceLength <= 0 {
		return nil, fmt.Errorf("verify: piece length must be positive")
	}
	return &PieceVerifier{pieceLength: pieceLength, hashes: hashes}, nil
}

// PieceCount returns the number of pieces this verifier expects.
func (p *PieceVerifier) PieceCount() int { return len(p.hashes) }

// VerifyPiece hashes the given piece's bytes and reports whether it
// matches the expected digest for that index.
func (p *PieceVerifier) VerifyPiece(index int, data []byte) (bool, error) {
	if index < 0 || index >= len(p.hashes) {
		return false, fmt.Errorf("verify: piece index %d out of range [0,%d)", index, len(p.hashes))
	}
	sum := sha1.Sum(data)
	return sum == p.hashes[index], nil
}

// VerifyFile re-reads path piece by piece and reports the indices of any
// pieces that fail verification.
func (p *PieceVerifier) VerifyFile(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("verify: open: %w", err)
	}
	defer f.Close()

	buf := make([]byte, p.pieceLength)
	var bad []int
	for i := range p.hashes {
		n, err := f.ReadAt(buf, int64(i)*p.pieceLength)
		if n == 0 && err != nil {
			return bad, fmt.Errorf("verify: read piece %d: %w", i, err)
		}
		ok, verr := p.VerifyPiece(i, buf[:n])
		if verr != nil {
			return bad, verr
		}
		if !ok {
			bad = append(bad, i)
		}
	}
	return bad, nil
}
