package verify

import (
	"crypto/sha1"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPieceVerifier_AllPiecesMatch(t *testing.T) {
	pieceLen := int64(4)
	data := []byte("abcdwxyz12") // pieces: "abcd","wxyz","12"
	hashes := [][sha1.Size]byte{
		sha1.Sum(data[0:4]),
		sha1.Sum(data[4:8]),
		sha1.Sum(data[8:10]),
	}

	pv, err := NewPieceVerifier(pieceLen, hashes)
	require.NoError(t, err)

	f, err := os.CreateTemp(t.TempDir(), "pieces")
	require.NoError(t, err)
	_, err = f.Write(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	bad, err := pv.VerifyFile(f.Name())
	require.NoError(t, err)
	require.Empty(t, bad)
}

func TestPieceVerifier_DetectsCorruption(t *testing.T) {
	pieceLen := int64(4)
	data := []byte("abcdwxyz12")
	hashes := [][sha1.Size]byte{
		sha1.Sum(data[0:4]),
		sha1.Sum(data[4:8]),
		sha1.Sum(data[8:10]),
	}

	corrupted := append([]byte(nil), data...)
	corrupted[5] = 'Q'

	pv, err := NewPieceVerifier(pieceLen, hashes)
	require.NoError(t, err)

	f, err := os.CreateTemp(t.TempDir(), "pieces")
	require.NoError(t, err)
	_, err = f.Write(corrupted)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	bad, err := pv.VerifyFile(f.Name())
	require.NoError(t, err)
	require.Equal(t, []int{1}, bad)
}
