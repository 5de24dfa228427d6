package verify

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, content []byte) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "verify_test")
	require.NoError(t, err)
	_, err = f.Write(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func TestCalculateHash_SHA256(t *testing.T) {
	content := []byte("hello world")
	path := writeTempFile(t, content)

	sum := sha256.Sum256(content)
	expected := hex.EncodeToString(sum[:])

	actual, err := CalculateHash(path, SHA256)
	require.NoError(t, err)
	require.Equal(t, expected, actual)
}

func TestDetectAlgorithm(t *testing.T) {
	cases := map[string]Algorithm{
		"d41d8cd98f00b204e9800998ecf8427e":                                                 MD5,
		"da39a3ee5e6b4b0d3255bfef95601890afd80709":                                         SHA1,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855":                 SHA256,
		"cf83e1357eefb8bdf1542850d66d8007d620e4050b5715dc83f4a921d36ce9ce47d0d13c5d85f2b0ff8318d2877eec2f63b931bd47417a81a538327af927da3e": SHA512,
	}
	for digest, want := range cases {
		got, err := DetectAlgorithm(digest)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestDetectAlgorithm_UnknownLength(t *testing.T) {
	_, err := DetectAlgorithm("abc")
	require.Error(t, err)
}

func TestFileVerifier_EmptyExpectedSkipsCheck(t *testing.T) {
	path := writeTempFile(t, []byte("anything"))
	v := NewFileVerifier()
	require.NoError(t, v.Verify(path, SHA256, ""))
}

func TestFileVerifier_MismatchReturnsError(t *testing.T) {
	path := writeTempFile(t, []byte("hello world"))
	v := NewFileVerifier()
	err := v.Verify(path, MD5, "wronghash")
	require.Error(t, err)
}

func TestFileVerifier_MatchSucceeds(t *testing.T) {
	content := []byte("hello world")
	path := writeTempFile(t, content)
	expected, err := CalculateHash(path, SHA256)
	require.NoError(t, err)

	v := NewFileVerifier()
	require.NoError(t, v.Verify(path, SHA256, expected))
}
