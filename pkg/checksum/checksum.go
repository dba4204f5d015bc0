// Package checksum computes the two digests spec.md §3 requires on every
// bundle archive: sha512 for integrity verification and adler32 for fast
// comparison against site tools that only support the older algorithm.
package checksum

import (
	"crypto/sha512"
	"encoding/hex"
	"hash/adler32"
	"io"
	"os"

	"github.com/wipac/ltacoord/pkg/types"
)

// Algorithms are the keys this package populates in a types.ChecksumSet.
const (
	AlgoSHA512  = "sha512"
	AlgoAdler32 = "adler32"
)

// File computes both required checksums for the file at path in a single
// pass, returning them as a types.ChecksumSet ready to attach to a Bundle.
func File(path string) (types.ChecksumSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sha := sha512.New()
	adl := adler32.New()
	if _, err := io.Copy(io.MultiWriter(sha, adl), f); err != nil {
		return nil, err
	}

	return types.ChecksumSet{
		AlgoSHA512:  hex.EncodeToString(sha.Sum(nil)),
		AlgoAdler32: hex.EncodeToString(adl.Sum(nil)),
	}, nil
}

// Verify recomputes the checksums for path and reports whether they match
// every algorithm present in want. An empty want always verifies.
func Verify(path string, want types.ChecksumSet) (bool, error) {
	got, err := File(path)
	if err != nil {
		return false, err
	}
	for algo, sum := range want {
		if got[algo] != sum {
			return false, nil
		}
	}
	return true, nil
}
