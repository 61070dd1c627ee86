package pipeline

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"io/fs"
	"os"

	"assetflow/pkg/faults"
)

// Staleness decides when a source needs processing again
type Staleness int

const (
	// ModTime treats a source newer than its destination as stale
	ModTime Staleness = iota
	// ContentHash treats a source whose bytes differ from its destination
	// as stale
	ContentHash
)

func (s Staleness) String() string {
	if s == ContentHash {
		return "content-hash"
	}
	return "mod-time"
}

// stale compares a source file against its destination. A missing
// destination is always stale.
func stale(mode Staleness, f *File, dest string) (bool, error) {
	info, err := os.Stat(dest)
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, faults.IO("stat", dest, err)
	}

	switch mode {
	case ContentHash:
		existing, err := os.ReadFile(dest)
		if err != nil {
			return false, faults.IO("read", dest, err)
		}
		return sha256.Sum256(existing) != sha256.Sum256(f.Contents), nil
	default:
		return f.ModTime.After(info.ModTime()), nil
	}
}

// sameContents reports whether dest already holds exactly data
func sameContents(dest string, data []byte) bool {
	info, err := os.Stat(dest)
	if err != nil || info.Size() != int64(len(data)) {
		return false
	}
	existing, err := os.ReadFile(dest)
	return err == nil && bytes.Equal(existing, data)
}
