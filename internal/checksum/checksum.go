// Package checksum computes content digests and modification times for source files.
package checksum

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/starford/folio/internal/apperr"
)

// chunkSize is the read buffer used when streaming a file into the digest.
const chunkSize = 4096

// Sum returns the hex-encoded MD5 digest of data.
func Sum(data []byte) string {
	h := md5.Sum(data)
	return hex.EncodeToString(h[:])
}

// File streams the file at path through MD5 and returns the digest together
// with the modification time in seconds since the epoch (UTC).
func File(path string) (string, float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, classify(path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", 0, classify(path, err)
	}
	if info.IsDir() {
		return "", 0, fmt.Errorf("checksum: %s is a directory: %w", path, apperr.ErrIO)
	}

	h := md5.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", 0, classify(path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), Seconds(info.ModTime()), nil
}

// Seconds converts t to fractional seconds since the epoch.
func Seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Time converts fractional epoch seconds back to a UTC time.
func Time(secs float64) time.Time {
	return time.Unix(0, int64(secs*float64(time.Second))).UTC()
}

func classify(path string, err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("checksum: %s: %w", path, err)
	}
	return fmt.Errorf("checksum: %s: %w: %w", path, apperr.ErrIO, err)
}
