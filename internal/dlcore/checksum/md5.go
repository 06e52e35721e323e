// Package checksum implements the checksum verifier (C4): MD5 of the merged
// file, compared case-insensitively against an expected digest.
package checksum

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"strings"
)

// FileMD5 computes the hex MD5 digest of the file at path. Exposed as a
// standalone helper independent of task verification, matching the
// original engine's CalculateFileMd5.
func FileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify reports whether the file at path's MD5 digest matches expected,
// compared case-insensitively. It returns false, not an error, when the
// file cannot be read, per spec §4.4.
func Verify(path, expected string) bool {
	if expected == "" {
		return true
	}
	actual, err := FileMD5(path)
	if err != nil {
		return false
	}
	return strings.EqualFold(actual, expected)
}
