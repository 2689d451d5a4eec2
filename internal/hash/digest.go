package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

const Prefix = "sha256:"

// DigestFile returns the prefixed sha256 of the file content and its size.
func DigestFile(path string) (digest string, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open file %s: %w", path, err)
	}
	defer f.Close()

	digest, size, err = DigestReader(f)
	if err != nil {
		return "", 0, fmt.Errorf("hash file %s: %w", path, err)
	}
	return digest, size, nil
}

func DigestReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, err
	}
	return Prefix + hex.EncodeToString(h.Sum(nil)), n, nil
}

func DigestBytes(raw []byte) string {
	h := sha256.Sum256(raw)
	return Prefix + hex.EncodeToString(h[:])
}

// Short returns the first n hex characters of a digest, without prefix.
func Short(digest string, n int) string {
	hexPart := strings.TrimPrefix(digest, Prefix)
	if n <= 0 || n > len(hexPart) {
		return hexPart
	}
	return hexPart[:n]
}

func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
