package deploy

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Fingerprint returns "blake3:<hex>" for the file at path.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open script: %w", err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash script: %w", err)
	}
	return "blake3:" + hex.EncodeToString(h.Sum(nil)), nil
}
