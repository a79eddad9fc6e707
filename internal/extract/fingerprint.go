package extract

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/blake2b"

	"pacs-index/internal/filesystem"
)

// openFile opens a NAS-resident file with stale-handle retry. The
// device label identifies the mount in retry metrics.
func openFile(path, device string) (*os.File, error) {
	return filesystem.OpenWithRetry(path, device, filesystem.DefaultRetryConfig())
}

// FileFingerprint computes a content fingerprint for a direct file by
// hashing the whole file. Used by incremental runs to catch content
// changes that timestamps alone would miss.
func FileFingerprint(path, device string) (string, error) {
	f, err := openFile(path, device)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// RowFingerprint derives a fingerprint for a database-mediated unit
// from the row's own columns. Reading the compressed payload to hash it
// is out of scope, so the path and compression columns stand in for the
// content.
func RowFingerprint(parts ...string) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h.Sum(nil))
}

// SynthesizeSOPUID derives a deterministic instance identifier for
// sources that do not record one, from the series identifier and the
// file path, so reruns are idempotent.
func SynthesizeSOPUID(seriesUID, filePath string) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(filePath))
	return fmt.Sprintf("%s.%s", seriesUID, hex.EncodeToString(h.Sum(nil))[:16])
}
