package helpers

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/zeebo/blake3"
)

// HashFile returns the upper-case hex BLAKE3 digest of the file at path.
func HashFile(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil))), nil
}

// CheckHash verifies a file against an expected BLAKE3 digest (case-insensitive).
func CheckHash(fs afero.Fs, path string, expected string) bool {
	if expected == "" {
		return false
	}
	if _, err := fs.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).Warnf("Error stating file %s during hash check", path)
		}
		return false
	}

	got, err := HashFile(fs, path)
	if err != nil {
		log.WithError(err).Errorf("Error reading file %s for hash check", path)
		return false
	}
	if got == strings.ToUpper(strings.TrimSpace(expected)) {
		log.WithField("hash", "BLAKE3").Debugf("Hash match for %s", path)
		return true
	}
	return false
}

// CounterWriter tracks the number of bytes written to the underlying writer.
type CounterWriter struct {
	Total  int64
	Writer io.Writer
}

// Write implements the io.Writer interface for CounterWriter.
func (cw *CounterWriter) Write(p []byte) (int, error) {
	n, err := cw.Writer.Write(p)
	cw.Total += int64(n)
	return n, err
}

// FormatFileSize renders a byte count as B, KB, MB or GB (base 1024, one
// decimal place for everything above bytes).
func FormatFileSize(bytes int64) string {
	const unit = 1024
	switch {
	case bytes < unit:
		return fmt.Sprintf("%d B", bytes)
	case bytes < unit*unit:
		return fmt.Sprintf("%.1f KB", float64(bytes)/unit)
	case bytes < unit*unit*unit:
		return fmt.Sprintf("%.1f MB", float64(bytes)/(unit*unit))
	default:
		return fmt.Sprintf("%.1f GB", float64(bytes)/(unit*unit*unit))
	}
}

// StripQuery drops everything from the first '?' on. Attachment query
// strings carry access tokens.
func StripQuery(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

// CheckAndMakeDir ensures a directory exists, creating it if necessary.
func CheckAndMakeDir(fs afero.Fs, dir string) error {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		log.WithError(err).Errorf("Error creating directory %s", dir)
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	return nil
}

// ConvertToSlug converts a string into a filesystem-friendly slug.
func ConvertToSlug(str string) string {
	str = strings.ReplaceAll(str, " ", "_")
	str = strings.ReplaceAll(str, ":", "-")
	str = strings.ToLower(str)

	allowedChars := "0123456789abcdefghijklmnopqrstuvwxyz._-"

	var filtered strings.Builder
	for _, ch := range str {
		if strings.ContainsRune(allowedChars, ch) {
			filtered.WriteRune(ch)
		}
	}
	str = filtered.String()

	// Simplify repeated separators
	for strings.Contains(str, "--") {
		str = strings.ReplaceAll(str, "--", "-")
	}
	for strings.Contains(str, "__") {
		str = strings.ReplaceAll(str, "__", "_")
	}
	str = strings.ReplaceAll(str, "-_", "-")
	str = strings.ReplaceAll(str, "_-", "-")

	return strings.Trim(str, "_-")
}
