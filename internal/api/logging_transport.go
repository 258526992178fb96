package api

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

const redacted = "[REDACTED]"

// LoggingTransport wraps an http.RoundTripper and appends every exchange to a
// log file. Tokens never reach the file: the Authorization header is masked
// and attachment query strings are dropped.
type LoggingTransport struct {
	Transport http.RoundTripper
	logFile   afero.File
	mu        sync.Mutex
	writer    *bufio.Writer
}

// NewLoggingTransport opens logFilePath for appending on fs.
func NewLoggingTransport(fs afero.Fs, transport http.RoundTripper, logFilePath string) (*LoggingTransport, error) {
	f, err := fs.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open API log file %s: %w", logFilePath, err)
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &LoggingTransport{
		Transport: transport,
		logFile:   f,
		writer:    bufio.NewWriter(f),
	}, nil
}

// RoundTrip executes a single HTTP transaction, logging details.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	startTime := time.Now()

	// Authenticated API calls keep their query (pagination). Anything else
	// is an attachment URL whose query is a signed token.
	logged := req.Clone(req.Context())
	if logged.Header.Get("Authorization") != "" {
		logged.Header.Set("Authorization", redacted)
	} else if logged.URL.RawQuery != "" {
		logged.URL.RawQuery = redacted
	}
	reqDump, err := httputil.DumpRequestOut(logged, false)

	resp, rtErr := t.Transport.RoundTrip(req)
	duration := time.Since(startTime)

	t.mu.Lock()
	defer t.mu.Unlock()

	if err != nil {
		log.WithError(err).Error("Failed to dump API request for logging")
	} else {
		t.writeLog(fmt.Sprintf("--- Request (%s) ---\n%s", startTime.Format(time.RFC3339), reqDump))
	}

	switch {
	case rtErr != nil:
		t.writeLog(fmt.Sprintf("--- Response Error (Duration: %v) ---\n%s", duration, rtErr))
	case strings.Contains(resp.Header.Get("Content-Type"), "json"):
		bodyBytes, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		headers, _ := httputil.DumpResponse(resp, false)
		if readErr != nil {
			t.writeLog(fmt.Sprintf("--- Response Headers (Duration: %v) ---\n%s\n(Body read failed: %v)", duration, headers, readErr))
			break
		}
		t.writeLog(fmt.Sprintf("--- Response (Duration: %v) ---\n%s\n%s", duration, headers, bodyBytes))
	default:
		headers, _ := httputil.DumpResponse(resp, false)
		t.writeLog(fmt.Sprintf("--- Response Headers (Duration: %v) ---\n%s\n(Body not logged)", duration, headers))
	}

	if err := t.writer.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "Error flushing API log file: %v\n", err)
	}
	return resp, rtErr
}

func (t *LoggingTransport) writeLog(logString string) {
	if _, err := t.writer.WriteString(logString + "\n\n"); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing to API log file: %v\n", err)
	}
}

// Close flushes and closes the log file.
func (t *LoggingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	errFlush := t.writer.Flush()
	errClose := t.logFile.Close()
	if errFlush != nil {
		return fmt.Errorf("failed to flush API log buffer: %w", errFlush)
	}
	return errClose
}
