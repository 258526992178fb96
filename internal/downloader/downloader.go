package downloader

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"go-issue-mirror/internal/extract"
	"go-issue-mirror/internal/helpers"
	"go-issue-mirror/internal/models"
	"go-issue-mirror/internal/retry"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/zeebo/blake3"
)

// Custom Downloader Errors
var (
	ErrFetch      = errors.New("attachment fetch failed")
	ErrFileSystem = errors.New("filesystem error") // Covers create, write, rename
	ErrPanic      = errors.New("unexpected failure")
)

// Fetcher retrieves the raw bytes behind an attachment URL with a single
// network call.
type Fetcher interface {
	FetchAttachment(ctx context.Context, url string) ([]byte, error)
}

// Job is one attachment and the path it should be written to.
type Job struct {
	Source     string
	SourceID   int64
	Attachment models.Attachment
	DestPath   string
}

// Downloader writes attachments to disk and reports one DownloadRecord per
// job. A failing job never stops the others.
type Downloader struct {
	fetcher     Fetcher
	fs          afero.Fs
	policy      retry.Policy
	logger      log.FieldLogger
	concurrency int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewDownloader creates a new Downloader instance.
func NewDownloader(fetcher Fetcher, fs afero.Fs, policy retry.Policy, logger log.FieldLogger) *Downloader {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Downloader{
		fetcher:     fetcher,
		fs:          fs,
		policy:      policy,
		logger:      logger,
		concurrency: 1,
		locks:       make(map[string]*sync.Mutex),
	}
}

// SetConcurrency sets how many downloads DownloadAll runs at once. Values
// below 1 mean sequential.
func (d *Downloader) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	d.concurrency = n
}

// Download fetches one attachment (with retry) and writes it to job.DestPath.
func (d *Downloader) Download(ctx context.Context, job Job) (record models.DownloadRecord) {
	location, err := filepath.Abs(job.DestPath)
	if err != nil {
		location = job.DestPath
	}
	record = models.DownloadRecord{
		Source:       job.Source,
		SourceID:     job.SourceID,
		SourceURL:    helpers.StripQuery(job.Attachment.URL),
		FileType:     extract.UnknownType,
		FileSize:     helpers.FormatFileSize(0),
		FileLocation: location,
		Filename:     job.Attachment.Filename,
	}
	logger := d.logger.WithField("filename", job.Attachment.Filename)

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Unexpected failure downloading %s: %v", job.Attachment.Filename, r)
			record = failed(record, fmt.Errorf("%w: %v", ErrPanic, r))
		}
	}()

	data, err := retry.DoValue(ctx, d.policy, func(ctx context.Context) ([]byte, error) {
		return d.fetcher.FetchAttachment(ctx, job.Attachment.URL)
	})
	if err != nil {
		logger.WithError(err).Errorf("Failed to download %s", job.Attachment.Filename)
		return failed(record, fmt.Errorf("%w: %w", ErrFetch, err))
	}

	written, sum, err := d.writeFile(location, data)
	if err != nil {
		logger.WithError(err).Errorf("Failed to save %s", job.Attachment.Filename)
		return failed(record, err)
	}

	record.FileType = job.Attachment.FileType
	if record.FileType == "" {
		record.FileType = extract.UnknownType
	}
	record.FileSizeBytes = written
	record.FileSize = helpers.FormatFileSize(written)
	record.Blake3 = sum
	record.Success = true
	logger.Infof("Downloaded: %s (%s)", job.Attachment.Filename, record.FileSize)
	return record
}

// DownloadAll runs every job and returns the records in job order.
func (d *Downloader) DownloadAll(ctx context.Context, jobs []Job) []models.DownloadRecord {
	records := make([]models.DownloadRecord, len(jobs))
	if len(jobs) == 0 {
		return records
	}

	if d.concurrency <= 1 {
		for i, job := range jobs {
			d.logger.Infof("[%d/%d] %s", i+1, len(jobs), job.Attachment.Filename)
			records[i] = d.Download(ctx, job)
		}
		return records
	}

	sem := make(chan struct{}, d.concurrency)
	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, job Job) {
			defer wg.Done()
			defer func() { <-sem }()
			d.logger.Infof("[%d/%d] %s", i+1, len(jobs), job.Attachment.Filename)
			records[i] = d.Download(ctx, job)
		}(i, job)
	}
	wg.Wait()
	return records
}

// writeFile writes data to a temp file next to path and renames it into
// place, returning the byte count and BLAKE3 digest.
func (d *Downloader) writeFile(path string, data []byte) (int64, string, error) {
	unlock := d.lockPath(path)
	defer unlock()

	dir := filepath.Dir(path)
	if err := helpers.CheckAndMakeDir(d.fs, dir); err != nil {
		return 0, "", fmt.Errorf("%w: %w", ErrFileSystem, err)
	}

	tempFile, err := afero.TempFile(d.fs, dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, "", fmt.Errorf("%w: creating temporary file for %s: %w", ErrFileSystem, path, err)
	}
	tempPath := tempFile.Name()
	cleanup := func() {
		if removeErr := d.fs.Remove(tempPath); removeErr != nil {
			d.logger.WithError(removeErr).Warnf("Failed to remove temporary file %s", tempPath)
		}
	}

	hasher := blake3.New()
	counter := &helpers.CounterWriter{Writer: io.MultiWriter(tempFile, hasher)}
	if _, err := counter.Write(data); err != nil {
		tempFile.Close()
		cleanup()
		return 0, "", fmt.Errorf("%w: writing %s: %w", ErrFileSystem, tempPath, err)
	}
	if err := tempFile.Close(); err != nil {
		cleanup()
		return 0, "", fmt.Errorf("%w: closing %s: %w", ErrFileSystem, tempPath, err)
	}
	if err := d.fs.Rename(tempPath, path); err != nil {
		cleanup()
		return 0, "", fmt.Errorf("%w: renaming %s to %s: %w", ErrFileSystem, tempPath, path, err)
	}

	return counter.Total, strings.ToUpper(hex.EncodeToString(hasher.Sum(nil))), nil
}

func (d *Downloader) lockPath(path string) func() {
	d.mu.Lock()
	l, ok := d.locks[path]
	if !ok {
		l = &sync.Mutex{}
		d.locks[path] = l
	}
	d.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func failed(record models.DownloadRecord, err error) models.DownloadRecord {
	record.Success = false
	record.FileType = extract.UnknownType
	record.FileSize = helpers.FormatFileSize(0)
	record.FileSizeBytes = 0
	record.Blake3 = ""
	record.Error = err.Error()
	return record
}
