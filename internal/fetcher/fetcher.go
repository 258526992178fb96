// Package fetcher mirrors one GitHub issue (or a filtered batch of them) to
// a local directory: issue.json, manifest.md and every attachment.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go-issue-mirror/internal/api"
	"go-issue-mirror/internal/downloader"
	"go-issue-mirror/internal/extract"
	"go-issue-mirror/internal/helpers"
	"go-issue-mirror/internal/manifest"
	"go-issue-mirror/internal/models"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrFileSystem      = errors.New("filesystem error")
)

// Process exit codes.
const (
	ExitOK         = 0
	ExitError      = 1
	ExitFileSystem = 3
)

// Output file names
const (
	IssueFile        = "issue.json"
	ManifestFile     = "manifest.md"
	ManifestHTMLFile = "manifest.html"
	AttachmentsDir   = "attachments"
)

const minTokenLength = 10

// IssueSource is the part of the GitHub client the pipeline needs.
type IssueSource interface {
	GetIssue(ctx context.Context, repo string, number int) (*models.ApiIssue, error)
	GetAllComments(ctx context.Context, repo string, number int, extractor api.AttachmentExtractor) ([]models.Comment, error)
}

// Recorder persists one history entry per run. Implemented by database.DB.
type Recorder interface {
	Record(entry models.HistoryEntry) error
}

// Indexer makes a mirrored issue searchable.
type Indexer interface {
	IndexIssue(issue *models.Issue, outputDir string) error
}

// Params identify one issue to mirror.
type Params struct {
	Repo      string
	Number    int
	OutputDir string
	Token     string
}

// Options tune a Fetcher. All fields are optional.
type Options struct {
	RenderHTML bool
	History    Recorder
	Index      Indexer
	// RunID groups history entries written by one invocation.
	RunID string
	Now   func() time.Time
}

// Fetcher runs the mirror pipeline.
type Fetcher struct {
	source     IssueSource
	extractor  *extract.Extractor
	downloader *downloader.Downloader
	fs         afero.Fs
	logger     log.FieldLogger
	opts       Options
}

// New wires a Fetcher. fs defaults to the OS filesystem.
func New(source IssueSource, extractor *extract.Extractor, dl *downloader.Downloader, fs afero.Fs, logger log.FieldLogger, opts Options) *Fetcher {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	return &Fetcher{
		source:     source,
		extractor:  extractor,
		downloader: dl,
		fs:         fs,
		logger:     logger.WithField("run", opts.RunID),
		opts:       opts,
	}
}

// Validate checks the parameters before any network call.
func Validate(p Params) error {
	owner, name, ok := strings.Cut(p.Repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("%w: invalid repository format %q, expected owner/repo", ErrInvalidArgument, p.Repo)
	}
	if p.Number <= 0 {
		return fmt.Errorf("%w: issue number must be positive: %d", ErrInvalidArgument, p.Number)
	}
	if strings.TrimSpace(p.OutputDir) == "" {
		return fmt.Errorf("%w: output directory is required", ErrInvalidArgument)
	}
	if len(strings.TrimSpace(p.Token)) < minTokenLength {
		return fmt.Errorf("%w: GitHub token is required and must be valid", ErrInvalidArgument)
	}
	return nil
}

// ExitCode maps a pipeline error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrFileSystem):
		return ExitFileSystem
	default:
		return ExitError
	}
}

// Run mirrors one issue into p.OutputDir and returns the assembled issue.
// Attachment failures are recorded in the result, everything else is fatal.
func (f *Fetcher) Run(ctx context.Context, p Params) (*models.Issue, error) {
	logger := f.logger.WithFields(log.Fields{"repository": p.Repo, "issue": p.Number})

	logger.Info("Validating inputs...")
	if err := Validate(p); err != nil {
		return nil, err
	}

	issue, err := f.run(ctx, p, logger)
	f.record(p, issue, err, logger)
	if err != nil {
		logger.WithError(err).Error("Fatal error")
		return nil, err
	}
	return issue, nil
}

func (f *Fetcher) run(ctx context.Context, p Params, logger log.FieldLogger) (*models.Issue, error) {
	issueDir := filepath.Join(p.OutputDir, AttachmentsDir, models.SourceIssue)
	commentsDir := filepath.Join(p.OutputDir, AttachmentsDir, "comments")

	logger.Info("Creating output directory structure...")
	for _, dir := range []string{p.OutputDir, issueDir, commentsDir} {
		if err := helpers.CheckAndMakeDir(f.fs, dir); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFileSystem, err)
		}
	}

	apiIssue, err := f.source.GetIssue(ctx, p.Repo, p.Number)
	if err != nil {
		return nil, err
	}
	issue := IssueFromAPI(p.Repo, apiIssue)
	// The payload's number is optional; the requested one is authoritative.
	issue.Number = p.Number
	if apiIssue.BodyHTML == nil {
		logger.Warn("body_html field missing, issue body attachments cannot be discovered")
	}
	issue.Attachments = f.extractor.Extract(issue.BodyHTML)
	logAttachments(logger, "issue body", issue.Attachments)

	issue.Comments, err = f.source.GetAllComments(ctx, p.Repo, p.Number, f.extractor)
	if err != nil {
		return nil, err
	}
	if len(issue.Comments) == 0 {
		logger.Info("No comments on this issue")
	}
	for i, c := range issue.Comments {
		if len(c.Attachments) > 0 {
			logAttachments(logger, fmt.Sprintf("comment #%d (ID: %d)", i+1, c.CommentID), c.Attachments)
		}
	}

	jobs := BuildJobs(issue, p.OutputDir)
	if len(jobs) == 0 {
		logger.Info("No attachments to download")
	} else {
		logger.Infof("Downloading %d attachment(s)...", len(jobs))
	}
	issue.Downloads = f.downloader.DownloadAll(ctx, jobs)

	if err := f.Save(issue, p.OutputDir); err != nil {
		return issue, err
	}

	if f.opts.Index != nil {
		if err := f.opts.Index.IndexIssue(issue, p.OutputDir); err != nil {
			logger.WithError(err).Warn("Failed to index issue")
		}
	}

	logSummary(logger, issue, p.OutputDir)
	return issue, nil
}

// Save writes issue.json, manifest.md and optionally manifest.html.
func (f *Fetcher) Save(issue *models.Issue, outputDir string) error {
	if err := SaveIssue(f.fs, outputDir, issue); err != nil {
		return err
	}
	f.logger.Infof("Saved: %s", filepath.Join(outputDir, IssueFile))
	return WriteManifest(f.fs, outputDir, issue, manifest.Options{}, f.opts.RenderHTML)
}

// BuildJobs lays out destinations: attachments/issue/<file> for the issue
// body and attachments/comments/<id>/<file> for comments, in discovery order.
func BuildJobs(issue *models.Issue, outputDir string) []downloader.Job {
	jobs := make([]downloader.Job, 0, issue.AttachmentCount())
	for _, att := range issue.Attachments {
		jobs = append(jobs, downloader.Job{
			Source:     models.SourceIssue,
			SourceID:   int64(issue.Number),
			Attachment: att,
			DestPath:   filepath.Join(outputDir, AttachmentsDir, models.SourceIssue, safeName(att.Filename)),
		})
	}
	for _, c := range issue.Comments {
		for _, att := range c.Attachments {
			jobs = append(jobs, downloader.Job{
				Source:     models.SourceComment,
				SourceID:   c.CommentID,
				Attachment: att,
				DestPath:   filepath.Join(outputDir, AttachmentsDir, "comments", strconv.FormatInt(c.CommentID, 10), safeName(att.Filename)),
			})
		}
	}
	return jobs
}

// IssueFromAPI converts the REST payload into the persisted aggregate.
func IssueFromAPI(repo string, in *models.ApiIssue) *models.Issue {
	issue := &models.Issue{
		Repository:  repo,
		ID:          in.ID,
		Number:      in.Number,
		Title:       in.Title,
		State:       in.State,
		Author:      models.GhostUser,
		CreatedAt:   in.CreatedAt,
		UpdatedAt:   in.UpdatedAt,
		Labels:      make([]string, 0, len(in.Labels)),
		HTMLURL:     in.HTMLURL,
		Attachments: []models.Attachment{},
		Comments:    []models.Comment{},
		Downloads:   []models.DownloadRecord{},
	}
	if in.User != nil && in.User.Login != "" {
		issue.Author = in.User.Login
	}
	for _, l := range in.Labels {
		issue.Labels = append(issue.Labels, l.Name)
	}
	if in.Body != nil {
		issue.Body = *in.Body
	}
	if in.BodyHTML != nil {
		issue.BodyHTML = *in.BodyHTML
	}
	return issue
}

// SaveIssue writes issue.json as indented JSON.
func SaveIssue(fs afero.Fs, outputDir string, issue *models.Issue) error {
	data, err := json.MarshalIndent(issue, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling issue: %w", err)
	}
	path := filepath.Join(outputDir, IssueFile)
	if err := afero.WriteFile(fs, path, data, 0644); err != nil {
		return fmt.Errorf("%w: saving %s: %w", ErrFileSystem, path, err)
	}
	return nil
}

// LoadIssue reads issue.json back from outputDir.
func LoadIssue(fs afero.Fs, outputDir string) (*models.Issue, error) {
	path := filepath.Join(outputDir, IssueFile)
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrFileSystem, path, err)
	}
	var issue models.Issue
	if err := json.Unmarshal(data, &issue); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &issue, nil
}

// WriteManifest renders manifest.md (and manifest.html when withHTML).
func WriteManifest(fs afero.Fs, outputDir string, issue *models.Issue, opts manifest.Options, withHTML bool) error {
	md := []byte(manifest.Generate(issue, opts))
	path := filepath.Join(outputDir, ManifestFile)
	if err := afero.WriteFile(fs, path, md, 0644); err != nil {
		return fmt.Errorf("%w: saving %s: %w", ErrFileSystem, path, err)
	}
	if !withHTML {
		return nil
	}

	html, err := manifest.RenderHTML(md)
	if err != nil {
		return err
	}
	htmlPath := filepath.Join(outputDir, ManifestHTMLFile)
	if err := afero.WriteFile(fs, htmlPath, html, 0644); err != nil {
		return fmt.Errorf("%w: saving %s: %w", ErrFileSystem, htmlPath, err)
	}
	return nil
}

func (f *Fetcher) record(p Params, issue *models.Issue, runErr error, logger log.FieldLogger) {
	if f.opts.History == nil {
		return
	}
	entry := models.HistoryEntry{
		Repository: p.Repo,
		Number:     p.Number,
		OutputDir:  p.OutputDir,
		RunID:      f.opts.RunID,
		FetchedAt:  f.opts.Now().UTC(),
		Status:     models.StatusComplete,
	}
	if issue != nil {
		summary := models.Summarize(issue.Downloads)
		entry.Title = issue.Title
		entry.State = issue.State
		entry.Comments = len(issue.Comments)
		entry.Attachments = issue.AttachmentCount()
		entry.Downloaded = summary.Downloaded
		entry.Failed = summary.Failed
		entry.TotalSizeBytes = summary.TotalSizeBytes
		if summary.Failed > 0 {
			entry.Status = models.StatusPartial
		}
	}
	if runErr != nil {
		entry.Status = models.StatusError
		entry.ErrorDetails = runErr.Error()
	}
	if err := f.opts.History.Record(entry); err != nil {
		logger.WithError(err).Warn("Failed to record fetch history")
	}
}

// safeName keeps a derived filename inside its target directory.
func safeName(name string) string {
	name = filepath.Base(filepath.Clean("/" + name))
	if name == "/" || name == "." || name == ".." || name == "" {
		return extract.UnknownFile
	}
	return name
}

func logAttachments(logger log.FieldLogger, where string, atts []models.Attachment) {
	if len(atts) == 0 {
		logger.Debugf("No attachments found in %s", where)
		return
	}
	logger.Infof("Found %d attachment(s) in %s:", len(atts), where)
	for i, a := range atts {
		dims := ""
		if a.Dimensions != nil {
			dims = " [" + manifest.FormatDimensions(a.Dimensions) + "]"
		}
		logger.Infof("  %d. %s (%s%s)", i+1, a.Filename, a.FileType, dims)
	}
}

func logSummary(logger log.FieldLogger, issue *models.Issue, outputDir string) {
	summary := models.Summarize(issue.Downloads)
	commentAtts := issue.AttachmentCount() - len(issue.Attachments)

	logger.Info("SUCCESS: Issue data fetched and saved")
	logger.Infof("  Issue: #%d", issue.Number)
	logger.Infof("  Comments: %d", len(issue.Comments))
	logger.Infof("  Attachments in issue: %d", len(issue.Attachments))
	logger.Infof("  Attachments in comments: %d", commentAtts)
	logger.Infof("  Total attachments: %d", summary.Total)
	if summary.Total > 0 {
		logger.Infof("  Downloaded: %d", summary.Downloaded)
		logger.Infof("  Failed: %d", summary.Failed)
		logger.Infof("  Total size: %s", helpers.FormatFileSize(summary.TotalSizeBytes))
	}
	if summary.Failed > 0 {
		logger.Warnf("%d download(s) failed. Check logs above for details.", summary.Failed)
	}
	logger.Infof("Output: %s", outputDir)
}
