package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"

	"go-issue-mirror/internal/helpers"
	"go-issue-mirror/internal/models"

	"github.com/spf13/afero"
)

// BatchManifestFile sits at the root of a batch output directory.
const BatchManifestFile = "manifest.json"

// Valid issue states for listing.
var ValidStates = []string{"open", "closed", "all"}

// IssueLister lists repository issues. Implemented by api.Client.
type IssueLister interface {
	ListIssues(ctx context.Context, repo string, params models.IssueListParams) ([]models.ApiIssue, error)
}

// BatchParams select the issues to mirror.
type BatchParams struct {
	Repo      string
	Label     string
	State     string
	Limit     int
	OutputDir string
	Token     string
}

// BatchResult reports how each selected issue fared.
type BatchResult struct {
	Manifest  models.BatchManifest
	Succeeded []int
	Failed    map[int]error
}

// Progress is called before each issue is mirrored (i is 1-based).
type Progress func(i, total int, issue models.ApiIssue)

// RunBatch lists matching issues, mirrors each into <OutputDir>/<number>
// and writes manifest.json. An empty selection still produces a manifest.
// Individual failures are collected in the result, not returned.
func (f *Fetcher) RunBatch(ctx context.Context, lister IssueLister, p BatchParams, progress Progress) (*BatchResult, error) {
	if err := validateBatch(p); err != nil {
		return nil, err
	}
	logger := f.logger.WithField("repository", p.Repo)

	label := p.Label
	if label == "" {
		label = "any"
	}
	logger.Infof("Fetching issues from %s (label: %s, state: %s, limit: %d)", p.Repo, label, p.State, p.Limit)

	issues, err := lister.ListIssues(ctx, p.Repo, models.IssueListParams{State: p.State, Labels: p.Label, Limit: p.Limit})
	if err != nil {
		return nil, err
	}

	if err := helpers.CheckAndMakeDir(f.fs, p.OutputDir); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileSystem, err)
	}

	result := &BatchResult{
		Manifest:  NewBatchManifest(issues),
		Succeeded: []int{},
		Failed:    map[int]error{},
	}
	if len(issues) == 0 {
		logger.Info("No issues found matching criteria")
	} else {
		logger.Infof("Found %d issues", len(issues))
	}

	for i, issue := range issues {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if progress != nil {
			progress(i+1, len(issues), issue)
		}
		_, err := f.Run(ctx, Params{
			Repo:      p.Repo,
			Number:    issue.Number,
			OutputDir: filepath.Join(p.OutputDir, strconv.Itoa(issue.Number)),
			Token:     p.Token,
		})
		if err != nil {
			logger.WithError(err).Errorf("Issue #%d failed", issue.Number)
			result.Failed[issue.Number] = err
			continue
		}
		result.Succeeded = append(result.Succeeded, issue.Number)
	}

	if err := SaveBatchManifest(f.fs, p.OutputDir, result.Manifest); err != nil {
		return nil, err
	}
	logger.Infof("Batch complete: %d succeeded, %d failed", len(result.Succeeded), len(result.Failed))
	return result, nil
}

// NewBatchManifest summarises the selected issues. data_dir is relative to
// the batch output directory.
func NewBatchManifest(issues []models.ApiIssue) models.BatchManifest {
	m := models.BatchManifest{
		TotalIssues: len(issues),
		Issues:      make([]models.BatchManifestEntry, 0, len(issues)),
	}
	for _, issue := range issues {
		labels := make([]string, 0, len(issue.Labels))
		for _, l := range issue.Labels {
			labels = append(labels, l.Name)
		}
		m.Issues = append(m.Issues, models.BatchManifestEntry{
			Number:    issue.Number,
			Title:     issue.Title,
			State:     issue.State,
			Labels:    labels,
			CreatedAt: issue.CreatedAt,
			UpdatedAt: issue.UpdatedAt,
			DataDir:   strconv.Itoa(issue.Number),
		})
	}
	return m
}

// SaveBatchManifest writes manifest.json as indented JSON.
func SaveBatchManifest(fs afero.Fs, outputDir string, m models.BatchManifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling batch manifest: %w", err)
	}
	path := filepath.Join(outputDir, BatchManifestFile)
	if err := afero.WriteFile(fs, path, data, 0644); err != nil {
		return fmt.Errorf("%w: saving %s: %w", ErrFileSystem, path, err)
	}
	return nil
}

func validateBatch(p BatchParams) error {
	// number and output dir are checked per issue; reuse the shared rules
	if err := Validate(Params{Repo: p.Repo, Number: 1, OutputDir: p.OutputDir, Token: p.Token}); err != nil {
		return err
	}
	valid := false
	for _, s := range ValidStates {
		if p.State == s {
			valid = true
		}
	}
	if !valid {
		return fmt.Errorf("%w: state must be one of open, closed, all: %q", ErrInvalidArgument, p.State)
	}
	if p.Limit <= 0 {
		return fmt.Errorf("%w: limit must be positive: %d", ErrInvalidArgument, p.Limit)
	}
	return nil
}
