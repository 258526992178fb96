package fetcher

import (
	"os"

	"go-issue-mirror/internal/helpers"

	"github.com/spf13/afero"
)

// Verification outcomes
const (
	VerifyOK       = "ok"
	VerifyMissing  = "missing"
	VerifyMismatch = "mismatch"
	VerifySkipped  = "skipped"
)

// VerifyResult is the outcome for one download record.
type VerifyResult struct {
	Filename string
	Path     string
	Status   string
}

// VerifyReport summarises a mirror check.
type VerifyReport struct {
	Results  []VerifyResult
	OK       int
	Missing  int
	Mismatch int
	Skipped  int
}

// Clean reports whether every checked file is present and intact.
func (r *VerifyReport) Clean() bool {
	return r.Missing == 0 && r.Mismatch == 0
}

// Verify reloads issue.json from outputDir and re-hashes every successful
// download. Paths are resolved relative to outputDir so a moved mirror
// still verifies; failed downloads and records without a hash are skipped.
func Verify(fs afero.Fs, outputDir string) (*VerifyReport, error) {
	issue, err := LoadIssue(fs, outputDir)
	if err != nil {
		return nil, err
	}

	jobs := BuildJobs(issue, outputDir)
	report := &VerifyReport{Results: make([]VerifyResult, 0, len(issue.Downloads))}
	for i, rec := range issue.Downloads {
		path := rec.FileLocation
		if len(jobs) == len(issue.Downloads) {
			path = jobs[i].DestPath
		}
		res := VerifyResult{Filename: rec.Filename, Path: path}

		switch {
		case !rec.Success || rec.Blake3 == "":
			res.Status = VerifySkipped
			report.Skipped++
		case !exists(fs, path):
			res.Status = VerifyMissing
			report.Missing++
		case !helpers.CheckHash(fs, path, rec.Blake3):
			res.Status = VerifyMismatch
			report.Mismatch++
		default:
			res.Status = VerifyOK
			report.OK++
		}
		report.Results = append(report.Results, res)
	}
	return report, nil
}

func exists(fs afero.Fs, path string) bool {
	_, err := fs.Stat(path)
	return err == nil || !os.IsNotExist(err)
}
