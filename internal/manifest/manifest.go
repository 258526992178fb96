// Package manifest renders a mirrored issue as a Markdown report meant to be
// read by people and language models alike.
package manifest

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go-issue-mirror/internal/helpers"
	"go-issue-mirror/internal/models"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const (
	DefaultGenerator = "go-issue-mirror"
	dateLayout       = "January 02, 2006 at 03:04 PM UTC"
	notAvailable     = "N/A"
)

// Options control the non-content parts of the report.
type Options struct {
	// GeneratedBy names the tool in the footer.
	GeneratedBy string
	// GeneratedAt is printed in the footer. Zero means the issue's
	// updated_at, which keeps the output a function of the issue alone.
	GeneratedAt time.Time
}

// Generate builds the Markdown manifest for issue. Output depends only on
// issue and opts.
func Generate(issue *models.Issue, opts Options) string {
	if opts.GeneratedBy == "" {
		opts.GeneratedBy = DefaultGenerator
	}

	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	author := issue.Author
	if author == "" {
		author = notAvailable
	}

	line("# Issue #%d: %s", issue.Number, orDefault(issue.Title, notAvailable))
	line("")
	line("## Issue Metadata")
	line("")
	line("- **Repository:** %s", issue.Repository)
	line("- **Issue Number:** #%d", issue.Number)
	line("- **State:** %s", orDefault(issue.State, notAvailable))
	line("- **Created:** %s", FormatDateTime(issue.CreatedAt))
	line("- **Updated:** %s", FormatDateTime(issue.UpdatedAt))
	line("- **Author:** @%s", author)
	if len(issue.Labels) > 0 {
		line("- **Labels:** %s", strings.Join(issue.Labels, ", "))
	} else {
		line("- **Labels:** None")
	}
	line("")

	line("## Issue Body")
	line("")
	line("%s", orDefault(issue.Body, "*No description provided*"))
	line("")

	issueRecords := recordsFor(issue.Downloads, models.SourceIssue, int64(issue.Number))
	if len(issueRecords) > 0 {
		line("## Issue Attachments")
		line("")
		line("| File | Type | Size | Dimensions | Uploaded By | Location |")
		line("|------|------|------|------------|-------------|----------|")
		for _, r := range issueRecords {
			line("| %s | %s | %s | %s | @%s | `%s` |",
				cell(r.Filename), cell(r.FileType), r.FileSize,
				lookupDimensions(issue.Attachments, r.Filename), author, r.FileLocation)
		}
		line("")
	}

	if len(issue.Comments) > 0 {
		line("## Comments (%d)", len(issue.Comments))
		line("")
		for i, c := range issue.Comments {
			line("### Comment #%d", i+1)
			line("")
			line("- **Author:** @%s", orDefault(c.Author, models.GhostUser))
			line("- **Posted:** %s", FormatDateTime(c.CreatedAt))
			line("- **Comment ID:** %d", c.CommentID)
			line("")
			line("**Content:**")
			line("")
			line("%s", orDefault(c.Body, "*No content*"))
			line("")

			records := recordsFor(issue.Downloads, models.SourceComment, c.CommentID)
			if len(records) > 0 {
				line("**Attachments:**")
				line("")
				line("| File | Type | Size | Dimensions | Location |")
				line("|------|------|------|------------|----------|")
				for _, r := range records {
					line("| %s | %s | %s | %s | `%s` |",
						cell(r.Filename), cell(r.FileType), r.FileSize,
						lookupDimensions(c.Attachments, r.Filename), r.FileLocation)
				}
				line("")
			}

			line("---")
			line("")
		}
	}

	summary := models.Summarize(issue.Downloads)
	line("## Summary")
	line("")
	line("- **Total Comments:** %d", len(issue.Comments))
	line("- **Total Attachments:** %d", summary.Total)
	line("- **Successfully Downloaded:** %d", summary.Downloaded)
	if summary.Failed > 0 {
		line("- **Failed Downloads:** %d", summary.Failed)
	}
	if types := fileTypeSummary(issue.Downloads); types != "" {
		line("- **File Types:** %s", types)
	}
	line("- **Total Size:** %s", helpers.FormatFileSize(summary.TotalSizeBytes))
	line("")

	line("---")
	line("")
	generatedAt := FormatDateTime(issue.UpdatedAt)
	if !opts.GeneratedAt.IsZero() {
		generatedAt = opts.GeneratedAt.UTC().Format(dateLayout)
	}
	b.WriteString(fmt.Sprintf("*Generated by %s on %s*", opts.GeneratedBy, generatedAt))

	return b.String()
}

// RenderHTML converts a generated manifest to HTML with GitHub-flavoured
// tables. Raw HTML inside issue bodies is omitted.
func RenderHTML(markdown []byte) ([]byte, error) {
	var buf bytes.Buffer
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := md.Convert(markdown, &buf); err != nil {
		return nil, fmt.Errorf("rendering manifest HTML: %w", err)
	}
	return buf.Bytes(), nil
}

// FormatDateTime renders an RFC 3339 timestamp in UTC, or returns the input
// unchanged when it does not parse.
func FormatDateTime(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return t.UTC().Format(dateLayout)
}

// FormatDimensions renders "WxH", with "?" for a missing side.
func FormatDimensions(d *models.Dimensions) string {
	if d == nil || (d.Width == nil && d.Height == nil) {
		return notAvailable
	}
	side := func(v *int) string {
		if v == nil {
			return "?"
		}
		return strconv.Itoa(*v)
	}
	return side(d.Width) + "x" + side(d.Height)
}

// lookupDimensions finds the attachment a record came from by filename. An
// img and an a tag may share a filename, so one with dimensions wins.
func lookupDimensions(attachments []models.Attachment, filename string) string {
	for _, a := range attachments {
		if a.Filename == filename && a.Dimensions != nil {
			return FormatDimensions(a.Dimensions)
		}
	}
	return notAvailable
}

func recordsFor(records []models.DownloadRecord, source string, id int64) []models.DownloadRecord {
	var out []models.DownloadRecord
	for _, r := range records {
		if r.Source == source && r.SourceID == id {
			out = append(out, r)
		}
	}
	return out
}

// fileTypeSummary counts successful downloads per type, sorted by type.
func fileTypeSummary(records []models.DownloadRecord) string {
	counts := map[string]int{}
	for _, r := range records {
		if r.Success {
			counts[r.FileType]++
		}
	}
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)

	parts := make([]string, 0, len(types))
	for _, t := range types {
		parts = append(parts, fmt.Sprintf("%d %s", counts[t], t))
	}
	return strings.Join(parts, ", ")
}

func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
