// Package extract discovers attachment references in rendered issue HTML.
package extract

import (
	"errors"
	"io"
	"regexp"
	"strconv"
	"strings"

	"go-issue-mirror/internal/models"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// UnknownFile is used when no filename can be derived from a URL.
const UnknownFile = "unknown_file"

// UnknownType is used when a filename carries no extension.
const UnknownType = "unknown"

// DefaultAttachmentHosts are the GitHub asset hosts that serve uploaded
// issue attachments.
var DefaultAttachmentHosts = []string{
	"user-attachments.githubusercontent.com",
	"private-user-images.githubusercontent.com",
	"github-production-user-asset",
}

var (
	// hex/uuid-like segment with an extension, stopping at the query string
	assetNamePattern   = regexp.MustCompile(`/([a-f0-9-]+\.\w+)(?:\?|$)`)
	lastSegmentPattern = regexp.MustCompile(`/([^/?]+)(?:\?|$)`)
	extensionPattern   = regexp.MustCompile(`\.(\w+)$`)
)

// Extractor scans HTML for img/a tags pointing at allow-listed hosts.
type Extractor struct {
	hosts  []string
	logger log.FieldLogger
}

// NewExtractor creates an Extractor. An empty hosts list selects
// DefaultAttachmentHosts.
func NewExtractor(hosts []string, logger log.FieldLogger) *Extractor {
	if len(hosts) == 0 {
		hosts = DefaultAttachmentHosts
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Extractor{
		hosts:  append([]string(nil), hosts...),
		logger: logger,
	}
}

// Extract returns the attachments referenced by htmlContent in document
// order. It never fails: unreadable markup yields an empty slice and a
// warning.
func (e *Extractor) Extract(htmlContent string) []models.Attachment {
	if htmlContent == "" {
		return []models.Attachment{}
	}

	return e.extractFrom(strings.NewReader(htmlContent))
}

// extractFrom is Extract over a reader. The tokenizer tolerates any markup,
// so only a failing reader reaches the warning branch.
func (e *Extractor) extractFrom(r io.Reader) []models.Attachment {
	attachments, err := e.scan(r)
	if err != nil {
		e.logger.WithError(err).Warn("Failed to parse HTML content")
		return []models.Attachment{}
	}
	return attachments
}

func (e *Extractor) scan(r io.Reader) ([]models.Attachment, error) {
	attachments := []models.Attachment{}
	z := html.NewTokenizer(r)

	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return nil, err
			}
			return attachments, nil

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Img:
				attrs := attrMap(tok.Attr)
				src := attrs["src"]
				if !e.IsAttachmentURL(src) {
					continue
				}
				attachments = append(attachments, models.Attachment{
					URL:        src,
					Filename:   FilenameFromURL(src),
					FileType:   FileTypeFromURL(src),
					Dimensions: parseDimensions(attrs),
					SourceTag:  models.TagImg,
				})

			case atom.A:
				href := attrMap(tok.Attr)["href"]
				if !e.IsAttachmentURL(href) {
					continue
				}
				attachments = append(attachments, models.Attachment{
					URL:       href,
					Filename:  FilenameFromURL(href),
					FileType:  FileTypeFromURL(href),
					SourceTag: models.TagA,
				})
			}
		}
	}
}

// IsAttachmentURL reports whether rawURL contains one of the allow-listed
// host markers.
func (e *Extractor) IsAttachmentURL(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	for _, host := range e.hosts {
		if strings.Contains(rawURL, host) {
			return true
		}
	}
	return false
}

// FilenameFromURL derives a filename from the URL path. Query strings hold
// short-lived tokens and never end up in the result.
func FilenameFromURL(rawURL string) string {
	if m := assetNamePattern.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	if m := lastSegmentPattern.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	return UnknownFile
}

// FileTypeFromFilename returns the lowercased extension of filename, or
// "unknown".
func FileTypeFromFilename(filename string) string {
	if m := extensionPattern.FindStringSubmatch(filename); m != nil {
		return strings.ToLower(m[1])
	}
	return UnknownType
}

// FileTypeFromURL is FileTypeFromFilename applied to FilenameFromURL.
func FileTypeFromURL(rawURL string) string {
	return FileTypeFromFilename(FilenameFromURL(rawURL))
}

func attrMap(attrs []html.Attribute) map[string]string {
	m := make(map[string]string, len(attrs))
	for _, a := range attrs {
		// first occurrence wins, same as browsers
		if _, ok := m[a.Key]; !ok {
			m[a.Key] = a.Val
		}
	}
	return m
}

// parseDimensions keeps only the integer-valued width/height attributes.
func parseDimensions(attrs map[string]string) *models.Dimensions {
	width, height := attrs["width"], attrs["height"]
	if width == "" && height == "" {
		return nil
	}

	dims := &models.Dimensions{}
	if v, err := strconv.Atoi(strings.TrimSpace(width)); err == nil && width != "" {
		dims.Width = &v
	}
	if v, err := strconv.Atoi(strings.TrimSpace(height)); err == nil && height != "" {
		dims.Height = &v
	}
	if dims.Width == nil && dims.Height == nil {
		return nil
	}
	return dims
}
