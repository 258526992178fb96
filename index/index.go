package index

import (
	"fmt"
	"os"
	"strconv"

	"go-issue-mirror/internal/models"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
)

const defaultIndexPath = "issues.bleve"

// Item types
const (
	TypeIssue   = "issue"
	TypeComment = "comment"
)

// Item is one searchable document. Fields are queryable by their JSON tag
// names, e.g. '+author:alice' or '+labels:bug'.
type Item struct {
	ID          string   `json:"id"`   // issue_<repo>#<n> or comment_<repo>#<n>_<id>
	Type        string   `json:"type"` // issue | comment
	Repository  string   `json:"repository"`
	Number      int      `json:"number"`
	Title       string   `json:"title,omitempty"`
	State       string   `json:"state,omitempty"`
	Author      string   `json:"author"`
	Labels      []string `json:"labels,omitempty"`
	Body        string   `json:"body"`
	CreatedAt   string   `json:"createdAt,omitempty"`
	OutputDir   string   `json:"outputDir,omitempty"`
	Attachments []string `json:"attachments,omitempty"` // filenames
	CommentID   int64    `json:"commentId,omitempty"`
}

// OpenOrCreateIndex opens an existing Bleve index or creates a new one if it doesn't exist.
func OpenOrCreateIndex(indexPath string) (bleve.Index, error) {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}

	index, err := bleve.Open(indexPath)
	if err == bleve.ErrorIndexPathDoesNotExist {
		log.Infof("Creating new index at: %s", indexPath)
		index, err = bleve.New(indexPath, bleve.NewIndexMapping())
		if err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	} else {
		log.Debugf("Opened existing index at: %s", indexPath)
	}
	return index, nil
}

// ItemsForIssue flattens an issue into one item for the issue itself and
// one per comment.
func ItemsForIssue(issue *models.Issue, outputDir string) []Item {
	ref := issue.Repository + "#" + strconv.Itoa(issue.Number)
	items := make([]Item, 0, len(issue.Comments)+1)
	items = append(items, Item{
		ID:          "issue_" + ref,
		Type:        TypeIssue,
		Repository:  issue.Repository,
		Number:      issue.Number,
		Title:       issue.Title,
		State:       issue.State,
		Author:      issue.Author,
		Labels:      issue.Labels,
		Body:        issue.Body,
		CreatedAt:   issue.CreatedAt,
		OutputDir:   outputDir,
		Attachments: filenames(issue.Attachments),
	})
	for _, c := range issue.Comments {
		items = append(items, Item{
			ID:          fmt.Sprintf("comment_%s_%d", ref, c.CommentID),
			Type:        TypeComment,
			Repository:  issue.Repository,
			Number:      issue.Number,
			Title:       issue.Title,
			Author:      c.Author,
			Body:        c.Body,
			CreatedAt:   c.CreatedAt,
			OutputDir:   outputDir,
			Attachments: filenames(c.Attachments),
			CommentID:   c.CommentID,
		})
	}
	return items
}

// IndexIssue indexes an issue and all of its comments in one batch.
func IndexIssue(index bleve.Index, issue *models.Issue, outputDir string) error {
	batch := index.NewBatch()
	for _, item := range ItemsForIssue(issue, outputDir) {
		if err := batch.Index(item.ID, item); err != nil {
			return fmt.Errorf("indexing %s: %w", item.ID, err)
		}
	}
	return index.Batch(batch)
}

// SearchIndex performs a search query against the index.
func SearchIndex(index bleve.Index, query string, size int) (*bleve.SearchResult, error) {
	searchRequest := bleve.NewSearchRequest(bleve.NewQueryStringQuery(query))
	if size > 0 {
		searchRequest.Size = size
	}
	searchRequest.Fields = []string{"*"}
	return index.Search(searchRequest)
}

// DeleteIndex removes the index directory.
func DeleteIndex(indexPath string) error {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}
	log.Warnf("Deleting index at: %s", indexPath)
	return os.RemoveAll(indexPath)
}

func filenames(atts []models.Attachment) []string {
	if len(atts) == 0 {
		return nil
	}
	out := make([]string, 0, len(atts))
	for _, a := range atts {
		out = append(out, a.Filename)
	}
	return out
}

// Store adapts an open index to the pipeline's indexing hook.
type Store struct {
	Idx bleve.Index
}

// IndexIssue indexes issue and its comments.
func (s Store) IndexIssue(issue *models.Issue, outputDir string) error {
	return IndexIssue(s.Idx, issue, outputDir)
}
