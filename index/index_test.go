package index

import (
	"path/filepath"
	"testing"

	"go-issue-mirror/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIssue() *models.Issue {
	return &models.Issue{
		Repository: "octo/hello",
		Number:     7,
		Title:      "Renderer crashes on startup",
		State:      "open",
		Author:     "alice",
		Labels:     []string{"bug"},
		Body:       "The renderer segfaults immediately.",
		Attachments: []models.Attachment{
			{Filename: "trace.txt"},
		},
		Comments: []models.Comment{
			{CommentID: 11, Author: "bob", Body: "Reproduced on linux with wayland."},
			{CommentID: 12, Author: "carol", Body: "Fixed by reverting the shader cache."},
		},
	}
}

func TestItemsForIssue(t *testing.T) {
	items := ItemsForIssue(testIssue(), "/out/7")
	require.Len(t, items, 3)
	assert.Equal(t, "issue_octo/hello#7", items[0].ID)
	assert.Equal(t, TypeIssue, items[0].Type)
	assert.Equal(t, []string{"trace.txt"}, items[0].Attachments)
	assert.Equal(t, "comment_octo/hello#7_11", items[1].ID)
	assert.Equal(t, TypeComment, items[1].Type)
	assert.Equal(t, int64(12), items[2].CommentID)
	assert.Nil(t, items[1].Attachments)
}

func TestIndexAndSearch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.bleve")
	idx, err := OpenOrCreateIndex(path)
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, IndexIssue(idx, testIssue(), "/out/7"))

	res, err := SearchIndex(idx, "wayland", 10)
	require.NoError(t, err)
	require.Equal(t, uint64(1), res.Total)
	assert.Equal(t, "comment_octo/hello#7_11", res.Hits[0].ID)

	res, err = SearchIndex(idx, "+type:issue +author:alice", 10)
	require.NoError(t, err)
	require.Equal(t, uint64(1), res.Total)
	assert.Equal(t, "issue_octo/hello#7", res.Hits[0].ID)

	// re-indexing replaces documents instead of duplicating them
	require.NoError(t, IndexIssue(idx, testIssue(), "/out/7"))
	count, err := idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)
}

func TestDeleteIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gone.bleve")
	idx, err := OpenOrCreateIndex(path)
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	require.NoError(t, DeleteIndex(path))
	assert.NoDirExists(t, path)
}
