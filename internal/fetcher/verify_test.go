package fetcher

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify(t *testing.T) {
	srv := fakeGitHub(t)
	fs := afero.NewMemMapFs()
	f, _ := newTestFetcher(t, srv, fs, Options{})
	_, err := f.Run(context.Background(), Params{Repo: "octo/hello", Number: 42, OutputDir: "/out", Token: token})
	require.NoError(t, err)

	report, err := Verify(fs, "/out")
	require.NoError(t, err)
	assert.True(t, report.Clean())
	assert.Equal(t, 2, report.OK)
	assert.Equal(t, 1, report.Skipped, "failed download is not checked")
	require.Len(t, report.Results, 3)
	assert.Equal(t, VerifySkipped, report.Results[1].Status)

	require.NoError(t, afero.WriteFile(fs, "/out/attachments/issue/aaaa-1111.png", []byte("tampered"), 0644))
	require.NoError(t, fs.Remove("/out/attachments/comments/7001/cccc.log"))

	report, err = Verify(fs, "/out")
	require.NoError(t, err)
	assert.False(t, report.Clean())
	assert.Equal(t, VerifyMismatch, report.Results[0].Status)
	assert.Equal(t, VerifyMissing, report.Results[2].Status)
	assert.Equal(t, 1, report.Mismatch)
	assert.Equal(t, 1, report.Missing)
}

func TestVerify_MovedMirror(t *testing.T) {
	srv := fakeGitHub(t)
	fs := afero.NewMemMapFs()
	f, _ := newTestFetcher(t, srv, fs, Options{})
	_, err := f.Run(context.Background(), Params{Repo: "octo/hello", Number: 42, OutputDir: "/out", Token: token})
	require.NoError(t, err)

	// Simulate a mirror copied from another machine.
	issue, err := LoadIssue(fs, "/out")
	require.NoError(t, err)
	for i := range issue.Downloads {
		issue.Downloads[i].FileLocation = "/elsewhere/" + issue.Downloads[i].Filename
	}
	require.NoError(t, SaveIssue(fs, "/out", issue))

	report, err := Verify(fs, "/out")
	require.NoError(t, err)
	assert.True(t, report.Clean())
	assert.Equal(t, "/out/attachments/issue/aaaa-1111.png", report.Results[0].Path)
}

func TestVerify_NoIssueFile(t *testing.T) {
	_, err := Verify(afero.NewMemMapFs(), "/nothing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFileSystem)
}
