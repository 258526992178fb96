package extract

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"testing/iotest"

	"go-issue-mirror/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	imgURL = "https://private-user-images.githubusercontent.com/1234/0a1b2c3d-4e5f-6789-abcd-ef0123456789.png?jwt=eyJhbGciOi.abc"
	zipURL = "https://github.com/user-attachments/files/17/logs.zip"
	uaURL  = "https://user-attachments.githubusercontent.com/assets/deadbeef-0000.MP4"
)

func newTestExtractor() *Extractor {
	logger, _ := test.NewNullLogger()
	return NewExtractor(nil, logger)
}

func TestExtract_DocumentOrderAndTags(t *testing.T) {
	e := newTestExtractor()
	body := fmt.Sprintf(`<p>Steps</p>
<a href="%[1]s"><img src="%[1]s" width="800" height="600" alt="shot"></a>
<p><a href="https://example.com/docs">docs</a></p>
<video src="%[2]s"></video>
<a href="%[2]s">video</a>`, imgURL, uaURL)

	got := e.Extract(body)
	require.Len(t, got, 3)

	assert.Equal(t, models.TagA, got[0].SourceTag)
	assert.Nil(t, got[0].Dimensions)

	assert.Equal(t, models.TagImg, got[1].SourceTag)
	assert.Equal(t, "0a1b2c3d-4e5f-6789-abcd-ef0123456789.png", got[1].Filename)
	assert.Equal(t, "png", got[1].FileType)
	require.NotNil(t, got[1].Dimensions)
	assert.Equal(t, 800, *got[1].Dimensions.Width)
	assert.Equal(t, 600, *got[1].Dimensions.Height)

	assert.Equal(t, models.TagA, got[2].SourceTag)
	assert.Equal(t, "deadbeef-0000.MP4", got[2].Filename)
	assert.Equal(t, "mp4", got[2].FileType)
}

func TestExtract_CountMatchesQualifyingTags(t *testing.T) {
	e := newTestExtractor()
	var b strings.Builder
	for i := 0; i < 25; i++ {
		fmt.Fprintf(&b, `<img src="https://user-attachments.githubusercontent.com/assets/%04x.png">`, i)
		fmt.Fprintf(&b, `<img src="https://avatars.githubusercontent.com/u/%d">`, i)
	}

	got := e.Extract(b.String())
	require.Len(t, got, 25)
	for i, att := range got {
		assert.Equal(t, fmt.Sprintf("%04x.png", i), att.Filename)
	}
}

func TestExtract_IgnoresHostsOutsideAllowList(t *testing.T) {
	e := newTestExtractor()
	body := `<img src="https://example.com/a.png"><a href="https://evil.test/b.zip">b</a><img alt="no src">`
	assert.Empty(t, e.Extract(body))
}

func TestExtract_CustomAllowList(t *testing.T) {
	logger, _ := test.NewNullLogger()
	e := NewExtractor([]string{"assets.example.com"}, logger)

	got := e.Extract(`<img src="https://assets.example.com/x/abc.gif"><img src="` + imgURL + `">`)
	require.Len(t, got, 1)
	assert.Equal(t, "abc.gif", got[0].Filename)
}

func TestExtract_EmptyAndMalformed(t *testing.T) {
	e := newTestExtractor()

	assert.Empty(t, e.Extract(""))
	assert.NotNil(t, e.Extract(""))

	got := e.Extract(`<div><img src="` + imgURL + `" width="12"<<<a href=`)
	assert.NotNil(t, got)
}

func TestExtract_ReadFailureWarnsAndReturnsEmpty(t *testing.T) {
	logger, hook := test.NewNullLogger()
	e := NewExtractor(nil, logger)

	got := e.extractFrom(iotest.ErrReader(errors.New("connection reset")))
	assert.NotNil(t, got)
	assert.Empty(t, got)

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "Failed to parse HTML content", hook.LastEntry().Message)
	assert.EqualError(t, hook.LastEntry().Data[logrus.ErrorKey].(error), "connection reset")
}

func TestExtract_Dimensions(t *testing.T) {
	e := newTestExtractor()

	tests := []struct {
		name       string
		attrs      string
		wantNil    bool
		wantWidth  *int
		wantHeight *int
	}{
		{"both", `width="800" height="600"`, false, intPtr(800), intPtr(600)},
		{"width only", `width="800"`, false, intPtr(800), nil},
		{"height only", `height="30"`, false, nil, intPtr(30)},
		{"none", ``, true, nil, nil},
		{"non numeric dropped", `width="auto" height="600"`, false, nil, intPtr(600)},
		{"all non numeric", `width="100%" height="auto"`, true, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Extract(`<img src="` + imgURL + `" ` + tt.attrs + `>`)
			require.Len(t, got, 1)
			dims := got[0].Dimensions
			if tt.wantNil {
				assert.Nil(t, dims)
				return
			}
			require.NotNil(t, dims)
			assert.Equal(t, tt.wantWidth, dims.Width)
			assert.Equal(t, tt.wantHeight, dims.Height)
		})
	}
}

func TestExtract_LinkNeverHasDimensions(t *testing.T) {
	e := newTestExtractor()
	got := e.Extract(`<a href="` + imgURL + `" width="10" height="10">x</a>`)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Dimensions)
}

func TestExtract_UnescapesAttributeEntities(t *testing.T) {
	e := newTestExtractor()
	got := e.Extract(`<img src="https://private-user-images.githubusercontent.com/1/abc-123.png?jwt=a&amp;x=1">`)
	require.Len(t, got, 1)
	assert.Equal(t, "https://private-user-images.githubusercontent.com/1/abc-123.png?jwt=a&x=1", got[0].URL)
}

func TestFilenameFromURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"uuid with token", imgURL, "0a1b2c3d-4e5f-6789-abcd-ef0123456789.png"},
		{"fallback last segment", zipURL, "logs.zip"},
		{"fallback with query", "https://github-production-user-asset-6210df.s3.amazonaws.com/1/Report%20Final.pdf?X-Amz=1", "Report%20Final.pdf"},
		{"no extension", "https://user-attachments.githubusercontent.com/assets/abcdef", "abcdef"},
		{"trailing slash", "https://user-attachments.githubusercontent.com/", UnknownFile},
		{"empty", "", UnknownFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilenameFromURL(tt.url))
		})
	}
}

func TestFilenameFromURL_IgnoresQueryVariation(t *testing.T) {
	a := FilenameFromURL("https://private-user-images.githubusercontent.com/9/abc123-def.png?token=X")
	b := FilenameFromURL("https://private-user-images.githubusercontent.com/9/abc123-def.png?token=Y")
	assert.Equal(t, "abc123-def.png", a)
	assert.Equal(t, a, b)
}

func TestFileTypeFromFilename(t *testing.T) {
	assert.Equal(t, "png", FileTypeFromFilename("a.PNG"))
	assert.Equal(t, "gz", FileTypeFromFilename("logs.tar.gz"))
	assert.Equal(t, UnknownType, FileTypeFromFilename("README"))
	assert.Equal(t, UnknownType, FileTypeFromFilename(UnknownFile))
}

func intPtr(v int) *int { return &v }
