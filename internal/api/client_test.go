package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go-issue-mirror/internal/models"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "ghp_testtoken1234567890"

type stubExtractor struct{}

func (stubExtractor) Extract(html string) []models.Attachment {
	if strings.Contains(html, "<img") {
		return []models.Attachment{{URL: "https://x/a.png", Filename: "a.png", FileType: "png", SourceTag: models.TagImg}}
	}
	return []models.Attachment{}
}

func newTestClient(t *testing.T, srv *httptest.Server) (*Client, *[]time.Duration) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	c := NewClient(testToken, srv.Client(), models.Config{ApiBaseUrl: srv.URL}, logger)
	var waits []time.Duration
	c.Retry.Sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return c, &waits
}

func writeComments(w http.ResponseWriter, start, n int) {
	comments := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		id := start + i
		comments = append(comments, map[string]any{
			"id":         id,
			"user":       map[string]string{"login": fmt.Sprintf("user%d", id)},
			"created_at": "2024-01-02T03:04:05Z",
			"body":       "text",
			"body_html":  "<p>text</p>",
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(comments)
}

func TestGetIssue_SendsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/octo/hello/issues/42", r.URL.Path)
		assert.Equal(t, "Bearer "+testToken, r.Header.Get("Authorization"))
		assert.Equal(t, AcceptFullJSON, r.Header.Get("Accept"))
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		fmt.Fprint(w, `{"id":7,"number":42,"title":"Crash","state":"open","user":{"login":"alice"},
			"labels":[{"name":"bug"}],"body":"b","body_html":"<p>b</p>","created_at":"2024-01-01T00:00:00Z"}`)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	issue, err := c.GetIssue(context.Background(), "octo/hello", 42)
	require.NoError(t, err)
	assert.Equal(t, 42, issue.Number)
	assert.Equal(t, "alice", issue.User.Login)
	require.Len(t, issue.Labels, 1)
	assert.Equal(t, "bug", issue.Labels[0].Name)
	require.NotNil(t, issue.BodyHTML)
	assert.Equal(t, "<p>b</p>", *issue.BodyHTML)
}

func TestGetIssue_NotFoundIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c, waits := newTestClient(t, srv)
	_, err := c.GetIssue(context.Background(), "octo/hello", 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Empty(t, *waits)
}

func TestGetIssue_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"number":3}`)
	}))
	defer srv.Close()

	c, waits := newTestClient(t, srv)
	issue, err := c.GetIssue(context.Background(), "octo/hello", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, issue.Number)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *waits)
}

func TestGetIssue_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `not json`)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	_, err := c.GetIssue(context.Background(), "octo/hello", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestGetAllComments_ThreePages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		switch page {
		case 1, 2:
			w.Header().Set("Link", fmt.Sprintf(`<%s?page=%d>; rel="next", <%s?page=3>; rel="last"`, r.URL.Path, page+1, r.URL.Path))
			writeComments(w, (page-1)*100+1, 100)
		case 3:
			writeComments(w, 201, 37)
		default:
			t.Errorf("unexpected page %d", page)
		}
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	comments, err := c.GetAllComments(context.Background(), "octo/hello", 9, stubExtractor{})
	require.NoError(t, err)
	require.Len(t, comments, 237)
	for i, cm := range comments {
		assert.Equal(t, int64(i+1), cm.CommentID)
	}
	assert.Equal(t, "user237", comments[236].Author)
	assert.NotNil(t, comments[0].Attachments)
}

func TestGetAllComments_RetriesOnlyTheFailingPage(t *testing.T) {
	var pageCalls [4]int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page < 1 || page > 3 {
			t.Errorf("unexpected page %d", page)
			return
		}
		n := atomic.AddInt32(&pageCalls[page], 1)
		switch page {
		case 1, 2:
			w.Header().Set("Link", fmt.Sprintf(`<%s?page=%d>; rel="next"`, r.URL.Path, page+1))
			writeComments(w, (page-1)*100+1, 100)
		case 3:
			if n == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			writeComments(w, 201, 37)
		}
	}))
	defer srv.Close()

	c, waits := newTestClient(t, srv)
	comments, err := c.GetAllComments(context.Background(), "octo/hello", 9, stubExtractor{})
	require.NoError(t, err)
	require.Len(t, comments, 237)
	for i, cm := range comments {
		assert.Equal(t, int64(i+1), cm.CommentID)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&pageCalls[1]))
	assert.Equal(t, int32(1), atomic.LoadInt32(&pageCalls[2]))
	assert.Equal(t, int32(2), atomic.LoadInt32(&pageCalls[3]))
	assert.Equal(t, []time.Duration{time.Second}, *waits)
}

func TestGetAllComments_StopsOnEmptyPage(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Link", `<x>; rel="next"`)
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	comments, err := c.GetAllComments(context.Background(), "octo/hello", 9, nil)
	require.NoError(t, err)
	assert.Empty(t, comments)
	assert.NotNil(t, comments)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGetAllComments_GhostAndExtraction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":1,"user":null,"body_html":"<img src=x>"},{"id":2,"user":{"login":"bob"},"body_html":""}]`)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	comments, err := c.GetAllComments(context.Background(), "octo/hello", 9, stubExtractor{})
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, models.GhostUser, comments[0].Author)
	assert.Len(t, comments[0].Attachments, 1)
	assert.Equal(t, "bob", comments[1].Author)
	assert.Empty(t, comments[1].Attachments)
}

func TestGetAllComments_PageFailureNamesPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "1" {
			w.Header().Set("Link", `<x>; rel="next"`)
			writeComments(w, 1, 100)
			return
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c, waits := newTestClient(t, srv)
	comments, err := c.GetAllComments(context.Background(), "octo/hello", 9, nil)
	require.Error(t, err)
	assert.Nil(t, comments)
	assert.Contains(t, err.Error(), "page 2")
	assert.True(t, errors.Is(err, ErrForbidden))
	assert.Empty(t, *waits)
}

func TestListIssues_SkipsPullRequestsAndHonoursLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "bug", q.Get("labels"))
		assert.Equal(t, "all", q.Get("state"))
		if q.Get("page") == "1" {
			w.Header().Set("Link", `<x>; rel="next"`)
			fmt.Fprint(w, `[{"number":1},{"number":2,"pull_request":{"url":"x"}},{"number":3}]`)
			return
		}
		fmt.Fprint(w, `[{"number":4},{"number":5}]`)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	issues, err := c.ListIssues(context.Background(), "octo/hello", models.IssueListParams{State: "all", Labels: "bug", Limit: 3})
	require.NoError(t, err)
	require.Len(t, issues, 3)
	assert.Equal(t, []int{1, 3, 4}, []int{issues[0].Number, issues[1].Number, issues[2].Number})

	all, err := c.ListIssues(context.Background(), "octo/hello", models.IssueListParams{State: "all", Labels: "bug"})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestFetchAttachment_NoAuthorization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		if r.URL.Path == "/missing.png" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		fmt.Fprint(w, "PNGDATA")
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	data, err := c.FetchAttachment(context.Background(), srv.URL+"/a.png?jwt=abc")
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(data))

	_, err = c.FetchAttachment(context.Background(), srv.URL+"/missing.png")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.StatusCode())
}

func TestLoggingTransport_RedactsSecrets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"number":1}`)
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	lt, err := NewLoggingTransport(fs, srv.Client().Transport, "/api.log")
	require.NoError(t, err)

	logger, _ := test.NewNullLogger()
	c := NewClient(testToken, &http.Client{Transport: lt}, models.Config{ApiBaseUrl: srv.URL}, logger)
	_, err = c.GetIssue(context.Background(), "octo/hello", 1)
	require.NoError(t, err)
	_, err = c.FetchAttachment(context.Background(), srv.URL+"/a.png?jwt=supersecret")
	require.NoError(t, err)
	require.NoError(t, lt.Close())

	data, err := afero.ReadFile(fs, "/api.log")
	require.NoError(t, err)
	out := string(data)
	assert.NotContains(t, out, testToken)
	assert.NotContains(t, out, "supersecret")
	assert.Contains(t, out, redacted)
	assert.Contains(t, out, `{"number":1}`)
}
