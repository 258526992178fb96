package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go-issue-mirror/internal/models"
	"go-issue-mirror/internal/retry"

	log "github.com/sirupsen/logrus"
)

const (
	GithubApiBaseUrl = "https://api.github.com"
	DefaultUserAgent = "go-issue-mirror"
	// full+json makes GitHub include body_html next to body
	AcceptFullJSON = "application/vnd.github.full+json"
	// MaxPerPage is the largest page size GitHub accepts.
	MaxPerPage = 100

	maxErrorBody = 2048
)

// AttachmentExtractor turns rendered HTML into attachment references.
type AttachmentExtractor interface {
	Extract(html string) []models.Attachment
}

// Client talks to the GitHub REST API. Every call goes through Retry.
type Client struct {
	Token      string
	HttpClient *http.Client
	Retry      retry.Policy

	baseURL   string
	userAgent string
	perPage   int
	logger    log.FieldLogger
}

// NewClient creates a new API client
func NewClient(token string, httpClient *http.Client, cfg models.Config, logger log.FieldLogger) *Client {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if httpClient == nil {
		timeout := time.Duration(cfg.ApiClientTimeoutSec) * time.Second
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	baseURL := strings.TrimSuffix(cfg.ApiBaseUrl, "/")
	if baseURL == "" {
		baseURL = GithubApiBaseUrl
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	perPage := cfg.PerPage
	if perPage <= 0 || perPage > MaxPerPage {
		perPage = MaxPerPage
	}

	policy := retry.DefaultPolicy(logger)
	if cfg.MaxRetries > 0 {
		policy.MaxAttempts = cfg.MaxRetries
	}
	if cfg.RetryBaseDelayMs > 0 {
		policy.BaseDelay = time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond
	}
	if cfg.RetryMultiplier > 0 {
		policy.Multiplier = cfg.RetryMultiplier
	}

	return &Client{
		Token:      strings.TrimSpace(token),
		HttpClient: httpClient,
		Retry:      policy,
		baseURL:    baseURL,
		userAgent:  userAgent,
		perPage:    perPage,
		logger:     logger,
	}
}

// GetIssue fetches one issue with its rendered body.
func (c *Client) GetIssue(ctx context.Context, repo string, number int) (*models.ApiIssue, error) {
	reqURL := fmt.Sprintf("%s/repos/%s/issues/%d", c.baseURL, repoPath(repo), number)
	op := fmt.Sprintf("issue #%d in %s", number, repo)

	c.logger.Infof("Fetching issue from: %s", reqURL)
	body, err := retry.DoValue(ctx, c.Retry, func(ctx context.Context) (response, error) {
		return c.get(ctx, op, reqURL, true)
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", op, err)
	}

	var issue models.ApiIssue
	if err := json.Unmarshal(body.data, &issue); err != nil {
		return nil, fmt.Errorf("invalid JSON response for %s: %w", op, err)
	}
	c.logger.WithField("issue", number).Infof("Successfully fetched issue #%d", number)
	return &issue, nil
}

// GetCommentsPage fetches one page of comments and reports whether the
// Link header announces a next page.
func (c *Client) GetCommentsPage(ctx context.Context, repo string, number int, page int) ([]models.ApiComment, bool, error) {
	values := url.Values{}
	values.Set("per_page", strconv.Itoa(c.perPage))
	values.Set("page", strconv.Itoa(page))
	reqURL := fmt.Sprintf("%s/repos/%s/issues/%d/comments?%s", c.baseURL, repoPath(repo), number, values.Encode())
	op := fmt.Sprintf("comments page %d of issue #%d", page, number)

	resp, err := retry.DoValue(ctx, c.Retry, func(ctx context.Context) (response, error) {
		return c.get(ctx, op, reqURL, true)
	})
	if err != nil {
		return nil, false, err
	}

	var comments []models.ApiComment
	if err := json.Unmarshal(resp.data, &comments); err != nil {
		return nil, false, fmt.Errorf("invalid JSON response for %s: %w", op, err)
	}
	return comments, hasNextPage(resp.header), nil
}

// GetAllComments walks every comment page in order. Attachments are
// extracted from each comment as it arrives. Any page failure discards the
// pages already fetched.
func (c *Client) GetAllComments(ctx context.Context, repo string, number int, extractor AttachmentExtractor) ([]models.Comment, error) {
	c.logger.WithField("issue", number).Infof("Fetching comments for issue #%d...", number)

	all := []models.Comment{}
	for page := 1; ; page++ {
		c.logger.WithField("page", page).Infof("Fetching comments page %d...", page)

		apiComments, hasNext, err := c.GetCommentsPage(ctx, repo, number, page)
		if err != nil {
			c.logger.WithError(err).WithField("page", page).Error("GitHub API error while fetching comments")
			return nil, fmt.Errorf("failed to fetch comments page %d: %w", page, err)
		}

		if len(apiComments) == 0 {
			c.logger.Infof("No more comments (page %d was empty)", page)
			break
		}

		for _, ac := range apiComments {
			comment := models.Comment{
				CommentID:   ac.ID,
				Author:      models.GhostUser,
				CreatedAt:   ac.CreatedAt,
				Body:        ac.Body,
				BodyHTML:    ac.BodyHTML,
				Attachments: []models.Attachment{},
			}
			if ac.User != nil && ac.User.Login != "" {
				comment.Author = ac.User.Login
			}
			if extractor != nil {
				comment.Attachments = extractor.Extract(ac.BodyHTML)
			}
			all = append(all, comment)
		}
		c.logger.Infof("Fetched %d comments from page %d", len(apiComments), page)

		if !hasNext {
			c.logger.Info("All comments fetched (no more pages)")
			break
		}
	}

	c.logger.Infof("Total comments fetched: %d", len(all))
	return all, nil
}

// ListIssues lists repository issues (pull requests excluded) following
// Link pagination until params.Limit is reached. Limit <= 0 means no limit.
func (c *Client) ListIssues(ctx context.Context, repo string, params models.IssueListParams) ([]models.ApiIssue, error) {
	values := url.Values{}
	values.Set("per_page", strconv.Itoa(c.perPage))
	if params.State != "" {
		values.Set("state", params.State)
	}
	if params.Labels != "" {
		values.Set("labels", params.Labels)
	}
	if params.Since != "" {
		values.Set("since", params.Since)
	}

	issues := []models.ApiIssue{}
	for page := 1; ; page++ {
		values.Set("page", strconv.Itoa(page))
		reqURL := fmt.Sprintf("%s/repos/%s/issues?%s", c.baseURL, repoPath(repo), values.Encode())
		op := fmt.Sprintf("issues page %d of %s", page, repo)

		resp, err := retry.DoValue(ctx, c.Retry, func(ctx context.Context) (response, error) {
			return c.get(ctx, op, reqURL, true)
		})
		if err != nil {
			return nil, fmt.Errorf("listing issues page %d: %w", page, err)
		}

		var pageIssues []models.ApiIssue
		if err := json.Unmarshal(resp.data, &pageIssues); err != nil {
			return nil, fmt.Errorf("invalid JSON response for %s: %w", op, err)
		}
		if len(pageIssues) == 0 {
			break
		}

		for _, issue := range pageIssues {
			if issue.PullRequest != nil {
				continue
			}
			issues = append(issues, issue)
			if params.Limit > 0 && len(issues) >= params.Limit {
				return issues, nil
			}
		}

		if !hasNextPage(resp.header) {
			break
		}
	}
	c.logger.WithField("repository", repo).Debugf("Listed %d issues", len(issues))
	return issues, nil
}

// FetchAttachment downloads an attachment body. The access token is part of
// the URL, so no Authorization header is sent.
func (c *Client) FetchAttachment(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := c.get(ctx, "attachment", rawURL, false)
	if err != nil {
		return nil, err
	}
	return resp.data, nil
}

type response struct {
	data   []byte
	header http.Header
}

// get performs exactly one GET. Retrying is the caller's business.
func (c *Client) get(ctx context.Context, op string, reqURL string, authenticated bool) (response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return response{}, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if authenticated {
		req.Header.Set("Accept", AcceptFullJSON)
		if c.Token != "" {
			req.Header.Set("Authorization", "Bearer "+c.Token)
		}
	}

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return response{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return response{}, &StatusError{
			Op:     op,
			Code:   resp.StatusCode,
			Status: resp.Status,
			Body:   strings.TrimSpace(string(errBody)),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, fmt.Errorf("reading response body: %w", err)
	}
	return response{data: data, header: resp.Header}, nil
}

func hasNextPage(h http.Header) bool {
	return strings.Contains(h.Get("Link"), `rel="next"`)
}

func repoPath(repo string) string {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok {
		return url.PathEscape(repo)
	}
	return url.PathEscape(owner) + "/" + url.PathEscape(name)
}
