package models

import "time"

type (
	Config struct {
		// Connection/Auth
		GithubToken string `toml:"GithubToken"`
		ApiBaseUrl  string `toml:"ApiBaseUrl"`
		UserAgent   string `toml:"UserAgent"`

		// Paths
		SavePath       string `toml:"SavePath"`
		DatabasePath   string `toml:"DatabasePath"`
		BleveIndexPath string `toml:"BleveIndexPath"`

		// API Behavior
		ApiClientTimeoutSec int `toml:"ApiClientTimeoutSec"`
		PerPage             int `toml:"PerPage"`
		MaxRetries          int `toml:"MaxRetries"`
		RetryBaseDelayMs    int `toml:"RetryBaseDelayMs"`
		RetryMultiplier     int `toml:"RetryMultiplier"`

		// Attachment discovery and download
		AttachmentHosts []string `toml:"AttachmentHosts"`
		Concurrency     int      `toml:"Concurrency"`
		RenderHTML      bool     `toml:"RenderHTML"`

		// Other
		LogApiRequests bool `toml:"LogApiRequests"`
	}

	// Dimensions holds the width/height declared on an img tag. Either side
	// may be missing when the markup only declared one of them.
	Dimensions struct {
		Width  *int `json:"width,omitempty"`
		Height *int `json:"height,omitempty"`
	}

	// Attachment is a reference to a remote file discovered in rendered HTML.
	Attachment struct {
		URL        string      `json:"url"`
		Filename   string      `json:"filename"`
		FileType   string      `json:"file_type"`
		Dimensions *Dimensions `json:"dimensions"`
		SourceTag  string      `json:"source_tag"`
	}

	Comment struct {
		CommentID   int64        `json:"comment_id"`
		Author      string       `json:"author"`
		CreatedAt   string       `json:"created_at"`
		Body        string       `json:"body"`
		BodyHTML    string       `json:"body_html"`
		Attachments []Attachment `json:"attachments"`
	}

	// DownloadRecord is the outcome of one attachment download attempt.
	DownloadRecord struct {
		Source        string `json:"source"`
		SourceID      int64  `json:"source_id"`
		SourceURL     string `json:"source_url"`
		FileType      string `json:"file_type"`
		FileSize      string `json:"file_size"`
		FileSizeBytes int64  `json:"file_size_bytes"`
		FileLocation  string `json:"file_location"`
		Filename      string `json:"filename"`
		Blake3        string `json:"blake3,omitempty"`
		Success       bool   `json:"success"`
		Error         string `json:"error,omitempty"`
	}

	// Issue is the root aggregate persisted as issue.json.
	Issue struct {
		Repository  string           `json:"repository"`
		ID          int64            `json:"id"`
		Number      int              `json:"number"`
		Title       string           `json:"title"`
		State       string           `json:"state"`
		Author      string           `json:"author"`
		CreatedAt   string           `json:"created_at"`
		UpdatedAt   string           `json:"updated_at"`
		Labels      []string         `json:"labels"`
		HTMLURL     string           `json:"html_url,omitempty"`
		Body        string           `json:"body"`
		BodyHTML    string           `json:"body_html"`
		Attachments []Attachment     `json:"attachments"`
		Comments    []Comment        `json:"comments"`
		Downloads   []DownloadRecord `json:"download_metadata"`
	}

	// --- GitHub REST payloads ---

	ApiUser struct {
		Login string `json:"login"`
	}

	ApiLabel struct {
		Name string `json:"name"`
	}

	ApiIssue struct {
		ID          int64           `json:"id"`
		Number      int             `json:"number"`
		Title       string          `json:"title"`
		State       string          `json:"state"`
		User        *ApiUser        `json:"user"`
		CreatedAt   string          `json:"created_at"`
		UpdatedAt   string          `json:"updated_at"`
		ClosedAt    *string         `json:"closed_at"`
		Labels      []ApiLabel      `json:"labels"`
		HTMLURL     string          `json:"html_url"`
		Body        *string         `json:"body"`
		BodyHTML    *string         `json:"body_html"`
		PullRequest *map[string]any `json:"pull_request,omitempty"`
	}

	ApiComment struct {
		ID        int64    `json:"id"`
		User      *ApiUser `json:"user"`
		CreatedAt string   `json:"created_at"`
		Body      string   `json:"body"`
		BodyHTML  string   `json:"body_html"`
	}

	// IssueListParams filters the repository issue listing.
	IssueListParams struct {
		State  string
		Labels string
		Since  string
		Limit  int
	}

	// --- Batch manifest (manifest.json) ---

	BatchManifest struct {
		TotalIssues int                  `json:"total_issues"`
		Issues      []BatchManifestEntry `json:"issues"`
	}

	BatchManifestEntry struct {
		Number    int      `json:"number"`
		Title     string   `json:"title"`
		State     string   `json:"state"`
		Labels    []string `json:"labels"`
		CreatedAt string   `json:"created_at"`
		UpdatedAt string   `json:"updated_at"`
		DataDir   string   `json:"data_dir"`
	}

	// Internal history db entry for each mirrored issue
	HistoryEntry struct {
		Repository     string    `json:"repository"`
		Number         int       `json:"number"`
		Title          string    `json:"title"`
		State          string    `json:"state"`
		OutputDir      string    `json:"outputDir"`
		Comments       int       `json:"comments"`
		Attachments    int       `json:"attachments"`
		Downloaded     int       `json:"downloaded"`
		Failed         int       `json:"failed"`
		TotalSizeBytes int64     `json:"totalSizeBytes"`
		RunID          string    `json:"runId"`
		FetchedAt      time.Time `json:"fetchedAt"`
		Status         string    `json:"status"`
		ErrorDetails   string    `json:"errorDetails,omitempty"`
	}
)

// Download sources
const (
	SourceIssue   = "issue"
	SourceComment = "comment"
)

// Tags that can produce an Attachment
const (
	TagImg = "img"
	TagA   = "a"
)

// GhostUser is reported as the author when the account was deleted.
const GhostUser = "ghost"

// History Status Constants
const (
	StatusComplete = "Complete"
	StatusPartial  = "Partial"
	StatusError    = "Error"
)

// DownloadSummary aggregates the outcome of a batch of DownloadRecords.
type DownloadSummary struct {
	Total          int
	Downloaded     int
	Failed         int
	TotalSizeBytes int64
}

// Summarize folds records into a DownloadSummary.
func Summarize(records []DownloadRecord) DownloadSummary {
	s := DownloadSummary{Total: len(records)}
	for _, r := range records {
		if r.Success {
			s.Downloaded++
			s.TotalSizeBytes += r.FileSizeBytes
		} else {
			s.Failed++
		}
	}
	return s
}

// AttachmentCount returns the number of attachments discovered in the issue
// body and all comments.
func (i *Issue) AttachmentCount() int {
	n := len(i.Attachments)
	for _, c := range i.Comments {
		n += len(c.Attachments)
	}
	return n
}

// --- Issue statistics (stats.json) ---

type (
	IssueStats struct {
		Repository      string          `json:"repository"`
		Timestamp       string          `json:"timestamp"`
		OpenIssues      OpenIssueStats  `json:"open_issues"`
		ClosedLast7Days ClosedStats     `json:"closed_last_7_days"`
		Issues          IssueStatsLists `json:"issues"`
	}

	OpenIssueStats struct {
		Total                int            `json:"total"`
		ByPriority           map[string]int `json:"by_priority"`
		ByAge                map[string]int `json:"by_age"`
		ByArea               map[string]int `json:"by_area"`
		WithBugLabel         int            `json:"with_bug_label"`
		WithEnhancementLabel int            `json:"with_enhancement_label"`
	}

	ClosedStats struct {
		Total                   int     `json:"total"`
		AverageTimeToCloseHours float64 `json:"average_time_to_close_hours"`
	}

	IssueStatsLists struct {
		Open           []OpenIssueSummary   `json:"open"`
		RecentlyClosed []ClosedIssueSummary `json:"recently_closed"`
	}

	OpenIssueSummary struct {
		Number    int      `json:"number"`
		Title     string   `json:"title"`
		URL       string   `json:"url"`
		CreatedAt string   `json:"created_at"`
		AgeDays   int      `json:"age_days"`
		Priority  string   `json:"priority"`
		Labels    []string `json:"labels"`
	}

	ClosedIssueSummary struct {
		Number           int     `json:"number"`
		Title            string  `json:"title"`
		URL              string  `json:"url"`
		ClosedAt         string  `json:"closed_at"`
		TimeToCloseHours float64 `json:"time_to_close_hours"`
	}
)
