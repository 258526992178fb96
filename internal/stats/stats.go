package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"go-issue-mirror/internal/helpers"
	"go-issue-mirror/internal/models"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

const StatsFile = "stats.json"

// Priorities, highest first.
const (
	PriorityCritical      = "critical"
	PriorityHigh          = "high"
	PriorityMedium        = "medium"
	PriorityLow           = "low"
	PriorityUnprioritized = "unprioritized"
)

// Age buckets
const (
	AgeNew     = "new"     // < 1 day
	AgeRecent  = "recent"  // <= 7 days
	AgeActive  = "active"  // <= 30 days
	AgeStale   = "stale"   // <= 90 days
	AgeAncient = "ancient" // > 90 days
)

const (
	closedWindow = 7 * 24 * time.Hour
	areaPrefix   = "area:"
)

// Lister lists repository issues. Implemented by api.Client.
type Lister interface {
	ListIssues(ctx context.Context, repo string, params models.IssueListParams) ([]models.ApiIssue, error)
}

type Collector struct {
	lister Lister
	logger log.FieldLogger
	// Now is the reference clock for ages and the closed window.
	Now func() time.Time
}

func NewCollector(lister Lister, logger log.FieldLogger) *Collector {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Collector{lister: lister, logger: logger, Now: time.Now}
}

// Collect gathers open issue statistics and the issues closed in the last
// seven days. Pull requests are never counted.
func (c *Collector) Collect(ctx context.Context, repo string) (*models.IssueStats, error) {
	now := c.Now().UTC()
	weekAgo := now.Add(-closedWindow)

	c.logger.Infof("Fetching open issues for %s...", repo)
	open, err := c.lister.ListIssues(ctx, repo, models.IssueListParams{State: "open"})
	if err != nil {
		return nil, fmt.Errorf("listing open issues: %w", err)
	}

	c.logger.Infof("Fetching issues closed since %s...", weekAgo.Format(time.RFC3339))
	closed, err := c.lister.ListIssues(ctx, repo, models.IssueListParams{State: "closed", Since: weekAgo.Format(time.RFC3339)})
	if err != nil {
		return nil, fmt.Errorf("listing closed issues: %w", err)
	}

	return Compute(repo, now, open, closed), nil
}

// Compute builds the statistics from already-listed issues.
//
// The listing's since filter matches issues updated in the window, so an
// issue closed long ago but touched this week comes back too. Compute only
// counts closed issues whose closed_at falls within the last seven days,
// so ClosedLast7Days can be smaller than a plain count of that listing.
func Compute(repo string, now time.Time, open, closed []models.ApiIssue) *models.IssueStats {
	s := &models.IssueStats{
		Repository: repo,
		Timestamp:  now.UTC().Format(time.RFC3339),
		OpenIssues: models.OpenIssueStats{
			ByPriority: map[string]int{
				PriorityCritical: 0, PriorityHigh: 0, PriorityMedium: 0, PriorityLow: 0, PriorityUnprioritized: 0,
			},
			ByAge: map[string]int{
				AgeNew: 0, AgeRecent: 0, AgeActive: 0, AgeStale: 0, AgeAncient: 0,
			},
			ByArea: map[string]int{},
		},
		Issues: models.IssueStatsLists{
			Open:           []models.OpenIssueSummary{},
			RecentlyClosed: []models.ClosedIssueSummary{},
		},
	}

	for _, issue := range open {
		if issue.PullRequest != nil {
			continue
		}
		labels := labelNames(issue.Labels)
		priority := Classify(labels)
		s.OpenIssues.Total++
		s.OpenIssues.ByPriority[priority]++

		ageDays := 0
		if created, err := time.Parse(time.RFC3339, issue.CreatedAt); err == nil {
			ageDays = int(now.Sub(created).Hours() / 24)
		}
		s.OpenIssues.ByAge[AgeBucket(ageDays)]++

		for _, l := range labels {
			name := strings.ToLower(l)
			if strings.HasPrefix(name, areaPrefix) {
				s.OpenIssues.ByArea[strings.TrimSpace(strings.TrimPrefix(name, areaPrefix))]++
			}
			switch name {
			case "bug":
				s.OpenIssues.WithBugLabel++
			case "enhancement":
				s.OpenIssues.WithEnhancementLabel++
			}
		}

		s.Issues.Open = append(s.Issues.Open, models.OpenIssueSummary{
			Number:    issue.Number,
			Title:     issue.Title,
			URL:       issue.HTMLURL,
			CreatedAt: issue.CreatedAt,
			AgeDays:   ageDays,
			Priority:  priority,
			Labels:    labels,
		})
	}

	weekAgo := now.Add(-closedWindow)
	var totalHours float64
	for _, issue := range closed {
		if issue.PullRequest != nil || issue.ClosedAt == nil {
			continue
		}
		closedAt, err := time.Parse(time.RFC3339, *issue.ClosedAt)
		if err != nil || closedAt.Before(weekAgo) {
			continue
		}
		created, err := time.Parse(time.RFC3339, issue.CreatedAt)
		if err != nil {
			continue
		}
		hours := closedAt.Sub(created).Hours()
		totalHours += hours
		s.ClosedLast7Days.Total++
		s.Issues.RecentlyClosed = append(s.Issues.RecentlyClosed, models.ClosedIssueSummary{
			Number:           issue.Number,
			Title:            issue.Title,
			URL:              issue.HTMLURL,
			ClosedAt:         *issue.ClosedAt,
			TimeToCloseHours: round1(hours),
		})
	}
	if s.ClosedLast7Days.Total > 0 {
		s.ClosedLast7Days.AverageTimeToCloseHours = round1(totalHours / float64(s.ClosedLast7Days.Total))
	}
	return s
}

// Classify picks a priority from labels (case-insensitive substring match).
// Any "critical" wins outright. A "high" always upgrades. "medium" and "low"
// only apply while the issue is still unprioritized, so the first one seen
// sticks.
func Classify(labels []string) string {
	priority := PriorityUnprioritized
	for _, l := range labels {
		name := strings.ToLower(l)
		switch {
		case strings.Contains(name, PriorityCritical):
			return PriorityCritical
		case strings.Contains(name, PriorityHigh):
			priority = PriorityHigh
		case strings.Contains(name, PriorityMedium) && priority == PriorityUnprioritized:
			priority = PriorityMedium
		case strings.Contains(name, PriorityLow) && priority == PriorityUnprioritized:
			priority = PriorityLow
		}
	}
	return priority
}

// AgeBucket maps whole days since creation to a bucket name.
func AgeBucket(days int) string {
	switch {
	case days < 1:
		return AgeNew
	case days <= 7:
		return AgeRecent
	case days <= 30:
		return AgeActive
	case days <= 90:
		return AgeStale
	default:
		return AgeAncient
	}
}

// Save writes stats.json to outputDir.
func Save(fs afero.Fs, outputDir string, s *models.IssueStats) (string, error) {
	if err := helpers.CheckAndMakeDir(fs, outputDir); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshalling stats: %w", err)
	}
	path := filepath.Join(outputDir, StatsFile)
	if err := afero.WriteFile(fs, path, data, 0644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

// LogSummary prints the headline numbers.
func LogSummary(logger log.FieldLogger, s *models.IssueStats) {
	p := s.OpenIssues.ByPriority
	logger.Info("=== Issue Statistics ===")
	logger.Infof("Open Issues: %d", s.OpenIssues.Total)
	logger.Infof("  Critical: %d", p[PriorityCritical])
	logger.Infof("  High: %d", p[PriorityHigh])
	logger.Infof("  Medium: %d", p[PriorityMedium])
	logger.Infof("  Low: %d", p[PriorityLow])
	logger.Infof("  Unprioritized: %d", p[PriorityUnprioritized])
	logger.Infof("Closed Last 7 Days: %d", s.ClosedLast7Days.Total)
	if s.ClosedLast7Days.AverageTimeToCloseHours > 0 {
		logger.Infof("  Average Time to Close: %.1f hours", s.ClosedLast7Days.AverageTimeToCloseHours)
	}
}

func labelNames(labels []models.ApiLabel) []string {
	names := make([]string, 0, len(labels))
	for _, l := range labels {
		names = append(names, l.Name)
	}
	return names
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
