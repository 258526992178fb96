package cmd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"go-issue-mirror/internal/api"
	"go-issue-mirror/internal/fetcher"
	"go-issue-mirror/internal/stats"
)

var statsOpts struct {
	repo      string
	outputDir string
	token     string
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Collect open/closed issue statistics into stats.json",
	Long: `Buckets the repository's open issues by priority label, age and area:
label, and summarises the issues closed in the last seven days with their
average time to close. Pull requests are ignored.`,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().StringVarP(&statsOpts.repo, "repo", "r", "", "Repository in owner/repo form (required)")
	statsCmd.Flags().StringVarP(&statsOpts.outputDir, "output-dir", "o", "", "Directory for stats.json (default: SavePath)")
	statsCmd.Flags().StringVarP(&statsOpts.token, "token", "t", "", "GitHub token (default: $GITHUB_TOKEN, $GH_TOKEN or GithubToken in config)")
	_ = statsCmd.MarkFlagRequired("repo")
}

func runStats(cmd *cobra.Command, args []string) error {
	outputDir := statsOpts.outputDir
	if outputDir == "" {
		outputDir = globalConfig.SavePath
	}
	token := resolveToken(statsOpts.token)
	if err := fetcher.Validate(fetcher.Params{Repo: statsOpts.repo, Number: 1, OutputDir: outputDir, Token: token}); err != nil {
		return err
	}

	client := api.NewClient(token, newHTTPClient(), globalConfig, log.StandardLogger())
	s, err := stats.NewCollector(client, log.StandardLogger()).Collect(cmd.Context(), statsOpts.repo)
	if err != nil {
		return err
	}

	path, err := stats.Save(afero.NewOsFs(), outputDir, s)
	if err != nil {
		return fmt.Errorf("%w: %w", fetcher.ErrFileSystem, err)
	}
	stats.LogSummary(log.StandardLogger(), s)
	log.Infof("Statistics saved to: %s", path)
	return nil
}
