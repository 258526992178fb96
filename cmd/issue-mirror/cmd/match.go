package cmd

import (
	"fmt"
	"sort"

	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-issue-mirror/internal/fetcher"
	"go-issue-mirror/internal/models"
)

var matchOpts struct {
	repo      string
	label     string
	state     string
	limit     int
	outputDir string
	token     string
	pipelineOptions
}

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Mirror every issue matching a label/state filter",
	Long: `Lists the repository's issues (pull requests excluded), filtered by label
and state, and mirrors each one into <output-dir>/<number>/. A manifest.json
summarising the selection is written to <output-dir>, even when nothing
matched.`,
	Example: `  issue-mirror match --repo octo/hello --label bug --state all --limit 20 -o ./bugs`,
	RunE:    runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().StringVarP(&matchOpts.repo, "repo", "r", "", "Repository in owner/repo form (required)")
	matchCmd.Flags().StringVarP(&matchOpts.label, "label", "l", "", "Only issues carrying this label")
	matchCmd.Flags().StringVarP(&matchOpts.state, "state", "s", "open", "Issue state: open, closed or all")
	matchCmd.Flags().IntVar(&matchOpts.limit, "limit", 100, "Maximum number of issues to mirror")
	matchCmd.Flags().StringVarP(&matchOpts.outputDir, "output-dir", "o", "", "Directory for the batch (required)")
	addPipelineFlags(matchCmd, &matchOpts.token, &matchOpts.pipelineOptions)
	_ = matchCmd.MarkFlagRequired("repo")
	_ = matchCmd.MarkFlagRequired("output-dir")
}

func runMatch(cmd *cobra.Command, args []string) error {
	params := fetcher.BatchParams{
		Repo:      matchOpts.repo,
		Label:     matchOpts.label,
		State:     matchOpts.state,
		Limit:     matchOpts.limit,
		OutputDir: matchOpts.outputDir,
		Token:     resolveToken(matchOpts.token),
	}

	opts := matchOpts.pipelineOptions
	opts.Token = params.Token
	p := newPipeline(opts)
	defer p.Close()

	writer := uilive.New()
	writer.Start()
	progress := func(i, total int, issue models.ApiIssue) {
		fmt.Fprintf(writer, "[%d/%d] #%d %s\n", i, total, issue.Number, issue.Title)
	}
	result, err := p.fetcher.RunBatch(cmd.Context(), p.client, params, progress)
	writer.Stop()
	if err != nil {
		return err
	}

	if len(result.Failed) == 0 {
		return nil
	}
	failed := make([]int, 0, len(result.Failed))
	for n := range result.Failed {
		failed = append(failed, n)
	}
	sort.Ints(failed)
	for _, n := range failed {
		log.WithError(result.Failed[n]).Errorf("Issue #%d was not mirrored", n)
	}
	return fmt.Errorf("%d of %d issue(s) failed: %v", len(failed), result.Manifest.TotalIssues, failed)
}
