package cmd

import (
	"github.com/spf13/cobra"

	"go-issue-mirror/internal/fetcher"
)

var fetchOpts struct {
	repo      string
	issue     int
	outputDir string
	token     string
	pipelineOptions
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Mirror one issue with its comments and attachments",
	Long: `Fetches the issue, every page of comments and all attachments found in
their rendered HTML, then writes issue.json and manifest.md to --output-dir.

Exit status is 1 for invalid arguments or API failures and 3 when the
output directory cannot be written.`,
	Example: `  issue-mirror fetch --repo octo/hello --issue 42 --output-dir ./issue-42`,
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringVarP(&fetchOpts.repo, "repo", "r", "", "Repository in owner/repo form (required)")
	fetchCmd.Flags().IntVarP(&fetchOpts.issue, "issue", "i", 0, "Issue number (required)")
	fetchCmd.Flags().StringVarP(&fetchOpts.outputDir, "output-dir", "o", "", "Directory to write the mirror into (required)")
	addPipelineFlags(fetchCmd, &fetchOpts.token, &fetchOpts.pipelineOptions)
	_ = fetchCmd.MarkFlagRequired("repo")
	_ = fetchCmd.MarkFlagRequired("issue")
	_ = fetchCmd.MarkFlagRequired("output-dir")
}

// addPipelineFlags registers the flags shared by fetch and match.
func addPipelineFlags(cmd *cobra.Command, token *string, opts *pipelineOptions) {
	cmd.Flags().StringVarP(token, "token", "t", "", "GitHub token (default: $GITHUB_TOKEN, $GH_TOKEN or GithubToken in config)")
	cmd.Flags().IntVarP(&opts.Concurrency, "concurrency", "c", 0, "Parallel attachment downloads (default: Concurrency in config)")
	cmd.Flags().BoolVar(&opts.RenderHTML, "html", false, "Also render manifest.html")
	cmd.Flags().BoolVar(&opts.NoHistory, "no-history", false, "Do not record the fetch in the history database")
	cmd.Flags().BoolVar(&opts.NoIndex, "no-index", false, "Do not add the issue to the search index")
}

func runFetch(cmd *cobra.Command, args []string) error {
	params := fetcher.Params{
		Repo:      fetchOpts.repo,
		Number:    fetchOpts.issue,
		OutputDir: fetchOpts.outputDir,
		Token:     resolveToken(fetchOpts.token),
	}
	// Reject bad input before any store is opened.
	if err := fetcher.Validate(params); err != nil {
		return err
	}

	opts := fetchOpts.pipelineOptions
	opts.Token = params.Token
	p := newPipeline(opts)
	defer p.Close()

	_, err := p.fetcher.Run(cmd.Context(), params)
	return err
}
