package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-issue-mirror/index"
)

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search mirrored issues and comments",
	Long: `Runs a Bleve query string against the index built by fetch and match.
Fields can be targeted by name, for example:

  issue-mirror search '+author:alice +labels:bug crash'
  issue-mirror search '+type:comment +repository:octo/hello stack trace'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "Maximum number of hits to print")
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	indexPath := globalConfig.BleveIndexPath

	// Open, not OpenOrCreate: searching must not create an empty index.
	bleveIndex, err := bleve.Open(indexPath)
	if err != nil {
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			return fmt.Errorf("search index not found at %s, run fetch or match first", indexPath)
		}
		return fmt.Errorf("opening search index at %s: %w", indexPath, err)
	}
	defer func() {
		if err := bleveIndex.Close(); err != nil {
			log.Errorf("Error closing Bleve index: %v", err)
		}
	}()

	results, err := index.SearchIndex(bleveIndex, query, searchLimit)
	if err != nil {
		return fmt.Errorf("searching: %w", err)
	}
	log.Debugf("Search finished. Hits: %d, Total: %d, Took: %s", len(results.Hits), results.Total, results.Took)

	out := cmd.OutOrStdout()
	if results.Total == 0 {
		fmt.Fprintln(out, "No results found matching your query.")
		return nil
	}
	fmt.Fprintf(out, "%d match(es), showing %d\n", results.Total, len(results.Hits))
	for i, hit := range results.Hits {
		f := hit.Fields
		fmt.Fprintf(out, "[%d] %v#%v %v (%v by %v, score %.2f)\n", i+1, f["repository"], f["number"], f["title"], f["type"], f["author"], hit.Score)
		if dir, ok := f["outputDir"]; ok {
			fmt.Fprintf(out, "    %v\n", dir)
		}
	}
	return nil
}
