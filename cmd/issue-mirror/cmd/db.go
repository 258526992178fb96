package cmd

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-issue-mirror/internal/database"
	"go-issue-mirror/internal/helpers"
)

// dbCmd represents the base command for database operations
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Interact with the fetch history database",
}

var dbViewRepo string

var dbViewCmd = &cobra.Command{
	Use:   "view",
	Short: "List every mirrored issue recorded in the history",
	RunE:  runDbView,
}

var dbDeleteCmd = &cobra.Command{
	Use:   "delete <owner/repo#number>...",
	Short: "Remove issues from the history",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDbDelete,
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbViewCmd)
	dbCmd.AddCommand(dbDeleteCmd)

	dbViewCmd.Flags().StringVarP(&dbViewRepo, "repo", "r", "", "Only show issues from this repository")
}

func openHistory() (*database.DB, error) {
	if globalConfig.DatabasePath == "" {
		return nil, fmt.Errorf("database path is not set in the configuration")
	}
	db, err := database.Open(globalConfig.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening database at %s: %w", globalConfig.DatabasePath, err)
	}
	return db, nil
}

func runDbView(cmd *cobra.Command, args []string) error {
	db, err := openHistory()
	if err != nil {
		return err
	}
	defer db.Close()

	entries, err := db.ListHistory()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Issue\tTitle\tState\tStatus\tDownloaded\tFailed\tSize\tFetched\tOutput")
	fmt.Fprintln(tw, "-----\t-----\t-----\t------\t----------\t------\t----\t-------\t------")

	count := 0
	for _, e := range entries {
		if dbViewRepo != "" && e.Repository != dbViewRepo {
			continue
		}
		fmt.Fprintf(tw, "%s#%s\t%s\t%s\t%s\t%d/%d\t%d\t%s\t%s\t%s\n",
			e.Repository, strconv.Itoa(e.Number),
			truncate(e.Title, 40),
			e.State,
			e.Status,
			e.Downloaded, e.Attachments,
			e.Failed,
			helpers.FormatFileSize(e.TotalSizeBytes),
			e.FetchedAt.Local().Format(time.DateTime),
			e.OutputDir,
		)
		count++
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	log.Infof("Displayed %d history entries.", count)
	return nil
}

func runDbDelete(cmd *cobra.Command, args []string) error {
	db, err := openHistory()
	if err != nil {
		return err
	}
	defer db.Close()

	missing := 0
	for _, ref := range args {
		key, err := database.ParseHistoryKey(ref)
		if err != nil {
			return err
		}
		if !db.Has([]byte(key)) {
			log.Warnf("No history entry for %s", ref)
			missing++
			continue
		}
		if err := db.Delete([]byte(key)); err != nil {
			return fmt.Errorf("deleting %s: %w", ref, err)
		}
		log.Infof("Deleted history entry for %s", ref)
	}
	if missing > 0 {
		fmt.Fprintf(os.Stderr, "%d reference(s) had no history entry\n", missing)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
