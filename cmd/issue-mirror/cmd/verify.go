package cmd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"go-issue-mirror/internal/fetcher"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <mirror-dir>...",
	Short: "Re-hash downloaded attachments and report missing or changed files",
	Long: `Reloads issue.json from each mirror directory and checks every successful
download against the BLAKE3 hash recorded when it was fetched.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	fs := afero.NewOsFs()
	bad := 0
	for _, dir := range args {
		report, err := fetcher.Verify(fs, dir)
		if err != nil {
			return err
		}
		for _, r := range report.Results {
			switch r.Status {
			case fetcher.VerifyMissing:
				log.Errorf("Missing: %s", r.Path)
			case fetcher.VerifyMismatch:
				log.Errorf("Hash mismatch: %s", r.Path)
			default:
				log.Debugf("%s: %s", r.Status, r.Path)
			}
		}
		log.Infof("%s: %d ok, %d missing, %d mismatched, %d skipped", dir, report.OK, report.Missing, report.Mismatch, report.Skipped)
		if !report.Clean() {
			bad++
		}
	}
	if bad > 0 {
		return fmt.Errorf("%d mirror(s) failed verification", bad)
	}
	return nil
}
