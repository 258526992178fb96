package cmd

import (
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"go-issue-mirror/internal/fetcher"
	"go-issue-mirror/internal/manifest"
)

var manifestHTML bool

var manifestCmd = &cobra.Command{
	Use:   "manifest <mirror-dir>",
	Short: "Regenerate manifest.md from a mirror's issue.json",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs := afero.NewOsFs()
		dir := args[0]
		issue, err := fetcher.LoadIssue(fs, dir)
		if err != nil {
			return err
		}
		if err := fetcher.WriteManifest(fs, dir, issue, manifest.Options{}, manifestHTML || globalConfig.RenderHTML); err != nil {
			return err
		}
		log.Infof("Saved: %s", filepath.Join(dir, fetcher.ManifestFile))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(manifestCmd)
	manifestCmd.Flags().BoolVar(&manifestHTML, "html", false, "Also render manifest.html")
}
