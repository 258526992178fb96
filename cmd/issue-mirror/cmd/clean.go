package cmd

import (
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	cleanTorrents bool
	cleanMagnets  bool
)

var cleanCmd = &cobra.Command{
	Use:   "clean [dir]",
	Short: "Remove temporary (.tmp) files left by interrupted downloads",
	Long: `Recursively scans the given directory (default: SavePath) and removes any
files ending with the .tmp extension. Optionally removes *.torrent and
*-magnet.txt files as well.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := globalConfig.SavePath
		if len(args) == 1 {
			dir = args[0]
		}
		_, err := cleanDir(afero.NewOsFs(), dir, cleanTorrents, cleanMagnets)
		return err
	},
}

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().BoolVarP(&cleanTorrents, "torrents", "t", false, "Also remove *.torrent files")
	cleanCmd.Flags().BoolVarP(&cleanMagnets, "magnets", "m", false, "Also remove *-magnet.txt files")
}

type cleanCounts struct {
	Tmp, Torrent, Magnet, Failed int
}

func cleanDir(fs afero.Fs, dir string, torrents, magnets bool) (cleanCounts, error) {
	var counts cleanCounts
	if dir == "" {
		return counts, fmt.Errorf("no directory given and SavePath is not configured")
	}
	info, err := fs.Stat(dir)
	if err != nil {
		return counts, fmt.Errorf("accessing %s: %w", dir, err)
	}
	if !info.IsDir() {
		return counts, fmt.Errorf("not a directory: %s", dir)
	}

	log.Infof("Scanning for leftover files in %s...", dir)
	walkErr := afero.Walk(fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.Warnf("Error accessing path %q during scan: %v", path, err)
			return nil
		}
		if info.IsDir() {
			return nil
		}

		name := strings.ToLower(info.Name())
		var counter *int
		switch {
		case strings.HasSuffix(name, ".tmp"):
			counter = &counts.Tmp
		case torrents && strings.HasSuffix(name, ".torrent"):
			counter = &counts.Torrent
		case magnets && strings.HasSuffix(name, "-magnet.txt"):
			counter = &counts.Magnet
		default:
			return nil
		}

		if err := fs.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Errorf("Failed to remove %q: %v", path, err)
			counts.Failed++
			return nil
		}
		log.Infof("Removed: %s", path)
		*counter++
		return nil
	})

	log.Infof("Clean complete. Removed %d .tmp, %d .torrent, %d -magnet.txt file(s)", counts.Tmp, counts.Torrent, counts.Magnet)
	if walkErr != nil {
		return counts, fmt.Errorf("walking %s: %w", dir, walkErr)
	}
	if counts.Failed > 0 {
		return counts, fmt.Errorf("failed to remove %d file(s)", counts.Failed)
	}
	return counts, nil
}
