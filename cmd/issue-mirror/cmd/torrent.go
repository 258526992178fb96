package cmd

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"go-issue-mirror/internal/fetcher"
	"go-issue-mirror/internal/helpers"
	"go-issue-mirror/internal/models"
)

const torrentPieceLength = 512 * 1024

type torrentJob struct {
	SourcePath     string
	Name           string
	Trackers       []string
	OutputDir      string
	Overwrite      bool
	GenerateMagnet bool
}

var torrentOpts struct {
	announce    []string
	outputDir   string
	overwrite   bool
	magnet      bool
	concurrency int
}

var torrentCmd = &cobra.Command{
	Use:   "torrent [mirror-dir...]",
	Short: "Package mirror directories as .torrent files",
	Long: `Generates a BitTorrent metainfo file for each mirror directory. With no
arguments every successfully mirrored issue in the history database is
packaged. You must specify at least one tracker announce URL.`,
	RunE: runTorrent,
}

func init() {
	rootCmd.AddCommand(torrentCmd)

	torrentCmd.Flags().StringSliceVar(&torrentOpts.announce, "announce", []string{}, "Tracker announce URL (repeatable)")
	torrentCmd.Flags().StringVarP(&torrentOpts.outputDir, "output-dir", "o", "", "Directory to save generated .torrent files (default: inside each mirror)")
	torrentCmd.Flags().BoolVarP(&torrentOpts.overwrite, "overwrite", "f", false, "Overwrite existing .torrent files")
	torrentCmd.Flags().BoolVar(&torrentOpts.magnet, "magnet-links", false, "Write a -magnet.txt file next to each .torrent")
	torrentCmd.Flags().IntVarP(&torrentOpts.concurrency, "concurrency", "c", 4, "Number of concurrent torrent generation workers")
}

func runTorrent(cmd *cobra.Command, args []string) error {
	if len(torrentOpts.announce) == 0 {
		return errors.New("at least one --announce URL is required")
	}
	concurrency := torrentOpts.concurrency
	if concurrency <= 0 {
		log.Warnf("Invalid concurrency value %d, defaulting to 4", concurrency)
		concurrency = 4
	}

	dirs := args
	if len(dirs) == 0 {
		var err error
		if dirs, err = historyDirs(); err != nil {
			return err
		}
	}
	if len(dirs) == 0 {
		log.Info("No mirror directories to package.")
		return nil
	}

	jobs := make(chan torrentJob, concurrency)
	var wg sync.WaitGroup
	var succeeded, failed atomic.Int64
	for i := 1; i <= concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for job := range jobs {
				logger := log.WithField("directory", job.SourcePath)
				if _, err := generateTorrentFile(job); err != nil {
					logger.WithError(err).Errorf("Worker %d: Failed to generate torrent", id)
					failed.Add(1)
					continue
				}
				succeeded.Add(1)
			}
		}(i)
	}

	seen := make(map[string]bool)
	for _, dir := range dirs {
		if seen[dir] {
			continue
		}
		seen[dir] = true
		jobs <- torrentJob{
			SourcePath:     dir,
			Name:           torrentName(afero.NewOsFs(), dir),
			Trackers:       torrentOpts.announce,
			OutputDir:      torrentOpts.outputDir,
			Overwrite:      torrentOpts.overwrite,
			GenerateMagnet: torrentOpts.magnet,
		}
	}
	close(jobs)
	wg.Wait()

	log.Infof("Torrent generation complete. Success: %d, Failed: %d", succeeded.Load(), failed.Load())
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d torrents failed to generate", n)
	}
	return nil
}

// historyDirs returns the output directories of every non-failed history entry.
func historyDirs() ([]string, error) {
	db, err := openHistory()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	entries, err := db.ListHistory()
	if err != nil {
		return nil, err
	}
	dirs := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Status == models.StatusError || e.OutputDir == "" {
			continue
		}
		dirs = append(dirs, e.OutputDir)
	}
	return dirs, nil
}

// torrentName derives "<owner>-<repo>-issue-<n>" from issue.json, falling
// back to the directory name.
func torrentName(fs afero.Fs, dir string) string {
	issue, err := fetcher.LoadIssue(fs, dir)
	if err != nil || issue.Repository == "" {
		return helpers.ConvertToSlug(filepath.Base(filepath.Clean(dir)))
	}
	return helpers.ConvertToSlug(strings.ReplaceAll(issue.Repository, "/", "-") + "-issue-" + strconv.Itoa(issue.Number))
}

// generateTorrentFile writes <name>.torrent for job.SourcePath and returns
// its path. An existing file is kept unless job.Overwrite is set.
func generateTorrentFile(job torrentJob) (string, error) {
	stat, err := os.Stat(job.SourcePath)
	if err != nil {
		return "", fmt.Errorf("error stating source path %s: %w", job.SourcePath, err)
	}
	if !stat.IsDir() {
		return "", fmt.Errorf("source path is not a directory: %s", job.SourcePath)
	}

	name := job.Name
	if name == "" {
		name = stat.Name()
	}
	outDir := job.SourcePath
	if job.OutputDir != "" {
		if err := os.MkdirAll(job.OutputDir, 0755); err != nil {
			return "", fmt.Errorf("error creating output directory %s: %w", job.OutputDir, err)
		}
		outDir = job.OutputDir
	}
	outPath := filepath.Join(outDir, name+".torrent")

	if _, err := os.Stat(outPath); err == nil {
		if !job.Overwrite {
			log.WithField("path", outPath).Info("Skipping existing torrent file (use --overwrite to replace)")
			return outPath, nil
		}
		log.WithField("path", outPath).Warn("Overwriting existing torrent file")
	}

	mi := metainfo.MetaInfo{AnnounceList: make([][]string, len(job.Trackers))}
	for i, tracker := range job.Trackers {
		mi.AnnounceList[i] = []string{tracker}
	}
	if len(job.Trackers) > 0 {
		mi.Announce = job.Trackers[0]
	}
	mi.CreatedBy = "go-issue-mirror"

	info := metainfo.Info{PieceLength: torrentPieceLength}
	err = info.BuildFromFilePath(job.SourcePath)
	if err != nil {
		return "", fmt.Errorf("error building torrent info from path %s: %w", job.SourcePath, err)
	}
	// A torrent written inside the mirror must not include itself or
	// leftover partial downloads.
	if kept := filterTorrentFiles(info.Files); len(kept) != len(info.Files) {
		info.Files = kept
		err = info.GeneratePieces(func(fi metainfo.FileInfo) (io.ReadCloser, error) {
			return os.Open(filepath.Join(append([]string{job.SourcePath}, fi.Path...)...))
		})
		if err != nil {
			return "", fmt.Errorf("error hashing pieces for %s: %w", job.SourcePath, err)
		}
	}
	info.Name = name
	if mi.InfoBytes, err = bencode.Marshal(info); err != nil {
		return "", fmt.Errorf("error marshaling torrent info: %w", err)
	}

	f, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("error creating torrent file %s: %w", outPath, err)
	}
	defer f.Close()
	if err := mi.Write(f); err != nil {
		return "", fmt.Errorf("error writing torrent file %s: %w", outPath, err)
	}
	log.WithField("path", outPath).Info("Successfully generated torrent file")

	if job.GenerateMagnet {
		magnetParts := []string{
			"magnet:?xt=urn:btih:" + mi.HashInfoBytes().HexString(),
			"dn=" + url.QueryEscape(name),
		}
		for _, tracker := range job.Trackers {
			magnetParts = append(magnetParts, "tr="+url.QueryEscape(tracker))
		}
		magnetPath := filepath.Join(outDir, name+"-magnet.txt")
		if err := os.WriteFile(magnetPath, []byte(strings.Join(magnetParts, "&")), 0644); err != nil {
			log.WithError(err).WithField("path", magnetPath).Error("Failed to write magnet link file")
		}
	}
	return outPath, nil
}

func filterTorrentFiles(files []metainfo.FileInfo) []metainfo.FileInfo {
	kept := make([]metainfo.FileInfo, 0, len(files))
	for _, fi := range files {
		if len(fi.Path) == 0 {
			kept = append(kept, fi)
			continue
		}
		base := strings.ToLower(fi.Path[len(fi.Path)-1])
		if strings.HasSuffix(base, ".torrent") || strings.HasSuffix(base, "-magnet.txt") || strings.HasSuffix(base, ".tmp") {
			continue
		}
		kept = append(kept, fi)
	}
	return kept
}
