package cmd

import (
	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"go-issue-mirror/index"
	"go-issue-mirror/internal/api"
	"go-issue-mirror/internal/database"
	"go-issue-mirror/internal/downloader"
	"go-issue-mirror/internal/extract"
	"go-issue-mirror/internal/fetcher"
)

// pipelineOptions are the per-command knobs layered over globalConfig.
type pipelineOptions struct {
	Token       string
	Concurrency int
	RenderHTML  bool
	NoHistory   bool
	NoIndex     bool
}

// pipeline owns everything a fetch needs and closes the stores afterwards.
type pipeline struct {
	client  *api.Client
	fetcher *fetcher.Fetcher
	db      *database.DB
	index   bleve.Index
}

func newPipeline(opts pipelineOptions) *pipeline {
	logger := log.StandardLogger()
	p := &pipeline{
		client: api.NewClient(opts.Token, newHTTPClient(), globalConfig, logger),
	}

	options := fetcher.Options{RenderHTML: opts.RenderHTML || globalConfig.RenderHTML}

	if !opts.NoHistory && globalConfig.DatabasePath != "" {
		db, err := database.Open(globalConfig.DatabasePath)
		if err != nil {
			log.WithError(err).Warnf("Failed to open history database at %s, history disabled", globalConfig.DatabasePath)
		} else {
			p.db = db
			options.History = db
		}
	}

	if !opts.NoIndex && globalConfig.BleveIndexPath != "" {
		idx, err := index.OpenOrCreateIndex(globalConfig.BleveIndexPath)
		if err != nil {
			log.WithError(err).Warnf("Failed to open search index at %s, indexing disabled", globalConfig.BleveIndexPath)
		} else {
			p.index = idx
			options.Index = index.Store{Idx: idx}
		}
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = globalConfig.Concurrency
	}
	dl := downloader.NewDownloader(p.client, afero.NewOsFs(), p.client.Retry, logger)
	dl.SetConcurrency(concurrency)

	ext := extract.NewExtractor(globalConfig.AttachmentHosts, logger)
	p.fetcher = fetcher.New(p.client, ext, dl, afero.NewOsFs(), logger, options)
	return p
}

func (p *pipeline) Close() {
	if p.index != nil {
		if err := p.index.Close(); err != nil {
			log.WithError(err).Error("Error closing search index")
		}
	}
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			log.WithError(err).Error("Error closing history database")
		}
	}
}
