// Package app wires configuration into the pipeline stages shared by the
// command-line tool and the queue worker.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/finsights/internal/cleaner"
	"github.com/dharsanguruparan/finsights/internal/config"
	"github.com/dharsanguruparan/finsights/internal/converter"
	"github.com/dharsanguruparan/finsights/internal/database"
	"github.com/dharsanguruparan/finsights/internal/downloader"
	"github.com/dharsanguruparan/finsights/internal/feed"
	"github.com/dharsanguruparan/finsights/internal/httpx"
	"github.com/dharsanguruparan/finsights/internal/model"
	"github.com/dharsanguruparan/finsights/internal/pipeline"
	"github.com/dharsanguruparan/finsights/internal/registrar"
	"github.com/dharsanguruparan/finsights/internal/repository"
	"github.com/dharsanguruparan/finsights/internal/s3storage"
)

// Store is every document store operation the stages need together.
type Store interface {
	Insert(ctx context.Context, doc *model.Document) error
	Get(ctx context.Context, id string) (*model.Document, error)
	ListByStatus(ctx context.Context, status model.Status, limit int) ([]*model.Document, error)
	ListCreatedBefore(ctx context.Context, cutoff time.Time) ([]*model.Document, error)
	MarkDownloaded(ctx context.Context, id, fileName string) error
	MarkParsed(ctx context.Context, id, fileName string) error
	MarkFailed(ctx context.Context, id, reason string) error
	Delete(ctx context.Context, id string) error
}

// Stages holds one instance of every pipeline stage.
type Stages struct {
	Fetcher    *feed.Fetcher
	Registrar  *registrar.Registrar
	Downloader *downloader.Downloader
	Converter  *converter.Converter
	Cleaner    *cleaner.Cleaner
	Pipeline   *pipeline.Pipeline
}

// NewStages builds the stages over store. The feed and the PDF origin get
// separate HTTP clients so each stage's per-host cap matches its own
// concurrency. publisher may be nil.
func NewStages(cfg *config.Config, store Store, publisher converter.TextPublisher, logger *slog.Logger) *Stages {
	feedClient := httpx.NewClient(cfg.FeedConcurrency, cfg.RequestTimeout, cfg.Headers)
	pdfClient := httpx.NewClient(cfg.DownloadConcurrency, cfg.RequestTimeout, cfg.Headers)

	s := &Stages{
		Fetcher: feed.NewFetcher(feedClient, cfg.FeedURL, cfg.FeedConcurrency, logger.With("stage", "discovery")),
		Registrar: registrar.New(store, registrar.Options{
			PDFBaseURL:        cfg.PDFBaseURL,
			PDFArchiveBaseURL: cfg.PDFArchiveBaseURL,
			ArchiveAfter:      cfg.ArchiveAfter,
		}, logger.With("stage", "registration")),
		Downloader: downloader.New(store, pdfClient, cfg.PDFDir, cfg.DownloadConcurrency, logger.With("stage", "download")),
		Converter: converter.New(store, converter.Options{
			PDFDir:    cfg.PDFDir,
			TextDir:   cfg.TextDir,
			Workers:   cfg.ConversionWorkers,
			Publisher: publisher,
		}, logger.With("stage", "conversion")),
		Cleaner: cleaner.New(store, cfg.PDFDir, cfg.TextDir, logger.With("stage", "cleanup")),
	}
	s.Pipeline = pipeline.New(s.Fetcher, s.Registrar, s.Downloader, s.Converter, logger)
	return s
}

// App is a fully connected runtime: database pool, repository and stages.
type App struct {
	Config *config.Config
	Pool   *pgxpool.Pool
	Repo   *repository.DocumentRepository
	*Stages
}

// Open connects to PostgreSQL, ensures the schema, prepares object storage
// when configured and builds the stages.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	maxConns := int32(cfg.ConversionWorkers + cfg.DownloadConcurrency + 2)
	pool, err := database.Connect(ctx, cfg.DatabaseURL, maxConns)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	publisher, err := newPublisher(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}
	repo := repository.NewDocumentRepository(pool)
	return &App{
		Config: cfg,
		Pool:   pool,
		Repo:   repo,
		Stages: NewStages(cfg, repo, publisher, logger),
	}, nil
}

// Close releases the database pool.
func (a *App) Close() {
	a.Pool.Close()
}

// newPublisher returns nil when object storage is not configured.
func newPublisher(ctx context.Context, cfg *config.Config) (converter.TextPublisher, error) {
	if !cfg.ObjectStorageEnabled() {
		return nil, nil
	}
	store, err := s3storage.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	return store, nil
}

// NewLogger installs a text handler on stderr as the default logger.
func NewLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}
