package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fscwatch/harvester/internal/api"
	"github.com/fscwatch/harvester/internal/attachment"
	"github.com/fscwatch/harvester/internal/blob"
	blobgcs "github.com/fscwatch/harvester/internal/blob/gcs"
	bloblocal "github.com/fscwatch/harvester/internal/blob/local"
	"github.com/fscwatch/harvester/internal/clock/system"
	"github.com/fscwatch/harvester/internal/fetch"
	"github.com/fscwatch/harvester/internal/harvest"
	"github.com/fscwatch/harvester/internal/hash/sha256"
	"github.com/fscwatch/harvester/internal/id/uuid"
	"github.com/fscwatch/harvester/internal/metrics"
	memorypublisher "github.com/fscwatch/harvester/internal/publisher/memory"
	pubsubpublisher "github.com/fscwatch/harvester/internal/publisher/pubsub"
	markdownrender "github.com/fscwatch/harvester/internal/render/markdown"
	"github.com/fscwatch/harvester/internal/source/fsc"
	jsonlstore "github.com/fscwatch/harvester/internal/store/jsonl"
	postgresstore "github.com/fscwatch/harvester/internal/store/postgres"
)

// runEvent is the payload published after a crawl run completes.
type runEvent struct {
	RunID        string    `json:"run_id"`
	Source       string    `json:"source"`
	PagesVisited int       `json:"pages_visited"`
	Records      int       `json:"records"`
	Appended     int       `json:"appended"`
	Dropped      int       `json:"dropped"`
	Rendered     int       `json:"rendered"`
	Requests     int64     `json:"requests"`
	FinishedAt   time.Time `json:"finished_at"`
}

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Harvests one source into the local dataset",
		Long: `Walks the configured source's paginated listing, fetches record
details, downloads allowed attachments, appends new records to the
dataset and renders upload-ready documents.`,
		RunE: runCrawl,
	}
}

func runCrawl(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	registry := prometheus.NewRegistry()
	set := metrics.New(registry)
	clock := system.New()

	runID, err := uuid.NewGenerator().NewID()
	if err != nil {
		return err
	}
	log := logger.With(zap.String("run_id", runID))

	tracker := api.NewTracker()
	stopStatus, err := startStatusServer(tracker, registry, log)
	if err != nil {
		return err
	}
	defer stopStatus()

	src, err := fsc.ForName(cfg.Crawl.Source)
	if err != nil {
		return err
	}
	src.WithListURL(cfg.Crawl.ListURL)

	client := fetch.New(fetch.Config{
		Timeout:         cfg.HTTP.Timeout(),
		MaxRetries:      cfg.HTTP.MaxRetries,
		BackoffFactor:   cfg.HTTP.BackoffFactor,
		RequestInterval: cfg.HTTP.RequestInterval(),
		UserAgent:       cfg.HTTP.UserAgent,
	}, log.Named("fetch"), set)

	engine := harvest.NewEngine(src, client, harvest.EngineConfig{
		StartPage:           cfg.Crawl.StartPage,
		MaxPages:            cfg.Crawl.MaxPages,
		MaxConsecutiveEmpty: cfg.Crawl.MaxConsecutiveEmpty,
		FetchDetail:         cfg.Crawl.FetchDetail,
	}, log.Named("engine"), set)

	started := clock.Now()
	tracker.Set(api.RunStatus{RunID: runID, Source: src.Name(), State: "listing", StartedAt: started})

	result, runErr := engine.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("crawl %s: %w", src.Name(), runErr)
	}
	if errors.Is(runErr, context.Canceled) {
		log.Warn("crawl interrupted, persisting partial results",
			zap.Int("records", len(result.Records)))
	}

	if cfg.Attachments.Enabled {
		fetchAttachments(ctx, client, result.Records, log, set)
	}

	store, closeStore, err := buildRecordStore(ctx, clock, log)
	if err != nil {
		return err
	}
	defer closeStore()

	appended, err := store.Append(ctx, src.Name(), result.Records)
	if err != nil {
		return fmt.Errorf("append records: %w", err)
	}

	rendered, err := renderDocuments(ctx, result.Records, log)
	if err != nil {
		return err
	}

	event := runEvent{
		RunID:        runID,
		Source:       src.Name(),
		PagesVisited: result.PagesVisited,
		Records:      len(result.Records),
		Appended:     appended,
		Dropped:      result.Dropped,
		Rendered:     rendered,
		Requests:     result.Stats.TotalRequests,
		FinishedAt:   clock.Now(),
	}
	if err := publishRunEvent(ctx, event, log); err != nil {
		log.Warn("run event publish failed", zap.Error(err))
	}

	tracker.Set(api.RunStatus{
		RunID:     runID,
		Source:    src.Name(),
		State:     "done",
		Pages:     result.PagesVisited,
		Records:   len(result.Records),
		Dropped:   result.Dropped,
		StartedAt: started,
		UpdatedAt: clock.Now(),
	})

	log.Info("crawl finished",
		zap.String("source", src.Name()),
		zap.Int("pages", result.PagesVisited),
		zap.Int("records", len(result.Records)),
		zap.Int("appended", appended),
		zap.Int("dropped", result.Dropped),
		zap.Int("rendered", rendered),
		zap.Int64("requests", result.Stats.TotalRequests),
		zap.Int64("failed_requests", result.Stats.FailedRequests))
	return nil
}

func fetchAttachments(ctx context.Context, client *fetch.Client, records []harvest.Record, log *zap.Logger, set *metrics.Set) {
	fetcher := attachment.New(client, sha256.New(), attachment.Config{
		AllowedTypes:  cfg.Attachments.AllowedTypes,
		MaxSizeMB:     cfg.Attachments.MaxSizeMB,
		BaseDir:       cfg.Attachments.Dir,
		MaxRetries:    cfg.HTTP.MaxRetries,
		BackoffFactor: cfg.HTTP.BackoffFactor,
	}, log.Named("attachments"), set)

	for i := range records {
		if ctx.Err() != nil {
			return
		}
		rec := &records[i]
		if rec.ID == "" || len(rec.Attachments) == 0 {
			continue
		}
		rec.Attachments = fetcher.FetchAll(ctx, rec.ID, rec.Attachments)
	}
}

func buildRecordStore(ctx context.Context, clock harvest.Clock, log *zap.Logger) (harvest.RecordStore, func(), error) {
	switch cfg.Storage.Backend {
	case "postgres":
		store, err := postgresstore.New(ctx, postgresstore.Config{
			DSN:   cfg.Storage.DSN,
			Table: cfg.Storage.Table,
		}, log.Named("store"))
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, store.Close, nil
	default:
		store, err := jsonlstore.New(cfg.Storage.DataDir, clock, log.Named("store"))
		if err != nil {
			return nil, nil, fmt.Errorf("open jsonl store: %w", err)
		}
		return store, func() {}, nil
	}
}

// renderDocuments writes one markdown file per record into the upload
// staging directory and mirrors each file to the archive blob store.
func renderDocuments(ctx context.Context, records []harvest.Record, log *zap.Logger) (int, error) {
	if err := os.MkdirAll(cfg.Upload.DocsDir, 0o750); err != nil {
		return 0, fmt.Errorf("create docs dir: %w", err)
	}
	archive, closeArchive, err := buildBlobStore(ctx)
	if err != nil {
		return 0, err
	}
	defer closeArchive()

	renderer := markdownrender.New()
	rendered := 0
	for _, rec := range records {
		if ctx.Err() != nil {
			return rendered, ctx.Err()
		}
		name, body, err := renderer.Render(rec)
		if err != nil {
			log.Warn("render skipped", zap.String("title", rec.Title), zap.Error(err))
			continue
		}
		if err := os.WriteFile(filepath.Join(cfg.Upload.DocsDir, name), body, 0o600); err != nil {
			return rendered, fmt.Errorf("write document %s: %w", name, err)
		}
		if _, err := archive.Put(ctx, name, "text/markdown", bytes.NewReader(body)); err != nil {
			log.Warn("archive mirror failed", zap.String("document", name), zap.Error(err))
		}
		rendered++
	}
	return rendered, nil
}

func buildBlobStore(ctx context.Context) (blob.Store, func(), error) {
	switch cfg.Blob.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("gcs client: %w", err)
		}
		store, err := blobgcs.New(client, blobgcs.Config{
			Bucket: cfg.Blob.Bucket,
			Prefix: cfg.Blob.Prefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = client.Close() }, nil
	case "", "local":
		store, err := bloblocal.New(bloblocal.Config{BaseDir: cfg.Blob.BaseDir})
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown blob backend %q", cfg.Blob.Backend)
	}
}

func publishRunEvent(ctx context.Context, event runEvent, log *zap.Logger) error {
	var publisher harvest.Publisher
	cleanup := func() {}
	if cfg.PubSub.Enabled {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client: %w", err)
		}
		topic := client.Topic(cfg.PubSub.TopicName)
		publisher = pubsubpublisher.New(topic)
		cleanup = func() {
			topic.Stop()
			_ = client.Close()
		}
	} else {
		publisher = memorypublisher.New()
	}
	defer cleanup()

	id, err := publisher.Publish(ctx, "harvest.run.finished", event)
	if err != nil {
		return err
	}
	log.Debug("run event published", zap.String("message_id", id))
	return nil
}

// startStatusServer serves /healthz, /metrics and /v1/status while the
// run is active. A zero port disables it.
func startStatusServer(tracker *api.Tracker, registry *prometheus.Registry, log *zap.Logger) (func(), error) {
	if cfg.Server.Port <= 0 {
		return func() {}, nil
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewServer(tracker, registry, log.Named("api")).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("status server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("status server error", zap.Error(err))
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}, nil
}
