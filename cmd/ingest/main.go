// Command ingest runs the disruption ingestion pipeline: it selects crawled
// source documents, splits and categorizes them through the text
// understanding service, geocodes the extracted locations, and persists the
// resulting messages.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	httpadapter "github.com/civicwatch/disruption-ingest/internal/adapter/http"
	kafkaadapter "github.com/civicwatch/disruption-ingest/internal/adapter/kafka"
	"github.com/civicwatch/disruption-ingest/internal/config"
	"github.com/civicwatch/disruption-ingest/internal/domain"
	"github.com/civicwatch/disruption-ingest/internal/geocode"
	"github.com/civicwatch/disruption-ingest/internal/ingest"
	"github.com/civicwatch/disruption-ingest/internal/observability"
	"github.com/civicwatch/disruption-ingest/internal/slug"
	"github.com/civicwatch/disruption-ingest/internal/store"
	"github.com/civicwatch/disruption-ingest/internal/textproc"
)

var (
	flagSourceType  string
	flagLimit       int
	flagDryRun      bool
	flagBoundaries  string
	flagMetricsAddr string
	flagSeedFile    string
)

func main() {
	root := &cobra.Command{
		Use:           "ingest",
		Short:         "Ingest civic disruption announcements into messages",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runIngest,
	}
	root.Flags().StringVar(&flagSourceType, "source-type", "utility-notices", "source document type to process")
	root.Flags().IntVar(&flagLimit, "limit", 0, "maximum number of sources to process, 0 for all")
	root.Flags().BoolVar(&flagDryRun, "dry-run", false, "process sources without writing messages")
	root.Flags().StringVar(&flagBoundaries, "boundaries", "", "GeoJSON service-area file, overrides BOUNDARIES_PATH")
	root.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "expose /metrics and /status on this address, overrides METRICS_ADDR")

	seed := &cobra.Command{
		Use:   "seed",
		Short: "Import crawled source documents from a JSON file",
		RunE:  runSeed,
	}
	seed.Flags().StringVar(&flagSeedFile, "file", "", "JSON file with an array of source documents")
	seed.MarkFlagRequired("file") //nolint:errcheck // flag exists
	root.AddCommand(seed)

	if err := root.Execute(); err != nil {
		slog.Error("ingest failed", "error", err)
		os.Exit(1)
	}
}

func runIngest(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	sources := store.NewSourceRepository(db)
	messages := store.NewMessageRepository(db)
	state := store.NewIngestStateRepository(db)

	aiClient, err := textproc.NewOpenAIClient(textproc.OpenAIConfig{
		APIKey:  cfg.AIAPIKey,
		Model:   cfg.AIModel,
		BaseURL: cfg.AIBaseURL,
		Timeout: cfg.AITimeout,
	}, logger, metrics)
	if err != nil {
		return err
	}
	processor := textproc.NewPipeline(aiClient, logger, metrics)

	addressClient := geocode.NewAddressClient(cfg.AddressGeocoderURL, cfg.Locality, cfg.GeocodeTimeout, logger, metrics)
	cachedAddress := geocode.NewCachedAddressGeocoder(addressClient, cfg.GeocodeCacheSize, metrics)
	streetClient := geocode.NewStreetClient(cfg.StreetGeocoderURL, cfg.Locality, cfg.GeocodeTimeout, logger, metrics)
	cadastreClient := geocode.NewCadastreClient(cfg.CadastreURL, cfg.GeocodeTimeout, logger, metrics)
	geocoder := geocode.NewOrchestrator(cachedAddress, streetClient, cadastreClient, cfg.GeocodeRetries, logger)

	boundary, err := loadBoundary(cfg, logger)
	if err != nil {
		return err
	}

	assigner := slug.NewAssigner(slug.NewGenerator(cfg.SlugLength), messages, cfg.SlugMaxAttempts, logger, metrics)

	var publisher ingest.Publisher
	if cfg.KafkaEnabled && !flagDryRun {
		kp := kafkaadapter.NewPublisher(cfg.KafkaBrokers, cfg.KafkaSinkTopic, logger)
		defer kp.Close() //nolint:errcheck // best-effort close on exit
		publisher = kp
		logger.Info("kafka sink enabled", "topic", cfg.KafkaSinkTopic)
	}

	orchestrator := ingest.NewOrchestrator(ingest.Options{
		Sources:   sources,
		Messages:  messages,
		State:     state,
		Processor: processor,
		Geocoder:  geocoder,
		Slugs:     assigner,
		Publisher: publisher,
		Age:       ingest.NewAgeFilter(cfg.MaxSourceAgeDays),
		Boundary:  ingest.NewBoundaryFilter(boundary),
		Gate:      ingest.NewDeduplicationGate(messages, state, cfg.MaxRetryAttempts),
		DryRun:    flagDryRun,
		Logger:    logger,
		Metrics:   metrics,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := startMetricsServer(cfg, db, logger)

	summary, runErr := orchestrator.Run(ctx, flagSourceType, flagLimit)
	if summary != nil && srv != nil {
		srv.RecordSummary(summary)
	}
	printSummary(summary)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}
	}

	if runErr != nil {
		return runErr
	}
	if summary != nil && summary.Failed > 0 {
		return fmt.Errorf("%d of %d sources failed", summary.Failed, summary.Total)
	}
	return nil
}

func runSeed(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)

	data, err := os.ReadFile(flagSeedFile)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var docs []domain.SourceDocument
	if err := json.Unmarshal(data, &docs); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	sources := store.NewSourceRepository(db)
	for i := range docs {
		if docs[i].Locality == "" {
			docs[i].Locality = cfg.Locality
		}
		if err := sources.Upsert(cmd.Context(), &docs[i]); err != nil {
			return fmt.Errorf("seed document %s: %w", docs[i].URL, err)
		}
	}
	logger.Info("seed finished", "documents", len(docs), "database", cfg.DatabasePath)
	return nil
}

func loadBoundary(cfg *config.Config, logger *slog.Logger) (*geocode.Boundary, error) {
	path := cfg.BoundariesPath
	if flagBoundaries != "" {
		path = flagBoundaries
	}
	if path == "" {
		logger.Info("no service-area boundary configured, boundary filtering disabled")
		return nil, nil
	}
	boundary, err := geocode.LoadBoundary(path)
	if err != nil {
		return nil, fmt.Errorf("load boundary %s: %w", path, err)
	}
	logger.Info("service-area boundary loaded", "path", path)
	return boundary, nil
}

// dbReadiness reports readiness from a database ping.
type dbReadiness struct {
	db *store.DB
}

func (r dbReadiness) CheckReadiness(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func startMetricsServer(cfg *config.Config, db *store.DB, logger *slog.Logger) *httpadapter.Server {
	addr := cfg.MetricsAddr
	if flagMetricsAddr != "" {
		addr = flagMetricsAddr
	}
	if addr == "" {
		return nil
	}

	srv := httpadapter.NewServer(addr, dbReadiness{db: db}, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()
	return srv
}

func printSummary(summary *domain.RunSummary) {
	if summary == nil {
		return
	}
	fmt.Printf("sources: %d total, %d ingested, %d filtered, %d failed\n",
		summary.Total, summary.Ingested, summary.Filtered, summary.Failed)
	fmt.Printf("bounds: %d within, %d outside\n", summary.WithinBounds, summary.OutsideBounds)
	fmt.Printf("skipped: %d too old, %d already ingested\n",
		summary.TooOld, summary.AlreadyIngested)
	for _, e := range summary.Errors {
		fmt.Printf("  failed: %s: %s\n", e.URL, e.Error)
	}
}
