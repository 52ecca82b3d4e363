package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/faultline/internal/backup"
	"github.com/tinytelemetry/faultline/internal/cluster"
	"github.com/tinytelemetry/faultline/internal/dedup"
	"github.com/tinytelemetry/faultline/internal/httpserver"
	"github.com/tinytelemetry/faultline/internal/journal"
	"github.com/tinytelemetry/faultline/internal/model"
	"github.com/tinytelemetry/faultline/internal/normalize"
	"github.com/tinytelemetry/faultline/internal/notify"
	"github.com/tinytelemetry/faultline/internal/otlpserver"
	"github.com/tinytelemetry/faultline/internal/pipeline"
	"github.com/tinytelemetry/faultline/internal/queue"
	"github.com/tinytelemetry/faultline/internal/ratelimit"
	"github.com/tinytelemetry/faultline/internal/store"
	"github.com/tinytelemetry/faultline/internal/tcpserver"
)

// runServer starts ingestion with the HTTP and OTLP endpoints.
func runServer(cfg appConfig) error {
	cleanupLogger := configureRuntimeLogger()
	defer cleanupLogger()

	st, err := store.NewStore(cfg.DBPath, cfg.QueryTimeout)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	// Open the event journal for crash-safe replay and durable buffering.
	var eventJournal *journal.Journal
	if cfg.JournalEnabled {
		eventJournal, err = journal.Open(cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("failed to open event journal: %w", err)
		}
		if err := replayUncommittedJournal(eventJournal, st, cfg.InsertBatchSize); err != nil {
			_ = eventJournal.Close()
			return fmt.Errorf("failed to replay event journal: %w", err)
		}
	}

	queueConf := queue.Config{
		BatchSize:      cfg.InsertBatchSize,
		FlushInterval:  cfg.InsertFlushInterval,
		FlushQueueSize: cfg.InsertFlushQueue,
	}
	if eventJournal != nil {
		// Assigning a nil *journal.Journal would produce a non-nil
		// interface holding a nil pointer.
		queueConf.Journal = eventJournal
	}
	buffer := queue.NewBuffer(st, queueConf)
	defer buffer.Stop()

	retentionCleaner := store.NewRetentionCleaner(st, store.RetentionConfig{
		RetentionDays: cfg.EventRetention,
	})
	if retentionCleaner != nil {
		defer retentionCleaner.Stop()
	}

	normalizer, err := buildNormalizer(cfg.RulesPath)
	if err != nil {
		return fmt.Errorf("failed to load normalization rules: %w", err)
	}

	notifier := notify.NewNotifier(256)

	engine := cluster.NewEngine(cluster.Config{
		SampleCapacity:      cfg.SampleCapacity,
		AlertThreshold:      cfg.AlertThreshold,
		FuzzyEnabled:        cfg.FuzzyEnabled,
		SimilarityThreshold: cfg.SimilarityThreshold,
		CandidateLimit:      cfg.CandidateLimit,
		Notifier:            notifier,
	})

	// Warm the cluster index from previously persisted aggregates so
	// occurrence counts continue across restarts.
	if persisted, err := st.LoadClusters(); err != nil {
		log.Printf("server: cluster warm start failed: %v", err)
	} else if len(persisted) > 0 {
		engine.Seed(persisted)
		log.Printf("server: warmed %d clusters from store", len(persisted))
	}

	gate := pipeline.New(pipeline.Config{
		Normalizer: normalizer,
		Limiter: ratelimit.NewLimiter(ratelimit.Config{
			Ceiling: cfg.RateCeiling,
			Window:  cfg.RateWindow,
		}),
		Dedup: dedup.NewWindow(dedup.Config{
			Window:     cfg.DedupWindow,
			MaxEntries: cfg.DedupMaxEntries,
		}),
		Engine: engine,
		Sink:   buffer,
	})

	if cfg.APIEnabled {
		apiServer := httpserver.NewServer(httpserver.Config{
			Addr:     cfg.APIAddr,
			Ingester: gate,
			Querier:  st,
			Tokens:   cfg.APITokens,
		})
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		defer apiServer.Stop()
	}

	if cfg.OTLPEnabled {
		otlpServer := otlpserver.NewServer(otlpserver.Config{
			Addr:          cfg.OTLPAddr,
			Ingester:      gate,
			DefaultTenant: cfg.OTLPDefaultTenant,
			SeverityFloor: cfg.OTLPSeverityFloor,
		})
		if err := otlpServer.Start(); err != nil {
			return fmt.Errorf("failed to start OTLP server: %w", err)
		}
		defer otlpServer.Stop()
	}

	if cfg.TCPEnabled {
		tcpServer := tcpserver.NewServer(cfg.TCPAddr, gate, tcpserver.ServerConfig{
			DefaultTenant: cfg.TCPDefaultTenant,
		})
		if err := tcpServer.Start(); err != nil {
			return fmt.Errorf("failed to start TCP server: %w", err)
		}
		defer tcpServer.Stop()
	}

	backupManager, err := backup.NewManager(st, backup.Config{
		Enabled:        cfg.BackupEnabled,
		Interval:       cfg.BackupInterval,
		LocalDir:       cfg.BackupLocalDir,
		KeepLast:       cfg.BackupKeepLast,
		BucketURL:      cfg.BackupBucketURL,
		S3Endpoint:     cfg.BackupS3Endpoint,
		S3Region:       cfg.BackupS3Region,
		S3AccessKey:    cfg.BackupS3AccessKey,
		S3SecretKey:    cfg.BackupS3SecretKey,
		S3SessionToken: cfg.BackupS3Token,
		S3UseSSL:       cfg.BackupS3UseSSL,
	})
	if err != nil {
		return fmt.Errorf("failed to start backup manager: %w", err)
	}
	if backupManager != nil {
		defer backupManager.Stop()
	}

	// Set up context and signal handling before errgroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		// Shutdown deadline starts now, not at boot.
		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		os.Exit(1)
	}()

	printStartupBanner(cfg)

	g, gctx := errgroup.WithContext(ctx)

	// Cluster snapshot syncer: dirty aggregates flow to the store on a
	// timer and one final time at shutdown.
	g.Go(func() error {
		ticker := time.NewTicker(cfg.SnapshotInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				syncClusters(engine, st)
			case <-gctx.Done():
				syncClusters(engine, st)
				return nil
			}
		}
	})

	// Alert signal consumer. Delivery beyond the log is out of scope.
	g.Go(func() error {
		for {
			select {
			case sig := <-notifier.Signals():
				log.Printf("notify: %s cluster=%s tenant=%s category=%s occurrences=%d",
					sig.Type, sig.ClusterID, sig.Tenant, sig.Category, sig.Occurrences)
			case <-gctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("server: errgroup exited with error: %v", err)
	}

	cancel()
	signal.Stop(sigCh)

	return nil
}

func syncClusters(engine *cluster.Engine, st *store.Store) {
	dirty := engine.Snapshot()
	if len(dirty) == 0 {
		return
	}
	if err := st.UpsertClusters(dirty); err != nil {
		log.Printf("server: cluster sync failed (%d clusters): %v", len(dirty), err)
	}
}

func buildNormalizer(rulesPath string) (*normalize.Normalizer, error) {
	if rulesPath == "" {
		return normalize.New(), nil
	}
	front, back, err := normalize.LoadRulesFile(rulesPath)
	if err != nil {
		return nil, err
	}
	return normalize.New(
		normalize.WithFrontRules(front...),
		normalize.WithRules(back...),
	), nil
}

func configureRuntimeLogger() func() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	home, err := os.UserHomeDir()
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logDir := filepath.Join(home, ".local", "state", "faultline")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logPath := filepath.Join(logDir, "faultline.log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	log.SetOutput(f)
	return func() {
		_ = f.Close()
	}
}

func replayUncommittedJournal(j *journal.Journal, st *store.Store, batchSize int) error {
	if j == nil {
		return nil
	}
	if batchSize <= 0 {
		batchSize = defaultInsertBatchSize
	}

	batch := make([]*model.EventRecord, 0, batchSize)
	batchMaxSeq := uint64(0)
	replayed := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := st.InsertEventBatch(batch); err != nil {
			return err
		}
		if batchMaxSeq > 0 {
			if err := j.Commit(batchMaxSeq); err != nil {
				return err
			}
		}
		replayed += len(batch)
		batch = make([]*model.EventRecord, 0, batchSize)
		batchMaxSeq = 0
		return nil
	}

	if err := j.Replay(func(seq uint64, record *model.EventRecord) error {
		copied := *record
		batch = append(batch, &copied)
		if seq > batchMaxSeq {
			batchMaxSeq = seq
		}
		if len(batch) >= batchSize {
			return flush()
		}
		return nil
	}); err != nil {
		return err
	}

	if err := flush(); err != nil {
		return err
	}
	if replayed > 0 {
		log.Printf("event journal: replayed %d uncommitted records", replayed)
	}
	return nil
}

func printStartupBanner(cfg appConfig) {
	var lines []string
	lines = append(lines, "")
	lines = append(lines, "  faultline v"+version)
	lines = append(lines, "")

	if cfg.APIEnabled {
		lines = append(lines, "  HTTP API      "+cfg.APIAddr)
	} else {
		lines = append(lines, "  HTTP API      disabled")
	}
	if cfg.OTLPEnabled {
		lines = append(lines, "  OTLP Ingest   "+cfg.OTLPAddr)
	} else {
		lines = append(lines, "  OTLP Ingest   disabled")
	}
	if cfg.TCPEnabled {
		lines = append(lines, "  TCP Ingest    "+cfg.TCPAddr)
	}
	lines = append(lines, "  Storage       "+shortenPath(cfg.DBPath))
	if cfg.JournalEnabled {
		lines = append(lines, "  Journal       "+shortenPath(cfg.JournalPath))
	} else {
		lines = append(lines, "  Journal       disabled")
	}
	if cfg.ConfigPath != "" {
		lines = append(lines, "  Config        "+shortenPath(cfg.ConfigPath))
	} else {
		lines = append(lines, "  Config        default (no file)")
	}

	lines = append(lines, "")
	lines = append(lines, "  Press Ctrl+C to stop")
	lines = append(lines, "")

	fmt.Println(strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
