// Package main wires together the acquisition service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/veilhq/stealthcrawler/internal/acquire"
	"github.com/veilhq/stealthcrawler/internal/api"
	"github.com/veilhq/stealthcrawler/internal/challenge"
	"github.com/veilhq/stealthcrawler/internal/clock/system"
	"github.com/veilhq/stealthcrawler/internal/compliance"
	"github.com/veilhq/stealthcrawler/internal/config"
	"github.com/veilhq/stealthcrawler/internal/extract"
	"github.com/veilhq/stealthcrawler/internal/id/uuid"
	"github.com/veilhq/stealthcrawler/internal/logging"
	"github.com/veilhq/stealthcrawler/internal/metrics"
	"github.com/veilhq/stealthcrawler/internal/netpath"
	"github.com/veilhq/stealthcrawler/internal/orchestrator"
	"github.com/veilhq/stealthcrawler/internal/pacing"
	"github.com/veilhq/stealthcrawler/internal/profile"
	memorypublisher "github.com/veilhq/stealthcrawler/internal/publisher/memory"
	pubsubpublisher "github.com/veilhq/stealthcrawler/internal/publisher/pubsub"
	queueMemory "github.com/veilhq/stealthcrawler/internal/queue/memory"
	"github.com/veilhq/stealthcrawler/internal/scheduler"
	"github.com/veilhq/stealthcrawler/internal/session"
	"github.com/veilhq/stealthcrawler/internal/stealth"
	gcsStorage "github.com/veilhq/stealthcrawler/internal/storage/gcs"
	memoryStorage "github.com/veilhq/stealthcrawler/internal/storage/memory"
	"github.com/veilhq/stealthcrawler/internal/storage/postgres"
)

const healthProbeUserAgent = "stealthcrawler-health/1.0"

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	clock := system.New()
	sleeper := system.NewSleeper()
	idGen := uuid.New()

	profiles := cfg.Profiles
	if len(profiles) == 0 {
		profiles = profile.DefaultProfiles()
	}
	catalog, err := profile.NewCatalog(profiles, cfg.Stealth.SamplingSeed)
	if err != nil {
		logger.Fatal("profile catalog init failed", zap.Error(err))
	}

	pathSpecs := cfg.Paths
	if len(pathSpecs) == 0 {
		// Direct egress keeps the binary runnable without proxy inventory.
		pathSpecs = []netpath.Spec{{
			Provider:    "direct",
			Class:       netpath.ClassDatacenter,
			Capacity:    8,
			Reliability: 0.9,
			MeanLatency: 150 * time.Millisecond,
		}}
	}
	paths, err := netpath.NewManager(pathSpecs, netpath.Config{}, clock, logger.Named("netpath"))
	if err != nil {
		logger.Fatal("network path manager init failed", zap.Error(err))
	}
	if cfg.PathHealth.ProbeURL != "" {
		prober := netpath.NewCollyProber(cfg.PathHealth.ProbeURL, healthProbeUserAgent, 15*time.Second)
		monitor := netpath.NewMonitor(paths, prober, cfg.ProbeInterval(), logger.Named("pathhealth"))
		go monitor.Run(ctx)
	}

	sessions := session.NewManager(session.NewMemoryStore(), cfg.SessionTTL(), clock, logger.Named("session"))

	pipeline := challenge.NewPipeline(
		solverChain(cfg.Challenge),
		cfg.Challenge.MaxAttempts,
		sleeper,
		logger.Named("challenge"),
	)

	gate := compliance.NewStaticGate(cfg.Compliance.DeniedHosts)
	composer := stealth.NewComposer(catalog, paths, gate, cfg.Stealth.RegionHint, logger.Named("stealth"))

	navigator, err := orchestrator.NewChromedpNavigator(orchestrator.ChromedpConfig{
		MaxParallel:       cfg.Browser.MaxParallel,
		NavigationTimeout: cfg.NavTimeout(),
	})
	if err != nil {
		logger.Fatal("browser navigator init failed", zap.Error(err))
	}

	store, err := newJobStore(ctx, cfg, clock)
	if err != nil {
		logger.Fatal("job store init failed", zap.Error(err))
	}
	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}
	publisher, err := newPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}

	orch := orchestrator.New(
		orchestrator.Config{
			AttemptTimeout:  cfg.AttemptTimeout(),
			CompletionTopic: cfg.PubSub.TopicName,
			ArtifactPrefix:  cfg.Storage.Prefix,
		},
		composer,
		paths,
		sessions,
		pacing.NewEngine(cfg.Stealth.SamplingSeed),
		pacing.NewExecutor(sleeper),
		pipeline,
		extract.New(),
		navigator,
		blobs,
		publisher,
		logger.Named("orchestrator"),
	)

	queue := queueMemory.NewQueue(cfg.Scheduler.QueueDepth, clock)
	sched := scheduler.New(
		scheduler.Config{
			Workers:             cfg.Scheduler.Workers,
			MaxAttempts:         cfg.Scheduler.MaxAttempts,
			DefaultStealthLevel: cfg.Stealth.DefaultLevel,
			BackoffBase:         cfg.BackoffBase(),
			BackoffCap:          cfg.BackoffCap(),
		},
		queue,
		store,
		orch,
		clock,
		idGen,
		logger.Named("scheduler"),
	)

	apiServer := api.NewServer(sched, store, orch, catalog, pipeline, clock, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("scheduler started", zap.Int("workers", cfg.Scheduler.Workers))
		sched.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	logger.Info("shutdown complete")
}

// solverChain builds the challenge strategy chain from configured
// endpoints. With both tiers present the hybrid wrapper leads so
// low-confidence automated solutions escalate within one strategy, and
// the plain human tier stays behind it as a distinct fallback the
// attempt budget can reach.
func solverChain(cfg config.ChallengeConfig) []challenge.Solver {
	automated := challenge.NewAutomatedSolver(cfg.AutomatedEndpoint, cfg.AutomatedAPIKey)
	human := challenge.NewHumanAssistSolver(cfg.HumanAssistEndpoint, cfg.HumanAssistAPIKey)
	if automated != nil && human != nil {
		return []challenge.Solver{
			challenge.NewHybridSolver(automated, human, cfg.HybridThreshold),
			human,
		}
	}
	var chain []challenge.Solver
	if automated != nil {
		chain = append(chain, automated)
	}
	if human != nil {
		chain = append(chain, human)
	}
	return chain
}

func newJobStore(ctx context.Context, cfg config.Config, clock acquire.Clock) (acquire.JobStore, error) {
	if cfg.DB.DSN == "" {
		return memoryStorage.NewJobStore(clock), nil
	}
	return postgres.NewJobStore(ctx, postgres.JobStoreConfig{
		DSN:      cfg.DB.DSN,
		MaxConns: int32(cfg.DB.MaxConns),
		MinConns: int32(cfg.DB.MinConns),
	}, clock)
}

func newBlobStore(ctx context.Context, cfg config.Config) (acquire.BlobStore, error) {
	if cfg.Storage.Backend == "gcs" {
		return gcsStorage.NewBlobStore(ctx, cfg.Storage.GCSBucket)
	}
	return memoryStorage.NewBlobStore(), nil
}

func newPublisher(ctx context.Context, cfg config.Config) (acquire.Publisher, error) {
	if cfg.PubSub.ProjectID == "" {
		return memorypublisher.NewPublisher(), nil
	}
	return pubsubpublisher.NewPublisher(ctx, cfg.PubSub.ProjectID)
}
