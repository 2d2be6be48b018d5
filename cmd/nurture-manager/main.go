// cmd/nurture-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"nurture-engine/internal/agentverse"
	"nurture-engine/internal/common/aws"
	"nurture-engine/internal/common/config"
	"nurture-engine/internal/common/database"
	commonhttp "nurture-engine/internal/common/http"
	"nurture-engine/internal/common/logger"
	"nurture-engine/internal/common/observability"
	"nurture-engine/internal/llm"
	"nurture-engine/internal/nurture/dispatch"
	"nurture-engine/internal/nurture/engagement"
	"nurture-engine/internal/nurture/orchestrator"
	"nurture-engine/internal/nurture/planner"
	"nurture-engine/internal/nurture/scheduler"
	"nurture-engine/internal/store"
	"nurture-engine/internal/tracking"
	"nurture-engine/pkg/registry"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	bootLog := logger.New("info", "console")

	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()

	// Wrap zap logger with our logger interface
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting nurture manager...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New("nurture-manager")
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		// Test the connection with context
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	if err := store.EnsureSchema(ctx, pg.DB); err != nil {
		zapLog.Fatal("schema migration failed", zap.Error(err))
	}

	// --- Init Elasticsearch with retry ---
	var esClient *database.ElasticsearchClient
	err = retryWithBackoff(func() error {
		var err error
		esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		// Test the connection
		return esClient.Ping()
	}, 15, 2*time.Second, zapLog, "Elasticsearch connection")

	if err != nil {
		zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
	}
	zapLog.Info("Elasticsearch connected successfully")

	// --- Init Redis with retry ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		// Test the connection with context
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init Stores ---
	leads := store.NewLeadStore(pg.DB)
	plans := store.NewPlanStore(pg.DB)
	jobs := store.NewJobStore(pg.DB)

	interactions := store.NewInteractionStore(esClient.Client, "")
	if err := interactions.EnsureIndex(ctx); err != nil {
		zapLog.Fatal("interaction index setup failed", zap.Error(err))
	}

	embed := llm.LocalEmbeddingFunc()
	if cfg.LLM.Enabled {
		embedder, err := llm.NewEmbedder(&cfg.LLM)
		if err != nil {
			zapLog.Fatal("embedder init failed", zap.Error(err))
		}
		embed = embedder.Func()
	}

	templates, err := store.NewTemplateStore(cfg.Templates.PersistPath, cfg.Templates.Collection, embed)
	if err != nil {
		zapLog.Fatal("template store failed", zap.Error(err))
	}

	if cfg.Templates.SeedOnStart {
		reg, err := registry.LoadRegistry(cfg.Templates.RegistryPath)
		if err != nil {
			zapLog.Fatal("template registry load failed", zap.Error(err))
		}
		if err := reg.Validate(); err != nil {
			zapLog.Fatal("template registry invalid", zap.Error(err))
		}
		if err := templates.Seed(ctx, reg.Models()); err != nil {
			zapLog.Fatal("template seed failed", zap.Error(err))
		}
		zapLog.Info("Template registry seeded", zap.Int("templates", templates.Count()))
	}

	// --- Wire Nurture Pipeline ---
	tracker := engagement.NewTracker(interactions, &cfg.Engagement, log)

	var completion planner.CompletionClient
	if cfg.LLM.Enabled {
		completion = llm.NewClient(&cfg.LLM, log)
	}
	generator := planner.NewGenerator(completion, templates, &cfg.Planner, &cfg.Engagement, log)

	sched := scheduler.New(jobs, &cfg.Scheduler, log)
	marks := scheduler.NewExecutionMarks(redis.Client, config.GetDuration(cfg.Scheduler.MisfireGrace), log)
	locker := orchestrator.NewLeadLocker(redis.Client, &cfg.Scheduler, log)

	pixels := tracking.NewPixelService(redis.Client, &cfg.Tracking, log)

	notifiers := []dispatch.Notifier{dispatch.NewLogNotifier(log)}
	if cfg.Integrations.AWS.SES.Enabled {
		sesClient, err := aws.NewSESClient(ctx, cfg.Integrations.AWS.Region)
		if err != nil {
			zapLog.Fatal("ses client failed", zap.Error(err))
		}
		notifiers = append(notifiers, dispatch.NewEmailNotifier(sesClient, cfg.Integrations.AWS.SES.FromEmail, log))
	}
	if cfg.Integrations.Slack.Enabled {
		slack := cfg.Integrations.Slack
		notifiers = append(notifiers, dispatch.NewSlackNotifier(
			commonhttp.NewClient(10*time.Second),
			slack.APIBaseURL, slack.BotToken, slack.DefaultChannel, log,
		))
	}
	dispatcher := dispatch.NewDispatcher(dispatch.NewFactory(notifiers...), pixels, log)

	var alerts orchestrator.SNSAPI
	if cfg.Integrations.AWS.SNS.Enabled {
		snsClient, err := aws.NewSNSClient(ctx, cfg.Integrations.AWS.Region)
		if err != nil {
			zapLog.Fatal("sns client failed", zap.Error(err))
		}
		alerts = snsClient
	}

	engine := orchestrator.NewEngine(orchestrator.Dependencies{
		Leads:      leads,
		Plans:      plans,
		Jobs:       jobs,
		Templates:  templates,
		Tracker:    tracker,
		Planner:    generator,
		Scheduler:  sched,
		Dispatcher: dispatcher,
		Locker:     locker,
		Marks:      marks,
		Alerts:     alerts,
		Logger:     log,
	}, cfg.Integrations.AWS.SNS.EscalationTopicARN)

	zapLog.Info("Nurture pipeline wired",
		zap.Int("notifiers", len(notifiers)),
		zap.Bool("llmEnabled", cfg.LLM.Enabled),
		zap.Bool("sesEnabled", cfg.Integrations.AWS.SES.Enabled),
		zap.Bool("slackEnabled", cfg.Integrations.Slack.Enabled),
	)

	// --- Start Scheduler Poller ---
	runCtx, stopPipeline := context.WithCancel(ctx)
	defer stopPipeline()

	poller := scheduler.NewPoller(jobs, engine, marks, &cfg.Scheduler, log)
	pollerDone := make(chan struct{})
	go func() {
		poller.Run(runCtx)
		close(pollerDone)
	}()

	// --- Start Tracking Server ---
	trackingSrv := tracking.NewServer(cfg.Tracking.ListenAddr, pixels, tracker, leads, log)
	go func() {
		zapLog.Info("Tracking server listening", zap.String("addr", cfg.Tracking.ListenAddr))
		if err := trackingSrv.Start(); err != nil {
			zapLog.Error("Tracking server failed", zap.Error(err))
		}
	}()

	// --- Register on Agentverse (optional) ---
	if cfg.Agentverse.Enabled && cfg.Agentverse.RegisterOnStart {
		av := agentverse.NewClient(&cfg.Agentverse, log)
		if _, err := av.Register(ctx, agentverse.SelfRegistration(&cfg.Agentverse)); err != nil {
			zapLog.Warn("agentverse registration failed, continuing without discovery", zap.Error(err))
		}
	}

	// --- Health & Metrics Server ---
	go func() {
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "healthy",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "ready",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.Handle("/metrics", promhttp.Handler())
		zapLog.Info("Health/Metrics server listening", zap.String("addr", cfg.Metrics.ListenAddr))
		if err := http.ListenAndServe(cfg.Metrics.ListenAddr, nil); err != nil {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping...")
	stopPipeline()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	select {
	case <-pollerDone:
	case <-shutdownCtx.Done():
		zapLog.Warn("poller drain timed out")
	}

	if err := trackingSrv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Tracking server shutdown failed", zap.Error(err))
	}

	zapLog.Info("Nurture manager stopped gracefully")
}
