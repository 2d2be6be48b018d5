// cmd/tools/lead-importer/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"nurture-engine/internal/common/config"
	"nurture-engine/internal/common/database"
	commonhttp "nurture-engine/internal/common/http"
	"nurture-engine/internal/common/logger"
	"nurture-engine/internal/leads/parser"
	"nurture-engine/internal/llm"
	"nurture-engine/internal/models"
	"nurture-engine/internal/nurture/dispatch"
	"nurture-engine/internal/nurture/engagement"
	"nurture-engine/internal/nurture/orchestrator"
	"nurture-engine/internal/nurture/planner"
	"nurture-engine/internal/nurture/scheduler"
	"nurture-engine/internal/store"
	"nurture-engine/internal/tracking"
	"nurture-engine/pkg/registry"
)

func main() {
	file := flag.String("file", "", "Path to a CSV or PDF export to import")
	apiURL := flag.String("url", "", "Lead feed URL returning a JSON array")
	dryRun := flag.Bool("dry-run", false, "Parse and validate only, write nothing")
	start := flag.Bool("start", false, "Kick off nurturing for each imported lead")
	flag.Parse()

	if (*file == "") == (*apiURL == "") {
		fmt.Println("Error: exactly one of -file or -url is required.")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, "console")
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	ctx := context.Background()

	p := parser.New(commonhttp.NewClient(30*time.Second), log)

	var parsed []models.Lead
	switch {
	case *apiURL != "":
		parsed, err = p.FetchAPI(ctx, *apiURL)
	case strings.EqualFold(filepath.Ext(*file), ".pdf"):
		parsed, err = p.ParsePDF(ctx, *file)
	default:
		parsed, err = p.ParseCSV(ctx, *file)
	}
	if err != nil {
		fmt.Printf("Error parsing leads: %v\n", err)
		os.Exit(1)
	}
	if len(parsed) == 0 {
		fmt.Println("No valid leads found.")
		return
	}

	if *dryRun {
		for _, lead := range parsed {
			fmt.Printf("%-32s %-24s %s\n", lead.Email, lead.FullName(), lead.CompanyName)
		}
		fmt.Printf("Dry run: %d leads parsed, nothing written.\n", len(parsed))
		return
	}

	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		fmt.Printf("Error connecting to postgres: %v\n", err)
		os.Exit(1)
	}
	defer pg.Close()

	if err := pg.Ping(ctx); err != nil {
		fmt.Printf("Error pinging postgres: %v\n", err)
		os.Exit(1)
	}
	if err := store.EnsureSchema(ctx, pg.DB); err != nil {
		fmt.Printf("Error migrating schema: %v\n", err)
		os.Exit(1)
	}

	leadStore := store.NewLeadStore(pg.DB)

	imported := make([]string, 0, len(parsed))
	importFailed := 0
	for i := range parsed {
		id, err := leadStore.Upsert(ctx, &parsed[i])
		if err != nil {
			fmt.Printf("Error importing %s: %v\n", parsed[i].Email, err)
			importFailed++
			continue
		}
		imported = append(imported, id)
	}
	fmt.Printf("Imported %d leads (%d failed).\n", len(imported), importFailed)

	if !*start || len(imported) == 0 {
		return
	}

	engine, cleanup, err := buildEngine(ctx, cfg, pg, leadStore, log)
	if err != nil {
		fmt.Printf("Error wiring nurture engine: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	scheduled, skipped, startFailed := 0, 0, 0
	for _, id := range imported {
		result, err := engine.StartNurturing(ctx, id)
		if err != nil {
			fmt.Printf("Error starting nurture for %s: %v\n", id, err)
			startFailed++
			continue
		}
		switch result.Outcome {
		case orchestrator.OutcomeScheduled:
			scheduled++
			fmt.Printf("Scheduled %d-step plan for %s\n", len(result.Plan.Steps), id)
		default:
			skipped++
			fmt.Printf("Skipped %s: %s\n", id, result.Reason)
		}
	}
	fmt.Printf("Nurturing started: %d scheduled, %d skipped, %d failed.\n", scheduled, skipped, startFailed)
}

// buildEngine wires the dependency set StartNurturing needs. Jobs scheduled
// here fire later inside the long-running manager, so dispatch stays
// log-only in this process.
func buildEngine(ctx context.Context, cfg *config.Config, pg *database.PostgresClient, leads *store.LeadStore, log logger.Logger) (*orchestrator.Engine, func(), error) {
	redis, err := database.NewRedis(cfg.Database.Redis)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { redis.Close() }

	esClient, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	interactions := store.NewInteractionStore(esClient.Client, "")
	if err := interactions.EnsureIndex(ctx); err != nil {
		cleanup()
		return nil, nil, err
	}

	embed := llm.LocalEmbeddingFunc()
	if cfg.LLM.Enabled {
		embedder, err := llm.NewEmbedder(&cfg.LLM)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		embed = embedder.Func()
	}

	templates, err := store.NewTemplateStore(cfg.Templates.PersistPath, cfg.Templates.Collection, embed)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if cfg.Templates.SeedOnStart {
		reg, err := registry.LoadRegistry(cfg.Templates.RegistryPath)
		if err == nil {
			err = reg.Validate()
		}
		if err == nil {
			err = templates.Seed(ctx, reg.Models())
		}
		if err != nil {
			cleanup()
			return nil, nil, err
		}
	}

	tracker := engagement.NewTracker(interactions, &cfg.Engagement, log)

	var completion planner.CompletionClient
	if cfg.LLM.Enabled {
		completion = llm.NewClient(&cfg.LLM, log)
	}
	generator := planner.NewGenerator(completion, templates, &cfg.Planner, &cfg.Engagement, log)

	jobs := store.NewJobStore(pg.DB)
	plans := store.NewPlanStore(pg.DB)
	sched := scheduler.New(jobs, &cfg.Scheduler, log)
	marks := scheduler.NewExecutionMarks(redis.Client, config.GetDuration(cfg.Scheduler.MisfireGrace), log)
	locker := orchestrator.NewLeadLocker(redis.Client, &cfg.Scheduler, log)

	pixels := tracking.NewPixelService(redis.Client, &cfg.Tracking, log)
	dispatcher := dispatch.NewDispatcher(dispatch.NewFactory(dispatch.NewLogNotifier(log)), pixels, log)

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
		Logger:     log,
	}, "")

	return engine, cleanup, nil
}
