package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clubside/regbot/internal/adapters"
	"github.com/clubside/regbot/internal/config"
	"github.com/clubside/regbot/internal/dispatch"
	"github.com/clubside/regbot/internal/httpapi"
	"github.com/clubside/regbot/internal/llmloop"
	"github.com/clubside/regbot/internal/photo"
	"github.com/clubside/regbot/internal/providers"
	"github.com/clubside/regbot/internal/record"
	"github.com/clubside/regbot/internal/routine"
	"github.com/clubside/regbot/internal/session"
	"github.com/clubside/regbot/internal/tools"
	"github.com/clubside/regbot/internal/webhook"
)

func runServe() {
	// Setup structured logging
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := validateConfig(cfg); err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Model provider
	var provider providers.Provider
	switch cfg.Model.Provider {
	case "anthropic", "":
		opts := []providers.AnthropicOption{providers.WithAnthropicModel(cfg.Model.Model)}
		if cfg.Model.APIBase != "" {
			opts = append(opts, providers.WithAnthropicBaseURL(cfg.Model.APIBase))
		}
		provider = providers.NewAnthropicProvider(cfg.Model.APIKey, opts...)
	case "openai":
		provider = providers.NewOpenAIProvider("openai", cfg.Model.APIKey, cfg.Model.APIBase, cfg.Model.Model)
	default:
		slog.Error("unknown model provider", "provider", cfg.Model.Provider)
		os.Exit(1)
	}

	// Registration record store: Postgres when a DSN is configured,
	// in-memory otherwise (dev and tests).
	var records record.Store
	if cfg.Record.PostgresDSN != "" {
		pg, err := record.NewPGStore(ctx, cfg.Record.PostgresDSN)
		if err != nil {
			slog.Error("could not open record store", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		records = pg
	} else {
		mem := record.NewMemStore()
		seedDefaultTeams(mem)
		if cfg.DevFixtures {
			seedDevFixtures(mem)
		}
		records = mem
		slog.Warn("no REGBOT_POSTGRES_DSN set, using the in-memory record store")
	}

	// External adapters
	payment := adapters.NewPaymentProvider(cfg.Payment.APIKey, cfg.Payment.APIBase)
	sms := adapters.NewSMSProvider(cfg.SMS.APIKey, cfg.SMS.APIBase, cfg.SMS.SenderName, 1)
	address := adapters.NewAddressLookup(cfg.Address.APIKey, cfg.Address.APIBase, cfg.Address.CatchmentTowns)
	objectStore, err := adapters.NewObjectStore(ctx, cfg.ObjectStore.Bucket, cfg.ObjectStore.Region, cfg.ObjectStore.Endpoint, cfg.ObjectStore.AccessKeyID, cfg.ObjectStore.SecretAccessKey)
	if err != nil {
		slog.Error("could not build object store adapter", "error", err)
		os.Exit(1)
	}
	modelAdapter := adapters.NewModelAdapter(provider, 10*time.Second)

	if err := os.MkdirAll(config.ExpandHome(cfg.Photo.TempDir), 0o700); err != nil {
		slog.Error("could not create photo temp dir", "dir", cfg.Photo.TempDir, "error", err)
		os.Exit(1)
	}

	// Photo pipeline
	pipeline := photo.New(objectStore, cfg.Photo.HEICHelper, cfg.Season.Current)

	// Tool registry with all tools
	registry := tools.NewRegistry()
	registry.Register(tools.NewPersonNameValidationTool())
	registry.Register(tools.NewChildDOBValidationTool(ageGroupCutoff(cfg.Season.Current)))
	registry.Register(tools.NewMedicalIssuesValidationTool())
	registry.Register(tools.NewAddressLookupTool(address))
	registry.Register(tools.NewAddressValidationTool(address))
	registry.Register(tools.NewCheckRecordExistsTool(records))
	registry.Register(tools.NewCheckKitNeededTool(records))
	registry.Register(tools.NewCheckShirtNumberTool(records))
	registry.Register(tools.NewUpdateRegDetailsTool(records))
	registry.Register(tools.NewUpdateKitDetailsTool(records))
	registry.Register(tools.NewUpdatePhotoLinkTool(records))
	registry.Register(tools.NewCreatePaymentTokenTool(payment))
	registry.Register(tools.NewCreateSignupLinkTool(payment))
	registry.Register(tools.NewSendSMSPaymentLinkTool(sms))
	registry.Register(tools.NewUploadPhotoTool(pipeline))

	// Orchestration core
	loop := llmloop.New(provider, registry, llmloop.DefaultConfig())
	sessions := session.NewStore(cfg.Sessions.MaxHistory, cfg.Sessions.IdleTimeout)
	locker := session.NewLocker(0)
	routineEngine := routine.New()
	dispatcher := dispatch.New(sessions, locker, routineEngine, records, loop, cfg.Season.Current)

	status := photo.NewStatusStore()
	worker := photo.NewWorker(sessions, locker, routineEngine, loop, status, config.ExpandHome(cfg.Photo.TempDir), cfg.Photo.PoolSize)
	defer worker.Close()

	processor := webhook.New(records, payment, cfg.Payment.WebhookSecret, cfg.Payment.DevMode)

	// Hot-reload season/photo settings from the config file.
	if watcher, werr := config.Watch(cfgPath, cfg); werr == nil {
		defer watcher.Close()
	} else {
		slog.Debug("config watch unavailable", "error", werr)
	}

	// Idle-session sweep
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := sessions.Sweep(now); n > 0 {
					slog.Info("swept idle sessions", "count", n)
				}
			}
		}
	}()

	adapterList := []adapters.Adapter{modelAdapter, payment, sms, address, objectStore}
	server := httpapi.NewServer(cfg, sessions, dispatcher, pipeline, worker, status, processor, records, payment, adapterList)

	if err := server.Start(ctx); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// validateConfig enforces the fatal-at-startup rules: the model API key is
// always required, and the webhook secret may be empty only in dev mode.
func validateConfig(cfg *config.Config) error {
	if cfg.Model.APIKey == "" {
		return fmt.Errorf("REGBOT_MODEL_API_KEY is required")
	}
	if cfg.Payment.WebhookSecret == "" && !cfg.Payment.DevMode {
		return fmt.Errorf("REGBOT_PAYMENT_WEBHOOK_SECRET is required outside dev mode")
	}
	if cfg.ObjectStore.Bucket == "" {
		return fmt.Errorf("REGBOT_S3_BUCKET is required")
	}
	return nil
}

// ageGroupCutoff returns 31 August of the season's opening year, the date
// the child_dob_validation tool computes age groups against. "2526" opens
// in 2025.
func ageGroupCutoff(season string) time.Time {
	year := 2025
	if len(season) == 4 {
		if y, err := time.Parse("06", season[:2]); err == nil {
			year = y.Year()
		}
	}
	return time.Date(year, time.August, 31, 0, 0, 0, 0, time.UTC)
}

// seedDefaultTeams loads the club's sides into the in-memory team table so
// registration codes resolve without a database.
func seedDefaultTeams(mem *record.MemStore) {
	for _, team := range []string{"Lions", "Tigers", "Panthers", "Falcons"} {
		for _, age := range []string{"U7", "U8", "U9", "U10", "U11", "U12", "U13", "U14", "U15", "U16"} {
			mem.SeedTeam(team, age, true)
		}
	}
	mem.SeedTeam("mens", "Open Age", false)
}

// seedDevFixtures inserts the manual-QA rows gated behind
// REGBOT_DEV_FIXTURES: a returning player and an active sibling.
func seedDevFixtures(mem *record.MemStore) {
	mem.SeedRegistration(&record.Registration{
		BillingRequestID: "br_dev_returning",
		ParentFullName:   "Sarah Martinez",
		ChildFullName:    "Seb Martinez",
		Team:             "Lions",
		AgeGroup:         "U9",
		Season:           "2526",
		PlayedLastSeason: true,
		Status:           record.StatusActive,
	})
	mem.SeedRegistration(&record.Registration{
		BillingRequestID: "br_dev_sibling",
		ParentFullName:   "John Smith",
		ChildFullName:    "Liam Smith",
		Team:             "Tigers",
		AgeGroup:         "U12",
		Season:           "2526",
		MonthlyAmount:    27.50,
		Status:           record.StatusActive,
	})
	slog.Info("dev fixtures seeded", "rows", 2)
}
