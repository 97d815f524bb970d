package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/clubside/regbot/internal/adapters"
	"github.com/clubside/regbot/internal/config"
	"github.com/clubside/regbot/internal/providers"
	"github.com/clubside/regbot/internal/record"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and external adapter health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("regbot doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults + env)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	fmt.Printf("  Season:   %s (cutoff %s)\n", cfg.Season.Current, cfg.Season.CutoffDate)

	fmt.Println()
	fmt.Println("  Credentials:")
	checkCredential("Model", cfg.Model.APIKey)
	checkCredential("Payment", cfg.Payment.APIKey)
	checkCredential("Webhook", cfg.Payment.WebhookSecret)
	checkCredential("Address", cfg.Address.APIKey)
	checkCredential("SMS", cfg.SMS.APIKey)
	checkCredential("S3 key", cfg.ObjectStore.AccessKeyID)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Println()
	fmt.Println("  Adapters:")
	probeList := buildAdapters(ctx, cfg)
	for _, a := range probeList {
		report := adapters.Probe(ctx, a)
		if report.Up {
			fmt.Printf("    %-18s OK (%dms)\n", a.Name()+":", report.LatencyMS)
		} else {
			fmt.Printf("    %-18s DOWN (%s)\n", a.Name()+":", report.LastError)
		}
	}

	fmt.Println()
	fmt.Println("  Record store:")
	if cfg.Record.PostgresDSN == "" {
		fmt.Println("    postgres:          (not configured, in-memory store)")
	} else {
		checkPostgres(ctx, cfg.Record.PostgresDSN)
	}

	fmt.Println()
	fmt.Println("  External Tools:")
	checkBinary(heicHelperName(cfg))

	fmt.Println()
	ws := config.ExpandHome(cfg.Photo.TempDir)
	fmt.Printf("  Photo temp dir: %s", ws)
	if _, err := os.Stat(ws); err != nil {
		fmt.Println(" (NOT FOUND, created at startup)")
	} else {
		fmt.Println(" (OK)")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

// buildAdapters constructs the probeable adapter set without starting the
// server; the object store is skipped when no bucket is configured.
func buildAdapters(ctx context.Context, cfg *config.Config) []adapters.Adapter {
	var provider providers.Provider
	if cfg.Model.Provider == "openai" {
		provider = providers.NewOpenAIProvider("openai", cfg.Model.APIKey, cfg.Model.APIBase, cfg.Model.Model)
	} else {
		provider = providers.NewAnthropicProvider(cfg.Model.APIKey, providers.WithAnthropicModel(cfg.Model.Model))
	}

	list := []adapters.Adapter{
		adapters.NewModelAdapter(provider, 10*time.Second),
		adapters.NewPaymentProvider(cfg.Payment.APIKey, cfg.Payment.APIBase),
		adapters.NewSMSProvider(cfg.SMS.APIKey, cfg.SMS.APIBase, cfg.SMS.SenderName, 1),
		adapters.NewAddressLookup(cfg.Address.APIKey, cfg.Address.APIBase, cfg.Address.CatchmentTowns),
	}
	if cfg.ObjectStore.Bucket != "" {
		if store, err := adapters.NewObjectStore(ctx, cfg.ObjectStore.Bucket, cfg.ObjectStore.Region, cfg.ObjectStore.Endpoint, cfg.ObjectStore.AccessKeyID, cfg.ObjectStore.SecretAccessKey); err == nil {
			list = append(list, store)
		}
	}
	return list
}

func checkPostgres(ctx context.Context, dsn string) {
	pg, err := record.NewPGStore(ctx, dsn)
	if err != nil {
		fmt.Printf("    postgres:          CONNECT FAILED (%s)\n", err)
		return
	}
	defer pg.Close()
	fmt.Println("    postgres:          OK")
}

func heicHelperName(cfg *config.Config) string {
	if cfg.Photo.HEICHelper != "" {
		return cfg.Photo.HEICHelper
	}
	return "heif-convert"
}

func checkCredential(name, value string) {
	if value == "" {
		fmt.Printf("    %-10s (not configured)\n", name+":")
		return
	}
	masked := strings.Repeat("*", len(value))
	if len(value) > 8 {
		masked = value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
	}
	fmt.Printf("    %-10s %s\n", name+":", masked)
}

func checkBinary(name string) {
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-14s NOT FOUND (HEIC uploads will fail)\n", name+":")
	} else {
		fmt.Printf("    %-14s %s\n", name+":", path)
	}
}
