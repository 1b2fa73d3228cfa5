package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ignite/promo-digest/internal/catalog"
	"github.com/ignite/promo-digest/internal/config"
	"github.com/ignite/promo-digest/internal/domain"
	"github.com/ignite/promo-digest/internal/pkg/logger"
)

func runSeed(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: promodigest seed <stores.yaml>")
	}
	cat, err := catalog.LoadCatalog(args[0])
	if err != nil {
		return err
	}

	db, err := openDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := newStoreRepo(db)
	seeder := catalog.NewSeeder(repo)
	stats, err := seeder.Seed(ctx, cat)
	if err != nil {
		return err
	}
	logger.Info("seed complete",
		"stores_upserted", stats.StoresUpserted,
		"sources_upserted", stats.SourcesUpserted,
		"mail_rules", stats.MailRules,
		"errors", len(stats.Errors))
	for _, e := range stats.Errors {
		fmt.Fprintln(os.Stderr, "seed error:", e)
	}
	return nil
}

func runDigest(ctx context.Context, cfg *config.Config, runType domain.RunType, args []string) error {
	allowlist, dryRun := parseAllowlist(args)

	db, err := openDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	orch, err := buildOrchestrator(ctx, cfg, db)
	if err != nil {
		return err
	}

	outcome, stats, err := orch.Run(ctx, runType, dryRun, allowlist)
	logger.Info("run finished", "run_type", runType, "outcome", outcome,
		"ingest", stats.Ingest, "extract", stats.Extract, "merge", stats.Merge,
		"select", stats.Select, "deliver", stats.Deliver)
	return err
}

func runSources(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: promodigest sources <validate|report> [args]")
	}
	switch args[0] {
	case "validate":
		if len(args) < 2 {
			return fmt.Errorf("usage: promodigest sources validate <stores.yaml>")
		}
		cat, err := catalog.LoadCatalog(args[1])
		if err != nil {
			return err
		}
		for _, s := range cat.Stores {
			if s.Slug == "" {
				fmt.Fprintln(os.Stderr, "store missing slug:", s.Name)
			}
			for _, src := range s.Sources {
				if !src.IsMailRule() && src.Type != "" && src.URL == "" && src.Pattern == "" {
					fmt.Fprintf(os.Stderr, "store %s: source %s has neither url nor pattern\n", s.Slug, src.Type)
				}
			}
		}
		fmt.Printf("validated %d stores\n", len(cat.Stores))
		return nil
	case "report":
		db, err := openDB(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		repo := newStoreRepo(db)
		stores, err := repo.ActiveStores(ctx, nil)
		if err != nil {
			return err
		}
		for _, s := range stores {
			sources, err := repo.ListActiveSources(ctx, s.ID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", s.Slug, err)
				continue
			}
			fmt.Printf("%-30s %d active sources\n", s.Slug, len(sources))
			for _, src := range sources {
				fmt.Printf("  tier=%d type=%-10s failures=%d last_ok=%v\n",
					src.Tier, src.SourceType, src.FailureCount, src.LastSuccessfulRun)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown sources subcommand %q", args[0])
	}
}

func runStores(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: promodigest stores <list|search|allowlist> [args]")
	}

	db, err := openDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	repo := newStoreRepo(db)

	switch args[0] {
	case "list":
		stores, err := repo.ActiveStores(ctx, nil)
		if err != nil {
			return err
		}
		for _, s := range stores {
			fmt.Printf("%-20s %-30s %s\n", s.Slug, s.Name, s.RobotsPolicy)
		}
		return nil
	case "search":
		if len(args) < 2 {
			return fmt.Errorf("usage: promodigest stores search <query>")
		}
		stores, err := repo.ActiveStores(ctx, nil)
		if err != nil {
			return err
		}
		query := args[1]
		for _, s := range stores {
			if containsFold(s.Slug, query) || containsFold(s.Name, query) {
				fmt.Printf("%-20s %-30s\n", s.Slug, s.Name)
			}
		}
		return nil
	case "allowlist":
		stores, err := repo.ActiveStores(ctx, args[1:])
		if err != nil {
			return err
		}
		for _, s := range stores {
			fmt.Println(s.Slug)
		}
		return nil
	default:
		return fmt.Errorf("unknown stores subcommand %q", args[0])
	}
}

func containsFold(haystack, needle string) bool {
	h, n := []rune(haystack), []rune(needle)
	if len(n) == 0 {
		return true
	}
	lower := func(rs []rune) []rune {
		out := make([]rune, len(rs))
		for i, r := range rs {
			if r >= 'A' && r <= 'Z' {
				r += 'a' - 'A'
			}
			out[i] = r
		}
		return out
	}
	h, n = lower(h), lower(n)
	for i := 0; i+len(n) <= len(h); i++ {
		match := true
		for j := range n {
			if h[i+j] != n[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
