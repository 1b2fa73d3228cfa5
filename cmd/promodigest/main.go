// Command promodigest runs the promotional-offer digest pipeline: seeding
// the store catalog, running one daily or weekly pass, and a handful of
// operator utilities for inspecting the catalog and recent runs.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/ignite/promo-digest/internal/catalog"
	"github.com/ignite/promo-digest/internal/config"
	"github.com/ignite/promo-digest/internal/domain"
	"github.com/ignite/promo-digest/internal/pkg/logger"
	"github.com/ignite/promo-digest/internal/statusapi"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		cancel()
	}()

	var cmdErr error
	switch os.Args[1] {
	case "seed":
		cmdErr = runSeed(ctx, cfg, os.Args[2:])
	case "sync-stores":
		cmdErr = runSeed(ctx, cfg, os.Args[2:])
	case "run":
		cmdErr = runDigest(ctx, cfg, domain.RunDaily, os.Args[2:])
	case "weekly":
		cmdErr = runDigest(ctx, cfg, domain.RunWeekly, os.Args[2:])
	case "status":
		cmdErr = runStatusAPI(ctx, cfg)
	case "sources":
		cmdErr = runSources(ctx, cfg, os.Args[2:])
	case "stores":
		cmdErr = runStores(ctx, cfg, os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
	if cmdErr != nil {
		logger.Error("command failed", "command", os.Args[1], "error", cmdErr)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `promodigest <command> [args]

Commands:
  seed <stores.yaml>              load the store/source catalog into Postgres
  sync-stores <stores.yaml>       alias for seed
  run [--dry-run] [--stores=a,b]  run one daily digest pass
  weekly [--dry-run] [--stores=a,b]
                                  run one weekly rollup pass
  status                          serve the read-only status API
  sources validate <stores.yaml>  parse stores.yaml and report errors
  sources report                  print per-store source_configs health
  stores list                     list active stores
  stores search <query>           search stores by slug/name substring`)
}

func openDB(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func runStatusAPI(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	runs := newRunRepo(db)
	stores := newStoreRepo(db)
	promos := newPromoRepo(db)

	srv := statusapi.NewServer(runs, stores, promos)
	logger.Info("status api listening", "addr", cfg.StatusAPIAddr)
	return srv.ListenAndServe(ctx, cfg.StatusAPIAddr)
}

func parseAllowlist(args []string) (stores []string, dryRun bool) {
	for _, a := range args {
		switch {
		case a == "--dry-run":
			dryRun = true
		case len(a) > 9 && a[:9] == "--stores=":
			stores = splitCSV(a[9:])
		}
	}
	return stores, dryRun
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
