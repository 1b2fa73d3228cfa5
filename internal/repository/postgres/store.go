package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/promo-digest/internal/adapters"
	"github.com/ignite/promo-digest/internal/catalog"
	"github.com/ignite/promo-digest/internal/domain"
)

// StoreRepo implements catalog.Repository, router.SourceRepository, and
// orchestrator.StoreLister against PostgreSQL.
type StoreRepo struct{ db *sql.DB }

// NewStoreRepo creates a Postgres-backed store/source repository.
func NewStoreRepo(db *sql.DB) *StoreRepo { return &StoreRepo{db: db} }

// UpsertStore inserts or updates a Store by slug, returning its ID.
func (r *StoreRepo) UpsertStore(ctx context.Context, store domain.Store) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO stores (slug, name, website, category, robots_policy, crawl_delay_seconds, max_requests_per_run, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (slug) DO UPDATE SET
			name = EXCLUDED.name,
			website = EXCLUDED.website,
			category = EXCLUDED.category,
			robots_policy = EXCLUDED.robots_policy,
			crawl_delay_seconds = EXCLUDED.crawl_delay_seconds,
			max_requests_per_run = EXCLUDED.max_requests_per_run,
			updated_at = NOW()
		RETURNING id
	`, store.Slug, store.Name, store.Website, store.Category, string(store.RobotsPolicy),
		store.CrawlDelaySeconds, store.MaxRequestsPerRun).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: upsert: %w", err)
	}
	return id, nil
}

// UpsertSourceConfig inserts or updates a non-mail SourceConfig keyed by
// (store_id, source_type, config_key), preserving existing validator state
// (etag, last_modified, failure_count, last_successful_run) across reseeds.
func (r *StoreRepo) UpsertSourceConfig(ctx context.Context, storeID int64, cfg domain.SourceConfig) error {
	configJSON, err := json.Marshal(cfg.Config)
	if err != nil {
		return fmt.Errorf("source: marshal config: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO source_configs (store_id, source_type, tier, config_key, config, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (store_id, source_type, config_key) DO UPDATE SET
			tier = EXCLUDED.tier,
			config = EXCLUDED.config,
			active = EXCLUDED.active,
			updated_at = NOW()
	`, storeID, string(cfg.SourceType), cfg.Tier, cfg.ConfigKey, configJSON, cfg.Active)
	if err != nil {
		return fmt.Errorf("source: upsert: %w", err)
	}
	return nil
}

// ListMailRules returns every mail_from_address/mail_from_domain rule,
// joined back to its owning store's slug.
func (r *StoreRepo) ListMailRules(ctx context.Context) ([]catalog.MailRule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.slug, m.source_type, m.pattern
		FROM mail_rules m JOIN stores s ON s.id = m.store_id
		ORDER BY s.slug
	`)
	if err != nil {
		return nil, fmt.Errorf("mail rules: list: %w", err)
	}
	defer rows.Close()

	var out []catalog.MailRule
	for rows.Next() {
		var rule catalog.MailRule
		var sourceType string
		if err := rows.Scan(&rule.StoreSlug, &sourceType, &rule.Pattern); err != nil {
			return nil, fmt.Errorf("mail rules: scan: %w", err)
		}
		rule.SourceType = domain.SourceType(sourceType)
		out = append(out, rule)
	}
	return out, rows.Err()
}

// ReplaceMailRules replaces the full mail-rule set in one transaction.
func (r *StoreRepo) ReplaceMailRules(ctx context.Context, storeSlugToID map[string]int64, rules []catalog.MailRule) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mail rules: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM mail_rules`); err != nil {
		return fmt.Errorf("mail rules: clear: %w", err)
	}
	for _, rule := range rules {
		storeID, ok := storeSlugToID[rule.StoreSlug]
		if !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO mail_rules (store_id, source_type, pattern, created_at)
			VALUES ($1, $2, $3, NOW())
		`, storeID, string(rule.SourceType), rule.Pattern); err != nil {
			return fmt.Errorf("mail rules: insert: %w", err)
		}
	}
	return tx.Commit()
}

// ActiveStores returns every store, optionally filtered to a slug allowlist
// (empty allowlist means all stores).
func (r *StoreRepo) ActiveStores(ctx context.Context, allowlist []string) ([]domain.Store, error) {
	query := `SELECT id, slug, name, website, category, robots_policy, crawl_delay_seconds, max_requests_per_run, created_at, updated_at FROM stores`
	var args []interface{}
	if len(allowlist) > 0 {
		query += ` WHERE slug = ANY($1)`
		args = append(args, pq.Array(allowlist))
	}
	query += ` ORDER BY slug`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list active: %w", err)
	}
	defer rows.Close()

	var out []domain.Store
	for rows.Next() {
		var s domain.Store
		var robots string
		if err := rows.Scan(&s.ID, &s.Slug, &s.Name, &s.Website, &s.Category, &robots,
			&s.CrawlDelaySeconds, &s.MaxRequestsPerRun, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		s.RobotsPolicy = domain.RobotsPolicy(robots)
		out = append(out, s)
	}
	return out, rows.Err()
}

// StoreByID fetches one store by ID.
func (r *StoreRepo) StoreByID(ctx context.Context, storeID int64) (domain.Store, error) {
	var s domain.Store
	var robots string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, slug, name, website, category, robots_policy, crawl_delay_seconds, max_requests_per_run, created_at, updated_at
		FROM stores WHERE id = $1
	`, storeID).Scan(&s.ID, &s.Slug, &s.Name, &s.Website, &s.Category, &robots,
		&s.CrawlDelaySeconds, &s.MaxRequestsPerRun, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return domain.Store{}, fmt.Errorf("store: by id: %w", err)
	}
	s.RobotsPolicy = domain.RobotsPolicy(robots)
	return s, nil
}

// ListActiveSources returns the active, non-mail SourceConfigs for one
// store, tier ascending.
func (r *StoreRepo) ListActiveSources(ctx context.Context, storeID int64) ([]domain.SourceConfig, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, store_id, source_type, tier, config_key, config, active,
		       COALESCE(etag,''), COALESCE(last_modified,''), last_successful_run,
		       failure_count, last_seen_item_at, created_at, updated_at
		FROM source_configs
		WHERE store_id = $1 AND active = true AND source_type NOT LIKE 'mail_%'
		ORDER BY tier ASC
	`, storeID)
	if err != nil {
		return nil, fmt.Errorf("source: list active: %w", err)
	}
	defer rows.Close()

	var out []domain.SourceConfig
	for rows.Next() {
		var sc domain.SourceConfig
		var sourceType string
		var configJSON []byte
		if err := rows.Scan(&sc.ID, &sc.StoreID, &sourceType, &sc.Tier, &sc.ConfigKey, &configJSON,
			&sc.Active, &sc.ETag, &sc.LastModified, &sc.LastSuccessfulRun,
			&sc.FailureCount, &sc.LastSeenItemAt, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("source: scan: %w", err)
		}
		sc.SourceType = domain.SourceType(sourceType)
		if len(configJSON) > 0 {
			json.Unmarshal(configJSON, &sc.Config)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// RecordAttempt writes back the adapter's validators and bumps/clears the
// failure count, regardless of whether the attempt produced new signals.
func (r *StoreRepo) RecordAttempt(ctx context.Context, src domain.SourceConfig, result adapters.SourceResult) error {
	failureDelta := 0
	if result.Status == adapters.StatusFailure {
		failureDelta = 1
	}
	var lastSuccessfulSet string
	if result.Status != adapters.StatusFailure {
		lastSuccessfulSet = "last_successful_run = NOW(),"
	}
	query := fmt.Sprintf(`
		UPDATE source_configs SET
			etag = $1,
			last_modified = $2,
			last_seen_item_at = COALESCE($3, last_seen_item_at),
			failure_count = CASE WHEN $4 = 1 THEN failure_count + 1 ELSE 0 END,
			%s
			updated_at = NOW()
		WHERE id = $5
	`, lastSuccessfulSet)
	_, err := r.db.ExecContext(ctx, query, result.ETag, result.LastModified, result.LastSeenItemAt, failureDelta, src.ID)
	if err != nil {
		return fmt.Errorf("source: record attempt: %w", err)
	}
	return nil
}
