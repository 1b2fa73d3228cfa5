package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/promo-digest/internal/domain"
	"github.com/ignite/promo-digest/internal/promos"
)

// PromoRepo implements promos.Repository and the Promo-facing half of
// digest.Repository against PostgreSQL.
type PromoRepo struct{ db *sql.DB }

// NewPromoRepo creates a Postgres-backed promo repository.
func NewPromoRepo(db *sql.DB) *PromoRepo { return &PromoRepo{db: db} }

// FindMatchingPromo looks up candidate Promos sharing (store_id, base_key),
// newest last_seen_at first, and returns the first still within the
// matching window per promos.MatchesWindow — the window's end-date grace
// period can't be expressed purely with a last_seen_at comparison, so it's
// applied here in Go against each candidate in order.
func (r *PromoRepo) FindMatchingPromo(ctx context.Context, storeID int64, baseKey string, now time.Time) (domain.Promo, bool, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, store_id, base_key, headline, summary, discount_text, percent_off, amount_off,
		       code, starts_at, ends_at, end_inferred, exclusions, landing_url, confidence,
		       first_seen_at, last_seen_at, status, last_notified_at, created_at, updated_at
		FROM promos
		WHERE store_id = $1 AND base_key = $2
		ORDER BY last_seen_at DESC
	`, storeID, baseKey)
	if err != nil {
		return domain.Promo{}, false, fmt.Errorf("promo: find matching: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPromo(rows)
		if err != nil {
			return domain.Promo{}, false, err
		}
		if promos.MatchesWindow(p.LastSeenAt, p.EndsAt, now) {
			return p, true, nil
		}
	}
	return domain.Promo{}, false, rows.Err()
}

// CreatePromo inserts a new canonical Promo.
func (r *PromoRepo) CreatePromo(ctx context.Context, promo domain.Promo) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO promos
			(store_id, base_key, headline, summary, discount_text, percent_off, amount_off,
			 code, starts_at, ends_at, end_inferred, exclusions, landing_url, confidence,
			 first_seen_at, last_seen_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NOW(), NOW())
		RETURNING id
	`, promo.StoreID, promo.BaseKey, promo.Headline, promo.Summary, promo.DiscountText,
		promo.PercentOff, promo.AmountOff, promo.Code, promo.StartsAt, promo.EndsAt,
		promo.EndInferred, pq.Array(promo.Exclusions), promo.LandingURL, promo.Confidence,
		promo.FirstSeenAt, promo.LastSeenAt, string(promo.Status)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("promo: create: %w", err)
	}
	return id, nil
}

// UpdatePromo writes back the merged fields of an existing Promo.
func (r *PromoRepo) UpdatePromo(ctx context.Context, promo domain.Promo) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE promos SET
			headline = $1, summary = $2, discount_text = $3, percent_off = $4, amount_off = $5,
			code = $6, starts_at = $7, ends_at = $8, end_inferred = $9, exclusions = $10,
			landing_url = $11, confidence = $12, last_seen_at = $13, status = $14, updated_at = NOW()
		WHERE id = $15
	`, promo.Headline, promo.Summary, promo.DiscountText, promo.PercentOff, promo.AmountOff,
		promo.Code, promo.StartsAt, promo.EndsAt, promo.EndInferred, pq.Array(promo.Exclusions),
		promo.LandingURL, promo.Confidence, promo.LastSeenAt, string(promo.Status), promo.ID)
	if err != nil {
		return fmt.Errorf("promo: update: %w", err)
	}
	return nil
}

// InsertChangeIfAbsent appends a PromoChange, deduped on (promo_id,
// message_id, change_type) so reprocessing the same extraction is a no-op.
func (r *PromoRepo) InsertChangeIfAbsent(ctx context.Context, change domain.PromoChange) (bool, error) {
	diffJSON, err := json.Marshal(change.Diff)
	if err != nil {
		return false, fmt.Errorf("promo: marshal diff: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO promo_changes (promo_id, message_id, change_type, diff, changed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (promo_id, message_id, change_type) DO NOTHING
	`, change.PromoID, change.MessageID, string(change.ChangeType), diffJSON, change.ChangedAt)
	if err != nil {
		return false, fmt.Errorf("promo: insert change: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// EnsureEvidenceLink records that messageID contributed evidence to promoID.
func (r *PromoRepo) EnsureEvidenceLink(ctx context.Context, promoID, messageID int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO promo_email_links (promo_id, message_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (promo_id, message_id) DO NOTHING
	`, promoID, messageID)
	if err != nil {
		return fmt.Errorf("promo: ensure evidence link: %w", err)
	}
	return nil
}

// PromoByID fetches one Promo by ID.
func (r *PromoRepo) PromoByID(ctx context.Context, promoID int64) (domain.Promo, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, store_id, base_key, headline, summary, discount_text, percent_off, amount_off,
		       code, starts_at, ends_at, end_inferred, exclusions, landing_url, confidence,
		       first_seen_at, last_seen_at, status, last_notified_at, created_at, updated_at
		FROM promos WHERE id = $1
	`, promoID)
	return scanPromo(row)
}

// ChangesForPromo returns every PromoChange for promoID changed at-or-after since.
func (r *PromoRepo) ChangesForPromo(ctx context.Context, promoID int64, since time.Time) ([]domain.PromoChange, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, promo_id, message_id, change_type, diff, changed_at
		FROM promo_changes
		WHERE promo_id = $1 AND changed_at >= $2
		ORDER BY changed_at ASC
	`, promoID, since)
	if err != nil {
		return nil, fmt.Errorf("promo: changes for promo: %w", err)
	}
	defer rows.Close()

	var out []domain.PromoChange
	for rows.Next() {
		var c domain.PromoChange
		var changeType string
		var diffJSON []byte
		if err := rows.Scan(&c.ID, &c.PromoID, &c.MessageID, &changeType, &diffJSON, &c.ChangedAt); err != nil {
			return nil, fmt.Errorf("promo: scan change: %w", err)
		}
		c.ChangeType = domain.ChangeType(changeType)
		json.Unmarshal(diffJSON, &c.Diff)
		out = append(out, c)
	}
	return out, rows.Err()
}

// EvidenceSourceForPromo returns the source type/URL of the earliest
// evidence Message linked to promoID, for digest display.
func (r *PromoRepo) EvidenceSourceForPromo(ctx context.Context, promoID int64) (string, string, error) {
	var sourceType, sourceURL string
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(rs.source_type, ''), COALESCE(rs.url, '')
		FROM promo_email_links pel
		JOIN messages m ON m.id = pel.message_id
		LEFT JOIN raw_signals rs ON rs.signal_key = m.signal_key AND rs.store_id = m.store_id
		WHERE pel.promo_id = $1
		ORDER BY pel.created_at ASC
		LIMIT 1
	`, promoID).Scan(&sourceType, &sourceURL)
	if err == sql.ErrNoRows {
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("promo: evidence source: %w", err)
	}
	return sourceType, sourceURL, nil
}

// NewPromoChanges returns ChangeCreated rows since the given time, for
// stores in allowlist (empty = all).
func (r *PromoRepo) NewPromoChanges(ctx context.Context, since time.Time, allowlist []string) ([]domain.PromoChange, error) {
	return r.changesSince(ctx, since, allowlist, domain.ChangeCreated, false)
}

// UpdatedPromoChanges returns non-creation change rows since the given time.
func (r *PromoRepo) UpdatedPromoChanges(ctx context.Context, since time.Time, allowlist []string) ([]domain.PromoChange, error) {
	return r.changesSince(ctx, since, allowlist, domain.ChangeCreated, true)
}

func (r *PromoRepo) changesSince(ctx context.Context, since time.Time, allowlist []string, changeType domain.ChangeType, exclude bool) ([]domain.PromoChange, error) {
	query := `
		SELECT pc.id, pc.promo_id, pc.message_id, pc.change_type, pc.diff, pc.changed_at
		FROM promo_changes pc
		JOIN promos p ON p.id = pc.promo_id
		JOIN stores s ON s.id = p.store_id
		WHERE pc.changed_at >= $1`
	args := []interface{}{since}
	idx := 2
	if exclude {
		query += fmt.Sprintf(" AND pc.change_type != $%d", idx)
	} else {
		query += fmt.Sprintf(" AND pc.change_type = $%d", idx)
	}
	args = append(args, string(changeType))
	idx++
	if len(allowlist) > 0 {
		query += fmt.Sprintf(" AND s.slug = ANY($%d)", idx)
		args = append(args, pq.Array(allowlist))
	}
	query += " ORDER BY pc.changed_at ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("promo: changes since: %w", err)
	}
	defer rows.Close()

	var out []domain.PromoChange
	for rows.Next() {
		var c domain.PromoChange
		var ct string
		var diffJSON []byte
		if err := rows.Scan(&c.ID, &c.PromoID, &c.MessageID, &ct, &diffJSON, &c.ChangedAt); err != nil {
			return nil, fmt.Errorf("promo: scan change: %w", err)
		}
		c.ChangeType = domain.ChangeType(ct)
		json.Unmarshal(diffJSON, &c.Diff)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ActivePromos returns Promos with status=active whose last_notified_at is
// outside cooldownDays (or unset) and that have been seen within
// cooldownDays, for stores in allowlist (empty = all). A Promo still
// status=active but not observed in any feed for longer than the cooldown
// window is stale, not active, and is excluded.
func (r *PromoRepo) ActivePromos(ctx context.Context, cooldownDays int, allowlist []string) ([]domain.Promo, error) {
	query := `
		SELECT p.id, p.store_id, p.base_key, p.headline, p.summary, p.discount_text, p.percent_off, p.amount_off,
		       p.code, p.starts_at, p.ends_at, p.end_inferred, p.exclusions, p.landing_url, p.confidence,
		       p.first_seen_at, p.last_seen_at, p.status, p.last_notified_at, p.created_at, p.updated_at
		FROM promos p
		JOIN stores s ON s.id = p.store_id
		WHERE p.status = $1
		  AND (p.last_notified_at IS NULL OR p.last_notified_at < NOW() - ($2 || ' days')::interval)
		  AND p.last_seen_at >= NOW() - ($2 || ' days')::interval`
	args := []interface{}{string(domain.PromoActive), cooldownDays}
	if len(allowlist) > 0 {
		query += " AND s.slug = ANY($3)"
		args = append(args, pq.Array(allowlist))
	}
	query += " ORDER BY p.last_seen_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("promo: active: %w", err)
	}
	defer rows.Close()

	var out []domain.Promo
	for rows.Next() {
		p, err := scanPromo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// StoreByID fetches one store by ID, for digest rendering's store_name
// lookup. Mirrors StoreRepo.StoreByID so digest.Repository can be satisfied
// by this type alone.
func (r *PromoRepo) StoreByID(ctx context.Context, storeID int64) (domain.Store, error) {
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

// LastDigestSentAt returns the most recent digest_sent_at for runType.
func (r *PromoRepo) LastDigestSentAt(ctx context.Context, runType domain.RunType) (*time.Time, error) {
	var sentAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT MAX(digest_sent_at) FROM runs WHERE run_type = $1 AND digest_sent_at IS NOT NULL
	`, string(runType)).Scan(&sentAt)
	if err != nil {
		return nil, fmt.Errorf("promo: last digest sent at: %w", err)
	}
	if !sentAt.Valid {
		return nil, nil
	}
	t := sentAt.Time
	return &t, nil
}

// row is the minimal subset of *sql.Row/*sql.Rows scanPromo needs.
type row interface {
	Scan(dest ...interface{}) error
}

func scanPromo(rw row) (domain.Promo, error) {
	var p domain.Promo
	var status string
	var exclusions pq.StringArray
	err := rw.Scan(&p.ID, &p.StoreID, &p.BaseKey, &p.Headline, &p.Summary, &p.DiscountText,
		&p.PercentOff, &p.AmountOff, &p.Code, &p.StartsAt, &p.EndsAt, &p.EndInferred,
		&exclusions, &p.LandingURL, &p.Confidence, &p.FirstSeenAt, &p.LastSeenAt,
		&status, &p.LastNotifiedAt, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.Promo{}, fmt.Errorf("promo: not found: %w", err)
	}
	if err != nil {
		return domain.Promo{}, fmt.Errorf("promo: scan: %w", err)
	}
	p.Status = domain.PromoStatus(status)
	p.Exclusions = []string(exclusions)
	return p, nil
}
