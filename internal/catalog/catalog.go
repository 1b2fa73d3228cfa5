// Package catalog loads the stores.yaml source catalog and
// preferences.yaml operator settings, and reconciles them against the
// Store/SourceConfig tables.
package catalog

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ignite/promo-digest/internal/domain"
	"github.com/ignite/promo-digest/internal/extract"
)

// SourceRecord is one entry under a store's `sources` list in stores.yaml.
type SourceRecord struct {
	Type           string                 `yaml:"type"`
	Pattern        string                 `yaml:"pattern"`
	URL            string                 `yaml:"url"`
	Priority       int                    `yaml:"priority"`
	Active         *bool                  `yaml:"active"`
	Tier           int                    `yaml:"tier"`
	Include        []string               `yaml:"include"`
	Exclude        []string               `yaml:"exclude"`
	MaxURLs        int                    `yaml:"max_urls"`
	MaxEntries     int                    `yaml:"max_entries"`
	FetchEntry     bool                   `yaml:"fetch_entry"`
	RequireBrowser bool                   `yaml:"require_browser"`
	Extra          map[string]interface{} `yaml:",inline"`
}

// IsMailRule reports whether this record is a mailbox-matching rule
// (type prefix "mail_") rather than a fetchable SourceConfig.
func (s SourceRecord) IsMailRule() bool { return strings.HasPrefix(s.Type, "mail_") }

// StoreRecord is one entry under the top-level `stores` key in stores.yaml.
type StoreRecord struct {
	Slug              string         `yaml:"slug"`
	Name              string         `yaml:"name"`
	WebsiteURL        string         `yaml:"website_url"`
	Category          string         `yaml:"category"`
	TOSURL            string         `yaml:"tos_url"`
	RobotsPolicy      string         `yaml:"robots_policy"`
	CrawlDelaySeconds int            `yaml:"crawl_delay_seconds"`
	MaxRequestsPerRun int            `yaml:"max_requests_per_run"`
	RequiresLogin     bool           `yaml:"requires_login"`
	AllowLogin        bool           `yaml:"allow_login"`
	Notes             string         `yaml:"notes"`
	Sources           []SourceRecord `yaml:"sources"`
}

// Catalog is the parsed contents of stores.yaml.
type Catalog struct {
	Stores []StoreRecord `yaml:"stores"`
}

// LoadCatalog reads and parses a stores.yaml file.
func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	return &c, nil
}

// Preferences is the parsed contents of preferences.yaml.
type Preferences struct {
	Stores struct {
		Allowlist []string `yaml:"allowlist"`
	} `yaml:"stores"`
	Flights struct {
		Origins            []string           `yaml:"origins"`
		DestinationRegions []string           `yaml:"destination_regions"`
		MaxPriceUSD        map[string]float64 `yaml:"max_price_usd"`
	} `yaml:"flights"`
}

// LoadPreferences reads and parses a preferences.yaml file.
func LoadPreferences(path string) (*Preferences, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var p Preferences
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	return &p, nil
}

// FlightPreferences converts the flights section into the shape the
// extraction gates consume.
func (p *Preferences) FlightPreferences() extract.FlightPreferences {
	max := make(map[string]float64, len(p.Flights.MaxPriceUSD))
	for region, v := range p.Flights.MaxPriceUSD {
		max[region] = v
	}
	return extract.FlightPreferences{
		Origins:            p.Flights.Origins,
		DestinationRegions: p.Flights.DestinationRegions,
		MaxPriceUSD:        max,
	}
}

// Repository is the persistence surface StoreCatalog seeds into.
type Repository interface {
	UpsertStore(ctx context.Context, store domain.Store) (int64, error)
	UpsertSourceConfig(ctx context.Context, storeID int64, cfg domain.SourceConfig) error
	ListMailRules(ctx context.Context) ([]MailRule, error)
	ReplaceMailRules(ctx context.Context, storeSlugToID map[string]int64, rules []MailRule) error
}

// MailRule is one `mail_from_address`/`mail_from_domain` matching rule
// parsed out of a store's sources list.
type MailRule struct {
	StoreSlug  string
	SourceType domain.SourceType
	Pattern    string
}

// Seeder reconciles a parsed Catalog against the Store/SourceConfig tables.
type Seeder struct {
	repo Repository
}

// NewSeeder builds a Seeder writing through repo.
func NewSeeder(repo Repository) *Seeder {
	return &Seeder{repo: repo}
}

// Stats summarizes one seeding pass.
type Stats struct {
	StoresUpserted  int
	SourcesUpserted int
	MailRules       int
	Errors          []string
}

// Seed upserts every store and its non-mail sources, and collects mail
// rules for a single bulk replace (mail rules are matched against inbound
// mailbox traffic, not fetched, so they have no per-row fetch state to
// preserve across reseeds).
func (s *Seeder) Seed(ctx context.Context, cat *Catalog) (Stats, error) {
	stats := Stats{}
	storeIDs := make(map[string]int64, len(cat.Stores))
	var mailRules []MailRule

	for _, sr := range cat.Stores {
		store := storeRecordToDomain(sr)
		id, err := s.repo.UpsertStore(ctx, store)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("store %s: %v", sr.Slug, err))
			continue
		}
		storeIDs[sr.Slug] = id
		stats.StoresUpserted++

		for _, src := range sr.Sources {
			if src.IsMailRule() {
				mailRules = append(mailRules, MailRule{
					StoreSlug:  sr.Slug,
					SourceType: domain.SourceType(src.Type),
					Pattern:    firstNonEmpty(src.Pattern, src.URL),
				})
				continue
			}
			cfg := sourceRecordToDomain(src)
			if err := s.repo.UpsertSourceConfig(ctx, id, cfg); err != nil {
				stats.Errors = append(stats.Errors, fmt.Sprintf("source %s/%s: %v", sr.Slug, src.Type, err))
				continue
			}
			stats.SourcesUpserted++
		}
	}

	if err := s.repo.ReplaceMailRules(ctx, storeIDs, mailRules); err != nil {
		stats.Errors = append(stats.Errors, fmt.Sprintf("mail rules: %v", err))
	} else {
		stats.MailRules = len(mailRules)
	}

	return stats, nil
}

func storeRecordToDomain(sr StoreRecord) domain.Store {
	policy := domain.RobotsEnforce
	if strings.EqualFold(sr.RobotsPolicy, string(domain.RobotsIgnore)) {
		policy = domain.RobotsIgnore
	}
	return domain.Store{
		Slug:              sr.Slug,
		Name:              sr.Name,
		Website:           sr.WebsiteURL,
		Category:          sr.Category,
		RobotsPolicy:      policy,
		CrawlDelaySeconds: sr.CrawlDelaySeconds,
		MaxRequestsPerRun: sr.MaxRequestsPerRun,
	}
}

func sourceRecordToDomain(src SourceRecord) domain.SourceConfig {
	active := true
	if src.Active != nil {
		active = *src.Active
	}
	config := map[string]interface{}{}
	for k, v := range src.Extra {
		config[k] = v
	}
	if len(src.Include) > 0 {
		config["include"] = src.Include
	}
	if len(src.Exclude) > 0 {
		config["exclude"] = src.Exclude
	}
	if src.MaxURLs > 0 {
		config["max_urls"] = src.MaxURLs
	}
	if src.MaxEntries > 0 {
		config["max_entries"] = src.MaxEntries
	}
	if src.FetchEntry {
		config["fetch_entry"] = true
	}
	if src.RequireBrowser {
		config["require_browser"] = true
	}
	url := firstNonEmpty(src.Pattern, src.URL)
	config["url"] = url

	return domain.SourceConfig{
		SourceType: domain.SourceType(src.Type),
		Tier:       src.Tier,
		ConfigKey:  url,
		Config:     config,
		Active:     active,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
