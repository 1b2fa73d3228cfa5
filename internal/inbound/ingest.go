package inbound

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ignite/promo-digest/internal/catalog"
	"github.com/ignite/promo-digest/internal/domain"
	"github.com/ignite/promo-digest/internal/payload"
	"github.com/ignite/promo-digest/internal/signalkey"
)

// Repository is the persistence surface Ingester writes through. SignalRepo
// already satisfies this (WithTx + InsertMessage), so no new Postgres code
// is needed to wire this path.
type Repository interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
	InsertMessage(ctx context.Context, tx *sql.Tx, msg domain.Message) (int64, error)
}

// StoreResolver supplies the MailRule set and the slug->ID mapping
// Ingester needs to resolve an inbound message's store. StoreRepo already
// satisfies this (ListMailRules + ActiveStores).
type StoreResolver interface {
	ListMailRules(ctx context.Context) ([]catalog.MailRule, error)
	ActiveStores(ctx context.Context, allowlist []string) ([]domain.Store, error)
}

// Stats summarizes one directory ingest pass.
type Stats struct {
	Enabled   bool
	Files     int
	New       int
	Matched   int
	Unmatched int
	Skipped   int
	Errors    int
}

// Ingester reads every .eml file in a directory, resolves its store via
// the seeded mail rules, and writes a pending Message for anything new.
type Ingester struct {
	repo     Repository
	resolver StoreResolver
	payload  *payload.Store
	dir      string
}

// New builds an Ingester reading .eml files from dir.
func New(repo Repository, resolver StoreResolver, payloadStore *payload.Store, dir string) *Ingester {
	return &Ingester{repo: repo, resolver: resolver, payload: payloadStore, dir: dir}
}

// Run ingests every .eml file in the configured directory. A missing
// directory is not an error: it just means inbound ingestion isn't in use
// for this deployment.
func (g *Ingester) Run(ctx context.Context) (Stats, error) {
	stats := Stats{Enabled: true}

	names, err := emlFileNames(g.dir)
	if os.IsNotExist(err) {
		return Stats{}, nil
	}
	if err != nil {
		return stats, fmt.Errorf("inbound: read dir %s: %w", g.dir, err)
	}
	stats.Files = len(names)
	if len(names) == 0 {
		return stats, nil
	}

	rules, err := g.resolver.ListMailRules(ctx)
	if err != nil {
		return stats, fmt.Errorf("inbound: list mail rules: %w", err)
	}
	stores, err := g.resolver.ActiveStores(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("inbound: list active stores: %w", err)
	}
	slugToID := make(map[string]int64, len(stores))
	for _, s := range stores {
		slugToID[s.Slug] = s.ID
	}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		switch g.ingestOne(ctx, filepath.Join(g.dir, name), rules, slugToID) {
		case outcomeMatched:
			stats.New++
			stats.Matched++
		case outcomeUnmatched:
			stats.New++
			stats.Unmatched++
		case outcomeSkipped:
			stats.Skipped++
		case outcomeError:
			stats.Errors++
		}
	}
	return stats, nil
}

// ingestOutcome is the per-file disposition ingestOne reports back to Run.
type ingestOutcome int

const (
	outcomeError ingestOutcome = iota
	outcomeSkipped
	outcomeMatched
	outcomeUnmatched
)

func (g *Ingester) ingestOne(ctx context.Context, path string, rules []catalog.MailRule, slugToID map[string]int64) ingestOutcome {
	raw, err := os.ReadFile(path)
	if err != nil {
		return outcomeError
	}
	parsed, err := ParseEML(raw)
	if err != nil {
		return outcomeError
	}

	fromDomain := FromDomain(parsed.From)
	storeSlug, matched := MatchStore(rules, parsed.From, fromDomain)
	var storeID *int64
	if matched {
		if id, ok := slugToID[storeSlug]; ok {
			storeID = &id
		} else {
			matched = false
		}
	}

	bodyHash := signalkey.BodyHash(parsed.BodyText)
	prepared, err := g.payload.Prepare(ctx, parsed.BodyText)
	if err != nil {
		return outcomeError
	}

	msg := domain.Message{
		SourceMessageID:  MessageID(raw),
		StoreID:          storeID,
		SignalKey:        "mail:" + strings.ToLower(parsed.From),
		From:             parsed.From,
		Subject:          parsed.Subject,
		ReceivedAt:       parsed.ReceivedAt,
		BodyInline:       prepared.InlinePrefix,
		BodyRef:          prepared.Ref,
		BodyHash:         bodyHash,
		TopLinks:         parsed.TopLinks,
		ExtractionStatus: domain.ExtractionPending,
	}

	var id int64
	err = g.repo.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = g.repo.InsertMessage(ctx, tx, msg)
		return err
	})
	if err != nil {
		return outcomeError
	}
	if id == 0 {
		return outcomeSkipped
	}
	if matched {
		return outcomeMatched
	}
	return outcomeUnmatched
}

// emlFileNames lists the *.eml entries of dir, sorted for deterministic
// processing order across runs.
func emlFileNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".eml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
