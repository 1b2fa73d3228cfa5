// Package llm wraps the external LLM extraction call behind a single
// interface. The call itself — training, prompting strategy, model
// weights — is an out-of-scope black box; this package only shapes the
// request/response for the two concrete backends the pipeline can use
// (Anthropic's API directly, or the same model via AWS Bedrock) plus a
// fake for tests.
package llm

import (
	"context"

	"github.com/ignite/promo-digest/internal/domain"
)

// Extractor turns one message body into a structured ExtractionResult.
type Extractor interface {
	Extract(ctx context.Context, subject, from, body string) (domain.ExtractionResult, error)
}

const systemPrompt = `You are a promotional-offer extraction engine for a retail/travel email digest pipeline.
Given one inbound email's subject, sender, and plain-text body, decide whether it is a promotional
email (is_promo_email), and extract zero or more structured promos. For each promo provide the
fields the schema asks for: headline, summary, discount_text, percent_off, amount_off, code,
starts_at, ends_at (ISO 8601 where known), exclusions, landing_url, confidence (0-1), vertical,
and for flight offers flight_origin, flight_dest, flight_price. Set free_text to any qualifying
discount language you could not structure. Do not invent fields you cannot support from the text.`

// FakeExtractor returns a canned result, for deterministic tests.
type FakeExtractor struct {
	Result domain.ExtractionResult
	Err    error
}

func (f FakeExtractor) Extract(ctx context.Context, subject, from, body string) (domain.ExtractionResult, error) {
	return f.Result, f.Err
}
