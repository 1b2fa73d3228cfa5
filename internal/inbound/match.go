package inbound

import (
	"github.com/ignite/promo-digest/internal/catalog"
	"github.com/ignite/promo-digest/internal/domain"
)

// MatchStore resolves an inbound message's owning store slug from the
// seeded MailRule set: an exact mail_from_address match wins over a
// mail_from_domain match, mirroring the priority ordering of the original
// mailbox matcher.
func MatchStore(rules []catalog.MailRule, fromAddress, fromDomain string) (string, bool) {
	for _, rule := range rules {
		if rule.SourceType == domain.SourceMailFromAddress && rule.Pattern == fromAddress {
			return rule.StoreSlug, true
		}
	}
	for _, rule := range rules {
		if rule.SourceType == domain.SourceMailFromDomain && rule.Pattern == fromDomain {
			return rule.StoreSlug, true
		}
	}
	return "", false
}
