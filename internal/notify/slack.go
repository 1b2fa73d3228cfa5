package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// SlackChannel posts a short "digest is ready" notice (run type and digest
// date) to a configured incoming webhook. The HTML digest itself is neither
// sent nor linked in the message.
type SlackChannel struct {
	webhookURL string
}

// NewSlackChannel builds a SlackChannel posting to webhookURL.
func NewSlackChannel(webhookURL string) *SlackChannel {
	return &SlackChannel{webhookURL: webhookURL}
}

func (s *SlackChannel) Name() string { return "slack" }

func (s *SlackChannel) Deliver(ctx context.Context, runType, digestDate, htmlBody string) error {
	msg := &slack.WebhookMessage{
		Text: fmt.Sprintf(":tag: *%s promo digest* for %s is ready.", runType, digestDate),
	}
	if err := slack.PostWebhookContext(ctx, s.webhookURL, msg); err != nil {
		return fmt.Errorf("notify: slack webhook: %w", err)
	}
	return nil
}
