package notify

import (
	"context"
	"fmt"

	goslack "github.com/slack-go/slack"

	"github.com/lynex-ai/lynex/pkg/alerts"
)

// severityEmoji prefixes the Slack header per severity.
var severityEmoji = map[string]string{
	alerts.SeverityInfo:     ":information_source:",
	alerts.SeverityWarning:  ":warning:",
	alerts.SeverityCritical: ":rotating_light:",
}

// SlackNotifier posts a block-formatted message to an incoming webhook.
// Nil-safe: a nil notifier is returned when no webhook URL is configured
// and NewSlackNotifier's caller should skip registering it.
type SlackNotifier struct {
	webhookURL string
}

// NewSlackNotifier returns nil when webhookURL is empty.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	if webhookURL == "" {
		return nil
	}
	return &SlackNotifier{webhookURL: webhookURL}
}

func (n *SlackNotifier) Channel() string { return "slack" }

func (n *SlackNotifier) Send(ctx context.Context, alert alerts.Alert) error {
	emoji := severityEmoji[alert.Severity]
	if emoji == "" {
		emoji = ":bell:"
	}

	header := goslack.NewHeaderBlock(goslack.NewTextBlockObject(
		goslack.PlainTextType,
		fmt.Sprintf("%s %s", emoji, alert.RuleName),
		true, false))

	body := goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, alert.Message, false, false),
		nil, nil)

	fields := goslack.NewSectionBlock(nil, []*goslack.TextBlockObject{
		goslack.NewTextBlockObject(goslack.MarkdownType,
			fmt.Sprintf("*Project:*\n%s", alert.ProjectID), false, false),
		goslack.NewTextBlockObject(goslack.MarkdownType,
			fmt.Sprintf("*Severity:*\n%s", alert.Severity), false, false),
		goslack.NewTextBlockObject(goslack.MarkdownType,
			fmt.Sprintf("*Event:*\n%s", alert.EventID), false, false),
		goslack.NewTextBlockObject(goslack.MarkdownType,
			fmt.Sprintf("*Type:*\n%s", alert.EventType), false, false),
	}, nil)

	msg := &goslack.WebhookMessage{
		Blocks: &goslack.Blocks{
			BlockSet: []goslack.Block{header, body, fields},
		},
	}

	if err := goslack.PostWebhookContext(ctx, n.webhookURL, msg); err != nil {
		return fmt.Errorf("posting slack webhook: %w", err)
	}
	return nil
}
