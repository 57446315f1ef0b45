package notify

import (
	"context"
	"fmt"

	"github.com/valyala/fasthttp"
)

// DiscordSender posts to a channel webhook. Discord answers 204 on success.
type DiscordSender struct {
	webhookURL string
	client     *fasthttp.Client
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: newHTTPClient()}
}

func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	payload := map[string]string{"content": fmt.Sprintf("**%s**\n%s", title, message)}
	if err := postJSON(ctx, d.client, d.webhookURL, payload); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

func (d *DiscordSender) Name() string { return "discord" }
