package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const realUserPostURL = "https://slack.com/api/chat.postMessage"

// Channel routing: tracebacks mentioning certain products go to that
// team's channel.
const (
	channelDefault = "tracebacks"
	channelAdwords = "tracebacks-adwords"
	channelSocial  = "tracebacks-social"
)

// Poster sends messages to slack over both transports: incoming
// webhooks for bot notifications and the web API for real-user posts.
type Poster struct {
	httpClient *http.Client
	log        *zap.Logger

	webhookDefault string
	webhookAdwords string
	webhookSocial  string
	realUserToken  string
}

type PosterConfig struct {
	WebhookDefault string
	WebhookAdwords string
	WebhookSocial  string
	RealUserToken  string
}

func NewPoster(cfg PosterConfig, log *zap.Logger) *Poster {
	return &Poster{
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		log:            log,
		webhookDefault: cfg.WebhookDefault,
		webhookAdwords: cfg.WebhookAdwords,
		webhookSocial:  cfg.WebhookSocial,
		realUserToken:  cfg.RealUserToken,
	}
}

// ChannelFor routes a traceback to a channel by trigger words in its
// text.
func ChannelFor(tracebackText string) string {
	lowered := strings.ToLower(tracebackText)
	switch {
	case strings.Contains(lowered, "facebook"):
		return channelSocial
	case strings.Contains(lowered, "adwords"):
		return channelAdwords
	}
	return channelDefault
}

// WebhookURLFor maps the routed channel to its webhook.
func (p *Poster) WebhookURLFor(tracebackText string) string {
	switch ChannelFor(tracebackText) {
	case channelSocial:
		return p.webhookSocial
	case channelAdwords:
		return p.webhookAdwords
	}
	return p.webhookDefault
}

// PostWebhook delivers one message to an incoming webhook.
func (p *Poster) PostWebhook(ctx context.Context, webhookURL string, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal slack message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post to slack: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		p.log.Error("slack webhook returned an error",
			zap.Int("status", resp.StatusCode), zap.ByteString("response", text))
		return fmt.Errorf("slack webhook status %d", resp.StatusCode)
	}
	return nil
}

// PostTraceback routes and posts one correlated traceback
// notification.
func (p *Poster) PostTraceback(ctx context.Context, msg Message, tracebackText string) error {
	return p.PostWebhook(ctx, p.WebhookURLFor(tracebackText), msg)
}

// PostAsRealUser posts through the web API with a user token. Bot
// messages are invisible to some chat-bridge integrations; messages
// that must be picked up as if a human wrote them go this way.
func (p *Poster) PostAsRealUser(ctx context.Context, channel, text string) error {
	if p.realUserToken == "" {
		return fmt.Errorf("no real user token configured")
	}
	params := url.Values{
		"token":   {p.realUserToken},
		"channel": {channel},
		"as_user": {"true"},
		"text":    {text},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		realUserPostURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post to slack as real user: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		p.log.Error("slack real-user post returned an error",
			zap.Int("status", resp.StatusCode), zap.ByteString("response", text))
		return fmt.Errorf("slack post status %d", resp.StatusCode)
	}
	p.log.Info("posted to slack channel", zap.String("channel", channel))
	return nil
}
