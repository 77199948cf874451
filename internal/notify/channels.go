package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/tradesentry/tradesentry/internal/config"
)

const defaultChannelTimeout = 30 * time.Second

// ChannelAdapter delivers a rendered message via one medium. Adapters
// are selected from a registry keyed by channel ID; each owns its own
// endpoint, credentials, and timeout.
type ChannelAdapter interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// BuildRegistry constructs one adapter per configured channel.
func BuildRegistry(cfgs []config.ChannelConfig) (map[string]ChannelAdapter, error) {
	reg := make(map[string]ChannelAdapter, len(cfgs))
	for _, cfg := range cfgs {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = defaultChannelTimeout
		}
		client := &http.Client{Timeout: timeout}

		switch cfg.Type {
		case "slack":
			reg[cfg.ID] = &slackAdapter{cfg: cfg, client: client}
		case "teams":
			reg[cfg.ID] = &teamsAdapter{cfg: cfg, client: client}
		case "webhook":
			reg[cfg.ID] = &webhookAdapter{cfg: cfg, client: client}
		case "email":
			reg[cfg.ID] = &emailAdapter{cfg: cfg}
		default:
			return nil, fmt.Errorf("notify: unknown channel type %q for %q", cfg.Type, cfg.ID)
		}
	}
	return reg, nil
}

// --- slack ------------------------------------------------------------------

type slackAdapter struct {
	cfg    config.ChannelConfig
	client *http.Client
}

func (a *slackAdapter) Name() string { return a.cfg.ID }

func (a *slackAdapter) Send(ctx context.Context, msg Message) error {
	url := a.cfg.URL()
	if url == "" {
		return fmt.Errorf("webhook url env %q is empty", a.cfg.URLEnv)
	}
	body, _ := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*[%s]* %s", severityLabel(msg.Severity), msg.Body),
	})
	return post(ctx, a.client, url, body)
}

// --- teams ------------------------------------------------------------------

type teamsAdapter struct {
	cfg    config.ChannelConfig
	client *http.Client
}

func (a *teamsAdapter) Name() string { return a.cfg.ID }

func (a *teamsAdapter) Send(ctx context.Context, msg Message) error {
	url := a.cfg.URL()
	if url == "" {
		return fmt.Errorf("webhook url env %q is empty", a.cfg.URLEnv)
	}
	payload := map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": severityColor(msg.Severity),
		"summary":    msg.Subject,
		"title":      msg.Subject,
		"text":       msg.Body,
	}
	body, _ := json.Marshal(payload)
	return post(ctx, a.client, url, body)
}

// --- generic webhook --------------------------------------------------------

type webhookAdapter struct {
	cfg    config.ChannelConfig
	client *http.Client
}

func (a *webhookAdapter) Name() string { return a.cfg.ID }

func (a *webhookAdapter) Send(ctx context.Context, msg Message) error {
	url := a.cfg.URL()
	if url == "" {
		return fmt.Errorf("webhook url env %q is empty", a.cfg.URLEnv)
	}
	body, _ := json.Marshal(map[string]string{
		"subject":  msg.Subject,
		"body":     msg.Body,
		"severity": string(msg.Severity),
	})
	return post(ctx, a.client, url, body)
}

// --- email ------------------------------------------------------------------

type emailAdapter struct {
	cfg config.ChannelConfig
}

func (a *emailAdapter) Name() string { return a.cfg.ID }

func (a *emailAdapter) Send(ctx context.Context, msg Message) error {
	smtpCfg := a.cfg.SMTP

	var auth smtp.Auth
	if smtpCfg.Username != "" {
		host := smtpCfg.Addr
		if i := strings.IndexByte(host, ':'); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", smtpCfg.Username, smtpCfg.Password(), host)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", smtpCfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(smtpCfg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	b.WriteString("\r\n")

	// smtp.SendMail has no context hook; the dispatcher's per-send
	// deadline still abandons a hung delivery at the attempt level.
	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(smtpCfg.Addr, auth, smtpCfg.From, smtpCfg.To, []byte(b.String()))
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// post sends a JSON body and treats any HTTP error status as failure.
func post(ctx context.Context, client *http.Client, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}
