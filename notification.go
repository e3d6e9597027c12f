package scanguard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"
)

const (
	defaultSendTimeout = 10 * time.Second
	userAgent          = "scanguard-notifier/1.0"
)

// Notifier decouples alert delivery from the request path. Publish enqueues
// without blocking; Run drains the queue into every sender, throttled by a
// shared token bucket. Each sender sits behind its own circuit breaker.
type Notifier struct {
	queue   chan AlertEvent
	senders []*guardedSender
	limiter *rate.Limiter
	timeout time.Duration
	metrics *Metrics
	logger  *slog.Logger
}

type guardedSender struct {
	AlertSender
	breaker *gobreaker.CircuitBreaker
}

func NewNotifier(cfg NotifyConfig, senders []AlertSender, logger *slog.Logger, metrics *Metrics) *Notifier {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	n := &Notifier{
		queue:   make(chan AlertEvent, queueSize),
		limiter: rate.NewLimiter(limit, burst),
		timeout: timeout,
		metrics: metrics,
		logger:  componentLogger(logger, "notifier"),
	}
	for _, s := range senders {
		n.senders = append(n.senders, &guardedSender{
			AlertSender: s,
			breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:        s.Name(),
				MaxRequests: 1,
				Timeout:     time.Minute,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= 5
				},
				OnStateChange: func(name string, from, to gobreaker.State) {
					n.logger.Warn("alert_sender_state", "sender", name, "from", from.String(), "to", to.String())
				},
			}),
		})
	}
	return n
}

// Publish enqueues event and reports false when the queue is full.
func (n *Notifier) Publish(event AlertEvent) bool {
	select {
	case n.queue <- event:
		n.metrics.IncAlert(event.Kind)
		return true
	default:
		n.metrics.IncAlertDropped()
		n.logger.Warn("alert_dropped", "kind", event.Kind, "address", event.Address)
		return false
	}
}

// Run delivers queued events until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-n.queue:
			if err := n.limiter.Wait(ctx); err != nil {
				return ctx.Err()
			}
			n.dispatch(ctx, event)
		}
	}
}

func (n *Notifier) dispatch(ctx context.Context, event AlertEvent) {
	for _, s := range n.senders {
		_, err := s.breaker.Execute(func() (interface{}, error) {
			sendCtx, cancel := context.WithTimeout(ctx, n.timeout)
			defer cancel()
			return nil, s.Send(sendCtx, event)
		})
		if err != nil {
			n.metrics.IncAlertFailure(s.Name())
			n.logger.Error("alert_delivery_failed",
				"sender", s.Name(),
				"kind", event.Kind,
				"address", event.Address,
				"error", err)
		}
	}
}

// BuildSenders returns the senders named in cfg.Channels.
func BuildSenders(cfg NotifyConfig, logger *slog.Logger) ([]AlertSender, error) {
	var senders []AlertSender
	for _, ch := range cfg.Channels {
		switch ch {
		case "log":
			senders = append(senders, NewLogSender(logger))
		case "webhook":
			senders = append(senders, NewWebhookSender(cfg.WebhookURL))
		case "discord":
			senders = append(senders, NewDiscordSender(cfg.DiscordWebhookURL))
		default:
			return nil, fmt.Errorf("notification channel '%s' not supported", ch)
		}
	}
	return senders, nil
}

// LogSender writes alerts to the structured log.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: componentLogger(logger, "alerts")}
}

func (s *LogSender) Name() string {
	return "log"
}

func (s *LogSender) Send(ctx context.Context, event AlertEvent) error {
	attrs := []any{
		"kind", event.Kind,
		"address", event.Address,
		"severity", event.Severity.Level.String(),
		"attempts", event.TotalAttempts,
		"unique_endpoints", event.UniqueEndpoints,
		"user_agent", event.UserAgent,
	}
	if event.Ban != nil {
		attrs = append(attrs, "ban_id", event.Ban.ID, "reason", event.Ban.Reason)
	}
	s.logger.WarnContext(ctx, "security_alert", attrs...)
	return nil
}

// WebhookSender posts the raw AlertEvent as JSON.
type WebhookSender struct {
	url    string
	client *fasthttp.Client
}

func NewWebhookSender(url string) *WebhookSender {
	return &WebhookSender{url: url, client: newFastHTTPClient()}
}

func (s *WebhookSender) Name() string {
	return "webhook"
}

func (s *WebhookSender) Send(ctx context.Context, event AlertEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}
	return postJSON(ctx, s.client, s.url, body)
}

// DiscordSender posts an embed coloured by severity to a Discord webhook.
type DiscordSender struct {
	url    string
	client *fasthttp.Client
}

func NewDiscordSender(url string) *DiscordSender {
	return &DiscordSender{url: url, client: newFastHTTPClient()}
}

func (s *DiscordSender) Name() string {
	return "discord"
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields"`
	Timestamp   string         `json:"timestamp"`
}

type discordMessage struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

func (s *DiscordSender) Send(ctx context.Context, event AlertEvent) error {
	body, err := json.Marshal(discordPayload(event))
	if err != nil {
		return fmt.Errorf("failed to marshal discord payload: %w", err)
	}
	return postJSON(ctx, s.client, s.url, body)
}

func discordPayload(event AlertEvent) discordMessage {
	embed := discordEmbed{
		Title: alertTitle(event.Kind),
		Color: event.Severity.DisplayColor,
		Fields: []discordField{
			{Name: "Address", Value: "`" + event.Address + "`", Inline: true},
			{Name: "Severity", Value: event.Severity.Level.String(), Inline: true},
			{Name: "Attempts", Value: fmt.Sprintf("%d (%d unique)", event.TotalAttempts, event.UniqueEndpoints), Inline: true},
		},
		Timestamp: event.LastSeen.UTC().Format(time.RFC3339),
	}
	if len(event.TopEndpoints) > 0 {
		var b strings.Builder
		for _, ep := range event.TopEndpoints {
			fmt.Fprintf(&b, "`%s` x%d (%s)\n", ep.Path, ep.Count, ep.Category)
		}
		embed.Fields = append(embed.Fields, discordField{Name: "Top endpoints", Value: b.String()})
	}
	if event.UserAgent != "" {
		embed.Fields = append(embed.Fields, discordField{Name: "User agent", Value: event.UserAgent})
	}
	if !event.FirstSeen.IsZero() {
		embed.Fields = append(embed.Fields, discordField{
			Name:  "First seen",
			Value: event.FirstSeen.UTC().Format(time.RFC3339),
		})
	}
	if event.Ban != nil {
		embed.Description = event.Ban.Reason
		embed.Fields = append(embed.Fields, discordField{Name: "Ban ID", Value: event.Ban.ID})
	}
	return discordMessage{Username: "scanguard", Embeds: []discordEmbed{embed}}
}

func alertTitle(kind AlertKind) string {
	switch kind {
	case AlertAutoBan:
		return "Address banned after repeated probing"
	case AlertRateBan:
		return "Endpoint scan detected, address banned"
	default:
		return "Suspicious activity detected"
	}
}

func newFastHTTPClient() *fasthttp.Client {
	return &fasthttp.Client{
		Name:                userAgent,
		ReadTimeout:         defaultSendTimeout,
		WriteTimeout:        defaultSendTimeout,
		MaxIdleConnDuration: time.Minute,
	}
}

func postJSON(ctx context.Context, client *fasthttp.Client, url string, body []byte) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultSendTimeout)
	}
	if err := client.DoDeadline(req, resp, deadline); err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return fmt.Errorf("webhook returned non-2xx status code: %d", code)
	}
	return nil
}
