package scanguard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type captureServer struct {
	*httptest.Server
	mu     sync.Mutex
	bodies [][]byte
	status int
}

func newCaptureServer(t *testing.T, status int) *captureServer {
	t.Helper()
	cs := &captureServer{status: status}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		cs.mu.Lock()
		cs.bodies = append(cs.bodies, body)
		cs.mu.Unlock()
		w.WriteHeader(cs.status)
	}))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *captureServer) last(t *testing.T) map[string]any {
	t.Helper()
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if len(cs.bodies) == 0 {
		t.Fatal("no request captured")
	}
	var out map[string]any
	if err := json.Unmarshal(cs.bodies[len(cs.bodies)-1], &out); err != nil {
		t.Fatalf("decode captured body: %v", err)
	}
	return out
}

func sampleBanEvent() AlertEvent {
	return AlertEvent{
		Kind:            AlertAutoBan,
		Address:         "198.51.100.9",
		Severity:        SeverityFor(SeverityCriticalAttempts),
		TotalAttempts:   3,
		UniqueEndpoints: 2,
		TopEndpoints: []EndpointSummary{
			{Path: "/wp-admin", Count: 2, Category: CategoryAdminProbe},
			{Path: "/.env", Count: 1, Category: CategoryExploitPath},
		},
		UserAgent: "curl/8.0",
		FirstSeen: testEpoch,
		LastSeen:  testEpoch.Add(time.Minute),
		Ban:       &BanRecord{ID: "ban-1", Address: "198.51.100.9", Reason: AutoBanReason, BannedBy: SystemActor, BannedAt: testEpoch},
	}
}

func TestWebhookSenderPostsEvent(t *testing.T) {
	srv := newCaptureServer(t, http.StatusNoContent)
	if err := NewWebhookSender(srv.URL).Send(context.Background(), sampleBanEvent()); err != nil {
		t.Fatalf("send: %v", err)
	}
	got := srv.last(t)
	if got["kind"] != string(AlertAutoBan) || got["address"] != "198.51.100.9" {
		t.Fatalf("unexpected payload: %v", got)
	}
	if ban, ok := got["ban"].(map[string]any); !ok || ban["id"] != "ban-1" {
		t.Fatalf("expected ban in payload: %v", got["ban"])
	}
}

func TestWebhookSenderRejectsNon2xx(t *testing.T) {
	srv := newCaptureServer(t, http.StatusBadGateway)
	if err := NewWebhookSender(srv.URL).Send(context.Background(), sampleBanEvent()); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestDiscordSenderEmbed(t *testing.T) {
	srv := newCaptureServer(t, http.StatusOK)
	if err := NewDiscordSender(srv.URL).Send(context.Background(), sampleBanEvent()); err != nil {
		t.Fatalf("send: %v", err)
	}
	got := srv.last(t)
	embeds, ok := got["embeds"].([]any)
	if !ok || len(embeds) != 1 {
		t.Fatalf("expected one embed: %v", got)
	}
	embed := embeds[0].(map[string]any)
	if int(embed["color"].(float64)) != 0xED4245 {
		t.Fatalf("expected critical colour, got %v", embed["color"])
	}
	if embed["description"] != AutoBanReason {
		t.Fatalf("expected ban reason as description, got %v", embed["description"])
	}
}

func TestDiscordPayloadFields(t *testing.T) {
	event := sampleBanEvent()
	event.Kind = AlertSuspicious
	event.Ban = nil
	msg := discordPayload(event)
	embed := msg.Embeds[0]
	if embed.Title != alertTitle(AlertSuspicious) || embed.Description != "" {
		t.Fatalf("unexpected embed header: %+v", embed)
	}
	names := map[string]bool{}
	for _, f := range embed.Fields {
		names[f.Name] = true
	}
	for _, want := range []string{"Address", "Severity", "Attempts", "Top endpoints", "User agent", "First seen"} {
		if !names[want] {
			t.Errorf("missing field %q", want)
		}
	}
	if names["Ban ID"] {
		t.Error("suspicious alert must not carry a ban id")
	}
}

type recordingSender struct {
	mu     sync.Mutex
	events []AlertEvent
	err    error
	seen   chan struct{}
}

func (s *recordingSender) Name() string { return "recording" }

func (s *recordingSender) Send(ctx context.Context, event AlertEvent) error {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	s.seen <- struct{}{}
	return s.err
}

func TestNotifierDeliversQueuedEvents(t *testing.T) {
	sender := &recordingSender{seen: make(chan struct{}, 4)}
	n := NewNotifier(NotifyConfig{QueueSize: 4}, []AlertSender{sender}, testLogger(), NewMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	for i := 0; i < 2; i++ {
		if !n.Publish(sampleBanEvent()) {
			t.Fatalf("publish %d rejected", i)
		}
	}
	for i := 0; i < 2; i++ {
		select {
		case <-sender.seen:
		case <-time.After(2 * time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNotifierDropsWhenFull(t *testing.T) {
	n := NewNotifier(NotifyConfig{QueueSize: 1}, nil, testLogger(), NewMetrics())
	if !n.Publish(sampleBanEvent()) {
		t.Fatal("first publish should be queued")
	}
	if n.Publish(sampleBanEvent()) {
		t.Fatal("second publish should be dropped")
	}
}

func TestNotifierSurvivesSenderFailure(t *testing.T) {
	failing := &recordingSender{seen: make(chan struct{}, 8), err: errors.New("unreachable")}
	n := NewNotifier(NotifyConfig{QueueSize: 8}, []AlertSender{failing}, testLogger(), nil)
	for i := 0; i < 3; i++ {
		n.dispatch(context.Background(), sampleBanEvent())
	}
	failing.mu.Lock()
	defer failing.mu.Unlock()
	if len(failing.events) != 3 {
		t.Fatalf("expected every attempt to reach the sender, got %d", len(failing.events))
	}
}

func TestBuildSenders(t *testing.T) {
	senders, err := BuildSenders(NotifyConfig{
		Channels:          []string{"log", "webhook", "discord"},
		WebhookURL:        "http://127.0.0.1:1/hook",
		DiscordWebhookURL: "http://127.0.0.1:1/discord",
	}, testLogger())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	var names []string
	for _, s := range senders {
		names = append(names, s.Name())
	}
	if len(names) != 3 || names[0] != "log" || names[1] != "webhook" || names[2] != "discord" {
		t.Fatalf("unexpected senders: %v", names)
	}
	if _, err := BuildSenders(NotifyConfig{Channels: []string{"pager"}}, testLogger()); err == nil {
		t.Fatal("expected error for unknown channel")
	}
}
